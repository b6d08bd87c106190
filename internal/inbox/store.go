// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package inbox provides the Postgres-backed holding area for messages
// that could not be bound to any deal. Unmatched mail is never dropped;
// it lands here keyed by routing token for manual attachment or replay.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealdesk/inbound/internal/extract"
	"github.com/dealdesk/inbound/internal/models"
)

// Entry is a single held message.
type Entry struct {
	ID                int64
	Token             string
	Sender            string
	Recipient         string
	Subject           string
	TextBody          string
	ProviderMessageID string
	ReceivedAt        time.Time
	CreatedAt         time.Time
}

// Message rebuilds the canonical inbound message from a held entry,
// used by the replay path.
func (e Entry) Message() models.InboundMessage {
	local, domain := extract.SplitAddress(e.Recipient)
	return models.InboundMessage{
		Sender:            e.Sender,
		Recipient:         e.Recipient,
		LocalPart:         local,
		Domain:            domain,
		Subject:           e.Subject,
		TextBody:          e.TextBody,
		ProviderMessageID: e.ProviderMessageID,
		ReceivedAt:        e.ReceivedAt,
	}
}

// Store provides CRUD operations for inbox entries in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an inbox store backed by the given Postgres pool.
// It ensures the inbox table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure inbox schema: %w", err)
	}
	slog.Info("inbox store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS inbound_inbox (
			id                  BIGSERIAL PRIMARY KEY,
			token               TEXT NOT NULL DEFAULT '',
			sender              TEXT NOT NULL DEFAULT '',
			recipient           TEXT NOT NULL DEFAULT '',
			subject             TEXT NOT NULL DEFAULT '',
			text_body           TEXT NOT NULL DEFAULT '',
			provider_message_id TEXT NOT NULL DEFAULT '',
			received_at         TIMESTAMPTZ NOT NULL,
			created_at          TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_inbox_token ON inbound_inbox(token);
		CREATE INDEX IF NOT EXISTS idx_inbox_received ON inbound_inbox(received_at);
	`)
	return err
}

// Save stores a message in the inbox under its routing token. An empty
// token is valid — it marks mail with no identifiable recipient.
func (s *Store) Save(ctx context.Context, token string, msg models.InboundMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inbound_inbox
			(token, sender, recipient, subject, text_body, provider_message_id, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, token, msg.Sender, msg.Recipient, msg.Subject, msg.TextBody, msg.ProviderMessageID, msg.ReceivedAt)
	return err
}

// ListByToken returns held messages for one routing token, oldest first.
func (s *Store) ListByToken(ctx context.Context, token string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, token, sender, recipient, subject, text_body,
		       provider_message_id, received_at, created_at
		FROM inbound_inbox
		WHERE token = $1
		ORDER BY received_at
	`, token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ListAll returns up to limit held messages across all tokens, oldest
// first. Used by the replay command.
func (s *Store) ListAll(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, token, sender, recipient, subject, text_body,
		       provider_message_id, received_at, created_at
		FROM inbound_inbox
		ORDER BY received_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Delete removes a held message after it has been attached elsewhere.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM inbound_inbox WHERE id = $1`, id)
	return err
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.Token, &e.Sender, &e.Recipient, &e.Subject, &e.TextBody,
			&e.ProviderMessageID, &e.ReceivedAt, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
