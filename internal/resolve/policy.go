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

// Package resolve decides the final disposition of a matched (or
// unmatched) message: attach to the matched deal, fall back to the
// user's configured default deal, auto-create a dealer and deal, or
// hold the message in the unmatched inbox. At most one dealer and one
// deal are created per message.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dealdesk/inbound/internal/dispatch"
	"github.com/dealdesk/inbound/internal/extract"
	"github.com/dealdesk/inbound/internal/models"
)

// Store is the entity store capability the policy needs. Implemented by
// entitystore.Client. Lookups return nil, nil when nothing matches.
type Store interface {
	DealerByName(ctx context.Context, name string) (*models.Dealer, error)
	CreateDealer(ctx context.Context, d models.Dealer) (*models.Dealer, error)
	OpenDealForPair(ctx context.Context, userID, dealerID string) (*models.Deal, error)
	CreateDeal(ctx context.Context, d models.Deal) (*models.Deal, error)
}

// Inbox holds mail that could not be bound to any deal.
type Inbox interface {
	Save(ctx context.Context, token string, msg models.InboundMessage) error
}

// Policy applies the resolution rules.
type Policy struct {
	store    Store
	inbox    Inbox
	fallback map[string]string // routing token -> fallback deal id
}

// NewPolicy creates a resolution policy. fallbackDeals binds routing
// tokens to per-user fallback deal ids from configuration; a user
// record's own FallbackDealID is consulted when the config has none.
func NewPolicy(store Store, inbox Inbox, fallbackDeals map[string]string) *Policy {
	if fallbackDeals == nil {
		fallbackDeals = map[string]string{}
	}
	return &Policy{store: store, inbox: inbox, fallback: fallbackDeals}
}

// Resolve turns a match result into a dispatch record. A nil record
// with nil error means the message was held in the inbox and nothing
// is forwarded downstream.
func (p *Policy) Resolve(ctx context.Context, msg models.InboundMessage, token string, sig models.ExtractedSignals, res models.MatchResult) (*dispatch.Record, error) {
	rec := &dispatch.Record{
		IdempotencyKey: dispatch.IdempotencyKey(msg, token),
		Message:        msg,
		Signals:        sig,
		MatchStrategy:  res.Strategy,
	}

	switch res.Kind {
	case models.MatchedDeal:
		rec.DealID = res.Deal.ID
		rec.DealerID = res.Deal.DealerID
		rec.UserID = res.Deal.UserID
		if rec.UserID == "" && res.User != nil {
			rec.UserID = res.User.ID
		}
		return rec, nil

	case models.MatchedUser:
		return p.resolveUserOnly(ctx, rec, msg, token, sig, res.User)

	default:
		if err := p.inbox.Save(ctx, token, msg); err != nil {
			return nil, fmt.Errorf("hold unmatched message: %w", err)
		}
		slog.Info("message held in unmatched inbox",
			"token", token,
			"message_id", msg.ProviderMessageID,
		)
		return nil, nil
	}
}

// resolveUserOnly handles a known user with no matched deal. The
// configured fallback deal takes priority over auto-creating anything.
func (p *Policy) resolveUserOnly(ctx context.Context, rec *dispatch.Record, msg models.InboundMessage, token string, sig models.ExtractedSignals, user *models.User) (*dispatch.Record, error) {
	rec.UserID = user.ID

	if id := p.fallbackDealFor(token, user); id != "" {
		rec.DealID = id
		rec.MatchStrategy = "fallback"
		return rec, nil
	}

	name := sig.DealerName
	if name == "" {
		name = nameFromAddress(msg.Sender)
	}
	if name == "" {
		// No counterparty name and no parseable sender: nothing to key
		// a dealer on, so hold the message instead of creating junk.
		if err := p.inbox.Save(ctx, token, msg); err != nil {
			return nil, fmt.Errorf("hold unmatched message: %w", err)
		}
		return nil, nil
	}

	dealer, err := p.findOrCreateDealer(ctx, name, msg)
	if err != nil {
		return nil, err
	}
	rec.DealerID = dealer.ID

	deal, err := p.store.OpenDealForPair(ctx, user.ID, dealer.ID)
	if err != nil {
		return nil, fmt.Errorf("look up open deal: %w", err)
	}
	if deal == nil {
		deal, err = p.store.CreateDeal(ctx, models.Deal{
			UserID:   user.ID,
			DealerID: dealer.ID,
			VIN:      sig.VIN,
			Status:   "open",
		})
		if err != nil {
			return nil, fmt.Errorf("create deal: %w", err)
		}
		slog.Info("auto-created deal",
			"deal_id", deal.ID,
			"user_id", user.ID,
			"dealer", dealer.Name,
		)
	}
	rec.DealID = deal.ID
	return rec, nil
}

// findOrCreateDealer reuses an existing dealer by exact name or creates
// one. The uniqueness key is the exact, case-sensitive name.
func (p *Policy) findOrCreateDealer(ctx context.Context, name string, msg models.InboundMessage) (*models.Dealer, error) {
	dealer, err := p.store.DealerByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("look up dealer %q: %w", name, err)
	}
	if dealer != nil {
		return dealer, nil
	}

	_, domain := extract.SplitAddress(msg.Sender)
	dealer, err = p.store.CreateDealer(ctx, models.Dealer{
		Name:        name,
		EmailDomain: domain,
	})
	if err != nil {
		return nil, fmt.Errorf("create dealer %q: %w", name, err)
	}
	slog.Info("auto-created dealer", "dealer_id", dealer.ID, "name", name)
	return dealer, nil
}

func (p *Policy) fallbackDealFor(token string, user *models.User) string {
	if id := p.fallback[token]; id != "" {
		return id
	}
	return user.FallbackDealID
}

// nameFromAddress derives a counterparty name from a sender address by
// discarding the domain and replacing separators with spaces:
// "brian.smith@toyota.com" → "brian smith".
func nameFromAddress(addr string) string {
	local, _ := extract.SplitAddress(addr)
	local = strings.Map(func(r rune) rune {
		switch r {
		case '.', '_', '-', '+':
			return ' '
		}
		return r
	}, local)
	return strings.TrimSpace(strings.Join(strings.Fields(local), " "))
}
