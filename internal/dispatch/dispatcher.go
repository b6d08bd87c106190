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

// Package dispatch forwards resolved messages to the downstream entity
// store. Transient (5xx-class) failures are retried a bounded number of
// times with a fixed delay; 4xx and malformed responses are terminal
// and only logged. The dispatcher keeps no dedup state of its own —
// the idempotency key travels with the record so the store can
// deduplicate.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dealdesk/inbound/internal/entitystore"
	"github.com/dealdesk/inbound/internal/models"
)

// Record is a fully resolved message ready for the downstream store.
type Record struct {
	IdempotencyKey string                  `json:"idempotency_key"`
	Message        models.InboundMessage   `json:"message"`
	Signals        models.ExtractedSignals `json:"signals"`
	UserID         string                  `json:"user_id,omitempty"`
	DealID         string                  `json:"deal_id,omitempty"`
	DealerID       string                  `json:"dealer_id,omitempty"`
	MatchStrategy  string                  `json:"match_strategy,omitempty"`
}

// IdempotencyKey returns the provider message id when present, else a
// deterministic synthetic id derived from the routing token and the
// received timestamp, so a redelivered payload maps to the same key.
func IdempotencyKey(msg models.InboundMessage, token string) string {
	if msg.ProviderMessageID != "" {
		return msg.ProviderMessageID
	}
	seed := token + "|" + msg.ReceivedAt.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

// Forwarder performs the downstream call for one record. Two adapters
// exist because the store exposes two incompatible call shapes: a raw
// message-entity create and a process-inbound invocation.
type Forwarder interface {
	Forward(ctx context.Context, rec *Record) error
}

// EntityForwarder posts the record as a message entity create.
type EntityForwarder struct {
	client *entitystore.Client
}

// NewEntityForwarder creates the entity-create adapter.
func NewEntityForwarder(client *entitystore.Client) *EntityForwarder {
	return &EntityForwarder{client: client}
}

// Forward implements Forwarder.
func (f *EntityForwarder) Forward(ctx context.Context, rec *Record) error {
	return f.client.CreateMessage(ctx, rec.IdempotencyKey, rec)
}

// AgentForwarder invokes the store's own inbound-message processor.
type AgentForwarder struct {
	client *entitystore.Client
}

// NewAgentForwarder creates the process-invoke adapter.
func NewAgentForwarder(client *entitystore.Client) *AgentForwarder {
	return &AgentForwarder{client: client}
}

// Forward implements Forwarder.
func (f *AgentForwarder) Forward(ctx context.Context, rec *Record) error {
	return f.client.ProcessInbound(ctx, rec.IdempotencyKey, rec)
}

// Dispatcher drives a Forwarder with bounded retry.
type Dispatcher struct {
	fwd     Forwarder
	retries int
	delay   time.Duration
}

// NewDispatcher creates a dispatcher. retries is the number of extra
// attempts after the first (0 disables retry); delay is the fixed wait
// between attempts.
func NewDispatcher(fwd Forwarder, retries int, delay time.Duration) *Dispatcher {
	if retries < 0 {
		retries = 0
	}
	return &Dispatcher{fwd: fwd, retries: retries, delay: delay}
}

// Dispatch forwards the record, retrying only on 5xx-class failures.
// The outcome is for logging; callers hold no dispatch state.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *Record) models.DispatchOutcome {
	attempts := 0
	for {
		attempts++
		err := d.fwd.Forward(ctx, rec)
		if err == nil {
			status := models.Delivered
			if attempts > 1 {
				status = models.DeliveredAfterRetry
			}
			return models.DispatchOutcome{Status: status, Attempts: attempts}
		}

		var se *entitystore.StatusError
		transient := errors.As(err, &se) && se.Transient()
		if !transient || attempts > d.retries {
			return models.DispatchOutcome{Status: models.DispatchFailed, Attempts: attempts, Err: err}
		}

		slog.Warn("transient dispatch failure, retrying",
			"idempotency_key", rec.IdempotencyKey,
			"attempt", attempts,
			"error", err,
		)

		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return models.DispatchOutcome{Status: models.DispatchFailed, Attempts: attempts, Err: ctx.Err()}
		}
	}
}
