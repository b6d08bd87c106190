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

// Package pipeline sequences the post-acknowledgment stages for one
// inbound message: dedup gate, signal extraction, deal matching,
// resolution policy, dispatch. The webhook handler acknowledges the
// provider before any of this runs; nothing here may surface an error
// to the HTTP caller, only to the logs.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/dealdesk/inbound/internal/dispatch"
	"github.com/dealdesk/inbound/internal/extract"
	"github.com/dealdesk/inbound/internal/match"
	"github.com/dealdesk/inbound/internal/models"
	"github.com/dealdesk/inbound/internal/resolve"
)

// Deduper is the duplicate-delivery gate. Implemented by dedup.Filter;
// nil disables the gate. Seen is consulted before any work; MarkSeen is
// called only once the message has landed somewhere durable, so a
// terminally failed dispatch leaves the id unmarked and a redelivery of
// the same payload runs the pipeline again.
type Deduper interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	MarkSeen(ctx context.Context, messageID string) error
}

// DefaultTimeout bounds the wall-clock cost of one resolution attempt
// so a burst of inbound mail cannot starve the process.
const DefaultTimeout = 30 * time.Second

// Processor runs the resolution pipeline for normalized messages.
type Processor struct {
	tokenizer  *extract.Tokenizer
	matcher    *match.Matcher
	policy     *resolve.Policy
	dispatcher *dispatch.Dispatcher
	inbox      resolve.Inbox
	dedup      Deduper
	timeout    time.Duration
}

// Config wires a Processor.
type Config struct {
	Tokenizer  *extract.Tokenizer
	Matcher    *match.Matcher
	Policy     *resolve.Policy
	Dispatcher *dispatch.Dispatcher
	Inbox      resolve.Inbox
	Dedup      Deduper
	Timeout    time.Duration
}

// NewProcessor creates a pipeline processor.
func NewProcessor(cfg Config) *Processor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Processor{
		tokenizer:  cfg.Tokenizer,
		matcher:    cfg.Matcher,
		policy:     cfg.Policy,
		dispatcher: cfg.Dispatcher,
		inbox:      cfg.Inbox,
		dedup:      cfg.Dedup,
		timeout:    timeout,
	}
}

// Spawn runs the pipeline for one message in a detached goroutine with
// its own bounded-timeout context. Every started attempt runs to
// completion; there is no cancellation tied to the webhook request.
func (p *Processor) Spawn(msg models.InboundMessage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		p.Run(ctx, msg)
	}()
}

// Run executes the pipeline synchronously. Used directly by the replay
// command and by Spawn.
func (p *Processor) Run(ctx context.Context, msg models.InboundMessage) {
	if p.dedup != nil && msg.ProviderMessageID != "" {
		seen, err := p.dedup.Seen(ctx, msg.ProviderMessageID)
		if err != nil {
			slog.Warn("dedup check failed, proceeding", "error", err)
		} else if seen {
			slog.Debug("skipping duplicate delivery", "message_id", msg.ProviderMessageID)
			return
		}
	}

	token := p.tokenizer.Token(msg.LocalPart)
	sig := extract.Signals(msg)

	res := p.matcher.Match(ctx, msg, token, sig)
	slog.Info("message matched",
		"message_id", msg.ProviderMessageID,
		"token", token,
		"outcome", res.Kind.String(),
		"strategy", res.Strategy,
	)

	rec, err := p.policy.Resolve(ctx, msg, token, sig, res)
	if err != nil {
		slog.Error("resolution failed, holding message",
			"message_id", msg.ProviderMessageID,
			"token", token,
			"error", err,
		)
		// Last resort: never drop the message.
		if p.inbox != nil {
			if herr := p.inbox.Save(ctx, token, msg); herr != nil {
				slog.Error("failed to hold message in inbox",
					"message_id", msg.ProviderMessageID,
					"error", herr,
				)
				return
			}
			p.markSeen(ctx, msg)
		}
		return
	}
	if rec == nil {
		// Held in the inbox; nothing to forward.
		p.markSeen(ctx, msg)
		return
	}

	outcome := p.dispatcher.Dispatch(ctx, rec)
	switch outcome.Status {
	case models.Delivered:
		p.markSeen(ctx, msg)
		slog.Info("message dispatched",
			"message_id", msg.ProviderMessageID,
			"deal_id", rec.DealID,
			"attempts", outcome.Attempts,
		)
	case models.DeliveredAfterRetry:
		p.markSeen(ctx, msg)
		slog.Info("message dispatched after retry",
			"message_id", msg.ProviderMessageID,
			"deal_id", rec.DealID,
			"attempts", outcome.Attempts,
		)
	default:
		// No mark: the provider's next redelivery of this payload must
		// run the pipeline again.
		slog.Error("dispatch failed",
			"message_id", msg.ProviderMessageID,
			"deal_id", rec.DealID,
			"attempts", outcome.Attempts,
			"error", outcome.Err,
		)
	}
}

// markSeen records the provider message id once the message has reached
// the downstream store or the inbox.
func (p *Processor) markSeen(ctx context.Context, msg models.InboundMessage) {
	if p.dedup == nil || msg.ProviderMessageID == "" {
		return
	}
	if err := p.dedup.MarkSeen(ctx, msg.ProviderMessageID); err != nil {
		slog.Warn("failed to mark message seen",
			"message_id", msg.ProviderMessageID,
			"error", err,
		)
	}
}
