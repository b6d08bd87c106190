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

// Package dedup tracks which provider message ids have completed the
// resolution pipeline, backed by Redis keys with a TTL. Relay providers
// redeliver a webhook when the acknowledgment is slow or lost; the
// filter keeps a redelivered payload from running the pipeline twice.
// An id is marked only once the message has landed somewhere durable,
// so a message whose dispatch failed stays unmarked and the provider's
// next redelivery gets to retry it. The downstream store still
// deduplicates on the idempotency key — this is only a cheap first gate.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long we remember a seen provider message id.
	// Relay providers stop redelivering within hours, so 24h is safe.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "dealdesk:seen:"
)

// Filter tracks which provider message ids have already been processed.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// Seen reports whether the message id has already completed the
// pipeline. It does not mark the id; that happens in MarkSeen once the
// message reached the downstream store or the inbox.
func (f *Filter) Seen(ctx context.Context, messageID string) (bool, error) {
	n, err := f.rdb.Exists(ctx, keyPrefix+messageID).Result()
	if err != nil {
		return false, fmt.Errorf("dedup EXISTS: %w", err)
	}
	return n > 0, nil
}

// MarkSeen records the message id as processed. SET NX keeps the
// original TTL when two concurrent deliveries race to the mark.
func (f *Filter) MarkSeen(ctx context.Context, messageID string) error {
	if err := f.rdb.SetNX(ctx, keyPrefix+messageID, 1, f.ttl).Err(); err != nil {
		return fmt.Errorf("dedup SETNX: %w", err)
	}
	return nil
}
