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

// DealDesk — Inbox Replay Command
//
// Standalone CLI tool that re-runs held (unmatched) inbox messages
// through the resolution pipeline. Useful after the missing user or
// deal has been created: rows that now resolve are dispatched and
// removed from the inbox, the rest stay put.
//
// Usage:
//
//	go run ./cmd/replay/ [--token ab12cd] [--limit 100]
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/dealdesk/inbound/internal/config"
	"github.com/dealdesk/inbound/internal/dispatch"
	"github.com/dealdesk/inbound/internal/entitystore"
	"github.com/dealdesk/inbound/internal/extract"
	"github.com/dealdesk/inbound/internal/inbox"
	"github.com/dealdesk/inbound/internal/match"
	"github.com/dealdesk/inbound/internal/models"
	"github.com/dealdesk/inbound/internal/resolve"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	tokenFlag := flag.String("token", "", "Replay only messages held under this routing token (optional)")
	limitFlag := flag.Int("limit", 100, "Maximum number of held messages to replay")
	flag.Parse()

	slog.Info("starting inbox replay", "token", *tokenFlag, "limit", *limitFlag)

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	inboxStore, err := inbox.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise inbox store", "error", err)
		os.Exit(1)
	}

	// --- Entity Store Client ---
	var httpClient *http.Client
	if cfg.UseOAuth() {
		creds := &clientcredentials.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			TokenURL:     cfg.OAuthTokenURL,
		}
		httpClient = creds.Client(ctx)
	} else {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	store := entitystore.NewClient(httpClient, cfg.EntityStoreURL, cfg.EntityStoreAPIKey)

	// --- Pipeline Components ---
	// The dedup filter is deliberately absent: replayed messages were
	// already seen once, reprocessing them is the whole point.
	tokenizer := extract.NewTokenizer(cfg.AliasPrefix)
	matcher := match.NewMatcher(store, cfg.Strategies)
	policy := resolve.NewPolicy(store, inboxStore, cfg.FallbackDeals)

	var forwarder dispatch.Forwarder
	if cfg.DispatchMode == config.ModeAgent {
		forwarder = dispatch.NewAgentForwarder(store)
	} else {
		forwarder = dispatch.NewEntityForwarder(store)
	}
	dispatcher := dispatch.NewDispatcher(forwarder, cfg.DispatchRetries, cfg.DispatchRetryDelay)

	// --- Load held messages ---
	var entries []inbox.Entry
	if *tokenFlag != "" {
		entries, err = inboxStore.ListByToken(ctx, *tokenFlag)
	} else {
		entries, err = inboxStore.ListAll(ctx, *limitFlag)
	}
	if err != nil {
		slog.Error("failed to list inbox", "error", err)
		os.Exit(1)
	}
	if len(entries) > *limitFlag {
		entries = entries[:*limitFlag]
	}

	slog.Info("loaded held messages", "count", len(entries))

	// --- Replay ---
	var attached, stillHeld, failed int
	for _, e := range entries {
		msg := e.Message()
		token := tokenizer.Token(msg.LocalPart)
		sig := extract.Signals(msg)

		res := matcher.Match(ctx, msg, token, sig)
		if res.Kind == models.Unmatched {
			stillHeld++
			continue
		}

		rec, err := policy.Resolve(ctx, msg, token, sig, res)
		if err != nil {
			slog.Error("replay resolution failed",
				"inbox_id", e.ID,
				"token", token,
				"error", err,
			)
			failed++
			continue
		}
		if rec == nil {
			// The policy re-held the message under a fresh row;
			// drop the old one so it is not duplicated.
			if err := inboxStore.Delete(ctx, e.ID); err != nil {
				slog.Error("failed to delete replaced inbox row", "inbox_id", e.ID, "error", err)
			}
			stillHeld++
			continue
		}

		outcome := dispatcher.Dispatch(ctx, rec)
		if outcome.Status == models.DispatchFailed {
			slog.Error("replay dispatch failed",
				"inbox_id", e.ID,
				"deal_id", rec.DealID,
				"error", outcome.Err,
			)
			failed++
			continue
		}

		if err := inboxStore.Delete(ctx, e.ID); err != nil {
			slog.Error("failed to delete attached inbox row", "inbox_id", e.ID, "error", err)
		}
		attached++
		slog.Info("held message attached",
			"inbox_id", e.ID,
			"deal_id", rec.DealID,
			"strategy", rec.MatchStrategy,
		)
	}

	// --- Summary ---
	slog.Info("replay complete",
		"attached", attached,
		"still_held", stillHeld,
		"failed", failed,
	)
}
