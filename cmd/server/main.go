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

// DealDesk — Inbound Relay Service
//
// Entry point for the inbound email relay. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL (unmatched inbox) and Redis (dedup filter)
//  3. Builds the entity store client (API key or OAuth2 credentials)
//  4. Wires the resolution pipeline: matcher, policy, dispatcher
//  5. Serves the inbound webhook endpoint with fast acknowledgment
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/dealdesk/inbound/internal/config"
	"github.com/dealdesk/inbound/internal/dedup"
	"github.com/dealdesk/inbound/internal/dispatch"
	"github.com/dealdesk/inbound/internal/entitystore"
	"github.com/dealdesk/inbound/internal/extract"
	"github.com/dealdesk/inbound/internal/inbox"
	"github.com/dealdesk/inbound/internal/match"
	"github.com/dealdesk/inbound/internal/pipeline"
	"github.com/dealdesk/inbound/internal/resolve"
	"github.com/dealdesk/inbound/internal/webhook"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting DealDesk inbound relay")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"entity_store", cfg.EntityStoreURL,
		"dispatch_mode", cfg.DispatchMode,
		"alias_prefix", cfg.AliasPrefix,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL (unmatched inbox) ---
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required — unmatched mail must land somewhere")
		os.Exit(1)
	}
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	inboxStore, err := inbox.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise inbox store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis (dedup filter) ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	filter := dedup.NewFilter(rdb)

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

	// --- Resolution Pipeline ---
	var forwarder dispatch.Forwarder
	if cfg.DispatchMode == config.ModeAgent {
		forwarder = dispatch.NewAgentForwarder(store)
	} else {
		forwarder = dispatch.NewEntityForwarder(store)
	}

	processor := pipeline.NewProcessor(pipeline.Config{
		Tokenizer:  extract.NewTokenizer(cfg.AliasPrefix),
		Matcher:    match.NewMatcher(store, cfg.Strategies),
		Policy:     resolve.NewPolicy(store, inboxStore, cfg.FallbackDeals),
		Dispatcher: dispatch.NewDispatcher(forwarder, cfg.DispatchRetries, cfg.DispatchRetryDelay),
		Inbox:      inboxStore,
		Dedup:      filter,
		Timeout:    cfg.PipelineTimeout,
	})

	// --- Webhook Server ---
	handler := webhook.NewHandler(webhook.NewNormalizer(cfg.MaxBodyBytes), processor)
	ready, err := webhook.Serve(ctx, cfg.WebhookPort, handler)
	if err != nil {
		slog.Error("failed to start webhook server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("webhook server ready")

	// --- Health Check Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		// Check Redis
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		// Check Postgres
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop the webhook server

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("inbound relay listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("inbound relay stopped")
}
