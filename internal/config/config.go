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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Dispatch modes — two incompatible downstream call shapes exist.
const (
	ModeEntity = "entity" // raw message-entity create
	ModeAgent  = "agent"  // process-inbound invocation
)

// Config holds all configuration for the inbound relay service.
type Config struct {
	// Servers
	Port        int // health check
	WebhookPort int

	// Ingest
	AliasPrefix     string
	MaxBodyBytes    int
	PipelineTimeout time.Duration

	// Entity store
	EntityStoreURL    string
	EntityStoreAPIKey string
	DispatchMode      string
	OAuthTokenURL     string
	OAuthClientID     string
	OAuthClientSecret string

	// Dispatcher
	DispatchRetries    int
	DispatchRetryDelay time.Duration

	// Matching
	Strategies    []string
	FallbackDeals map[string]string // routing token -> deal id

	// Redis (dedup filter)
	RedisURL string

	// Postgres (unmatched inbox)
	DatabaseURL string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Server struct {
		Port        int `yaml:"port"`
		WebhookPort int `yaml:"webhook_port"`
	} `yaml:"server"`
	Ingest struct {
		AliasPrefix     string `yaml:"alias_prefix"`
		MaxBodyBytes    int    `yaml:"max_body_bytes"`
		PipelineTimeout string `yaml:"pipeline_timeout"`
	} `yaml:"ingest"`
	EntityStore struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
		Mode    string `yaml:"mode"`
		OAuth2  struct {
			TokenURL     string `yaml:"token_url"`
			ClientID     string `yaml:"client_id"`
			ClientSecret string `yaml:"client_secret"`
		} `yaml:"oauth2"`
	} `yaml:"entity_store"`
	Dispatch struct {
		Retries    *int   `yaml:"retries"`
		RetryDelay string `yaml:"retry_delay"`
	} `yaml:"dispatch"`
	Matching struct {
		Strategies []string `yaml:"strategies"`
	} `yaml:"matching"`
	FallbackDeals map[string]string `yaml:"fallback_deals"`
	Redis         struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Inbox struct {
		DatabaseURL string `yaml:"database_url"`
	} `yaml:"inbox"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. A missing config file is
// not an error — everything has an env fallback or a default.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case os.IsNotExist(err):
		// env-only configuration
	default:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		Port:              firstPositive(raw.Server.Port, envOrDefaultInt("PORT", 8080)),
		WebhookPort:       firstPositive(raw.Server.WebhookPort, envOrDefaultInt("WEBHOOK_PORT", 8081)),
		AliasPrefix:       firstNonEmpty(raw.Ingest.AliasPrefix, envOrDefault("ALIAS_PREFIX", "deal")),
		MaxBodyBytes:      firstPositive(raw.Ingest.MaxBodyBytes, envOrDefaultInt("MAX_BODY_BYTES", 16384)),
		PipelineTimeout:   durationOrDefault(raw.Ingest.PipelineTimeout, envOrDefaultDuration("PIPELINE_TIMEOUT", 30*time.Second)),
		EntityStoreURL:    firstNonEmpty(raw.EntityStore.BaseURL, os.Getenv("ENTITY_STORE_URL")),
		EntityStoreAPIKey: firstNonEmpty(raw.EntityStore.APIKey, os.Getenv("ENTITY_STORE_API_KEY")),
		DispatchMode:      strings.ToLower(firstNonEmpty(raw.EntityStore.Mode, envOrDefault("DISPATCH_MODE", ModeEntity))),
		OAuthTokenURL:     raw.EntityStore.OAuth2.TokenURL,
		OAuthClientID:     raw.EntityStore.OAuth2.ClientID,
		OAuthClientSecret: raw.EntityStore.OAuth2.ClientSecret,
		DispatchRetries:   envOrDefaultInt("DISPATCH_RETRIES", 1),
		DispatchRetryDelay: durationOrDefault(raw.Dispatch.RetryDelay,
			envOrDefaultDuration("DISPATCH_RETRY_DELAY", 2*time.Second)),
		Strategies:    raw.Matching.Strategies,
		FallbackDeals: raw.FallbackDeals,
		RedisURL:      firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		DatabaseURL:   firstNonEmpty(raw.Inbox.DatabaseURL, os.Getenv("DATABASE_URL")),
	}

	if raw.Dispatch.Retries != nil {
		cfg.DispatchRetries = *raw.Dispatch.Retries
	}

	if cfg.EntityStoreURL == "" {
		return nil, fmt.Errorf("entity store base URL is required — set entity_store.base_url or ENTITY_STORE_URL")
	}
	if cfg.DispatchMode != ModeEntity && cfg.DispatchMode != ModeAgent {
		return nil, fmt.Errorf("unknown dispatch mode %q (want %q or %q)", cfg.DispatchMode, ModeEntity, ModeAgent)
	}

	return cfg, nil
}

// UseOAuth reports whether the entity store client should authenticate
// with OAuth2 client credentials instead of a static API key.
func (c *Config) UseOAuth() bool {
	return c.OAuthTokenURL != "" && c.OAuthClientID != ""
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func durationOrDefault(raw string, fallback time.Duration) time.Duration {
	if raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
