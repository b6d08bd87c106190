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

// Package webhook handles inbound email notifications from the relay
// provider. The provider POSTs one payload per received message, as
// JSON or form-encoded, and redelivers on any non-200 response — so the
// handler acknowledges as soon as the payload is normalized and runs
// everything else in the background.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/dealdesk/inbound/internal/pipeline"
)

// maxRequestBytes bounds how much of a webhook body we read.
const maxRequestBytes = 10 << 20

// Handler processes inbound email webhook calls.
type Handler struct {
	normalizer *Normalizer
	processor  *pipeline.Processor
}

// NewHandler creates an inbound webhook handler.
func NewHandler(normalizer *Normalizer, processor *pipeline.Processor) *Handler {
	return &Handler{
		normalizer: normalizer,
		processor:  processor,
	}
}

// ServeInbound handles one inbound message webhook call.
//
// The response is always HTTP 200 with a short body, written as soon as
// the normalizer output is ready. Resolution and dispatch run in a
// detached goroutine; their failures never reach the provider, which
// would otherwise retry and duplicate-deliver the message.
func (h *Handler) ServeInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusOK)
		return
	}

	fields := parseFields(r)
	msg := h.normalizer.Normalize(fields)

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))

	h.processor.Spawn(msg)
}

// parseFields flattens the webhook body into a key-value map. It never
// fails: an unreadable or unparseable body yields an empty map, and the
// "could not route" decision is deferred downstream.
func parseFields(r *http.Request) map[string]string {
	fields := map[string]string{}

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
		if err != nil {
			slog.Warn("failed to read webhook body", "error", err)
			return fields
		}
		var raw map[string]any
		if err := json.Unmarshal(body, &raw); err != nil {
			slog.Info("webhook body not valid JSON", "body_len", len(body))
			return fields
		}
		for k, v := range raw {
			switch t := v.(type) {
			case string:
				fields[k] = t
			case float64:
				fields[k] = strconv.FormatFloat(t, 'f', -1, 64)
			case bool:
				fields[k] = strconv.FormatBool(t)
			}
		}
		return fields
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBytes)
	if err := r.ParseForm(); err != nil {
		slog.Warn("failed to parse webhook form", "error", err)
		return fields
	}
	for k, vs := range r.PostForm {
		if len(vs) > 0 {
			fields[k] = vs[0]
		}
	}
	return fields
}

// Serve starts the webhook HTTP server on the given port.
// It binds the port immediately and signals readiness via the returned
// channel before starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/inbound", handler.ServeInbound)
	mux.HandleFunc("/inbound/", handler.ServeInbound)

	server := &http.Server{
		Handler: mux,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind webhook port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("webhook server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("webhook server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()

	return ready, nil
}
