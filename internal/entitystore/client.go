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

// Package entitystore is the HTTP client for the downstream entity
// store — the external API that owns users, dealers, deals and
// messages. The relay depends only on exact-match lookups, creates, and
// the process-inbound invocation; the store's own persistence and
// consistency model are opaque to us.
package entitystore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/dealdesk/inbound/internal/models"
)

// StatusError is returned for any non-2xx response from the store.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("entity store returned HTTP %d", e.StatusCode)
}

// Transient reports whether the failure is 5xx-class and worth a retry.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500
}

// Client talks to the entity store API. The HTTP client is injected so
// the caller can supply either a static API key transport or an OAuth2
// client-credentials transport.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates an entity store client. apiKey may be empty when
// the injected http.Client already carries credentials.
func NewClient(httpClient *http.Client, baseURL, apiKey string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

type userList struct {
	Value []models.User `json:"value"`
}

type dealList struct {
	Value []models.Deal `json:"value"`
}

type dealerList struct {
	Value []models.Dealer `json:"value"`
}

// UserByToken looks up the user owning an alias token. Returns nil, nil
// when no user matches.
func (c *Client) UserByToken(ctx context.Context, token string) (*models.User, error) {
	var out userList
	if err := c.get(ctx, "/api/users?token="+url.QueryEscape(token), &out); err != nil {
		return nil, err
	}
	if len(out.Value) == 0 {
		return nil, nil
	}
	return &out.Value[0], nil
}

// DealByAlias looks up a deal whose alias field equals the token.
func (c *Client) DealByAlias(ctx context.Context, alias string) (*models.Deal, error) {
	var out dealList
	if err := c.get(ctx, "/api/deals?alias="+url.QueryEscape(alias), &out); err != nil {
		return nil, err
	}
	if len(out.Value) == 0 {
		return nil, nil
	}
	return &out.Value[0], nil
}

// DealByVIN looks up a deal by vehicle identifier, case-insensitively
// on the store side. userID scopes the lookup when non-empty.
func (c *Client) DealByVIN(ctx context.Context, userID, vin string) (*models.Deal, error) {
	q := "/api/deals?vin=" + url.QueryEscape(vin)
	if userID != "" {
		q += "&user_id=" + url.QueryEscape(userID)
	}
	var out dealList
	if err := c.get(ctx, q, &out); err != nil {
		return nil, err
	}
	if len(out.Value) == 0 {
		return nil, nil
	}
	return &out.Value[0], nil
}

// DealsByDealerDomain returns deals whose dealer's email domain matches,
// in the store's stable order.
func (c *Client) DealsByDealerDomain(ctx context.Context, domain string) ([]models.Deal, error) {
	var out dealList
	if err := c.get(ctx, "/api/deals?dealer_domain="+url.QueryEscape(domain), &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

// DealsWithListingURL returns deals that have a stored listing URL, in
// the store's stable order.
func (c *Client) DealsWithListingURL(ctx context.Context) ([]models.Deal, error) {
	var out dealList
	if err := c.get(ctx, "/api/deals?has_listing_url=true", &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

// DealerByName looks up a dealer by exact name. Returns nil, nil when
// no dealer matches. The store compares names case-sensitively.
func (c *Client) DealerByName(ctx context.Context, name string) (*models.Dealer, error) {
	var out dealerList
	if err := c.get(ctx, "/api/dealers?name="+url.QueryEscape(name), &out); err != nil {
		return nil, err
	}
	if len(out.Value) == 0 {
		return nil, nil
	}
	return &out.Value[0], nil
}

// OpenDealForPair returns the first open deal between a user and a
// dealer, or nil, nil when none exists.
func (c *Client) OpenDealForPair(ctx context.Context, userID, dealerID string) (*models.Deal, error) {
	q := "/api/deals?status=open&user_id=" + url.QueryEscape(userID) +
		"&dealer_id=" + url.QueryEscape(dealerID)
	var out dealList
	if err := c.get(ctx, q, &out); err != nil {
		return nil, err
	}
	if len(out.Value) == 0 {
		return nil, nil
	}
	return &out.Value[0], nil
}

// CreateDealer creates a dealer record and returns the stored entity.
func (c *Client) CreateDealer(ctx context.Context, d models.Dealer) (*models.Dealer, error) {
	var out models.Dealer
	if err := c.post(ctx, "/api/dealers", "", d, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateDeal creates a deal record and returns the stored entity.
func (c *Client) CreateDeal(ctx context.Context, d models.Deal) (*models.Deal, error) {
	var out models.Deal
	if err := c.post(ctx, "/api/deals", "", d, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateMessage posts a resolved message entity. idempotencyKey lets
// the store deduplicate redelivered webhooks.
func (c *Client) CreateMessage(ctx context.Context, idempotencyKey string, body any) error {
	return c.post(ctx, "/api/messages", idempotencyKey, body, nil)
}

// ProcessInbound invokes the store's own inbound-message processor,
// which may perform last-mile matching of its own.
func (c *Client) ProcessInbound(ctx context.Context, idempotencyKey string, body any) error {
	return c.post(ctx, "/api/inbound/process", idempotencyKey, body, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("entity store GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode entity store response: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("entity store POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode entity store response: %w", err)
		}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}
