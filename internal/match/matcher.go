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

// Package match binds an inbound message to zero-or-one deal using an
// ordered list of strategies. The first strategy that produces a deal
// wins; there is no scoring or combination across strategies. A lookup
// that fails transiently counts as "no match at this strategy" — a
// partially available store is preferable to dropping the message.
package match

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dealdesk/inbound/internal/extract"
	"github.com/dealdesk/inbound/internal/models"
)

// Lookup is the read capability the matcher needs from the entity
// store. Implemented by entitystore.Client. List results keep the
// store's stable order; the matcher does not re-rank, it takes the
// first eligible candidate.
type Lookup interface {
	UserByToken(ctx context.Context, token string) (*models.User, error)
	DealByAlias(ctx context.Context, alias string) (*models.Deal, error)
	DealByVIN(ctx context.Context, userID, vin string) (*models.Deal, error)
	DealsByDealerDomain(ctx context.Context, domain string) ([]models.Deal, error)
	DealsWithListingURL(ctx context.Context) ([]models.Deal, error)
}

// Strategy names, in default priority order. The config may disable or
// reorder them.
const (
	StrategyToken        = "token"
	StrategyVIN          = "vin"
	StrategyDealerDomain = "dealer_domain"
	StrategyURL          = "url"
)

// DefaultStrategies is the canonical priority order.
var DefaultStrategies = []string{StrategyToken, StrategyVIN, StrategyDealerDomain, StrategyURL}

// Matcher resolves messages against the entity store.
type Matcher struct {
	lookup     Lookup
	strategies []string
}

// NewMatcher creates a matcher running the given strategies in order.
// An empty list means the default order.
func NewMatcher(lookup Lookup, strategies []string) *Matcher {
	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}
	return &Matcher{lookup: lookup, strategies: strategies}
}

// Match runs the strategy list. The token strategy may identify the
// owning user without finding a deal; later strategies are then scoped
// to that user, and a user-only outcome is reported as MatchedUser.
func (m *Matcher) Match(ctx context.Context, msg models.InboundMessage, token string, sig models.ExtractedSignals) models.MatchResult {
	var scopeUser *models.User

	for _, name := range m.strategies {
		var (
			deal *models.Deal
			err  error
		)

		switch name {
		case StrategyToken:
			deal, scopeUser, err = m.matchToken(ctx, token)
		case StrategyVIN:
			deal, err = m.matchVIN(ctx, scopeUser, sig.VIN)
		case StrategyDealerDomain:
			deal, err = m.matchDealerDomain(ctx, scopeUser, msg.Sender)
		case StrategyURL:
			deal, err = m.matchURL(ctx, scopeUser, sig.URL)
		default:
			slog.Warn("unknown matching strategy configured", "strategy", name)
			continue
		}

		if err != nil {
			slog.Warn("lookup failed, skipping strategy",
				"strategy", name,
				"message_id", msg.ProviderMessageID,
				"error", err,
			)
			continue
		}

		if deal != nil {
			return models.MatchResult{
				Kind:     models.MatchedDeal,
				Deal:     deal,
				User:     scopeUser,
				Strategy: name,
			}
		}
	}

	if scopeUser != nil {
		return models.MatchResult{Kind: models.MatchedUser, User: scopeUser, Strategy: StrategyToken}
	}
	return models.MatchResult{Kind: models.Unmatched}
}

// matchToken resolves the routing token against deal aliases and user
// tokens. A deal alias match wins outright; a user token match only
// scopes the remaining strategies.
func (m *Matcher) matchToken(ctx context.Context, token string) (*models.Deal, *models.User, error) {
	if token == "" {
		return nil, nil, nil
	}

	user, err := m.lookup.UserByToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	deal, err := m.lookup.DealByAlias(ctx, token)
	if err != nil {
		// Keep the user scope even when the alias lookup fails.
		return nil, user, err
	}
	return deal, user, nil
}

func (m *Matcher) matchVIN(ctx context.Context, scope *models.User, vin string) (*models.Deal, error) {
	if vin == "" {
		return nil, nil
	}
	userID := ""
	if scope != nil {
		userID = scope.ID
	}
	return m.lookup.DealByVIN(ctx, userID, vin)
}

func (m *Matcher) matchDealerDomain(ctx context.Context, scope *models.User, sender string) (*models.Deal, error) {
	_, domain := extract.SplitAddress(sender)
	if domain == "" {
		return nil, nil
	}
	deals, err := m.lookup.DealsByDealerDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	return firstForScope(deals, scope), nil
}

func (m *Matcher) matchURL(ctx context.Context, scope *models.User, extracted string) (*models.Deal, error) {
	if extracted == "" {
		return nil, nil
	}
	deals, err := m.lookup.DealsWithListingURL(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []models.Deal
	for _, d := range deals {
		if d.ListingURL != "" && strings.Contains(extracted, d.ListingURL) {
			candidates = append(candidates, d)
		}
	}
	return firstForScope(candidates, scope), nil
}

// firstForScope picks the first candidate. When the owning user is
// already known, candidates belonging to other users are not eligible —
// a domain or URL coincidence must not attach a message across users.
func firstForScope(deals []models.Deal, scope *models.User) *models.Deal {
	for i := range deals {
		if scope != nil && deals[i].UserID != scope.ID {
			continue
		}
		return &deals[i]
	}
	return nil
}
