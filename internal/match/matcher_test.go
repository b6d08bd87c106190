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

package match

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealdesk/inbound/internal/models"
)

// fakeLookup is an in-memory Lookup with injectable failures.
type fakeLookup struct {
	users       map[string]*models.User   // token -> user
	aliasDeals  map[string]*models.Deal   // alias -> deal
	vinDeals    map[string]*models.Deal   // vin -> deal
	domainDeals map[string][]models.Deal  // domain -> deals
	urlDeals    []models.Deal

	failUser bool
	failVIN  bool

	vinScope string // records the userID passed to DealByVIN
}

func (f *fakeLookup) UserByToken(_ context.Context, token string) (*models.User, error) {
	if f.failUser {
		return nil, errors.New("store unavailable")
	}
	return f.users[token], nil
}

func (f *fakeLookup) DealByAlias(_ context.Context, alias string) (*models.Deal, error) {
	return f.aliasDeals[alias], nil
}

func (f *fakeLookup) DealByVIN(_ context.Context, userID, vin string) (*models.Deal, error) {
	if f.failVIN {
		return nil, errors.New("store unavailable")
	}
	f.vinScope = userID
	d := f.vinDeals[vin]
	if d != nil && userID != "" && d.UserID != userID {
		return nil, nil
	}
	return d, nil
}

func (f *fakeLookup) DealsByDealerDomain(_ context.Context, domain string) ([]models.Deal, error) {
	return f.domainDeals[domain], nil
}

func (f *fakeLookup) DealsWithListingURL(_ context.Context) ([]models.Deal, error) {
	return f.urlDeals, nil
}

// TestMatch_TokenBeatsVIN verifies strategy priority: when the routing
// token and the VIN point at different deals, the token wins.
func TestMatch_TokenBeatsVIN(t *testing.T) {
	lookup := &fakeLookup{
		aliasDeals: map[string]*models.Deal{
			"tok1": {ID: "deal-token", UserID: "u1"},
		},
		vinDeals: map[string]*models.Deal{
			"1HGBH41JXMN109186": {ID: "deal-vin", UserID: "u2"},
		},
	}
	m := NewMatcher(lookup, nil)

	res := m.Match(context.Background(), models.InboundMessage{}, "tok1",
		models.ExtractedSignals{VIN: "1HGBH41JXMN109186"})

	require.Equal(t, models.MatchedDeal, res.Kind)
	assert.Equal(t, "deal-token", res.Deal.ID)
	assert.Equal(t, StrategyToken, res.Strategy)
}

// TestMatch_VINScopedToTokenUser verifies that a token-identified user
// scopes the VIN lookup.
func TestMatch_VINScopedToTokenUser(t *testing.T) {
	lookup := &fakeLookup{
		users: map[string]*models.User{
			"tok1": {ID: "u1", Token: "tok1"},
		},
		vinDeals: map[string]*models.Deal{
			"1HGBH41JXMN109186": {ID: "deal-vin", UserID: "u1"},
		},
	}
	m := NewMatcher(lookup, nil)

	res := m.Match(context.Background(), models.InboundMessage{}, "tok1",
		models.ExtractedSignals{VIN: "1HGBH41JXMN109186"})

	require.Equal(t, models.MatchedDeal, res.Kind)
	assert.Equal(t, "deal-vin", res.Deal.ID)
	assert.Equal(t, StrategyVIN, res.Strategy)
	assert.Equal(t, "u1", lookup.vinScope)
}

// TestMatch_VINWithoutToken verifies a VIN match binds the message even
// when the recipient has no recognised alias.
func TestMatch_VINWithoutToken(t *testing.T) {
	lookup := &fakeLookup{
		vinDeals: map[string]*models.Deal{
			"1HGBH41JXMN109186": {ID: "deal-vin", UserID: "u2"},
		},
	}
	m := NewMatcher(lookup, nil)

	res := m.Match(context.Background(),
		models.InboundMessage{Recipient: "random@mail.example.com"},
		"random",
		models.ExtractedSignals{VIN: "1HGBH41JXMN109186"})

	require.Equal(t, models.MatchedDeal, res.Kind)
	assert.Equal(t, "deal-vin", res.Deal.ID)
	assert.Empty(t, lookup.vinScope)
}

// TestMatch_TransientLookupFailureDegrades verifies a failing lookup is
// treated as no-match at that strategy, not as a fatal error.
func TestMatch_TransientLookupFailureDegrades(t *testing.T) {
	lookup := &fakeLookup{
		failUser: true,
		vinDeals: map[string]*models.Deal{
			"1HGBH41JXMN109186": {ID: "deal-vin", UserID: "u1"},
		},
	}
	m := NewMatcher(lookup, nil)

	res := m.Match(context.Background(), models.InboundMessage{}, "tok1",
		models.ExtractedSignals{VIN: "1HGBH41JXMN109186"})

	require.Equal(t, models.MatchedDeal, res.Kind)
	assert.Equal(t, "deal-vin", res.Deal.ID)
}

// TestMatch_DealerDomain verifies sender-domain matching takes the first
// candidate in store order.
func TestMatch_DealerDomain(t *testing.T) {
	lookup := &fakeLookup{
		domainDeals: map[string][]models.Deal{
			"toyotacp.com": {
				{ID: "deal-1", UserID: "u1"},
				{ID: "deal-2", UserID: "u2"},
			},
		},
	}
	m := NewMatcher(lookup, nil)

	res := m.Match(context.Background(),
		models.InboundMessage{Sender: "brian@toyotacp.com"},
		"", models.ExtractedSignals{})

	require.Equal(t, models.MatchedDeal, res.Kind)
	assert.Equal(t, "deal-1", res.Deal.ID)
	assert.Equal(t, StrategyDealerDomain, res.Strategy)
}

// TestMatch_DealerDomainScopedToUser verifies a known user blocks
// cross-user attachment on a domain coincidence.
func TestMatch_DealerDomainScopedToUser(t *testing.T) {
	lookup := &fakeLookup{
		users: map[string]*models.User{
			"tok1": {ID: "u2", Token: "tok1"},
		},
		domainDeals: map[string][]models.Deal{
			"toyotacp.com": {
				{ID: "deal-1", UserID: "u1"},
				{ID: "deal-2", UserID: "u2"},
			},
		},
	}
	m := NewMatcher(lookup, nil)

	res := m.Match(context.Background(),
		models.InboundMessage{Sender: "brian@toyotacp.com"},
		"tok1", models.ExtractedSignals{})

	require.Equal(t, models.MatchedDeal, res.Kind)
	assert.Equal(t, "deal-2", res.Deal.ID)
}

// TestMatch_URLContainment verifies the stored listing URL matching by
// containment in the extracted URL.
func TestMatch_URLContainment(t *testing.T) {
	lookup := &fakeLookup{
		urlDeals: []models.Deal{
			{ID: "deal-other", UserID: "u1", ListingURL: "https://cars.example.com/listing/7"},
			{ID: "deal-url", UserID: "u1", ListingURL: "https://cars.example.com/listing/42"},
		},
	}
	m := NewMatcher(lookup, nil)

	res := m.Match(context.Background(), models.InboundMessage{}, "",
		models.ExtractedSignals{URL: "https://cars.example.com/listing/42?src=email"})

	require.Equal(t, models.MatchedDeal, res.Kind)
	assert.Equal(t, "deal-url", res.Deal.ID)
	assert.Equal(t, StrategyURL, res.Strategy)
}

// TestMatch_UserOnly verifies a token that identifies a user but no
// deal yields MatchedUser.
func TestMatch_UserOnly(t *testing.T) {
	lookup := &fakeLookup{
		users: map[string]*models.User{
			"ab12cd": {ID: "u1", Token: "ab12cd"},
		},
	}
	m := NewMatcher(lookup, nil)

	res := m.Match(context.Background(), models.InboundMessage{}, "ab12cd", models.ExtractedSignals{})

	require.Equal(t, models.MatchedUser, res.Kind)
	assert.Equal(t, "u1", res.User.ID)
	assert.Nil(t, res.Deal)
}

// TestMatch_Unmatched verifies the no-signal case.
func TestMatch_Unmatched(t *testing.T) {
	m := NewMatcher(&fakeLookup{}, nil)

	res := m.Match(context.Background(), models.InboundMessage{}, "", models.ExtractedSignals{})

	assert.Equal(t, models.Unmatched, res.Kind)
	assert.Nil(t, res.Deal)
	assert.Nil(t, res.User)
}

// TestMatch_StrategiesConfigurable verifies a disabled strategy is
// never consulted.
func TestMatch_StrategiesConfigurable(t *testing.T) {
	lookup := &fakeLookup{
		aliasDeals: map[string]*models.Deal{
			"tok1": {ID: "deal-token", UserID: "u1"},
		},
		vinDeals: map[string]*models.Deal{
			"1HGBH41JXMN109186": {ID: "deal-vin", UserID: "u1"},
		},
	}
	m := NewMatcher(lookup, []string{StrategyVIN})

	res := m.Match(context.Background(), models.InboundMessage{}, "tok1",
		models.ExtractedSignals{VIN: "1HGBH41JXMN109186"})

	require.Equal(t, models.MatchedDeal, res.Kind)
	assert.Equal(t, "deal-vin", res.Deal.ID)
}
