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

package entitystore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealdesk/inbound/internal/models"
)

// TestUserByToken verifies lookup decoding, the empty-result contract
// and auth headers.
func TestUserByToken(t *testing.T) {
	var gotKey, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]any{
			"value": []models.User{{ID: "u1", Token: "ab12cd"}},
		})
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.Client(), srv.URL, "secret")
	user, err := c.UserByToken(context.Background(), "ab12cd")

	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "token=ab12cd", gotQuery)
}

// TestUserByToken_NoMatch verifies nil, nil for an empty result set.
func TestUserByToken_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value": []}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.Client(), srv.URL, "")
	user, err := c.UserByToken(context.Background(), "nobody")

	require.NoError(t, err)
	assert.Nil(t, user)
}

// TestStatusErrorClassification verifies 5xx maps to a transient
// StatusError and 4xx to a terminal one.
func TestStatusErrorClassification(t *testing.T) {
	for _, tt := range []struct {
		status    int
		transient bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		c := NewClient(srv.Client(), srv.URL, "")
		_, err := c.UserByToken(context.Background(), "x")

		var se *StatusError
		require.True(t, errors.As(err, &se), "status %d should yield StatusError", tt.status)
		assert.Equal(t, tt.status, se.StatusCode)
		assert.Equal(t, tt.transient, se.Transient())
		srv.Close()
	}
}

// TestCreateDealer verifies create round-trips the stored entity.
func TestCreateDealer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/dealers", r.URL.Path)

		var in models.Dealer
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		in.ID = "dealer-1"
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(in)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.Client(), srv.URL, "")
	dealer, err := c.CreateDealer(context.Background(), models.Dealer{Name: "Toyota of Cedar Park"})

	require.NoError(t, err)
	assert.Equal(t, "dealer-1", dealer.ID)
	assert.Equal(t, "Toyota of Cedar Park", dealer.Name)
}
