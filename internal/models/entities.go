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

package models

// User is a DealDesk account as the entity store represents it. Token
// is the alias token embedded in the user's inbound address local part.
type User struct {
	ID             string `json:"id"`
	Token          string `json:"token"`
	Email          string `json:"email,omitempty"`
	FallbackDealID string `json:"fallback_deal_id,omitempty"`
}

// Dealer is a counterparty a user is negotiating with. EmailDomain is
// the dealer's sending domain, used for sender-domain matching.
type Dealer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	EmailDomain string `json:"email_domain,omitempty"`
}

// Deal is a negotiation thread between a user and a dealer.
type Deal struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	DealerID   string `json:"dealer_id,omitempty"`
	Alias      string `json:"alias,omitempty"`
	VIN        string `json:"vin,omitempty"`
	ListingURL string `json:"listing_url,omitempty"`
	Status     string `json:"status,omitempty"` // "open", "closed"
}
