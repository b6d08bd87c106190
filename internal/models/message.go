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

// Package models defines the data structures shared across the inbound
// relay service.
package models

import "time"

// InboundMessage is the canonical form of a single inbound email, built
// from a provider webhook payload by the normalizer. Immutable once
// built; discarded after dispatch.
type InboundMessage struct {
	Sender            string    `json:"sender"`
	Recipient         string    `json:"recipient"`
	LocalPart         string    `json:"local_part"`
	Domain            string    `json:"domain"`
	Subject           string    `json:"subject"`
	TextBody          string    `json:"text_body"`
	HTMLBody          string    `json:"html_body,omitempty"`
	ProviderMessageID string    `json:"provider_message_id"`
	ReceivedAt        time.Time `json:"received_at"`
}

// ExtractedSignals holds the weak structured signals scraped from a
// message's subject and body. Every field is best-effort and may be
// empty; absence is a normal outcome, not an error.
type ExtractedSignals struct {
	VIN        string `json:"vin,omitempty"`
	DealerName string `json:"dealer_name,omitempty"`
	URL        string `json:"url,omitempty"`
}

// MatchKind tags the outcome of the deal matcher.
type MatchKind int

const (
	// Unmatched means no user or deal could be identified.
	Unmatched MatchKind = iota
	// MatchedUser means the owning user is known but no deal was found.
	MatchedUser
	// MatchedDeal means the message was bound to a specific deal.
	MatchedDeal
)

// String returns the match kind for logging.
func (k MatchKind) String() string {
	switch k {
	case MatchedUser:
		return "matched_user"
	case MatchedDeal:
		return "matched_deal"
	default:
		return "unmatched"
	}
}

// MatchResult is the tagged outcome of the deal matcher. Deal is set
// only for MatchedDeal; User is set for MatchedUser and, when known,
// for MatchedDeal as well. Strategy names the winning strategy.
type MatchResult struct {
	Kind     MatchKind
	Deal     *Deal
	User     *User
	Strategy string
}

// DispatchStatus tags the outcome of a downstream forward.
type DispatchStatus int

const (
	// Delivered means the downstream store accepted the record first try.
	Delivered DispatchStatus = iota
	// DeliveredAfterRetry means a retry succeeded after a transient failure.
	DeliveredAfterRetry
	// DispatchFailed means the record was not accepted; Err holds the reason.
	DispatchFailed
)

// DispatchOutcome reports what happened to a forwarded record. It is
// used for logging only; the relay keeps no state about past dispatches.
type DispatchOutcome struct {
	Status   DispatchStatus
	Attempts int
	Err      error
}
