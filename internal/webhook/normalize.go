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

package webhook

import (
	"net/mail"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dealdesk/inbound/internal/extract"
	"github.com/dealdesk/inbound/internal/models"
)

// DefaultMaxBodyBytes caps body text when no limit is configured.
const DefaultMaxBodyBytes = 16384

// Synonymous provider field names, in preference order. Keys are
// matched case-insensitively; providers disagree on both spelling and
// casing.
var (
	senderKeys    = []string{"sender", "from"}
	recipientKeys = []string{"recipient", "to"}
	subjectKeys   = []string{"subject"}
	textKeys      = []string{"body-plain", "stripped-text", "text", "body_plain"}
	htmlKeys      = []string{"body-html", "stripped-html", "html", "body_html"}
	messageIDKeys = []string{"message-id", "message_id", "messageid"}
	timestampKeys = []string{"timestamp"}
)

// Normalizer maps provider-variable webhook fields into the canonical
// InboundMessage. It never fails: absent fields become empty strings,
// unknown fields are ignored, and body text is capped BEFORE any
// signal extraction sees it.
type Normalizer struct {
	maxBodyBytes int
}

// NewNormalizer creates a normalizer capping body text at maxBodyBytes
// (0 means DefaultMaxBodyBytes).
func NewNormalizer(maxBodyBytes int) *Normalizer {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Normalizer{maxBodyBytes: maxBodyBytes}
}

// Normalize builds an InboundMessage from a raw key-value payload.
// A payload with no parseable recipient still normalizes — empty local
// part and domain defer the routing decision to the matcher.
func (n *Normalizer) Normalize(fields map[string]string) models.InboundMessage {
	lower := make(map[string]string, len(fields))
	for k, v := range fields {
		lk := strings.ToLower(k)
		if existing, ok := lower[lk]; !ok || existing == "" {
			lower[lk] = v
		}
	}

	pick := func(keys []string) string {
		for _, k := range keys {
			if v := lower[k]; v != "" {
				return v
			}
		}
		return ""
	}

	recipient := bareAddress(pick(recipientKeys))
	local, domain := extract.SplitAddress(recipient)

	return models.InboundMessage{
		Sender:            bareAddress(pick(senderKeys)),
		Recipient:         recipient,
		LocalPart:         local,
		Domain:            domain,
		Subject:           pick(subjectKeys),
		TextBody:          truncate(pick(textKeys), n.maxBodyBytes),
		HTMLBody:          truncate(pick(htmlKeys), n.maxBodyBytes),
		ProviderMessageID: strings.Trim(pick(messageIDKeys), "<>"),
		ReceivedAt:        receivedAt(pick(timestampKeys)),
	}
}

// bareAddress reduces "Name <addr@example.com>" forms to the address.
// Unparseable input is passed through trimmed rather than rejected.
func bareAddress(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if a, err := mail.ParseAddress(s); err == nil {
		return a.Address
	}
	return s
}

// truncate caps s at max bytes, backing up to a rune boundary so a
// multi-byte character is never split.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// receivedAt parses the provider's epoch-seconds timestamp, falling
// back to now.
func receivedAt(raw string) time.Time {
	if raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
			return time.Unix(int64(secs), 0).UTC()
		}
	}
	return time.Now().UTC()
}
