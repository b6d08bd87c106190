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

// Package extract derives routing identity and weak structured signals
// from an inbound message. Everything here is a pure function: no I/O,
// no shared state, and absence of a signal is a normal result.
package extract

import (
	"regexp"
	"strings"
)

// SplitAddress splits an email address into its local part and domain.
// A string without an "@" yields two empty strings rather than an error —
// an unroutable recipient is decided later, not here.
func SplitAddress(addr string) (local, domain string) {
	addr = strings.TrimSpace(addr)
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return "", ""
	}
	return addr[:at], addr[at+1:]
}

// Tokenizer extracts routing tokens from recipient local parts.
type Tokenizer struct {
	prefix *regexp.Regexp
}

// NewTokenizer builds a tokenizer for the given alias marker word
// (default "deal"). Both the singular and plural forms of the marker,
// followed by a separator, are recognised case-insensitively.
func NewTokenizer(marker string) *Tokenizer {
	if marker == "" {
		marker = "deal"
	}
	return &Tokenizer{
		prefix: regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(marker) + `s?[-_.]`),
	}
}

// Token derives the routing token from a recipient local part.
//
//   - "deals-ab12cd" → "ab12cd"
//   - "deal-ab12cd"  → "ab12cd"
//   - "ab12cd"       → "ab12cd" (an un-prefixed alias is its own token)
//   - ""             → ""
func (t *Tokenizer) Token(localPart string) string {
	if m := t.prefix.FindString(localPart); m != "" {
		return localPart[len(m):]
	}
	return localPart
}
