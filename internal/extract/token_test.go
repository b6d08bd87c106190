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

package extract

import "testing"

// TestSplitAddress verifies local part / domain splitting.
func TestSplitAddress(t *testing.T) {
	tests := []struct {
		addr       string
		wantLocal  string
		wantDomain string
	}{
		{"deals-ab12cd@mail.example.com", "deals-ab12cd", "mail.example.com"},
		{"random@mail.example.com", "random", "mail.example.com"},
		{"  padded@example.com ", "padded", "example.com"},
		{`"weird@local"@example.com`, `"weird@local"`, "example.com"},
		{"no-at-sign", "", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			local, domain := SplitAddress(tt.addr)
			if local != tt.wantLocal {
				t.Errorf("local = %q, want %q", local, tt.wantLocal)
			}
			if domain != tt.wantDomain {
				t.Errorf("domain = %q, want %q", domain, tt.wantDomain)
			}
		})
	}
}

// TestTokenizer verifies alias prefix stripping.
func TestTokenizer(t *testing.T) {
	tok := NewTokenizer("deal")

	tests := []struct {
		local string
		want  string
	}{
		{"deals-ab12cd", "ab12cd"},
		{"deal-ab12cd", "ab12cd"},
		{"DEALS-AB12CD", "AB12CD"},
		{"Deal-xyz", "xyz"},
		{"deals_under", "under"},
		{"deals.dot", "dot"},
		// An un-prefixed alias is its own token, not an error.
		{"random", "random"},
		{"dealsab12cd", "dealsab12cd"}, // no separator, no prefix match
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.local, func(t *testing.T) {
			if got := tok.Token(tt.local); got != tt.want {
				t.Errorf("Token(%q) = %q, want %q", tt.local, got, tt.want)
			}
		})
	}
}

// TestTokenizerDefaultMarker verifies the empty marker falls back to "deal".
func TestTokenizerDefaultMarker(t *testing.T) {
	tok := NewTokenizer("")
	if got := tok.Token("deals-ab12cd"); got != "ab12cd" {
		t.Errorf("Token = %q, want %q", got, "ab12cd")
	}
}
