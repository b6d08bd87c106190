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

import (
	"regexp"
	"strings"

	"github.com/dealdesk/inbound/internal/models"
)

// maxDealerNameLen caps the extracted counterparty name.
const maxDealerNameLen = 64

var (
	// vinRe matches a 17-character vehicle identifier. The VIN alphabet
	// excludes I, O and Q.
	vinRe = regexp.MustCompile(`\b[A-HJ-NPR-Za-hj-npr-z0-9]{17}\b`)

	// dealerNameRe matches "from <name>" up to a sentence-ending
	// delimiter, e.g. "This is Brian from Toyota of Cedar Park."
	dealerNameRe = regexp.MustCompile(`(?i)\bfrom\s+([^.!?\r\n]+?)\s*[.!?]`)

	// urlRe matches the first embedded HTTP(S) URL.
	urlRe = regexp.MustCompile(`https?://[^\s<>"']+`)

	tagRe = regexp.MustCompile(`<[^>]*>`)

	entityReplacer = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)

	// nameBlacklist rejects pronoun-like false positives of the
	// "from <name>" heuristic ("I heard from me ...").
	nameBlacklist = map[string]bool{"me": true, "us": true}
)

// Signals scans a normalized message for a vehicle identifier, a
// counterparty name and an embedded URL. Plain text is preferred; when
// absent, the HTML body is approximately stripped first. All three
// extractions are independent and best-effort.
func Signals(msg models.InboundMessage) models.ExtractedSignals {
	body := msg.TextBody
	if body == "" && msg.HTMLBody != "" {
		body = StripHTML(msg.HTMLBody)
	}
	return Extract(msg.Subject, body)
}

// Extract runs the three signal extractors over subject + body text.
func Extract(subject, body string) models.ExtractedSignals {
	text := subject + "\n" + body
	return models.ExtractedSignals{
		VIN:        extractVIN(text),
		DealerName: extractDealerName(text),
		URL:        urlRe.FindString(text),
	}
}

// extractVIN returns the first vehicle identifier in the text,
// uppercased. Only the first match is considered; the matcher does not
// attempt multi-candidate disambiguation.
func extractVIN(text string) string {
	return strings.ToUpper(vinRe.FindString(text))
}

// extractDealerName applies the "from <name>." heuristic.
func extractDealerName(text string) string {
	m := dealerNameRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	name := strings.TrimSpace(m[1])
	if len(name) > maxDealerNameLen {
		name = strings.TrimSpace(name[:maxDealerNameLen])
	}
	if nameBlacklist[strings.ToLower(name)] {
		return ""
	}
	return name
}

// StripHTML converts an HTML body into approximate plain text by
// removing tags and replacing common entities. It does not attempt to
// handle full markup.
func StripHTML(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = entityReplacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
