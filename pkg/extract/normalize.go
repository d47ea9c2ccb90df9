// Copyright 2025 Kadir Pekel
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
	"strings"
	"unicode"
)

// NormalizeText canonicalizes extracted text: paragraph boundaries survive,
// whitespace inside lines collapses, hyphenated line breaks are repaired and
// runs of blank lines shrink to one.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = repairHyphenation(text)

	lines := strings.Split(text, "\n")
	var out []string
	blank := true // swallow leading blank lines
	for _, line := range lines {
		collapsed := collapseSpaces(line)
		if collapsed == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, collapsed)
		blank = false
	}
	// Trim a trailing blank line.
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// collapseSpaces reduces runs of spaces and tabs to a single space.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// repairHyphenation joins words split across line breaks with a hyphen,
// keeping legitimate hyphenated compounds intact by requiring a lowercase
// continuation.
func repairHyphenation(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '-' && i+1 < len(runes) && runes[i+1] == '\n' {
			// Look ahead past the newline for a lowercase letter.
			j := i + 2
			for j < len(runes) && (runes[j] == ' ' || runes[j] == '\t') {
				j++
			}
			if j < len(runes) && unicode.IsLower(runes[j]) && i > 0 && unicode.IsLetter(runes[i-1]) {
				i++ // skip the newline; the hyphen is dropped with it
				for i+1 < len(runes) && (runes[i+1] == ' ' || runes[i+1] == '\t') {
					i++
				}
				continue
			}
		}
		b.WriteRune(runes[i])
	}
	return b.String()
}

// StripRepeatingLines removes lines that repeat across page boundaries, the
// usual signature of running headers and footers. A line must appear on at
// least minRepeats pages to be stripped.
func StripRepeatingLines(pages []string, minRepeats int) []string {
	if len(pages) < minRepeats || minRepeats < 2 {
		return pages
	}

	counts := make(map[string]int)
	for _, page := range pages {
		seen := make(map[string]bool)
		for _, line := range boundaryLines(page) {
			key := collapseSpaces(line)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			counts[key]++
		}
	}

	stripped := make([]string, len(pages))
	for i, page := range pages {
		lines := strings.Split(page, "\n")
		var kept []string
		for j, line := range lines {
			key := collapseSpaces(line)
			if key != "" && counts[key] >= minRepeats && isBoundaryLine(j, len(lines)) {
				continue
			}
			kept = append(kept, line)
		}
		stripped[i] = strings.Join(kept, "\n")
	}
	return stripped
}

// boundaryLines returns the first and last few lines of a page.
func boundaryLines(page string) []string {
	lines := strings.Split(page, "\n")
	var out []string
	for i, line := range lines {
		if isBoundaryLine(i, len(lines)) {
			out = append(out, line)
		}
	}
	return out
}

const boundaryWindow = 3

func isBoundaryLine(i, total int) bool {
	return i < boundaryWindow || i >= total-boundaryWindow
}

// LooksLikeHeading reports whether a line reads as a heading: short, no
// terminal punctuation, and either title-cased or all caps.
func LooksLikeHeading(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || len(line) > 80 {
		return false
	}
	last := rune(line[len(line)-1])
	if last == '.' || last == ',' || last == ';' || last == ':' {
		return false
	}
	words := strings.Fields(line)
	if len(words) == 0 || len(words) > 12 {
		return false
	}
	upper := 0
	for _, w := range words {
		r := []rune(w)[0]
		if unicode.IsUpper(r) || unicode.IsDigit(r) {
			upper++
		}
	}
	return upper*2 >= len(words)
}
