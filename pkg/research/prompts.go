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

package research

import (
	"regexp"
	"strings"
)

const planSystemPrompt = "You decompose research questions. " +
	"Produce 2 to 4 focused sub-questions, one per line, numbered. " +
	"Output only the sub-questions."

const rewriteSystemPrompt = "You condense questions into search phrases. " +
	"Reply with one compact keyword phrase, no punctuation, under 10 words."

const missingSystemPrompt = "You audit evidence coverage. " +
	"Given a question and collected context, list up to 3 concepts the " +
	"context does NOT cover, one per line, numbered. " +
	"If nothing is missing, reply with the single word: none."

const synthesisSystemPrompt = "You are a careful research assistant. " +
	"Ground every statement in the provided context blocks and cite the " +
	"block labels in square brackets. If the context does not answer the " +
	"question, say so plainly. Do not invent sources."

const followupSystemPrompt = "Suggest up to 3 short follow-up questions a " +
	"reader would ask next, one per line, numbered. Output only the questions."

var listItemPattern = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*(.+)$`)

// parseList extracts items from a numbered or bulleted model reply, bounded
// by max. Unmarked non-empty lines count as items too.
func parseList(reply string, max int) []string {
	var items []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := listItemPattern.FindStringSubmatch(line); m != nil {
			line = strings.TrimSpace(m[1])
		}
		line = strings.Trim(line, `"`)
		if line == "" || strings.EqualFold(line, "none") {
			continue
		}
		items = append(items, line)
		if len(items) == max {
			break
		}
	}
	return items
}

// conversationTail renders the last few message texts for prompt context.
func conversationTail(texts []string, max int) string {
	if len(texts) > max {
		texts = texts[len(texts)-max:]
	}
	return strings.Join(texts, "\n")
}
