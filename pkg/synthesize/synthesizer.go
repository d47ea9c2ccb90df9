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

// Package synthesize assembles retrieval context and produces grounded
// answers through the generator.
package synthesize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"

	"github.com/kadirpekel/sage/pkg/cache"
	"github.com/kadirpekel/sage/pkg/llms"
	"github.com/kadirpekel/sage/pkg/retrieve"
)

// SystemPrompt instructs the generator to stay inside the provided context.
const SystemPrompt = "Answer directly from the provided context. " +
	"If insufficient, say 'No answer found in the provided context.' " +
	"Do not ask for more input."

// NoAnswer is the canonical insufficient-context reply.
const NoAnswer = "No answer found in the provided context."

// maxContextTokens bounds the assembled context block.
const maxContextTokens = 6000

// Synthesizer turns hits into a cited answer.
type Synthesizer struct {
	generator llms.Generator
	cache     *cache.Cache
	answerTTL time.Duration
	encoding  *tiktoken.Tiktoken
}

// New creates a synthesizer. The cache may be nil.
func New(generator llms.Generator, c *cache.Cache, answerTTL time.Duration) *Synthesizer {
	// cl100k_base ships with the library; failure leaves token budgeting on
	// a character heuristic.
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("token encoding unavailable, using character estimate", "error", err)
		encoding = nil
	}
	return &Synthesizer{
		generator: generator,
		cache:     c,
		answerTTL: answerTTL,
		encoding:  encoding,
	}
}

// Result is a synthesized answer.
type Result struct {
	Answer  string
	UsedLLM bool
	Cached  bool
}

// Answer builds context from the hits and asks the generator. On generator
// failure the assembled context degrades into the answer with UsedLLM false.
func (s *Synthesizer) Answer(ctx context.Context, userID, spaceID uuid.UUID, query string, hits []retrieve.Hit) (*Result, error) {
	if len(hits) == 0 {
		return &Result{Answer: NoAnswer, UsedLLM: false}, nil
	}

	deduped := Dedupe(hits)
	contextBlock := s.BuildContext(deduped)

	key := ""
	if s.cache != nil {
		key = s.answerKey(ctx, userID, spaceID, query, deduped, contextBlock)
		if answer, ok := s.cache.Get(ctx, key); ok {
			return &Result{Answer: answer, UsedLLM: true, Cached: true}, nil
		}
	}

	prompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextBlock, query)
	answer, err := s.generator.Generate(ctx, llms.Request{
		System:      SystemPrompt,
		Prompt:      prompt,
		Temperature: 0.1,
	})
	if err != nil {
		slog.Warn("generator failed, degrading to context-only answer", "error", err)
		return &Result{Answer: contextOnlyAnswer(deduped), UsedLLM: false}, nil
	}
	answer = strings.TrimSpace(answer)

	if s.cache != nil && answer != "" {
		s.cache.Set(ctx, key, answer, s.answerTTL)
	}
	return &Result{Answer: answer, UsedLLM: true}, nil
}

// Dedupe drops repeated (document, chunk) identities, keeping best-scored
// order.
func Dedupe(hits []retrieve.Hit) []retrieve.Hit {
	seen := make(map[retrieve.Key]bool, len(hits))
	var out []retrieve.Hit
	for _, h := range hits {
		key := retrieve.KeyOf(h)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, h)
	}
	return out
}

// BuildContext concatenates hit contents with document-label prefixes,
// normalizing whitespace while preserving paragraph boundaries, bounded by
// the token budget.
func (s *Synthesizer) BuildContext(hits []retrieve.Hit) string {
	var b strings.Builder
	used := 0
	for _, h := range hits {
		label := h.FileName
		if label == "" {
			label = h.DocumentID.String()
		}
		section := fmt.Sprintf("[%s #%d]\n%s\n\n", label, h.ChunkIndex, normalizeChunk(h.Content))

		cost := s.tokenCount(section)
		if used+cost > maxContextTokens && used > 0 {
			break
		}
		b.WriteString(section)
		used += cost
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Synthesizer) tokenCount(text string) int {
	if s.encoding != nil {
		return len(s.encoding.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// normalizeChunk collapses intra-line whitespace, keeping blank lines.
func normalizeChunk(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// contextOnlyAnswer renders the top evidence directly when no LLM output is
// available.
func contextOnlyAnswer(hits []retrieve.Hit) string {
	var b strings.Builder
	b.WriteString("The language model is unavailable; the most relevant passages are:\n\n")
	limit := 3
	if len(hits) < limit {
		limit = len(hits)
	}
	for _, h := range hits[:limit] {
		label := h.FileName
		if label == "" {
			label = h.DocumentID.String()
		}
		excerpt := normalizeChunk(h.Content)
		if len(excerpt) > 500 {
			excerpt = excerpt[:500] + "…"
		}
		fmt.Fprintf(&b, "[%s #%d] %s\n\n", label, h.ChunkIndex, excerpt)
	}
	return strings.TrimRight(b.String(), "\n")
}

// answerKey hashes the full answer identity: normalized query, hit id
// sequence, context text and model id.
func (s *Synthesizer) answerKey(ctx context.Context, userID, spaceID uuid.UUID, query string, hits []retrieve.Hit, contextBlock string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(strings.Fields(strings.ToLower(query)), " ")))
	h.Write([]byte{0})
	for _, hit := range hits {
		fmt.Fprintf(h, "%s:%d;", hit.DocumentID, hit.ChunkIndex)
	}
	h.Write([]byte{0})
	h.Write([]byte(contextBlock))
	h.Write([]byte{0})
	h.Write([]byte(s.generator.ModelName()))

	fp := hex.EncodeToString(h.Sum(nil))[:32]
	return s.cache.Key(ctx, cache.KindLLM, userID, spaceID, len(hits), fp)
}
