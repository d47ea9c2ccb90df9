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

package synthesize

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/sage/pkg/cache"
	"github.com/kadirpekel/sage/pkg/llms"
	"github.com/kadirpekel/sage/pkg/retrieve"
)

// fakeGenerator scripts responses and records prompts.
type fakeGenerator struct {
	mu      sync.Mutex
	answer  string
	err     error
	calls   int
	prompts []llms.Request
}

func (f *fakeGenerator) Generate(ctx context.Context, req llms.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, req)
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeGenerator) GenerateStreaming(ctx context.Context, req llms.Request) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk, 1)
	ch <- llms.StreamChunk{Type: "done"}
	close(ch)
	return ch, nil
}

func (f *fakeGenerator) ModelName() string      { return "fake-model" }
func (f *fakeGenerator) SmallModelName() string { return "fake-small" }
func (f *fakeGenerator) Close() error           { return nil }

// memBackend is an in-memory cache backend for tests.
type memBackend struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memBackend) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memBackend) Incr(ctx context.Context, key string) (int64, error) { return 1, nil }
func (m *memBackend) Close() error                                        { return nil }

func testHits() []retrieve.Hit {
	doc := uuid.New()
	return []retrieve.Hit{
		{DocumentID: doc, ChunkIndex: 0, Content: "Cross-border transfers   require safeguards.", FileName: "privacy.pdf", Score: 1.0},
		{DocumentID: doc, ChunkIndex: 1, Content: "Standard contractual clauses apply.", FileName: "privacy.pdf", Score: 0.8},
	}
}

func TestAnswerUsesContext(t *testing.T) {
	gen := &fakeGenerator{answer: "Transfers require safeguards."}
	s := New(gen, nil, 15*time.Minute)

	res, err := s.Answer(context.Background(), uuid.New(), uuid.New(), "what about transfers?", testHits())
	require.NoError(t, err)
	assert.True(t, res.UsedLLM)
	assert.Equal(t, "Transfers require safeguards.", res.Answer)

	require.Len(t, gen.prompts, 1)
	assert.Equal(t, SystemPrompt, gen.prompts[0].System)
	assert.Contains(t, gen.prompts[0].Prompt, "[privacy.pdf #0]")
	assert.Contains(t, gen.prompts[0].Prompt, "Cross-border transfers require safeguards.", "chunk whitespace is normalized")
	assert.Contains(t, gen.prompts[0].Prompt, "what about transfers?")
}

func TestAnswerNoHits(t *testing.T) {
	gen := &fakeGenerator{answer: "should not be called"}
	s := New(gen, nil, 15*time.Minute)

	res, err := s.Answer(context.Background(), uuid.New(), uuid.New(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, NoAnswer, res.Answer)
	assert.False(t, res.UsedLLM)
	assert.Zero(t, gen.calls)
}

func TestAnswerDegradesOnGeneratorFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model down")}
	s := New(gen, nil, 15*time.Minute)

	res, err := s.Answer(context.Background(), uuid.New(), uuid.New(), "q", testHits())
	require.NoError(t, err)
	assert.False(t, res.UsedLLM)
	assert.Contains(t, res.Answer, "privacy.pdf", "context-only answer cites evidence")
}

func TestAnswerCached(t *testing.T) {
	gen := &fakeGenerator{answer: "cached answer"}
	c := cache.New(&memBackend{data: map[string]string{}}, cache.Options{})
	s := New(gen, c, 15*time.Minute)
	ctx := context.Background()
	user, space := uuid.New(), uuid.New()
	hits := testHits()

	first, err := s.Answer(ctx, user, space, "q", hits)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := s.Answer(ctx, user, space, "q", hits)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, 1, gen.calls, "second call must come from cache")
}

func TestDedupe(t *testing.T) {
	doc := uuid.New()
	hits := []retrieve.Hit{
		{DocumentID: doc, ChunkIndex: 0, Score: 1.0},
		{DocumentID: doc, ChunkIndex: 0, Score: 0.9},
		{DocumentID: doc, ChunkIndex: 1, Score: 0.8},
	}
	out := Dedupe(hits)
	require.Len(t, out, 2)
	assert.Equal(t, 1.0, out[0].Score, "best-scored duplicate wins")
}

func TestBuildContextBounded(t *testing.T) {
	s := New(&fakeGenerator{}, nil, time.Minute)
	doc := uuid.New()

	var hits []retrieve.Hit
	for i := 0; i < 100; i++ {
		hits = append(hits, retrieve.Hit{
			DocumentID: doc,
			ChunkIndex: i,
			Content:    strings.Repeat("long passage of text ", 100),
			FileName:   "big.pdf",
		})
	}
	block := s.BuildContext(hits)
	assert.Less(t, s.tokenCount(block), maxContextTokens+500, "context stays near the budget")
	assert.Contains(t, block, "[big.pdf #0]", "earliest hits are kept")
}
