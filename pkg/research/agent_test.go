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
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/llms"
	"github.com/kadirpekel/sage/pkg/metastore"
	"github.com/kadirpekel/sage/pkg/retrieve"
	"github.com/kadirpekel/sage/pkg/websearch"
)

// fakeRetriever serves canned hits; stall makes it block until the context
// dies.
type fakeRetriever struct {
	mu    sync.Mutex
	hits  []retrieve.Hit
	stall bool
	calls int
}

func (f *fakeRetriever) Hybrid(ctx context.Context, req retrieve.Request) ([]retrieve.Hit, error) {
	f.mu.Lock()
	f.calls++
	stall := f.stall
	hits := make([]retrieve.Hit, len(f.hits))
	copy(hits, f.hits)
	f.mu.Unlock()

	if stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return hits, nil
}

// fakeGen answers by system prompt.
type fakeGen struct {
	mu       sync.Mutex
	fail     bool
	calls    map[string]int
	missing  string
	plan     string
	answer   string
	followup string
}

func newFakeGen() *fakeGen {
	return &fakeGen{
		calls:    map[string]int{},
		plan:     "1. What does the policy say?\n2. Which safeguards apply?",
		missing:  "none",
		answer:   "The policy requires safeguards for transfers [privacy.pdf #0].",
		followup: "1. What safeguards apply to transfers under the policy?",
	}
}

func (f *fakeGen) Generate(ctx context.Context, req llms.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("model down")
	}
	switch req.System {
	case planSystemPrompt:
		f.calls["plan"]++
		return f.plan, nil
	case rewriteSystemPrompt:
		f.calls["rewrite"]++
		return "policy transfer safeguards", nil
	case missingSystemPrompt:
		f.calls["missing"]++
		return f.missing, nil
	case synthesisSystemPrompt:
		f.calls["synthesis"]++
		return f.answer, nil
	case followupSystemPrompt:
		f.calls["followup"]++
		return f.followup, nil
	}
	return "", errors.New("unexpected system prompt")
}

func (f *fakeGen) GenerateStreaming(ctx context.Context, req llms.Request) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk)
	close(ch)
	return ch, nil
}
func (f *fakeGen) ModelName() string      { return "fake" }
func (f *fakeGen) SmallModelName() string { return "fake-small" }
func (f *fakeGen) Close() error           { return nil }

// fakeWeb returns canned results.
type fakeWeb struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeWeb) Search(ctx context.Context, query string, k int) ([]websearch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return []websearch.Result{
		{Title: "External source", URL: "https://example.org/doc", Snippet: "relevant snippet"},
	}, nil
}
func (f *fakeWeb) Name() string { return "fake" }

// fakeSessions stores sessions in memory.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*metastore.ResearchSession
	activity int
}

func newFakeSessions(sess *metastore.ResearchSession) *fakeSessions {
	return &fakeSessions{sessions: map[uuid.UUID]*metastore.ResearchSession{sess.ID: sess}}
}

func (f *fakeSessions) LoadResearchSession(ctx context.Context, userID, sessionID uuid.UUID) (*metastore.ResearchSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok || sess.UserID != userID {
		return nil, errors.New("not found")
	}
	cp := *sess
	return &cp, nil
}

func (f *fakeSessions) SaveResearchSession(ctx context.Context, sess *metastore.ResearchSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sess.ID] = sess
	return nil
}

func (f *fakeSessions) InsertActivity(ctx context.Context, userID uuid.UUID, kind metastore.ActivityKind, details map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity++
	return nil
}

func researchConfig() *config.ResearchConfig {
	cfg := &config.ResearchConfig{}
	cfg.SetDefaults()
	return cfg
}

func strongHits() []retrieve.Hit {
	var hits []retrieve.Hit
	for i := 0; i < 4; i++ {
		hits = append(hits, retrieve.Hit{
			DocumentID: uuid.New(),
			ChunkIndex: 0,
			Content:    "Transfers require appropriate safeguards under the policy.",
			FileName:   "privacy.pdf",
			Score:      1.0 - float64(i)*0.1,
			Distance:   0.15 + float64(i)*0.05,
		})
	}
	return hits
}

func newSession(userID uuid.UUID) *metastore.ResearchSession {
	return &metastore.ResearchSession{ID: uuid.New(), UserID: userID, SpaceID: uuid.New()}
}

func TestStrongLocalCoverage(t *testing.T) {
	user := uuid.New()
	sess := newSession(user)
	sessions := newFakeSessions(sess)
	gen := newFakeGen()

	agent := New(researchConfig(), &fakeRetriever{hits: strongHits()}, gen, nil, nil, sessions, nil)
	ans, err := agent.Ask(context.Background(), user, sess.ID, "what safeguards do transfers need?", AskOptions{})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, ans.Confidence, 0.7, "strong coverage yields high confidence")
	assert.False(t, ans.WebAttempted)
	require.NotEmpty(t, ans.References)
	for _, ref := range ans.References {
		assert.Equal(t, "local", ref.Source)
	}
	assert.NotEmpty(t, ans.Answer)
	assert.Zero(t, gen.calls["rewrite"], "strong coverage skips the rewrite")

	// The turn was persisted: one user + one assistant message.
	saved, err := sessions.LoadResearchSession(context.Background(), user, sess.ID)
	require.NoError(t, err)
	assert.Len(t, saved.Messages, 2)
	assert.Equal(t, 1, sessions.activity)
}

func TestForcedWebProducesWebReference(t *testing.T) {
	user := uuid.New()
	sess := newSession(user)
	web := &fakeWeb{}

	agent := New(researchConfig(), &fakeRetriever{hits: strongHits()}, newFakeGen(), web, nil, newFakeSessions(sess), nil)
	ans, err := agent.Ask(context.Background(), user, sess.ID, "same question but check the web", AskOptions{ForceWeb: true})
	require.NoError(t, err)

	assert.True(t, ans.WebAttempted)
	assert.Equal(t, 1, web.calls)

	hasWeb := false
	for _, ref := range ans.References {
		if ref.Source == "web" {
			hasWeb = true
		}
	}
	assert.True(t, hasWeb, "at least one web reference expected")
}

func TestWeakCoverageTriggersRewriteThenWeb(t *testing.T) {
	user := uuid.New()
	sess := newSession(user)
	gen := newFakeGen()
	web := &fakeWeb{}

	agent := New(researchConfig(), &fakeRetriever{}, gen, web, nil, newFakeSessions(sess), nil)
	ans, err := agent.Ask(context.Background(), user, sess.ID, "question with no local evidence", AskOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, gen.calls["rewrite"], "rewrite runs once per run")
	assert.True(t, ans.WebAttempted, "weak coverage after rewrite falls back to web")
	assert.LessOrEqual(t, ans.Confidence, 0.5, "web-only evidence keeps confidence low")
}

func TestNoWebProviderStaysLocal(t *testing.T) {
	user := uuid.New()
	sess := newSession(user)

	agent := New(researchConfig(), &fakeRetriever{}, newFakeGen(), nil, nil, newFakeSessions(sess), nil)
	ans, err := agent.Ask(context.Background(), user, sess.ID, "question", AskOptions{ForceWeb: true})
	require.NoError(t, err)
	assert.False(t, ans.WebAttempted, "provider none never attempts the web")
}

func TestTimeoutReturnsBestPartial(t *testing.T) {
	user := uuid.New()
	sess := newSession(user)
	cfg := researchConfig()
	cfg.TotalBudgetSeconds = 2
	cfg.PhaseFloorSeconds = 1

	gen := newFakeGen()
	agent := New(cfg, &fakeRetriever{stall: true}, gen, nil, nil, newFakeSessions(sess), nil)

	start := time.Now()
	ans, err := agent.Ask(context.Background(), user, sess.ID, "stalling question", AskOptions{})
	elapsed := time.Since(start)

	require.NoError(t, err, "timeout must produce a best partial, not an error")
	assert.LessOrEqual(t, elapsed.Seconds(), float64(cfg.TotalBudgetSeconds)*1.05+0.5)
	assert.LessOrEqual(t, ans.Confidence, cfg.ConfidenceBaseline+1e-9)
	assert.NotEmpty(t, ans.Answer)
}

func TestGeneratorFailureDegrades(t *testing.T) {
	user := uuid.New()
	sess := newSession(user)
	gen := newFakeGen()
	gen.fail = true

	agent := New(researchConfig(), &fakeRetriever{hits: strongHits()}, gen, nil, nil, newFakeSessions(sess), nil)
	ans, err := agent.Ask(context.Background(), user, sess.ID, "question", AskOptions{})
	require.NoError(t, err)

	assert.Equal(t, researchConfig().ConfidenceBaseline, ans.Confidence, "no LLM output caps at baseline")
	assert.Contains(t, ans.Answer, "privacy.pdf", "partial answer still cites evidence")
}

func TestMissingConceptsSkippedWhenWeak(t *testing.T) {
	user := uuid.New()
	sess := newSession(user)
	gen := newFakeGen()

	agent := New(researchConfig(), &fakeRetriever{}, gen, nil, nil, newFakeSessions(sess), nil)
	_, err := agent.Ask(context.Background(), user, sess.ID, "question", AskOptions{})
	require.NoError(t, err)
	assert.Zero(t, gen.calls["missing"], "missing-concept audit requires strong coverage")
}

func TestCoverageEvaluation(t *testing.T) {
	cfg := researchConfig()
	d1, d2 := uuid.New(), uuid.New()

	strong := evaluateCoverage([][]retrieve.Hit{{
		{DocumentID: d1, Distance: 0.2},
		{DocumentID: d1, Distance: 0.4},
		{DocumentID: d2, Distance: 0.3},
	}})
	assert.Equal(t, 3, strong.TotalHits)
	assert.Equal(t, 2, strong.UniqueDocs)
	assert.Equal(t, 0.2, strong.BestDistance)
	assert.True(t, strong.Strong(cfg))

	weak := evaluateCoverage([][]retrieve.Hit{{{DocumentID: d1, Distance: 0.9}}})
	assert.False(t, weak.Strong(cfg))

	empty := evaluateCoverage(nil)
	assert.False(t, empty.Strong(cfg))
	assert.Equal(t, 1.0, empty.BestDistance)
}

func TestConfidenceFormula(t *testing.T) {
	cfg := researchConfig()

	high := confidence(Coverage{UniqueDocs: 4, BestDistance: 0.2, TotalHits: 8}, true, false, cfg)
	assert.GreaterOrEqual(t, high, 0.7)
	assert.LessOrEqual(t, high, 1.0)

	floor := confidence(Coverage{UniqueDocs: 0, BestDistance: 1.0}, true, false, cfg)
	assert.Equal(t, cfg.ConfidenceBaseline, floor)

	noLLM := confidence(Coverage{UniqueDocs: 5, BestDistance: 0.1}, false, false, cfg)
	assert.Equal(t, cfg.ConfidenceBaseline, noLLM)

	webOnly := confidence(Coverage{UniqueDocs: 3, BestDistance: 0.3}, true, true, cfg)
	withLocal := confidence(Coverage{UniqueDocs: 3, BestDistance: 0.3}, true, false, cfg)
	assert.Less(t, webOnly, withLocal)
	assert.GreaterOrEqual(t, webOnly, cfg.ConfidenceBaseline)
}

func TestFollowupRelevance(t *testing.T) {
	rel := followupRelevance(
		"What safeguards apply to cross-border transfers?",
		"what safeguards do transfers need under the privacy policy")
	assert.Greater(t, rel, 0.08)

	irrelevant := followupRelevance(
		"Which pasta shapes cook fastest?",
		"what safeguards do transfers need under the privacy policy")
	assert.Less(t, irrelevant, 0.08)
}

func TestParseList(t *testing.T) {
	assert.Equal(t,
		[]string{"First question?", "Second question?"},
		parseList("1. First question?\n2) Second question?\n\n", 4))

	assert.Equal(t,
		[]string{"bare line"},
		parseList("bare line", 4))

	assert.Empty(t, parseList("none", 4))
	assert.Len(t, parseList("1. a\n2. b\n3. c\n4. d\n5. e", 3), 3)
}
