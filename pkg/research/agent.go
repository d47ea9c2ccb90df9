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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/sage/pkg/cache"
	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/fault"
	"github.com/kadirpekel/sage/pkg/llms"
	"github.com/kadirpekel/sage/pkg/metastore"
	"github.com/kadirpekel/sage/pkg/retrieve"
	"github.com/kadirpekel/sage/pkg/websearch"
)

// Agent runs the deep research loop.
type Agent struct {
	cfg       *config.ResearchConfig
	retriever Retriever
	generator llms.Generator
	web       websearch.Provider
	fetcher   Fetcher
	sessions  SessionStore
	cache     *cache.Cache
}

// New assembles an agent. web may be nil (provider "none"); fetcher may be
// nil, disabling URL grounding and web page fetches.
func New(cfg *config.ResearchConfig, retriever Retriever, generator llms.Generator, web websearch.Provider, fetcher Fetcher, sessions SessionStore, c *cache.Cache) *Agent {
	return &Agent{
		cfg:       cfg,
		retriever: retriever,
		generator: generator,
		web:       web,
		fetcher:   fetcher,
		sessions:  sessions,
		cache:     c,
	}
}

// runState tracks the wall-clock budget across phases.
type runState struct {
	deadline time.Time
	floor    time.Duration
}

// budgetLeft reports whether a further phase is worth starting; below the
// floor the run short-circuits to synthesis with what exists.
func (r *runState) budgetLeft() bool {
	return time.Until(r.deadline) > r.floor
}

// Ask runs one full loop for the conversation. It never exceeds the
// configured budget by more than scheduling slack; on timeout the best
// partial answer comes back with confidence at the baseline.
func (a *Agent) Ask(ctx context.Context, userID, sessionID uuid.UUID, message string, opts AskOptions) (*Answer, error) {
	const op = "research.ask"
	start := time.Now()

	if strings.TrimSpace(message) == "" {
		return nil, fault.New(fault.KindValidation, op, "message is required")
	}

	budget := time.Duration(a.cfg.TotalBudgetSeconds) * time.Second
	ctx, cancel := context.WithDeadline(ctx, start.Add(budget))
	defer cancel()

	sess, err := a.loadSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	run := &runState{
		deadline: start.Add(budget),
		floor:    time.Duration(a.cfg.PhaseFloorSeconds) * time.Second,
	}

	var tail []string
	for _, m := range sess.Messages {
		tail = append(tail, m.Text)
	}

	step := func(ph phase) { slog.Debug("research phase", "session_id", sessionID, "phase", ph, "remaining", time.Until(run.deadline)) }

	step(phasePlan)
	plan := a.plan(ctx, run, message, tail)

	step(phaseLocalRetrieve)
	seen := make(map[retrieve.Key]bool)
	localGroups := a.localRetrieve(ctx, run, sess, plan, a.cfg.TopKLocal, seen)

	step(phaseCoverageEval)
	cov := evaluateCoverage(localGroups)

	rewritten := message
	if !cov.Strong(a.cfg) && run.budgetLeft() {
		for loop := 0; loop < a.cfg.RetryLoops && !cov.Strong(a.cfg); loop++ {
			step(phaseRewrite)
			phrase := a.rewrite(ctx, run, message)
			if phrase == "" {
				break
			}
			rewritten = phrase
			more := a.localRetrieve(ctx, run, sess, []string{phrase}, a.cfg.TopKLocal, seen)
			localGroups = append(localGroups, more...)
			cov = evaluateCoverage(localGroups)
		}
	}

	// URL grounding group.
	urlGroup := a.fetchURLs(ctx, run, opts.URLs)

	// Gated by force or weak coverage after rewrite.
	var webGroup *contextGroup
	webAttempted := false
	if (opts.ForceWeb || !cov.Strong(a.cfg)) && a.web != nil && run.budgetLeft() {
		webAttempted = true
		step(phaseWebSearch)
		webGroup = a.webSearch(ctx, run, rewritten)
	}

	// Only audited when local coverage held.
	var missingGroup *contextGroup
	if cov.Strong(a.cfg) && run.budgetLeft() {
		step(phaseMissingConcepts)
		missingGroup = a.missingConcepts(ctx, run, sess, message, localGroups, seen)
	}

	step(phaseSynthesis)
	groups := buildGroups(localGroups, urlGroup, webGroup, missingGroup)
	answer, usedLLM := a.synthesize(ctx, message, groups)

	onlyWeb := cov.TotalHits == 0 && webGroup != nil && len(webGroup.pieces) > 0
	conf := confidence(cov, usedLLM, onlyWeb, a.cfg)

	var followups []string
	if conf < a.cfg.ConfidenceThreshold && a.cfg.AutosendFollowups() && usedLLM {
		followups = a.followups(ctx, run, message, tail)
	}

	elapsed := time.Since(start)
	result := &Answer{
		Answer:            answer,
		Confidence:        conf,
		WebAttempted:      webAttempted,
		ElapsedSeconds:    elapsed.Seconds(),
		References:        collectReferences(groups),
		FollowupQuestions: followups,
	}

	a.persist(userID, sess, message, result)
	return result, nil
}

// plan asks the generator for 2-4 sub-questions; any failure degrades to a
// single-question plan.
func (a *Agent) plan(ctx context.Context, run *runState, message string, tail []string) []string {
	if !run.budgetLeft() {
		return []string{message}
	}

	prompt := message
	if len(tail) > 0 {
		prompt = fmt.Sprintf("Conversation so far:\n%s\n\nCurrent question: %s",
			conversationTail(tail, 6), message)
	}

	reply, err := a.generator.Generate(ctx, llms.Request{
		System:      planSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   300,
		Temperature: 0.3,
	})
	if err != nil {
		slog.Warn("planning failed, using single-question plan", "error", err)
		return []string{message}
	}

	questions := parseList(reply, 4)
	if len(questions) == 0 {
		return []string{message}
	}
	return questions
}

// localRetrieve runs hybrid retrieval per sub-question, preserving grouping
// and deduping across groups.
func (a *Agent) localRetrieve(ctx context.Context, run *runState, sess *metastore.ResearchSession, questions []string, k int, seen map[retrieve.Key]bool) [][]retrieve.Hit {
	var groups [][]retrieve.Hit
	for _, q := range questions {
		if !run.budgetLeft() {
			break
		}
		hits, err := a.retriever.Hybrid(ctx, retrieve.Request{
			UserID:  sess.UserID,
			SpaceID: sess.SpaceID,
			Query:   q,
			TopK:    k,
		})
		if err != nil {
			slog.Warn("local retrieval failed", "question", q, "error", err)
			continue
		}
		var fresh []retrieve.Hit
		for _, h := range hits {
			key := retrieve.KeyOf(h)
			if seen[key] {
				continue
			}
			seen[key] = true
			fresh = append(fresh, h)
		}
		groups = append(groups, fresh)
	}
	return groups
}

// rewrite condenses the question into a compact search phrase; used once
// per retry loop.
func (a *Agent) rewrite(ctx context.Context, run *runState, message string) string {
	if !run.budgetLeft() {
		return ""
	}
	reply, err := a.generator.Generate(ctx, llms.Request{
		System:      rewriteSystemPrompt,
		Prompt:      message,
		MaxTokens:   40,
		Temperature: 0,
	})
	if err != nil {
		slog.Warn("rewrite failed", "error", err)
		return ""
	}
	return strings.TrimSpace(strings.Trim(reply, `"`))
}

// fetchURLs pulls user-supplied pages into the url group.
func (a *Agent) fetchURLs(ctx context.Context, run *runState, urls []string) *contextGroup {
	if len(urls) == 0 || a.fetcher == nil || !run.budgetLeft() {
		return nil
	}
	group := &contextGroup{kind: groupURL, label: "Provided pages"}
	for _, raw := range urls {
		if !run.budgetLeft() {
			break
		}
		text, title, err := a.fetcher.FetchText(ctx, raw)
		if err != nil {
			slog.Warn("url fetch failed", "url", raw, "error", err)
			continue
		}
		if len(text) > 4000 {
			text = text[:4000]
		}
		group.pieces = append(group.pieces, contextPiece{
			label: raw,
			text:  text,
			ref:   metastore.Reference{Source: "url", URL: raw, Title: title},
		})
	}
	if len(group.pieces) == 0 {
		return nil
	}
	return group
}

// webSearch queries the provider with the rewritten phrase and fetches the
// best pages.
func (a *Agent) webSearch(ctx context.Context, run *runState, phrase string) *contextGroup {
	webCtx, cancel := context.WithTimeout(ctx, time.Duration(a.cfg.WebTimeoutSeconds)*time.Second)
	defer cancel()

	results, err := a.web.Search(webCtx, phrase, a.cfg.TopKWeb)
	if err != nil {
		slog.Warn("web search failed", "error", err)
		return nil
	}
	if len(results) == 0 {
		return nil
	}

	group := &contextGroup{kind: groupWeb, label: "Web results"}
	fetched := 0
	for _, r := range results {
		piece := contextPiece{
			label: r.URL,
			text:  r.Title + "\n" + r.Snippet,
			ref:   metastore.Reference{Source: "web", URL: r.URL, Title: r.Title},
		}
		// Fetch page text for the best N results.
		if a.fetcher != nil && fetched < 2 && run.budgetLeft() {
			if text, _, ferr := a.fetcher.FetchText(webCtx, r.URL); ferr == nil && text != "" {
				if len(text) > 4000 {
					text = text[:4000]
				}
				piece.text = text
				fetched++
			}
		}
		group.pieces = append(group.pieces, piece)
	}
	return group
}

// missingConcepts asks the generator what the context does not cover and
// issues targeted retrievals, up to the configured loop count.
func (a *Agent) missingConcepts(ctx context.Context, run *runState, sess *metastore.ResearchSession, message string, localGroups [][]retrieve.Hit, seen map[retrieve.Key]bool) *contextGroup {
	group := &contextGroup{kind: groupMissing, label: "Supplementary evidence"}

	for loop := 0; loop < a.cfg.MissingConceptLoops && run.budgetLeft(); loop++ {
		summary := summarizeHits(localGroups, 2000)
		reply, err := a.generator.Generate(ctx, llms.Request{
			System:      missingSystemPrompt,
			Prompt:      fmt.Sprintf("Question: %s\n\nCollected context:\n%s", message, summary),
			MaxTokens:   150,
			Temperature: 0.2,
		})
		if err != nil {
			slog.Warn("missing-concept audit failed", "error", err)
			return nilIfEmpty(group)
		}

		concepts := parseList(reply, 3)
		if len(concepts) == 0 {
			break
		}

		found := false
		for _, concept := range concepts {
			if !run.budgetLeft() {
				break
			}
			hits, err := a.retriever.Hybrid(ctx, retrieve.Request{
				UserID:  sess.UserID,
				SpaceID: sess.SpaceID,
				Query:   concept,
				TopK:    a.cfg.KMissing,
			})
			if err != nil {
				continue
			}
			for _, h := range hits {
				key := retrieve.KeyOf(h)
				if seen[key] {
					continue
				}
				seen[key] = true
				found = true
				group.pieces = append(group.pieces, contextPiece{
					label: fmt.Sprintf("%s #%d", h.FileName, h.ChunkIndex),
					text:  h.Content,
					ref: metastore.Reference{
						Source:     "local",
						DocumentID: h.DocumentID,
						ChunkIndex: h.ChunkIndex,
						FileName:   h.FileName,
						Score:      h.Score,
					},
				})
			}
		}
		if !found {
			break
		}
	}
	return nilIfEmpty(group)
}

func nilIfEmpty(g *contextGroup) *contextGroup {
	if g == nil || len(g.pieces) == 0 {
		return nil
	}
	return g
}

// buildGroups assembles the final context groups in fixed order:
// local, url, web, missing.
func buildGroups(localGroups [][]retrieve.Hit, url, web, missing *contextGroup) []*contextGroup {
	local := &contextGroup{kind: groupLocal, label: "Knowledge base"}
	for _, hits := range localGroups {
		for _, h := range hits {
			local.pieces = append(local.pieces, contextPiece{
				label: fmt.Sprintf("%s #%d", h.FileName, h.ChunkIndex),
				text:  h.Content,
				ref: metastore.Reference{
					Source:     "local",
					DocumentID: h.DocumentID,
					ChunkIndex: h.ChunkIndex,
					FileName:   h.FileName,
					Score:      h.Score,
				},
			})
		}
	}

	var groups []*contextGroup
	for _, g := range []*contextGroup{nilIfEmpty(local), url, web, missing} {
		if g != nil {
			groups = append(groups, g)
		}
	}
	return groups
}

// synthesize renders the grouped context and asks the generator for the
// final answer. Generator failure degrades to a context summary.
func (a *Agent) synthesize(ctx context.Context, message string, groups []*contextGroup) (string, bool) {
	if len(groups) == 0 {
		return "No evidence was found for this question in the selected space.", false
	}

	var b strings.Builder
	for _, g := range groups {
		fmt.Fprintf(&b, "### %s (%s)\n", g.label, g.kind)
		for _, p := range g.pieces {
			fmt.Fprintf(&b, "[%s]\n%s\n\n", p.label, p.text)
		}
	}

	reply, err := a.generator.Generate(ctx, llms.Request{
		System:      synthesisSystemPrompt,
		Prompt:      fmt.Sprintf("Context:\n%s\nQuestion: %s", b.String(), message),
		Temperature: 0.2,
	})
	if err != nil {
		slog.Warn("synthesis failed, returning evidence summary", "error", err)
		return partialAnswer(groups), false
	}
	return strings.TrimSpace(reply), true
}

// partialAnswer summarizes the best evidence when no LLM output exists.
func partialAnswer(groups []*contextGroup) string {
	var b strings.Builder
	b.WriteString("The answer could not be fully synthesized in time. The most relevant evidence:\n\n")
	count := 0
	for _, g := range groups {
		for _, p := range g.pieces {
			if count == 3 {
				return strings.TrimRight(b.String(), "\n")
			}
			text := p.text
			if len(text) > 400 {
				text = text[:400] + "…"
			}
			fmt.Fprintf(&b, "[%s] %s\n\n", p.label, text)
			count++
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// followups proposes next questions, filtered by relevance to the current
// question and recent conversation.
func (a *Agent) followups(ctx context.Context, run *runState, message string, tail []string) []string {
	if !run.budgetLeft() {
		return nil
	}
	reply, err := a.generator.Generate(ctx, llms.Request{
		System:      followupSystemPrompt,
		Prompt:      message,
		MaxTokens:   150,
		Temperature: 0.5,
	})
	if err != nil {
		return nil
	}

	reference := message + "\n" + conversationTail(tail, 6)
	var kept []string
	for _, q := range parseList(reply, 3) {
		if followupRelevance(q, reference) >= a.cfg.FollowupRelevanceMin {
			kept = append(kept, q)
		}
	}
	return kept
}

// collectReferences flattens group references, deduplicating by identity.
func collectReferences(groups []*contextGroup) []metastore.Reference {
	seen := make(map[string]bool)
	var refs []metastore.Reference
	for _, g := range groups {
		for _, p := range g.pieces {
			key := p.ref.Source + "|" + p.ref.URL + "|" + p.ref.DocumentID.String() + "|" + fmt.Sprint(p.ref.ChunkIndex)
			if seen[key] {
				continue
			}
			seen[key] = true
			refs = append(refs, p.ref)
		}
	}
	return refs
}

// sessionMirrorKey is the cache location for fast session resume.
func sessionMirrorKey(sessionID uuid.UUID) string {
	return "research:sess:" + sessionID.String()
}

// loadSession reads the conversation, preferring the cache mirror.
func (a *Agent) loadSession(ctx context.Context, userID, sessionID uuid.UUID) (*metastore.ResearchSession, error) {
	if a.cache != nil {
		if raw, ok := a.cache.Get(ctx, sessionMirrorKey(sessionID)); ok {
			var sess metastore.ResearchSession
			if err := json.Unmarshal([]byte(raw), &sess); err == nil && sess.UserID == userID {
				return &sess, nil
			}
		}
	}
	return a.sessions.LoadResearchSession(ctx, userID, sessionID)
}

// persist appends the turn to the session and writes it to the metastore
// and the cache mirror. Runs outside the budget context so a timed-out run
// still records its partial answer.
func (a *Agent) persist(userID uuid.UUID, sess *metastore.ResearchSession, message string, result *Answer) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	sess.Messages = append(sess.Messages,
		metastore.ResearchMessage{Role: "user", Text: message, CreatedAt: now},
		metastore.ResearchMessage{
			Role:         "assistant",
			Text:         result.Answer,
			References:   result.References,
			Confidence:   result.Confidence,
			Elapsed:      result.ElapsedSeconds,
			WebAttempted: result.WebAttempted,
			Followups:    result.FollowupQuestions,
			CreatedAt:    now,
		})
	if sess.Title == "" {
		sess.Title = message
		if len(sess.Title) > 80 {
			sess.Title = sess.Title[:80]
		}
	}

	if err := a.sessions.SaveResearchSession(ctx, sess); err != nil {
		slog.Warn("failed to persist research session", "session_id", sess.ID, "error", err)
	}
	if a.cache != nil {
		if raw, err := json.Marshal(sess); err == nil {
			a.cache.Set(ctx, sessionMirrorKey(sess.ID), string(raw), time.Hour)
		}
	}
	if err := a.sessions.InsertActivity(ctx, userID, metastore.ActivityDeepResearch, map[string]any{
		"session_id": sess.ID.String(),
		"confidence": result.Confidence,
		"elapsed":    result.ElapsedSeconds,
	}); err != nil {
		slog.Warn("failed to record research activity", "error", err)
	}
}

// summarizeHits renders hit texts up to budget characters for audit prompts.
func summarizeHits(groups [][]retrieve.Hit, budget int) string {
	var b strings.Builder
	for _, hits := range groups {
		for _, h := range hits {
			if b.Len() >= budget {
				return b.String()
			}
			text := h.Content
			if len(text) > 300 {
				text = text[:300]
			}
			b.WriteString(text)
			b.WriteString("\n")
		}
	}
	return b.String()
}
