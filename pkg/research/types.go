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

// Package research implements the deep research agent: an explicit state
// machine that plans sub-questions, retrieves locally, evaluates coverage,
// optionally consults the web, and synthesizes a cited answer under a hard
// wall-clock budget.
package research

import (
	"context"

	"github.com/google/uuid"

	"github.com/kadirpekel/sage/pkg/metastore"
	"github.com/kadirpekel/sage/pkg/retrieve"
)

// phase names the states of one run.
type phase string

const (
	phasePlan            phase = "plan"
	phaseLocalRetrieve   phase = "local_retrieve"
	phaseCoverageEval    phase = "coverage_eval"
	phaseRewrite         phase = "rewrite"
	phaseWebSearch       phase = "web_search"
	phaseMissingConcepts phase = "missing_concepts"
	phaseSynthesis       phase = "synthesis"
)

// groupKind labels a context group; synthesis renders groups in fixed
// order: local, url, web, missing.
type groupKind string

const (
	groupLocal   groupKind = "local"
	groupURL     groupKind = "url"
	groupWeb     groupKind = "web"
	groupMissing groupKind = "missing"
)

// contextGroup is one labeled evidence block.
type contextGroup struct {
	kind   groupKind
	label  string
	pieces []contextPiece
}

// contextPiece is one unit of evidence inside a group.
type contextPiece struct {
	label string
	text  string
	ref   metastore.Reference
}

// AskOptions tunes one ask.
type AskOptions struct {
	// ForceWeb runs the web phase regardless of local coverage.
	ForceWeb bool

	// URLs are user-supplied pages fetched into their own context group.
	URLs []string
}

// Answer is the result of one ask.
type Answer struct {
	Answer            string                `json:"answer"`
	Confidence        float64               `json:"confidence"`
	WebAttempted      bool                  `json:"web_attempted"`
	ElapsedSeconds    float64               `json:"elapsed_seconds"`
	References        []metastore.Reference `json:"references"`
	FollowupQuestions []string              `json:"followup_questions"`
}

// Retriever is the slice of the retrieval engine the agent needs.
type Retriever interface {
	Hybrid(ctx context.Context, req retrieve.Request) ([]retrieve.Hit, error)
}

// SessionStore persists research conversations.
type SessionStore interface {
	LoadResearchSession(ctx context.Context, userID, sessionID uuid.UUID) (*metastore.ResearchSession, error)
	SaveResearchSession(ctx context.Context, sess *metastore.ResearchSession) error
	InsertActivity(ctx context.Context, userID uuid.UUID, kind metastore.ActivityKind, details map[string]any) error
}

// Fetcher downloads a page as text.
type Fetcher interface {
	FetchText(ctx context.Context, url string) (text string, title string, err error)
}
