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

// Package retrieve runs semantic, lexical and hybrid retrieval over the
// configured backend with tenant scoping and revisioned caching.
package retrieve

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeLexical  Mode = "fulltext"
	ModeHybrid   Mode = "hybrid"
)

// Request is one retrieval call. UserID is mandatory; SpaceID scopes to one
// space when set.
type Request struct {
	UserID  uuid.UUID
	SpaceID uuid.UUID
	Query   string
	TopK    int

	// DocAggregation collapses hybrid results to the best chunk per
	// document.
	DocAggregation bool
}

// Hit is one retrieval result.
type Hit struct {
	DocumentID uuid.UUID `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content,omitempty"`
	FileName   string    `json:"file_name,omitempty"`
	SourceType string    `json:"source_type,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`

	// Score is normalized to [0,1] per call.
	Score float64 `json:"score"`

	// Distance is the cosine distance when the hit came from KNN.
	Distance float64 `json:"distance,omitempty"`
}

// Key identifies a chunk across backends.
type Key struct {
	DocumentID uuid.UUID `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
}

// KeyOf returns the hit's identity.
func KeyOf(h Hit) Key {
	return Key{DocumentID: h.DocumentID, ChunkIndex: h.ChunkIndex}
}

// ChunkSearcher is the backend behind the retriever: either the search index
// or the metastore.
type ChunkSearcher interface {
	// Lexical runs tokenized field-boosted search.
	Lexical(ctx context.Context, query string, userID, spaceID uuid.UUID, k int) ([]Hit, error)

	// Semantic runs cosine KNN for an embedded query.
	Semantic(ctx context.Context, vector []float32, userID, spaceID uuid.UUID, k int) ([]Hit, error)

	// Hydrate resolves cached keys back into full hits, preserving input
	// order. Unknown keys are dropped.
	Hydrate(ctx context.Context, userID uuid.UUID, keys []Key) ([]Hit, error)

	// Name identifies the backend for cache fingerprints.
	Name() string
}
