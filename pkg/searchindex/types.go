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

// Package searchindex is the derived lexical + vector index over chunks and
// image assets.
//
// Lexical ranking runs on bleve with field boosts; approximate nearest
// neighbor runs on an in-process HNSW graph. The metastore stays
// authoritative: everything here is rebuildable through reindexing.
package searchindex

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ChunkDoc is one chunk as indexed.
type ChunkDoc struct {
	DocumentID uuid.UUID
	ChunkIndex int
	Text       string
	Title      string
	FileName   string
	SourceType string
	UserID     uuid.UUID
	SpaceID    uuid.UUID
	CreatedAt  time.Time

	// Vector is the unit-normalized chunk embedding; may be nil when only
	// lexical indexing is wanted.
	Vector []float32
}

// ID returns the stable index key for the chunk.
func (d ChunkDoc) ID() string {
	return d.DocumentID.String() + ":" + strconv.Itoa(d.ChunkIndex)
}

// ImageDoc is one image asset as indexed.
type ImageDoc struct {
	AssetID    uuid.UUID
	DocumentID uuid.UUID
	Caption    string
	OCRText    string
	Tags       []string
	FileName   string
	UserID     uuid.UUID
	SpaceID    uuid.UUID
	CreatedAt  time.Time
	Vector     []float32
}

// ID returns the stable index key for the asset.
func (d ImageDoc) ID() string {
	return d.AssetID.String()
}

// Filter scopes a search. UserID is mandatory for every query; a zero
// SpaceID matches all of the user's spaces.
type Filter struct {
	UserID      uuid.UUID
	SpaceID     uuid.UUID
	SourceTypes []string
	Tags        []string
}

// Options tunes a single search call.
type Options struct {
	// RecencyWeight in (0,1] blends a gaussian decay of document age into
	// the score; 0 disables decay.
	RecencyWeight float64

	// RecencyScaleDays is the gaussian scale.
	RecencyScaleDays float64

	// Now anchors the decay; zero uses the current time. Fixing it makes a
	// call reproducible.
	Now time.Time
}

// Hit is one search result. Score is min-max normalized per call; Distance
// is the raw cosine distance for KNN hits (0 for lexical hits).
type Hit struct {
	ID         string
	DocumentID uuid.UUID
	ChunkIndex int
	Score      float64
	Distance   float64
	Text       string
	Title      string
	FileName   string
	SourceType string
	Tags       []string
	CreatedAt  time.Time
}

// BulkResult is the per-document outcome of a bulk index call.
type BulkResult struct {
	ID  string
	Err error
}
