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

package retrieve

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/metastore"
	"github.com/kadirpekel/sage/pkg/searchindex"
)

// IndexSearcher adapts the search index engine to the retriever.
type IndexSearcher struct {
	engine *searchindex.Engine
	opts   searchindex.Options
}

// NewIndexSearcher wraps the engine, wiring the configured recency decay.
func NewIndexSearcher(engine *searchindex.Engine, cfg config.SearchIndexConfig) *IndexSearcher {
	return &IndexSearcher{
		engine: engine,
		opts: searchindex.Options{
			RecencyWeight:    cfg.RecencyWeight,
			RecencyScaleDays: cfg.RecencyScaleDays,
		},
	}
}

// Name identifies the backend.
func (s *IndexSearcher) Name() string { return "searchindex" }

// Lexical runs boosted lexical search over the chunk index.
func (s *IndexSearcher) Lexical(ctx context.Context, query string, userID, spaceID uuid.UUID, k int) ([]Hit, error) {
	hits, err := s.engine.LexicalSearchChunks(ctx, query,
		searchindex.Filter{UserID: userID, SpaceID: spaceID}, k, s.opts)
	if err != nil {
		return nil, err
	}
	return fromIndexHits(hits), nil
}

// Semantic runs cosine KNN over the chunk index.
func (s *IndexSearcher) Semantic(ctx context.Context, vector []float32, userID, spaceID uuid.UUID, k int) ([]Hit, error) {
	hits, err := s.engine.KNNSearchChunks(ctx, vector,
		searchindex.Filter{UserID: userID, SpaceID: spaceID}, k, s.opts)
	if err != nil {
		return nil, err
	}
	return fromIndexHits(hits), nil
}

// Hydrate resolves cached keys from the index payloads.
func (s *IndexSearcher) Hydrate(ctx context.Context, userID uuid.UUID, keys []Key) ([]Hit, error) {
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.DocumentID.String() + ":" + strconv.Itoa(k.ChunkIndex)
	}
	return fromIndexHits(s.engine.HydrateChunks(userID, ids)), nil
}

func fromIndexHits(hits []searchindex.Hit) []Hit {
	out := make([]Hit, len(hits))
	for i, h := range hits {
		out[i] = Hit{
			DocumentID: h.DocumentID,
			ChunkIndex: h.ChunkIndex,
			Content:    h.Text,
			FileName:   h.FileName,
			SourceType: h.SourceType,
			CreatedAt:  h.CreatedAt,
			Score:      h.Score,
			Distance:   h.Distance,
		}
	}
	return out
}

// MetaSearcher adapts the metastore to the retriever for deployments that
// run without a search index.
type MetaSearcher struct {
	store  *metastore.Store
	boosts config.BM25Boosts
}

// NewMetaSearcher wraps the metastore.
func NewMetaSearcher(store *metastore.Store, boosts config.BM25Boosts) *MetaSearcher {
	return &MetaSearcher{store: store, boosts: boosts}
}

// Name identifies the backend.
func (s *MetaSearcher) Name() string { return "metastore" }

// Lexical ranks with ts_rank over the generated lexical column.
func (s *MetaSearcher) Lexical(ctx context.Context, query string, userID, spaceID uuid.UUID, k int) ([]Hit, error) {
	hits, err := s.store.LexicalSearch(ctx, userID, spaceID, query, k, s.boosts)
	if err != nil {
		return nil, err
	}
	out := fromMetaHits(hits)
	normalizeMinMax(out)
	return out, nil
}

// Semantic runs pgvector cosine KNN over persisted embeddings.
func (s *MetaSearcher) Semantic(ctx context.Context, vector []float32, userID, spaceID uuid.UUID, k int) ([]Hit, error) {
	hits, err := s.store.SemanticSearch(ctx, userID, spaceID, vector, k)
	if err != nil {
		return nil, err
	}
	out := fromMetaHits(hits)
	normalizeMinMax(out)
	return out, nil
}

// Hydrate resolves cached keys with one keyed query.
func (s *MetaSearcher) Hydrate(ctx context.Context, userID uuid.UUID, keys []Key) ([]Hit, error) {
	docIDs := make([]uuid.UUID, len(keys))
	indexes := make([]int, len(keys))
	for i, k := range keys {
		docIDs[i] = k.DocumentID
		indexes[i] = k.ChunkIndex
	}
	hits, err := s.store.ChunksByKeys(ctx, userID, docIDs, indexes)
	if err != nil {
		return nil, err
	}
	return fromMetaHits(hits), nil
}

func fromMetaHits(hits []metastore.ChunkHit) []Hit {
	out := make([]Hit, len(hits))
	for i, h := range hits {
		out[i] = Hit{
			DocumentID: h.DocumentID,
			ChunkIndex: h.ChunkIndex,
			Content:    h.Content,
			FileName:   h.FileName,
			SourceType: h.SourceType,
			CreatedAt:  h.CreatedAt,
			Score:      h.Score,
			Distance:   h.Distance,
		}
	}
	return out
}

// normalizeMinMax rescales raw backend scores into [0,1] per call.
func normalizeMinMax(hits []Hit) {
	if len(hits) == 0 {
		return
	}
	min, max := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}
	spread := max - min
	for i := range hits {
		if spread == 0 {
			hits[i].Score = 1.0
		} else {
			hits[i].Score = (hits[i].Score - min) / spread
		}
	}
}

var (
	_ ChunkSearcher = (*IndexSearcher)(nil)
	_ ChunkSearcher = (*MetaSearcher)(nil)
)
