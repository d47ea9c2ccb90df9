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
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/sage/pkg/cache"
	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/embedders"
	"github.com/kadirpekel/sage/pkg/fault"
)

// Retriever runs retrieval over the configured backend with caching.
type Retriever struct {
	searcher ChunkSearcher
	embedder embedders.Embedder
	cache    *cache.Cache
	cfg      config.RetrievalConfig

	semanticTTL time.Duration
}

// New creates a retriever.
func New(searcher ChunkSearcher, embedder embedders.Embedder, c *cache.Cache, cfg config.RetrievalConfig, semanticTTL time.Duration) *Retriever {
	return &Retriever{
		searcher:    searcher,
		embedder:    embedder,
		cache:       c,
		cfg:         cfg,
		semanticTTL: semanticTTL,
	}
}

// cachedHits is the compact cache payload: identities, normalized scores and
// distances only; content is rehydrated from the backend.
type cachedHits struct {
	Keys      []Key     `json:"keys"`
	Scores    []float64 `json:"scores"`
	Distances []float64 `json:"distances,omitempty"`
}

// Search dispatches by mode.
func (r *Retriever) Search(ctx context.Context, mode Mode, req Request) ([]Hit, error) {
	switch mode {
	case ModeSemantic:
		return r.Semantic(ctx, req)
	case ModeLexical:
		return r.Lexical(ctx, req)
	case ModeHybrid:
		return r.Hybrid(ctx, req)
	default:
		return nil, fault.New(fault.KindValidation, "retrieve.search", "unknown mode: %q", mode)
	}
}

// Semantic embeds the query and runs KNN.
func (r *Retriever) Semantic(ctx context.Context, req Request) ([]Hit, error) {
	if err := r.checkRequest(&req); err != nil {
		return nil, err
	}

	if hits, ok := r.fromCache(ctx, "semantic", req); ok {
		return hits, nil
	}

	vector, err := r.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	hits, err := r.searcher.Semantic(ctx, vector, req.UserID, req.SpaceID, req.TopK)
	if err != nil {
		return nil, err
	}

	r.toCache(ctx, "semantic", req, hits)
	return hits, nil
}

// Lexical runs field-boosted tokenized search.
func (r *Retriever) Lexical(ctx context.Context, req Request) ([]Hit, error) {
	if err := r.checkRequest(&req); err != nil {
		return nil, err
	}

	if hits, ok := r.fromCache(ctx, "fulltext", req); ok {
		return hits, nil
	}

	hits, err := r.searcher.Lexical(ctx, req.Query, req.UserID, req.SpaceID, req.TopK)
	if err != nil {
		return nil, err
	}

	r.toCache(ctx, "fulltext", req, hits)
	return hits, nil
}

// Hybrid runs semantic and lexical in parallel and fuses with RRF. The
// fusion is deterministic given the two ranked lists.
func (r *Retriever) Hybrid(ctx context.Context, req Request) ([]Hit, error) {
	if err := r.checkRequest(&req); err != nil {
		return nil, err
	}

	if hits, ok := r.fromCache(ctx, "hybrid", req); ok {
		return hits, nil
	}

	var semantic, lexical []Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vector, err := r.embedder.Embed(gctx, req.Query)
		if err != nil {
			return err
		}
		semantic, err = r.searcher.Semantic(gctx, vector, req.UserID, req.SpaceID, req.TopK)
		return err
	})
	g.Go(func() error {
		var err error
		lexical, err = r.searcher.Lexical(gctx, req.Query, req.UserID, req.SpaceID, req.TopK)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	hits := FuseRRF(r.cfg.RRFK0, semantic, lexical)

	if r.cfg.MMREnable && len(hits) > 1 {
		hits = Diversify(hits, r.cfg.MMRLambda, len(hits))
	}
	if req.DocAggregation || r.cfg.DocAggregation {
		hits = AggregateByDocument(hits, req.TopK)
	}
	if len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}

	r.toCache(ctx, "hybrid", req, hits)
	return hits, nil
}

// Backend returns the active backend name.
func (r *Retriever) Backend() string {
	return r.searcher.Name()
}

func (r *Retriever) checkRequest(req *Request) error {
	const op = "retrieve.request"
	if req.UserID == uuid.Nil {
		return fault.New(fault.KindForbidden, op, "user id is required")
	}
	if req.Query == "" {
		return fault.New(fault.KindValidation, op, "query is required")
	}
	if req.TopK <= 0 {
		req.TopK = r.cfg.TopK
	}
	return nil
}

func (r *Retriever) cacheKey(ctx context.Context, mode string, req Request) string {
	filters := map[string]string{"mode": mode}
	if req.DocAggregation || r.cfg.DocAggregation {
		filters["doc_agg"] = "1"
	}
	fp := cache.Fingerprint(req.Query, filters, r.searcher.Name(), r.embedder.ModelName())
	return r.cache.Key(ctx, cache.KindText, req.UserID, req.SpaceID, req.TopK, fp)
}

func (r *Retriever) fromCache(ctx context.Context, mode string, req Request) ([]Hit, bool) {
	if r.cache == nil {
		return nil, false
	}
	raw, ok := r.cache.Get(ctx, r.cacheKey(ctx, mode, req))
	if !ok {
		return nil, false
	}

	var payload cachedHits
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, false
	}

	hits, err := r.searcher.Hydrate(ctx, req.UserID, payload.Keys)
	if err != nil || len(hits) != len(payload.Keys) {
		// Stale entry (documents deleted since caching); fall through to a
		// fresh search.
		return nil, false
	}
	for i := range hits {
		hits[i].Score = payload.Scores[i]
		if i < len(payload.Distances) {
			hits[i].Distance = payload.Distances[i]
		}
	}
	return hits, true
}

func (r *Retriever) toCache(ctx context.Context, mode string, req Request, hits []Hit) {
	if r.cache == nil || len(hits) == 0 {
		return
	}
	payload := cachedHits{
		Keys:      make([]Key, len(hits)),
		Scores:    make([]float64, len(hits)),
		Distances: make([]float64, len(hits)),
	}
	for i, h := range hits {
		payload.Keys[i] = KeyOf(h)
		payload.Scores[i] = h.Score
		payload.Distances[i] = h.Distance
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("failed to marshal cache payload", "error", err)
		return
	}
	r.cache.Set(ctx, r.cacheKey(ctx, mode, req), string(raw), r.semanticTTL)
}
