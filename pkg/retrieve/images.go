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
	"sort"

	"github.com/google/uuid"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/embedders"
	"github.com/kadirpekel/sage/pkg/fault"
	"github.com/kadirpekel/sage/pkg/searchindex"
)

// ImageRequest is one image search call. At least one of Query, Tags or
// Vector must be set.
type ImageRequest struct {
	UserID  uuid.UUID
	SpaceID uuid.UUID
	Query   string
	Tags    []string
	Vector  []float32
	TopK    int
}

// ImageHit is one image search result.
type ImageHit struct {
	AssetID    string   `json:"asset_id"`
	DocumentID string   `json:"document_id"`
	Caption    string   `json:"caption,omitempty"`
	FileName   string   `json:"file_name,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Score      float64  `json:"score"`
}

// ImageRetriever searches image assets. Image search always runs on the
// search index; the metastore backend carries no image lexical ranking.
type ImageRetriever struct {
	engine   *searchindex.Engine
	embedder embedders.Embedder
	opts     searchindex.Options
}

// NewImageRetriever creates an image retriever. embedder may be nil, which
// limits queries to lexical and tag search plus caller-supplied vectors.
func NewImageRetriever(engine *searchindex.Engine, embedder embedders.Embedder, cfg config.SearchIndexConfig) *ImageRetriever {
	return &ImageRetriever{
		engine:   engine,
		embedder: embedder,
		opts: searchindex.Options{
			RecencyWeight:    cfg.RecencyWeight,
			RecencyScaleDays: cfg.RecencyScaleDays,
		},
	}
}

// Search runs lexical and, when a vector is available, KNN search over the
// image index and fuses the lists.
func (r *ImageRetriever) Search(ctx context.Context, req ImageRequest) ([]ImageHit, error) {
	const op = "retrieve.image_search"

	if req.UserID == uuid.Nil {
		return nil, fault.New(fault.KindForbidden, op, "user id is required")
	}
	if req.Query == "" && len(req.Tags) == 0 && req.Vector == nil {
		return nil, fault.New(fault.KindValidation, op, "query, tags or vector is required")
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}

	filter := searchindex.Filter{UserID: req.UserID, SpaceID: req.SpaceID, Tags: req.Tags}

	var lexical, semantic []searchindex.Hit
	var err error

	if req.Query != "" || len(req.Tags) > 0 {
		query := req.Query
		if query == "" {
			// Tag-only search still needs match terms.
			for _, tag := range req.Tags {
				query += tag + " "
			}
		}
		lexical, err = r.engine.LexicalSearchImages(ctx, query, filter, req.TopK, r.opts)
		if err != nil {
			return nil, err
		}
	}

	vector := req.Vector
	if vector == nil && req.Query != "" && r.embedder != nil {
		if vector, err = r.embedder.Embed(ctx, req.Query); err != nil {
			return nil, err
		}
	}
	if vector != nil {
		semantic, err = r.engine.KNNSearchImages(ctx, vector, filter, req.TopK, r.opts)
		if err != nil {
			return nil, err
		}
	}

	var fused []searchindex.Hit
	switch {
	case len(semantic) == 0:
		fused = lexical
	case len(lexical) == 0:
		fused = semantic
	default:
		fused = fuseIndexHits(semantic, lexical)
	}
	if len(fused) > req.TopK {
		fused = fused[:req.TopK]
	}

	out := make([]ImageHit, len(fused))
	for i, h := range fused {
		out[i] = ImageHit{
			AssetID:    h.ID,
			DocumentID: h.DocumentID.String(),
			Caption:    h.Text,
			FileName:   h.FileName,
			Tags:       h.Tags,
			Score:      h.Score,
		}
	}
	return out, nil
}

// fuseIndexHits applies RRF over raw index hit lists keyed by entry id.
func fuseIndexHits(lists ...[]searchindex.Hit) []searchindex.Hit {
	type fused struct {
		hit   searchindex.Hit
		score float64
	}
	byID := make(map[string]*fused)
	var order []string

	for _, list := range lists {
		for rank, h := range list {
			f, ok := byID[h.ID]
			if !ok {
				f = &fused{hit: h}
				byID[h.ID] = f
				order = append(order, h.ID)
			}
			f.score += 1.0 / float64(defaultRRFK0+rank+1)
		}
	}

	out := make([]searchindex.Hit, 0, len(order))
	for _, id := range order {
		f := byID[id]
		f.hit.Score = f.score
		out = append(out, f.hit)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if len(out) > 0 && out[0].Score > 0 {
		max := out[0].Score
		for i := range out {
			out[i].Score /= max
		}
	}
	return out
}
