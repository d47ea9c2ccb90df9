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

package config

import "fmt"

// SearchIndexConfig configures the lexical + vector index.
type SearchIndexConfig struct {
	// Path is the on-disk root for index data; empty keeps indexes in memory.
	Path string `yaml:"path"`

	// Shards and Replicas are accepted for contract compatibility with
	// server-side backends; the embedded engine runs single-shard.
	Shards   int `yaml:"shards"`
	Replicas int `yaml:"replicas"`

	// HNSWM is the graph connectivity parameter.
	HNSWM int `yaml:"hnsw_m"`

	// HNSWEfSearch is the search expansion factor.
	HNSWEfSearch int `yaml:"hnsw_ef_search"`

	// RecencyScaleDays is the gaussian decay scale.
	RecencyScaleDays float64 `yaml:"recency_scale_days"`

	// RecencyWeight blends the decay into the score; 0 disables decay.
	RecencyWeight float64 `yaml:"recency_weight"`

	// QueryTimeoutSeconds is the per-query deadline.
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds"`
}

// SetDefaults applies default values.
func (c *SearchIndexConfig) SetDefaults() {
	if c.Shards <= 0 {
		c.Shards = 1
	}
	if c.Replicas < 0 {
		c.Replicas = 0
	}
	if c.HNSWM <= 0 {
		c.HNSWM = 16
	}
	if c.HNSWEfSearch <= 0 {
		c.HNSWEfSearch = 48
	}
	if c.RecencyScaleDays <= 0 {
		c.RecencyScaleDays = 30
	}
	if c.QueryTimeoutSeconds <= 0 {
		c.QueryTimeoutSeconds = 10
	}
}

// Validate checks the configuration.
func (c *SearchIndexConfig) Validate() error {
	if c.RecencyWeight < 0 || c.RecencyWeight > 1 {
		return fmt.Errorf("recency_weight must be in [0,1], got %v", c.RecencyWeight)
	}
	return nil
}

// BM25Boosts are the lexical field boosts.
type BM25Boosts struct {
	Text     float64 `yaml:"text"`
	Title    float64 `yaml:"title"`
	FileName float64 `yaml:"file_name"`
}

// SetDefaults applies default values.
func (b *BM25Boosts) SetDefaults() {
	if b.Text <= 0 {
		b.Text = 1.0
	}
	if b.Title <= 0 {
		b.Title = 2.5
	}
	if b.FileName <= 0 {
		b.FileName = 2.0
	}
}

// RetrievalConfig configures the retriever.
type RetrievalConfig struct {
	// Backend: searchindex or metastore.
	Backend string `yaml:"backend"`

	// TopK is the default result count when the request does not set one.
	TopK int `yaml:"top_k"`

	// RRFK0 is the reciprocal-rank-fusion smoothing constant.
	RRFK0 int `yaml:"rrf_k0"`

	// MMREnable turns on maximum-marginal-relevance diversification.
	MMREnable bool `yaml:"hybrid_mmr_enable"`

	// MMRLambda balances relevance against diversity.
	MMRLambda float64 `yaml:"hybrid_mmr_lambda"`

	// DocAggregation collapses hybrid results to best-chunk-per-document.
	DocAggregation bool `yaml:"doc_aggregation"`

	Boosts BM25Boosts `yaml:"bm25_boosts"`
}

// SetDefaults applies default values.
func (c *RetrievalConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "searchindex"
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.RRFK0 <= 0 {
		c.RRFK0 = 60
	}
	if c.MMRLambda == 0 {
		c.MMRLambda = 0.5
	}
	c.Boosts.SetDefaults()
}

// Validate checks the configuration.
func (c *RetrievalConfig) Validate() error {
	switch c.Backend {
	case "searchindex", "metastore":
	default:
		return fmt.Errorf("unknown retrieval backend: %q", c.Backend)
	}
	if c.MMRLambda < 0 || c.MMRLambda > 1 {
		return fmt.Errorf("hybrid_mmr_lambda must be in [0,1], got %v", c.MMRLambda)
	}
	return nil
}

// ChunkingConfig configures the recursive splitter.
type ChunkingConfig struct {
	// Size is the chunk upper bound in bytes of UTF-8 text; a multi-byte
	// character uses more than one unit of it.
	Size int `yaml:"size"`

	// Overlap is the shared suffix/prefix between successive chunks.
	Overlap int `yaml:"overlap"`
}

// SetDefaults applies default values.
func (c *ChunkingConfig) SetDefaults() {
	if c.Size <= 0 {
		c.Size = 2500
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	} else if c.Overlap == 0 {
		c.Overlap = 250
	}
}

// Validate checks the configuration.
func (c *ChunkingConfig) Validate() error {
	if c.Overlap >= c.Size {
		return fmt.Errorf("overlap (%d) must be less than size (%d)", c.Overlap, c.Size)
	}
	return nil
}

// ExtractionConfig configures content extraction.
type ExtractionConfig struct {
	// PDFMinCharsPerPage triggers the fallback parser when the primary
	// extracts less than this density.
	PDFMinCharsPerPage int `yaml:"pdf_min_chars_per_page"`

	// OCREnabled turns on tesseract OCR for image files.
	OCREnabled bool `yaml:"ocr_enabled"`

	// CaptionTimeoutSeconds bounds the primary caption model call before
	// falling back to the small model.
	CaptionTimeoutSeconds int `yaml:"caption_timeout_seconds"`

	// SpoolThresholdBytes is the in-memory limit before uploads spill to a
	// temp file.
	SpoolThresholdBytes int64 `yaml:"spool_threshold_bytes"`
}

// SetDefaults applies default values.
func (c *ExtractionConfig) SetDefaults() {
	if c.PDFMinCharsPerPage <= 0 {
		c.PDFMinCharsPerPage = 200
	}
	if c.CaptionTimeoutSeconds <= 0 {
		c.CaptionTimeoutSeconds = 20
	}
	if c.SpoolThresholdBytes <= 0 {
		c.SpoolThresholdBytes = 8 << 20
	}
}

// Validate checks the configuration.
func (c *ExtractionConfig) Validate() error {
	return nil
}
