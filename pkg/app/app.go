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

// Package app wires the process-wide components from configuration.
//
// Everything here is built exactly once at startup and shut down on
// termination; the constructed clients are safe for concurrent use.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/sage/pkg/blob"
	"github.com/kadirpekel/sage/pkg/cache"
	"github.com/kadirpekel/sage/pkg/chunker"
	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/embedders"
	"github.com/kadirpekel/sage/pkg/extract"
	"github.com/kadirpekel/sage/pkg/ingest"
	"github.com/kadirpekel/sage/pkg/llms"
	"github.com/kadirpekel/sage/pkg/metastore"
	"github.com/kadirpekel/sage/pkg/research"
	"github.com/kadirpekel/sage/pkg/retrieve"
	"github.com/kadirpekel/sage/pkg/searchindex"
	"github.com/kadirpekel/sage/pkg/server"
	"github.com/kadirpekel/sage/pkg/synthesize"
	"github.com/kadirpekel/sage/pkg/websearch"
)

// App holds every long-lived component.
type App struct {
	Config *config.Config

	Meta          *metastore.Store
	Cache         *cache.Cache
	Engine        *searchindex.Engine
	Blobs         *blob.FilesystemStore
	TextEmbedder  embedders.Embedder
	ImageEmbedder embedders.Embedder
	Generator     llms.Generator
	Web           websearch.Provider
	Fetcher       *websearch.Fetcher

	Ingestor    *ingest.Ingestor
	Retriever   *retrieve.Retriever
	Images      *retrieve.ImageRetriever
	Synthesizer *synthesize.Synthesizer
	Agent       *research.Agent
	Server      *server.Server
}

// New builds the application. Construction is sequential; the first failing
// component aborts startup.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	textDim := cfg.Embedders.Text.Dimension
	imageDim := cfg.Embedders.Image.Dimension

	meta, err := metastore.New(ctx, cfg.Database, textDim, imageDim)
	if err != nil {
		return nil, fmt.Errorf("metastore: %w", err)
	}
	a.Meta = meta

	var backend cache.Backend
	if cfg.Cache.IsEnabled() {
		backend = cache.NewRedisBackend(&cfg.Cache)
	}
	a.Cache = cache.New(backend, cache.Options{
		SchemaVersion:    cfg.Cache.SchemaVersion,
		FailureThreshold: cfg.Cache.FailureThreshold,
		Cooldown:         time.Duration(cfg.Cache.CooldownSeconds) * time.Second,
	})

	engine, err := searchindex.NewEngine(cfg.SearchIndex, cfg.Retrieval.Boosts, textDim, imageDim)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("search index: %w", err)
	}
	a.Engine = engine

	blobs, err := blob.NewFilesystemStore(&cfg.Blob)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}
	a.Blobs = blobs

	textEmbedder, err := embedders.New(&cfg.Embedders.Text)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("text embedder: %w", err)
	}
	a.TextEmbedder = textEmbedder

	imageEmbedder, err := embedders.New(&cfg.Embedders.Image)
	if err != nil {
		slog.Warn("image embedder unavailable, image vectors disabled", "error", err)
	} else {
		a.ImageEmbedder = imageEmbedder
	}

	generator, err := llms.New(&cfg.LLM)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("generator: %w", err)
	}
	a.Generator = generator

	web, err := websearch.New(&cfg.Web)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("web search: %w", err)
	}
	a.Web = web
	a.Fetcher = websearch.NewFetcher(&cfg.Web)

	if err := engine.EnsureIndexes(textEmbedder.Dimension(), imageDim); err != nil {
		a.Close()
		return nil, err
	}

	var ocr extract.OCR
	if cfg.Extraction.OCREnabled {
		ocr = extract.NewTesseractOCR()
	}
	registry := extract.NewRegistry(cfg.Extraction, extract.NewLLMCaptioner(generator), ocr)

	chunk, err := chunker.New(chunker.Config{
		Size:    cfg.Chunking.Size,
		Overlap: cfg.Chunking.Overlap,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("chunker: %w", err)
	}

	a.Ingestor = ingest.New(ingest.Options{
		Blobs:         blobs,
		Extractor:     registry,
		Chunker:       chunk,
		TextEmbedder:  textEmbedder,
		ImageEmbedder: a.ImageEmbedder,
		Meta:          meta,
		Index:         engine,
		Cache:         a.Cache,
		Retry:         ingest.DefaultRetryConfig(),
		Extraction:    cfg.Extraction,
	})

	var searcher retrieve.ChunkSearcher
	if cfg.Retrieval.Backend == "metastore" {
		searcher = retrieve.NewMetaSearcher(meta, cfg.Retrieval.Boosts)
	} else {
		searcher = retrieve.NewIndexSearcher(engine, cfg.SearchIndex)
	}
	a.Retriever = retrieve.New(searcher, textEmbedder, a.Cache, cfg.Retrieval,
		time.Duration(cfg.Cache.TTLSemanticSeconds)*time.Second)

	a.Images = retrieve.NewImageRetriever(engine, a.ImageEmbedder, cfg.SearchIndex)

	a.Synthesizer = synthesize.New(generator, a.Cache,
		time.Duration(cfg.Cache.TTLLLMSeconds)*time.Second)

	a.Agent = research.New(&cfg.Research, a.Retriever, generator, web, a.Fetcher, meta, a.Cache)

	a.Server = server.New(cfg.Server, server.Deps{
		Ingestor:    a.Ingestor,
		Retriever:   a.Retriever,
		Images:      a.Images,
		Synthesizer: a.Synthesizer,
		Research:    a.Agent,
		Meta:        meta,
	})

	return a, nil
}

// InitSchema prepares the metastore schema; safe to re-run.
func (a *App) InitSchema(ctx context.Context) error {
	return a.Meta.InitSchema(ctx)
}

// Close shuts components down in reverse dependency order.
func (a *App) Close() {
	if a.Generator != nil {
		_ = a.Generator.Close()
	}
	if a.ImageEmbedder != nil {
		_ = a.ImageEmbedder.Close()
	}
	if a.TextEmbedder != nil {
		_ = a.TextEmbedder.Close()
	}
	if a.Engine != nil {
		_ = a.Engine.Close()
	}
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
	if a.Meta != nil {
		a.Meta.Close()
	}
}
