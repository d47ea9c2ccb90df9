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

// Package server is the HTTP gateway over the core.
//
// Authentication is the fronting proxy's concern: requests arrive with the
// resolved user identity in headers, and every handler scopes its work to
// that tenant.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/ingest"
	"github.com/kadirpekel/sage/pkg/metastore"
	"github.com/kadirpekel/sage/pkg/research"
	"github.com/kadirpekel/sage/pkg/retrieve"
	"github.com/kadirpekel/sage/pkg/synthesize"
)

// IngestService is the upload/delete/reindex surface.
type IngestService interface {
	Ingest(ctx context.Context, in ingest.UploadInput) (*ingest.UploadResult, error)
	Delete(ctx context.Context, userID, documentID uuid.UUID) (*metastore.Document, error)
	Reindex(ctx context.Context, documentID, spaceID uuid.UUID) (int, error)
}

// SearchService is the retrieval surface.
type SearchService interface {
	Search(ctx context.Context, mode retrieve.Mode, req retrieve.Request) ([]retrieve.Hit, error)
}

// ImageSearchService is the image retrieval surface.
type ImageSearchService interface {
	Search(ctx context.Context, req retrieve.ImageRequest) ([]retrieve.ImageHit, error)
}

// RAGService is the single-shot synthesis surface.
type RAGService interface {
	Answer(ctx context.Context, userID, spaceID uuid.UUID, query string, hits []retrieve.Hit) (*synthesize.Result, error)
}

// ResearchService is the deep research surface.
type ResearchService interface {
	Ask(ctx context.Context, userID, sessionID uuid.UUID, message string, opts research.AskOptions) (*research.Answer, error)
}

// AdminStore is the metastore slice the gateway needs directly.
type AdminStore interface {
	ListDocuments(ctx context.Context, userID, spaceID uuid.UUID, limit, offset int) ([]metastore.Document, int, error)
	CreateResearchSession(ctx context.Context, userID, spaceID uuid.UUID, title string) (*metastore.ResearchSession, error)
	EnsureDefaultSpace(ctx context.Context, userID uuid.UUID) (*metastore.Space, error)
	GetSpace(ctx context.Context, userID, spaceID uuid.UUID) (*metastore.Space, error)
	InsertActivity(ctx context.Context, userID uuid.UUID, kind metastore.ActivityKind, details map[string]any) error
}

// Deps carries the services behind the routes.
type Deps struct {
	Ingestor    IngestService
	Retriever   SearchService
	Images      ImageSearchService
	Synthesizer RAGService
	Research    ResearchService
	Meta        AdminStore
}

// Server is the HTTP gateway.
type Server struct {
	cfg  config.ServerConfig
	deps Deps
	http *http.Server
}

// New creates the server with its routes mounted.
func New(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{cfg: cfg, deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Duration(cfg.RequestTimeoutSeconds) * time.Second))

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireTenant)

		r.Post("/upload", s.handleUpload)
		r.Post("/search", s.handleSearch)
		r.Post("/image-search", s.handleImageSearch)
		r.Post("/deep-research/start", s.handleResearchStart)
		r.Post("/deep-research/ask", s.handleResearchAsk)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/documents", s.handleListDocuments)
			r.Delete("/documents/{id}", s.handleDeleteDocument)
			r.Post("/reindex", s.handleReindex)
		})
	})

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving requests.
func (s *Server) ListenAndServe() error {
	slog.Info("http server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
