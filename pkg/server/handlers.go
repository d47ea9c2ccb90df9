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

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kadirpekel/sage/pkg/fault"
	"github.com/kadirpekel/sage/pkg/ingest"
	"github.com/kadirpekel/sage/pkg/metastore"
	"github.com/kadirpekel/sage/pkg/research"
	"github.com/kadirpekel/sage/pkg/retrieve"
)

// handleUpload ingests multipart files into a space.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userFrom(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, fault.New(fault.KindValidation, "server.upload", "invalid multipart body"))
		return
	}

	spaceID, err := s.resolveSpace(ctx, userID, r.FormValue("space_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		files = r.MultipartForm.File["file"]
	}
	if len(files) == 0 {
		writeError(w, fault.New(fault.KindValidation, "server.upload", "no files provided"))
		return
	}

	var results []*ingest.UploadResult
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeError(w, fault.Wrap(fault.KindValidation, "server.upload", err))
			return
		}
		res, err := s.deps.Ingestor.Ingest(ctx, ingest.UploadInput{
			UserID:     userID,
			SpaceID:    spaceID,
			OwnerEmail: emailFrom(ctx),
			FileName:   fh.Filename,
			SourceType: r.FormValue("source_type"),
			Content:    f,
		})
		f.Close()
		if err != nil {
			writeError(w, err)
			return
		}
		results = append(results, res)
	}

	writeJSON(w, http.StatusOK, results)
}

type searchRequest struct {
	Query   string `json:"query"`
	Mode    string `json:"mode"`
	TopK    int    `json:"top_k"`
	SpaceID string `json:"space_id"`
}

type searchResponse struct {
	Answer     string         `json:"answer,omitempty"`
	UsedLLM    bool           `json:"used_llm"`
	Hits       []retrieve.Hit `json:"hits"`
	References []reference    `json:"references,omitempty"`
}

type reference struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	FileName   string  `json:"file_name,omitempty"`
	Score      float64 `json:"score"`
}

// handleSearch serves semantic, fulltext, hybrid and rag modes.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userFrom(ctx)

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.New(fault.KindValidation, "server.search", "invalid request body"))
		return
	}

	spaceID, err := s.resolveSpace(ctx, userID, req.SpaceID)
	if err != nil {
		writeError(w, err)
		return
	}

	mode := retrieve.Mode(req.Mode)
	isRAG := req.Mode == "rag"
	if isRAG {
		mode = retrieve.ModeHybrid
	}
	switch mode {
	case retrieve.ModeSemantic, retrieve.ModeLexical, retrieve.ModeHybrid:
	default:
		writeError(w, fault.New(fault.KindValidation, "server.search", "unknown mode: %q", req.Mode))
		return
	}

	hits, err := s.deps.Retriever.Search(ctx, mode, retrieve.Request{
		UserID:  userID,
		SpaceID: spaceID,
		Query:   req.Query,
		TopK:    req.TopK,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := searchResponse{Hits: hits}
	if resp.Hits == nil {
		resp.Hits = []retrieve.Hit{}
	}

	if isRAG {
		result, err := s.deps.Synthesizer.Answer(ctx, userID, spaceID, req.Query, hits)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Answer = result.Answer
		resp.UsedLLM = result.UsedLLM
		for _, h := range hits {
			resp.References = append(resp.References, reference{
				DocumentID: h.DocumentID.String(),
				ChunkIndex: h.ChunkIndex,
				FileName:   h.FileName,
				Score:      h.Score,
			})
		}
	}

	if err := s.deps.Meta.InsertActivity(ctx, userID, metastore.ActivitySearch, map[string]any{
		"query": req.Query,
		"mode":  req.Mode,
		"hits":  len(hits),
	}); err != nil {
		slog.Warn("failed to record search activity", "error", err)
	}

	writeJSON(w, http.StatusOK, resp)
}

type imageSearchRequest struct {
	Query   string    `json:"query"`
	Tags    []string  `json:"tags"`
	TopK    int       `json:"top_k"`
	SpaceID string    `json:"space_id"`
	Vector  []float32 `json:"vector"`
}

// handleImageSearch serves image retrieval.
func (s *Server) handleImageSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userFrom(ctx)

	var req imageSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.New(fault.KindValidation, "server.image_search", "invalid request body"))
		return
	}

	spaceID, err := s.resolveSpace(ctx, userID, req.SpaceID)
	if err != nil {
		writeError(w, err)
		return
	}

	results, err := s.deps.Images.Search(ctx, retrieve.ImageRequest{
		UserID:  userID,
		SpaceID: spaceID,
		Query:   req.Query,
		Tags:    req.Tags,
		Vector:  req.Vector,
		TopK:    req.TopK,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []retrieve.ImageHit{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(results),
		"results": results,
	})
}

type researchStartRequest struct {
	SpaceID string `json:"space_id"`
}

// handleResearchStart creates a research conversation.
func (s *Server) handleResearchStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userFrom(ctx)

	var req researchStartRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	spaceID, err := s.resolveSpace(ctx, userID, req.SpaceID)
	if err != nil {
		writeError(w, err)
		return
	}

	sess, err := s.deps.Meta.CreateResearchSession(ctx, userID, spaceID, "")
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": sess.ID.String()})
}

type researchAskRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`

	// SpaceID is accepted for contract compatibility; the conversation's
	// space is authoritative.
	SpaceID string `json:"space_id"`

	// LLMProvider is accepted for contract compatibility; provider
	// selection is fixed at deployment.
	LLMProvider string `json:"llm_provider"`

	ForceWeb bool     `json:"force_web"`
	URLs     []string `json:"urls"`
}

// handleResearchAsk runs one deep research loop.
func (s *Server) handleResearchAsk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userFrom(ctx)

	var req researchAskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.New(fault.KindValidation, "server.research", "invalid request body"))
		return
	}

	sessionID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		writeError(w, fault.New(fault.KindValidation, "server.research", "invalid conversation_id"))
		return
	}
	if req.LLMProvider != "" {
		slog.Debug("per-request llm provider ignored, deployment provider is used",
			"requested", req.LLMProvider)
	}

	answer, err := s.deps.Research.Ask(ctx, userID, sessionID, req.Message, research.AskOptions{
		ForceWeb: req.ForceWeb,
		URLs:     req.URLs,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if answer.References == nil {
		answer.References = []metastore.Reference{}
	}
	if answer.FollowupQuestions == nil {
		answer.FollowupQuestions = []string{}
	}

	writeJSON(w, http.StatusOK, answer)
}

// handleListDocuments lists a tenant's documents.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userFrom(ctx)

	spaceID := uuid.Nil
	if raw := r.URL.Query().Get("space_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, fault.New(fault.KindValidation, "server.documents", "invalid space_id"))
			return
		}
		spaceID = parsed
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	docs, total, err := s.deps.Meta.ListDocuments(ctx, userID, spaceID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	type docView struct {
		ID         string         `json:"id"`
		SpaceID    string         `json:"space_id"`
		SourceType string         `json:"source_type"`
		FileName   string         `json:"file_name"`
		BlobURL    string         `json:"blob_url,omitempty"`
		Metadata   map[string]any `json:"metadata,omitempty"`
		CreatedAt  string         `json:"created_at"`
	}
	views := make([]docView, len(docs))
	for i, d := range docs {
		views[i] = docView{
			ID:         d.ID.String(),
			SpaceID:    d.SpaceID.String(),
			SourceType: d.SourceType,
			FileName:   d.FileName,
			BlobURL:    d.BlobURL,
			Metadata:   d.Metadata,
			CreatedAt:  d.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"documents": views,
	})
}

// handleDeleteDocument removes a document and its derived state.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userFrom(ctx)

	docID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, fault.New(fault.KindValidation, "server.documents", "invalid document id"))
		return
	}

	if _, err := s.deps.Ingestor.Delete(ctx, userID, docID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"deleted_id": docID.String(),
	})
}

type reindexRequest struct {
	DocID   string `json:"doc_id"`
	SpaceID string `json:"space_id"`
	All     bool   `json:"all"`
}

// handleReindex rebuilds search index entries from the metastore.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req reindexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.New(fault.KindValidation, "server.reindex", "invalid request body"))
		return
	}

	docID, spaceID := uuid.Nil, uuid.Nil
	switch {
	case req.DocID != "":
		parsed, err := uuid.Parse(req.DocID)
		if err != nil {
			writeError(w, fault.New(fault.KindValidation, "server.reindex", "invalid doc_id"))
			return
		}
		docID = parsed
	case req.SpaceID != "":
		parsed, err := uuid.Parse(req.SpaceID)
		if err != nil {
			writeError(w, fault.New(fault.KindValidation, "server.reindex", "invalid space_id"))
			return
		}
		spaceID = parsed
	case !req.All:
		writeError(w, fault.New(fault.KindValidation, "server.reindex", "doc_id, space_id or all is required"))
		return
	}

	n, err := s.deps.Ingestor.Reindex(ctx, docID, spaceID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"reindexed": n,
	})
}
