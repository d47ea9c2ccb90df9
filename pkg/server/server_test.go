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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/fault"
	"github.com/kadirpekel/sage/pkg/ingest"
	"github.com/kadirpekel/sage/pkg/metastore"
	"github.com/kadirpekel/sage/pkg/research"
	"github.com/kadirpekel/sage/pkg/retrieve"
	"github.com/kadirpekel/sage/pkg/synthesize"
)

type fakeIngest struct {
	uploads int
	deleted []uuid.UUID
}

func (f *fakeIngest) Ingest(ctx context.Context, in ingest.UploadInput) (*ingest.UploadResult, error) {
	f.uploads++
	return &ingest.UploadResult{DocumentID: uuid.New(), NumChunks: 3, FileName: in.FileName, BlobURL: "/blobs/x"}, nil
}

func (f *fakeIngest) Delete(ctx context.Context, userID, documentID uuid.UUID) (*metastore.Document, error) {
	f.deleted = append(f.deleted, documentID)
	return &metastore.Document{ID: documentID, UserID: userID}, nil
}

func (f *fakeIngest) Reindex(ctx context.Context, documentID, spaceID uuid.UUID) (int, error) {
	return 7, nil
}

type fakeSearch struct {
	lastMode retrieve.Mode
	lastReq  retrieve.Request
	hits     []retrieve.Hit
}

func (f *fakeSearch) Search(ctx context.Context, mode retrieve.Mode, req retrieve.Request) ([]retrieve.Hit, error) {
	f.lastMode = mode
	f.lastReq = req
	return f.hits, nil
}

type fakeImages struct{}

func (fakeImages) Search(ctx context.Context, req retrieve.ImageRequest) ([]retrieve.ImageHit, error) {
	return []retrieve.ImageHit{{AssetID: "a1", Caption: "chart", Score: 1.0}}, nil
}

type fakeRAG struct{ calls int }

func (f *fakeRAG) Answer(ctx context.Context, userID, spaceID uuid.UUID, query string, hits []retrieve.Hit) (*synthesize.Result, error) {
	f.calls++
	return &synthesize.Result{Answer: "the answer", UsedLLM: true}, nil
}

type fakeResearch struct{ lastOpts research.AskOptions }

func (f *fakeResearch) Ask(ctx context.Context, userID, sessionID uuid.UUID, message string, opts research.AskOptions) (*research.Answer, error) {
	f.lastOpts = opts
	return &research.Answer{Answer: "researched", Confidence: 0.8, ElapsedSeconds: 1.5}, nil
}

type fakeAdmin struct {
	space   metastore.Space
	session *metastore.ResearchSession
}

func (f *fakeAdmin) ListDocuments(ctx context.Context, userID, spaceID uuid.UUID, limit, offset int) ([]metastore.Document, int, error) {
	return []metastore.Document{{ID: uuid.New(), UserID: userID, SpaceID: f.space.ID, FileName: "a.pdf", SourceType: "pdf"}}, 1, nil
}

func (f *fakeAdmin) CreateResearchSession(ctx context.Context, userID, spaceID uuid.UUID, title string) (*metastore.ResearchSession, error) {
	f.session = &metastore.ResearchSession{ID: uuid.New(), UserID: userID, SpaceID: spaceID}
	return f.session, nil
}

func (f *fakeAdmin) EnsureDefaultSpace(ctx context.Context, userID uuid.UUID) (*metastore.Space, error) {
	return &f.space, nil
}

func (f *fakeAdmin) GetSpace(ctx context.Context, userID, spaceID uuid.UUID) (*metastore.Space, error) {
	if spaceID != f.space.ID {
		return nil, fault.New(fault.KindNotFound, "fake", "space not found")
	}
	return &f.space, nil
}

func (f *fakeAdmin) InsertActivity(ctx context.Context, userID uuid.UUID, kind metastore.ActivityKind, details map[string]any) error {
	return nil
}

type testEnv struct {
	server  *Server
	ingest  *fakeIngest
	search  *fakeSearch
	rag     *fakeRAG
	res     *fakeResearch
	admin   *fakeAdmin
	userID  uuid.UUID
	spaceID uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.ServerConfig{}
	cfg.SetDefaults()

	userID := uuid.New()
	admin := &fakeAdmin{space: metastore.Space{ID: uuid.New(), UserID: userID, IsDefault: true}}
	env := &testEnv{
		ingest:  &fakeIngest{},
		search:  &fakeSearch{hits: []retrieve.Hit{{DocumentID: uuid.New(), ChunkIndex: 0, Content: "text", Score: 1}}},
		rag:     &fakeRAG{},
		res:     &fakeResearch{},
		admin:   admin,
		userID:  userID,
		spaceID: admin.space.ID,
	}
	env.server = New(cfg, Deps{
		Ingestor:    env.ingest,
		Retriever:   env.search,
		Images:      fakeImages{},
		Synthesizer: env.rag,
		Research:    env.res,
		Meta:        env.admin,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set(headerUserID, e.userID.String())
		req.Header.Set(headerEmail, "user@example.com")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/search", searchRequest{Query: "q", Mode: "hybrid"}, false)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader("{}"))
	req.Header.Set(headerUserID, "not-a-uuid")
	rec2 := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusForbidden, rec2.Code)
}

func TestHealthOpen(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSearchModes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/search", searchRequest{
		Query: "transfers", Mode: "semantic", TopK: 5, SpaceID: env.spaceID.String(),
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, retrieve.ModeSemantic, env.search.lastMode)
	assert.Equal(t, env.userID, env.search.lastReq.UserID, "tenant comes from the session, not the body")

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Hits, 1)
	assert.Empty(t, resp.Answer)
	assert.Zero(t, env.rag.calls)
}

func TestSearchRAGMode(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/search", searchRequest{
		Query: "transfers", Mode: "rag", SpaceID: env.spaceID.String(),
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, retrieve.ModeHybrid, env.search.lastMode, "rag rides on hybrid retrieval")
	assert.Equal(t, 1, env.rag.calls)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "the answer", resp.Answer)
	assert.True(t, resp.UsedLLM)
	assert.NotEmpty(t, resp.References)
}

func TestSearchUnknownMode(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/search", searchRequest{Query: "q", Mode: "regex"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "bad_request")
}

func TestSearchForeignSpaceRejected(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/search", searchRequest{
		Query: "q", Mode: "hybrid", SpaceID: uuid.New().String(),
	}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", "notes.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("uploaded content"))
	require.NoError(t, mw.WriteField("space_id", env.spaceID.String()))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(headerUserID, env.userID.String())
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, env.ingest.uploads)

	var results []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "notes.txt", results[0]["file_name"])
}

func TestImageSearch(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/image-search", imageSearchRequest{
		Query: "chart", SpaceID: env.spaceID.String(),
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["count"])
}

func TestResearchFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/deep-research/start", researchStartRequest{SpaceID: env.spaceID.String()}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var started map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	conversationID := started["conversation_id"]
	require.NotEmpty(t, conversationID)

	rec = env.do(t, http.MethodPost, "/deep-research/ask", researchAskRequest{
		ConversationID: conversationID,
		Message:        "what changed?",
		ForceWeb:       true,
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.res.lastOpts.ForceWeb)

	var ans research.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ans))
	assert.Equal(t, "researched", ans.Answer)
	assert.Equal(t, 0.8, ans.Confidence)
}

func TestAdminDocuments(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/admin/documents?limit=10", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "a.pdf")

	docID := uuid.New()
	rec = env.do(t, http.MethodDelete, "/admin/documents/"+docID.String(), nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, env.ingest.deleted, docID)
}

func TestAdminReindex(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/reindex", reindexRequest{All: true}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reindexed":7`)

	rec = env.do(t, http.MethodPost, "/admin/reindex", reindexRequest{}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
