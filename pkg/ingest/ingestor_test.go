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

package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/sage/pkg/blob"
	"github.com/kadirpekel/sage/pkg/cache"
	"github.com/kadirpekel/sage/pkg/chunker"
	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/extract"
	"github.com/kadirpekel/sage/pkg/fault"
	"github.com/kadirpekel/sage/pkg/metastore"
	"github.com/kadirpekel/sage/pkg/searchindex"
)

// fakeMeta records metastore writes.
type fakeMeta struct {
	mu       sync.Mutex
	docs     []*metastore.Document
	chunks   map[uuid.UUID][]metastore.Chunk
	images   map[uuid.UUID][]metastore.ImageAsset
	activity []metastore.ActivityKind
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{
		chunks: map[uuid.UUID][]metastore.Chunk{},
		images: map[uuid.UUID][]metastore.ImageAsset{},
	}
}

func (f *fakeMeta) IngestDocument(ctx context.Context, doc *metastore.Document, chunks []metastore.Chunk, images []metastore.ImageAsset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	f.chunks[doc.ID] = chunks
	f.images[doc.ID] = images
	return nil
}

func (f *fakeMeta) InsertActivity(ctx context.Context, userID uuid.UUID, kind metastore.ActivityKind, details map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity = append(f.activity, kind)
	return nil
}

func (f *fakeMeta) DocumentsByScope(ctx context.Context, documentID, spaceID uuid.UUID) ([]metastore.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []metastore.Document
	for _, d := range f.docs {
		if documentID != uuid.Nil && d.ID != documentID {
			continue
		}
		if spaceID != uuid.Nil && d.SpaceID != spaceID {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeMeta) ChunksWithEmbeddings(ctx context.Context, documentID uuid.UUID) ([]metastore.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks[documentID], nil
}

func (f *fakeMeta) ImageAssetsByDocument(ctx context.Context, documentID uuid.UUID) ([]metastore.ImageAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[documentID], nil
}

func (f *fakeMeta) DeleteDocument(ctx context.Context, userID, documentID uuid.UUID) (*metastore.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, d := range f.docs {
		if d.ID == documentID && d.UserID == userID {
			f.docs = append(f.docs[:i], f.docs[i+1:]...)
			delete(f.chunks, documentID)
			return d, nil
		}
	}
	return nil, fault.New(fault.KindNotFound, "fake", "not found")
}

// fakeIndex records dual-writes.
type fakeIndex struct {
	mu      sync.Mutex
	chunks  []searchindex.ChunkDoc
	images  []searchindex.ImageDoc
	deleted []uuid.UUID
	fail    bool
}

func (f *fakeIndex) BulkIndexChunks(ctx context.Context, docs []searchindex.ChunkDoc) []searchindex.BulkResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make([]searchindex.BulkResult, len(docs))
	for i, d := range docs {
		if f.fail {
			results[i] = searchindex.BulkResult{ID: d.ID(), Err: fault.New(fault.KindTransient, "fake", "index down")}
			continue
		}
		f.chunks = append(f.chunks, d)
		results[i] = searchindex.BulkResult{ID: d.ID()}
	}
	return results
}

func (f *fakeIndex) BulkIndexImages(ctx context.Context, docs []searchindex.ImageDoc) []searchindex.BulkResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make([]searchindex.BulkResult, len(docs))
	for i, d := range docs {
		f.images = append(f.images, d)
		results[i] = searchindex.BulkResult{ID: d.ID()}
	}
	return results
}

func (f *fakeIndex) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, documentID)
	return nil
}

// fakeEmbedder returns deterministic unit vectors.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (fakeEmbedder) Dimension() int    { return 3 }
func (fakeEmbedder) ModelName() string { return "fake" }
func (fakeEmbedder) Close() error      { return nil }

// bumpRecorder is a cache backend that records revision bumps.
type bumpRecorder struct {
	mu    sync.Mutex
	bumps []string
}

func (b *bumpRecorder) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}
func (b *bumpRecorder) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return nil
}
func (b *bumpRecorder) Incr(ctx context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bumps = append(b.bumps, key)
	return 1, nil
}
func (b *bumpRecorder) Close() error { return nil }

func newTestIngestor(t *testing.T, meta MetaWriter, index Indexer, bumps *bumpRecorder) *Ingestor {
	t.Helper()
	extractionCfg := config.ExtractionConfig{}
	extractionCfg.SetDefaults()

	blobs, err := blob.NewFilesystemStore(&config.BlobConfig{Root: t.TempDir(), BaseURL: "/blobs"})
	require.NoError(t, err)

	ch, err := chunker.New(chunker.Config{Size: 120, Overlap: 20})
	require.NoError(t, err)

	return New(Options{
		Blobs:         blobs,
		Extractor:     extract.NewRegistry(extractionCfg, nil, nil),
		Chunker:       ch,
		TextEmbedder:  fakeEmbedder{},
		ImageEmbedder: nil,
		Meta:          meta,
		Index:         index,
		Cache:         cache.New(bumps, cache.Options{}),
		Extraction:    extractionCfg,
	})
}

func TestIngestFlow(t *testing.T) {
	meta := newFakeMeta()
	index := &fakeIndex{}
	bumps := &bumpRecorder{}
	ing := newTestIngestor(t, meta, index, bumps)

	body := strings.Repeat("Cross-border transfers require safeguards under the regulation. ", 10)
	res, err := ing.Ingest(context.Background(), UploadInput{
		UserID:     uuid.New(),
		SpaceID:    uuid.New(),
		OwnerEmail: "user@example.com",
		FileName:   "privacy.txt",
		Content:    strings.NewReader(body),
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, res.DocumentID)
	assert.Greater(t, res.NumChunks, 1)
	assert.NotEmpty(t, res.BlobURL)

	// Metastore got the document with contiguous chunk indexes.
	require.Len(t, meta.docs, 1)
	chunks := meta.chunks[res.DocumentID]
	require.Len(t, chunks, res.NumChunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Len(t, c.Embedding, 3)
	}

	// Search index got the dual-write.
	assert.Len(t, index.chunks, res.NumChunks)

	// Text and LLM revisions were bumped.
	joined := strings.Join(bumps.bumps, ",")
	assert.Contains(t, joined, "rev:text:")
	assert.Contains(t, joined, "rev:llm:")
	assert.NotContains(t, joined, "rev:image:", "no images in this upload")

	// Activity recorded.
	assert.Equal(t, []metastore.ActivityKind{metastore.ActivityUpload}, meta.activity)
}

func TestIngestIndexFailureDoesNotFailUpload(t *testing.T) {
	meta := newFakeMeta()
	index := &fakeIndex{fail: true}
	ing := newTestIngestor(t, meta, index, &bumpRecorder{})

	res, err := ing.Ingest(context.Background(), UploadInput{
		UserID:     uuid.New(),
		SpaceID:    uuid.New(),
		OwnerEmail: "user@example.com",
		FileName:   "doc.txt",
		Content:    strings.NewReader("some content for the document"),
	})
	require.NoError(t, err, "index failure must not roll back the metastore write")
	require.Len(t, meta.docs, 1)
	assert.Equal(t, res.DocumentID, meta.docs[0].ID)
}

func TestIngestUnsupportedType(t *testing.T) {
	ing := newTestIngestor(t, newFakeMeta(), &fakeIndex{}, &bumpRecorder{})

	_, err := ing.Ingest(context.Background(), UploadInput{
		UserID:     uuid.New(),
		SpaceID:    uuid.New(),
		OwnerEmail: "user@example.com",
		FileName:   "song.mp3",
		Content:    strings.NewReader("not really audio"),
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindUnsupported, fault.KindOf(err))
}

func TestDeleteCascades(t *testing.T) {
	meta := newFakeMeta()
	index := &fakeIndex{}
	bumps := &bumpRecorder{}
	ing := newTestIngestor(t, meta, index, bumps)
	ctx := context.Background()
	user := uuid.New()

	res, err := ing.Ingest(ctx, UploadInput{
		UserID:     user,
		SpaceID:    uuid.New(),
		OwnerEmail: "user@example.com",
		FileName:   "doc.txt",
		Content:    strings.NewReader("to be deleted later"),
	})
	require.NoError(t, err)

	doc, err := ing.Delete(ctx, user, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, res.DocumentID, doc.ID)
	assert.Contains(t, index.deleted, res.DocumentID)
	assert.Contains(t, meta.activity, metastore.ActivityDeleteDoc)
}

func TestReindexRebuildsFromMetastore(t *testing.T) {
	meta := newFakeMeta()
	index := &fakeIndex{}
	ing := newTestIngestor(t, meta, index, &bumpRecorder{})
	ctx := context.Background()

	res, err := ing.Ingest(ctx, UploadInput{
		UserID:     uuid.New(),
		SpaceID:    uuid.New(),
		OwnerEmail: "user@example.com",
		FileName:   "doc.txt",
		Content:    strings.NewReader(strings.Repeat("searchable content here ", 20)),
	})
	require.NoError(t, err)

	// Simulate a lost index.
	index.mu.Lock()
	index.chunks = nil
	index.mu.Unlock()

	n, err := ing.Reindex(ctx, res.DocumentID, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, index.chunks, res.NumChunks, "all chunks restored from the metastore")
	assert.Contains(t, index.deleted, res.DocumentID, "old entries dropped before rebuild")
}

func TestRetryerRetriesTransient(t *testing.T) {
	r := NewRetryer(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return fault.New(fault.KindTransient, "op", "temporary")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryerStopsOnPermanent(t *testing.T) {
	r := NewRetryer(DefaultRetryConfig())
	calls := 0
	err := r.Do(context.Background(), "op", func() error {
		calls++
		return fault.New(fault.KindValidation, "op", "bad input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors must not retry")
}

func TestRetryerExhausts(t *testing.T) {
	r := NewRetryer(RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), "op", func() error {
		calls++
		return fault.New(fault.KindTransient, "op", "still down")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, fault.KindTransient, fault.KindOf(err))
}

func TestSpoolSmallStaysInMemory(t *testing.T) {
	s, err := Spool(strings.NewReader("small content"), 1024, "f.txt")
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, int64(13), s.Size())

	r, err := s.Reader()
	require.NoError(t, err)
	defer r.Close()
	data := make([]byte, 64)
	n, _ := r.Read(data)
	assert.Equal(t, "small content", string(data[:n]))
}

func TestSpoolLargeSpillsToDisk(t *testing.T) {
	big := strings.Repeat("x", 4096)
	s, err := Spool(strings.NewReader(big), 1024, "f.txt")
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, int64(4096), s.Size())

	path, err := s.Path("f.txt")
	require.NoError(t, err)
	assert.NotEmpty(t, path)

	r, err := s.Reader()
	require.NoError(t, err)
	defer r.Close()
	var got strings.Builder
	buf := make([]byte, 512)
	for {
		n, err := r.Read(buf)
		got.Write(buf[:n])
		if err != nil {
			break
		}
	}
	assert.Equal(t, big, got.String())
}

func TestSpoolReadError(t *testing.T) {
	_, err := Spool(failingReader{}, 1024, "f.txt")
	assert.Error(t, err)
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) { return 0, errors.New("broken pipe") }
