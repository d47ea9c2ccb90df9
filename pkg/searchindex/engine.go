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

package searchindex

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/fault"
)

// logical pairs a lexical index with a vector store over the same documents.
type logical struct {
	lex *lexicalIndex
	vec *vectorStore

	mu      sync.RWMutex
	byDoc   map[uuid.UUID][]string
	payload map[string]Hit
	owner   map[string]uuid.UUID
}

func (l *logical) remember(id string, docID, userID uuid.UUID, template Hit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byDoc[docID] = append(l.byDoc[docID], id)
	l.payload[id] = template
	l.owner[id] = userID
}

func (l *logical) forget(docID uuid.UUID) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := l.byDoc[docID]
	delete(l.byDoc, docID)
	for _, id := range ids {
		delete(l.payload, id)
		delete(l.owner, id)
	}
	return ids
}

func (l *logical) lookup(id string) (Hit, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.payload[id]
	return h, ok
}

// Engine is the combined chunk + image search index.
type Engine struct {
	cfg      config.SearchIndexConfig
	chunks   *logical
	images   *logical
	textDim  int
	imageDim int
}

// NewEngine builds both logical indexes. Path "" keeps everything in memory;
// otherwise bleve data lives under <path>/chunks and <path>/images.
func NewEngine(cfg config.SearchIndexConfig, boosts config.BM25Boosts, textDim, imageDim int) (*Engine, error) {
	chunkFields := []boostField{
		{"text", boosts.Text},
		{"title", boosts.Title},
		{"file_name", boosts.FileName},
	}
	imageFields := []boostField{
		{"caption", boosts.Text},
		{"ocr_text", boosts.Text},
		{"file_name", boosts.FileName},
	}
	keywordFields := []string{"user_id", "space_id", "source_type", "document_id", "tags"}

	chunkPath, imagePath := "", ""
	if cfg.Path != "" {
		chunkPath = filepath.Join(cfg.Path, "chunks")
		imagePath = filepath.Join(cfg.Path, "images")
	}

	chunkLex, err := newLexicalIndex(chunkPath, chunkFields, keywordFields,
		[]string{"created_at"}, []string{"chunk_index"})
	if err != nil {
		return nil, err
	}
	imageLex, err := newLexicalIndex(imagePath, imageFields, keywordFields,
		[]string{"created_at"}, nil)
	if err != nil {
		chunkLex.close()
		return nil, err
	}

	return &Engine{
		cfg: cfg,
		chunks: &logical{
			lex:     chunkLex,
			vec:     newVectorStore(textDim, cfg.HNSWM, cfg.HNSWEfSearch),
			byDoc:   make(map[uuid.UUID][]string),
			payload: make(map[string]Hit),
			owner:   make(map[string]uuid.UUID),
		},
		images: &logical{
			lex:     imageLex,
			vec:     newVectorStore(imageDim, cfg.HNSWM, cfg.HNSWEfSearch),
			byDoc:   make(map[uuid.UUID][]string),
			payload: make(map[string]Hit),
			owner:   make(map[string]uuid.UUID),
		},
		textDim:  textDim,
		imageDim: imageDim,
	}, nil
}

// EnsureIndexes verifies the configured dimensions against the live indexes.
// Idempotent: the indexes are created by NewEngine and re-running never
// drops data.
func (e *Engine) EnsureIndexes(textDim, imageDim int) error {
	const op = "searchindex.ensure_indexes"
	if textDim != e.textDim {
		return fault.New(fault.KindValidation, op,
			"chunk vector dimension mismatch: index has %d, embedder produces %d", e.textDim, textDim)
	}
	if imageDim != e.imageDim {
		return fault.New(fault.KindValidation, op,
			"image vector dimension mismatch: index has %d, embedder produces %d", e.imageDim, imageDim)
	}
	return nil
}

// BulkIndexChunks indexes chunk documents, reporting per-document outcome.
// Within one document the lexical and vector writes apply together or not
// at all.
func (e *Engine) BulkIndexChunks(ctx context.Context, docs []ChunkDoc) []BulkResult {
	results := make([]BulkResult, 0, len(docs))
	for _, doc := range docs {
		results = append(results, BulkResult{ID: doc.ID(), Err: e.indexChunk(doc)})
	}
	return results
}

func (e *Engine) indexChunk(doc ChunkDoc) error {
	id := doc.ID()
	fields := map[string]any{
		"text":        doc.Text,
		"title":       doc.Title,
		"file_name":   doc.FileName,
		"source_type": doc.SourceType,
		"user_id":     doc.UserID.String(),
		"space_id":    doc.SpaceID.String(),
		"document_id": doc.DocumentID.String(),
		"chunk_index": doc.ChunkIndex,
		"created_at":  doc.CreatedAt,
	}

	if err := e.chunks.lex.indexDoc(id, fields); err != nil {
		return fault.Wrapf(fault.KindTransient, "searchindex.bulk_index", err, "lexical index failed")
	}
	if doc.Vector != nil {
		meta := vectorMeta{userID: doc.UserID, spaceID: doc.SpaceID, documentID: doc.DocumentID}
		if err := e.chunks.vec.add(id, doc.Vector, meta); err != nil {
			// Roll back the lexical half so the document is not partially applied.
			if derr := e.chunks.lex.deleteDoc(id); derr != nil {
				slog.Warn("failed to roll back lexical entry", "id", id, "error", derr)
			}
			return err
		}
	}

	e.chunks.remember(id, doc.DocumentID, doc.UserID, Hit{
		ID:         id,
		DocumentID: doc.DocumentID,
		ChunkIndex: doc.ChunkIndex,
		Text:       doc.Text,
		Title:      doc.Title,
		FileName:   doc.FileName,
		SourceType: doc.SourceType,
		CreatedAt:  doc.CreatedAt,
	})
	return nil
}

// BulkIndexImages indexes image documents, reporting per-document outcome.
func (e *Engine) BulkIndexImages(ctx context.Context, docs []ImageDoc) []BulkResult {
	results := make([]BulkResult, 0, len(docs))
	for _, doc := range docs {
		results = append(results, BulkResult{ID: doc.ID(), Err: e.indexImage(doc)})
	}
	return results
}

func (e *Engine) indexImage(doc ImageDoc) error {
	id := doc.ID()
	fields := map[string]any{
		"caption":     doc.Caption,
		"ocr_text":    doc.OCRText,
		"tags":        doc.Tags,
		"file_name":   doc.FileName,
		"source_type": "image",
		"user_id":     doc.UserID.String(),
		"space_id":    doc.SpaceID.String(),
		"document_id": doc.DocumentID.String(),
		"created_at":  doc.CreatedAt,
	}

	if err := e.images.lex.indexDoc(id, fields); err != nil {
		return fault.Wrapf(fault.KindTransient, "searchindex.bulk_index", err, "lexical index failed")
	}
	if doc.Vector != nil {
		meta := vectorMeta{userID: doc.UserID, spaceID: doc.SpaceID, documentID: doc.DocumentID}
		if err := e.images.vec.add(id, doc.Vector, meta); err != nil {
			if derr := e.images.lex.deleteDoc(id); derr != nil {
				slog.Warn("failed to roll back lexical entry", "id", id, "error", derr)
			}
			return err
		}
	}

	e.images.remember(id, doc.DocumentID, doc.UserID, Hit{
		ID:         id,
		DocumentID: doc.DocumentID,
		Text:       doc.Caption,
		FileName:   doc.FileName,
		SourceType: "image",
		Tags:       doc.Tags,
		CreatedAt:  doc.CreatedAt,
	})
	return nil
}

// LexicalSearchChunks runs a boosted lexical query over the chunk index.
func (e *Engine) LexicalSearchChunks(ctx context.Context, q string, filter Filter, k int, opts Options) ([]Hit, error) {
	return e.lexicalSearch(ctx, e.chunks, q, filter, k, opts)
}

// LexicalSearchImages runs a boosted lexical query over the image index.
func (e *Engine) LexicalSearchImages(ctx context.Context, q string, filter Filter, k int, opts Options) ([]Hit, error) {
	return e.lexicalSearch(ctx, e.images, q, filter, k, opts)
}

func (e *Engine) lexicalSearch(ctx context.Context, l *logical, q string, filter Filter, k int, opts Options) ([]Hit, error) {
	fetch := k
	if opts.RecencyWeight > 0 {
		fetch = k * 2
	}
	hits, err := l.lex.search(ctx, q, filter, fetch)
	if err != nil {
		return nil, err
	}
	applyRecencyDecay(hits, opts)
	if len(hits) > k {
		hits = hits[:k]
	}
	minMaxNormalize(hits)
	return hits, nil
}

// KNNSearchChunks runs cosine KNN over the chunk vectors.
func (e *Engine) KNNSearchChunks(ctx context.Context, vector []float32, filter Filter, k int, opts Options) ([]Hit, error) {
	return e.knnSearch(ctx, e.chunks, vector, filter, k, opts)
}

// KNNSearchImages runs cosine KNN over the image vectors.
func (e *Engine) KNNSearchImages(ctx context.Context, vector []float32, filter Filter, k int, opts Options) ([]Hit, error) {
	return e.knnSearch(ctx, e.images, vector, filter, k, opts)
}

func (e *Engine) knnSearch(ctx context.Context, l *logical, vector []float32, filter Filter, k int, opts Options) ([]Hit, error) {
	fetch := k
	if opts.RecencyWeight > 0 {
		fetch = k * 2
	}
	raw, err := l.vec.search(vector, filter, fetch)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(raw))
	for _, r := range raw {
		hit, ok := l.lookup(r.id)
		if !ok {
			hit = Hit{ID: r.id}
		}
		hit.Score = 1 - r.distance
		hit.Distance = r.distance
		hits = append(hits, hit)
	}
	applyRecencyDecay(hits, opts)
	if len(hits) > k {
		hits = hits[:k]
	}
	minMaxNormalize(hits)
	return hits, nil
}

// DeleteDocument removes every chunk and image entry derived from the
// document.
func (e *Engine) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	const op = "searchindex.delete_document"

	for _, l := range []*logical{e.chunks, e.images} {
		ids := l.forget(documentID)
		for _, id := range ids {
			if err := l.lex.deleteDoc(id); err != nil {
				return fault.Wrapf(fault.KindTransient, op, err, "delete %s", id)
			}
		}
		l.vec.remove(ids)
		// Vector entries indexed without a lexical counterpart share ids, so
		// a second pass by document covers them.
		l.vec.remove(l.vec.byDocument(documentID))
	}
	return nil
}

// HydrateChunks resolves chunk entry ids back into full hits, preserving
// input order and dropping unknown ids. Entries are tenant-checked against
// userID.
func (e *Engine) HydrateChunks(userID uuid.UUID, ids []string) []Hit {
	e.chunks.mu.RLock()
	defer e.chunks.mu.RUnlock()

	hits := make([]Hit, 0, len(ids))
	for _, id := range ids {
		hit, ok := e.chunks.payload[id]
		if !ok {
			continue
		}
		if owner, ok := e.chunks.owner[id]; !ok || owner != userID {
			continue
		}
		hits = append(hits, hit)
	}
	return hits
}

// Counts returns live chunk and image entry counts.
func (e *Engine) Counts() (chunks int, images int) {
	e.chunks.mu.RLock()
	chunks = len(e.chunks.payload)
	e.chunks.mu.RUnlock()
	e.images.mu.RLock()
	images = len(e.images.payload)
	e.images.mu.RUnlock()
	return chunks, images
}

// Close releases both indexes.
func (e *Engine) Close() error {
	err := e.chunks.lex.close()
	if cerr := e.images.lex.close(); err == nil {
		err = cerr
	}
	return err
}
