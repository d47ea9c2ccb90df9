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

package metastore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/fault"
)

// ChunkHit is one retrieval result when the metastore serves search.
type ChunkHit struct {
	DocumentID uuid.UUID
	ChunkIndex int
	Content    string
	FileName   string
	SourceType string
	CreatedAt  time.Time

	// Score is the raw backend score; callers normalize per call.
	Score float64

	// Distance is the cosine distance for semantic hits.
	Distance float64
}

// LexicalSearch ranks chunks with ts_rank over the generated lexical column,
// boosting file name and title matches.
func (s *Store) LexicalSearch(ctx context.Context, userID, spaceID uuid.UUID, query string, k int, boosts config.BM25Boosts) ([]ChunkHit, error) {
	const op = "metastore.lexical_search"

	if userID == uuid.Nil {
		return nil, fault.New(fault.KindForbidden, op, "user filter is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sql := `
SELECT c.document_id, c.chunk_index, c.content, d.file_name, d.source_type, c.created_at,
	ts_rank(c.content_tsv, q) * $4
	+ ts_rank(to_tsvector($5, d.file_name), q) * $6
	+ ts_rank(to_tsvector($5, COALESCE(d.metadata->>'title', '')), q) * $7 AS score
FROM chunks c
JOIN documents d ON d.id = c.document_id,
	websearch_to_tsquery($5, $1) q
WHERE d.user_id = $2
	AND ($3::uuid IS NULL OR d.space_id = $3)
	AND (c.content_tsv @@ q
		OR to_tsvector($5, d.file_name) @@ q
		OR to_tsvector($5, COALESCE(d.metadata->>'title', '')) @@ q)
ORDER BY score DESC
LIMIT $8`

	var space any
	if spaceID != uuid.Nil {
		space = spaceID
	}

	rows, err := s.pool.Query(ctx, sql, query, userID, space,
		boosts.Text, s.cfg.TextSearchConfig, boosts.FileName, boosts.Title, k)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var hits []ChunkHit
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.DocumentID, &h.ChunkIndex, &h.Content, &h.FileName,
			&h.SourceType, &h.CreatedAt, &h.Score); err != nil {
			return nil, classify(op, err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return hits, nil
}

// SemanticSearch runs cosine KNN over persisted chunk embeddings. Requires
// persist_embeddings.
func (s *Store) SemanticSearch(ctx context.Context, userID, spaceID uuid.UUID, vector []float32, k int) ([]ChunkHit, error) {
	const op = "metastore.semantic_search"

	if userID == uuid.Nil {
		return nil, fault.New(fault.KindForbidden, op, "user filter is required")
	}
	if !s.cfg.PersistEmbeddings {
		return nil, fault.New(fault.KindValidation, op,
			"semantic search over the metastore requires persist_embeddings")
	}
	if len(vector) != s.textDim {
		return nil, fault.New(fault.KindValidation, op,
			"query dimension mismatch: expected %d, got %d", s.textDim, len(vector))
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
SELECT c.document_id, c.chunk_index, c.content, d.file_name, d.source_type, c.created_at,
	1 - (c.embedding <=> $1) AS score,
	c.embedding <=> $1 AS distance
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE d.user_id = $2
	AND ($3::uuid IS NULL OR d.space_id = $3)
	AND c.embedding IS NOT NULL
ORDER BY c.embedding <=> $1
LIMIT $4`, pgvector.NewVector(vector), userID, nullableUUID(spaceID), k)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var hits []ChunkHit
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.DocumentID, &h.ChunkIndex, &h.Content, &h.FileName,
			&h.SourceType, &h.CreatedAt, &h.Score, &h.Distance); err != nil {
			return nil, classify(op, err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return hits, nil
}

// DocumentsByScope returns documents for reindexing: one document, one
// space, or everything when both ids are nil.
func (s *Store) DocumentsByScope(ctx context.Context, documentID, spaceID uuid.UUID) ([]Document, error) {
	const op = "metastore.documents_by_scope"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, space_id, source_type, file_name, COALESCE(blob_url, ''), metadata, created_at
FROM documents
WHERE ($1::uuid IS NULL OR id = $1)
	AND ($2::uuid IS NULL OR space_id = $2)
ORDER BY created_at ASC`, nullableUUID(documentID), nullableUUID(spaceID))
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.UserID, &doc.SpaceID, &doc.SourceType,
			&doc.FileName, &doc.BlobURL, &doc.Metadata, &doc.CreatedAt); err != nil {
			return nil, classify(op, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return docs, nil
}

// ChunksWithEmbeddings returns a document's chunks including persisted
// embeddings. Embeddings are nil when not persisted.
func (s *Store) ChunksWithEmbeddings(ctx context.Context, documentID uuid.UUID) ([]Chunk, error) {
	const op = "metastore.chunks_with_embeddings"

	if !s.cfg.PersistEmbeddings {
		return s.ChunksByDocument(ctx, documentID)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
SELECT id, document_id, chunk_index, content, embedding, char_count, created_at
FROM chunks WHERE document_id = $1 ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var emb *pgvector.Vector
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &emb, &c.CharCount, &c.CreatedAt); err != nil {
			return nil, classify(op, err)
		}
		if emb != nil {
			c.Embedding = emb.Slice()
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return chunks, nil
}

// ChunksByKeys resolves (document_id, chunk_index) pairs into hits, scoped
// to the owner and preserving input order. Unknown pairs are dropped.
func (s *Store) ChunksByKeys(ctx context.Context, userID uuid.UUID, docIDs []uuid.UUID, indexes []int) ([]ChunkHit, error) {
	const op = "metastore.chunks_by_keys"

	if len(docIDs) != len(indexes) {
		return nil, fault.New(fault.KindInternal, op, "key arrays disagree: %d vs %d", len(docIDs), len(indexes))
	}
	if len(docIDs) == 0 {
		return nil, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
SELECT c.document_id, c.chunk_index, c.content, d.file_name, d.source_type, c.created_at
FROM chunks c
JOIN documents d ON d.id = c.document_id
JOIN unnest($2::uuid[], $3::int[]) AS k(doc_id, idx)
	ON k.doc_id = c.document_id AND k.idx = c.chunk_index
WHERE d.user_id = $1`, userID, docIDs, indexes)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	found := make(map[[2]any]ChunkHit)
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.DocumentID, &h.ChunkIndex, &h.Content, &h.FileName, &h.SourceType, &h.CreatedAt); err != nil {
			return nil, classify(op, err)
		}
		found[[2]any{h.DocumentID, h.ChunkIndex}] = h
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}

	hits := make([]ChunkHit, 0, len(docIDs))
	for i := range docIDs {
		if h, ok := found[[2]any{docIDs[i], indexes[i]}]; ok {
			hits = append(hits, h)
		}
	}
	return hits, nil
}

func nullableUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
