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
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/kadirpekel/sage/pkg/fault"
)

// IngestDocument writes one document with its chunks and image assets in a
// single transaction. Observers see either no chunks or all chunks, in
// ascending chunk_index order.
func (s *Store) IngestDocument(ctx context.Context, doc *Document, chunks []Chunk, images []ImageAsset) error {
	const op = "metastore.ingest_document"

	for i := range chunks {
		if chunks[i].ChunkIndex != i {
			return fault.New(fault.KindInternal, op,
				"chunk_index gap: position %d carries index %d", i, chunks[i].ChunkIndex)
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(op, err)
	}
	defer tx.Rollback(ctx)

	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO documents (id, user_id, space_id, source_type, file_name, blob_url, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID, doc.UserID, doc.SpaceID, doc.SourceType, doc.FileName, doc.BlobURL,
		doc.Metadata, doc.CreatedAt); err != nil {
		return classify(op, err)
	}

	if err := s.insertChunksTx(ctx, tx, doc.ID, chunks); err != nil {
		return err
	}

	for i := range images {
		if err := s.insertImageAssetTx(ctx, tx, doc, &images[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(op, err)
	}
	return nil
}

func (s *Store) insertChunksTx(ctx context.Context, tx pgx.Tx, documentID uuid.UUID, chunks []Chunk) error {
	const op = "metastore.insert_chunks"

	for i := range chunks {
		c := &chunks[i]
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}

		if s.cfg.PersistEmbeddings {
			var emb any
			if c.Embedding != nil {
				if len(c.Embedding) != s.textDim {
					return fault.New(fault.KindValidation, op,
						"embedding dimension mismatch: expected %d, got %d", s.textDim, len(c.Embedding))
				}
				emb = pgvector.NewVector(c.Embedding)
			}
			if _, err := tx.Exec(ctx, `
INSERT INTO chunks (id, document_id, chunk_index, content, embedding, char_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				c.ID, documentID, c.ChunkIndex, c.Content, emb, c.CharCount, c.CreatedAt); err != nil {
				return classify(op, err)
			}
			continue
		}

		if _, err := tx.Exec(ctx, `
INSERT INTO chunks (id, document_id, chunk_index, content, char_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ID, documentID, c.ChunkIndex, c.Content, c.CharCount, c.CreatedAt); err != nil {
			return classify(op, err)
		}
	}
	return nil
}

func (s *Store) insertImageAssetTx(ctx context.Context, tx pgx.Tx, doc *Document, a *ImageAsset) error {
	const op = "metastore.insert_image_asset"

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.DocumentID = doc.ID
	a.UserID = doc.UserID

	var emb any
	if a.Embedding != nil {
		if len(a.Embedding) != s.imageDim {
			return fault.New(fault.KindValidation, op,
				"embedding dimension mismatch: expected %d, got %d", s.imageDim, len(a.Embedding))
		}
		emb = pgvector.NewVector(a.Embedding)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO image_assets
	(id, document_id, user_id, file_path, thumbnail_path, caption, ocr_text, tags, embedding, native_width, native_height, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.DocumentID, a.UserID, a.FilePath, a.ThumbnailPath, a.Caption, a.OCRText,
		a.Tags, emb, a.NativeWidth, a.NativeHeight, a.CreatedAt); err != nil {
		return classify(op, err)
	}
	return nil
}

// GetDocument returns a document scoped to its owner.
func (s *Store) GetDocument(ctx context.Context, userID, documentID uuid.UUID) (*Document, error) {
	const op = "metastore.get_document"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc Document
	err := s.pool.QueryRow(ctx, `
SELECT id, user_id, space_id, source_type, file_name, COALESCE(blob_url, ''), metadata, created_at
FROM documents WHERE id = $1 AND user_id = $2`,
		documentID, userID).Scan(
		&doc.ID, &doc.UserID, &doc.SpaceID, &doc.SourceType, &doc.FileName,
		&doc.BlobURL, &doc.Metadata, &doc.CreatedAt)
	if err != nil {
		return nil, classify(op, err)
	}
	return &doc, nil
}

// ListDocuments returns documents for a tenant, newest first.
func (s *Store) ListDocuments(ctx context.Context, userID uuid.UUID, spaceID uuid.UUID, limit, offset int) ([]Document, int, error) {
	const op = "metastore.list_documents"

	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var total int
	countQuery := `SELECT COUNT(*) FROM documents WHERE user_id = $1`
	args := []any{userID}
	if spaceID != uuid.Nil {
		countQuery += ` AND space_id = $2`
		args = append(args, spaceID)
	}
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, classify(op, err)
	}

	query := `
SELECT id, user_id, space_id, source_type, file_name, COALESCE(blob_url, ''), metadata, created_at
FROM documents WHERE user_id = $1`
	args = []any{userID}
	if spaceID != uuid.Nil {
		query += ` AND space_id = $2`
		args = append(args, spaceID)
	}
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, classify(op, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.UserID, &doc.SpaceID, &doc.SourceType,
			&doc.FileName, &doc.BlobURL, &doc.Metadata, &doc.CreatedAt); err != nil {
			return nil, 0, classify(op, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(op, err)
	}
	return docs, total, nil
}

// DeleteDocument removes a document; chunks and image assets cascade.
func (s *Store) DeleteDocument(ctx context.Context, userID, documentID uuid.UUID) (*Document, error) {
	const op = "metastore.delete_document"

	doc, err := s.GetDocument(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND user_id = $2`, documentID, userID)
	if err != nil {
		return nil, classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fault.New(fault.KindNotFound, op, "document %s not found", documentID)
	}
	return doc, nil
}

// ChunksByDocument returns a document's chunks in ascending chunk_index.
func (s *Store) ChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]Chunk, error) {
	const op = "metastore.chunks_by_document"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
SELECT id, document_id, chunk_index, content, char_count, created_at
FROM chunks WHERE document_id = $1 ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.CharCount, &c.CreatedAt); err != nil {
			return nil, classify(op, err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return chunks, nil
}

// ImageAssetsByDocument returns a document's image assets.
func (s *Store) ImageAssetsByDocument(ctx context.Context, documentID uuid.UUID) ([]ImageAsset, error) {
	const op = "metastore.image_assets_by_document"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
SELECT id, document_id, user_id, file_path, COALESCE(thumbnail_path, ''), COALESCE(caption, ''),
	COALESCE(ocr_text, ''), tags, embedding, COALESCE(native_width, 0), COALESCE(native_height, 0), created_at
FROM image_assets WHERE document_id = $1 ORDER BY created_at ASC`, documentID)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var assets []ImageAsset
	for rows.Next() {
		var a ImageAsset
		var emb *pgvector.Vector
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.UserID, &a.FilePath, &a.ThumbnailPath,
			&a.Caption, &a.OCRText, &a.Tags, &emb, &a.NativeWidth, &a.NativeHeight, &a.CreatedAt); err != nil {
			return nil, classify(op, err)
		}
		if emb != nil {
			a.Embedding = emb.Slice()
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return assets, nil
}
