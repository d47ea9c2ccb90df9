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
	"log/slog"

	"github.com/google/uuid"

	"github.com/kadirpekel/sage/pkg/cache"
	"github.com/kadirpekel/sage/pkg/fault"
	"github.com/kadirpekel/sage/pkg/searchindex"
)

// Reindex rebuilds search index entries from the metastore: one document,
// one space, or everything when both ids are nil. Returns the number of
// documents reindexed.
//
// Chunks without persisted embeddings are re-embedded when a text embedder
// is available; otherwise they index lexically only.
func (i *Ingestor) Reindex(ctx context.Context, documentID, spaceID uuid.UUID) (int, error) {
	const op = "ingest.reindex"

	if i.index == nil {
		return 0, fault.New(fault.KindValidation, op, "no search index configured")
	}

	docs, err := i.meta.DocumentsByScope(ctx, documentID, spaceID)
	if err != nil {
		return 0, err
	}
	if documentID != uuid.Nil && len(docs) == 0 {
		return 0, fault.New(fault.KindNotFound, op, "document %s not found", documentID)
	}

	reindexed := 0
	for _, doc := range docs {
		select {
		case <-ctx.Done():
			return reindexed, ctx.Err()
		default:
		}

		if err := i.reindexDocument(ctx, doc.ID); err != nil {
			slog.Warn("reindex failed for document", "document_id", doc.ID, "error", err)
			continue
		}
		reindexed++
	}

	slog.Info("reindex complete", "documents", reindexed, "of", len(docs))
	return reindexed, nil
}

func (i *Ingestor) reindexDocument(ctx context.Context, documentID uuid.UUID) error {
	docs, err := i.meta.DocumentsByScope(ctx, documentID, uuid.Nil)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fault.New(fault.KindNotFound, "ingest.reindex", "document %s not found", documentID)
	}
	doc := docs[0]

	chunks, err := i.meta.ChunksWithEmbeddings(ctx, documentID)
	if err != nil {
		return err
	}
	images, err := i.meta.ImageAssetsByDocument(ctx, documentID)
	if err != nil {
		return err
	}

	// Re-embed chunks whose vectors were not persisted.
	var missing []int
	var texts []string
	for idx, c := range chunks {
		if c.Embedding == nil {
			missing = append(missing, idx)
			texts = append(texts, c.Content)
		}
	}
	if len(missing) > 0 && i.textEmbedder != nil {
		var vectors [][]float32
		err := i.retryer.Do(ctx, "reindex_embed", func() error {
			var eerr error
			vectors, eerr = i.textEmbedder.EmbedBatch(ctx, texts)
			return eerr
		})
		if err != nil {
			slog.Warn("re-embedding failed, indexing lexically only",
				"document_id", documentID, "error", err)
		} else {
			for n, idx := range missing {
				chunks[idx].Embedding = vectors[n]
			}
		}
	}

	// Replace the document's entries wholesale.
	if err := i.index.DeleteDocument(ctx, documentID); err != nil {
		return err
	}

	title := doc.FileName
	if t, ok := doc.Metadata["title"].(string); ok && t != "" {
		title = t
	}

	chunkDocs := make([]searchindex.ChunkDoc, len(chunks))
	for idx, c := range chunks {
		chunkDocs[idx] = searchindex.ChunkDoc{
			DocumentID: doc.ID,
			ChunkIndex: c.ChunkIndex,
			Text:       c.Content,
			Title:      title,
			FileName:   doc.FileName,
			SourceType: doc.SourceType,
			UserID:     doc.UserID,
			SpaceID:    doc.SpaceID,
			CreatedAt:  doc.CreatedAt,
			Vector:     c.Embedding,
		}
	}
	for _, res := range i.index.BulkIndexChunks(ctx, chunkDocs) {
		if res.Err != nil {
			return res.Err
		}
	}

	imageDocs := make([]searchindex.ImageDoc, len(images))
	for idx, img := range images {
		imageDocs[idx] = searchindex.ImageDoc{
			AssetID:    img.ID,
			DocumentID: doc.ID,
			Caption:    img.Caption,
			OCRText:    img.OCRText,
			Tags:       img.Tags,
			FileName:   doc.FileName,
			UserID:     doc.UserID,
			SpaceID:    doc.SpaceID,
			CreatedAt:  img.CreatedAt,
			Vector:     img.Embedding,
		}
	}
	for _, res := range i.index.BulkIndexImages(ctx, imageDocs) {
		if res.Err != nil {
			return res.Err
		}
	}

	kinds := []cache.Kind{cache.KindText, cache.KindLLM}
	if len(images) > 0 {
		kinds = append(kinds, cache.KindImage)
	}
	i.cache.Bump(ctx, doc.UserID, doc.SpaceID, kinds...)
	return nil
}
