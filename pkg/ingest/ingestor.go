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

// Package ingest orchestrates the upload pipeline: blob storage, extraction,
// chunking, embedding, the authoritative metastore write and the best-effort
// search index dual-write.
package ingest

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/sage/pkg/blob"
	"github.com/kadirpekel/sage/pkg/cache"
	"github.com/kadirpekel/sage/pkg/chunker"
	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/embedders"
	"github.com/kadirpekel/sage/pkg/extract"
	"github.com/kadirpekel/sage/pkg/fault"
	"github.com/kadirpekel/sage/pkg/metastore"
	"github.com/kadirpekel/sage/pkg/searchindex"
)

// MetaWriter is the slice of the metastore the ingestor needs.
type MetaWriter interface {
	IngestDocument(ctx context.Context, doc *metastore.Document, chunks []metastore.Chunk, images []metastore.ImageAsset) error
	InsertActivity(ctx context.Context, userID uuid.UUID, kind metastore.ActivityKind, details map[string]any) error
	DocumentsByScope(ctx context.Context, documentID, spaceID uuid.UUID) ([]metastore.Document, error)
	ChunksWithEmbeddings(ctx context.Context, documentID uuid.UUID) ([]metastore.Chunk, error)
	ImageAssetsByDocument(ctx context.Context, documentID uuid.UUID) ([]metastore.ImageAsset, error)
	DeleteDocument(ctx context.Context, userID, documentID uuid.UUID) (*metastore.Document, error)
}

// Indexer is the slice of the search index the ingestor needs. Nil disables
// dual-writing.
type Indexer interface {
	BulkIndexChunks(ctx context.Context, docs []searchindex.ChunkDoc) []searchindex.BulkResult
	BulkIndexImages(ctx context.Context, docs []searchindex.ImageDoc) []searchindex.BulkResult
	DeleteDocument(ctx context.Context, documentID uuid.UUID) error
}

// Ingestor runs the upload pipeline. One Ingest call is sequential for its
// file; many calls may run concurrently, with extraction bounded by a worker
// semaphore.
type Ingestor struct {
	blobs         blob.Store
	extractor     *extract.Registry
	chunker       *chunker.RecursiveChunker
	textEmbedder  embedders.Embedder
	imageEmbedder embedders.Embedder
	meta          MetaWriter
	index         Indexer
	cache         *cache.Cache
	retryer       *Retryer

	spoolThreshold int64
	extractSlots   chan struct{}
}

// Options assembles an ingestor.
type Options struct {
	Blobs         blob.Store
	Extractor     *extract.Registry
	Chunker       *chunker.RecursiveChunker
	TextEmbedder  embedders.Embedder
	ImageEmbedder embedders.Embedder
	Meta          MetaWriter
	Index         Indexer
	Cache         *cache.Cache
	Retry         RetryConfig
	Extraction    config.ExtractionConfig

	// MaxConcurrentExtractions bounds CPU-bound parsing; defaults to NumCPU.
	MaxConcurrentExtractions int
}

// New creates an ingestor.
func New(opts Options) *Ingestor {
	slots := opts.MaxConcurrentExtractions
	if slots <= 0 {
		slots = runtime.NumCPU()
	}
	return &Ingestor{
		blobs:          opts.Blobs,
		extractor:      opts.Extractor,
		chunker:        opts.Chunker,
		textEmbedder:   opts.TextEmbedder,
		imageEmbedder:  opts.ImageEmbedder,
		meta:           opts.Meta,
		index:          opts.Index,
		cache:          opts.Cache,
		retryer:        NewRetryer(opts.Retry),
		spoolThreshold: opts.Extraction.SpoolThresholdBytes,
		extractSlots:   make(chan struct{}, slots),
	}
}

// UploadInput is one file to ingest.
type UploadInput struct {
	UserID     uuid.UUID
	SpaceID    uuid.UUID
	OwnerEmail string
	FileName   string
	SourceType string
	Content    io.Reader
}

// UploadResult reports a completed ingestion.
type UploadResult struct {
	DocumentID uuid.UUID `json:"document_id"`
	NumChunks  int       `json:"num_chunks"`
	NumImages  int       `json:"num_images,omitempty"`
	FileName   string    `json:"file_name"`
	BlobURL    string    `json:"blob_url,omitempty"`
}

// Ingest runs the full pipeline for one file.
func (i *Ingestor) Ingest(ctx context.Context, in UploadInput) (*UploadResult, error) {
	const op = "ingest.ingest"
	start := time.Now()

	spooled, err := Spool(in.Content, i.spoolThreshold, in.FileName)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, op, err)
	}
	defer spooled.Close()

	// Step 1: persist the original binary.
	var blobURL string
	err = i.retryer.Do(ctx, "blob_put", func() error {
		reader, rerr := spooled.Reader()
		if rerr != nil {
			return fault.Wrap(fault.KindTransient, op, rerr)
		}
		defer reader.Close()
		_, blobURL, rerr = i.blobs.Put(ctx, in.OwnerEmail, in.FileName, reader)
		return rerr
	})
	if err != nil {
		return nil, err
	}

	// Step 2: extract and normalize; CPU-bound, bounded by the semaphore.
	sourceType := extract.ResolveSourceType(in.SourceType, in.FileName)
	path, err := spooled.Path(in.FileName)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, op, err)
	}

	select {
	case i.extractSlots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	extracted, err := i.extractor.Extract(ctx, sourceType, path)
	<-i.extractSlots
	if err != nil {
		return nil, err
	}

	// Step 3: chunk and embed.
	pieces := i.chunker.Chunk(extracted.Text)
	texts := make([]string, len(pieces))
	for idx, p := range pieces {
		texts[idx] = p.Content
	}

	var vectors [][]float32
	if len(texts) > 0 {
		err = i.retryer.Do(ctx, "embed_chunks", func() error {
			var eerr error
			vectors, eerr = i.textEmbedder.EmbedBatch(ctx, texts)
			return eerr
		})
		if err != nil {
			return nil, err
		}
	}

	imageVectors := i.embedImages(ctx, extracted.Images)

	// Step 4: single transaction into the metastore.
	now := time.Now().UTC()
	doc := &metastore.Document{
		ID:         uuid.New(),
		UserID:     in.UserID,
		SpaceID:    in.SpaceID,
		SourceType: sourceType,
		FileName:   in.FileName,
		BlobURL:    blobURL,
		Metadata:   documentMetadata(extracted),
		CreatedAt:  now,
	}

	chunks := make([]metastore.Chunk, len(pieces))
	for idx, p := range pieces {
		chunks[idx] = metastore.Chunk{
			ID:         uuid.New(),
			DocumentID: doc.ID,
			ChunkIndex: p.Index,
			Content:    p.Content,
			Embedding:  vectors[idx],
			CharCount:  p.CharCount,
			CreatedAt:  now,
		}
	}

	images := make([]metastore.ImageAsset, len(extracted.Images))
	for idx, img := range extracted.Images {
		images[idx] = metastore.ImageAsset{
			ID:            uuid.New(),
			DocumentID:    doc.ID,
			UserID:        in.UserID,
			FilePath:      img.FilePath,
			ThumbnailPath: img.ThumbnailPath,
			Caption:       img.Caption,
			OCRText:       img.OCRText,
			Tags:          img.Tags,
			Embedding:     imageVectors[idx],
			NativeWidth:   img.Width,
			NativeHeight:  img.Height,
			CreatedAt:     now,
		}
	}

	if err := i.meta.IngestDocument(ctx, doc, chunks, images); err != nil {
		return nil, err
	}

	// Step 5: best-effort dual-write; the metastore stays authoritative and
	// reindex recovers any miss.
	i.dualWrite(ctx, doc, chunks, vectors, images)

	// Step 6: invalidate tenant caches.
	kinds := []cache.Kind{cache.KindText, cache.KindLLM}
	if len(images) > 0 {
		kinds = append(kinds, cache.KindImage)
	}
	i.cache.Bump(ctx, in.UserID, in.SpaceID, kinds...)

	// Step 7: audit trail.
	if err := i.meta.InsertActivity(ctx, in.UserID, metastore.ActivityUpload, map[string]any{
		"document_id": doc.ID.String(),
		"file_name":   in.FileName,
		"num_chunks":  len(chunks),
		"num_images":  len(images),
	}); err != nil {
		slog.Warn("failed to record upload activity", "document_id", doc.ID, "error", err)
	}

	slog.Info("document ingested",
		"document_id", doc.ID,
		"file_name", in.FileName,
		"chunks", len(chunks),
		"images", len(images),
		"elapsed", time.Since(start))

	return &UploadResult{
		DocumentID: doc.ID,
		NumChunks:  len(chunks),
		NumImages:  len(images),
		FileName:   in.FileName,
		BlobURL:    blobURL,
	}, nil
}

// embedImages batch-embeds image captions+OCR when an image embedder is
// configured. Failures disable vectors for this batch only.
func (i *Ingestor) embedImages(ctx context.Context, images []extract.ImageAsset) [][]float32 {
	vectors := make([][]float32, len(images))
	if i.imageEmbedder == nil || len(images) == 0 {
		return vectors
	}

	texts := make([]string, len(images))
	for idx, img := range images {
		texts[idx] = img.Caption + "\n" + img.OCRText
	}

	var embedded [][]float32
	err := i.retryer.Do(ctx, "embed_images", func() error {
		var eerr error
		embedded, eerr = i.imageEmbedder.EmbedBatch(ctx, texts)
		return eerr
	})
	if err != nil {
		slog.Warn("image embedding failed, indexing without vectors", "error", err)
		return vectors
	}
	return embedded
}

// dualWrite pushes the document into the search index, logging failures
// instead of rolling back.
func (i *Ingestor) dualWrite(ctx context.Context, doc *metastore.Document, chunks []metastore.Chunk, vectors [][]float32, images []metastore.ImageAsset) {
	if i.index == nil {
		return
	}

	title := doc.FileName
	if t, ok := doc.Metadata["title"].(string); ok && t != "" {
		title = t
	}

	chunkDocs := make([]searchindex.ChunkDoc, len(chunks))
	for idx, c := range chunks {
		var vec []float32
		if idx < len(vectors) {
			vec = vectors[idx]
		}
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
			Vector:     vec,
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

	err := i.retryer.Do(ctx, "index_dual_write", func() error {
		for _, res := range i.index.BulkIndexChunks(ctx, chunkDocs) {
			if res.Err != nil {
				return res.Err
			}
		}
		for _, res := range i.index.BulkIndexImages(ctx, imageDocs) {
			if res.Err != nil {
				return res.Err
			}
		}
		return nil
	})
	if err != nil {
		slog.Warn("search index dual-write failed; reindex will recover",
			"document_id", doc.ID, "error", err)
	}
}

// documentMetadata lifts well-known extraction outputs onto the document.
func documentMetadata(res *extract.Result) map[string]any {
	meta := map[string]any{}
	if res.Title != "" {
		meta["title"] = res.Title
	}
	for k, v := range res.Metadata {
		if v != "" {
			meta[k] = v
		}
	}
	if len(res.Images) > 0 {
		img := res.Images[0]
		if img.Caption != "" {
			meta["image_caption"] = img.Caption
			meta["image_caption_source"] = img.CaptionSource
		}
		if img.OCRText != "" {
			meta["image_ocr_text"] = img.OCRText
		}
		if img.ThumbnailPath != "" {
			meta["thumbnail_url"] = img.ThumbnailPath
		}
	}
	return meta
}

// Delete removes a document everywhere: metastore (cascading), search index
// and tenant caches.
func (i *Ingestor) Delete(ctx context.Context, userID, documentID uuid.UUID) (*metastore.Document, error) {
	doc, err := i.meta.DeleteDocument(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}

	if i.index != nil {
		if err := i.index.DeleteDocument(ctx, documentID); err != nil {
			slog.Warn("search index delete failed; reindex will recover",
				"document_id", documentID, "error", err)
		}
	}

	i.cache.Bump(ctx, doc.UserID, doc.SpaceID, cache.KindText, cache.KindImage, cache.KindLLM)

	if err := i.meta.InsertActivity(ctx, userID, metastore.ActivityDeleteDoc, map[string]any{
		"document_id": documentID.String(),
		"file_name":   doc.FileName,
	}); err != nil {
		slog.Warn("failed to record delete activity", "document_id", documentID, "error", err)
	}
	return doc, nil
}
