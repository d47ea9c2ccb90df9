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

// Package metastore is the authoritative relational store.
//
// Postgres holds users, spaces, documents, chunks, image assets, research
// sessions and the activity log. The search index is derived from this data
// and can always be rebuilt from it.
package metastore

import (
	"time"

	"github.com/google/uuid"
)

// User is an account created by the auth gateway.
type User struct {
	ID          uuid.UUID
	Email       string
	PWHash      string
	CreatedAt   time.Time
	LastLoginAt *time.Time
}

// Space is a private collection of documents owned by one user.
type Space struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Name      string
	IsDefault bool
	CreatedAt time.Time
}

// Document is one uploaded file.
type Document struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	SpaceID    uuid.UUID
	SourceType string
	FileName   string
	BlobURL    string

	// Metadata is an open key-value map. Well-known keys: image_caption,
	// image_caption_source, image_ocr_text, thumbnail_url, storage_backend.
	Metadata map[string]any

	CreatedAt time.Time
}

// Chunk is one contiguous slice of a document's normalized text.
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	ChunkIndex int
	Content    string

	// Embedding is only populated when embeddings are persisted here.
	Embedding []float32

	CharCount int
	CreatedAt time.Time
}

// ImageAsset is one extracted image with derived annotations.
type ImageAsset struct {
	ID            uuid.UUID
	DocumentID    uuid.UUID
	UserID        uuid.UUID
	FilePath      string
	ThumbnailPath string
	Caption       string
	OCRText       string
	Tags          []string
	Embedding     []float32
	NativeWidth   int
	NativeHeight  int
	CreatedAt     time.Time
}

// ResearchMessage is one turn in a research conversation.
type ResearchMessage struct {
	Role         string      `json:"role"`
	Text         string      `json:"text"`
	References   []Reference `json:"references,omitempty"`
	Confidence   float64     `json:"confidence,omitempty"`
	Elapsed      float64     `json:"elapsed_seconds,omitempty"`
	WebAttempted bool        `json:"web_attempted,omitempty"`
	Followups    []string    `json:"followup_questions,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Reference points at a piece of evidence used in an answer.
type Reference struct {
	// Source: local, web or url.
	Source     string    `json:"source"`
	DocumentID uuid.UUID `json:"document_id,omitempty"`
	ChunkIndex int       `json:"chunk_index,omitempty"`
	FileName   string    `json:"file_name,omitempty"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Score      float64   `json:"score,omitempty"`
}

// ResearchSession is a persisted research conversation.
type ResearchSession struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	SpaceID         uuid.UUID
	Title           string
	Messages        []ResearchMessage
	NotebookEntries []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ActivityKind enumerates logged user actions.
type ActivityKind string

const (
	ActivityUpload       ActivityKind = "upload"
	ActivitySearch       ActivityKind = "search"
	ActivityDeepResearch ActivityKind = "deep_research"
	ActivityDeleteDoc    ActivityKind = "delete_doc"
)

// Activity is one audit-log entry.
type Activity struct {
	ID      uuid.UUID
	UserID  uuid.UUID
	Kind    ActivityKind
	Details map[string]any
	TS      time.Time
}
