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

// Package extract turns uploaded files into normalized text, tables and
// image assets.
//
// Extraction dispatches on the declared source type, falling back to the
// file extension. Unsupported media (audio, video) are rejected up front.
package extract

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/fault"
)

// ImageAsset is an image discovered during extraction, with derived
// annotations.
type ImageAsset struct {
	FilePath      string
	ThumbnailPath string
	Caption       string

	// CaptionSource: "primary" when the large model produced the caption,
	// "fallback" when the small model did after a timeout or failure.
	CaptionSource string

	OCRText string
	Tags    []string
	Width   int
	Height  int
}

// Result is the outcome of extracting one file.
type Result struct {
	// Text is the normalized document text.
	Text string

	// Title when the format carries one.
	Title string

	Images []ImageAsset

	// Tables carries flattened table rows for formats that distinguish them.
	Tables [][]string

	// Metadata holds format-specific details (page count, sheet count, ...).
	Metadata map[string]string
}

// Extractor handles one family of source types.
type Extractor interface {
	// CanExtract reports whether this extractor handles the source type.
	CanExtract(sourceType string) bool

	// Extract reads the file and produces a normalized result.
	Extract(ctx context.Context, filePath string) (*Result, error)

	// SourceTypes lists the handled types.
	SourceTypes() []string
}

// rejectedTypes are recognized but unsupported in this core.
var rejectedTypes = map[string]bool{
	"audio": true, "video": true,
	"mp3": true, "wav": true, "mp4": true, "avi": true, "mov": true, "mkv": true,
}

// extToType maps file extensions to canonical source types.
var extToType = map[string]string{
	".pdf":  "pdf",
	".html": "html", ".htm": "html",
	".docx": "docx",
	".pptx": "pptx",
	".xlsx": "xlsx",
	".csv":  "csv",
	".json": "json",
	".md":   "md", ".markdown": "md",
	".txt": "txt",
	".png": "image", ".jpg": "image", ".jpeg": "image", ".gif": "image",
	".bmp": "image", ".webp": "image", ".tiff": "image",
	".mp3": "audio", ".wav": "audio",
	".mp4": "video", ".avi": "video", ".mov": "video", ".mkv": "video",
}

// ResolveSourceType returns the canonical type for a declared type or file
// name.
func ResolveSourceType(declared, fileName string) string {
	if declared != "" {
		return strings.ToLower(declared)
	}
	if t, ok := extToType[strings.ToLower(filepath.Ext(fileName))]; ok {
		return t
	}
	return "txt"
}

// Registry dispatches extraction by source type.
type Registry struct {
	extractors []Extractor
}

// NewRegistry builds the registry with all built-in extractors. The captioner
// may be nil, disabling image captioning; ocr may be nil, disabling OCR.
func NewRegistry(cfg config.ExtractionConfig, captioner Captioner, ocr OCR) *Registry {
	return &Registry{
		extractors: []Extractor{
			newPDFExtractor(cfg),
			newHTMLExtractor(),
			newOfficeExtractor(),
			newTextExtractor(),
			newImageExtractor(cfg, captioner, ocr),
		},
	}
}

// Extract dispatches to the extractor for the resolved source type.
func (r *Registry) Extract(ctx context.Context, sourceType, filePath string) (*Result, error) {
	const op = "extract.dispatch"

	st := ResolveSourceType(sourceType, filePath)
	if rejectedTypes[st] {
		return nil, fault.New(fault.KindUnsupported, op, "unsupported file type: %s", st)
	}

	for _, e := range r.extractors {
		if e.CanExtract(st) {
			res, err := e.Extract(ctx, filePath)
			if err != nil {
				return nil, err
			}
			res.Text = NormalizeText(res.Text)
			if res.Metadata == nil {
				res.Metadata = make(map[string]string)
			}
			return res, nil
		}
	}
	return nil, fault.New(fault.KindUnsupported, op, "unsupported file type: %s", st)
}

// SupportedTypes lists every type the registry handles.
func (r *Registry) SupportedTypes() []string {
	var types []string
	for _, e := range r.extractors {
		types = append(types, e.SourceTypes()...)
	}
	return types
}
