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

package extract

import (
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kadirpekel/sage/pkg/config"
)

// Captioner produces a one-line description of an image from its derived
// signals. The primary model is tried first; on timeout or failure the small
// model takes over and the source is marked "fallback".
type Captioner interface {
	// Caption returns the caption text. small selects the fallback model.
	Caption(ctx context.Context, fileName, ocrText string, small bool) (string, error)
}

// OCR extracts text from an image file.
type OCR interface {
	Text(ctx context.Context, imagePath string) (string, error)
}

// imageExtractor turns an image file into a searchable asset: OCR text, a
// caption, and simple visual tags.
type imageExtractor struct {
	captionTimeout time.Duration
	captioner      Captioner
	ocr            OCR
	ocrEnabled     bool
}

func newImageExtractor(cfg config.ExtractionConfig, captioner Captioner, ocr OCR) *imageExtractor {
	return &imageExtractor{
		captionTimeout: time.Duration(cfg.CaptionTimeoutSeconds) * time.Second,
		captioner:      captioner,
		ocr:            ocr,
		ocrEnabled:     cfg.OCREnabled && ocr != nil,
	}
}

func (e *imageExtractor) CanExtract(sourceType string) bool {
	return sourceType == "image"
}

func (e *imageExtractor) SourceTypes() []string {
	return []string{"image"}
}

func (e *imageExtractor) Extract(ctx context.Context, filePath string) (*Result, error) {
	asset := ImageAsset{FilePath: filePath}

	if cfg, err := decodeConfig(filePath); err == nil {
		asset.Width = cfg.Width
		asset.Height = cfg.Height
	}

	if e.ocrEnabled {
		text, err := e.ocr.Text(ctx, filePath)
		if err != nil {
			slog.Warn("OCR failed", "file", filePath, "error", err)
		} else {
			asset.OCRText = NormalizeText(text)
		}
	}

	asset.Caption, asset.CaptionSource = e.caption(ctx, filePath, asset.OCRText)
	asset.Tags = VisualTags(filePath, asset.OCRText, asset.Width, asset.Height)

	// The asset's searchable text doubles as the document text so plain
	// search finds images too.
	var parts []string
	if asset.Caption != "" {
		parts = append(parts, asset.Caption)
	}
	if asset.OCRText != "" {
		parts = append(parts, asset.OCRText)
	}

	return &Result{
		Text:   strings.Join(parts, "\n\n"),
		Title:  strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath)),
		Images: []ImageAsset{asset},
		Metadata: map[string]string{
			"type":                 "image",
			"image_caption":        asset.Caption,
			"image_caption_source": asset.CaptionSource,
			"image_ocr_text":       asset.OCRText,
		},
	}, nil
}

// caption tries the primary model under a timeout, then the small model.
func (e *imageExtractor) caption(ctx context.Context, filePath, ocrText string) (string, string) {
	if e.captioner == nil {
		return "", ""
	}
	fileName := filepath.Base(filePath)

	primaryCtx, cancel := context.WithTimeout(ctx, e.captionTimeout)
	defer cancel()
	caption, err := e.captioner.Caption(primaryCtx, fileName, ocrText, false)
	if err == nil && strings.TrimSpace(caption) != "" {
		return strings.TrimSpace(caption), "primary"
	}
	if err != nil {
		slog.Warn("primary caption failed, falling back", "file", fileName, "error", err)
	}

	caption, err = e.captioner.Caption(ctx, fileName, ocrText, true)
	if err != nil || strings.TrimSpace(caption) == "" {
		return "", ""
	}
	return strings.TrimSpace(caption), "fallback"
}

func decodeConfig(filePath string) (image.Config, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	return cfg, err
}

var numericNoise = regexp.MustCompile(`^[\d\W]+$`)

// VisualTags derives simple tags: orientation, dominant color, filename
// tokens and OCR tokens after numeric-noise filtering.
func VisualTags(filePath, ocrText string, width, height int) []string {
	seen := make(map[string]bool)
	var tags []string
	add := func(tag string) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || len(tag) < 3 || seen[tag] || numericNoise.MatchString(tag) {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	switch {
	case width > 0 && height > 0 && width > height:
		add("landscape")
	case width > 0 && height > 0 && height > width:
		add("portrait")
	case width > 0 && width == height:
		add("square")
	}

	if color := dominantColorName(filePath); color != "" {
		add(color)
	}

	base := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	for _, tok := range splitTokens(base) {
		add(tok)
	}

	ocrTokens := splitTokens(ocrText)
	if len(ocrTokens) > 8 {
		ocrTokens = ocrTokens[:8]
	}
	for _, tok := range ocrTokens {
		add(tok)
	}

	return tags
}

func splitTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('A' <= r && r <= 'Z') && !('0' <= r && r <= '9')
	})
}

// dominantColorName samples the image and buckets the average into a coarse
// color name.
func dominantColorName(filePath string) string {
	f, err := os.Open(filePath)
	if err != nil {
		return ""
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return ""
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return ""
	}

	stepX := bounds.Dx() / 16
	stepY := bounds.Dy() / 16
	if stepX < 1 {
		stepX = 1
	}
	if stepY < 1 {
		stepY = 1
	}

	var r, g, b, n uint64
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			pr, pg, pb, _ := img.At(x, y).RGBA()
			r += uint64(pr >> 8)
			g += uint64(pg >> 8)
			b += uint64(pb >> 8)
			n++
		}
	}
	if n == 0 {
		return ""
	}
	return colorName(uint8(r/n), uint8(g/n), uint8(b/n))
}

func colorName(r, g, b uint8) string {
	switch {
	case r > 200 && g > 200 && b > 200:
		return "white"
	case r < 60 && g < 60 && b < 60:
		return "black"
	case r > g+40 && r > b+40:
		return "red"
	case g > r+40 && g > b+40:
		return "green"
	case b > r+40 && b > g+40:
		return "blue"
	case r > 150 && g > 150 && b < 100:
		return "yellow"
	default:
		return "gray"
	}
}

var _ Extractor = (*imageExtractor)(nil)
