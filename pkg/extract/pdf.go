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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/fault"
)

// pdfExtractor extracts text from PDF files.
//
// The primary pass reads structured plain text per page. When the output is
// sparse (image-heavy or badly encoded PDFs), a second pass reads raw text
// rows, which tolerates more damage at the cost of layout fidelity.
type pdfExtractor struct {
	minCharsPerPage int
}

func newPDFExtractor(cfg config.ExtractionConfig) *pdfExtractor {
	return &pdfExtractor{minCharsPerPage: cfg.PDFMinCharsPerPage}
}

func (e *pdfExtractor) CanExtract(sourceType string) bool {
	return sourceType == "pdf"
}

func (e *pdfExtractor) SourceTypes() []string {
	return []string{"pdf"}
}

func (e *pdfExtractor) Extract(ctx context.Context, filePath string) (*Result, error) {
	const op = "extract.pdf"

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fault.Wrapf(fault.KindNotFound, op, err, "stat file")
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fault.Wrapf(fault.KindTransient, op, err, "open file")
	}
	defer file.Close()

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return nil, fault.Wrapf(fault.KindValidation, op, err, "parse PDF")
	}

	pages, err := e.plainTextPages(ctx, reader)
	if err != nil {
		return nil, err
	}

	// Sparse output triggers the fallback pass.
	total := 0
	for _, p := range pages {
		total += len(p)
	}
	if len(pages) > 0 && total/len(pages) < e.minCharsPerPage {
		if fallback, ferr := e.rowTextPages(ctx, reader); ferr == nil {
			ftotal := 0
			for _, p := range fallback {
				ftotal += len(p)
			}
			if ftotal > total {
				pages = fallback
			}
		}
	}

	pages = StripRepeatingLines(pages, 3)

	return &Result{
		Text:  strings.Join(pages, "\n\n"),
		Title: strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath)),
		Metadata: map[string]string{
			"pages": fmt.Sprintf("%d", reader.NumPage()),
			"type":  "pdf",
		},
	}, nil
}

func (e *pdfExtractor) plainTextPages(ctx context.Context, reader *pdf.Reader) ([]string, error) {
	var pages []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}
	return pages, nil
}

// rowTextPages reads positioned text rows, joining them by vertical order.
func (e *pdfExtractor) rowTextPages(ctx context.Context, reader *pdf.Reader) ([]string, error) {
	var pages []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}

		var b strings.Builder
		for _, row := range rows {
			var words []string
			for _, word := range row.Content {
				if s := strings.TrimSpace(word.S); s != "" {
					words = append(words, s)
				}
			}
			if len(words) > 0 {
				b.WriteString(strings.Join(words, " "))
				b.WriteString("\n")
			}
		}
		if text := strings.TrimSpace(b.String()); text != "" {
			pages = append(pages, text)
		}
	}
	return pages, nil
}

var _ Extractor = (*pdfExtractor)(nil)
