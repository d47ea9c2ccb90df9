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
	"archive/zip"
	"context"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/kadirpekel/sage/pkg/fault"
)

// officeExtractor handles DOCX, PPTX, XLSX and CSV.
type officeExtractor struct{}

func newOfficeExtractor() *officeExtractor {
	return &officeExtractor{}
}

func (e *officeExtractor) CanExtract(sourceType string) bool {
	switch sourceType {
	case "docx", "pptx", "xlsx", "csv":
		return true
	}
	return false
}

func (e *officeExtractor) SourceTypes() []string {
	return []string{"docx", "pptx", "xlsx", "csv"}
}

func (e *officeExtractor) Extract(ctx context.Context, filePath string) (*Result, error) {
	switch ResolveSourceType("", filePath) {
	case "docx":
		return e.extractDocx(filePath)
	case "pptx":
		return e.extractPptx(filePath)
	case "xlsx":
		return e.extractXlsx(ctx, filePath)
	case "csv":
		return e.extractCSV(filePath)
	}
	return nil, fault.New(fault.KindUnsupported, "extract.office",
		"unsupported office format: %s", filepath.Ext(filePath))
}

func (e *officeExtractor) extractDocx(filePath string) (*Result, error) {
	const op = "extract.docx"

	doc, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, fault.Wrapf(fault.KindValidation, op, err, "parse document")
	}
	defer doc.Close()

	raw := doc.Editable().GetContent()
	text := docxXMLToText(raw)

	title := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	return &Result{
		Text:  text,
		Title: title,
		Metadata: map[string]string{
			"type":       "docx",
			"paragraphs": fmt.Sprintf("%d", len(strings.Split(text, "\n\n"))),
		},
	}, nil
}

// docxXMLToText flattens the document XML, turning paragraph ends into
// newlines and keeping alt text from drawings.
func docxXMLToText(raw string) string {
	raw = strings.ReplaceAll(raw, "</w:p>", "\n\n")
	raw = strings.ReplaceAll(raw, "<w:br/>", "\n")
	raw = strings.ReplaceAll(raw, "<w:tab/>", "\t")

	var b strings.Builder
	decoder := xml.NewDecoder(strings.NewReader("<root>" + raw + "</root>"))
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.StartElement:
			// Alt text on images is worth keeping.
			if t.Name.Local == "docPr" {
				for _, attr := range t.Attr {
					if attr.Name.Local == "descr" && attr.Value != "" {
						b.WriteString("\n[image: " + attr.Value + "]\n")
					}
				}
			}
		}
	}
	return b.String()
}

// pptxSlideText models the minimal slide XML needed for text runs.
type pptxSlideText struct {
	Texts []string `xml:"cSld>spTree>sp>txBody>p>r>t"`
}

// extractPptx reads slide XML straight from the package. The pack carries no
// dedicated PPTX library, so the OOXML zip is walked directly.
func (e *officeExtractor) extractPptx(filePath string) (*Result, error) {
	const op = "extract.pptx"

	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fault.Wrapf(fault.KindValidation, op, err, "open package")
	}
	defer zr.Close()

	type slide struct {
		name string
		text string
	}
	var slides []slide

	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "ppt/slides/slide") || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}

		var parsed pptxSlideText
		if err := xml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		if len(parsed.Texts) > 0 {
			slides = append(slides, slide{name: f.Name, text: strings.Join(parsed.Texts, "\n")})
		}
	}

	sort.Slice(slides, func(i, j int) bool { return slides[i].name < slides[j].name })

	var parts []string
	for i, s := range slides {
		parts = append(parts, fmt.Sprintf("Slide %d\n%s", i+1, s.text))
	}

	return &Result{
		Text:  strings.Join(parts, "\n\n"),
		Title: strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath)),
		Metadata: map[string]string{
			"type":   "pptx",
			"slides": fmt.Sprintf("%d", len(slides)),
		},
	}, nil
}

func (e *officeExtractor) extractXlsx(ctx context.Context, filePath string) (*Result, error) {
	const op = "extract.xlsx"

	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fault.Wrapf(fault.KindValidation, op, err, "parse workbook")
	}
	defer f.Close()

	var parts []string
	var tables [][]string
	sheets := f.GetSheetList()

	for _, sheetName := range sheets {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rows, err := f.GetRows(sheetName)
		if err != nil || len(rows) == 0 {
			continue
		}

		var b strings.Builder
		b.WriteString("Sheet: " + sheetName + "\n")
		// First non-empty row is treated as the header and kept on its own
		// line so lexical search sees column names.
		headerDone := false
		for _, row := range rows {
			cells := trimRow(row)
			if len(cells) == 0 {
				continue
			}
			tables = append(tables, cells)
			if !headerDone {
				b.WriteString(strings.Join(cells, " | ") + "\n")
				headerDone = true
				continue
			}
			b.WriteString(strings.Join(cells, " ") + "\n")
		}
		parts = append(parts, b.String())
	}

	return &Result{
		Text:   strings.Join(parts, "\n\n"),
		Title:  strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath)),
		Tables: tables,
		Metadata: map[string]string{
			"type":   "xlsx",
			"sheets": fmt.Sprintf("%d", len(sheets)),
		},
	}, nil
}

func (e *officeExtractor) extractCSV(filePath string) (*Result, error) {
	const op = "extract.csv"

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fault.Wrapf(fault.KindNotFound, op, err, "open file")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var b strings.Builder
	var tables [][]string
	headerDone := false
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fault.Wrapf(fault.KindValidation, op, err, "parse csv")
		}
		cells := trimRow(row)
		if len(cells) == 0 {
			continue
		}
		tables = append(tables, cells)
		if !headerDone {
			b.WriteString(strings.Join(cells, " | ") + "\n")
			headerDone = true
			continue
		}
		b.WriteString(strings.Join(cells, " ") + "\n")
	}

	return &Result{
		Text:     b.String(),
		Title:    strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath)),
		Tables:   tables,
		Metadata: map[string]string{"type": "csv"},
	}, nil
}

func trimRow(row []string) []string {
	var cells []string
	for _, cell := range row {
		if c := strings.TrimSpace(cell); c != "" {
			cells = append(cells, c)
		}
	}
	return cells
}

var _ Extractor = (*officeExtractor)(nil)
