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
	"io"
	"os"
	"strings"

	"golang.org/x/net/html"

	"github.com/kadirpekel/sage/pkg/fault"
)

// htmlExtractor converts a DOM to text preserving block structure, with a
// readability pass stripping navigation chrome.
type htmlExtractor struct{}

func newHTMLExtractor() *htmlExtractor {
	return &htmlExtractor{}
}

func (e *htmlExtractor) CanExtract(sourceType string) bool {
	return sourceType == "html"
}

func (e *htmlExtractor) SourceTypes() []string {
	return []string{"html"}
}

func (e *htmlExtractor) Extract(ctx context.Context, filePath string) (*Result, error) {
	const op = "extract.html"

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fault.Wrapf(fault.KindNotFound, op, err, "open file")
	}
	defer f.Close()

	text, title, err := HTMLToText(f)
	if err != nil {
		return nil, fault.Wrapf(fault.KindValidation, op, err, "parse HTML")
	}

	return &Result{
		Text:     text,
		Title:    title,
		Metadata: map[string]string{"type": "html"},
	}, nil
}

// strippedTags are removed wholesale by the readability pass.
var strippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"nav": true, "aside": true, "figure": true, "footer": true, "header": true,
	"iframe": true, "form": true, "button": true, "svg": true,
}

// blockTags start a new paragraph or line.
var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "br": true, "blockquote": true, "pre": true,
	"table": true, "ul": true, "ol": true,
}

// HTMLToText walks the DOM emitting text with block boundaries as newlines.
// Returns the document title when present.
func HTMLToText(r io.Reader) (string, string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}

	var b strings.Builder
	var title string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if strippedTags[n.Data] {
				return
			}
			if n.Data == "title" {
				if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
			if blockTags[n.Data] {
				b.WriteString("\n")
				// Headings get a blank line before them.
				if strings.HasPrefix(n.Data, "h") && len(n.Data) == 2 {
					b.WriteString("\n")
				}
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteString(" ")
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			b.WriteString("\n")
		}
	}
	walk(doc)

	return b.String(), title, nil
}

var _ Extractor = (*htmlExtractor)(nil)
