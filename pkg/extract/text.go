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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kadirpekel/sage/pkg/fault"
)

// textExtractor handles JSON, Markdown and plain text.
type textExtractor struct{}

func newTextExtractor() *textExtractor {
	return &textExtractor{}
}

func (e *textExtractor) CanExtract(sourceType string) bool {
	switch sourceType {
	case "json", "md", "txt":
		return true
	}
	return false
}

func (e *textExtractor) SourceTypes() []string {
	return []string{"json", "md", "txt"}
}

func (e *textExtractor) Extract(ctx context.Context, filePath string) (*Result, error) {
	const op = "extract.text"

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fault.Wrapf(fault.KindNotFound, op, err, "read file")
	}

	st := ResolveSourceType("", filePath)
	text := string(data)
	if st == "json" {
		if flattened, ok := flattenJSON(data); ok {
			text = flattened
		}
	}

	return &Result{
		Text:     text,
		Title:    strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath)),
		Metadata: map[string]string{"type": st},
	}, nil
}

// flattenJSON renders a JSON document as "key.path: value" lines so nested
// values stay searchable with their breadcrumbs.
func flattenJSON(data []byte) (string, bool) {
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return "", false
	}

	var lines []string
	var walk func(prefix string, v any)
	walk = func(prefix string, v any) {
		switch t := v.(type) {
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(joinPath(prefix, k), t[k])
			}
		case []any:
			for i, item := range t {
				walk(fmt.Sprintf("%s[%d]", prefix, i), item)
			}
		case nil:
			lines = append(lines, prefix+": null")
		default:
			lines = append(lines, fmt.Sprintf("%s: %v", prefix, t))
		}
	}
	walk("", root)
	return strings.Join(lines, "\n"), true
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

var _ Extractor = (*textExtractor)(nil)
