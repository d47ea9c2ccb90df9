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
	"strings"

	"github.com/kadirpekel/sage/pkg/llms"
)

const captionSystemPrompt = "You caption images for a document search index. " +
	"Write one short descriptive sentence. Output only the caption."

// LLMCaptioner implements Captioner on the configured generator, describing
// the image from its OCR text and file name.
type LLMCaptioner struct {
	generator llms.Generator
}

// NewLLMCaptioner creates a captioner over the generator.
func NewLLMCaptioner(generator llms.Generator) *LLMCaptioner {
	return &LLMCaptioner{generator: generator}
}

// Caption produces a one-line caption. small selects the fallback model.
func (c *LLMCaptioner) Caption(ctx context.Context, fileName, ocrText string, small bool) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Image file: %s\n", fileName)
	if ocrText != "" {
		if len(ocrText) > 1500 {
			ocrText = ocrText[:1500]
		}
		fmt.Fprintf(&b, "Text visible in the image:\n%s\n", ocrText)
	} else {
		b.WriteString("No text was recognized in the image.\n")
	}
	b.WriteString("Caption this image.")

	req := llms.Request{
		System:      captionSystemPrompt,
		Prompt:      b.String(),
		MaxTokens:   80,
		Temperature: 0.2,
	}
	if small {
		req.Model = c.generator.SmallModelName()
	}

	caption, err := c.generator.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Trim(caption, `"`)), nil
}

var _ Captioner = (*LLMCaptioner)(nil)
