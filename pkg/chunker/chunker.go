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

// Package chunker splits normalized text into ordered, overlapping chunks.
//
// The splitter is recursive: it prefers paragraph boundaries, then line
// boundaries, then sentence boundaries, then word boundaries, and only as a
// last resort cuts at a fixed width. Each produced chunk is an exact
// substring of the input, so character bounds map back to the source text.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultSeparators is the ordered separator preference for recursive
// splitting. The empty string means a hard cut at chunk size.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunk is one piece of split content.
type Chunk struct {
	// Index is the 0-based position within the document.
	Index int

	// Content is the chunk text, an exact substring of the input.
	Content string

	// StartChar and EndChar are byte offsets into the input; Content equals
	// input[StartChar:EndChar].
	StartChar int
	EndChar   int

	// CharCount is the rune length of Content.
	CharCount int
}

// Config configures the splitter.
type Config struct {
	// Size is the chunk upper bound in bytes.
	Size int

	// Overlap is the target shared span between successive chunks.
	Overlap int

	// Separators overrides DefaultSeparators.
	Separators []string
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Size <= 0 {
		c.Size = 2500
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if len(c.Separators) == 0 {
		c.Separators = DefaultSeparators
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Overlap >= c.Size {
		return fmt.Errorf("overlap (%d) must be less than size (%d)", c.Overlap, c.Size)
	}
	return nil
}

// RecursiveChunker implements recursive character splitting.
type RecursiveChunker struct {
	config Config
}

// New creates a recursive chunker.
func New(cfg Config) (*RecursiveChunker, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunker config: %w", err)
	}
	return &RecursiveChunker{config: cfg}, nil
}

// Config returns the chunker configuration.
func (c *RecursiveChunker) Config() Config {
	return c.config
}

// piece is an atomic split with its source offset.
type piece struct {
	text   string
	offset int
}

// Chunk splits content into ordered chunks. Deterministic for identical
// input and configuration.
func (c *RecursiveChunker) Chunk(content string) []Chunk {
	if content == "" {
		return nil
	}
	if len(content) <= c.config.Size {
		return []Chunk{{
			Index:     0,
			Content:   content,
			StartChar: 0,
			EndChar:   len(content),
			CharCount: utf8.RuneCountInString(content),
		}}
	}

	pieces := c.split(content, 0, c.config.Separators)
	merged := c.merge(pieces)

	chunks := make([]Chunk, len(merged))
	for i, m := range merged {
		chunks[i] = Chunk{
			Index:     i,
			Content:   m.text,
			StartChar: m.offset,
			EndChar:   m.offset + len(m.text),
			CharCount: utf8.RuneCountInString(m.text),
		}
	}
	return chunks
}

// split recursively breaks text into pieces no larger than the chunk size.
// Separators stay attached to the end of the piece they terminate, so pieces
// concatenate back to the original text.
func (c *RecursiveChunker) split(text string, offset int, separators []string) []piece {
	sep := ""
	var remaining []string
	for i, s := range separators {
		if s == "" {
			sep = s
			break
		}
		if strings.Contains(text, s) {
			sep = s
			remaining = separators[i+1:]
			break
		}
	}

	var splits []piece
	if sep == "" {
		splits = hardCut(text, offset, c.config.Size)
	} else {
		splits = splitKeep(text, offset, sep)
	}

	var out []piece
	for _, s := range splits {
		if len(s.text) <= c.config.Size {
			out = append(out, s)
			continue
		}
		if len(remaining) == 0 {
			out = append(out, hardCut(s.text, s.offset, c.config.Size)...)
			continue
		}
		out = append(out, c.split(s.text, s.offset, remaining)...)
	}
	return out
}

// merge concatenates adjacent pieces into chunks bounded by size, retaining
// up to overlap bytes of trailing pieces as the start of the next chunk.
func (c *RecursiveChunker) merge(pieces []piece) []piece {
	var chunks []piece
	var window []piece
	windowLen := 0

	flush := func() {
		if len(window) == 0 {
			return
		}
		var b strings.Builder
		b.Grow(windowLen)
		for _, p := range window {
			b.WriteString(p.text)
		}
		chunks = append(chunks, piece{text: b.String(), offset: window[0].offset})
	}

	for _, p := range pieces {
		if windowLen > 0 && windowLen+len(p.text) > c.config.Size {
			flush()

			// Retain trailing pieces as overlap for the next chunk. Never
			// retain the whole window: the next chunk must start past the
			// previous one. Overlap is dropped where it would push the next
			// chunk past size.
			var kept []piece
			keptLen := 0
			for i := len(window) - 1; i > 0; i-- {
				if keptLen+len(window[i].text) > c.config.Overlap ||
					keptLen+len(window[i].text)+len(p.text) > c.config.Size {
					break
				}
				keptLen += len(window[i].text)
				kept = append([]piece{window[i]}, kept...)
			}
			window = kept
			windowLen = keptLen
		}
		window = append(window, p)
		windowLen += len(p.text)
	}
	flush()
	return chunks
}

// splitKeep splits text by sep, keeping sep attached to the preceding piece.
func splitKeep(text string, offset int, sep string) []piece {
	var out []piece
	pos := 0
	for {
		idx := strings.Index(text[pos:], sep)
		if idx < 0 {
			break
		}
		end := pos + idx + len(sep)
		out = append(out, piece{text: text[pos:end], offset: offset + pos})
		pos = end
	}
	if pos < len(text) {
		out = append(out, piece{text: text[pos:], offset: offset + pos})
	}
	return out
}

// hardCut slices text into runs of at most size bytes, never splitting a
// UTF-8 sequence.
func hardCut(text string, offset int, size int) []piece {
	var out []piece
	for start := 0; start < len(text); {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
			if end == start {
				end = start + size
			}
		}
		out = append(out, piece{text: text[start:end], offset: offset + start})
		start = end
	}
	return out
}
