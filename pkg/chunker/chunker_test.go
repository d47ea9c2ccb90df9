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

package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustChunker(t *testing.T, size, overlap int) *RecursiveChunker {
	t.Helper()
	c, err := New(Config{Size: size, Overlap: overlap})
	require.NoError(t, err)
	return c
}

func TestSmallContentSingleChunk(t *testing.T) {
	c := mustChunker(t, 100, 10)
	chunks := c.Chunk("hello world")

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "hello world", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, 11, chunks[0].EndChar)
}

func TestEmptyContent(t *testing.T) {
	c := mustChunker(t, 100, 10)
	assert.Empty(t, c.Chunk(""))
}

func TestChunksAreExactSubstrings(t *testing.T) {
	content := strings.Repeat("First paragraph with a few words.\n\nSecond paragraph here.\n\n", 20)
	c := mustChunker(t, 120, 30)
	chunks := c.Chunk(content)

	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.Equal(t, content[ch.StartChar:ch.EndChar], ch.Content)
	}
}

func TestSizeUpperBound(t *testing.T) {
	content := strings.Repeat("word ", 1000)
	c := mustChunker(t, 200, 40)

	for _, ch := range c.Chunk(content) {
		assert.LessOrEqual(t, len(ch.Content), 200)
	}
}

func TestIndexesContiguous(t *testing.T) {
	content := strings.Repeat("a line of text\n", 500)
	c := mustChunker(t, 300, 50)
	chunks := c.Chunk(content)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
	}
}

func TestOverlapBetweenSuccessiveChunks(t *testing.T) {
	content := strings.Repeat("sentence one. ", 100)
	c := mustChunker(t, 140, 28)
	chunks := c.Chunk(content)

	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		// Each chunk starts at or before the previous chunk's end.
		assert.LessOrEqual(t, chunks[i].StartChar, chunks[i-1].EndChar)
		// And strictly after the previous chunk's start.
		assert.Greater(t, chunks[i].StartChar, chunks[i-1].StartChar)
	}
}

func TestPrefersParagraphBoundaries(t *testing.T) {
	content := "Alpha paragraph content here.\n\nBeta paragraph content here.\n\nGamma paragraph content here."
	c := mustChunker(t, 40, 0)
	chunks := c.Chunk(content)

	require.Greater(t, len(chunks), 1)
	// No chunk should cut a paragraph mid-word when paragraphs fit the size.
	assert.True(t, strings.HasPrefix(chunks[0].Content, "Alpha paragraph"))
	found := false
	for _, ch := range chunks {
		if strings.HasPrefix(ch.Content, "Beta paragraph") {
			found = true
		}
	}
	assert.True(t, found, "expected a chunk starting at the second paragraph")
}

func TestDeterministic(t *testing.T) {
	content := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 200)
	c := mustChunker(t, 500, 100)

	a := c.Chunk(content)
	b := c.Chunk(content)
	assert.Equal(t, a, b)
}

func TestHardCutRespectsUTF8(t *testing.T) {
	content := strings.Repeat("héllo wörld ", 200)
	c := mustChunker(t, 64, 0)

	for _, ch := range c.Chunk(content) {
		assert.True(t, strings.ToValidUTF8(ch.Content, "") == ch.Content)
	}
}

func TestInvalidConfig(t *testing.T) {
	_, err := New(Config{Size: 100, Overlap: 100})
	assert.Error(t, err)
}
