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

package retrieve

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hit(doc uuid.UUID, idx int, content string) Hit {
	return Hit{DocumentID: doc, ChunkIndex: idx, Content: content}
}

func TestFuseRRFOrdering(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	semantic := []Hit{hit(a, 0, "a"), hit(b, 0, "b"), hit(c, 0, "c")}
	lexical := []Hit{hit(c, 0, "c"), hit(d, 0, "d"), hit(a, 0, "a")}

	fused := FuseRRF(60, semantic, lexical)
	require.Len(t, fused, 4)

	// A: 1/61+1/63, C: 1/63+1/61 (tie, A first-seen), B: 1/62, D: 1/62
	// (tie, B first-seen).
	assert.Equal(t, a, fused[0].DocumentID)
	assert.Equal(t, c, fused[1].DocumentID)
	assert.Equal(t, b, fused[2].DocumentID)
	assert.Equal(t, d, fused[3].DocumentID)

	assert.Equal(t, 1.0, fused[0].Score, "scores normalize with max at 1")
	assert.Equal(t, fused[0].Score, fused[1].Score)
}

func TestFuseRRFDeterministic(t *testing.T) {
	docs := make([]uuid.UUID, 10)
	for i := range docs {
		docs[i] = uuid.New()
	}
	var semantic, lexical []Hit
	for i, d := range docs {
		semantic = append(semantic, hit(d, 0, "s"))
		lexical = append(lexical, hit(docs[len(docs)-1-i], 0, "l"))
	}

	first := FuseRRF(60, semantic, lexical)
	for i := 0; i < 10; i++ {
		again := FuseRRF(60, semantic, lexical)
		assert.Equal(t, first, again, "fusion must be a pure function of its lists")
	}
}

func TestFuseRRFKeepsRicherPayload(t *testing.T) {
	d := uuid.New()
	semantic := []Hit{{DocumentID: d, ChunkIndex: 0, Distance: 0.2}}
	lexical := []Hit{{DocumentID: d, ChunkIndex: 0, Content: "the text"}}

	fused := FuseRRF(60, semantic, lexical)
	require.Len(t, fused, 1)
	assert.Equal(t, "the text", fused[0].Content)
	assert.Equal(t, 0.2, fused[0].Distance)
}

func TestAggregateByDocument(t *testing.T) {
	d1, d2 := uuid.New(), uuid.New()
	hits := []Hit{
		{DocumentID: d1, ChunkIndex: 2, Score: 0.9},
		{DocumentID: d1, ChunkIndex: 0, Score: 0.8},
		{DocumentID: d2, ChunkIndex: 1, Score: 0.7},
		{DocumentID: d2, ChunkIndex: 3, Score: 0.6},
	}

	agg := AggregateByDocument(hits, 10)
	require.Len(t, agg, 2)
	assert.Equal(t, 2, agg[0].ChunkIndex, "best chunk per document survives")
	assert.Equal(t, d2, agg[1].DocumentID)

	assert.Len(t, AggregateByDocument(hits, 1), 1)
}

func TestDiversifyReducesRedundancy(t *testing.T) {
	d := uuid.New()
	hits := []Hit{
		{DocumentID: d, ChunkIndex: 0, Score: 1.0, Content: "data privacy rules for europe and transfers"},
		{DocumentID: d, ChunkIndex: 1, Score: 0.99, Content: "data privacy rules for europe and transfers again"},
		{DocumentID: d, ChunkIndex: 2, Score: 0.5, Content: "entirely unrelated topic about cooking pasta"},
	}

	out := Diversify(hits, 0.3, 2)
	require.Len(t, out, 2)
	assert.Equal(t, 0, out[0].ChunkIndex, "most relevant stays first")
	assert.Equal(t, 2, out[1].ChunkIndex, "near-duplicate is displaced by the diverse chunk")
}

func TestDiversifyPureRelevance(t *testing.T) {
	d := uuid.New()
	hits := []Hit{
		{DocumentID: d, ChunkIndex: 0, Score: 0.9, Content: "same words here"},
		{DocumentID: d, ChunkIndex: 1, Score: 0.8, Content: "same words here"},
	}
	out := Diversify(hits, 1.0, 2)
	assert.Equal(t, 0, out[0].ChunkIndex)
	assert.Equal(t, 1, out[1].ChunkIndex)
}
