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

import "strings"

// Diversify applies greedy maximum-marginal-relevance over fused hits to
// reduce intra-document redundancy. lambda 1 is pure relevance, 0 pure
// diversity. Similarity between candidates uses token overlap, so no
// embeddings are needed after fusion.
func Diversify(hits []Hit, lambda float64, limit int) []Hit {
	if len(hits) <= 1 {
		return hits
	}
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}
	if limit <= 0 || limit > len(hits) {
		limit = len(hits)
	}

	tokens := make([]map[string]bool, len(hits))
	for i, h := range hits {
		tokens[i] = tokenSet(h.Content)
	}

	selected := make([]int, 0, limit)
	remaining := make([]int, len(hits))
	for i := range hits {
		remaining[i] = i
	}

	for len(selected) < limit && len(remaining) > 0 {
		bestPos, bestScore := -1, 0.0
		for pos, idx := range remaining {
			maxSim := 0.0
			for _, sel := range selected {
				if sim := jaccard(tokens[idx], tokens[sel]); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*hits[idx].Score - (1-lambda)*maxSim
			if bestPos == -1 || score > bestScore {
				bestPos, bestScore = pos, score
			}
		}
		selected = append(selected, remaining[bestPos])
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	out := make([]Hit, len(selected))
	for i, idx := range selected {
		out[i] = hits[idx]
	}
	return out
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		if len(tok) >= 3 {
			set[tok] = true
		}
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	inter := 0
	for tok := range small {
		if large[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
