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

import "sort"

// defaultRRFK0 is the reciprocal-rank-fusion smoothing constant. k=60 is the
// widely validated default.
const defaultRRFK0 = 60

// FuseRRF combines ranked lists with reciprocal rank fusion:
//
//	score(d) = Σ 1/(k0 + rank_i(d))
//
// summed over the lists the document appears in, ranks 1-indexed. The result
// is deterministic: documents keep first-seen order across equal scores, with
// the lists processed in argument order.
func FuseRRF(k0 int, lists ...[]Hit) []Hit {
	if k0 <= 0 {
		k0 = defaultRRFK0
	}

	type fused struct {
		hit   Hit
		score float64
		seen  int
	}

	byKey := make(map[Key]*fused)
	var order []Key

	for _, list := range lists {
		for rank, hit := range list {
			key := KeyOf(hit)
			f, ok := byKey[key]
			if !ok {
				f = &fused{hit: hit, seen: len(order)}
				byKey[key] = f
				order = append(order, key)
			} else if f.hit.Content == "" && hit.Content != "" {
				// Keep the richer payload when the same chunk arrives from
				// both lists, along with any distance already seen.
				distance := f.hit.Distance
				f.hit = hit
				f.hit.Distance = distance
			}
			f.score += 1.0 / float64(k0+rank+1)
			if hit.Distance > 0 && (f.hit.Distance == 0 || hit.Distance < f.hit.Distance) {
				f.hit.Distance = hit.Distance
			}
		}
	}

	out := make([]Hit, 0, len(order))
	for _, key := range order {
		f := byKey[key]
		f.hit.Score = f.score
		out = append(out, f.hit)
	}

	// Stable sort preserves first-seen order on ties.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	normalizeScores(out)
	return out
}

// normalizeScores rescales to [0,1] with the max as 1.
func normalizeScores(hits []Hit) {
	if len(hits) == 0 {
		return
	}
	max := hits[0].Score
	if max == 0 {
		return
	}
	for i := range hits {
		hits[i].Score /= max
	}
}

// AggregateByDocument keeps the best-scored chunk per document, preserving
// score order, and returns up to limit documents.
func AggregateByDocument(hits []Hit, limit int) []Hit {
	seen := make(map[string]bool)
	var out []Hit
	for _, h := range hits {
		id := h.DocumentID.String()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, h)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
