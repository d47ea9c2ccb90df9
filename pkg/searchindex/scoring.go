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

package searchindex

import (
	"math"
	"sort"
	"time"
)

// applyRecencyDecay scales hit scores by a gaussian of document age and
// re-sorts. No-op when the weight is zero or options are unset.
func applyRecencyDecay(hits []Hit, opts Options) {
	if opts.RecencyWeight <= 0 || opts.RecencyScaleDays <= 0 {
		return
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	for i := range hits {
		if hits[i].CreatedAt.IsZero() {
			continue
		}
		ageDays := now.Sub(hits[i].CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		decay := math.Exp(-0.5 * math.Pow(ageDays/opts.RecencyScaleDays, 2))
		hits[i].Score *= (1 - opts.RecencyWeight) + opts.RecencyWeight*decay
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
}

// minMaxNormalize rescales scores into [0,1] per call so scores are
// comparable across backends. A uniform list normalizes to all ones.
func minMaxNormalize(hits []Hit) {
	if len(hits) == 0 {
		return
	}
	minScore, maxScore := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < minScore {
			minScore = h.Score
		}
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}
	spread := maxScore - minScore
	for i := range hits {
		if spread == 0 {
			hits[i].Score = 1.0
		} else {
			hits[i].Score = (hits[i].Score - minScore) / spread
		}
	}
}
