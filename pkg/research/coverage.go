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

package research

import (
	"strings"

	"github.com/google/uuid"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/retrieve"
)

// Coverage summarizes the evidence gathered so far.
type Coverage struct {
	TotalHits    int
	UniqueDocs   int
	BestDistance float64
}

// evaluateCoverage folds hit groups into coverage numbers. Hits without a
// measured distance contribute a neutral 1.0 so lexical-only evidence never
// looks artificially close.
func evaluateCoverage(groups [][]retrieve.Hit) Coverage {
	cov := Coverage{BestDistance: 1.0}
	docs := make(map[uuid.UUID]bool)
	for _, hits := range groups {
		for _, h := range hits {
			cov.TotalHits++
			docs[h.DocumentID] = true
			if h.Distance > 0 && h.Distance < cov.BestDistance {
				cov.BestDistance = h.Distance
			}
		}
	}
	cov.UniqueDocs = len(docs)
	return cov
}

// Strong reports whether coverage passes all three thresholds.
func (c Coverage) Strong(cfg *config.ResearchConfig) bool {
	return c.TotalHits >= cfg.CoverageMinHits &&
		c.UniqueDocs >= cfg.CoverageMinDocs &&
		c.BestDistance <= cfg.CoverageMaxDistance
}

// confidence derives the answer confidence from evidence quality:
//
//	base = 0.3 + 0.1*min(unique_docs,5) + 0.25*max(0, 1-best_distance)
//
// clamped to [baseline, 1]. No LLM output caps at the baseline; web-only
// evidence scales by 0.8 without dropping below the baseline.
func confidence(cov Coverage, usedLLM, onlyWeb bool, cfg *config.ResearchConfig) float64 {
	docs := cov.UniqueDocs
	if docs > 5 {
		docs = 5
	}
	closeness := 1 - cov.BestDistance
	if closeness < 0 {
		closeness = 0
	}
	conf := 0.3 + 0.1*float64(docs) + 0.25*closeness

	if conf > 1 {
		conf = 1
	}
	if conf < cfg.ConfidenceBaseline {
		conf = cfg.ConfidenceBaseline
	}
	if !usedLLM {
		conf = cfg.ConfidenceBaseline
	}
	if onlyWeb {
		conf *= 0.8
		if conf < cfg.ConfidenceBaseline {
			conf = cfg.ConfidenceBaseline
		}
	}
	return conf
}

// followupRelevance measures token overlap between a candidate followup and
// the reference text (current question plus recent conversation).
func followupRelevance(followup, reference string) float64 {
	fTokens := relevanceTokens(followup)
	rTokens := relevanceTokens(reference)
	if len(fTokens) == 0 || len(rTokens) == 0 {
		return 0
	}
	matched := 0
	for tok := range fTokens {
		if rTokens[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(fTokens))
}

var relevanceStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "what": true,
	"how": true, "does": true, "this": true, "that": true, "with": true,
	"about": true, "can": true, "you": true, "was": true, "were": true,
}

func relevanceTokens(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?\"'()")
		if len(tok) < 3 || relevanceStopwords[tok] {
			continue
		}
		out[tok] = true
	}
	return out
}
