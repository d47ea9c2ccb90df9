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

package config

import "fmt"

// ResearchConfig configures the deep research agent.
type ResearchConfig struct {
	// TotalBudgetSeconds is the hard wall-clock budget per ask.
	TotalBudgetSeconds int `yaml:"total_budget_seconds"`

	// PhaseFloorSeconds short-circuits to synthesis when the remaining budget
	// drops below it.
	PhaseFloorSeconds int `yaml:"phase_floor_seconds"`

	// TopKLocal is the hybrid retrieval depth per sub-question.
	TopKLocal int `yaml:"top_k_local"`

	// TopKWeb is the web search depth.
	TopKWeb int `yaml:"top_k_web"`

	// RetryLoops bounds the rewrite-and-retry cycle.
	RetryLoops int `yaml:"retry_loops"`

	// MissingConceptLoops bounds the missing-concept cycle.
	MissingConceptLoops int `yaml:"missing_concept_loops"`

	// Coverage thresholds: coverage is strong when hits >= CoverageMinHits AND
	// docs >= CoverageMinDocs AND best distance <= CoverageMaxDistance.
	CoverageMinHits     int     `yaml:"coverage_min_hits"`
	CoverageMinDocs     int     `yaml:"coverage_min_docs"`
	CoverageMaxDistance float64 `yaml:"coverage_max_distance"`

	// KMissing is the retrieval depth per missing concept.
	KMissing int `yaml:"k_missing"`

	// ConfidenceThreshold below which followup questions are emitted.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// ConfidenceBaseline is the confidence floor (and the cap for degraded
	// answers).
	ConfidenceBaseline float64 `yaml:"confidence_baseline"`

	// WebTimeoutSeconds bounds the whole web phase.
	WebTimeoutSeconds int `yaml:"web_timeout_seconds"`

	// RecencyBoost and RecencyScaleDays are loaded but not read by the
	// research agent; research retrievals use the search index's recency
	// settings.
	RecencyBoost     bool    `yaml:"recency_boost"`
	RecencyScaleDays float64 `yaml:"recency_scale_days"`

	// FollowupAutosend returns followups to the client for auto-display.
	FollowupAutosend *bool `yaml:"followup_autosend"`

	// FollowupRelevanceMin filters followups by relevance to the question and
	// recent conversation.
	FollowupRelevanceMin float64 `yaml:"followup_relevance_min"`

	// MaxMessages is loaded but not read; the metastore keeps the most recent
	// 40 messages of a session regardless of it.
	MaxMessages int `yaml:"max_messages"`
}

// SetDefaults applies default values.
func (c *ResearchConfig) SetDefaults() {
	if c.TotalBudgetSeconds <= 0 {
		c.TotalBudgetSeconds = 120
	}
	if c.PhaseFloorSeconds <= 0 {
		c.PhaseFloorSeconds = 5
	}
	if c.TopKLocal <= 0 {
		c.TopKLocal = 8
	}
	if c.TopKWeb <= 0 {
		c.TopKWeb = 6
	}
	if c.RetryLoops <= 0 {
		c.RetryLoops = 1
	}
	if c.MissingConceptLoops <= 0 {
		c.MissingConceptLoops = 1
	}
	if c.CoverageMinHits <= 0 {
		c.CoverageMinHits = 3
	}
	if c.CoverageMinDocs <= 0 {
		c.CoverageMinDocs = 2
	}
	if c.CoverageMaxDistance <= 0 {
		c.CoverageMaxDistance = 0.65
	}
	if c.KMissing <= 0 {
		c.KMissing = 4
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.4
	}
	if c.ConfidenceBaseline <= 0 {
		c.ConfidenceBaseline = 0.3
	}
	if c.WebTimeoutSeconds <= 0 {
		c.WebTimeoutSeconds = 10
	}
	if c.RecencyScaleDays <= 0 {
		c.RecencyScaleDays = 30
	}
	if c.FollowupAutosend == nil {
		autosend := true
		c.FollowupAutosend = &autosend
	}
	if c.FollowupRelevanceMin <= 0 {
		c.FollowupRelevanceMin = 0.08
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = 40
	}
}

// Validate checks the configuration.
func (c *ResearchConfig) Validate() error {
	if c.ConfidenceBaseline > c.ConfidenceThreshold {
		return fmt.Errorf("confidence_baseline (%v) must not exceed confidence_threshold (%v)",
			c.ConfidenceBaseline, c.ConfidenceThreshold)
	}
	if c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in (0,1], got %v", c.ConfidenceThreshold)
	}
	return nil
}

// AutosendFollowups reports whether followups are returned to the client.
func (c *ResearchConfig) AutosendFollowups() bool {
	return c.FollowupAutosend == nil || *c.FollowupAutosend
}
