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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMinMaxNormalize(t *testing.T) {
	hits := []Hit{{Score: 10}, {Score: 5}, {Score: 0}}
	minMaxNormalize(hits)
	assert.Equal(t, 1.0, hits[0].Score)
	assert.Equal(t, 0.5, hits[1].Score)
	assert.Equal(t, 0.0, hits[2].Score)
}

func TestMinMaxNormalizeUniform(t *testing.T) {
	hits := []Hit{{Score: 3}, {Score: 3}}
	minMaxNormalize(hits)
	assert.Equal(t, 1.0, hits[0].Score)
	assert.Equal(t, 1.0, hits[1].Score)
}

func TestMinMaxNormalizeEmpty(t *testing.T) {
	minMaxNormalize(nil)
}

func TestRecencyDecayPrefersNewer(t *testing.T) {
	now := time.Now()
	hits := []Hit{
		{ID: "old", Score: 1.0, CreatedAt: now.AddDate(0, -6, 0)},
		{ID: "new", Score: 0.95, CreatedAt: now},
	}
	applyRecencyDecay(hits, Options{RecencyWeight: 0.5, RecencyScaleDays: 30, Now: now})
	assert.Equal(t, "new", hits[0].ID, "half-year-old hit should decay below a fresh one")
}

func TestRecencyDecayDisabled(t *testing.T) {
	hits := []Hit{{ID: "a", Score: 1.0, CreatedAt: time.Now().AddDate(-1, 0, 0)}}
	applyRecencyDecay(hits, Options{})
	assert.Equal(t, 1.0, hits[0].Score)
}

func TestRecencyDecayDeterministicWithFixedNow(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	mk := func() []Hit {
		return []Hit{
			{ID: "a", Score: 0.9, CreatedAt: now.AddDate(0, -2, 0)},
			{ID: "b", Score: 0.8, CreatedAt: now},
		}
	}
	h1, h2 := mk(), mk()
	opts := Options{RecencyWeight: 0.4, RecencyScaleDays: 30, Now: now}
	applyRecencyDecay(h1, opts)
	applyRecencyDecay(h2, opts)
	assert.Equal(t, h1, h2)
}
