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

package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBackend is an in-memory Backend for tests, with a failure switch.
type memBackend struct {
	mu   sync.Mutex
	data map[string]string
	fail bool
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string]string)}
}

func (m *memBackend) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", false, errors.New("backend down")
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("backend down")
	}
	m.data[key] = value
	return nil
}

func (m *memBackend) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errors.New("backend down")
	}
	n := int64(1)
	if v, ok := m.data[key]; ok {
		cur, _ := strconv.ParseInt(v, 10, 64)
		n = cur + 1
	}
	m.data[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *memBackend) Close() error { return nil }

func TestGetSetRoundTrip(t *testing.T) {
	c := New(newMemBackend(), Options{})
	ctx := context.Background()

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	c.Set(ctx, "k", "v", time.Minute)
	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestBumpInvalidatesKeys(t *testing.T) {
	c := New(newMemBackend(), Options{SchemaVersion: "v1"})
	ctx := context.Background()
	user, space := uuid.New(), uuid.New()
	fp := Fingerprint("what is gdpr", nil, "searchindex", "model-a")

	key1 := c.Key(ctx, KindText, user, space, 5, fp)
	c.Set(ctx, key1, "result", time.Minute)

	_, ok := c.Get(ctx, key1)
	require.True(t, ok)

	c.Bump(ctx, user, space, KindText)

	key2 := c.Key(ctx, KindText, user, space, 5, fp)
	assert.NotEqual(t, key1, key2, "revision must change the key")

	_, ok = c.Get(ctx, key2)
	assert.False(t, ok, "prior entries must be unreachable after bump")
}

func TestBumpIsKindScoped(t *testing.T) {
	c := New(newMemBackend(), Options{})
	ctx := context.Background()
	user, space := uuid.New(), uuid.New()
	fp := Fingerprint("q", nil, "searchindex", "m")

	textKey := c.Key(ctx, KindText, user, space, 5, fp)
	imageKey := c.Key(ctx, KindImage, user, space, 5, fp)

	c.Bump(ctx, user, space, KindText)

	assert.NotEqual(t, textKey, c.Key(ctx, KindText, user, space, 5, fp))
	assert.Equal(t, imageKey, c.Key(ctx, KindImage, user, space, 5, fp))
}

func TestFingerprintNormalization(t *testing.T) {
	a := Fingerprint("  Cross-Border   Transfers ", nil, "searchindex", "m")
	b := Fingerprint("cross-border transfers", nil, "searchindex", "m")
	assert.Equal(t, a, b)

	c := Fingerprint("cross-border transfers", nil, "metastore", "m")
	assert.NotEqual(t, a, c, "backend is part of the identity")

	d := Fingerprint("cross-border transfers", map[string]string{"source_type": "pdf"}, "searchindex", "m")
	assert.NotEqual(t, a, d)

	e := Fingerprint("q", map[string]string{"a": "1", "b": "2"}, "x", "m")
	f := Fingerprint("q", map[string]string{"b": "2", "a": "1"}, "x", "m")
	assert.Equal(t, e, f, "filter order must not matter")
}

func TestBackendFailureDegradesToMiss(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, Options{FailureThreshold: 3, Cooldown: time.Hour})
	ctx := context.Background()

	c.Set(ctx, "k", "v", time.Minute)
	backend.fail = true

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok, "failures must read as misses")
}

func TestCircuitBreakerOpensAndBypasses(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, Options{FailureThreshold: 2, Cooldown: time.Hour})
	ctx := context.Background()

	backend.fail = true
	c.Get(ctx, "a")
	c.Get(ctx, "b") // opens the circuit

	// Backend recovers but the circuit is still open: reads bypass.
	backend.fail = false
	backend.data["c"] = "v"
	_, ok := c.Get(ctx, "c")
	assert.False(t, ok, "open circuit must bypass the backend")
}

func TestNilBackend(t *testing.T) {
	c := New(nil, Options{})
	ctx := context.Background()

	c.Set(ctx, "k", "v", time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	c.Bump(ctx, uuid.New(), uuid.New(), KindText)
	assert.NoError(t, c.Close())
}
