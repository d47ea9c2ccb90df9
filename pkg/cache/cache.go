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

// Package cache is the best-effort revisioned KV layer.
//
// Keys embed a per-tenant-per-kind revision counter, so one increment
// invalidates every matching entry at once. A down backend never fails a
// request: every backend error degrades to a miss, and a circuit breaker
// bypasses the backend entirely after repeated failures.
package cache

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind namespaces revisions by payload family.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindLLM   Kind = "llm"
)

// Backend is the raw KV the cache degrades around.
type Backend interface {
	// Get returns the value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Incr atomically increments an integer key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)

	// Close releases backend resources.
	Close() error
}

// Options tunes the degradation behavior.
type Options struct {
	// SchemaVersion is embedded in every key.
	SchemaVersion string

	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int

	// Cooldown is how long the circuit stays open.
	Cooldown time.Duration
}

// Cache wraps a Backend with revisioned keys and failure isolation.
type Cache struct {
	backend Backend
	schema  string
	breaker *breaker
}

// New creates a cache over the given backend. A nil backend yields a cache
// where every read misses and every write is dropped.
func New(backend Backend, opts Options) *Cache {
	if opts.SchemaVersion == "" {
		opts.SchemaVersion = "v1"
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = time.Minute
	}
	return &Cache{
		backend: backend,
		schema:  opts.SchemaVersion,
		breaker: &breaker{threshold: opts.FailureThreshold, cooldown: opts.Cooldown},
	}
}

// Get returns the cached value for key, or miss. Never returns an error.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c.backend == nil || !c.breaker.allow() {
		return "", false
	}
	val, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.breaker.failure()
		slog.Warn("cache get failed, treating as miss", "key", key, "error", err)
		return "", false
	}
	c.breaker.success()
	return val, ok
}

// Set stores value under key with a TTL. Failures are logged and dropped.
func (c *Cache) Set(ctx context.Context, key string, value string, ttl time.Duration) {
	if c.backend == nil || !c.breaker.allow() {
		return
	}
	if err := c.backend.Set(ctx, key, value, ttl); err != nil {
		c.breaker.failure()
		slog.Warn("cache set failed", "key", key, "error", err)
		return
	}
	c.breaker.success()
}

// Revision returns the current revision for a tenant and kind; 0 when the
// counter does not exist or the backend is unavailable.
func (c *Cache) Revision(ctx context.Context, kind Kind, userID, spaceID uuid.UUID) int64 {
	val, ok := c.Get(ctx, revisionKey(kind, userID, spaceID))
	if !ok {
		return 0
	}
	rev, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	return rev
}

// Bump increments the revision for each kind, making every prior key for the
// tenant and kind unreachable.
func (c *Cache) Bump(ctx context.Context, userID, spaceID uuid.UUID, kinds ...Kind) {
	if c.backend == nil || !c.breaker.allow() {
		return
	}
	for _, kind := range kinds {
		if _, err := c.backend.Incr(ctx, revisionKey(kind, userID, spaceID)); err != nil {
			c.breaker.failure()
			slog.Warn("cache bump failed", "kind", kind, "user_id", userID, "error", err)
			return
		}
	}
	c.breaker.success()
}

// Close releases the backend.
func (c *Cache) Close() error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Close()
}

// breaker is a consecutive-failure circuit breaker.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Now().After(b.openUntil)
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.cooldown)
		b.failures = 0
		slog.Warn("cache circuit opened", "cooldown", b.cooldown)
	}
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}
