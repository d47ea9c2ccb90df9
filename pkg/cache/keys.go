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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Fingerprint hashes the query identity: normalized query text, filters,
// backend and model id. Filter map ordering does not affect the result.
func Fingerprint(query string, filters map[string]string, backend, modelID string) string {
	h := sha256.New()
	h.Write([]byte(normalizeQuery(query)))
	h.Write([]byte{0})

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s;", k, filters[k])
	}
	h.Write([]byte{0})
	h.Write([]byte(backend))
	h.Write([]byte{0})
	h.Write([]byte(modelID))

	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Key builds a revisioned result key for the tenant. The embedded revision is
// read from the backend, so a Bump changes the key and orphans old entries.
func (c *Cache) Key(ctx context.Context, kind Kind, userID, spaceID uuid.UUID, topK int, fingerprint string) string {
	rev := c.Revision(ctx, kind, userID, spaceID)
	return fmt.Sprintf("%s:rev%d:%s:%s:%s:%d:%s",
		c.schema, rev, kind, userID, spaceID, topK, fingerprint)
}

func revisionKey(kind Kind, userID, spaceID uuid.UUID) string {
	return fmt.Sprintf("rev:%s:%s:%s", kind, userID, spaceID)
}

// normalizeQuery lowercases and collapses whitespace so trivially different
// spellings share a cache entry.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
