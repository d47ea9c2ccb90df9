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
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/uuid"

	"github.com/kadirpekel/sage/pkg/fault"
)

// vectorMeta is the per-entry payload kept for filtering and cleanup.
type vectorMeta struct {
	userID     uuid.UUID
	spaceID    uuid.UUID
	documentID uuid.UUID
}

// vectorResult is one raw KNN match.
type vectorResult struct {
	id       string
	distance float64
}

// vectorStore is a cosine HNSW graph with tenant metadata.
//
// The graph lives in memory; the metastore is authoritative and reindexing
// rebuilds it, so no persistence is attempted. Deletions are lazy: the entry
// leaves the id maps and stops matching, the node stays in the graph.
type vectorStore struct {
	mu        sync.RWMutex
	graph     *hnsw.Graph[uint64]
	dimension int

	idMap   map[string]uint64
	keyMap  map[uint64]string
	meta    map[string]vectorMeta
	nextKey uint64
}

// newVectorStore creates an empty store for the given dimension.
func newVectorStore(dimension, m, efSearch int) *vectorStore {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = m
	graph.EfSearch = efSearch

	return &vectorStore{
		graph:     graph,
		dimension: dimension,
		idMap:     make(map[string]uint64),
		keyMap:    make(map[uint64]string),
		meta:      make(map[string]vectorMeta),
	}
}

// add inserts or replaces one vector.
func (s *vectorStore) add(id string, vec []float32, meta vectorMeta) error {
	const op = "searchindex.vector"

	if len(vec) != s.dimension {
		return fault.New(fault.KindValidation, op,
			"vector dimension mismatch: index expects %d, got %d", s.dimension, len(vec))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Replacement is lazy: orphan the old key rather than mutating the graph.
	if oldKey, exists := s.idMap[id]; exists {
		delete(s.keyMap, oldKey)
		delete(s.idMap, id)
	}

	key := s.nextKey
	s.nextKey++

	owned := make([]float32, len(vec))
	copy(owned, vec)

	s.graph.Add(hnsw.MakeNode(key, owned))
	s.idMap[id] = key
	s.keyMap[key] = id
	s.meta[id] = meta
	return nil
}

// remove lazily deletes ids.
func (s *vectorStore) remove(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.meta, id)
		}
	}
}

// search returns up to k matches passing the tenant filter, ordered by
// ascending distance. The graph is over-fetched because filtering happens
// after the ANN pass.
func (s *vectorStore) search(vec []float32, filter Filter, k int) ([]vectorResult, error) {
	const op = "searchindex.vector"

	if len(vec) != s.dimension {
		return nil, fault.New(fault.KindValidation, op,
			"query dimension mismatch: index expects %d, got %d", s.dimension, len(vec))
	}
	if filter.UserID == uuid.Nil {
		return nil, fault.New(fault.KindForbidden, op, "user filter is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.graph.Len() == 0 {
		return nil, nil
	}

	fetch := k * 4
	if fetch < 32 {
		fetch = 32
	}
	if fetch > s.graph.Len() {
		fetch = s.graph.Len()
	}

	nodes := s.graph.Search(vec, fetch)

	results := make([]vectorResult, 0, k)
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue // lazily deleted
		}
		m := s.meta[id]
		if m.userID != filter.UserID {
			continue
		}
		if filter.SpaceID != uuid.Nil && m.spaceID != filter.SpaceID {
			continue
		}
		results = append(results, vectorResult{
			id:       id,
			distance: float64(s.graph.Distance(vec, node.Value)),
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// byDocument returns all entry ids belonging to a document.
func (s *vectorStore) byDocument(documentID uuid.UUID) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, m := range s.meta {
		if m.documentID == documentID {
			ids = append(ids, id)
		}
	}
	return ids
}

// metaFor returns the tenant metadata for an entry.
func (s *vectorStore) metaFor(id string) (vectorMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meta[id]
	return m, ok
}

// size returns the live entry count.
func (s *vectorStore) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}
