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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"

	"github.com/kadirpekel/sage/pkg/fault"
)

// boostField is a lexically searched field with its query-time boost.
type boostField struct {
	name  string
	boost float64
}

// lexicalIndex wraps a bleve index for BM25-style ranking.
type lexicalIndex struct {
	index  bleve.Index
	fields []boostField
}

// newLexicalIndex opens or creates a bleve index. An empty path keeps the
// index in memory.
func newLexicalIndex(path string, searchFields []boostField, keywordFields []string, dateFields []string, numericFields []string) (*lexicalIndex, error) {
	mapping := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	for _, f := range searchFields {
		fm := bleve.NewTextFieldMapping()
		fm.Store = true
		doc.AddFieldMappingsAt(f.name, fm)
	}
	for _, name := range keywordFields {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
		fm.Store = true
		doc.AddFieldMappingsAt(name, fm)
	}
	for _, name := range dateFields {
		fm := bleve.NewDateTimeFieldMapping()
		fm.Store = true
		doc.AddFieldMappingsAt(name, fm)
	}
	for _, name := range numericFields {
		fm := bleve.NewNumericFieldMapping()
		fm.Store = true
		doc.AddFieldMappingsAt(name, fm)
	}
	mapping.DefaultMapping = doc

	var index bleve.Index
	var err error
	if path == "" {
		index, err = bleve.NewMemOnly(mapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
		index, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			index, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}

	return &lexicalIndex{index: index, fields: searchFields}, nil
}

// indexDoc stores one flat document under id.
func (l *lexicalIndex) indexDoc(id string, doc map[string]any) error {
	return l.index.Index(id, doc)
}

// deleteDoc removes a document by id.
func (l *lexicalIndex) deleteDoc(id string) error {
	return l.index.Delete(id)
}

// search runs a boosted multi-field match scoped by the tenant filter.
func (l *lexicalIndex) search(ctx context.Context, queryText string, filter Filter, k int) ([]Hit, error) {
	const op = "searchindex.lexical"

	if filter.UserID == uuid.Nil {
		return nil, fault.New(fault.KindForbidden, op, "user filter is required")
	}

	var shoulds []query.Query
	for _, f := range l.fields {
		mq := bleve.NewMatchQuery(queryText)
		mq.SetField(f.name)
		mq.SetBoost(f.boost)
		shoulds = append(shoulds, mq)
	}
	matched := bleve.NewDisjunctionQuery(shoulds...)

	conj := bleve.NewConjunctionQuery(matched)
	addTermFilter(conj, "user_id", filter.UserID.String())
	if filter.SpaceID != uuid.Nil {
		addTermFilter(conj, "space_id", filter.SpaceID.String())
	}
	if len(filter.SourceTypes) > 0 {
		var types []query.Query
		for _, st := range filter.SourceTypes {
			tq := bleve.NewTermQuery(st)
			tq.SetField("source_type")
			types = append(types, tq)
		}
		conj.AddQuery(bleve.NewDisjunctionQuery(types...))
	}
	for _, tag := range filter.Tags {
		addTermFilter(conj, "tags", tag)
	}

	req := bleve.NewSearchRequestOptions(conj, k, 0, false)
	req.Fields = []string{"*"}

	res, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fault.Wrapf(fault.KindTransient, op, err, "search failed")
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, match := range res.Hits {
		hits = append(hits, hitFromFields(match.ID, match.Score, match.Fields))
	}
	return hits, nil
}

// count returns the number of indexed documents.
func (l *lexicalIndex) count() (uint64, error) {
	return l.index.DocCount()
}

// close releases the index.
func (l *lexicalIndex) close() error {
	return l.index.Close()
}

func addTermFilter(conj *query.ConjunctionQuery, field, value string) {
	tq := bleve.NewTermQuery(value)
	tq.SetField(field)
	conj.AddQuery(tq)
}

// hitFromFields maps stored bleve fields back into a Hit.
func hitFromFields(id string, score float64, fields map[string]any) Hit {
	hit := Hit{ID: id, Score: score}

	if s, ok := fields["document_id"].(string); ok {
		if parsed, err := uuid.Parse(s); err == nil {
			hit.DocumentID = parsed
		}
	}
	switch v := fields["chunk_index"].(type) {
	case float64:
		hit.ChunkIndex = int(v)
	case string:
		hit.ChunkIndex, _ = strconv.Atoi(v)
	}
	if s, ok := fields["text"].(string); ok {
		hit.Text = s
	} else if s, ok := fields["caption"].(string); ok {
		hit.Text = s
	}
	if s, ok := fields["title"].(string); ok {
		hit.Title = s
	}
	if s, ok := fields["file_name"].(string); ok {
		hit.FileName = s
	}
	if s, ok := fields["source_type"].(string); ok {
		hit.SourceType = s
	}
	switch v := fields["tags"].(type) {
	case string:
		hit.Tags = []string{v}
	case []any:
		for _, t := range v {
			if s, ok := t.(string); ok {
				hit.Tags = append(hit.Tags, s)
			}
		}
	}
	if s, ok := fields["created_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			hit.CreatedAt = ts
		}
	}
	return hit
}
