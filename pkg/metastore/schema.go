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

package metastore

import (
	"context"
	"fmt"
	"strings"
)

// InitSchema creates all tables and indexes. Idempotent: every statement
// guards with IF NOT EXISTS, so re-running never modifies existing data.
func (s *Store) InitSchema(ctx context.Context) error {
	const op = "metastore.init_schema"

	embeddingCol := ""
	if s.cfg.PersistEmbeddings {
		embeddingCol = fmt.Sprintf("embedding vector(%d),", s.textDim)
	}

	schema := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	email TEXT NOT NULL,
	pw_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_login_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS users_email_lower_idx ON users (LOWER(email));

CREATE TABLE IF NOT EXISTS spaces (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	is_default BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS spaces_one_default_idx
	ON spaces (user_id) WHERE is_default;
CREATE INDEX IF NOT EXISTS spaces_user_idx ON spaces (user_id);

CREATE TABLE IF NOT EXISTS documents (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	space_id UUID NOT NULL REFERENCES spaces(id) ON DELETE CASCADE,
	source_type TEXT NOT NULL,
	file_name TEXT NOT NULL,
	blob_url TEXT,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS documents_tenant_idx ON documents (user_id, space_id);
CREATE INDEX IF NOT EXISTS documents_created_idx ON documents (created_at);

CREATE TABLE IF NOT EXISTS chunks (
	id UUID PRIMARY KEY,
	document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	%s
	content_tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('%s', content)) STORED,
	char_count INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks (document_id);
CREATE INDEX IF NOT EXISTS chunks_tsv_idx ON chunks USING GIN (content_tsv);

CREATE TABLE IF NOT EXISTS image_assets (
	id UUID PRIMARY KEY,
	document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	file_path TEXT NOT NULL,
	thumbnail_path TEXT,
	caption TEXT,
	ocr_text TEXT,
	tags TEXT[] NOT NULL DEFAULT '{}',
	embedding vector(%d),
	native_width INTEGER,
	native_height INTEGER,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS image_assets_document_idx ON image_assets (document_id);
CREATE INDEX IF NOT EXISTS image_assets_user_idx ON image_assets (user_id);

CREATE TABLE IF NOT EXISTS research_sessions (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	space_id UUID NOT NULL REFERENCES spaces(id) ON DELETE CASCADE,
	title TEXT,
	messages JSONB NOT NULL DEFAULT '[]'::jsonb,
	notebook_entries JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS research_sessions_tenant_idx ON research_sessions (user_id, space_id);

CREATE TABLE IF NOT EXISTS activity (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	details JSONB NOT NULL DEFAULT '{}'::jsonb,
	ts TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS activity_user_ts_idx ON activity (user_id, ts DESC);
`, embeddingCol, s.cfg.TextSearchConfig, s.imageDim)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		// The ivfflat/ANN index below may legitimately fail on tiny tables;
		// the base schema must not.
		return classify(op, err)
	}

	if s.cfg.PersistEmbeddings {
		ann := `
DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = current_schema() AND indexname = 'chunks_embedding_idx'
	) THEN
		EXECUTE 'CREATE INDEX chunks_embedding_idx ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);';
	END IF;
END
$$;`
		if _, err := s.pool.Exec(ctx, ann); err != nil && !strings.Contains(err.Error(), "ivfflat") {
			return classify(op, err)
		}
	}

	return nil
}
