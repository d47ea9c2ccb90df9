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
	"time"

	"github.com/google/uuid"
)

// InsertActivity appends one audit-log entry.
func (s *Store) InsertActivity(ctx context.Context, userID uuid.UUID, kind ActivityKind, details map[string]any) error {
	const op = "metastore.insert_activity"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if details == nil {
		details = map[string]any{}
	}
	if _, err := s.pool.Exec(ctx, `
INSERT INTO activity (id, user_id, kind, details, ts)
VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), userID, string(kind), details, time.Now().UTC()); err != nil {
		return classify(op, err)
	}
	return nil
}

// ListActivity returns a user's recent activity, newest first.
func (s *Store) ListActivity(ctx context.Context, userID uuid.UUID, limit int) ([]Activity, error) {
	const op = "metastore.list_activity"

	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, kind, details, ts
FROM activity WHERE user_id = $1
ORDER BY ts DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var entries []Activity
	for rows.Next() {
		var a Activity
		var kind string
		if err := rows.Scan(&a.ID, &a.UserID, &kind, &a.Details, &a.TS); err != nil {
			return nil, classify(op, err)
		}
		a.Kind = ActivityKind(kind)
		entries = append(entries, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return entries, nil
}
