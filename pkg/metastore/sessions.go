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
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// messageRetention bounds the stored conversation history.
const messageRetention = 40

// CreateResearchSession starts a new research conversation.
func (s *Store) CreateResearchSession(ctx context.Context, userID, spaceID uuid.UUID, title string) (*ResearchSession, error) {
	const op = "metastore.create_research_session"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	sess := &ResearchSession{
		ID:        uuid.New(),
		UserID:    userID,
		SpaceID:   spaceID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.pool.Exec(ctx, `
INSERT INTO research_sessions (id, user_id, space_id, title, messages, notebook_entries, created_at, updated_at)
VALUES ($1, $2, $3, $4, '[]'::jsonb, '[]'::jsonb, $5, $5)`,
		sess.ID, sess.UserID, sess.SpaceID, sess.Title, now); err != nil {
		return nil, classify(op, err)
	}
	return sess, nil
}

// LoadResearchSession reads a session scoped to its owner, retaining only
// the most recent messages.
func (s *Store) LoadResearchSession(ctx context.Context, userID, sessionID uuid.UUID) (*ResearchSession, error) {
	const op = "metastore.load_research_session"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var sess ResearchSession
	var messagesJSON, notebookJSON []byte
	err := s.pool.QueryRow(ctx, `
SELECT id, user_id, space_id, COALESCE(title, ''), messages, notebook_entries, created_at, updated_at
FROM research_sessions WHERE id = $1 AND user_id = $2`, sessionID, userID).Scan(
		&sess.ID, &sess.UserID, &sess.SpaceID, &sess.Title, &messagesJSON, &notebookJSON,
		&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, classify(op, err)
	}

	if err := json.Unmarshal(messagesJSON, &sess.Messages); err != nil {
		return nil, classify(op, err)
	}
	if err := json.Unmarshal(notebookJSON, &sess.NotebookEntries); err != nil {
		return nil, classify(op, err)
	}
	if len(sess.Messages) > messageRetention {
		sess.Messages = sess.Messages[len(sess.Messages)-messageRetention:]
	}
	return &sess, nil
}

// SaveResearchSession persists the session state. Last-writer-wins is
// acceptable: a session has a single owner.
func (s *Store) SaveResearchSession(ctx context.Context, sess *ResearchSession) error {
	const op = "metastore.save_research_session"

	if len(sess.Messages) > messageRetention {
		sess.Messages = sess.Messages[len(sess.Messages)-messageRetention:]
	}
	messagesJSON, err := json.Marshal(sess.Messages)
	if err != nil {
		return classify(op, err)
	}
	notebook := sess.NotebookEntries
	if notebook == nil {
		notebook = []string{}
	}
	notebookJSON, err := json.Marshal(notebook)
	if err != nil {
		return classify(op, err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sess.UpdatedAt = time.Now().UTC()
	if _, err := s.pool.Exec(ctx, `
UPDATE research_sessions
SET title = $3, messages = $4, notebook_entries = $5, updated_at = $6
WHERE id = $1 AND user_id = $2`,
		sess.ID, sess.UserID, sess.Title, messagesJSON, notebookJSON, sess.UpdatedAt); err != nil {
		return classify(op, err)
	}
	return nil
}
