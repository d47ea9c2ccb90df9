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

	"github.com/kadirpekel/sage/pkg/fault"
)

// GetUserByEmail looks a user up case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	const op = "metastore.get_user_by_email"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var u User
	err := s.pool.QueryRow(ctx, `
SELECT id, email, pw_hash, created_at, last_login_at
FROM users WHERE LOWER(email) = LOWER($1)`, email).Scan(
		&u.ID, &u.Email, &u.PWHash, &u.CreatedAt, &u.LastLoginAt)
	if err != nil {
		return nil, classify(op, err)
	}
	return &u, nil
}

// TouchLastLogin records a login time; the only mutable user field.
func (s *Store) TouchLastLogin(ctx context.Context, userID uuid.UUID) error {
	const op = "metastore.touch_last_login"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.pool.Exec(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, userID); err != nil {
		return classify(op, err)
	}
	return nil
}

// GetSpace returns a space scoped to its owner.
func (s *Store) GetSpace(ctx context.Context, userID, spaceID uuid.UUID) (*Space, error) {
	const op = "metastore.get_space"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var sp Space
	err := s.pool.QueryRow(ctx, `
SELECT id, user_id, name, is_default, created_at
FROM spaces WHERE id = $1 AND user_id = $2`, spaceID, userID).Scan(
		&sp.ID, &sp.UserID, &sp.Name, &sp.IsDefault, &sp.CreatedAt)
	if err != nil {
		return nil, classify(op, err)
	}
	return &sp, nil
}

// ListSpaces returns a user's spaces, default first.
func (s *Store) ListSpaces(ctx context.Context, userID uuid.UUID) ([]Space, error) {
	const op = "metastore.list_spaces"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, name, is_default, created_at
FROM spaces WHERE user_id = $1
ORDER BY is_default DESC, created_at ASC`, userID)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var spaces []Space
	for rows.Next() {
		var sp Space
		if err := rows.Scan(&sp.ID, &sp.UserID, &sp.Name, &sp.IsDefault, &sp.CreatedAt); err != nil {
			return nil, classify(op, err)
		}
		spaces = append(spaces, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return spaces, nil
}

// CreateSpace creates a named space for the user.
func (s *Store) CreateSpace(ctx context.Context, userID uuid.UUID, name string, isDefault bool) (*Space, error) {
	const op = "metastore.create_space"

	if name == "" {
		return nil, fault.New(fault.KindValidation, op, "space name is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sp := Space{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		IsDefault: isDefault,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.pool.Exec(ctx, `
INSERT INTO spaces (id, user_id, name, is_default, created_at)
VALUES ($1, $2, $3, $4, $5)`,
		sp.ID, sp.UserID, sp.Name, sp.IsDefault, sp.CreatedAt); err != nil {
		return nil, classify(op, err)
	}
	return &sp, nil
}

// EnsureDefaultSpace returns the user's default space, creating it on first
// touch so every user always owns at least one space.
func (s *Store) EnsureDefaultSpace(ctx context.Context, userID uuid.UUID) (*Space, error) {
	const op = "metastore.ensure_default_space"

	ctx2, cancel := s.withTimeout(ctx)
	defer cancel()

	var sp Space
	err := s.pool.QueryRow(ctx2, `
SELECT id, user_id, name, is_default, created_at
FROM spaces WHERE user_id = $1 AND is_default`, userID).Scan(
		&sp.ID, &sp.UserID, &sp.Name, &sp.IsDefault, &sp.CreatedAt)
	if err == nil {
		return &sp, nil
	}
	kerr := classify(op, err)
	if fault.KindOf(kerr) != fault.KindNotFound {
		return nil, kerr
	}

	created, err := s.CreateSpace(ctx, userID, "My Space", true)
	if err != nil {
		// A concurrent creator may have won; the partial unique index makes
		// that a conflict, so read again.
		if fault.KindOf(err) == fault.KindConflict {
			return s.EnsureDefaultSpace(ctx, userID)
		}
		return nil, err
	}
	return created, nil
}
