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

package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/kadirpekel/sage/pkg/fault"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxEmail  contextKey = "user_email"
)

// Header names the fronting gateway fills after authenticating the session.
const (
	headerUserID = "X-User-ID"
	headerEmail  = "X-User-Email"
)

// requireTenant rejects requests without a resolved user identity.
func (s *Server) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(headerUserID)
		if raw == "" {
			writeError(w, fault.New(fault.KindForbidden, "server.auth", "missing user identity"))
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, fault.New(fault.KindForbidden, "server.auth", "invalid user identity"))
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserID, userID)
		if email := r.Header.Get(headerEmail); email != "" {
			ctx = context.WithValue(ctx, ctxEmail, email)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userFrom returns the authenticated user id.
func userFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxUserID).(uuid.UUID)
	return id
}

// emailFrom returns the authenticated email, if supplied.
func emailFrom(ctx context.Context) string {
	email, _ := ctx.Value(ctxEmail).(string)
	return email
}

// resolveSpace validates the requested space against the tenant, falling
// back to the user's default space when none is requested.
func (s *Server) resolveSpace(ctx context.Context, userID uuid.UUID, raw string) (uuid.UUID, error) {
	const op = "server.resolve_space"

	if raw == "" {
		space, err := s.deps.Meta.EnsureDefaultSpace(ctx, userID)
		if err != nil {
			return uuid.Nil, err
		}
		return space.ID, nil
	}

	spaceID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fault.New(fault.KindValidation, op, "invalid space_id")
	}
	if _, err := s.deps.Meta.GetSpace(ctx, userID, spaceID); err != nil {
		return uuid.Nil, err
	}
	return spaceID, nil
}
