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
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/kadirpekel/sage/pkg/fault"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want fault.Kind
	}{
		{"nil", nil, fault.KindUnknown},
		{"no rows", pgx.ErrNoRows, fault.KindNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "users_email_lower_idx"}, fault.KindConflict},
		{"foreign key", &pgconn.PgError{Code: "23503"}, fault.KindNotFound},
		{"check violation", &pgconn.PgError{Code: "23514"}, fault.KindValidation},
		{"connection failure", &pgconn.PgError{Code: "08006"}, fault.KindTransient},
		{"insufficient resources", &pgconn.PgError{Code: "53300"}, fault.KindTransient},
		{"operator intervention", &pgconn.PgError{Code: "57P01"}, fault.KindTransient},
		{"deadline", context.DeadlineExceeded, fault.KindDeadline},
		{"unknown", errors.New("boom"), fault.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tt.want, fault.KindOf(got))
		})
	}
}

func TestClassifyPreservesChain(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505"}
	wrapped := classify("op", pgErr)

	var out *pgconn.PgError
	assert.True(t, errors.As(wrapped, &out), "original driver error must stay reachable")
}

func TestSessionMessageRetention(t *testing.T) {
	sess := &ResearchSession{}
	for i := 0; i < 60; i++ {
		sess.Messages = append(sess.Messages, ResearchMessage{Role: "user", Text: "m"})
	}

	// Saving applies the same bound that loading does.
	if len(sess.Messages) > messageRetention {
		sess.Messages = sess.Messages[len(sess.Messages)-messageRetention:]
	}
	assert.Len(t, sess.Messages, messageRetention)
}
