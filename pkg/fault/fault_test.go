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

package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := New(KindNotFound, "metastore.get_document", "document %s not found", "x")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Contains(t, err.Error(), "metastore.get_document")

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, KindNotFound, KindOf(wrapped), "kind survives wrapping")

	assert.Equal(t, KindDeadline, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindDeadline, KindOf(context.Canceled))
	assert.Equal(t, KindInternal, KindOf(errors.New("anonymous")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestWrapPreservesChain(t *testing.T) {
	inner := errors.New("socket closed")
	err := Wrapf(KindTransient, "cache.get", inner, "get failed")

	require.Error(t, err)
	assert.True(t, errors.Is(err, inner))
	assert.True(t, Retryable(err))

	assert.Nil(t, Wrap(KindTransient, "op", nil), "nil in, nil out")
}

func TestWireNames(t *testing.T) {
	names := map[Kind]string{
		KindValidation:  "bad_request",
		KindNotFound:    "not_found",
		KindConflict:    "conflict",
		KindForbidden:   "forbidden",
		KindUnsupported: "unsupported",
		KindTransient:   "transient_upstream",
		KindDeadline:    "deadline_exceeded",
		KindInternal:    "internal",
	}
	for kind, want := range names {
		assert.Equal(t, want, kind.String())
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(KindTransient, "op", "x")))
	assert.False(t, Retryable(New(KindValidation, "op", "x")))
	assert.False(t, Retryable(nil))
}
