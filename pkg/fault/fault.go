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

// Package fault defines the error kinds shared across the service.
//
// Every component creates or wraps its errors through this package so callers
// can branch on the kind (retry transient errors, surface validation errors,
// map to transport status codes) without knowing concrete error types.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for retry, surfacing and transport mapping.
type Kind int

const (
	// KindUnknown is the zero value; treat as internal.
	KindUnknown Kind = iota

	// KindValidation is a malformed request: bad mode, bad dimension, bad input.
	KindValidation

	// KindNotFound means the referenced entity does not exist.
	KindNotFound

	// KindConflict is a uniqueness or state conflict.
	KindConflict

	// KindForbidden is a tenancy violation.
	KindForbidden

	// KindUnsupported is a rejected file type or disabled capability.
	KindUnsupported

	// KindTransient is a temporary upstream failure; safe to retry.
	KindTransient

	// KindDeadline means a request or sub-call timed out.
	KindDeadline

	// KindInternal is an invariant violation; logged, never exposed in detail.
	KindInternal
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindUnsupported:
		return "unsupported"
	case KindTransient:
		return "transient_upstream"
	case KindDeadline:
		return "deadline_exceeded"
	default:
		return "internal"
	}
}

// Error is a classified error with the operation that produced it.
type Error struct {
	Kind    Kind   // Classification
	Op      string // Operation, e.g. "metastore.insert_chunks"
	Message string // Human-readable detail
	Err     error  // Underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error, preserving it for errors.Is/As.
// A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: "", Err: err}
}

// Wrapf classifies an existing error with a message.
func Wrapf(kind Kind, op string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of err, walking the wrap chain.
// Context deadline and cancellation errors classify as KindDeadline.
// Anything unclassified is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Kind != KindUnknown {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindDeadline
	}
	return KindInternal
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether err is worth retrying.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}
