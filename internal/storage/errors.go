// Package storage provides the persistence gateway: a retrying,
// validating wrapper around a key-value store. All durable reads and
// writes in the engine flow through it.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the closed classification of storage failures. Retryability
// is a property of the variant, produced at the I/O boundary, never a
// heuristic over error text.
type Kind string

const (
	KindTransient     Kind = "transient"
	KindTimeout       Kind = "timeout"
	KindValidation    Kind = "validation"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindPermission    Kind = "permission"
	KindCorruptData   Kind = "corrupt_data"
	KindCancelled     Kind = "cancelled"
)

// Retryable reports whether errors of this kind are eligible for
// automatic retry with backoff.
func (k Kind) Retryable() bool {
	return k == KindTransient || k == KindTimeout
}

// TaggedError carries a Kind alongside the underlying cause.
type TaggedError struct {
	Kind Kind
	Err  error
}

func (e *TaggedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TaggedError) Unwrap() error {
	return e.Err
}

// Tag wraps err with the given kind.
func Tag(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &TaggedError{Kind: kind, Err: err}
}

// Tagf wraps a formatted error with the given kind.
func Tagf(kind Kind, format string, args ...any) error {
	return &TaggedError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Classify resolves the kind of an arbitrary error. Untagged errors are
// treated as transient: generic I/O failures from the underlying store
// are exactly the case the retry loop exists for.
func Classify(err error) Kind {
	var tagged *TaggedError
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindTransient
}

// ErrInFlight is returned when an identical operation for the same key
// is still running; callers retry once the first settles.
var ErrInFlight = errors.New("operation already in flight")

// StorageError is the single wrapped error surfaced by the gateway after
// retries are exhausted. Callers never see the raw underlying error type.
type StorageError struct {
	Op   string
	Key  string
	Kind Kind
	Err  error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s (key %s): %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the wrapped failure was classified retryable.
func (e *StorageError) Retryable() bool {
	return e.Kind.Retryable()
}
