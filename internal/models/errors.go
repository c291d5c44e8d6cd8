package models

import (
	"errors"
	"fmt"
)

// Kind is one of the abstract error kinds carried end-to-end from a
// component failure to the stable, user-visible API error (§7).
type Kind string

const (
	KindIOError          Kind = "io_error"
	KindAuthError        Kind = "auth_error"
	KindDecodeError      Kind = "decode_error"
	KindCatalogCorrupt   Kind = "catalog_corrupt"
	KindCatalogBusy      Kind = "catalog_busy"
	KindRingLagged       Kind = "ring_lagged"
	KindQuotaExceeded    Kind = "quota_exceeded"
	KindInvalidConfig    Kind = "invalid_config"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindDeadlineExceeded Kind = "deadline_exceeded"
	KindShutdown         Kind = "shutdown"
)

// CoreError wraps an underlying error with a stable Kind and the operation
// that produced it, so API handlers and lifecycle callers can branch on
// Kind without parsing messages.
type CoreError struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped error.
func (e *CoreError) Unwrap() error {
	return e.Err
}

// NewError constructs a CoreError for the given operation and kind.
func NewError(op string, kind Kind, err error) *CoreError {
	return &CoreError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *CoreError, otherwise reports false.
func KindOf(err error) (Kind, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for stream descriptors and catalog queries.
var (
	ErrNameRequired       = errors.New("name is required")
	ErrInvalidName        = errors.New("name must match [A-Za-z0-9_-]+")
	ErrURIRequired        = errors.New("source uri is required")
	ErrInvalidPriority    = errors.New("priority must be between 1 and 10")
	ErrInvalidTimeRange   = errors.New("end time must be after start time")
	ErrStreamNotFound     = errors.New("stream not found")
	ErrSegmentNotFound    = errors.New("segment not found")
	ErrDuplicateStream    = errors.New("stream name already exists")
)
