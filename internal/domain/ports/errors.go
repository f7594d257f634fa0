package ports

import (
	"errors"
	"fmt"
	"strings"

	"netsync/internal/domain/models"
)

// Standard inventory errors
var (
	// ErrNotFound is returned when the requested entity is not found
	ErrNotFound = errors.New("entity not found")
)

// TransportError is a connection level failure. It is the only retryable error.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport error: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// NotFoundError reports a missing remote entity or reference
type NotFoundError struct {
	Kind models.EntityKind
	Key  string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// Is matches ErrNotFound
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConflictError reports a duplicate natural key within one side of a comparison
type ConflictError struct {
	Kind models.EntityKind
	Key  string
	Side string
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	return fmt.Sprintf("duplicate %s key %q in %s records", e.Kind, e.Key, e.Side)
}

// RejectedError is an application level rejection (4xx). It is never retried.
type RejectedError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface
func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected with status %d: %s", e.StatusCode, e.Message)
}

// PartialBatchError reports the items a bulk call rejected. Committed is
// set when every item not listed in Failed was written; otherwise the call
// wrote nothing.
type PartialBatchError struct {
	Kind      models.EntityKind
	Total     int
	Failed    []Result
	Committed bool
}

// Error implements the error interface
func (e *PartialBatchError) Error() string {
	keys := make([]string, 0, len(e.Failed))
	for _, r := range e.Failed {
		keys = append(keys, r.Key)
	}
	return fmt.Sprintf("bulk %s: %d of %d items rejected (%s)", e.Kind, len(e.Failed), e.Total, strings.Join(keys, ", "))
}

// IsTransient reports whether err may succeed on retry
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a duplicate key conflict
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
