// Package capability defines the error surface shared by all model
// capability backends (VAD, recognition, alignment, diarization, correction).
//
// Pipeline stages dispatch on the error kind rather than on backend-specific
// error types: an out-of-memory failure triggers cache release and a skipped
// buffer, while internal failures degrade the affected stage only.
package capability

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a capability failure.
type Kind string

const (
	// KindOOM means the accelerator ran out of memory. The operation may
	// succeed after caches are released.
	KindOOM Kind = "oom"

	// KindUnavailable means the backend could not be reached or is not
	// loaded.
	KindUnavailable Kind = "unavailable"

	// KindInternal covers every other backend failure.
	KindInternal Kind = "internal"
)

// Error is the uniform error type returned by capability backends.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op names the failing operation (e.g., "silero: detect").
	Op string

	// Err is the underlying cause. May be nil.
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// OOM wraps err as an out-of-memory capability error.
func OOM(op string, err error) error {
	return &Error{Kind: KindOOM, Op: op, Err: err}
}

// Unavailable wraps err as a backend-unavailable capability error.
func Unavailable(op string, err error) error {
	return &Error{Kind: KindUnavailable, Op: op, Err: err}
}

// Internal wraps err as an internal capability error.
func Internal(op string, err error) error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// IsOOM reports whether err (or anything it wraps) is an out-of-memory
// capability error.
func IsOOM(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == KindOOM
}

// IsUnavailable reports whether err is a backend-unavailable capability error.
func IsUnavailable(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == KindUnavailable
}

// CacheReleaser is implemented by backends that hold GPU-side caches which
// can be dropped to recover from memory pressure. The resource supervisor
// invokes ReleaseCache after an out-of-memory failure.
type CacheReleaser interface {
	ReleaseCache(ctx context.Context) error
}
