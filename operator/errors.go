package operator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// UnknownSchemeError is returned when no backend is registered for a scheme.
type UnknownSchemeError struct {
	Scheme string
}

func (err UnknownSchemeError) Error() string {
	return fmt.Sprintf("storage scheme not registered: %s", err.Scheme)
}

// DuplicateSchemeError is returned when a scheme is registered twice.
type DuplicateSchemeError struct {
	Scheme string
}

func (err DuplicateSchemeError) Error() string {
	return fmt.Sprintf("storage scheme already registered: %s", err.Scheme)
}

// InvalidConfigError records a configuration parameter rejected by a
// backend's schema.
type InvalidConfigError struct {
	Scheme string
	Key    string
	Reason string
}

func (err InvalidConfigError) Error() string {
	if err.Scheme == "" {
		return fmt.Sprintf("invalid parameter %q: %s", err.Key, err.Reason)
	}
	return fmt.Sprintf("%s: invalid parameter %q: %s", err.Scheme, err.Key, err.Reason)
}

// BackendConstructionError wraps the failure of a backend constructor.
type BackendConstructionError struct {
	Scheme string
	Err    error
}

func (err BackendConstructionError) Error() string {
	return fmt.Sprintf("%s: unable to construct backend: %v", err.Scheme, err.Err)
}

func (err BackendConstructionError) Unwrap() error { return err.Err }

// UnsupportedOperationError is returned, before any I/O, when an operation is
// outside the Operator's current capability.
type UnsupportedOperationError struct {
	Op         Operation
	Capability Capability
}

func (err UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported operation %s (capability: %s)", err.Op, err.Capability.Operations())
}

// RetryExhaustedError is returned when every attempt of a retried operation
// failed with a retryable error.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (err RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", err.Attempts, err.Err)
}

func (err RetryExhaustedError) Unwrap() error { return err.Err }

// ConcurrencyLimitTimeoutError is returned when a concurrency slot could not
// be acquired within the configured wait.
type ConcurrencyLimitTimeoutError struct {
	Limit int64
	Wait  time.Duration
}

func (err ConcurrencyLimitTimeoutError) Error() string {
	return fmt.Sprintf("no concurrency slot available (limit %d) within %s", err.Limit, err.Wait)
}

// IOError is an opaque failure reported by a backend. The backend decides
// whether the failure is transient by setting Retryable.
type IOError struct {
	Scheme    string
	Op        string
	Path      string
	Err       error
	Retryable bool
}

func (err IOError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", err.Scheme, err.Op, err.Path, err.Err)
}

func (err IOError) Unwrap() error { return err.Err }

// Temporary reports whether the failure may succeed when attempted again.
func (err IOError) Temporary() bool { return err.Retryable }

// PathNotFoundError is returned when operating on a nonexistent path.
type PathNotFoundError struct {
	Path string
}

func (err PathNotFoundError) Error() string {
	return fmt.Sprintf("path not found: %s", err.Path)
}

// InvalidPathError is returned when the provided path is malformed.
type InvalidPathError struct {
	Path string
}

func (err InvalidPathError) Error() string {
	return fmt.Sprintf("invalid path: %s", err.Path)
}

// WriteLimitError is returned when a payload exceeds the Operator's
// MaxWriteSize limit.
type WriteLimitError struct {
	Path  string
	Size  int64
	Limit int64
}

func (err WriteLimitError) Error() string {
	return fmt.Sprintf("write of %d bytes to %s exceeds limit of %d bytes", err.Size, err.Path, err.Limit)
}

// IsRetryable reports whether err, or any error it wraps, is a backend
// failure classified as transient. Errors that already went through a retry
// layer are not.
func IsRetryable(err error) bool {
	if errors.As(err, new(RetryExhaustedError)) {
		return false
	}
	var ioErr IOError
	if errors.As(err, &ioErr) {
		return ioErr.Retryable
	}
	return false
}

// IsNotFound reports whether err is, or wraps, a PathNotFoundError.
func IsNotFound(err error) bool {
	var notFound PathNotFoundError
	return errors.As(err, &notFound)
}

// IsClassified reports whether err already belongs to the error taxonomy of
// this package, or is a context error, and must be returned unchanged.
func IsClassified(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch {
	case errors.As(err, new(IOError)),
		errors.As(err, new(PathNotFoundError)),
		errors.As(err, new(InvalidPathError)),
		errors.As(err, new(UnsupportedOperationError)),
		errors.As(err, new(WriteLimitError)),
		errors.As(err, new(RetryExhaustedError)),
		errors.As(err, new(ConcurrencyLimitTimeoutError)),
		errors.As(err, new(InvalidConfigError)):
		return true
	}
	return false
}
