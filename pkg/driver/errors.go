// pkg/driver/errors.go
package driver

import (
	"errors"

	"serial-core/internal/port"
	"serial-core/pkg/behavior"
)

// Predefined error types for robust error handling
var (
	// Registry and configuration errors, returned synchronously and never
	// retried.
	ErrDuplicateID   = errors.New("connection id already registered")
	ErrNotFound      = errors.New("connection not found")
	ErrInvalidConfig = errors.New("invalid connection configuration")
	ErrBusy          = errors.New("operation in flight")
	ErrAlreadyOpen   = errors.New("connection already open")

	// Connection lifecycle errors
	ErrNotConnected      = errors.New("connection not established")
	ErrConnectionClosed  = errors.New("connection is closed")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrPermissionDenied  = errors.New("permission denied")

	// Operation pipeline errors
	ErrTransient     = errors.New("transient i/o error")
	ErrDeviceRemoved = errors.New("device removed")
	ErrProtocol      = errors.New("protocol error")
	ErrTimedOut      = errors.New("operation timed out")
	ErrCancelled     = errors.New("operation cancelled")
)

// ErrorKind classifies a failed operation for the caller and for trace
// consumers.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindTransient        ErrorKind = "TRANSIENT"
	KindDeviceRemoved    ErrorKind = "DEVICE_REMOVED"
	KindPermissionDenied ErrorKind = "PERMISSION_DENIED"
	KindProtocol         ErrorKind = "PROTOCOL_ERROR"
	KindCancelled        ErrorKind = "CANCELLED"
)

// classifyIOError maps a raw I/O error onto an error kind and decides
// whether the retry loop may try again. The device behavior is consulted
// first so modular implementations can override the policy for error
// classes they understand (a checksum-correctable glitch, a known-fatal
// status code).
func classifyIOError(err error, b behavior.Behavior) (ErrorKind, bool) {
	if b != nil {
		switch b.Classify(err) {
		case behavior.ClassTransient:
			return KindTransient, true
		case behavior.ClassFatal:
			return kindOf(err), false
		}
	}

	kind := kindOf(err)
	return kind, kind == KindTransient
}

// kindOf derives the default error kind from the error chain.
func kindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, port.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, port.ErrNotFound), errors.Is(err, port.ErrClosed):
		return KindDeviceRemoved
	case errors.Is(err, behavior.ErrProtocol), errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	default:
		// Hardware-level read timeouts and unrecognized bus errors are
		// treated as transient and handed to the retry policy.
		return KindTransient
	}
}

// kindError returns the sentinel matching an error kind, for wrapping into
// operation results.
func kindError(kind ErrorKind) error {
	switch kind {
	case KindDeviceRemoved:
		return ErrDeviceRemoved
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindProtocol:
		return ErrProtocol
	case KindCancelled:
		return ErrCancelled
	default:
		return ErrTransient
	}
}
