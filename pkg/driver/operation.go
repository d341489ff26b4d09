// pkg/driver/operation.go
package driver

import (
	"time"

	"github.com/google/uuid"
)

// OperationKind is the direction of an operation.
type OperationKind string

const (
	OperationRead  OperationKind = "READ"
	OperationWrite OperationKind = "WRITE"
)

// Operation is one logical read or write request with its own timeout and
// retry budget. Operations are created per call and never persisted.
type Operation struct {
	Kind OperationKind

	// Payload is the logical bytes to write; ignored for reads.
	Payload []byte

	// Length is the requested read size; ignored for writes.
	Length int

	// Timeout is the overall deadline for this operation. Zero falls back
	// to the connection default.
	Timeout time.Duration

	// Retries is the retry budget after the initial attempt. Negative
	// falls back to the connection default.
	Retries int

	// CorrelationID ties the operation's trace events together. The zero
	// value is replaced with a fresh id at execution time.
	CorrelationID uuid.UUID
}

// NewRead builds a read operation for up to length bytes using the
// connection's default timeout and retry budget.
func NewRead(length int) Operation {
	return Operation{
		Kind:    OperationRead,
		Length:  length,
		Retries: -1,
	}
}

// NewWrite builds a write operation for the given payload using the
// connection's default timeout and retry budget.
func NewWrite(payload []byte) Operation {
	return Operation{
		Kind:    OperationWrite,
		Payload: payload,
		Retries: -1,
	}
}

// Outcome is the terminal status of an executed operation.
type Outcome string

const (
	OutcomeSuccess  Outcome = "SUCCESS"
	OutcomeTimedOut Outcome = "TIMED_OUT"
	OutcomeFailed   Outcome = "FAILED"
)

// OperationResult reports how an operation ended, with enough detail for
// trace and statistics consumers.
type OperationResult struct {
	Outcome Outcome

	// Data is the decoded read payload on success; nil for writes.
	Data []byte

	// Kind classifies the failure when Outcome is Failed.
	Kind ErrorKind

	// Err is the underlying failure, wrapped around the kind sentinel.
	Err error

	// Attempts is the number of raw I/O attempts performed.
	Attempts int

	// Elapsed is the wall-clock duration of the whole operation.
	Elapsed time.Duration

	// CorrelationID matches the trace events emitted for this operation.
	CorrelationID uuid.UUID
}

// OK reports whether the operation succeeded.
func (r OperationResult) OK() bool {
	return r.Outcome == OutcomeSuccess
}
