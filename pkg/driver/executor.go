// pkg/driver/executor.go
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"serial-core/internal/port"
	"serial-core/pkg/behavior"
	"serial-core/pkg/trace"
)

// executor wraps a single read or write against one connection with retry
// policy, timeout enforcement and trace emission. The overall operation
// deadline is authoritative: retries and backoff sleeps are always clamped
// so the caller never waits longer than the requested timeout.
type executor struct {
	connID   string
	cfg      ConnectionConfig
	behavior behavior.Behavior
	sink     trace.Sink
	logger   *zap.Logger
	sinkOnce sync.Once
}

// ioResult carries one raw I/O attempt's outcome across the goroutine
// boundary.
type ioResult struct {
	data []byte
	err  error
}

// run executes the operation against the given handle. The second return
// value reports whether a raw I/O call was abandoned at the deadline; the
// handle is then considered stuck and must be closed and reopened by the
// owner before further use.
func (e *executor) run(ctx context.Context, h port.Handle, op Operation) (OperationResult, bool) {
	start := time.Now()

	timeout := op.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	retries := op.Retries
	if retries < 0 {
		retries = e.cfg.Retries
	}
	if op.CorrelationID == uuid.Nil {
		op.CorrelationID = uuid.New()
	}

	deadline := start.Add(timeout)

	// Per-attempt bound: explicit configuration wins, otherwise every
	// attempt gets a fair share of the operation budget.
	perAttempt := e.cfg.AttemptTimeout
	if perAttempt <= 0 {
		perAttempt = timeout / time.Duration(retries+1)
	}
	if perAttempt <= 0 {
		perAttempt = timeout
	}

	e.emit(op, trace.PhaseStart, 0, string(op.Kind), nil)

	attempt := 0
	for {
		// Checkpoint: cooperative cancellation and the authoritative
		// deadline are both observed here, between raw I/O calls.
		if err := ctx.Err(); err != nil {
			return e.fail(op, start, attempt, KindCancelled,
				fmt.Errorf("%w: %v", ErrCancelled, err)), false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return e.timedOut(op, start, attempt, "deadline exceeded"), false
		}

		attempt++
		e.emit(op, trace.PhaseAttempt, attempt, "", nil)

		bound := perAttempt
		if remaining < bound {
			bound = remaining
		}

		data, abandoned, err := e.attemptIO(h, op, bound)
		if abandoned {
			return e.timedOut(op, start, attempt, "raw i/o abandoned at deadline"), true
		}
		if err == nil {
			e.emit(op, trace.PhaseSuccess, attempt, fmt.Sprintf("%d bytes", len(data)), nil)
			return OperationResult{
				Outcome:       OutcomeSuccess,
				Data:          data,
				Attempts:      attempt,
				Elapsed:       time.Since(start),
				CorrelationID: op.CorrelationID,
			}, false
		}

		kind, retryable := classifyIOError(err, e.behavior)
		if !retryable || attempt > retries {
			return e.fail(op, start, attempt, kind, err), false
		}

		delay := e.cfg.Backoff.delay(attempt)
		if until := time.Until(deadline); delay > until {
			delay = until
		}
		e.emit(op, trace.PhaseRetry, attempt, fmt.Sprintf("retrying in %s", delay), err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// The checkpoint at the top of the loop reports cancellation.
		}
	}
}

// attemptIO performs one encode + raw I/O + decode cycle, bounded by the
// given duration. The raw call runs on its own goroutine so an I/O
// primitive without native timeout support can still be abandoned; the
// goroutine unblocks once the owner closes the handle.
func (e *executor) attemptIO(h port.Handle, op Operation, bound time.Duration) ([]byte, bool, error) {
	done := make(chan ioResult, 1)

	switch op.Kind {
	case OperationWrite:
		raw, err := e.behavior.Encode(op.Payload)
		if err != nil {
			return nil, false, fmt.Errorf("encode failed: %w", err)
		}
		go func() {
			n, err := h.Write(raw)
			if err == nil && n != len(raw) {
				err = fmt.Errorf("%w: incomplete write, wrote %d of %d bytes", ErrTransient, n, len(raw))
			}
			done <- ioResult{err: err}
		}()

	case OperationRead:
		length := op.Length
		go func() {
			buffer := make([]byte, length)
			n, err := h.Read(buffer)
			if err != nil {
				done <- ioResult{err: err}
				return
			}
			data := make([]byte, n)
			copy(data, buffer[:n])
			done <- ioResult{data: data}
		}()

	default:
		return nil, false, fmt.Errorf("%w: unknown operation kind %q", ErrInvalidConfig, op.Kind)
	}

	timer := time.NewTimer(bound)
	defer timer.Stop()

	select {
	case result := <-done:
		if result.err != nil {
			return nil, false, result.err
		}
		if op.Kind == OperationRead {
			decoded, err := e.behavior.Decode(result.data)
			if err != nil {
				return nil, false, fmt.Errorf("decode failed: %w", err)
			}
			return decoded, false, nil
		}
		return nil, false, nil

	case <-timer.C:
		return nil, true, nil
	}
}

// fail emits the failure trace event and builds the failed result.
func (e *executor) fail(op Operation, start time.Time, attempt int, kind ErrorKind, err error) OperationResult {
	sentinel := kindError(kind)
	if !errors.Is(err, sentinel) {
		err = fmt.Errorf("%w: %v", sentinel, err)
	}

	e.emit(op, trace.PhaseFailure, attempt, string(kind), err)
	return OperationResult{
		Outcome:       OutcomeFailed,
		Kind:          kind,
		Err:           err,
		Attempts:      attempt,
		Elapsed:       time.Since(start),
		CorrelationID: op.CorrelationID,
	}
}

// timedOut emits the timeout trace event and builds the timed-out result.
func (e *executor) timedOut(op Operation, start time.Time, attempt int, detail string) OperationResult {
	e.emit(op, trace.PhaseTimeout, attempt, detail, ErrTimedOut)
	return OperationResult{
		Outcome:       OutcomeTimedOut,
		Err:           ErrTimedOut,
		Attempts:      attempt,
		Elapsed:       time.Since(start),
		CorrelationID: op.CorrelationID,
	}
}

// emit records one trace event. A failing sink must never break the data
// path: panics are swallowed and logged a single time per connection.
func (e *executor) emit(op Operation, phase trace.Phase, attempt int, detail string, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.sinkOnce.Do(func() {
				e.logger.Error("Trace sink failed, suppressing further reports",
					zap.String("connection_id", e.connID),
					zap.Any("panic", r),
				)
			})
		}
	}()

	event := trace.Event{
		ConnectionID:  e.connID,
		CorrelationID: op.CorrelationID,
		Phase:         phase,
		Timestamp:     time.Now(),
		Attempt:       attempt,
		Detail:        detail,
	}
	if err != nil {
		event.Error = err.Error()
	}

	e.sink.Record(event)
}
