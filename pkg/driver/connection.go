// pkg/driver/connection.go
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"serial-core/internal/port"
	"serial-core/pkg/behavior"
	"serial-core/pkg/trace"
)

// ConnectionState is the lifecycle state of a connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateDegraded     ConnectionState = "DEGRADED"
	StateClosed       ConnectionState = "CLOSED"
)

// Stats provides connection-level statistics.
type Stats struct {
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	OperationCount int64         `json:"operation_count"`
	ErrorCount     int64         `json:"error_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
}

// Connection owns one serial endpoint: its handle, configuration and state.
// All operations on the endpoint are serialized through a single-slot queue
// so at most one raw I/O call is in flight at any time; concurrent callers
// block until the prior operation completes or times out. The handle is
// never shared outside the connection.
type Connection struct {
	id       string
	config   ConnectionConfig
	behavior behavior.Behavior
	logger   *zap.Logger
	exec     *executor
	opener   port.Opener

	// token is the single-slot operation queue.
	token chan struct{}

	mutex    sync.RWMutex
	state    ConnectionState
	handle   port.Handle
	lastErr  error
	failures int
	stats    Stats
}

// newConnection builds a connection in state Disconnected. Only the
// registry constructs connections; it is the single source of truth for
// the id to connection mapping.
func newConnection(id string, cfg ConnectionConfig, b behavior.Behavior, opener port.Opener, sink trace.Sink, logger *zap.Logger) *Connection {
	connLogger := logger.With(
		zap.String("connection_id", id),
		zap.String("path", cfg.Path),
	)

	return &Connection{
		id:       id,
		config:   cfg,
		behavior: b,
		logger:   connLogger,
		opener:   opener,
		token:    make(chan struct{}, 1),
		state:    StateDisconnected,
		exec: &executor{
			connID:   id,
			cfg:      cfg,
			behavior: b,
			sink:     sink,
			logger:   connLogger,
		},
	}
}

// ID returns the connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// Config returns a copy of the connection configuration.
func (c *Connection) Config() ConnectionConfig {
	return c.config
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnectionState {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.state
}

// LastError returns the error recorded at the last Degraded transition or
// failed open, nil when the connection is healthy.
func (c *Connection) LastError() error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.lastErr
}

// GetStats returns a snapshot of the connection statistics.
func (c *Connection) GetStats() Stats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.stats
}

// Open acquires the underlying port. It serializes against in-flight
// operations and fails with AlreadyOpen when the connection is connected.
func (c *Connection) Open(ctx context.Context) error {
	select {
	case c.token <- struct{}{}:
		defer func() { <-c.token }()
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}

	if c.State() == StateConnected {
		return ErrAlreadyOpen
	}
	return c.open()
}

// Execute runs one read or write through the operation pipeline. It is the
// sole entry point for I/O on the connection. When the connection is not
// connected, one implicit reconnect is attempted before failing with
// NotConnected. Configuration and lookup errors come back as the error
// return; pipeline outcomes, including timeouts and retried failures, are
// reported in the result.
func (c *Connection) Execute(ctx context.Context, op Operation) (OperationResult, error) {
	if err := validateOperation(op); err != nil {
		return OperationResult{}, err
	}

	// Callers queue here; this is intentional backpressure on a link that
	// is inherently single-stream.
	select {
	case c.token <- struct{}{}:
		defer func() { <-c.token }()
	case <-ctx.Done():
		return OperationResult{}, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}

	handle, err := c.ensureConnected(ctx)
	if err != nil {
		return OperationResult{}, err
	}

	result, dirty := c.exec.run(ctx, handle, op)
	c.afterRun(op, result, dirty)
	return result, nil
}

// Close transitions the connection to its terminal state and releases the
// port. It is safe to call in any state and from any goroutine: closing
// the handle also unblocks a stuck raw I/O call.
func (c *Connection) Close() error {
	c.mutex.Lock()
	if c.state == StateClosed {
		c.mutex.Unlock()
		return nil
	}
	c.state = StateClosed
	handle := c.handle
	c.handle = nil
	c.mutex.Unlock()

	if handle != nil {
		if err := handle.Close(); err != nil {
			c.logger.Error("Failed to close serial port", zap.Error(err))
			return fmt.Errorf("failed to close serial port: %w", err)
		}
	}

	c.logger.Info("Connection closed")
	return nil
}

// ensureConnected returns the live handle, reconnecting once when needed.
// Reconnection after a failure waits out the configured backoff first.
func (c *Connection) ensureConnected(ctx context.Context) (port.Handle, error) {
	c.mutex.RLock()
	state := c.state
	handle := c.handle
	failures := c.failures
	c.mutex.RUnlock()

	switch state {
	case StateClosed:
		return nil, ErrConnectionClosed
	case StateConnected:
		return handle, nil
	}

	if failures > 0 {
		delay := c.config.Backoff.delay(failures)
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
	}

	if err := c.open(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	c.mutex.RLock()
	handle = c.handle
	c.mutex.RUnlock()
	return handle, nil
}

// open performs the actual port acquisition. The caller must hold the
// operation token.
func (c *Connection) open() error {
	c.mutex.Lock()
	if c.state == StateClosed {
		c.mutex.Unlock()
		return ErrConnectionClosed
	}
	// A leftover handle from a Degraded link is released before reopening.
	if c.handle != nil {
		c.handle.Close()
		c.handle = nil
	}
	c.state = StateConnecting
	c.mutex.Unlock()

	c.logger.Info("Opening serial port",
		zap.Int("baud_rate", c.config.BaudRate),
		zap.Int("data_bits", c.config.DataBits),
		zap.String("parity", c.config.Parity),
	)

	handle, err := c.opener(port.Settings{
		Path:     c.config.Path,
		BaudRate: c.config.BaudRate,
		DataBits: c.config.DataBits,
		StopBits: c.config.StopBits,
		Parity:   c.config.Parity,
		Timeout:  c.attemptTimeout(),
	})

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state == StateClosed {
		// Closed while connecting; release the fresh handle immediately.
		if handle != nil {
			handle.Close()
		}
		return ErrConnectionClosed
	}

	if err != nil {
		mapped := mapOpenError(err)
		c.state = StateDisconnected
		c.lastErr = mapped
		c.failures++
		c.logger.Error("Failed to open serial port", zap.Error(err))
		return mapped
	}

	c.handle = handle
	c.state = StateConnected
	c.lastErr = nil
	c.failures = 0

	c.logger.Info("Serial port opened successfully")
	return nil
}

// afterRun applies the operation outcome to the connection state and
// statistics.
func (c *Connection) afterRun(op Operation, result OperationResult, dirty bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.stats.OperationCount++
	c.stats.LastActivity = time.Now()
	c.updateAverageLatency(result.Elapsed)

	switch {
	case dirty:
		// A raw call was abandoned at the deadline. The blocked call cannot
		// be interrupted cleanly, so the handle is closed to reclaim it and
		// the next operation reopens the port.
		c.stats.ErrorCount++
		if c.handle != nil {
			c.handle.Close()
			c.handle = nil
		}
		if c.state == StateConnected {
			c.state = StateDegraded
		}
		c.lastErr = ErrTimedOut
		c.failures++
		c.logger.Warn("Raw I/O abandoned at deadline, port will be reopened")

	case result.Outcome == OutcomeFailed && (result.Kind == KindTransient || result.Kind == KindDeviceRemoved):
		c.stats.ErrorCount++
		if c.handle != nil {
			c.handle.Close()
			c.handle = nil
		}
		if c.state == StateConnected {
			c.state = StateDegraded
		}
		c.lastErr = result.Err
		c.failures++
		c.logger.Warn("Connection degraded after repeated I/O failure",
			zap.String("error_kind", string(result.Kind)),
			zap.Error(result.Err),
		)

	case result.Outcome == OutcomeFailed, result.Outcome == OutcomeTimedOut:
		// Fatal-but-local failures (protocol, permission, cancellation) and
		// checkpoint timeouts leave the link itself usable.
		c.stats.ErrorCount++

	case result.Outcome == OutcomeSuccess:
		c.failures = 0
		switch op.Kind {
		case OperationRead:
			c.stats.BytesRead += int64(len(result.Data))
		case OperationWrite:
			c.stats.BytesWritten += int64(len(op.Payload))
		}
	}
}

// drainAndClose waits for an in-flight operation up to the shutdown grace,
// then forces closure. With no grace configured a busy connection is
// reported as Busy instead.
func (c *Connection) drainAndClose() error {
	grace := c.config.ShutdownGrace

	if grace <= 0 {
		select {
		case c.token <- struct{}{}:
			defer func() { <-c.token }()
			return c.Close()
		default:
			return ErrBusy
		}
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case c.token <- struct{}{}:
		defer func() { <-c.token }()
		return c.Close()
	case <-timer.C:
		c.logger.Warn("Shutdown grace expired, forcing closure",
			zap.Duration("grace", grace),
		)
		return c.Close()
	}
}

// attemptTimeout derives the hardware-level read timeout for the port.
func (c *Connection) attemptTimeout() time.Duration {
	if c.config.AttemptTimeout > 0 {
		return c.config.AttemptTimeout
	}
	return c.config.Timeout / time.Duration(c.config.Retries+1)
}

// updateAverageLatency keeps a simple half-weight running average.
func (c *Connection) updateAverageLatency(latency time.Duration) {
	if c.stats.AverageLatency == 0 {
		c.stats.AverageLatency = latency
	} else {
		c.stats.AverageLatency = (c.stats.AverageLatency + latency) / 2
	}
}

// validateOperation rejects structurally invalid operations before they
// enter the pipeline.
func validateOperation(op Operation) error {
	switch op.Kind {
	case OperationRead:
		if op.Length <= 0 {
			return fmt.Errorf("%w: read length must be positive, got %d", ErrInvalidConfig, op.Length)
		}
	case OperationWrite:
		if len(op.Payload) == 0 {
			return fmt.Errorf("%w: write payload must not be empty", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown operation kind %q", ErrInvalidConfig, op.Kind)
	}
	if op.Timeout < 0 {
		return fmt.Errorf("%w: operation timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}

// mapOpenError translates port-layer open failures onto the public
// taxonomy.
func mapOpenError(err error) error {
	switch {
	case errors.Is(err, port.ErrPermissionDenied):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, port.ErrNotFound), errors.Is(err, port.ErrBusy):
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	case errors.Is(err, port.ErrInvalidSettings):
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
}
