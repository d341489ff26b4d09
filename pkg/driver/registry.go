// pkg/driver/registry.go
package driver

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"go.uber.org/zap"

	"serial-core/internal/port"
	"serial-core/pkg/behavior"
	"serial-core/pkg/trace"
)

// Registry is the thread-safe map from connection identifier to connection
// and the single source of truth for that mapping. Lookups for different
// ids never contend on connection state; register and remove take the map
// lock only, never a connection's own serialization.
//
// A registry is explicit process-scoped state: construct one per process
// (or per test) and tear it down with Shutdown.
type Registry struct {
	mutex       sync.RWMutex
	connections map[string]*Connection
	logger      *zap.Logger
	sink        trace.Sink
	opener      port.Opener
}

// NewRegistry creates an empty registry. A nil logger disables logging and
// a nil sink disables tracing.
func NewRegistry(logger *zap.Logger, sink trace.Sink) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = trace.NopSink{}
	}

	return &Registry{
		connections: make(map[string]*Connection),
		logger:      logger.With(zap.String("component", "registry")),
		sink:        sink,
		opener:      port.Open,
	}
}

// Register creates a connection for the given id in state Disconnected.
// The configuration is validated structurally; the port itself is not
// touched until the first open. A nil behavior gets the raw passthrough.
func (r *Registry) Register(id string, cfg ConnectionConfig, b behavior.Behavior) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}

	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}
	if b == nil {
		b = behavior.NewRawPassthrough()
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.connections[id]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateID, id)
	}

	r.connections[id] = newConnection(id, cfg, b, r.opener, r.sink, r.logger)

	r.logger.Info("Connection registered",
		zap.String("connection_id", id),
		zap.String("path", cfg.Path),
		zap.String("behavior", b.Name()),
	)
	return nil
}

// Get returns the connection for issuing operations. The returned handle
// serializes its own operations; it never exposes the raw port.
func (r *Registry) Get(id string) (*Connection, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	conn, exists := r.connections[id]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return conn, nil
}

// Remove closes the connection and releases its port. An in-flight
// operation is waited for up to the connection's shutdown grace, after
// which closure is forced; with no grace configured a busy connection
// fails with Busy and stays registered.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mutex.Lock()
	conn, exists := r.connections[id]
	if !exists {
		r.mutex.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	r.mutex.Unlock()

	// The connection drain happens outside the map lock so removals of
	// different ids proceed in parallel.
	if err := conn.drainAndClose(); err != nil {
		return err
	}

	r.mutex.Lock()
	delete(r.connections, id)
	r.mutex.Unlock()

	r.logger.Info("Connection removed", zap.String("connection_id", id))
	return nil
}

// List yields a point-in-time snapshot of (id, state) pairs. The sequence
// is finite and restartable; it is not a live subscription.
func (r *Registry) List() iter.Seq2[string, ConnectionState] {
	r.mutex.RLock()
	snapshot := make(map[string]*Connection, len(r.connections))
	for id, conn := range r.connections {
		snapshot[id] = conn
	}
	r.mutex.RUnlock()

	return func(yield func(string, ConnectionState) bool) {
		for id, conn := range snapshot {
			if !yield(id, conn.State()) {
				return
			}
		}
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.connections)
}

// Shutdown drains and closes every connection, emptying the registry. The
// context bounds the overall teardown; per-connection waits still honor
// each connection's shutdown grace.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mutex.Lock()
	connections := r.connections
	r.connections = make(map[string]*Connection)
	r.mutex.Unlock()

	var errs []error
	for id, conn := range connections {
		if err := ctx.Err(); err != nil {
			// Out of time: force-close the remainder without draining.
			conn.Close()
			continue
		}
		if err := conn.drainAndClose(); err != nil && !errors.Is(err, ErrBusy) {
			errs = append(errs, fmt.Errorf("close %q: %w", id, err))
		} else if errors.Is(err, ErrBusy) {
			// Shutdown overrides Busy; the handle close unblocks the
			// in-flight call.
			conn.Close()
		}
	}

	r.logger.Info("Registry shut down", zap.Int("connections", len(connections)))
	return errors.Join(errs...)
}

// PortInfo describes one enumerated serial port.
type PortInfo = port.Info

// ListPorts enumerates the serial ports available on this system with
// their default link parameters.
func ListPorts() ([]PortInfo, error) {
	return port.List()
}
