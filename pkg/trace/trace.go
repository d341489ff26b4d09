// pkg/trace/trace.go
package trace

import (
	"time"

	"github.com/google/uuid"
)

// Phase identifies the pipeline stage an event was emitted from.
type Phase string

const (
	PhaseStart   Phase = "START"
	PhaseAttempt Phase = "ATTEMPT"
	PhaseRetry   Phase = "RETRY"
	PhaseTimeout Phase = "TIMEOUT"
	PhaseSuccess Phase = "SUCCESS"
	PhaseFailure Phase = "FAILURE"
)

// Event is one structured record of a pipeline phase. Events are append-only
// and carry no control-flow meaning; statistics and reporting tooling consume
// them as its sole input.
type Event struct {
	ConnectionID  string    `json:"connection_id"`
	CorrelationID uuid.UUID `json:"correlation_id"`
	Phase         Phase     `json:"phase"`
	Timestamp     time.Time `json:"timestamp"`
	Attempt       int       `json:"attempt"`
	Detail        string    `json:"detail,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Sink receives trace events. Record must not block the operation pipeline
// and must never fail it; a misbehaving sink is the sink's own problem.
type Sink interface {
	Record(event Event)
}

// NopSink discards every event.
type NopSink struct{}

// Record discards the event.
func (NopSink) Record(Event) {}
