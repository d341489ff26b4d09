// pkg/trace/memory.go
package trace

import (
	"sync"
)

// MemorySink retains events in a bounded in-memory ring. It exists for tests
// and for statistics tooling that samples recent pipeline activity.
type MemorySink struct {
	mutex    sync.Mutex
	events   []Event
	capacity int
}

// NewMemorySink creates a memory sink retaining up to capacity events;
// non-positive capacity means 1024.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemorySink{capacity: capacity}
}

// Record appends the event, evicting the oldest entry when full.
func (ms *MemorySink) Record(event Event) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	if len(ms.events) >= ms.capacity {
		ms.events = ms.events[1:]
	}
	ms.events = append(ms.events, event)
}

// Events returns a copy of the retained events in record order.
func (ms *MemorySink) Events() []Event {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	out := make([]Event, len(ms.events))
	copy(out, ms.events)
	return out
}

// Filter returns retained events matching the given connection id and phase;
// empty values match everything.
func (ms *MemorySink) Filter(connectionID string, phase Phase) []Event {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	var out []Event
	for _, event := range ms.events {
		if connectionID != "" && event.ConnectionID != connectionID {
			continue
		}
		if phase != "" && event.Phase != phase {
			continue
		}
		out = append(out, event)
	}
	return out
}
