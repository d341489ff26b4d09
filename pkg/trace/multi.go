// pkg/trace/multi.go
package trace

// MultiSink tees every event to each wrapped sink.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines several sinks into one. Nil entries are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	ms := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			ms.sinks = append(ms.sinks, s)
		}
	}
	return ms
}

// Record forwards the event to every sink.
func (ms *MultiSink) Record(event Event) {
	for _, s := range ms.sinks {
		s.Record(event)
	}
}
