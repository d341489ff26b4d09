// pkg/trace/bus.go
package trace

import (
	"sync"

	"go.uber.org/zap"
)

// BusSink buffers events on a channel and fans them out to subscribers.
// Record never blocks: when the buffer is full the event is dropped and a
// warning logged, when a subscriber is slow the event is skipped for that
// subscriber only.
type BusSink struct {
	subscribers []chan Event
	events      chan Event
	mutex       sync.RWMutex
	logger      *zap.Logger
	closeOnce   sync.Once
	done        chan struct{}
}

// NewBusSink creates a bus sink with the given buffer size and starts its
// distribution loop.
func NewBusSink(bufferSize int, logger *zap.Logger) *BusSink {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	bs := &BusSink{
		events: make(chan Event, bufferSize),
		logger: logger,
		done:   make(chan struct{}),
	}

	go bs.distribute()
	return bs
}

// Record enqueues an event without blocking.
func (bs *BusSink) Record(event Event) {
	select {
	case bs.events <- event:
	default:
		bs.logger.Warn("Trace bus full, dropping event",
			zap.String("connection_id", event.ConnectionID),
			zap.String("phase", string(event.Phase)),
		)
	}
}

// Subscribe returns a channel receiving every subsequent event. The channel
// is closed when the bus is closed.
func (bs *BusSink) Subscribe() <-chan Event {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	subscriber := make(chan Event, 100)
	bs.subscribers = append(bs.subscribers, subscriber)
	return subscriber
}

// Close stops distribution and closes all subscriber channels. Events
// recorded after Close are dropped.
func (bs *BusSink) Close() {
	bs.closeOnce.Do(func() {
		close(bs.done)
	})
}

// distribute drains the event channel into subscriber channels.
func (bs *BusSink) distribute() {
	for {
		select {
		case event := <-bs.events:
			bs.mutex.RLock()
			for _, subscriber := range bs.subscribers {
				select {
				case subscriber <- event:
				default:
					// Subscriber is slow, skip
				}
			}
			bs.mutex.RUnlock()
		case <-bs.done:
			bs.mutex.Lock()
			for _, subscriber := range bs.subscribers {
				close(subscriber)
			}
			bs.subscribers = nil
			bs.mutex.Unlock()
			return
		}
	}
}
