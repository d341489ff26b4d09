// pkg/driver/driver_test.go
package driver

import (
	"sync"
	"sync/atomic"
	"time"

	"serial-core/internal/port"
	"serial-core/pkg/trace"

	"go.uber.org/zap"
)

// fakeHandle is a scriptable in-memory port handle. The default behavior
// answers reads from readData and accepts writes; readFn/writeFn override
// single calls for failure injection.
type fakeHandle struct {
	mu       sync.Mutex
	writes   [][]byte
	readData []byte

	readFn  func(p []byte) (int, error)
	writeFn func(p []byte) (int, error)

	// blockReads makes Read block until the handle is closed, simulating
	// an I/O primitive without native timeout support.
	blockReads bool

	closed  atomic.Bool
	closeCh chan struct{}

	// active counts in-flight raw calls for overlap detection.
	active  atomic.Int32
	overlap atomic.Bool
	ioDelay time.Duration
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{closeCh: make(chan struct{})}
}

func (f *fakeHandle) enter() {
	if f.active.Add(1) > 1 {
		f.overlap.Store(true)
	}
	if f.ioDelay > 0 {
		time.Sleep(f.ioDelay)
	}
}

func (f *fakeHandle) leave() {
	f.active.Add(-1)
}

func (f *fakeHandle) Read(p []byte) (int, error) {
	f.enter()
	defer f.leave()

	if f.closed.Load() {
		return 0, port.ErrClosed
	}
	if f.blockReads {
		<-f.closeCh
		return 0, port.ErrClosed
	}
	if f.readFn != nil {
		return f.readFn(p)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	n := copy(p, f.readData)
	return n, nil
}

func (f *fakeHandle) Write(p []byte) (int, error) {
	f.enter()
	defer f.leave()

	if f.closed.Load() {
		return 0, port.ErrClosed
	}
	if f.writeFn != nil {
		return f.writeFn(p)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(p))
	copy(buf, p)
	f.writes = append(f.writes, buf)
	return len(p), nil
}

func (f *fakeHandle) SetReadTimeout(time.Duration) error { return nil }

func (f *fakeHandle) Flush() error { return nil }

func (f *fakeHandle) Close() error {
	if f.closed.CompareAndSwap(false, true) {
		close(f.closeCh)
	}
	return nil
}

func (f *fakeHandle) writtenPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

// fakeOpener returns the given handles in order, then keeps returning
// fresh default handles. It records how many opens happened.
type fakeOpener struct {
	mu      sync.Mutex
	handles []*fakeHandle
	opened  []*fakeHandle
	openErr error
}

func (fo *fakeOpener) open(port.Settings) (port.Handle, error) {
	fo.mu.Lock()
	defer fo.mu.Unlock()

	if fo.openErr != nil {
		return nil, fo.openErr
	}

	var h *fakeHandle
	if len(fo.handles) > 0 {
		h = fo.handles[0]
		fo.handles = fo.handles[1:]
	} else {
		h = newFakeHandle()
	}
	fo.opened = append(fo.opened, h)
	return h, nil
}

func (fo *fakeOpener) openCount() int {
	fo.mu.Lock()
	defer fo.mu.Unlock()
	return len(fo.opened)
}

// newTestRegistry builds a registry wired to the fake opener and an
// in-memory trace sink.
func newTestRegistry(fo *fakeOpener, sink trace.Sink) *Registry {
	if sink == nil {
		sink = trace.NopSink{}
	}
	r := NewRegistry(zap.NewNop(), sink)
	r.opener = fo.open
	return r
}

// testConfig is a fast configuration for unit tests.
func testConfig() ConnectionConfig {
	return ConnectionConfig{
		Path:          "/dev/ttyTEST0",
		Timeout:       500 * time.Millisecond,
		Retries:       2,
		ShutdownGrace: 200 * time.Millisecond,
		Backoff: BackoffPolicy{
			Kind:  BackoffFixed,
			Delay: 5 * time.Millisecond,
		},
	}
}
