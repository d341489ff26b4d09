// pkg/driver/connection_test.go
package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serial-core/internal/port"
	"serial-core/pkg/trace"
)

func TestOpenAndAlreadyOpen(t *testing.T) {
	fo := &fakeOpener{}
	r := newTestRegistry(fo, nil)
	require.NoError(t, r.Register("dev0", testConfig(), nil))

	conn, err := r.Get("dev0")
	require.NoError(t, err)
	require.Equal(t, StateDisconnected, conn.State())

	require.NoError(t, conn.Open(context.Background()))
	require.Equal(t, StateConnected, conn.State())

	require.ErrorIs(t, conn.Open(context.Background()), ErrAlreadyOpen)
	assert.Equal(t, 1, fo.openCount())
}

func TestExecuteConnectsImplicitly(t *testing.T) {
	fo := &fakeOpener{}
	r := newTestRegistry(fo, nil)
	require.NoError(t, r.Register("dev0", testConfig(), nil))

	conn, err := r.Get("dev0")
	require.NoError(t, err)

	result, err := conn.Execute(context.Background(), NewWrite([]byte{0x01}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, StateConnected, conn.State())
	assert.Equal(t, 1, fo.openCount())
}

func TestExecuteFailsWhenOpenFails(t *testing.T) {
	fo := &fakeOpener{openErr: port.ErrNotFound}
	r := newTestRegistry(fo, nil)
	require.NoError(t, r.Register("dev0", testConfig(), nil))

	conn, err := r.Get("dev0")
	require.NoError(t, err)

	_, err = conn.Execute(context.Background(), NewWrite([]byte{0x01}))
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, StateDisconnected, conn.State())
	assert.ErrorIs(t, conn.LastError(), ErrDeviceUnavailable)
}

func TestOpenErrorMapping(t *testing.T) {
	cases := map[string]struct {
		openErr error
		want    error
	}{
		"permission": {port.ErrPermissionDenied, ErrPermissionDenied},
		"missing":    {port.ErrNotFound, ErrDeviceUnavailable},
		"busy":       {port.ErrBusy, ErrDeviceUnavailable},
		"settings":   {port.ErrInvalidSettings, ErrInvalidConfig},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			fo := &fakeOpener{openErr: tc.openErr}
			r := newTestRegistry(fo, nil)
			require.NoError(t, r.Register("dev0", testConfig(), nil))

			conn, err := r.Get("dev0")
			require.NoError(t, err)

			require.ErrorIs(t, conn.Open(context.Background()), tc.want)
		})
	}
}

func TestClosedConnectionRejectsOperations(t *testing.T) {
	fo := &fakeOpener{}
	r := newTestRegistry(fo, nil)
	require.NoError(t, r.Register("dev0", testConfig(), nil))

	conn, err := r.Get("dev0")
	require.NoError(t, err)
	require.NoError(t, conn.Open(context.Background()))
	require.NoError(t, conn.Close())
	require.Equal(t, StateClosed, conn.State())

	_, err = conn.Execute(context.Background(), NewWrite([]byte{0x01}))
	require.ErrorIs(t, err, ErrConnectionClosed)

	require.ErrorIs(t, conn.Open(context.Background()), ErrConnectionClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	fo := &fakeOpener{}
	r := newTestRegistry(fo, nil)
	require.NoError(t, r.Register("dev0", testConfig(), nil))

	conn, err := r.Get("dev0")
	require.NoError(t, err)
	require.NoError(t, conn.Open(context.Background()))

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Equal(t, 1, fo.openCount())
	assert.True(t, fo.opened[0].closed.Load())
}

func TestConcurrentExecutesNeverOverlap(t *testing.T) {
	fo := &fakeOpener{}
	handle := newFakeHandle()
	handle.ioDelay = 2 * time.Millisecond
	fo.handles = []*fakeHandle{handle}

	cfg := testConfig()
	cfg.Timeout = 5 * time.Second

	r := newTestRegistry(fo, nil)
	require.NoError(t, r.Register("dev0", cfg, nil))

	conn, err := r.Get("dev0")
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := conn.Execute(context.Background(), NewWrite([]byte{0x42}))
			assert.NoError(t, err)
			assert.Equal(t, OutcomeSuccess, result.Outcome)
		}()
	}
	wg.Wait()

	assert.False(t, handle.overlap.Load(), "raw I/O calls must be serialized")
	assert.Len(t, handle.writtenPayloads(), workers)
}

func TestConcurrentTraceWindowsAreDisjoint(t *testing.T) {
	fo := &fakeOpener{}
	handle := newFakeHandle()
	handle.ioDelay = 2 * time.Millisecond
	fo.handles = []*fakeHandle{handle}

	cfg := testConfig()
	cfg.Timeout = 5 * time.Second

	sink := trace.NewMemorySink(256)
	r := newTestRegistry(fo, sink)
	require.NoError(t, r.Register("dev0", cfg, nil))

	conn, err := r.Get("dev0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := conn.Execute(context.Background(), NewWrite([]byte{0x42}))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Every Start must be followed by that same operation's terminal event
	// before the next Start appears: operations do not interleave.
	var open bool
	for _, event := range sink.Events() {
		switch event.Phase {
		case trace.PhaseStart:
			assert.False(t, open, "operation started while another was in flight")
			open = true
		case trace.PhaseSuccess, trace.PhaseFailure, trace.PhaseTimeout:
			assert.True(t, open)
			open = false
		}
	}
	assert.False(t, open)
}

func TestDegradedConnectionRecoversOnNextOperation(t *testing.T) {
	fo := &fakeOpener{}
	first := newFakeHandle()
	first.writeFn = func([]byte) (int, error) {
		return 0, port.ErrClosed
	}
	fo.handles = []*fakeHandle{first}

	cfg := testConfig()
	cfg.Retries = 0

	r := newTestRegistry(fo, nil)
	require.NoError(t, r.Register("dev0", cfg, nil))

	conn, err := r.Get("dev0")
	require.NoError(t, err)

	result, err := conn.Execute(context.Background(), NewWrite([]byte{0x01}))
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, result.Outcome)
	require.Equal(t, KindDeviceRemoved, result.Kind)
	assert.Equal(t, StateDegraded, conn.State())
	assert.ErrorIs(t, conn.LastError(), ErrDeviceRemoved)

	// The next operation reopens the port and succeeds.
	result, err = conn.Execute(context.Background(), NewWrite([]byte{0x02}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, StateConnected, conn.State())
	assert.NoError(t, conn.LastError())
	assert.Equal(t, 2, fo.openCount())
}

func TestQueuedCallerHonorsCancellation(t *testing.T) {
	fo := &fakeOpener{}
	handle := newFakeHandle()
	handle.ioDelay = 100 * time.Millisecond
	fo.handles = []*fakeHandle{handle}

	r := newTestRegistry(fo, nil)
	require.NoError(t, r.Register("dev0", testConfig(), nil))

	conn, err := r.Get("dev0")
	require.NoError(t, err)

	started := make(chan struct{})
	go func() {
		close(started)
		conn.Execute(context.Background(), NewWrite([]byte{0x01}))
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = conn.Execute(ctx, NewWrite([]byte{0x02}))
	require.ErrorIs(t, err, ErrCancelled)
}

func TestInvalidOperationsRejectedBeforePipeline(t *testing.T) {
	fo := &fakeOpener{}
	r := newTestRegistry(fo, nil)
	require.NoError(t, r.Register("dev0", testConfig(), nil))

	conn, err := r.Get("dev0")
	require.NoError(t, err)

	cases := map[string]Operation{
		"zero length read": {Kind: OperationRead, Length: 0, Retries: -1},
		"empty payload":    {Kind: OperationWrite, Retries: -1},
		"unknown kind":     {Kind: OperationKind("ERASE"), Retries: -1},
		"negative timeout": {Kind: OperationRead, Length: 8, Timeout: -time.Second, Retries: -1},
	}

	for name, op := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := conn.Execute(context.Background(), op)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	// Nothing was opened; validation happens before the port is touched.
	assert.Equal(t, 0, fo.openCount())
}

func TestStatsAccumulate(t *testing.T) {
	fo := &fakeOpener{}
	handle := newFakeHandle()
	handle.readData = []byte("12345")
	fo.handles = []*fakeHandle{handle}

	r := newTestRegistry(fo, nil)
	require.NoError(t, r.Register("dev0", testConfig(), nil))

	conn, err := r.Get("dev0")
	require.NoError(t, err)

	_, err = conn.Execute(context.Background(), NewWrite([]byte{0x01, 0x02, 0x03}))
	require.NoError(t, err)
	_, err = conn.Execute(context.Background(), NewRead(16))
	require.NoError(t, err)

	stats := conn.GetStats()
	assert.Equal(t, int64(2), stats.OperationCount)
	assert.Equal(t, int64(3), stats.BytesWritten)
	assert.Equal(t, int64(5), stats.BytesRead)
	assert.Equal(t, int64(0), stats.ErrorCount)
	assert.False(t, stats.LastActivity.IsZero())
}

func TestCorrelationIDPropagates(t *testing.T) {
	fo := &fakeOpener{}
	sink := trace.NewMemorySink(64)
	r := newTestRegistry(fo, sink)
	require.NoError(t, r.Register("dev0", testConfig(), nil))

	conn, err := r.Get("dev0")
	require.NoError(t, err)

	result, err := conn.Execute(context.Background(), NewWrite([]byte{0x01}))
	require.NoError(t, err)
	require.NotEqual(t, "00000000-0000-0000-0000-000000000000", result.CorrelationID.String())

	for _, event := range sink.Events() {
		assert.Equal(t, result.CorrelationID, event.CorrelationID,
			"every trace event carries the operation correlation id")
	}
}

func TestExecuteErrorReturnVersusResult(t *testing.T) {
	fo := &fakeOpener{}
	handle := newFakeHandle()
	handle.readFn = func([]byte) (int, error) {
		return 0, errors.New("garbled")
	}
	fo.handles = []*fakeHandle{handle}

	cfg := testConfig()
	cfg.Retries = 0

	r := newTestRegistry(fo, nil)
	require.NoError(t, r.Register("dev0", cfg, nil))

	conn, err := r.Get("dev0")
	require.NoError(t, err)

	// Pipeline failures come back in the result, not the error return.
	result, err := conn.Execute(context.Background(), NewRead(8))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.False(t, result.OK())
	assert.NotNil(t, result.Err)
}
