// pkg/driver/registry_test.go
package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDuplicateID(t *testing.T) {
	r := newTestRegistry(&fakeOpener{}, nil)

	require.NoError(t, r.Register("dev0", testConfig(), nil))

	conn, err := r.Get("dev0")
	require.NoError(t, err)
	require.Equal(t, StateDisconnected, conn.State())

	err = r.Register("dev0", testConfig(), nil)
	require.ErrorIs(t, err, ErrDuplicateID)

	// The first connection is unchanged.
	again, err := r.Get("dev0")
	require.NoError(t, err)
	assert.Same(t, conn, again)
	assert.Equal(t, StateDisconnected, again.State())
}

func TestRegisterInvalidConfig(t *testing.T) {
	r := newTestRegistry(&fakeOpener{}, nil)

	cases := map[string]ConnectionConfig{
		"missing path":     {Timeout: time.Second},
		"negative timeout": {Path: "/dev/ttyTEST0", Timeout: -time.Second},
		"negative retries": {Path: "/dev/ttyTEST0", Retries: -1},
		"bad parity":       {Path: "/dev/ttyTEST0", Parity: "mark"},
		"bad stop bits":    {Path: "/dev/ttyTEST0", StopBits: 3},
		"bad backoff kind": {Path: "/dev/ttyTEST0", Backoff: BackoffPolicy{Kind: "jittered", Delay: time.Millisecond, MaxDelay: time.Second}},
	}

	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			err := r.Register("bad", cfg, nil)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	require.Equal(t, 0, r.Len())
}

func TestRegisterEmptyID(t *testing.T) {
	r := newTestRegistry(&fakeOpener{}, nil)
	require.ErrorIs(t, r.Register("", testConfig(), nil), ErrInvalidConfig)
}

func TestGetNotFound(t *testing.T) {
	r := newTestRegistry(&fakeOpener{}, nil)

	_, err := r.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveIdempotence(t *testing.T) {
	r := newTestRegistry(&fakeOpener{}, nil)
	require.NoError(t, r.Register("dev0", testConfig(), nil))

	ctx := context.Background()
	require.NoError(t, r.Remove(ctx, "dev0"))
	require.ErrorIs(t, r.Remove(ctx, "dev0"), ErrNotFound)
}

func TestRemoveClosesConnection(t *testing.T) {
	fo := &fakeOpener{}
	r := newTestRegistry(fo, nil)
	require.NoError(t, r.Register("dev0", testConfig(), nil))

	conn, err := r.Get("dev0")
	require.NoError(t, err)
	require.NoError(t, conn.Open(context.Background()))
	require.Equal(t, StateConnected, conn.State())

	require.NoError(t, r.Remove(context.Background(), "dev0"))

	assert.Equal(t, StateClosed, conn.State())
	require.Equal(t, 1, fo.openCount())
	assert.True(t, fo.opened[0].closed.Load(), "port handle must be released on removal")
}

func TestRemoveBusyWithoutGrace(t *testing.T) {
	fo := &fakeOpener{}
	handle := newFakeHandle()
	handle.ioDelay = 100 * time.Millisecond
	fo.handles = []*fakeHandle{handle}

	cfg := testConfig()
	cfg.ShutdownGrace = 0

	r := newTestRegistry(fo, nil)
	require.NoError(t, r.Register("dev0", cfg, nil))

	conn, err := r.Get("dev0")
	require.NoError(t, err)

	started := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		close(started)
		conn.Execute(context.Background(), NewWrite([]byte{0x01}))
		close(finished)
	}()

	<-started
	time.Sleep(20 * time.Millisecond) // let the write reach the port

	err = r.Remove(context.Background(), "dev0")
	require.ErrorIs(t, err, ErrBusy)

	// Still registered after the Busy refusal.
	_, err = r.Get("dev0")
	require.NoError(t, err)

	<-finished
}

func TestRemoveWaitsForInFlight(t *testing.T) {
	fo := &fakeOpener{}
	handle := newFakeHandle()
	handle.ioDelay = 50 * time.Millisecond
	fo.handles = []*fakeHandle{handle}

	r := newTestRegistry(fo, nil)
	require.NoError(t, r.Register("dev0", testConfig(), nil))

	conn, err := r.Get("dev0")
	require.NoError(t, err)

	done := make(chan OperationResult, 1)
	go func() {
		result, _ := conn.Execute(context.Background(), NewWrite([]byte{0x01}))
		done <- result
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Remove(context.Background(), "dev0"))

	result := <-done
	assert.Equal(t, OutcomeSuccess, result.Outcome, "in-flight operation completes before removal")
	assert.Equal(t, StateClosed, conn.State())
}

func TestListSnapshot(t *testing.T) {
	r := newTestRegistry(&fakeOpener{}, nil)
	require.NoError(t, r.Register("dev0", testConfig(), nil))
	require.NoError(t, r.Register("dev1", testConfig(), nil))

	seen := map[string]ConnectionState{}
	for id, state := range r.List() {
		seen[id] = state
	}

	require.Len(t, seen, 2)
	assert.Equal(t, StateDisconnected, seen["dev0"])
	assert.Equal(t, StateDisconnected, seen["dev1"])

	// The sequence is restartable.
	count := 0
	for range r.List() {
		count++
	}
	assert.Equal(t, 2, count)

	// Registering after the snapshot does not alter an existing iteration
	// source; a fresh List sees the new entry.
	require.NoError(t, r.Register("dev2", testConfig(), nil))
	count = 0
	for range r.List() {
		count++
	}
	assert.Equal(t, 3, count)
}

func TestShutdownDrainsAll(t *testing.T) {
	fo := &fakeOpener{}
	r := newTestRegistry(fo, nil)

	for _, id := range []string{"dev0", "dev1", "dev2"} {
		require.NoError(t, r.Register(id, testConfig(), nil))
		conn, err := r.Get(id)
		require.NoError(t, err)
		require.NoError(t, conn.Open(context.Background()))
	}

	require.NoError(t, r.Shutdown(context.Background()))
	require.Equal(t, 0, r.Len())

	for _, h := range fo.opened {
		assert.True(t, h.closed.Load())
	}
}
