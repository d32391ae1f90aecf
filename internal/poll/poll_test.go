package poll_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bnema/vidrender/internal/poll"
)

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(pair[0])
		_ = unix.Close(pair[1])
	})
	return pair[0], pair[1]
}

func newPoller(t *testing.T) *poll.Poller {
	t.Helper()
	p, err := poll.New(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPoller_ReportsReadable(t *testing.T) {
	p := newPoller(t)
	a, b := socketpair(t)

	p.AddFd(a)
	require.NoError(t, p.SetReadable(a, true))

	n, err := p.Wait(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = unix.Write(b, []byte("x"))
	require.NoError(t, err)

	n, err = p.Wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, p.IsReadable(a))
	assert.False(t, p.IsWritable(a))
}

func TestPoller_InterestOnUnknownFd(t *testing.T) {
	p := newPoller(t)
	assert.ErrorIs(t, p.SetReadable(42, true), poll.ErrUnknownFd)
	assert.ErrorIs(t, p.RemoveFd(42), poll.ErrUnknownFd)
}

func TestPoller_HangupIsReported(t *testing.T) {
	p := newPoller(t)
	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(pair[0])

	p.AddFd(pair[0])
	require.NoError(t, p.SetReadable(pair[0], true))
	require.NoError(t, unix.Close(pair[1]))

	n, err := p.Wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, p.HasClosed(pair[0]))
}

func TestPoller_FlushingInterruptsInfiniteWait(t *testing.T) {
	p := newPoller(t)
	a, _ := socketpair(t)
	p.AddFd(a)
	require.NoError(t, p.SetReadable(a, true))

	done := make(chan error, 1)
	go func() {
		_, err := p.Wait(-1)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	p.SetFlushing(true)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, poll.ErrBusy)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("wait was not interrupted by flushing")
	}

	_, err := p.Wait(0)
	assert.ErrorIs(t, err, poll.ErrBusy)
}

func TestPoller_FlushingIsReferenceCounted(t *testing.T) {
	p := newPoller(t)

	p.SetFlushing(true)
	p.SetFlushing(true)
	p.SetFlushing(false)
	assert.False(t, p.Flushing())

	n, err := p.Wait(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPoller_AlreadyWaiting(t *testing.T) {
	p := newPoller(t)

	done := make(chan error, 1)
	go func() {
		_, err := p.Wait(-1)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	_, err := p.Wait(0)
	assert.ErrorIs(t, err, poll.ErrAlreadyWaiting)

	p.SetFlushing(true)
	assert.ErrorIs(t, <-done, poll.ErrBusy)
}

func TestPoller_RemoveFd(t *testing.T) {
	p := newPoller(t)
	a, b := socketpair(t)
	p.AddFd(a)
	require.NoError(t, p.SetReadable(a, true))
	require.NoError(t, p.RemoveFd(a))

	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)

	n, err := p.Wait(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
