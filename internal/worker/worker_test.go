package worker_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/vidrender/internal/worker"
)

func TestWorker_RunsHooksInOrder(t *testing.T) {
	events := make(chan string, 16)
	var loops atomic.Int32

	w := worker.New(worker.Funcs{
		ReadyToRun: func() { events <- "ready" },
		Loop: func() bool {
			events <- "loop"
			return loops.Add(1) < 3
		},
		ReadyToExit: func() { events <- "exit" },
	})

	require.NoError(t, w.Run("test-hooks"))
	require.NoError(t, w.Join())
	close(events)

	var got []string
	for e := range events {
		got = append(got, e)
	}
	assert.Equal(t, []string{"ready", "loop", "loop", "loop", "exit"}, got)
	assert.Equal(t, worker.Stopped, w.State())
}

func TestWorker_RunReturnsWhileLoopBlocks(t *testing.T) {
	release := make(chan struct{})
	w := worker.New(worker.Funcs{Loop: func() bool {
		<-release
		return false
	}})

	done := make(chan error, 1)
	go func() { done <- w.Run("test-run-returns") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return while the loop was blocked")
	}
	assert.Equal(t, worker.Running, w.State())

	close(release)
	require.NoError(t, w.Join())
	assert.Equal(t, worker.Stopped, w.State())
}

func TestWorker_AlreadyRunning(t *testing.T) {
	w := worker.New(worker.Funcs{Loop: func() bool {
		time.Sleep(time.Millisecond)
		return true
	}})

	require.NoError(t, w.Run("test-busy"))
	assert.ErrorIs(t, w.Run("test-busy"), worker.ErrAlreadyRunning)
	assert.True(t, w.IsRunning())

	require.NoError(t, w.RequestExitAndWait())
	assert.False(t, w.IsRunning())
}

func TestWorker_RequestExitStopsLoop(t *testing.T) {
	w := worker.New(worker.Funcs{Loop: func() bool {
		time.Sleep(time.Millisecond)
		return true
	}})
	require.NoError(t, w.Run("test-exit"))

	w.RequestExit()
	done := make(chan error, 1)
	go func() { done <- w.Join() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after RequestExit")
	}
	assert.Equal(t, worker.Stopped, w.State())
}

func TestWorker_CanRunAgainAfterStop(t *testing.T) {
	var runs atomic.Int32
	w := worker.New(worker.Funcs{
		ReadyToRun: func() { runs.Add(1) },
		Loop:       func() bool { return false },
	})

	require.NoError(t, w.Run("test-rerun"))
	require.NoError(t, w.Join())
	require.NoError(t, w.Run("test-rerun"))
	require.NoError(t, w.Join())

	assert.Equal(t, int32(2), runs.Load())
}

func TestWorker_SelfJoinFailsFast(t *testing.T) {
	var w *worker.Worker
	results := make(chan error, 2)

	w = worker.New(worker.Funcs{Loop: func() bool {
		results <- w.RequestExitAndWait()
		results <- w.Join()
		return false
	}})
	require.NoError(t, w.Run("test-self"))
	require.NoError(t, w.Join())

	assert.ErrorIs(t, <-results, worker.ErrWouldDeadlock)
	assert.ErrorIs(t, <-results, worker.ErrWouldDeadlock)
}

func TestWorker_JoinIdleReturns(t *testing.T) {
	w := worker.New(worker.Funcs{Loop: func() bool { return false }})
	assert.NoError(t, w.Join())
	assert.NoError(t, w.RequestExitAndWait())
	assert.Equal(t, worker.Idle, w.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "exit-pending", worker.ExitPending.String())
	assert.Equal(t, "unknown", worker.State(42).String())
}
