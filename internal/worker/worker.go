// Package worker runs a cooperative step loop on a dedicated goroutine locked
// to its own OS thread.
package worker

import (
	"errors"
	"runtime"
	"sync"
)

var (
	// ErrAlreadyRunning is returned by Run when the loop has not stopped yet.
	ErrAlreadyRunning = errors.New("worker: already running")
	// ErrWouldDeadlock is returned when the worker tries to wait for itself.
	ErrWouldDeadlock = errors.New("worker: would deadlock")
)

// State is the lifecycle state of a Worker.
type State int

const (
	Idle State = iota
	Running
	ExitPending
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case ExitPending:
		return "exit-pending"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Funcs is the body of a worker. Loop is required; returning false ends the loop.
type Funcs struct {
	ReadyToRun  func()
	Loop        func() bool
	ReadyToExit func()
}

// Option configures a Worker.
type Option func(*Worker)

// WithPriority asks for SCHED_FIFO at the given priority on the worker thread.
// Failure to raise the priority is not fatal.
func WithPriority(priority int) Option {
	return func(w *Worker) {
		w.priority = priority
	}
}

// Worker owns one loop goroutine at a time.
type Worker struct {
	funcs    Funcs
	priority int

	mu      sync.Mutex
	stopped *sync.Cond
	state   State
	name    string
	goid    uint64
	attrErr error
}

// New creates an idle worker.
func New(funcs Funcs, opts ...Option) *Worker {
	w := &Worker{funcs: funcs}
	for _, opt := range opts {
		opt(w)
	}
	w.stopped = sync.NewCond(&w.mu)
	return w
}

// Run starts the loop. A stopped worker can be run again.
func (w *Worker) Run(name string) error {
	w.mu.Lock()
	if w.state == Running || w.state == ExitPending {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.state = Running
	w.name = name
	w.goid = 0
	w.mu.Unlock()

	// main takes the lock to record its goroutine id before signalling.
	started := make(chan struct{})
	go w.main(started)
	<-started
	return nil
}

func (w *Worker) main(started chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	w.mu.Lock()
	w.goid = currentGoroutineID()
	name := w.name
	w.mu.Unlock()
	close(started)

	w.setAttrErr(setThreadAttrs(name, w.priority))

	if w.funcs.ReadyToRun != nil {
		w.funcs.ReadyToRun()
	}
	for !w.ExitPending() {
		if !w.funcs.Loop() {
			break
		}
	}
	if w.funcs.ReadyToExit != nil {
		w.funcs.ReadyToExit()
	}

	w.mu.Lock()
	w.state = Stopped
	w.goid = 0
	w.stopped.Broadcast()
	w.mu.Unlock()
}

// RequestExit asks the loop to stop after the current step.
func (w *Worker) RequestExit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Running {
		w.state = ExitPending
	}
}

// RequestExitAndWait asks the loop to stop and waits until it has.
func (w *Worker) RequestExitAndWait() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isSelfLocked() {
		return ErrWouldDeadlock
	}
	if w.state == Running {
		w.state = ExitPending
	}
	for w.state == ExitPending {
		w.stopped.Wait()
	}
	return nil
}

// Join waits until the loop stops on its own or through RequestExit.
func (w *Worker) Join() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isSelfLocked() {
		return ErrWouldDeadlock
	}
	for w.state == Running || w.state == ExitPending {
		w.stopped.Wait()
	}
	return nil
}

// ExitPending reports whether the loop has been asked to stop.
func (w *Worker) ExitPending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == ExitPending
}

// IsRunning reports whether a loop goroutine is alive.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == Running || w.state == ExitPending
}

// State returns the lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Name returns the name passed to the last Run.
func (w *Worker) Name() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.name
}

// AttrErr returns the error from naming or prioritising the thread, if any.
func (w *Worker) AttrErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attrErr
}

func (w *Worker) setAttrErr(err error) {
	w.mu.Lock()
	w.attrErr = err
	w.mu.Unlock()
}

func (w *Worker) isSelfLocked() bool {
	return w.goid != 0 && w.goid == currentGoroutineID()
}
