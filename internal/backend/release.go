package backend

import (
	"context"
	"sync"
)

// ReleaseTracker lets back ends whose display returns buffers asynchronously
// (compositor release events, tunnel dequeues) serve WaitFence.
type ReleaseTracker struct {
	mu      sync.Mutex
	pending map[int]chan struct{}
}

// NewReleaseTracker creates an empty tracker.
func NewReleaseTracker() *ReleaseTracker {
	return &ReleaseTracker{pending: make(map[int]chan struct{})}
}

// Track registers id as in use by the display. Tracking an id twice keeps the
// existing registration.
func (t *ReleaseTracker) Track(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[id]; !ok {
		t.pending[id] = make(chan struct{})
	}
}

// Resolve marks id as released. It reports false for an unknown id.
func (t *ReleaseTracker) Resolve(id int) bool {
	t.mu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if ok {
		close(ch)
	}
	return ok
}

// Pending reports whether id is still held by the display.
func (t *ReleaseTracker) Pending(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}

// Len returns the number of buffers still held by the display.
func (t *ReleaseTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Wait blocks until id is resolved or ctx ends. An id that is not tracked
// counts as released.
func (t *ReleaseTracker) Wait(ctx context.Context, id int) error {
	t.mu.Lock()
	ch, ok := t.pending[id]
	t.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResolveAll releases every pending id and returns them.
func (t *ReleaseTracker) ResolveAll() []int {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[int]chan struct{})
	t.mu.Unlock()

	ids := make([]int, 0, len(pending))
	for id, ch := range pending {
		close(ch)
		ids = append(ids, id)
	}
	return ids
}
