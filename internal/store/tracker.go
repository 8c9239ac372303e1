package store

import (
	"context"
	"sync"
)

// tracker counts outstanding work and lets callers wait for it to reach zero.
// Unlike sync.WaitGroup it may be reused after reaching zero and waiting
// honors a context.
type tracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func newTracker() *tracker {
	t := &tracker{idle: make(chan struct{})}
	close(t.idle)
	return t
}

func (t *tracker) add(delta int) {
	if delta == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	was := t.n
	t.n += delta
	if t.n < 0 {
		t.n = 0
	}
	switch {
	case was == 0 && t.n > 0:
		t.idle = make(chan struct{})
	case was > 0 && t.n == 0:
		close(t.idle)
	}
}

func (t *tracker) done() {
	t.add(-1)
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

func (t *tracker) wait(ctx context.Context) error {
	t.mu.Lock()
	ch := t.idle
	t.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
