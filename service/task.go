package service

import (
	"context"
	"errors"
	"sync"
)

// Task adapts a long-lived func(ctx) error — a batcher, prover,
// publisher, or listener's Serve loop — into a Service. Start launches
// the function on its own goroutine; Stop cancels its context and waits
// for it to return. This is the task-graph shape spec.md §5 requires:
// every component is a goroutine, every goroutine owns exactly one
// cancellation point.
type Task struct {
	name string
	run  func(context.Context) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewTask wraps run as a named Service.
func NewTask(name string, run func(context.Context) error) *Task {
	return &Task{name: name, run: run}
}

func (t *Task) Name() string { return t.name }

// Start launches run in a goroutine and returns immediately.
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go func() {
		defer close(t.done)
		t.err = t.run(ctx)
	}()
	return nil
}

// Stop cancels the task's context and waits for it to return. A task
// that exits because it was canceled is not a failure; any other
// non-nil error is returned.
func (t *Task) Stop() error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	if errors.Is(t.err, context.Canceled) {
		return nil
	}
	return t.err
}
