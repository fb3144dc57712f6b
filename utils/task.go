package utils

import (
	"context"
	"sync"
)

// Task is a handle to an asynchronous operation. Every async entry point of
// the discovery pipeline returns one so callers can cancel or await it.
type Task struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	once sync.Once
	err  error
}

// Go runs fn on its own goroutine under a context derived from parent. The
// returned task finishes when fn returns.
func Go(parent context.Context, fn func(ctx context.Context) error) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	go func() {
		err := fn(ctx)
		t.finish(err)
	}()
	return t
}

// Completed returns a task that is already finished with err.
func Completed(err error) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	t.finish(err)
	return t
}

func (t *Task) finish(err error) {
	t.once.Do(func() {
		t.err = err
		t.cancel()
		close(t.done)
	})
}

// Cancel cancels the task's context. It is safe to call more than once and
// on a nil task.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.cancel()
}

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Context is the context the task runs under.
func (t *Task) Context() context.Context {
	return t.ctx
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
