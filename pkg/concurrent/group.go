package concurrent

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// PanicError is returned by a Group goroutine that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("goroutine panic: %v", e.Value)
}

// Group supervises long-lived goroutines. The first goroutine to fail
// cancels the shared context; panics are converted to *PanicError.
type Group struct {
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGroup derives a cancellable group from parent.
func NewGroup(parent context.Context) *Group {
	ctx, cancel := context.WithCancel(parent)
	g, ctx := errgroup.WithContext(ctx)
	return &Group{group: g, ctx: ctx, cancel: cancel}
}

// Context is cancelled when Stop is called or any goroutine fails.
func (g *Group) Context() context.Context { return g.ctx }

// Go runs fn with the group context.
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		return fn(g.ctx)
	})
}

// Stop cancels the group context without waiting.
func (g *Group) Stop() { g.cancel() }

// Wait blocks until every goroutine returned and reports the first error.
func (g *Group) Wait() error {
	err := g.group.Wait()
	g.cancel()
	return err
}
