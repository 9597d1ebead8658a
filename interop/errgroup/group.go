// Package errgroup bridges blocking, goroutine-parallel work into the
// cooperative runtime. Functions submitted to a Group run on ordinary
// goroutines under golang.org/x/sync/errgroup and resolve duet futures on
// completion, so coroutines can await OS-level work without stalling their
// scheduler.
package errgroup

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/google/duet"
)

// Group runs blocking functions in parallel and reports their results
// through futures. The zero value is not usable; construct with WithContext.
type Group struct {
	g   *errgroup.Group
	ctx context.Context
}

// WithContext returns a Group bound to ctx. The returned context is
// cancelled the first time a submitted function fails, which lets the
// remaining functions bail out early.
func WithContext(ctx context.Context) (*Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	return &Group{g: g, ctx: gctx}, gctx
}

// SetLimit caps the number of functions running at once. It must be called
// before the first Submit.
func (g *Group) SetLimit(n int) {
	g.g.SetLimit(n)
}

// Submit starts fn on its own goroutine and returns a future that resolves
// with fn's result. A coroutine may await the future immediately or hold it
// and collect later; either way the scheduler keeps driving other tasks
// while fn blocks.
func Submit[T any](g *Group, fn func(ctx context.Context) (T, error)) *duet.Future[T] {
	f := duet.NewFuture[T]()
	g.g.Go(func() error {
		v, err := fn(g.ctx)
		if err != nil {
			f.SetError(err)
			return err
		}
		f.SetResult(v)
		return nil
	})
	return f
}

// Wait blocks the calling goroutine until every submitted function has
// returned, and reports the first failure. Call it from plain code, not
// from inside a coroutine; coroutines should await the futures instead.
func (g *Group) Wait() error {
	return g.g.Wait()
}
