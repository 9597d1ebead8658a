package duet

import (
	"errors"
	"sync"
)

// ErrPending is returned by Future.Result while the future is unresolved.
var ErrPending = errors.New("duet: future not resolved")

// futureCore is the untyped half of a Future: the one-shot completion state
// and the set of tasks suspended on it. The status transitions exactly once
// from pending to done; the transition may be driven from any goroutine, so
// everything here is guarded by mu. Waiter wake-up happens after the lock is
// released, through each waiter's own scheduler.
type futureCore struct {
	mu        sync.Mutex
	done      bool
	cancelled bool
	err       error
	waiters   []*task
}

// complete performs the pending -> done transition. It reports whether this
// call won the transition; later calls are no-ops.
func (f *futureCore) complete(err error, cancelled bool) bool {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return false
	}
	f.done = true
	f.err = err
	f.cancelled = cancelled
	waiters := f.waiters
	f.waiters = nil
	f.mu.Unlock()

	// Broadcast: every registered waiter observes the same resolution.
	for _, t := range waiters {
		t.sched.ready(t, nil)
	}
	return true
}

// addWaiter registers a suspended task for wake-up. It reports false if the
// future is already resolved, in which case the caller must re-enqueue the
// task instead of leaving it suspended on a stale event.
func (f *futureCore) addWaiter(t *task) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return false
	}
	f.waiters = append(f.waiters, t)
	return true
}

// detach removes an interrupted waiter. If that leaves a pending future with
// no waiters at all, the future is cancelled with the interrupt reason, so
// that single-consumer futures report Cancelled after a timeout or cancel,
// while fan-out futures with other live waiters stay pending.
func (f *futureCore) detach(t *task, reason error) {
	f.mu.Lock()
	for i, w := range f.waiters {
		if w == t {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			break
		}
	}
	cancelNow := !f.done && len(f.waiters) == 0
	f.mu.Unlock()
	if cancelNow {
		f.complete(reason, true)
	}
}

func (f *futureCore) isDone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Future is a one-shot result container that a coroutine can suspend on.
//
// It plays two roles. Inside a run tree it is the basic signalling primitive
// between tasks. At the boundary it bridges externally produced results into
// the scheduler: any goroutine may call SetResult or SetError exactly once,
// and every task awaiting the future is resumed with the same value or error.
type Future[T any] struct {
	core  futureCore
	value T
}

// NewFuture returns an unresolved future.
func NewFuture[T any]() *Future[T] { return new(Future[T]) }

// CompletedFuture returns a future already resolved with v.
func CompletedFuture[T any](v T) *Future[T] {
	f := new(Future[T])
	f.value = v
	f.core.done = true
	return f
}

// FailedFuture returns a future already resolved with err.
func FailedFuture[T any](err error) *Future[T] {
	f := new(Future[T])
	f.core.done = true
	f.core.err = err
	return f
}

// TrySetResult resolves the future with v and reports whether this call won
// the one-shot transition.
func (f *Future[T]) TrySetResult(v T) bool {
	f.core.mu.Lock()
	if f.core.done {
		f.core.mu.Unlock()
		return false
	}
	f.value = v
	f.core.done = true
	waiters := f.core.waiters
	f.core.waiters = nil
	f.core.mu.Unlock()

	for _, t := range waiters {
		t.sched.ready(t, nil)
	}
	return true
}

// TrySetError fails the future with err and reports whether this call won
// the one-shot transition.
func (f *Future[T]) TrySetError(err error) bool {
	return f.core.complete(err, false)
}

// SetResult resolves the future with v. Resolving an already-resolved future
// is a no-op; the first resolution wins.
func (f *Future[T]) SetResult(v T) { f.TrySetResult(v) }

// SetError fails the future with err. The first resolution wins.
func (f *Future[T]) SetError(err error) { f.TrySetError(err) }

// Cancel resolves a pending future with ErrCancelled.
func (f *Future[T]) Cancel() bool {
	return f.core.complete(ErrCancelled, true)
}

// Done reports whether the future has resolved.
func (f *Future[T]) Done() bool { return f.core.isDone() }

// Cancelled reports whether the future was resolved by cancellation.
func (f *Future[T]) Cancelled() bool {
	f.core.mu.Lock()
	defer f.core.mu.Unlock()
	return f.cancelledLocked()
}

func (f *Future[T]) cancelledLocked() bool { return f.core.done && f.core.cancelled }

// Result returns the resolved value or error, or ErrPending if the future
// has not resolved yet.
func (f *Future[T]) Result() (T, error) {
	f.core.mu.Lock()
	defer f.core.mu.Unlock()
	var zero T
	if !f.core.done {
		return zero, ErrPending
	}
	if f.core.err != nil {
		return zero, f.core.err
	}
	return f.value, nil
}

// Await suspends the calling task until the future resolves, then returns
// the resolved value or error. Awaiting an already-resolved future still
// yields to the scheduler once, so the task resumes on the next scheduling
// turn rather than racing ahead of its siblings. If the task is cancelled
// while suspended, Await returns the injected cancellation error.
func (f *Future[T]) Await(c *Ctx) (T, error) {
	var zero T
	if err := c.awaitFuture(&f.core); err != nil {
		return zero, err
	}
	f.core.mu.Lock()
	defer f.core.mu.Unlock()
	if f.core.err != nil {
		return zero, f.core.err
	}
	return f.value, nil
}
