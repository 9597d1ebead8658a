package duet

import (
	"errors"
	"sync"
	"time"
)

// Scope bounds the lifetime of tasks spawned in the background, in the
// spirit of trio-style nurseries: the scope block only exits once every
// spawned child has reached a terminal state, whatever the exit path.
//
// The policy is fail-fast with full aggregation. The first child failure
// cancels the remaining children and interrupts the owner, but the scope
// still joins everything and then reports an AggregateError listing every
// genuine failure. Children that merely honored the requested cancellation
// end in TaskCancelled and are not part of the aggregate. A cancellation
// that arrived from an ancestor scope propagates outward unchanged instead
// of being rewritten into a local aggregate.
type Scope struct {
	owner *task
	sched *scheduler

	mu          sync.Mutex
	children    map[*task]struct{}
	failures    []error
	cancelled   bool
	reason      error  // ErrCancelled or ErrTimeout
	external    bool   // cancellation came from Cancel or a deadline
	deadlineSeq uint64 // matches the armed heap entry; 0 when disarmed
	closed      bool
	joinFut     *futureCore
}

// ScopeOption configures a scope at creation.
type ScopeOption func(*scopeConfig)

type scopeConfig struct {
	deadline    time.Time
	hasDeadline bool
}

// WithTimeout cancels the scope with ErrTimeout if it is still open after d.
func WithTimeout(d time.Duration) ScopeOption {
	return func(cfg *scopeConfig) {
		cfg.deadline = time.Now().Add(d)
		cfg.hasDeadline = true
	}
}

// WithDeadline cancels the scope with ErrTimeout at the absolute time t.
func WithDeadline(t time.Time) ScopeOption {
	return func(cfg *scopeConfig) {
		cfg.deadline = t
		cfg.hasDeadline = true
	}
}

// NewScope runs body with a fresh scope owned by the calling task. It
// returns only after every child spawned into the scope has reached a
// terminal state; this holds on every exit path, including body errors,
// panics, cancellation and deadlines.
func NewScope(c *Ctx, body func(c *Ctx, sc *Scope) error, opts ...ScopeOption) error {
	var cfg scopeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	t := c.t
	sc := &Scope{
		owner:    t,
		sched:    t.sched,
		children: make(map[*task]struct{}),
	}
	sc.sched.obs.ScopeOpened()
	if cfg.hasDeadline {
		sc.armDeadline(cfg.deadline)
	}

	bodyErr := runScopeBody(c, sc, body)
	return sc.finish(c, bodyErr)
}

// TimeoutScope is shorthand for NewScope with WithTimeout.
func TimeoutScope(c *Ctx, d time.Duration, body func(c *Ctx, sc *Scope) error) error {
	return NewScope(c, body, WithTimeout(d))
}

// DeadlineScope is shorthand for NewScope with WithDeadline.
func DeadlineScope(c *Ctx, t time.Time, body func(c *Ctx, sc *Scope) error) error {
	return NewScope(c, body, WithDeadline(t))
}

func runScopeBody(c *Ctx, sc *Scope, body func(c *Ctx, sc *Scope) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return body(c, sc)
}

// Spawn starts a child task owned by this scope and returns its handle. If
// the scope is already cancelled the child transitions straight to
// TaskCancelled without ever running. Spawn panics if called after the
// scope has closed.
func (sc *Scope) Spawn(fn func(c *Ctx) error) *TaskHandle {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		panic("duet: Spawn on closed scope")
	}
	if sc.cancelled {
		reason := sc.reason
		sc.mu.Unlock()
		t := &task{sched: sc.sched, state: TaskCancelled, result: reason}
		return &TaskHandle{t: t}
	}
	t := sc.sched.spawn(sc, fn)
	sc.children[t] = struct{}{}
	sc.mu.Unlock()
	return &TaskHandle{t: t}
}

// SpawnFuture starts a child task computing a typed value and returns a
// future that resolves with the child's result. The future is cancelled if
// the child cannot run or ends without resolving it.
func SpawnFuture[T any](sc *Scope, fn func(c *Ctx) (T, error)) *Future[T] {
	f := NewFuture[T]()
	h := sc.Spawn(func(c *Ctx) error {
		v, err := fn(c)
		if err != nil {
			f.TrySetError(err)
			return err
		}
		f.TrySetResult(v)
		return nil
	})
	if h.State() == TaskCancelled {
		f.Cancel()
	}
	return f
}

// Cancel cancels the scope: the flag is monotonic, every live child gets
// ErrCancelled at its next suspension point, and the owner is interrupted
// so the scope block can unwind. Calling Cancel again is a no-op.
func (sc *Scope) Cancel() {
	sc.cancelWith(ErrCancelled, ErrCancelled, true)
}

// Cancelled reports whether the scope has been cancelled.
func (sc *Scope) Cancelled() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.cancelled
}

// cancelWith performs the one-shot cancellation. reason is what children
// observe; ownerInject, when non-nil, is what the owner's pending await
// surfaces (the first child failure passes its own error here so the owner
// unwinds with it). external marks cancellations requested from outside
// the normal exit path (Cancel, deadlines); only those surface as the
// scope's own result when nothing else went wrong.
func (sc *Scope) cancelWith(reason, ownerInject error, external bool) {
	sc.mu.Lock()
	if sc.cancelled || sc.closed {
		sc.mu.Unlock()
		return
	}
	sc.cancelled = true
	sc.reason = reason
	sc.external = external
	kids := make([]*task, 0, len(sc.children))
	for t := range sc.children {
		kids = append(kids, t)
	}
	owner := sc.owner
	sc.mu.Unlock()

	sc.sched.obs.ScopeCancelled(reason)
	for _, t := range kids {
		sc.sched.interruptTask(t, reason, &interruptError{scope: sc, err: reason})
	}
	if ownerInject != nil {
		sc.sched.injectInterrupt(owner, reason, &interruptError{scope: sc, err: ownerInject})
	}
}

// deadlineElapsed is called by the scheduler when the scope's deadline
// entry fires. A stale or already-settled scope ignores it.
func (sc *Scope) deadlineElapsed(seq uint64) {
	sc.mu.Lock()
	stale := sc.closed || sc.cancelled || sc.deadlineSeq != seq
	sc.mu.Unlock()
	if stale {
		return
	}
	sc.cancelWith(ErrTimeout, ErrTimeout, true)
}

func (sc *Scope) armDeadline(when time.Time) {
	s := sc.sched
	s.mu.Lock()
	s.timers.ord++
	seq := s.timers.ord
	sc.deadlineSeq = seq
	s.timers.push(deadlineEntry{when: when, sc: sc, seq: seq})
	s.mu.Unlock()
}

// childDone records a terminated child. The first genuine failure triggers
// fail-fast cancellation of the siblings and hands the failing error to the
// owner's pending await.
func (sc *Scope) childDone(t *task, state TaskState, err error) {
	sc.mu.Lock()
	delete(sc.children, t)
	firstFailure := false
	if state == TaskFailed {
		sc.failures = append(sc.failures, err)
		firstFailure = !sc.cancelled
	}
	join := sc.joinFut
	sc.joinFut = nil
	sc.mu.Unlock()

	if firstFailure {
		sc.cancelWith(ErrCancelled, err, false)
	}
	if join != nil {
		join.complete(nil, false)
	}
}

// join suspends the owner until every child is terminal, re-checking after
// each termination so children spawned by other children are covered. The
// owner stays interruptible until the first injected error arrives; that
// interrupt is forwarded to the children as a cancellation and returned,
// and the rest of the join runs undisturbed so cancellation cannot
// shortcut the structured teardown.
func (sc *Scope) join(c *Ctx) error {
	var interrupted error
	for {
		sc.mu.Lock()
		if len(sc.children) == 0 {
			sc.mu.Unlock()
			break
		}
		f := new(futureCore)
		sc.joinFut = f
		sc.mu.Unlock()

		err := c.awaitFuture(f)
		if err == nil || interrupted != nil {
			continue
		}
		interrupted = err
		reason := ErrCancelled
		if errors.Is(err, ErrTimeout) {
			reason = ErrTimeout
		}
		c.t.setInterruptible(false)
		sc.cancelWith(reason, nil, false)
	}
	if interrupted != nil {
		c.t.setInterruptible(true)
	}
	return interrupted
}

// finish implements the exit path of the scope block: cancel children if
// the body failed, join everything, close the scope, and translate the
// collected state into the scope's result.
func (sc *Scope) finish(c *Ctx, bodyErr error) error {
	var foreign *interruptError
	passThrough := bodyErr
	local := false
	if ie := asInterrupt(bodyErr); ie != nil {
		if ie.scope == sc {
			local = true
		} else {
			foreign = ie
		}
	}

	sc.mu.Lock()
	settled := sc.cancelled
	sc.mu.Unlock()
	if bodyErr != nil && !settled {
		sc.cancelWith(ErrCancelled, nil, false)
	}

	start := time.Now()
	joinErr := sc.join(c)
	sc.close()
	sc.sched.obs.ScopeClosed(time.Since(start))

	// An ancestor cancellation that landed while joining must keep
	// propagating outward, same as one observed by the body itself.
	if foreign == nil && joinErr != nil {
		if ie := asInterrupt(joinErr); ie != nil && ie.scope != sc {
			foreign = ie
			passThrough = joinErr
		}
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	switch {
	case foreign != nil:
		// Ancestor cancellation passes through untouched.
		return passThrough
	case len(sc.failures) > 0:
		return &AggregateError{Errors: append([]error(nil), sc.failures...)}
	case local:
		return sc.reason
	case bodyErr != nil:
		return bodyErr
	case sc.external:
		// Cancelled or timed out after the body had already returned,
		// while the scope was still joining its children.
		return sc.reason
	default:
		return nil
	}
}

// close marks the scope finished and drops anything still pointing at it: a
// pending deadline entry goes stale, and an undelivered owner interrupt
// tagged with this scope is discarded so it cannot leak into awaits that
// happen after the block.
func (sc *Scope) close() {
	sc.mu.Lock()
	sc.closed = true
	sc.deadlineSeq = 0
	owner := sc.owner
	sc.mu.Unlock()

	s := sc.sched
	s.mu.Lock()
	if ie := asInterrupt(owner.interrupt); ie != nil && ie.scope == sc {
		owner.interrupt = nil
	}
	s.mu.Unlock()
}
