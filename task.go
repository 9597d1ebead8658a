package duet

import (
	"time"

	"github.com/google/duet/internal/gid"
)

// TaskState describes where a task is in its lifecycle. Completed, Failed
// and Cancelled are terminal; no transitions leave them.
type TaskState int32

const (
	// TaskReady means the task is queued and will run on a future turn.
	TaskReady TaskState = iota
	// TaskRunning means the task's body is executing right now. At most one
	// task per run tree is in this state at any instant.
	TaskRunning
	// TaskSuspended means the task yielded on a future or a deadline and is
	// waiting to be woken.
	TaskSuspended
	// TaskCompleted means the body returned nil.
	TaskCompleted
	// TaskFailed means the body returned (or panicked with) an error that
	// was not a response to a requested cancellation.
	TaskFailed
	// TaskCancelled means the task honored a cancellation signal, or was
	// spawned into an already-cancelled scope and never ran.
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskSuspended:
		return "suspended"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a terminal state.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

type yieldKind int

const (
	yieldSuspendFuture yieldKind = iota
	yieldSuspendDeadline
	yieldDone
)

type resumeMsg struct {
	// err, when non-nil, is an injected cancellation or interrupt to be
	// surfaced from the suspension point instead of a normal resume.
	err error
}

type yieldMsg struct {
	kind yieldKind
	src  *futureCore // yieldSuspendFuture
	when time.Time   // yieldSuspendDeadline
	err  error       // yieldDone
}

// task couples one coroutine body (a goroutine) with its scheduling state.
// The body and the scheduler hand control back and forth over resumeCh and
// yieldCh; both are unbuffered, so exactly one side makes progress at a time.
//
// Field ownership: state, awaiting, suspendSeq and interrupt are guarded by
// sched.mu because wake-ups may arrive from foreign goroutines. Everything
// else is touched only by the scheduler goroutine or by the body while it
// holds the run turn.
type task struct {
	sched *scheduler
	scope *Scope // owning scope; nil for the root task

	resumeCh chan resumeMsg
	yieldCh  chan yieldMsg

	// Guarded by sched.mu.
	state         TaskState
	awaiting      *futureCore // set while suspended on a future
	suspendSeq    uint64      // bumped on every suspension; stales deadline entries
	interrupt     error       // pending injected error, delivered once
	cancelWith    error       // requested cancellation reason, for classification
	interruptible bool        // false while the task owns a joining scope

	// Terminal result, published under sched.mu alongside the state.
	result error

	// Scheduler goroutine only.
	started time.Time
}

// TaskHandle is the caller-facing view of a spawned task.
type TaskHandle struct {
	t *task
}

// State returns the task's current state.
func (h *TaskHandle) State() TaskState {
	h.t.sched.mu.Lock()
	defer h.t.sched.mu.Unlock()
	return h.t.state
}

// Err returns the task's terminal error, if any. It is nil while the task is
// still live and for tasks that completed normally.
func (h *TaskHandle) Err() error {
	h.t.sched.mu.Lock()
	defer h.t.sched.mu.Unlock()
	if !h.t.state.Terminal() {
		return nil
	}
	return h.t.result
}

// Ctx is the suspension capability handed to every coroutine body. It is
// only valid inside the body it was passed to and must not be retained past
// the body's return or shared with other goroutines.
type Ctx struct {
	t *task
}

// newTask prepares a task whose body will run fn. The goroutine is not
// started until the scheduler first resumes it.
func newTask(s *scheduler, sc *Scope, fn func(c *Ctx) error) *task {
	t := &task{
		sched:         s,
		scope:         sc,
		resumeCh:      make(chan resumeMsg),
		yieldCh:       make(chan yieldMsg),
		state:         TaskReady,
		interruptible: true,
	}
	go t.top(fn)
	return t
}

// top is the task goroutine. It parks until the first resume, runs the body
// with panic containment, and reports the outcome as its final yield.
func (t *task) top(fn func(c *Ctx) error) {
	msg := <-t.resumeCh
	if msg.err != nil {
		// Cancelled before it ever ran; the body is never invoked.
		t.yieldCh <- yieldMsg{kind: yieldDone, err: msg.err}
		return
	}

	g := gid.Get()
	setCurrentTask(g, t)
	defer clearCurrentTask(g)

	err := t.runBody(fn)
	t.yieldCh <- yieldMsg{kind: yieldDone, err: err}
}

func (t *task) runBody(fn func(c *Ctx) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn(&Ctx{t: t})
}

// takeInterrupt claims a pending injected error, if the body is currently
// willing to receive one.
func (t *task) takeInterrupt() error {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	if !t.interruptible {
		return nil
	}
	err := t.interrupt
	t.interrupt = nil
	return err
}

func (t *task) setInterruptible(v bool) {
	t.sched.mu.Lock()
	t.interruptible = v
	t.sched.mu.Unlock()
}

// yield hands control to the scheduler and blocks until resumed. The
// returned error, if any, is an injected cancellation or interrupt.
func (t *task) yield(m yieldMsg) error {
	t.yieldCh <- m
	msg := <-t.resumeCh
	return msg.err
}

// awaitFuture suspends the calling task on src. A nil return means src has
// resolved; a non-nil return is an injected error and says nothing about src.
func (c *Ctx) awaitFuture(src *futureCore) error {
	if err := c.t.takeInterrupt(); err != nil {
		return err
	}
	return c.t.yield(yieldMsg{kind: yieldSuspendFuture, src: src})
}

// awaitDeadline suspends the calling task until the absolute time when.
func (c *Ctx) awaitDeadline(when time.Time) error {
	if err := c.t.takeInterrupt(); err != nil {
		return err
	}
	return c.t.yield(yieldMsg{kind: yieldSuspendDeadline, when: when})
}
