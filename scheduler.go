package duet

import (
	"errors"
	"sync"
	"time"
)

// scheduler drives one task tree to completion. The loop runs on whichever
// goroutine called Run; task bodies run on their own goroutines but strictly
// one at a time, interleaved with the loop through channel handoffs.
//
// The ready queue and the suspension bookkeeping are the only state touched
// from foreign goroutines (external future completions), so they live under
// mu. wakeCh carries a collapsed "something became ready" signal for the
// parked loop.
type scheduler struct {
	mu     sync.Mutex
	readyQ []*task
	tasks  map[*task]struct{} // all live (non-terminal) tasks
	timers deadlineQueue
	wakeCh chan struct{}
	parent *scheduler // non-nil when this run is nested inside another
	depth  int
	obs    Observer
}

func newScheduler(obs Observer, parent *scheduler) *scheduler {
	s := &scheduler{
		tasks:  make(map[*task]struct{}),
		wakeCh: make(chan struct{}, 1),
		obs:    obs,
		parent: parent,
	}
	if parent != nil {
		s.depth = parent.depth + 1
	}
	return s
}

// spawn registers a new ready task for fn, owned by sc (nil for the root).
func (s *scheduler) spawn(sc *Scope, fn func(c *Ctx) error) *task {
	t := newTask(s, sc, fn)
	s.mu.Lock()
	s.tasks[t] = struct{}{}
	s.readyQ = append(s.readyQ, t)
	s.mu.Unlock()
	s.signal()
	s.obs.TaskSpawned()
	return t
}

// ready moves a suspended task to the ready queue. inject, when non-nil, is
// stored for delivery at the task's next resume. ready is safe to call from
// any goroutine and is idempotent for tasks that are already ready.
func (s *scheduler) ready(t *task, inject error) {
	s.mu.Lock()
	if inject != nil && t.interrupt == nil {
		t.interrupt = inject
	}
	if t.state == TaskSuspended {
		t.state = TaskReady
		t.awaiting = nil
		t.suspendSeq++ // invalidate any deadline entry for this suspension
		s.readyQ = append(s.readyQ, t)
	}
	s.mu.Unlock()
	s.signal()
}

// interruptTask cancels t: the reason is recorded for terminal-state
// classification and the injected error surfaces at t's next suspension
// point, waking it now if it is currently suspended.
func (s *scheduler) interruptTask(t *task, reason error, inject error) {
	s.deliver(t, reason, inject, true)
}

// injectInterrupt interrupts t without marking it as cancelled; used to
// unwind a scope's owner, whose own task is not the one being cancelled.
func (s *scheduler) injectInterrupt(t *task, reason error, inject error) {
	s.deliver(t, reason, inject, false)
}

// deliver implements both interrupt flavors. Uninterruptible tasks (owners
// finishing a join) have the cancellation reason recorded for terminal
// classification but receive no injection; their join runs to completion
// undisturbed. If the task is parked on a future it is detached, so a
// sole-consumer future reports cancelled while fan-out futures with other
// waiters stay pending.
func (s *scheduler) deliver(t *task, reason, inject error, markCancel bool) {
	s.mu.Lock()
	if t.state.Terminal() {
		s.mu.Unlock()
		return
	}
	if markCancel && t.cancelWith == nil {
		t.cancelWith = reason
	}
	if !t.interruptible {
		s.mu.Unlock()
		return
	}
	if t.interrupt == nil {
		t.interrupt = inject
	}
	src := t.awaiting
	wake := t.state == TaskSuspended
	if wake {
		t.state = TaskReady
		t.awaiting = nil
		t.suspendSeq++
		s.readyQ = append(s.readyQ, t)
	}
	s.mu.Unlock()

	if src != nil {
		src.detach(t, reason)
	}
	if wake {
		s.signal()
	}
}

func (s *scheduler) signal() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// run drives the tree rooted at root until root reaches a terminal state,
// then drains any stragglers so no task goroutine outlives the call.
func (s *scheduler) run(root *task) error {
	for {
		s.mu.Lock()
		rootDone := root.state.Terminal()
		var t *task
		if !rootDone && len(s.readyQ) > 0 {
			t = s.readyQ[0]
			s.readyQ = s.readyQ[1:]
		}
		s.mu.Unlock()

		if rootDone {
			break
		}
		if t == nil {
			s.park()
			continue
		}
		s.step(t)
	}
	s.drain()
	return root.result
}

// step resumes one task until it suspends or finishes. A pending interrupt
// is delivered through the resume itself, so a task woken for cancellation
// observes the injected error at the suspension point it is parked in.
func (s *scheduler) step(t *task) {
	s.mu.Lock()
	if t.state.Terminal() {
		s.mu.Unlock()
		return
	}
	t.state = TaskRunning
	inject := t.interrupt
	t.interrupt = nil
	s.mu.Unlock()

	if t.started.IsZero() {
		t.started = time.Now()
	}

	t.resumeCh <- resumeMsg{err: inject}
	y := <-t.yieldCh

	switch y.kind {
	case yieldSuspendFuture:
		s.suspendOnFuture(t, y.src)
	case yieldSuspendDeadline:
		s.suspendOnDeadline(t, y.when)
	case yieldDone:
		s.finish(t, y.err)
	}
}

// suspendOnFuture parks t on src, or re-enqueues it immediately when src has
// already resolved so that progress never waits on a stale event.
func (s *scheduler) suspendOnFuture(t *task, src *futureCore) {
	s.mu.Lock()
	t.state = TaskSuspended
	t.awaiting = src
	t.suspendSeq++
	s.mu.Unlock()

	if !src.addWaiter(t) {
		s.ready(t, nil)
	}
}

func (s *scheduler) suspendOnDeadline(t *task, when time.Time) {
	s.mu.Lock()
	t.state = TaskSuspended
	t.awaiting = nil
	t.suspendSeq++
	s.timers.push(deadlineEntry{when: when, t: t, seq: t.suspendSeq})
	s.mu.Unlock()
}

// finish records t's terminal state and notifies its owning scope.
func (s *scheduler) finish(t *task, err error) {
	state := TaskCompleted
	if err != nil {
		if t.cancelWith != nil && errors.Is(err, t.cancelWith) {
			state = TaskCancelled
		} else {
			state = TaskFailed
		}
	}

	s.mu.Lock()
	t.state = state
	t.result = err
	delete(s.tasks, t)
	s.mu.Unlock()

	var dur time.Duration
	if !t.started.IsZero() {
		dur = time.Since(t.started)
	}
	s.obs.TaskFinished(state, dur)

	if t.scope != nil {
		t.scope.childDone(t, state, err)
	}
}

// park blocks until a wake signal arrives or the nearest deadline elapses.
func (s *scheduler) park() {
	s.mu.Lock()
	if len(s.readyQ) > 0 {
		s.mu.Unlock()
		return
	}
	next, ok := s.timers.next()
	s.mu.Unlock()

	if !ok {
		<-s.wakeCh
		return
	}
	d := time.Until(next)
	if d <= 0 {
		s.fireDue()
		return
	}
	timer := time.NewTimer(d)
	select {
	case <-s.wakeCh:
		timer.Stop()
	case <-timer.C:
		s.fireDue()
	}
}

// fireDue wakes every task and scope whose deadline has elapsed.
func (s *scheduler) fireDue() {
	now := time.Now()
	for {
		s.mu.Lock()
		e, ok := s.timers.popDue(now)
		s.mu.Unlock()
		if !ok {
			return
		}
		switch {
		case e.t != nil:
			s.mu.Lock()
			live := e.t.state == TaskSuspended && e.t.suspendSeq == e.seq
			s.mu.Unlock()
			if live {
				s.ready(e.t, nil)
			}
		case e.sc != nil:
			e.sc.deadlineElapsed(e.seq)
		}
	}
}

// drain interrupts and runs down any tasks still live after the root
// terminated, so their goroutines cannot leak. With well-formed scopes this
// is a no-op: a scope joins all of its children before closing.
func (s *scheduler) drain() {
	for {
		s.mu.Lock()
		var pending []*task
		for t := range s.tasks {
			pending = append(pending, t)
		}
		s.mu.Unlock()
		if len(pending) == 0 {
			return
		}
		for _, t := range pending {
			s.interruptTask(t, ErrCancelled, ErrCancelled)
		}
		for {
			s.mu.Lock()
			var t *task
			if len(s.readyQ) > 0 {
				t = s.readyQ[0]
				s.readyQ = s.readyQ[1:]
			}
			remaining := len(s.tasks)
			s.mu.Unlock()
			if t != nil {
				s.step(t)
				continue
			}
			if remaining == 0 {
				return
			}
			s.park()
		}
	}
}
