package duet

import "sync"

// Limiter bounds how many tasks are inside a critical section at once. It
// is a cooperative counting semaphore: waiters suspend on futures instead
// of blocking goroutines, so a full limiter never stalls the scheduler.
//
// A capacity of zero or less means no limit. Waiters acquire in FIFO order.
type Limiter struct {
	mu       sync.Mutex
	capacity int
	count    int
	waiters  []*futureCore
	availers []*futureCore
}

// NewLimiter returns a limiter admitting up to capacity concurrent holders.
func NewLimiter(capacity int) *Limiter {
	return &Limiter{capacity: capacity}
}

// Slot is one successful acquisition; it must be released exactly once.
type Slot struct {
	l        *Limiter
	released bool
}

// Release returns the slot to its limiter. Releasing twice panics.
func (s *Slot) Release() {
	if s.released {
		panic("duet: Slot released twice")
	}
	s.released = true
	s.l.release()
}

// Available reports whether an Acquire would succeed without waiting.
func (l *Limiter) Available() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableLocked()
}

func (l *Limiter) availableLocked() bool {
	return l.capacity <= 0 || l.count < l.capacity
}

// SetCapacity resizes the limiter. Growing hands the new slots to queued
// waiters immediately. Shrinking does not evict current holders; the
// limiter simply stays full until enough of them release.
func (l *Limiter) SetCapacity(capacity int) {
	l.mu.Lock()
	l.capacity = capacity
	var grant []*futureCore
	for len(l.waiters) > 0 && l.availableLocked() {
		cand := l.waiters[0]
		l.waiters = l.waiters[1:]
		if !cand.isDone() {
			grant = append(grant, cand)
			l.count++
		}
	}
	var avail []*futureCore
	if l.availableLocked() {
		avail = l.availers
		l.availers = nil
	}
	l.mu.Unlock()

	for _, f := range grant {
		f.complete(nil, false)
	}
	for _, f := range avail {
		f.complete(nil, false)
	}
}

// Acquire suspends the calling task until a slot is free and claims it.
// A task cancelled while queued gives up its place in line.
func (l *Limiter) Acquire(c *Ctx) (*Slot, error) {
	l.mu.Lock()
	if l.availableLocked() {
		l.count++
		l.mu.Unlock()
		return &Slot{l: l}, nil
	}
	f := new(futureCore)
	l.waiters = append(l.waiters, f)
	l.mu.Unlock()

	if err := c.awaitFuture(f); err != nil {
		if !f.complete(err, true) {
			// Already resolved: either this waiter was detached on
			// cancellation, or the releaser handed it the slot just
			// before the interrupt landed. Give a transferred slot
			// back rather than leak it.
			f.mu.Lock()
			granted := !f.cancelled
			f.mu.Unlock()
			if granted {
				l.release()
			}
		}
		return nil, err
	}
	// The slot was transferred by the releaser; count is already ours.
	return &Slot{l: l}, nil
}

// Do runs fn while holding a slot.
func (l *Limiter) Do(c *Ctx, fn func(c *Ctx) error) error {
	slot, err := l.Acquire(c)
	if err != nil {
		return err
	}
	defer slot.Release()
	return fn(c)
}

// WaitAvailable suspends until the limiter is not full. It always yields to
// the scheduler, even when a slot is free right now, so throttled producers
// cannot race ahead of the tasks draining them.
func (l *Limiter) WaitAvailable(c *Ctx) error {
	f := new(futureCore)
	l.mu.Lock()
	if l.availableLocked() {
		l.mu.Unlock()
		f.complete(nil, false)
	} else {
		l.availers = append(l.availers, f)
		l.mu.Unlock()
	}
	return c.awaitFuture(f)
}

// release frees one slot and, if capacity allows, transfers it directly to
// the next live waiter, incrementing count on its behalf so no other task
// can slip in between the release and the waiter's resumption. Waiters
// whose futures were cancelled while queued are skipped.
func (l *Limiter) release() {
	l.mu.Lock()
	l.count--
	var next *futureCore
	for len(l.waiters) > 0 && l.availableLocked() {
		cand := l.waiters[0]
		l.waiters = l.waiters[1:]
		if !cand.isDone() {
			next = cand
			l.count++
			break
		}
	}
	var avail []*futureCore
	if l.availableLocked() {
		avail = l.availers
		l.availers = nil
	}
	l.mu.Unlock()

	if next != nil {
		next.complete(nil, false)
	}
	for _, f := range avail {
		f.complete(nil, false)
	}
}
