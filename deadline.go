package duet

import (
	"container/heap"
	"time"
)

// deadlineEntry is one (wake time, target) pair. Exactly one of t and sc is
// set: task entries implement Sleep, scope entries implement scope deadlines.
// seq snapshots the target's suspension (or arming) sequence; a mismatch at
// fire time means the entry is stale and is dropped.
type deadlineEntry struct {
	when time.Time
	t    *task
	sc   *Scope
	seq  uint64
	ord  uint64 // insertion order, ties broken FIFO
}

// deadlineQueue is a min-heap ordered by absolute wake time. All access is
// guarded by the owning scheduler's mu.
type deadlineQueue struct {
	entries deadlineHeap
	ord     uint64
}

func (q *deadlineQueue) push(e deadlineEntry) {
	q.ord++
	e.ord = q.ord
	heap.Push(&q.entries, e)
}

// next reports the nearest wake time, if any entries remain.
func (q *deadlineQueue) next() (time.Time, bool) {
	if len(q.entries) == 0 {
		return time.Time{}, false
	}
	return q.entries[0].when, true
}

// popDue removes and returns the earliest entry not after now.
func (q *deadlineQueue) popDue(now time.Time) (deadlineEntry, bool) {
	if len(q.entries) == 0 || q.entries[0].when.After(now) {
		return deadlineEntry{}, false
	}
	return heap.Pop(&q.entries).(deadlineEntry), true
}

type deadlineHeap []deadlineEntry

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].ord < h[j].ord
	}
	return h[i].when.Before(h[j].when)
}

func (h deadlineHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *deadlineHeap) Push(x any) { *h = append(*h, x.(deadlineEntry)) }

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Sleep suspends the calling task for at least d. It returns early with the
// injected error if the task is cancelled while sleeping.
func Sleep(c *Ctx, d time.Duration) error {
	return SleepUntil(c, time.Now().Add(d))
}

// SleepUntil suspends the calling task until the absolute time t.
func SleepUntil(c *Ctx, t time.Time) error {
	return c.awaitDeadline(t)
}

// Yield gives up the current turn, letting every other ready task run once
// before the calling task resumes.
func Yield(c *Ctx) error {
	f := &Future[struct{}]{}
	f.SetResult(struct{}{})
	return c.awaitFuture(&f.core)
}
