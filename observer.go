package duet

import "time"

// Observer receives lifecycle notifications from the runtime. Hooks fire on
// the goroutine driving the scheduler (or the task body performing the
// operation), so implementations must be safe for concurrent use when the
// same observer is shared between independent runs.
type Observer interface {
	// RunStarted fires when a scheduler begins driving a task tree. depth
	// is 0 for a top-level run and grows with reentrant nesting.
	RunStarted(depth int)
	// RunFinished fires when the run returns, with its duration and result.
	RunFinished(d time.Duration, err error)
	// TaskSpawned fires for every task enqueued, the root included.
	TaskSpawned()
	// TaskFinished fires when a task reaches a terminal state.
	TaskFinished(state TaskState, d time.Duration)
	// ScopeOpened fires when a scope block is entered.
	ScopeOpened()
	// ScopeCancelled fires once per scope, on its cancellation.
	ScopeCancelled(cause error)
	// ScopeClosed fires when a scope block exits, with the join wait time.
	ScopeClosed(wait time.Duration)
}

// NopObserver is the default Observer; it ignores every event.
type NopObserver struct{}

func (NopObserver) RunStarted(int)                        {}
func (NopObserver) RunFinished(time.Duration, error)      {}
func (NopObserver) TaskSpawned()                          {}
func (NopObserver) TaskFinished(TaskState, time.Duration) {}
func (NopObserver) ScopeOpened()                          {}
func (NopObserver) ScopeCancelled(error)                  {}
func (NopObserver) ScopeClosed(time.Duration)             {}
