package duet

import (
	"sync"
	"time"

	"github.com/google/duet/internal/gid"
)

// Run executes a coroutine to completion and returns its result. The
// scheduling loop runs on the calling goroutine; Run does not return until
// the whole task tree rooted at fn is terminal.
//
// Run is reentrant: it may be called from inside a coroutine body that is
// itself being driven by another Run. The nested run is driven fully to
// completion before the call returns, while the outer scheduler stays
// parked; wake events addressed to the outer run are queued and observed
// only once the nested call has returned.
func Run[T any](fn func(c *Ctx) (T, error), opts ...Option) (T, error) {
	var out T
	err := Do(func(c *Ctx) error {
		v, err := fn(c)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, opts...)
	return out, err
}

// Do is Run for coroutines that only produce an error.
func Do(fn func(c *Ctx) error, opts ...Option) error {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	parentTask := currentTask(gid.Get())
	var parent *scheduler
	if parentTask != nil {
		parent = parentTask.sched
	}
	obs := cfg.observer
	if obs == nil {
		if parent != nil {
			obs = parent.obs // nested runs inherit the outer observer
		} else {
			obs = NopObserver{}
		}
	}

	s := newScheduler(obs, parent)
	obs.RunStarted(s.depth)
	start := time.Now()
	root := s.spawn(nil, fn)
	err := s.run(root)
	if ie := asInterrupt(err); ie != nil {
		// Interrupt tags are scheduler plumbing; callers see the cause.
		err = ie.err
	}
	obs.RunFinished(time.Since(start), err)
	return err
}

// Option configures a Run invocation.
type Option func(*runConfig)

type runConfig struct {
	observer Observer
}

// WithObserver attaches an Observer to the run. Nested runs inherit the
// enclosing run's observer unless they set their own.
func WithObserver(obs Observer) Option {
	return func(cfg *runConfig) { cfg.observer = obs }
}

// current maps a task-body goroutine to its task for the lifetime of the
// body. It is how a nested Run discovers the scheduler already driving its
// caller, which stands in for the original design's thread-local stack of
// live schedulers: the host call stack provides the LIFO discipline, the
// registry provides the parent link.
var current struct {
	sync.Mutex
	tasks map[int64]*task
}

func currentTask(g int64) *task {
	current.Lock()
	defer current.Unlock()
	return current.tasks[g]
}

func setCurrentTask(g int64, t *task) {
	current.Lock()
	if current.tasks == nil {
		current.tasks = make(map[int64]*task)
	}
	current.tasks[g] = t
	current.Unlock()
}

func clearCurrentTask(g int64) {
	current.Lock()
	delete(current.tasks, g)
	current.Unlock()
}
