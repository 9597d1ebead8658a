// Package zlog logs runtime lifecycle events through zerolog.
package zlog

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/google/duet"
)

// Observer implements duet.Observer by emitting one structured event per
// lifecycle hook. Run and scope events log at debug level, task churn at
// trace, failures at warn.
type Observer struct {
	log zerolog.Logger
}

// New returns an observer writing through log.
func New(log zerolog.Logger) *Observer {
	return &Observer{log: log}
}

func (o *Observer) RunStarted(depth int) {
	o.log.Debug().Int("depth", depth).Msg("run started")
}

func (o *Observer) RunFinished(d time.Duration, err error) {
	ev := o.log.Debug()
	if err != nil {
		ev = o.log.Warn().Err(err)
	}
	ev.Dur("duration", d).Msg("run finished")
}

func (o *Observer) TaskSpawned() {
	o.log.Trace().Msg("task spawned")
}

func (o *Observer) TaskFinished(state duet.TaskState, d time.Duration) {
	ev := o.log.Trace()
	if state == duet.TaskFailed {
		ev = o.log.Warn()
	}
	ev.Stringer("state", state).Dur("duration", d).Msg("task finished")
}

func (o *Observer) ScopeOpened() {
	o.log.Debug().Msg("scope opened")
}

func (o *Observer) ScopeCancelled(cause error) {
	o.log.Warn().Err(cause).Msg("scope cancelled")
}

func (o *Observer) ScopeClosed(wait time.Duration) {
	o.log.Debug().Dur("wait", wait).Msg("scope closed")
}

var _ duet.Observer = (*Observer)(nil)
