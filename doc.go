// Package duet implements a cooperative, future-driven task runtime.
// Tasks run one at a time per scheduler and suspend only at explicit
// await points, so ordinary code between awaits never races. Scopes own
// the tasks spawned inside them, join before the scope returns, and
// propagate cancellation and failure predictably. Run is reentrant: an
// awaited callback may start a nested run without interfering with the
// scheduler that is driving it.
package duet
