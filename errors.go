package duet

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCancelled is the cancellation signal injected into a task at its next
// suspension point after its scope (or an ancestor scope) is cancelled.
// Errors delivered this way satisfy errors.Is(err, ErrCancelled).
var ErrCancelled = errors.New("duet: cancelled")

// ErrTimeout is injected when a scope deadline elapses. It is deliberately
// distinct from ErrCancelled so callers can tell a timeout apart from an
// explicit cancel.
var ErrTimeout = errors.New("duet: deadline exceeded")

// AggregateError is returned by a scope when one or more of its children
// failed. Errors appear in the order the failures were observed. Children
// that merely honored a requested cancellation are not included.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("duet: task failed: %v", e.Errors[0])
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("duet: %d tasks failed: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error { return e.Errors }

// PanicError wraps a panic recovered from a coroutine body so it can be
// reported as an ordinary task failure.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("duet: task panicked: %v", e.Value)
}

// interruptError tags an injected error with the scope that delivered it, so
// a scope block can tell its own cancellation apart from one that belongs to
// an ancestor and must keep propagating outward.
type interruptError struct {
	scope *Scope
	err   error
}

func (e *interruptError) Error() string { return e.err.Error() }

func (e *interruptError) Unwrap() error { return e.err }

// asInterrupt walks the error chain looking for an injected interrupt.
func asInterrupt(err error) *interruptError {
	var ie *interruptError
	if errors.As(err, &ie) {
		return ie
	}
	return nil
}
