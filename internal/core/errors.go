package core

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors so outer layers can render them.
type Kind string

const (
	KindInvalidSchedule  Kind = "invalid_schedule"
	KindInvalidInput     Kind = "invalid_input"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindExecutionTimeout Kind = "execution_timeout"
	KindExecutionFailed  Kind = "execution_failed"
	KindUnsatisfiable    Kind = "unsatisfiable"
	KindInternal         Kind = "internal_error"
)

// Error is a structured engine error.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return e.Msg
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works for every not-found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidSchedule  = &Error{Kind: KindInvalidSchedule}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrExecutionTimeout = &Error{Kind: KindExecutionTimeout}
	ErrExecutionFailed  = &Error{Kind: KindExecutionFailed}
	ErrUnsatisfiable    = &Error{Kind: KindUnsatisfiable}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
