// Package errors extends the standard errors package with
// stack traces, error prefixing and a MultiError container.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

type StackTrace []uintptr

type withTrace struct {
	err   error
	trace StackTrace
}

func (e *withTrace) Error() string {
	return e.err.Error()
}

func (e *withTrace) Unwrap() error {
	return e.err
}

func (e *withTrace) StackTrace() StackTrace {
	return e.trace
}

func New(msg string) error {
	return &withTrace{err: stderrors.New(msg), trace: callers()}
}

func Errorf(format string, a ...any) error {
	return &withTrace{err: fmt.Errorf(format, a...), trace: callers()}
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}

func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// PrefixError wraps the error with a message prefix.
func PrefixError(err error, prefix string) error {
	return &withTrace{err: fmt.Errorf("%s: %w", prefix, err), trace: callers()}
}

func PrefixErrorf(err error, format string, a ...any) error {
	return PrefixError(err, fmt.Sprintf(format, a...))
}

func callers() StackTrace {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])
	return pcs[0:n]
}
