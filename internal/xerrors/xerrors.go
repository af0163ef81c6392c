// Package xerrors provides error constructors and wrappers that carry
// program counters, so the log package can render stack traces and
// call-site links without errors having to format them eagerly.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// stacked carries a full captured stack from the point of creation.
type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }

// annotated carries a message prefix plus the single wrapping call site.
type annotated struct {
	err error
	msg string
	pc  uintptr
}

func (a *annotated) Error() string { return a.msg + ": " + a.err.Error() }
func (a *annotated) Unwrap() error { return a.err }
func (a *annotated) PC() uintptr   { return a.pc }

func capture(skip int) []uintptr {
	const maxDepth = 64
	pcs := make([]uintptr, maxDepth)
	// skip runtime.Callers and capture itself on top of the caller's skip
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func site(skip int) uintptr {
	var pcs [1]uintptr
	if n := runtime.Callers(2+skip, pcs[:]); n == 0 {
		return 0
	}
	return pcs[0]
}

// New returns an error with msg and a stack captured at the call site.
func New(msg string) error { return &stacked{err: errors.New(msg), pcs: capture(1)} }

// Newf is New with fmt.Sprintf semantics.
func Newf(format string, args ...any) error {
	return &stacked{err: fmt.Errorf(format, args...), pcs: capture(1)}
}

// WithStack wraps err with a stack captured at the call site.
// Returns nil when err is nil.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: capture(1)}
}

// EnsureTrace attaches a stack to err only if no error in the chain
// already carries one. Use at package boundaries where the origin may
// or may not be one of ours.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	type hasStack interface{ StackPCs() []uintptr }
	var hs hasStack
	if errors.As(err, &hs) && hs != nil && len(hs.StackPCs()) > 0 {
		return err
	}
	return &stacked{err: err, pcs: capture(1)}
}

// Wrap prefixes err with msg and records the wrapping call site.
// Returns nil when err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: msg, pc: site(1)}
}

// Wrapf is Wrap with fmt.Sprintf semantics.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: fmt.Sprintf(format, args...), pc: site(1)}
}
