// Package loomerr defines the error taxonomy shared by every component of
// the runtime core: a small set of named kinds (not Go types) that callers
// switch on with errors.Is, plus constructors that wrap an underlying cause.
package loomerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories the core distinguishes.
// Kinds are not Go types so that a single *Error can be compared with
// errors.Is against a sentinel while still carrying a wrapped cause.
type Kind string

const (
	KindProviderTransient Kind = "provider_transient"
	KindProviderFatal     Kind = "provider_fatal"
	KindToolNotFound      Kind = "tool_not_found"
	KindToolExecFailure   Kind = "tool_exec_failure"
	KindModuleLoadFailure Kind = "module_load_failure"
	KindPersistSchema     Kind = "persist_schema_violation"
	KindNavigation        Kind = "navigation_error"
	KindCancelled         Kind = "cancelled"
	KindConcurrentTurn    Kind = "concurrent_turn_error"
)

// Error is the concrete error value carried through the core. It wraps an
// optional underlying cause and exposes its Kind for errors.Is-style
// matching via sentinel values below.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind, independent of message or
// wrapped cause. This lets callers write errors.Is(err, loomerr.Sentinel(KindToolNotFound)).
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

// Sentinel returns a bare *Error carrying only a Kind, suitable for use
// with errors.Is to test whether an error belongs to that category.
func Sentinel(k Kind) *Error { return &Error{Kind: k} }

func New(k Kind, msg string) *Error               { return &Error{Kind: k, Msg: msg} }
func Wrap(k Kind, msg string, err error) *Error    { return &Error{Kind: k, Msg: msg, Err: err} }
func IsKind(err error, k Kind) bool                { return errors.Is(err, Sentinel(k)) }

// Retryable reports whether err is a provider error that callers (the
// mailbox retry loop) should retry rather than surface.
func Retryable(err error) bool {
	return IsKind(err, KindProviderTransient)
}
