// Package corerr defines the two error kinds that, unlike ordinary
// configuration fallbacks, cannot be recovered from: invariant violations
// and drain timeouts. Both are fatal: the issue engine surfaces them once
// and transitions the run to ABORTED.
package corerr

import (
	"errors"
	"fmt"
)

// Kind classifies a FatalError.
type Kind int

const (
	// KindInvariant is an impossible state: an unknown QueryId at
	// completion, a settings invariant rejected at construction, etc.
	KindInvariant Kind = iota
	// KindTimeout is a DRAINING phase that did not complete within the
	// grace window (10x target_latency).
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindInvariant:
		return "invariant_violation"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// FatalError is a typed fatal-error report. It
// is never retried or downgraded: observing one transitions the engine to
// ABORTED and short-circuits the rest of the pipeline.
type FatalError struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, format string, args ...interface{}) *FatalError {
	return &FatalError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...interface{}) *FatalError {
	return &FatalError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *FatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *FatalError) Unwrap() error { return e.Cause }

// IsFatal reports whether err is (or wraps) a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
