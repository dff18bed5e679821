package retrieval

import (
	"errors"
	"fmt"

	"VKMBot/core/plugin"
)

// ErrorKind classifies retrieval failures.
type ErrorKind int

const (
	KindNotFound ErrorKind = iota
	KindProviderFailure
	KindIOFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindProviderFailure:
		return "provider_failure"
	case KindIOFailure:
		return "io_failure"
	default:
		return "unknown"
	}
}

// Error is returned by Executor.Fetch.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("retrieval %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("retrieval %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so the Err* sentinels work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Op == "" && t.Kind == e.Kind
}

// Transient reports whether retrying the whole fetch may succeed.
func (e *Error) Transient() bool {
	return e.Kind == KindProviderFailure && plugin.IsTransient(e.Err)
}

var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrProviderFailure = &Error{Kind: KindProviderFailure}
	ErrIOFailure       = &Error{Kind: KindIOFailure}
)

// IsTransient reports whether err is a retryable retrieval error.
func IsTransient(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Transient()
}

// KindOf returns the kind of a retrieval error, or false.
func KindOf(err error) (ErrorKind, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}
