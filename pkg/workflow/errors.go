package workflow

import (
	"errors"
	"fmt"

	"github.com/opsdesk/guichet/pkg/request"
)

// Kind classifies a workflow failure.
type Kind string

const (
	// KindIllegalTransition means no edge with this name leaves the
	// request's current status.
	KindIllegalTransition Kind = "illegal_transition"

	// KindUnauthorized means the acting user failed the edge's
	// capability/identity guard.
	KindUnauthorized Kind = "unauthorized"

	// KindInvalidPayload means a required payload field is missing.
	KindInvalidPayload Kind = "invalid_payload"

	// KindStaleState means a concurrent writer modified the request between
	// load and save. The caller should re-read and re-decide.
	KindStaleState Kind = "stale_state"

	// KindNotFound means no request exists with the given id.
	KindNotFound Kind = "not_found"
)

// Error is a typed workflow failure. A failed attempt never leaves partial
// state behind: the aggregate is exactly as it was before the call.
type Error struct {
	Kind       Kind
	Transition Transition
	Status     request.Status
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("workflow: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("workflow: %s", e.Kind)
}

func newError(kind Kind, transition Transition, status request.Status, format string, args ...interface{}) *Error {
	return &Error{
		Kind:       kind,
		Transition: transition,
		Status:     status,
		Message:    fmt.Sprintf(format, args...),
	}
}

// KindOf returns the Kind of a workflow error, or "" for other errors.
func KindOf(err error) Kind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return ""
}

// IsKind reports whether err is a workflow error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
