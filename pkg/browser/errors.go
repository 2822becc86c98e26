package browser

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidParams   = errors.New("invalid parameters")
	ErrUnknownAction   = errors.New("unknown action")
	ErrTimeout         = errors.New("operation timed out")
	ErrLaunchFailed    = errors.New("browser launch failed")
	ErrSessionClosed   = errors.New("browser session closed")
	ErrURLBlocked      = errors.New("url blocked by policy")
	ErrTooManySessions = errors.New("too many sessions")
)

// ParamError reports a missing or invalid action parameter. It is raised
// before the session is resolved, so the session is never touched.
type ParamError struct {
	Action Kind
	Param  string
	Reason string
}

func (e *ParamError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "is required"
	}
	return fmt.Sprintf("%s: %s %s", e.Action, e.Param, reason)
}

func (e *ParamError) Unwrap() error {
	return ErrInvalidParams
}

func missingParam(kind Kind, param string) *ParamError {
	return &ParamError{Action: kind, Param: param}
}

func invalidParam(kind Kind, param, reason string) *ParamError {
	return &ParamError{Action: kind, Param: param, Reason: reason}
}

// IsTimeout returns true if the error means a bounded wait expired.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsCallerError returns true for errors caused by the request itself rather
// than by the browser: bad parameters and blocked URLs.
func IsCallerError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvalidParams) || errors.Is(err, ErrUnknownAction) || errors.Is(err, ErrURLBlocked)
}
