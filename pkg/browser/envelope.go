package browser

import (
	"time"
)

// Envelope is the uniform result of every action.
type Envelope struct {
	Success   bool           `json:"success"`
	Action    Kind           `json:"action"`
	SessionID string         `json:"sessionId"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	cause error
}

// Succeeded builds a success envelope.
func Succeeded(kind Kind, sessionID string, data map[string]any) Envelope {
	if data == nil {
		data = map[string]any{}
	}
	return Envelope{
		Success:   true,
		Action:    kind,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Failed builds a failure envelope carrying err's message.
func Failed(kind Kind, sessionID string, err error) Envelope {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Envelope{
		Success:   false,
		Action:    kind,
		SessionID: sessionID,
		Error:     msg,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// Err returns the error behind a failure envelope, or nil on success.
// Callers use it with errors.Is to map failures to transport status codes.
func (e Envelope) Err() error {
	return e.cause
}

// Outcome is a short label for metrics: "ok", "invalid", "timeout" or "error".
func (e Envelope) Outcome() string {
	switch {
	case e.Success:
		return "ok"
	case IsCallerError(e.cause):
		return "invalid"
	case IsTimeout(e.cause):
		return "timeout"
	default:
		return "error"
	}
}
