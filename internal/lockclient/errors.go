package lockclient

import (
	"errors"
	"fmt"
)

// Sentinel errors for the outcome classes of a lock service call.
var (
	// ErrIndeterminate means the service gave no decision: transport
	// failure, timeout or an unexpected HTTP status. Never treat as free.
	ErrIndeterminate = errors.New("lock service indeterminate")
	// ErrRejected is a well-formed refusal; Error.Holder names the holder.
	ErrRejected = errors.New("lock request rejected")
	// ErrPrecondition means the call was not attempted.
	ErrPrecondition = errors.New("lock request precondition failed")
	// ErrUnexpected is a response that could not be interpreted.
	ErrUnexpected = errors.New("unexpected lock service response")
)

// Error describes a failed lock service call.
type Error struct {
	Kind   error // one of the sentinels above
	Op     string
	Path   string
	Reason string
	Holder string
	Err    error // underlying cause, if any
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg = fmt.Sprintf("%s: %v", msg, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Reason returns the human-readable reason carried by err, or err's text.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Holder returns the holder reported by a rejection, if any.
func Holder(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Holder
	}
	return ""
}
