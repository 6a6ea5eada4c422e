// Package apierr classifies failures of calls against the log API and of
// dashboard operations, so callers can react to the kind instead of the text.
package apierr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Unknown Kind = iota
	// NetworkFailure means the request could not be completed.
	NetworkFailure
	// RemoteRejection means the API answered with a non-2xx status.
	RemoteRejection
	// InvalidResponseShape means the payload was not what the call expects.
	InvalidResponseShape
	// PreconditionViolation means the operation was invoked on a missing key
	// or while another operation on the same key was pending.
	PreconditionViolation
)

func (k Kind) String() string {
	switch k {
	case NetworkFailure:
		return "network_failure"
	case RemoteRejection:
		return "remote_rejection"
	case InvalidResponseShape:
		return "invalid_response_shape"
	case PreconditionViolation:
		return "precondition_violation"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind    Kind
	Op      string
	Status  int    // HTTP status for RemoteRejection
	Message string // server message when available
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Op, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func Network(op string, err error) error {
	return &Error{Kind: NetworkFailure, Op: op, Err: err}
}

func Rejected(op string, status int, message string) error {
	return &Error{Kind: RemoteRejection, Op: op, Status: status, Message: message}
}

func Shape(op string, err error) error {
	return &Error{Kind: InvalidResponseShape, Op: op, Err: err}
}

func Precondition(op string, err error) error {
	return &Error{Kind: PreconditionViolation, Op: op, Err: err}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// MessageOf returns the message worth showing to a user: the server's own
// message when it sent one, otherwise the error text.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		if e.Err != nil {
			return e.Err.Error()
		}
	}
	return err.Error()
}
