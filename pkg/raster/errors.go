package raster

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass classifies download failures for retry decisions and
// observability.
type ErrorClass string

const (
	// ClassConfiguration marks unusable caller configuration, such as a
	// payload ceiling smaller than a single pixel. Fatal, never retried.
	ClassConfiguration ErrorClass = "configuration"

	// ClassUnavailable marks failure to obtain raster metadata from the
	// upstream service. Fatal, no tile work is attempted.
	ClassUnavailable ErrorClass = "unavailable"

	// ClassTransient marks network timeouts, rate-limit responses, and
	// server errors. Retried per tile up to the configured bound.
	ClassTransient ErrorClass = "transient"

	// ClassPermanent marks malformed region requests and authorization
	// failures. Finalized immediately.
	ClassPermanent ErrorClass = "permanent"

	// ClassDecode marks payloads that cannot be parsed into the expected
	// shape and dtype. A protocol mismatch, not a transient condition.
	ClassDecode ErrorClass = "decode"

	// ClassCancelled marks tiles abandoned by a caller-initiated abort.
	ClassCancelled ErrorClass = "cancelled"
)

// Error is a classified downloader error.
type Error struct {
	Class   ErrorClass
	Status  int // HTTP status of the upstream response, 0 when not applicable
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Status != 0 {
			return fmt.Sprintf("%s error (status %d): %s: %v", e.Class, e.Status, e.Message, e.Err)
		}
		return fmt.Sprintf("%s error: %s: %v", e.Class, e.Message, e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Class, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Class, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error with a formatted message.
func NewError(class ErrorClass, format string, args ...any) *Error {
	return &Error{Class: class, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps err with a class and message. A nil err yields nil.
func WrapError(class ErrorClass, err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Message: message, Err: err}
}

// ClassOf returns the classification of err. Context cancellation maps
// to ClassCancelled; unclassified errors are treated as permanent so
// they are never retried blindly.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Class
	}
	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassPermanent
}

// IsRetryable reports whether err may succeed on a repeat attempt with
// an identical request.
func IsRetryable(err error) bool {
	return ClassOf(err) == ClassTransient
}
