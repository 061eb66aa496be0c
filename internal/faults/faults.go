// Package faults defines the error taxonomy shared by every pipeline stage.
//
// Stages return *Error values tagged with a Kind. The orchestrator and the
// HTTP layer switch on the Kind; the wrapped error carries dependency detail
// for logs and never reaches the caller.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindTranscription      Kind = "transcription"
	KindSemanticExtraction Kind = "semantic_extraction"
	KindStorage            Kind = "storage"
	KindNotFound           Kind = "not_found"
	KindUnclassified       Kind = "unclassified"
)

// Service identifies an external dependency.
type Service string

const (
	ServiceTranscription      Service = "transcription"
	ServiceSemanticExtraction Service = "semantic_extraction"
)

// Caller-facing messages for server-side failures.
const (
	MsgTranscriptionUnavailable = "transcription service unavailable"
	MsgExtractionUnavailable    = "semantic extraction service unavailable"
	MsgStorageFailed            = "failed to store data"
	MsgInternal                 = "internal server error"
)

// ErrTimeout marks an upstream call that ran out of time.
var ErrTimeout = errors.New("upstream call timed out")

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string // safe to return to the caller
	Timeout bool   // only meaningful for upstream failures
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is and errors.As to reach the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports rejected input. msg is returned to the caller verbatim.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Validationf formats a validation message.
func Validationf(format string, args ...any) *Error {
	return Validation(fmt.Sprintf(format, args...))
}

// Unavailable reports a failed call to svc. A cause wrapping ErrTimeout or
// context.DeadlineExceeded should be passed with timeout set.
func Unavailable(svc Service, timeout bool, err error) *Error {
	e := &Error{Timeout: timeout, Err: err}
	switch svc {
	case ServiceTranscription:
		e.Kind, e.Message = KindTranscription, MsgTranscriptionUnavailable
	case ServiceSemanticExtraction:
		e.Kind, e.Message = KindSemanticExtraction, MsgExtractionUnavailable
	default:
		e.Kind, e.Message = KindUnclassified, MsgInternal
	}
	return e
}

// Storage reports a failed collection read or write.
func Storage(err error) *Error {
	return &Error{Kind: KindStorage, Message: MsgStorageFailed, Err: err}
}

// NotFound reports a missing entity.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Unclassified wraps an unexpected error.
func Unclassified(err error) *Error {
	return &Error{Kind: KindUnclassified, Message: MsgInternal, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindUnclassified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnclassified
}

// IsTimeout reports whether err is an upstream timeout.
func IsTimeout(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Timeout
}

// IsDeadline reports whether err came from an expired context or a network
// timeout. Gateways use it to set Error.Timeout.
func IsDeadline(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// HTTPStatus maps a Kind to a response status.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the caller-safe message for err.
func PublicMessage(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	return MsgInternal
}
