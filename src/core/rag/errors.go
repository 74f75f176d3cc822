package rag

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Every pipeline failure unwraps to exactly one of these.
var (
	ErrDecode           = errors.New("decode error")
	ErrEmbeddingService = errors.New("embedding service error")
	ErrSynthesis        = errors.New("synthesis error")
	ErrIndex            = errors.New("index error")
	ErrInvalidFormat    = errors.New("invalid format")
	ErrThrottled        = errors.New("throttled")
	ErrRateLimited      = errors.New("already processed recently")
)

// Causes with their own reporting.
var (
	ErrNoExtractableText   = errors.New("no extractable text")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrDimensionMismatch   = errors.New("vector dimension mismatch")
)

// Error carries a kind, a human readable reason and whether a retry may help.
type Error struct {
	Kind      error
	Reason    string
	Transient bool
	Err       error
}

// NewError builds a pipeline error. cause may be nil.
func NewError(kind error, transient bool, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:      kind,
		Reason:    fmt.Sprintf(format, args...),
		Transient: transient,
		Err:       cause,
	}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsTransient reports whether err is worth retrying. Context cancellation and
// plain errors that are not pipeline errors are treated as permanent.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Transient
	}
	return false
}

// KindOf returns the short name of the error kind, used in job records and
// HTTP responses.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDecode):
		return "decode_error"
	case errors.Is(err, ErrEmbeddingService):
		return "embedding_service_error"
	case errors.Is(err, ErrSynthesis):
		return "synthesis_error"
	case errors.Is(err, ErrIndex):
		return "index_error"
	case errors.Is(err, ErrInvalidFormat):
		return "invalid_format"
	case errors.Is(err, ErrThrottled):
		return "throttled"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal_error"
	}
}

// ReasonOf returns the human readable reason of err.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Reason, e.Err)
		}
		return e.Reason
	}
	return err.Error()
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a provider failure that a retry cannot fix, such as a
// rejected request or bad credentials.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
