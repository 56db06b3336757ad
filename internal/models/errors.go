package models

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies provider attempt failures into the buckets the
// orchestrator and the HTTP surface report on.
type FailureKind string

const (
	FailureTransport FailureKind = "transport_error"
	FailureRejected  FailureKind = "backend_rejected"
	FailureMalformed FailureKind = "malformed_response"
	FailureDeadline  FailureKind = "deadline_exceeded"
)

// AttemptError wraps a single provider failure with its classification so the
// fallback loop can record it and move on without special-casing backends.
type AttemptError struct {
	Provider string
	Kind     FailureKind
	Err      error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// NewAttemptError builds a classified attempt failure. Context expiry always
// wins over the caller's classification so deadline reporting stays accurate.
func NewAttemptError(provider string, kind FailureKind, err error) *AttemptError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = FailureDeadline
	}
	return &AttemptError{Provider: provider, Kind: kind, Err: err}
}

// ClassifyAttempt extracts the failure kind, defaulting to transport when an
// adapter let an unclassified error escape.
func ClassifyAttempt(err error) FailureKind {
	var attempt *AttemptError
	if errors.As(err, &attempt) {
		return attempt.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureDeadline
	}
	return FailureTransport
}
