package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidID           = errors.New("invalid identifier")
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrAmbiguousEntity     = errors.New("ambiguous entity")
	ErrSourceUnavailable   = errors.New("source unavailable")
	ErrPartialBatchFailure = errors.New("partial batch failure")
)

// MalformedPayloadError names the required key a payload was missing.
type MalformedPayloadError struct {
	Key string
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload: missing %q", e.Key)
}

func (e *MalformedPayloadError) Unwrap() error { return ErrMalformedPayload }

// AmbiguousEntityError is returned when duplicate entities disagree on a field
// that must not change, so they cannot be merged automatically.
type AmbiguousEntityError struct {
	ID         string
	Field      string
	Candidates []string
}

func (e *AmbiguousEntityError) Error() string {
	return fmt.Sprintf("ambiguous entity %q: candidates [%s] disagree on %s",
		e.ID, strings.Join(e.Candidates, ", "), e.Field)
}

func (e *AmbiguousEntityError) Unwrap() error { return ErrAmbiguousEntity }

// Known source error codes.
const (
	CodeNotFound     = 34
	CodeUserNotFound = 50
	CodeSuspended    = 63
	CodeRateLimited  = 88
	CodeProtected    = 179
	CodeUnauthorized = 401
	CodeForbidden    = 403
)

// SourceError reports that the remote target is private, suspended or
// otherwise unavailable.
type SourceError struct {
	Code   int
	Reason string
}

func (e *SourceError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("source unavailable: code %d", e.Code)
	}
	return fmt.Sprintf("source unavailable: %s (code %d)", e.Reason, e.Code)
}

func (e *SourceError) Unwrap() error { return ErrSourceUnavailable }

// Private is the sentinel a source returns for protected accounts.
func Private() *SourceError { return &SourceError{Code: CodeProtected, Reason: "private"} }

// PartialBatchFailureError reports a batch in which every item failed.
type PartialBatchFailureError struct {
	Failed int
	Total  int
}

func (e *PartialBatchFailureError) Error() string {
	return fmt.Sprintf("batch failed: %d of %d items", e.Failed, e.Total)
}

func (e *PartialBatchFailureError) Unwrap() error { return ErrPartialBatchFailure }
