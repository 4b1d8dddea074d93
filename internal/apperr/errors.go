package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrBusy          = errors.New("another reload or commit is in progress")
	ErrTreeTruncated = errors.New("tree listing truncated")
	ErrNoActiveEntry = errors.New("no active entry")
	ErrInvalidInput  = errors.New("invalid input")
)

// ParseError reports malformed sidecar or link store content.
type ParseError struct {
	Source string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("parse: %s", e.Reason)
	}
	return fmt.Sprintf("parse %s: %s", e.Source, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IntegrityError reports fetched content whose blob SHA differs from the listing.
type IntegrityError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity: %s: expected sha %s, got %s", e.Path, e.Expected, e.Actual)
}
