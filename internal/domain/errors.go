package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ParseError reports a malformed file or record. Per-record errors are
// recoverable; Fatal marks the whole file unreadable.
type ParseError struct {
	// Index is the 1-based row or array-element index, 0 when the
	// error concerns the file as a whole.
	Index  int
	Reason string
	Fatal  bool
}

func (e *ParseError) Error() string {
	if e.Index > 0 {
		return fmt.Sprintf("parse error at record %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("parse error: %s", e.Reason)
}

// ValidationError reports a missing or invalid field on a raw record.
// The record is dropped and reported; the file continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

// ScoringError reports missing scoring context, e.g. unavailable account
// history. Non-fatal: scoring proceeds with the detectors that can run
// and the transaction is flagged scoring_incomplete.
type ScoringError struct {
	Detector string
	Err      error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("scoring %s: %v", e.Detector, e.Err)
}

func (e *ScoringError) Unwrap() error { return e.Err }

// InvalidTransitionError reports an illegal alert status change.
// No mutation happens; the caller gets both sides of the rejection.
type InvalidTransitionError struct {
	AlertID   string
	Current   AlertStatus
	Requested AlertStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("alert %s: invalid transition %s -> %s", e.AlertID, e.Current, e.Requested)
}

// PersistenceError reports a store failure after retries were exhausted.
type PersistenceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// FileTooLargeError rejects an upload before parsing.
type FileTooLargeError struct {
	Name  string
	Size  int64
	Limit int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file %q is %d bytes, limit is %d", e.Name, e.Size, e.Limit)
}
