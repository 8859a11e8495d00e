package moderation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"calmmap/internal/domain/reports"
	"calmmap/internal/domain/reviews"
	"calmmap/internal/domain/submissions"
	"calmmap/internal/domain/venues"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrReviewGone is wrapped by the NotFoundError returned when a report
	// points at a review that has since been deleted. Callers usually dismiss
	// the report instead.
	ErrReviewGone = errors.New("reported review no longer exists")
)

// ValidationError carries one message per offending field, keyed by JSON path.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// NotFoundError reports a missing entity. ID is zero when the entity is not
// known by id, such as the review of a detached report.
type NotFoundError struct {
	Entity string
	ID     int64
	Err    error
}

func (e *NotFoundError) Error() string {
	what := e.Entity
	if e.ID != 0 {
		what = fmt.Sprintf("%s %d", e.Entity, e.ID)
	}
	if e.Err != nil && e.Err != ErrNotFound {
		return fmt.Sprintf("%s not found: %v", what, e.Err)
	}
	return what + " not found"
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func (e *NotFoundError) Unwrap() error { return e.Err }

// ConflictError is an illegal transition. Status is the current state of the
// entity when that is the reason; Duplicates is set by the duplicate guard.
type ConflictError struct {
	Reason     string
	Status     string
	Duplicates []venues.Summary
}

func (e *ConflictError) Error() string {
	if len(e.Duplicates) > 0 {
		return fmt.Sprintf("conflict: %s (%d possible duplicates)", e.Reason, len(e.Duplicates))
	}
	return "conflict: " + e.Reason
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// PartialFailureError reports an action whose first step committed and whose
// second step did not. Nothing was rolled back.
type PartialFailureError struct {
	Completed string
	Failed    string
	Err       error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("partial failure: %s succeeded but %s failed: %v", e.Completed, e.Failed, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

// lookupErr turns a store not-found sentinel into a NotFoundError and wraps
// anything else with the entity it concerns.
func lookupErr(entity string, id int64, err error) error {
	switch {
	case errors.Is(err, venues.ErrVenueNotFound),
		errors.Is(err, submissions.ErrSubmissionNotFound),
		errors.Is(err, reviews.ErrReviewNotFound),
		errors.Is(err, reports.ErrReportNotFound):
		return &NotFoundError{Entity: entity, ID: id, Err: err}
	}
	return fmt.Errorf("load %s %d: %w", entity, id, err)
}

func statusConflict(entity string, status string) *ConflictError {
	return &ConflictError{
		Reason: fmt.Sprintf("%s is %s", entity, strings.ToLower(status)),
		Status: status,
	}
}
