// Package apperrors defines the error taxonomy shared by every pipeline
// stage: validation failures, external-collaborator failures, internal
// bugs, cancellation, and budget exhaustion.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the five recognized buckets.
type Kind string

const (
	KindValidation                Kind = "validation"
	KindExternalCollaboratorFailure Kind = "external_collaborator_failure"
	KindStageInternalBug          Kind = "stage_internal_bug"
	KindCancelled                 Kind = "cancelled"
	KindBudgetExhausted           Kind = "budget_exhausted"
)

// Error wraps an underlying cause with a Kind and the stage that raised it.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s[%s]: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, satisfying
// errors.Is(err, &Error{Kind: KindCancelled}) style checks.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

func New(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

func Validation(stage string, err error) *Error {
	return New(KindValidation, stage, err)
}

func ExternalFailure(stage string, err error) *Error {
	return New(KindExternalCollaboratorFailure, stage, err)
}

func InternalBug(stage string, err error) *Error {
	return New(KindStageInternalBug, stage, err)
}

func Cancelled(stage string) *Error {
	return New(KindCancelled, stage, errors.New("request scope cancelled"))
}

func BudgetExhausted(stage string) *Error {
	return New(KindBudgetExhausted, stage, errors.New("turn budget exhausted"))
}

// IsCancelled reports whether err is, or wraps, a Cancelled error.
func IsCancelled(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindCancelled
}

// IsValidation reports whether err is, or wraps, a Validation error.
func IsValidation(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindValidation
}
