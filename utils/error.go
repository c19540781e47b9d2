package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorKind classifies a failure so the HTTP layer can map it to a status
// code and callers can decide whether a retry makes sense. Nothing in this
// codebase retries internally; every kind aborts only the current unit of
// work and leaves stored state unchanged.
type ErrorKind string

const (
	ErrKindNotFound               ErrorKind = "NOT_FOUND"
	ErrKindCategorisationNotFound ErrorKind = "CATEGORISATION_NOT_FOUND"
	ErrKindInvalidStateTransition ErrorKind = "INVALID_STATE_TRANSITION"
	ErrKindIdentityMismatch       ErrorKind = "IDENTITY_MISMATCH"
	ErrKindValidationFailure      ErrorKind = "VALIDATION_FAILURE"
)

type DomainError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is lets errors.Is match two DomainErrors by kind alone, so callers can
// compare against a bare kind value without caring about the message.
func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if errors.As(target, &de) {
		return e.Kind == de.Kind
	}
	return false
}

func NewDomainError(kind ErrorKind, format string, args ...any) *DomainError {
	return &DomainError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapDomainError(kind ErrorKind, err error, format string, args ...any) *DomainError {
	return &DomainError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func ErrNotFound(format string, args ...any) *DomainError {
	return NewDomainError(ErrKindNotFound, format, args...)
}

func ErrCategorisationNotFound(format string, args ...any) *DomainError {
	return NewDomainError(ErrKindCategorisationNotFound, format, args...)
}

func ErrInvalidStateTransition(format string, args ...any) *DomainError {
	return NewDomainError(ErrKindInvalidStateTransition, format, args...)
}

func ErrIdentityMismatch(format string, args ...any) *DomainError {
	return NewDomainError(ErrKindIdentityMismatch, format, args...)
}

func ErrValidationFailure(format string, args ...any) *DomainError {
	return NewDomainError(ErrKindValidationFailure, format, args...)
}

// KindOf returns the DomainError kind, or "" for plain errors.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
