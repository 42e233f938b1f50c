package lesson

import (
	"errors"
	"fmt"
)

// ValidationError reports bad input to a core operation. State is unchanged.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// StateError reports an operation the current state does not allow.
type StateError struct {
	Op    string
	State State
	Msg   string
}

func (e *StateError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}

// PersistenceError wraps a failure of the persistence collaborator.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type ClassificationKind int

const (
	ClassificationOther ClassificationKind = iota
	ClassificationNotAvailable
	ClassificationAccessDenied
	ClassificationRateLimited
)

func (k ClassificationKind) String() string {
	switch k {
	case ClassificationNotAvailable:
		return "not_available"
	case ClassificationAccessDenied:
		return "access_denied"
	case ClassificationRateLimited:
		return "rate_limited"
	default:
		return "other"
	}
}

// ClassificationError wraps a failure of the classification collaborator.
type ClassificationError struct {
	Kind ClassificationKind
	Err  error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification %s: %v", e.Kind, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// ClassificationMessage is the learner-facing text for a classifier failure.
func ClassificationMessage(kind ClassificationKind) string {
	switch kind {
	case ClassificationNotAvailable:
		return "AI model not available. Please check your setup."
	case ClassificationAccessDenied:
		return "API access denied. Check your API key and billing."
	case ClassificationRateLimited:
		return "Too many requests. Please wait a moment and try again."
	default:
		return "AI analysis failed. Please try again."
	}
}

// ErrValidationPending is returned when a validation arrives while the
// previous one for the same session has not finished.
var ErrValidationPending = &StateError{Op: "validate", Msg: "previous validation still pending"}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsState(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
