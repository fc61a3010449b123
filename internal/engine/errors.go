package engine

import (
	"fmt"

	"github.com/fiskasyela/braintheria-backend/internal/repo"
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// NotFoundError reports a missing question or answer. It matches
// repo.ErrNotFound.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e NotFoundError) Unwrap() error { return repo.ErrNotFound }

// SelfAnswerError is returned when an author answers their own question.
type SelfAnswerError struct {
	QuestionID int64
}

func (e SelfAnswerError) Error() string {
	return fmt.Sprintf("cannot answer own question %d", e.QuestionID)
}

// InvalidStateError reports an operation the question's lifecycle state
// does not allow.
type InvalidStateError struct {
	QuestionID int64
	Status     string
	Reason     string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("question %d is %s: %s", e.QuestionID, e.Status, e.Reason)
}

// InsufficientFundsError is returned when the funding address cannot cover
// the requested bounty.
type InsufficientFundsError struct {
	Address   string
	Required  string
	Available string
	Degraded  bool
}

func (e InsufficientFundsError) Error() string {
	if e.Degraded {
		return fmt.Sprintf("balance of %s could not be read; %s wei required", e.Address, e.Required)
	}
	return fmt.Sprintf("balance of %s is %s wei; %s wei required", e.Address, e.Available, e.Required)
}
