// Package core holds the types shared by the pipeline, the hooks and the
// memory subsystem.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors.
var (
	// ErrCollectionNotFound indicates a collection name that is not registered.
	ErrCollectionNotFound = errors.New("collection does not exist")

	// ErrNotReady indicates the runtime is not bootstrapped, or a collection
	// is awaiting bootstrap after a wipe.
	ErrNotReady = errors.New("not ready")

	// ErrRegistryFrozen indicates a hook registration after bootstrap completed.
	ErrRegistryFrozen = errors.New("hook registry is frozen")

	// ErrEmptyMessage indicates an incoming message without text.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrRateLimited indicates the guardrails rejected a message.
	ErrRateLimited = errors.New("rate limited")
)

// ValidationError reports a bad client request, such as an unknown collection.
// It is surfaced immediately and never retried.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewCollectionNotFound returns the validation error for an unknown collection.
func NewCollectionNotFound(name string) error {
	return &ValidationError{
		Field:   "collection",
		Message: fmt.Sprintf("collection %q does not exist", name),
		Err:     ErrCollectionNotFound,
	}
}

// Pipeline stage names used in StageFailure.
const (
	StageIntake    = "intake"
	StageRecall    = "recall"
	StageReasoning = "reasoning"
	StageResponse  = "response"
	StageBootstrap = "bootstrap"
)

// StageFailure reports that a hook or external collaborator failed during a
// pipeline run. The run is aborted and working memory is left untouched.
type StageFailure struct {
	Stage string
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error {
	return e.Err
}

// BootstrapError reports that initialization could not reach a required
// collaborator. The runtime refuses messages until a bootstrap succeeds.
type BootstrapError struct {
	Op  string
	Err error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("bootstrap: %s: %v", e.Op, e.Err)
}

func (e *BootstrapError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a client validation error.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
