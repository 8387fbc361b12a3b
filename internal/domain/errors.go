package domain

import (
	"errors"
	"fmt"
)

// ErrBudgetExceeded is returned when an execution would overrun the funds
// raised by the project. It is a validation failure and is never retried.
var ErrBudgetExceeded = NewValidationError("budget exceeded")

// ErrNotFound is returned by repositories when no row matches the lookup
var ErrNotFound = errors.New("not found")

// ErrDuplicatePledge is returned by the pledge repository when the
// (project, payer, idempotency key) unique index rejects an insert. The
// ledger recovers by re-fetching the winning row.
var ErrDuplicatePledge = errors.New("duplicate pledge for idempotency key")

// ValidationError indicates bad input. It is rejected synchronously and
// never retried.
type ValidationError struct {
	Reason string
}

// NewValidationError creates a new ValidationError with the given reason
func NewValidationError(reason string) *ValidationError {
	return &ValidationError{Reason: reason}
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// StateConflictError indicates an invalid state transition or a concurrent
// write that lost the optimistic-lock race. Retried only at the caller's
// discretion, never automatically.
type StateConflictError struct {
	Entity  string
	From    string
	Attempt string
}

// NewStateConflictError creates a new StateConflictError
func NewStateConflictError(entity, from, attempt string) *StateConflictError {
	return &StateConflictError{Entity: entity, From: from, Attempt: attempt}
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict: %s cannot go from %s to %s", e.Entity, e.From, e.Attempt)
}

// TransientError indicates an infrastructure failure (gateway timeout, store
// unavailable). Async paths retry it via outbox backoff; synchronous paths
// propagate it with the Retryable flag set.
type TransientError struct {
	Op        string
	Retryable bool
	Err       error
}

// NewTransientError wraps an infrastructure failure as retryable
func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Retryable: true, Err: err}
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// TerminalError indicates an exhausted retry budget. The affected event is
// FAILED and requires manual replay or cancel.
type TerminalError struct {
	Op  string
	Err error
}

// NewTerminalError marks an operation as beyond automatic recovery
func NewTerminalError(op string, err error) *TerminalError {
	return &TerminalError{Op: op, Err: err}
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("terminal: %s: %v", e.Op, e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStateConflict reports whether err is a StateConflictError
func IsStateConflict(err error) bool {
	var sc *StateConflictError
	return errors.As(err, &sc)
}

// IsRetryable reports whether err is a TransientError flagged retryable
func IsRetryable(err error) bool {
	var te *TransientError
	return errors.As(err, &te) && te.Retryable
}
