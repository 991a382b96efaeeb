// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Ledger errors.
	ErrNotFound              = errors.New("not found")
	ErrDuplicateEntry        = errors.New("duplicate entry")
	ErrConflict              = errors.New("concurrent modification")
	ErrInvalidState          = errors.New("invalid state")
	ErrCircleNotActive       = errors.New("circle not active")
	ErrDuplicateContribution = errors.New("duplicate contribution")
	ErrAmountMismatch        = errors.New("amount mismatch")
	ErrRoundClosed           = errors.New("round closed")
	ErrIncompleteRound       = errors.New("incomplete round")
	ErrAlreadyPaid           = errors.New("round already paid")

	// Regulator errors.
	ErrTransientExternal = errors.New("transient external failure")
	ErrTerminalExternal  = errors.New("terminal external failure")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsIdempotent reports whether err is an idempotent condition that callers
// absorb by returning the existing record.
func IsIdempotent(err error) bool {
	return errors.Is(err, ErrDuplicateContribution) || errors.Is(err, ErrAlreadyPaid)
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrTransientExternal) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
