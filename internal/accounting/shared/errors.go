package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every ValidationError.
	ErrValidation = errors.New("accounting: validation failed")
	// ErrNotFound indicates a referenced id does not resolve.
	ErrNotFound = errors.New("accounting: not found")
	// ErrInvalidStateTransition indicates the operation is not legal from the current status.
	ErrInvalidStateTransition = errors.New("accounting: invalid status transition")
	// ErrHasChildren indicates a parent account cannot be deactivated.
	ErrHasChildren = errors.New("accounting: account has child accounts")
	// ErrPostedImmutable indicates a posted transaction cannot be edited or deleted.
	ErrPostedImmutable = errors.New("accounting: posted transaction is immutable, reverse it instead")
	// ErrConcurrencyConflict indicates an optimistic lock or commit failure; safe to retry.
	ErrConcurrencyConflict = errors.New("accounting: concurrent modification, retry")
	// ErrHierarchyCycle indicates an account would become its own ancestor.
	ErrHierarchyCycle = errors.New("accounting: account hierarchy cycle")

	// ErrUnknownAccount indicates a journal line references a missing account.
	ErrUnknownAccount = fmt.Errorf("%w: unknown account", ErrNotFound)
	// ErrAccountNotFound indicates an account id does not resolve.
	ErrAccountNotFound = fmt.Errorf("%w: account", ErrNotFound)
	// ErrTransactionNotFound indicates a transaction id does not resolve.
	ErrTransactionNotFound = fmt.Errorf("%w: transaction", ErrNotFound)
	// ErrNotPosted indicates a reversal was requested for a transaction that is not POSTED.
	ErrNotPosted = fmt.Errorf("%w: transaction is not posted", ErrInvalidStateTransition)

	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = &ValidationError{Field: "entries", Message: "total debits must equal total credits"}
	// ErrTooFewLines indicates less than two journal entries.
	ErrTooFewLines = &ValidationError{Field: "entries", Message: "at least two journal entries are required"}
	// ErrZeroAmount indicates a transaction moves no money.
	ErrZeroAmount = &ValidationError{Field: "entries", Message: "transaction amount must be greater than zero"}
	// ErrDuplicateCode indicates the account code is taken within the institution.
	ErrDuplicateCode = &ValidationError{Field: "code", Message: "account code already exists"}
	// ErrInactiveAccount indicates a journal line references a deactivated account.
	ErrInactiveAccount = &ValidationError{Field: "accountId", Message: "account is inactive"}
)

// ValidationError describes a malformed request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "accounting: " + e.Message
	}
	return fmt.Sprintf("accounting: %s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StateError reports an illegal transition with the offending statuses.
func StateError(op string, from any) error {
	return fmt.Errorf("%w: cannot %s from %v", ErrInvalidStateTransition, op, from)
}
