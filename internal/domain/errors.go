package domain

import "errors"

var (
	// ErrNotFound signals a referenced rule or entity is absent.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput signals a missing or nonsensical field, rejected at
	// the service boundary before any write happens.
	ErrInvalidInput = errors.New("invalid input")

	// ErrReadonlyRule signals an attempt to mutate a rule flagged readonly.
	ErrReadonlyRule = errors.New("rule is readonly")

	// ErrConflictingRules signals two rules tying on every precedence key.
	// Uniqueness makes this impossible; hitting it means corrupt data.
	ErrConflictingRules = errors.New("conflicting classification rules")

	// ErrTransient marks database contention or deadlock. Only these
	// failures are worth retrying; everything else surfaces immediately.
	ErrTransient = errors.New("transient storage failure")
)
