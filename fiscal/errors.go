/*
errors.go - Centralized error taxonomy for the fiscal engine

PURPOSE:
  All failure categories in one place. Workflow operations recover these at
  the operation boundary and return them as typed failures - nothing is
  logged-and-ignored. Two of them (ErrVoucherImbalance and
  ErrConfigurationMissing) indicate setup or engine bugs rather than user
  error and should additionally be surfaced as operator alerts.

ERROR CATEGORIES:
  1. Input errors        - ErrValidation
  2. Workflow errors     - ErrInvalidTransition, ErrUnauthorizedRole
  3. Budget errors       - ErrBudgetExceeded, ErrAlreadyReleased, ErrAlreadyLocked
  4. Integrity errors    - ErrVoucherImbalance (fatal, never silently corrected)
  5. Configuration       - ErrConfigurationMissing
  6. Lookup              - ErrNotFound

USAGE:
  Structured variants wrap the sentinels, so callers can do either:

    if errors.Is(err, fiscal.ErrBudgetExceeded) { ... }

    var be *fiscal.BudgetExceededError
    if errors.As(err, &be) { shortfall := be.Shortfall() }
*/
package fiscal

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input, e.g. bill lines that do
	// not sum to the gross amount.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when a workflow operation is attempted
	// from the wrong state.
	ErrInvalidTransition = errors.New("invalid workflow transition")

	// ErrUnauthorizedRole is returned when the actor's role fails a gate.
	ErrUnauthorizedRole = errors.New("role not permitted for this transition")

	// ErrBudgetExceeded is returned when a spend would push spent_amount past
	// released_amount on any touched allocation.
	ErrBudgetExceeded = errors.New("insufficient released budget")

	// ErrVoucherImbalance is returned when sum(debit) != sum(credit) on a
	// voucher about to be posted. This is an integrity bug, never corrected
	// silently.
	ErrVoucherImbalance = errors.New("voucher debits do not equal credits")

	// ErrAlreadyReleased guards quarterly release idempotency.
	ErrAlreadyReleased = errors.New("quarter already released")

	// ErrAlreadyLocked guards fiscal year finalization idempotency.
	ErrAlreadyLocked = errors.New("fiscal year already locked")

	// ErrConfigurationMissing is returned when a system account (AP, tax
	// payable, bank) cannot be resolved to exactly one active head.
	ErrConfigurationMissing = errors.New("system configuration missing")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrFiscalYearInactive is returned when an operation requires an active
	// fiscal year.
	ErrFiscalYearInactive = errors.New("fiscal year not active")
)

// =============================================================================
// STRUCTURED ERRORS - carry context for callers and operators
// =============================================================================

// ValidationError describes a malformed-input failure on a named field.
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

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// TransitionError describes a state machine violation.
type TransitionError struct {
	Entity    string // "bill", "establishment", "voucher"
	Current   string
	Attempted string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move %s from %s to %s", e.Entity, e.Current, e.Attempted)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// RoleError describes a role gate failure.
type RoleError struct {
	Role      Role
	Attempted string
	Allowed   []Role
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("role %s may not perform %s (allowed: %v)", e.Role, e.Attempted, e.Allowed)
}

func (e *RoleError) Unwrap() error { return ErrUnauthorizedRole }

// BudgetExceededError reports the head that failed the hard budget check.
type BudgetExceededError struct {
	Head       HeadID
	FiscalYear string
	Requested  decimal.Decimal
	Available  decimal.Decimal
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("insufficient budget for head %s in %s: requested %s, available %s",
		e.Head, e.FiscalYear, e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

func (e *BudgetExceededError) Unwrap() error { return ErrBudgetExceeded }

// Shortfall returns requested minus available.
func (e *BudgetExceededError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// ImbalanceError reports an out-of-balance voucher with the computed
// difference (debits minus credits).
type ImbalanceError struct {
	VoucherNo  string
	Debits     decimal.Decimal
	Credits    decimal.Decimal
}

func (e *ImbalanceError) Error() string {
	return fmt.Sprintf("voucher %s imbalanced: debits %s, credits %s, difference %s",
		e.VoucherNo, e.Debits.StringFixed(2), e.Credits.StringFixed(2),
		e.Debits.Sub(e.Credits).StringFixed(2))
}

func (e *ImbalanceError) Unwrap() error { return ErrVoucherImbalance }

// ConfigError reports an unresolvable system account code.
type ConfigError struct {
	SystemCode string
	Found      int // 0 or >1 active heads
}

func (e *ConfigError) Error() string {
	if e.Found == 0 {
		return fmt.Sprintf("system account %q not configured", e.SystemCode)
	}
	return fmt.Sprintf("system account %q resolves to %d active heads, want exactly one", e.SystemCode, e.Found)
}

func (e *ConfigError) Unwrap() error { return ErrConfigurationMissing }

// ReserveError reports a failed finalization check with the shortfall.
type ReserveError struct {
	Check     string // "contingency_reserve" or "zero_deficit"
	Required  decimal.Decimal
	Actual    decimal.Decimal
}

func (e *ReserveError) Error() string {
	return fmt.Sprintf("%s check failed: required %s, actual %s (shortfall %s)",
		e.Check, e.Required.StringFixed(2), e.Actual.StringFixed(2), e.Shortfall().StringFixed(2))
}

func (e *ReserveError) Unwrap() error { return ErrValidation }

// Shortfall returns required minus actual.
func (e *ReserveError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Actual)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the failure is attributable to caller input
// rather than engine or configuration state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrUnauthorizedRole) ||
		errors.Is(err, ErrBudgetExceeded) ||
		errors.Is(err, ErrAlreadyReleased) ||
		errors.Is(err, ErrAlreadyLocked)
}

// IsOperatorAlert reports whether the failure indicates setup or engine bugs
// that should page an operator, per the propagation policy.
func IsOperatorAlert(err error) bool {
	return errors.Is(err, ErrVoucherImbalance) ||
		errors.Is(err, ErrConfigurationMissing)
}
