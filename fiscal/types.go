/*
Package fiscal provides the core shared types for the fiscal engine.

PURPOSE:
  This package contains the domain-agnostic vocabulary used by every other
  package: money helpers, fiscal years and quarters, actor/role identities,
  and the centralized error taxonomy. It has no persistence and no I/O.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amounts with a pinned 2-decimal rounding rule
  - FiscalYear: the government financial year, with active/locked lifecycle
  - Quarter: Q1..Q4 release periods
  - Actor/Role: the trusted identity context passed into every workflow call

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere an amount lives; never float64
  2. Explicitness: derived fields are computed at write time, not in hooks
  3. Type safety: strong typing for IDs prevents mixing head/bill/voucher IDs

ROUNDING RULE:
  All monetary rounding in this system is round-half-away-from-zero to
  2 decimal places (RoundMoney). Amounts in this domain are non-negative, so
  this is plain "half up". Tests pin this behavior.

SEE ALSO:
  - errors.go: Error taxonomy shared by all workflow operations
*/
package fiscal

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - decimal amounts, 2dp, half-up
// =============================================================================

// MoneyPlaces is the number of decimal places every stored amount carries.
const MoneyPlaces = 2

// RoundMoney rounds to 2 decimal places, half away from zero.
// This is the single rounding rule for the whole engine; tax components,
// release amounts and voucher lines all pass through here.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// MustMoney parses a decimal string, panicking on malformed input.
// Intended for constants and test fixtures only.
func MustMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("fiscal: bad money literal " + s)
	}
	return d
}

// Zero is the canonical zero amount.
var Zero = decimal.Zero

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	OrgID     string // organization / tenant identifier, issued by the host app
	HeadID    string // budget head identifier
	BillID    string
	PayeeID   string
	VoucherID string
	EntryID   string // establishment entry identifier
)

// =============================================================================
// FISCAL YEAR
// =============================================================================

// FiscalYear is the government financial year (July-June).
// It can be active (open for entry) and, independently, locked (finalized).
// Once locked, allocation figures are frozen; spending against the locked
// numbers continues through the year.
type FiscalYear struct {
	Name      string // e.g. "2025-26"
	StartDate time.Time
	EndDate   time.Time
	Active    bool
	Locked    bool
	SAENumber string // set when the budget is finalized
	LockedAt  *time.Time
}

// CanEditBudget reports whether allocation figures may still be changed.
func (fy FiscalYear) CanEditBudget() bool {
	return fy.Active && !fy.Locked
}

// =============================================================================
// QUARTER
// =============================================================================

type Quarter string

const (
	Q1 Quarter = "Q1"
	Q2 Quarter = "Q2"
	Q3 Quarter = "Q3"
	Q4 Quarter = "Q4"
)

// Quarters lists the release quarters in order.
var Quarters = []Quarter{Q1, Q2, Q3, Q4}

// Valid reports whether q is a known quarter code.
func (q Quarter) Valid() bool {
	switch q {
	case Q1, Q2, Q3, Q4:
		return true
	}
	return false
}

// =============================================================================
// ACTOR / ROLES - trusted identity context from the host application
// =============================================================================

// Role is a stable role code. The engine performs role-gate checks only;
// authentication and role assignment belong to the host application.
type Role string

const (
	RoleMaker      Role = "DA"  // dealing assistant: creates and submits bills
	RoleAccountant Role = "AC"  // verifying officer
	RoleTOFinance  Role = "TOF" // finance officer: pre-audit, payments
	RoleTMO        Role = "TMO" // approving authority
	RoleLCB        Role = "LCB" // provincial board: PUGF approvals
	RoleAdmin      Role = "ADM" // superuser: passes every gate
)

// Actor is the identity context each workflow call receives.
type Actor struct {
	ID   string
	Role Role
	Org  OrgID
}

// Is reports whether the actor holds one of the given roles.
// RoleAdmin always passes.
func (a Actor) Is(roles ...Role) bool {
	if a.Role == RoleAdmin {
		return true
	}
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}
