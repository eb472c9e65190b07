/*
Package budget is the budget ledger: allocations, hard spending limits,
quarterly releases and fiscal-year finalization.

PURPOSE:
  Holds per-(fiscal year, organization, budget head) allocation rows and
  enforces the hard budget constraint at every mutation:

      0 <= spent_amount <= released_amount <= revised_allocation

  The spend path is serialized: two concurrent approvals against the same
  head can never both observe a stale available balance and jointly
  overspend. The store guarantees this with a guarded atomic update inside
  the caller's transaction.

KEY CONCEPTS IN THIS FILE (allocation.go):
  - Allocation: one budget row; revised initializes from original at
    construction time, explicitly - no save-time hooks
  - classification snapshots (object class, account type) carried on the
    row so release and finalization do not need per-row head lookups

SEE ALSO:
  - ledger.go: the operations (available, commit-spend, release, finalize)
*/
package budget

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cfms/fiscal-engine/coa"
	"github.com/cfms/fiscal-engine/fiscal"
)

// Object-class prefixes driving release and finalization rules.
const (
	salaryPrefix      = "A01" // released 100% in Q1
	contingencyPrefix = "A09" // counts toward the 2% reserve requirement
)

// Allocation is one budget row for (fiscal year, organization, head).
type Allocation struct {
	Org        fiscal.OrgID
	FiscalYear string
	Head       fiscal.HeadID

	Original decimal.Decimal
	Revised  decimal.Decimal
	Released decimal.Decimal
	Spent    decimal.Decimal

	// Classification snapshots from the head, populated by the store.
	ObjectClass string
	AccountType coa.AccountType
}

// NewAllocation creates an allocation with revised seeded from original.
// This replaces the original system's save-signal derivation: the derived
// field is computed here, once, synchronously.
func NewAllocation(org fiscal.OrgID, fy string, head fiscal.HeadID, original decimal.Decimal) (*Allocation, error) {
	if original.IsNegative() {
		return nil, fiscal.Invalid("original_allocation", "allocation cannot be negative")
	}
	amt := fiscal.RoundMoney(original)
	return &Allocation{
		Org:        org,
		FiscalYear: fy,
		Head:       head,
		Original:   amt,
		Revised:    amt,
		Released:   decimal.Zero,
		Spent:      decimal.Zero,
	}, nil
}

// Available is released minus spent. Never negative while the invariant holds.
func (a *Allocation) Available() decimal.Decimal {
	return a.Released.Sub(a.Spent)
}

// CanSpend reports whether spending amount keeps spent within released.
func (a *Allocation) CanSpend(amount decimal.Decimal) bool {
	return a.Spent.Add(amount).LessThanOrEqual(a.Released)
}

// IsSalary reports whether the head is a salary head (full Q1 release).
func (a *Allocation) IsSalary() bool {
	return strings.HasPrefix(a.ObjectClass, salaryPrefix)
}

// IsContingency reports whether the head counts toward the reserve check.
func (a *Allocation) IsContingency() bool {
	return strings.HasPrefix(a.ObjectClass, contingencyPrefix)
}

// CheckInvariant validates 0 <= spent <= released <= revised.
func (a *Allocation) CheckInvariant() error {
	if a.Spent.IsNegative() {
		return fiscal.Invalid("spent_amount", "spent amount cannot be negative")
	}
	if a.Spent.GreaterThan(a.Released) {
		return fiscal.Invalid("spent_amount", "spent amount exceeds released amount")
	}
	if a.Released.GreaterThan(a.Revised) {
		return fiscal.Invalid("released_amount", "released amount exceeds revised allocation")
	}
	return nil
}
