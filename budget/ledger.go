/*
ledger.go - Budget ledger operations

PURPOSE:
  The Ledger exposes the budget side of the engine:
  - Available / CanSpend: display and pre-checks (non-locking reads)
  - CommitSpend: the serialized, guarded debit used during bill approval
  - ReleaseQuarter: 25% of revised per quarter for non-salary heads, 100%
    in Q1 for salary heads, idempotent per quarter, finalized budgets only
  - Finalize: the reserve and zero-deficit checks, the SAE record and the
    fiscal year lock (the lock freezes allocation edits, not spending)

CONCURRENCY:
  CommitSpend delegates to the store's guarded update. The store performs
  the balance check and the increment as one atomic statement inside the
  enclosing transaction, so concurrent approvals against the same head
  serialize instead of racing.

SEE ALSO:
  - allocation.go: the row invariant
  - store/sqlite: the guarded update implementation
*/
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cfms/fiscal-engine/coa"
	"github.com/cfms/fiscal-engine/fiscal"
)

// Finalization thresholds per TMA Budget Rules 2016.
var (
	reservePercentage = fiscal.MustMoney("0.02") // contingency >= 2% of revenue
	quarterlyFraction = fiscal.MustMoney("0.25")
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is the persistence surface the budget ledger needs.
// CommitSpend and AddReleased must be atomic guarded updates; everything
// that mutates more than one row runs under WithTx.
type Store interface {
	GetFiscalYear(ctx context.Context, org fiscal.OrgID, name string) (*fiscal.FiscalYear, error)
	SaveFiscalYear(ctx context.Context, org fiscal.OrgID, fy *fiscal.FiscalYear) error

	GetAllocation(ctx context.Context, org fiscal.OrgID, fy string, head fiscal.HeadID) (*Allocation, error)
	SaveAllocation(ctx context.Context, a *Allocation) error
	ListAllocations(ctx context.Context, org fiscal.OrgID, fy string) ([]*Allocation, error)

	// CommitSpend atomically increments spent on the allocation row iff
	// spent + amount <= released still holds, returning
	// *fiscal.BudgetExceededError otherwise. Serialized against concurrent
	// spends on the same row.
	CommitSpend(ctx context.Context, org fiscal.OrgID, fy string, head fiscal.HeadID, amount decimal.Decimal) error

	// AddReleased atomically increments released, guarded by
	// released + amount <= revised.
	AddReleased(ctx context.Context, org fiscal.OrgID, fy string, head fiscal.HeadID, amount decimal.Decimal) error

	QuarterReleased(ctx context.Context, org fiscal.OrgID, fy string, q fiscal.Quarter) (bool, error)
	MarkQuarterReleased(ctx context.Context, org fiscal.OrgID, fy string, q fiscal.Quarter, total decimal.Decimal, actor string) error

	SaveSAERecord(ctx context.Context, rec *SAERecord) error

	// WithTx runs fn inside one transaction; rollback on error.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// SUMMARIES
// =============================================================================

// ReleaseSummary reports one quarterly release run.
type ReleaseSummary struct {
	FiscalYear    string
	Quarter       fiscal.Quarter
	TotalReleased decimal.Decimal
	HeadsReleased int
	ProcessedBy   string
	ProcessedAt   time.Time
}

// SAERecord is the immutable Schedule of Authorized Expenditure summary
// generated when a budget is finalized.
type SAERecord struct {
	Org                fiscal.OrgID
	FiscalYear         string
	SAENumber          string
	TotalReceipts      decimal.Decimal
	TotalExpenditure   decimal.Decimal
	ContingencyReserve decimal.Decimal
	Surplus            decimal.Decimal
	ApprovedBy         string
	GeneratedAt        time.Time
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger exposes budget operations over a Store.
type Ledger struct {
	store Store
	now   func() time.Time
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Available returns released - spent for display purposes.
// Non-locking: callers intending to spend must go through CommitSpend.
func (l *Ledger) Available(ctx context.Context, org fiscal.OrgID, fy string, head fiscal.HeadID) (decimal.Decimal, error) {
	a, err := l.store.GetAllocation(ctx, org, fy, head)
	if err != nil {
		return decimal.Zero, err
	}
	return a.Available(), nil
}

// CanSpend reports whether amount fits in the remaining released budget.
func (l *Ledger) CanSpend(ctx context.Context, org fiscal.OrgID, fy string, head fiscal.HeadID, amount decimal.Decimal) (bool, error) {
	a, err := l.store.GetAllocation(ctx, org, fy, head)
	if err != nil {
		return false, err
	}
	return a.CanSpend(amount), nil
}

// CommitSpend atomically debits the allocation. Fails with
// *fiscal.BudgetExceededError when the post-condition would break.
func (l *Ledger) CommitSpend(ctx context.Context, org fiscal.OrgID, fy string, head fiscal.HeadID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fiscal.Invalid("amount", "spend amount must be positive")
	}
	return l.store.CommitSpend(ctx, org, fy, head, fiscal.RoundMoney(amount))
}

// EnterAllocation records a new allocation row. Rejected once the fiscal
// year is locked.
func (l *Ledger) EnterAllocation(ctx context.Context, org fiscal.OrgID, fyName string, head fiscal.HeadID, original decimal.Decimal) (*Allocation, error) {
	fy, err := l.store.GetFiscalYear(ctx, org, fyName)
	if err != nil {
		return nil, err
	}
	if !fy.CanEditBudget() {
		if fy.Locked {
			return nil, fmt.Errorf("budget for %s: %w", fyName, fiscal.ErrAlreadyLocked)
		}
		return nil, fmt.Errorf("budget for %s: %w", fyName, fiscal.ErrFiscalYearInactive)
	}
	a, err := NewAllocation(org, fyName, head, original)
	if err != nil {
		return nil, err
	}
	if err := l.store.SaveAllocation(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// =============================================================================
// QUARTERLY RELEASE
// =============================================================================

// ReleaseQuarter releases funds for one quarter:
//   - non-salary heads: +25% of revised allocation
//   - salary heads: 100% of revised, in Q1 only
//
// A quarter already marked released is rejected with ErrAlreadyReleased and
// nothing changes. Requires an active, finalized (locked) fiscal year.
func (l *Ledger) ReleaseQuarter(ctx context.Context, org fiscal.OrgID, fyName string, q fiscal.Quarter, actor fiscal.Actor) (*ReleaseSummary, error) {
	if !q.Valid() {
		return nil, fiscal.Invalid("quarter", "unknown quarter "+string(q))
	}
	fy, err := l.store.GetFiscalYear(ctx, org, fyName)
	if err != nil {
		return nil, err
	}
	if !fy.Active {
		return nil, fmt.Errorf("fiscal year %s: %w", fyName, fiscal.ErrFiscalYearInactive)
	}
	// Releases operate on the authorized figures: the budget must be
	// finalized first. The lock freezes allocation edits, not releases.
	if !fy.Locked {
		return nil, fiscal.Invalid("fiscal_year", "budget for "+fyName+" has not been finalized")
	}

	summary := &ReleaseSummary{
		FiscalYear:  fyName,
		Quarter:     q,
		ProcessedBy: actor.ID,
		ProcessedAt: l.now(),
	}

	err = l.store.WithTx(ctx, func(tx Store) error {
		released, err := tx.QuarterReleased(ctx, org, fyName, q)
		if err != nil {
			return err
		}
		if released {
			return fmt.Errorf("quarter %s of %s: %w", q, fyName, fiscal.ErrAlreadyReleased)
		}

		allocations, err := tx.ListAllocations(ctx, org, fyName)
		if err != nil {
			return err
		}

		total := decimal.Zero
		for _, a := range allocations {
			var amount decimal.Decimal
			switch {
			case a.IsSalary():
				if q != fiscal.Q1 {
					continue
				}
				amount = a.Revised
			default:
				amount = fiscal.RoundMoney(a.Revised.Mul(quarterlyFraction))
			}
			if amount.IsZero() {
				continue
			}
			if err := tx.AddReleased(ctx, org, fyName, a.Head, amount); err != nil {
				return err
			}
			total = total.Add(amount)
			summary.HeadsReleased++
		}

		summary.TotalReleased = total
		return tx.MarkQuarterReleased(ctx, org, fyName, q, total, actor.ID)
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// =============================================================================
// FINALIZATION (SAE)
// =============================================================================

// Finalize validates the budget, locks the fiscal year and generates the
// Schedule of Authorized Expenditure:
//  1. contingency reserve >= 2% of total revenue allocations
//  2. total expenditure <= total revenue (zero deficit)
//
// On success the year is locked and the SAE record written in one
// transaction. Typed failures carry the shortfall amount. Once locked,
// allocation entry is frozen; quarterly releases and spending operate on
// the authorized figures.
func (l *Ledger) Finalize(ctx context.Context, org fiscal.OrgID, fyName string, actor fiscal.Actor) (*SAERecord, error) {
	fy, err := l.store.GetFiscalYear(ctx, org, fyName)
	if err != nil {
		return nil, err
	}
	if fy.Locked {
		return nil, fmt.Errorf("budget for %s: %w", fyName, fiscal.ErrAlreadyLocked)
	}
	if !fy.Active {
		return nil, fmt.Errorf("fiscal year %s: %w", fyName, fiscal.ErrFiscalYearInactive)
	}

	var rec *SAERecord
	err = l.store.WithTx(ctx, func(tx Store) error {
		allocations, err := tx.ListAllocations(ctx, org, fyName)
		if err != nil {
			return err
		}

		receipts, expenditure, contingency := decimal.Zero, decimal.Zero, decimal.Zero
		for _, a := range allocations {
			switch a.AccountType {
			case coa.AccountRevenue:
				receipts = receipts.Add(a.Original)
			case coa.AccountExpenditure:
				expenditure = expenditure.Add(a.Original)
			}
			if a.IsContingency() {
				contingency = contingency.Add(a.Original)
			}
		}

		requiredReserve := fiscal.RoundMoney(receipts.Mul(reservePercentage))
		if contingency.LessThan(requiredReserve) {
			return &fiscal.ReserveError{Check: "contingency_reserve", Required: requiredReserve, Actual: contingency}
		}
		if expenditure.GreaterThan(receipts) {
			return &fiscal.ReserveError{Check: "zero_deficit", Required: receipts, Actual: expenditure}
		}

		now := l.now()
		rec = &SAERecord{
			Org:                org,
			FiscalYear:         fyName,
			SAENumber:          fmt.Sprintf("SAE-%s-%s", fyName, now.Format("20060102")),
			TotalReceipts:      receipts,
			TotalExpenditure:   expenditure,
			ContingencyReserve: contingency,
			Surplus:            receipts.Sub(expenditure),
			ApprovedBy:         actor.ID,
			GeneratedAt:        now,
		}
		if err := tx.SaveSAERecord(ctx, rec); err != nil {
			return err
		}

		fy.Locked = true
		fy.SAENumber = rec.SAENumber
		fy.LockedAt = &now
		return tx.SaveFiscalYear(ctx, org, fy)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}
