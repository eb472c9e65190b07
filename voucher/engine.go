/*
engine.go - Voucher posting engine

PURPOSE:
  Builds and posts the vouchers the expenditure cycle needs:

  LIABILITY (JV), on bill approval:
      Dr  each distinct expense head     line total per head
      Cr  Accounts Payable               net amount
      Cr  Income Tax Payable             income tax (if any)
      Cr  Sales Tax Payable              sales tax (if any)
      Cr  Stamp Duty Payable             stamp duty (if any)

  PAYMENT (PV), on bill payment:
      Dr  Accounts Payable               net amount
      Cr  Bank                           net amount

  REVERSAL (REV): debit/credit sides swapped, linked both ways to the
  original, gated by the can-reverse role, forbidden once the fiscal year
  is closed or past the cutoff window.

NUMBERING:
  Numbers come from the store's serialized counter per (org, fiscal year,
  type). The caller is expected to run Build+Post inside the same store
  transaction as the rest of the approval so numbers never skip or collide.
*/
package voucher

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cfms/fiscal-engine/coa"
	"github.com/cfms/fiscal-engine/fiscal"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is the persistence surface the posting engine needs.
type Store interface {
	// NextVoucherNumber returns the next sequence value for
	// (org, fiscal year, type). Must be allocated under the enclosing
	// transaction so concurrent postings neither collide nor skip.
	NextVoucherNumber(ctx context.Context, org fiscal.OrgID, fy string, t Type) (int, error)

	// SaveVoucher persists the voucher and its entries.
	SaveVoucher(ctx context.Context, v *Voucher) error

	GetVoucher(ctx context.Context, org fiscal.OrgID, id fiscal.VoucherID) (*Voucher, error)
}

// LineCharge is one (head, amount) expense charge feeding a liability voucher.
type LineCharge struct {
	Head        fiscal.HeadID
	Amount      decimal.Decimal
	Description string
}

// TaxCredits carries the withheld components credited to control accounts.
type TaxCredits struct {
	IncomeTax decimal.Decimal
	SalesTax  decimal.Decimal
	StampDuty decimal.Decimal
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine builds and posts vouchers against a store and the chart of accounts.
type Engine struct {
	store    Store
	resolver *coa.Resolver

	// ReversalCutoffDays limits how long after posting a voucher may be
	// reversed. Zero disables the window.
	ReversalCutoffDays int

	now func() time.Time
}

func NewEngine(store Store, resolver *coa.Resolver) *Engine {
	return &Engine{store: store, resolver: resolver, now: time.Now}
}

// numberFor allocates and formats the next voucher number.
func (e *Engine) numberFor(ctx context.Context, org fiscal.OrgID, fy string, t Type) (string, error) {
	n, err := e.store.NextVoucherNumber(ctx, org, fy, t)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%04d", t, fy, n), nil
}

// PostLiability builds, balances and posts the liability voucher for an
// approved bill. Charges for the same head are summed into one debit line;
// distinct heads stay distinct. Returns the durably saved voucher.
func (e *Engine) PostLiability(
	ctx context.Context,
	org fiscal.OrgID,
	fy string,
	reference string, // bill ID
	payeeName string,
	charges []LineCharge,
	net decimal.Decimal,
	taxes TaxCredits,
	actor fiscal.Actor,
) (*Voucher, error) {
	if len(charges) == 0 {
		return nil, fiscal.Invalid("charges", "a liability voucher needs at least one expense line")
	}

	v := New(org, fy, Journal, e.now(), fmt.Sprintf("Liability for bill %s: %s", reference, payeeName))
	v.Reference = reference

	// One debit per distinct head, preserving first-seen order.
	order := make([]fiscal.HeadID, 0, len(charges))
	perHead := make(map[fiscal.HeadID]decimal.Decimal, len(charges))
	for _, c := range charges {
		if _, seen := perHead[c.Head]; !seen {
			order = append(order, c.Head)
		}
		perHead[c.Head] = perHead[c.Head].Add(c.Amount)
	}
	for _, head := range order {
		v.Debit(head, perHead[head], "Expense charge")
	}

	ap, err := e.resolver.SystemHead(ctx, org, coa.SystemAccountsPayable)
	if err != nil {
		return nil, err
	}
	v.Credit(ap.ID, net, "Payable: "+payeeName)

	// One credit control account per non-zero tax component.
	taxLines := []struct {
		code   coa.SystemCode
		amount decimal.Decimal
		memo   string
	}{
		{coa.SystemIncomeTax, taxes.IncomeTax, "Income tax withheld"},
		{coa.SystemSalesTax, taxes.SalesTax, "Sales tax withheld"},
		{coa.SystemStampDuty, taxes.StampDuty, "Stamp duty withheld"},
	}
	for _, tl := range taxLines {
		if !tl.amount.IsPositive() {
			continue
		}
		head, err := e.resolver.SystemHead(ctx, org, tl.code)
		if err != nil {
			return nil, err
		}
		v.Credit(head.ID, tl.amount, tl.memo)
	}

	return e.post(ctx, v, actor)
}

// PostPayment builds and posts the payment voucher clearing an approved
// bill's payable against the bank head.
func (e *Engine) PostPayment(
	ctx context.Context,
	org fiscal.OrgID,
	fy string,
	reference string,
	payeeName string,
	net decimal.Decimal,
	actor fiscal.Actor,
) (*Voucher, error) {
	if !net.IsPositive() {
		return nil, fiscal.Invalid("amount", "payment amount must be positive")
	}

	ap, err := e.resolver.SystemHead(ctx, org, coa.SystemAccountsPayable)
	if err != nil {
		return nil, err
	}
	bank, err := e.resolver.SystemHead(ctx, org, coa.SystemBank)
	if err != nil {
		return nil, err
	}

	v := New(org, fy, Payment, e.now(), fmt.Sprintf("Payment for bill %s: %s", reference, payeeName))
	v.Reference = reference
	v.Debit(ap.ID, net, "Clear payable: "+payeeName)
	v.Credit(bank.ID, net, "Bank payment")

	return e.post(ctx, v, actor)
}

// post assigns the number, asserts balance and saves.
func (e *Engine) post(ctx context.Context, v *Voucher, actor fiscal.Actor) (*Voucher, error) {
	no, err := e.numberFor(ctx, v.Org, v.FiscalYear, v.Type)
	if err != nil {
		return nil, err
	}
	v.No = no
	if err := v.MarkPosted(actor.ID, e.now()); err != nil {
		return nil, err
	}
	if err := e.store.SaveVoucher(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// =============================================================================
// REVERSAL
// =============================================================================

// reversalRoles may reverse posted vouchers. Distinct from posting roles.
var reversalRoles = []fiscal.Role{fiscal.RoleTMO}

// Reverse creates and posts an offsetting REV voucher for a posted voucher.
// Rules:
//   - only posted, not-yet-reversed vouchers
//   - reason required (audit trail)
//   - forbidden once the governing fiscal year is closed
//   - forbidden past the cutoff window, when configured
//   - gated by the can-reverse role
func (e *Engine) Reverse(ctx context.Context, org fiscal.OrgID, id fiscal.VoucherID, fy *fiscal.FiscalYear, actor fiscal.Actor, reason string) (*Voucher, error) {
	if !actor.Is(reversalRoles...) {
		return nil, &fiscal.RoleError{Role: actor.Role, Attempted: "reverse voucher", Allowed: reversalRoles}
	}
	if reason == "" {
		return nil, fiscal.Invalid("reason", "reversal reason is required")
	}

	orig, err := e.store.GetVoucher(ctx, org, id)
	if err != nil {
		return nil, err
	}
	if !orig.Posted {
		return nil, &fiscal.TransitionError{Entity: "voucher", Current: "unposted", Attempted: "reverse"}
	}
	if orig.Reversed {
		return nil, &fiscal.TransitionError{Entity: "voucher", Current: "reversed", Attempted: "reverse"}
	}
	if !fy.Active {
		return nil, fmt.Errorf("fiscal year %s: %w", fy.Name, fiscal.ErrFiscalYearInactive)
	}
	if e.ReversalCutoffDays > 0 && orig.PostedAt != nil {
		cutoff := orig.PostedAt.AddDate(0, 0, e.ReversalCutoffDays)
		if e.now().After(cutoff) {
			return nil, fiscal.Invalid("cutoff", fmt.Sprintf(
				"voucher %s posted more than %d days ago and can no longer be reversed",
				orig.No, e.ReversalCutoffDays))
		}
	}

	now := e.now()
	rev := New(org, orig.FiscalYear, Reversal, now, "Reversal of "+orig.No+": "+reason)
	rev.Reference = orig.Reference
	rev.ReversesVoucher = orig.ID
	rev.ReversalReason = reason
	for _, entry := range orig.Entries {
		// Sides swapped: the reversal credits what was debited and vice versa.
		if entry.Debit.IsPositive() {
			rev.Credit(entry.Head, entry.Debit, "Reverse: "+entry.Description)
		} else {
			rev.Debit(entry.Head, entry.Credit, "Reverse: "+entry.Description)
		}
	}

	rev, err = e.post(ctx, rev, actor)
	if err != nil {
		return nil, err
	}

	orig.Reversed = true
	orig.ReversedAt = &now
	orig.ReversedBy = actor.ID
	orig.ReversalReason = reason
	orig.ReversedByVoucher = rev.ID
	if err := e.store.SaveVoucher(ctx, orig); err != nil {
		return nil, err
	}
	return rev, nil
}
