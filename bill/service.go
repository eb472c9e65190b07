/*
service.go - Bill workflow operations

PURPOSE:
  Orchestrates the bill lifecycle. Every operation:
  1. loads the bill,
  2. authorizes the transition (state table, then role gate),
  3. applies the side effects,
  4. stamps actor + timestamp and saves.

  Approve and Pay are the multi-step mutations: each opens ONE store
  transaction, performs all reads and writes inside it, and commits or
  rolls back as a unit. A budget failure on any line, a tax mismatch or a
  voucher imbalance rolls back everything - no half-applied state.

APPROVAL SEQUENCE (inside one transaction):
  1. re-read the bill, re-check state + role
  2. fiscal year must be active
  3. lines must exist and sum exactly to gross
  4. tax components must be internally consistent
  5. commit the budget debit per distinct head (guarded, serialized);
     the first BudgetExceeded aborts the whole approval
  6. build + post the liability voucher (balanced, numbered)
  7. set status=Approved only after the voucher is durably posted

SEE ALSO:
  - workflow.go: authorization
  - voucher/engine.go: the liability and payment vouchers
*/
package bill

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cfms/fiscal-engine/budget"
	"github.com/cfms/fiscal-engine/coa"
	"github.com/cfms/fiscal-engine/fiscal"
	"github.com/cfms/fiscal-engine/payment"
	"github.com/cfms/fiscal-engine/tax"
	"github.com/cfms/fiscal-engine/voucher"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

// Store is the persistence surface the bill workflow needs.
type Store interface {
	GetBill(ctx context.Context, org fiscal.OrgID, id fiscal.BillID) (*Bill, error)
	SaveBill(ctx context.Context, b *Bill) error

	GetPayee(ctx context.Context, org fiscal.OrgID, id fiscal.PayeeID) (*Payee, error)
	SavePayee(ctx context.Context, p *Payee) error

	// WithApprovalTx runs fn inside one transaction spanning bills, budget
	// allocations, vouchers and payments. Rollback on error.
	WithApprovalTx(ctx context.Context, fn func(tx ApprovalTx) error) error
}

// ApprovalTx is the transactional view used by Approve and Pay.
type ApprovalTx interface {
	GetBill(ctx context.Context, org fiscal.OrgID, id fiscal.BillID) (*Bill, error)
	SaveBill(ctx context.Context, b *Bill) error
	GetPayee(ctx context.Context, org fiscal.OrgID, id fiscal.PayeeID) (*Payee, error)
	SavePayment(ctx context.Context, p *payment.Payment) error

	Budget() budget.Store
	Vouchers() voucher.Store
	Heads() coa.Store
}

// =============================================================================
// SERVICE
// =============================================================================

// Service exposes the bill workflow operations.
type Service struct {
	store Store
	heads coa.Store
	taxes tax.ConfigStore

	// ReversalCutoffDays is forwarded to the posting engine.
	ReversalCutoffDays int

	now func() time.Time
}

func NewService(store Store, heads coa.Store, taxes tax.ConfigStore) *Service {
	return &Service{
		store: store,
		heads: heads,
		taxes: taxes,
		now:   time.Now,
	}
}

// Create records a draft bill with its lines. Heads must exist, be active
// and allow direct posting.
func (s *Service) Create(ctx context.Context, b *Bill) (*Bill, error) {
	if len(b.Lines) == 0 {
		return nil, fiscal.Invalid("lines", "a bill needs at least one line")
	}
	payee, err := s.store.GetPayee(ctx, b.Org, b.Payee)
	if err != nil {
		return nil, err
	}
	if !payee.Active {
		return nil, fiscal.Invalid("payee", "payee "+payee.Name+" is inactive")
	}
	for _, line := range b.Lines {
		head, err := s.heads.GetHead(ctx, b.Org, line.Head)
		if err != nil {
			return nil, err
		}
		if !head.PostingAllowed() {
			return nil, fiscal.Invalid("lines", "head "+head.FullCode()+" does not allow direct posting")
		}
	}
	if err := s.store.SaveBill(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Submit moves Draft -> Submitted.
func (s *Service) Submit(ctx context.Context, org fiscal.OrgID, id fiscal.BillID, actor fiscal.Actor) (*Bill, error) {
	return s.simpleTransition(ctx, org, id, actor, Submitted, func(b *Bill, at time.Time) error {
		if len(b.Lines) == 0 {
			return fiscal.Invalid("lines", "cannot submit a bill with no lines")
		}
		if !b.LineTotal().Equal(b.Gross) {
			return fiscal.Invalid("lines", "line total "+b.LineTotal().StringFixed(2)+
				" does not match gross amount "+b.Gross.StringFixed(2))
		}
		b.SubmittedStamp = &Stamp{By: actor.ID, At: at}
		return nil
	})
}

// PreAudit moves Submitted -> Audited and stamps the withholding
// computation onto the bill using the active rate configuration.
func (s *Service) PreAudit(ctx context.Context, org fiscal.OrgID, id fiscal.BillID, actor fiscal.Actor) (*Bill, error) {
	return s.simpleTransition(ctx, org, id, actor, Audited, func(b *Bill, at time.Time) error {
		payee, err := s.store.GetPayee(ctx, org, b.Payee)
		if err != nil {
			return err
		}
		calc, err := tax.LoadCalculator(ctx, s.taxes)
		if err != nil {
			return err
		}
		bd, err := calc.Calculate(tax.Input{
			Gross:           b.Gross,
			TransactionType: b.TransactionType,
			FilerStatus:     payee.TaxStatus,
			EntityType:      payee.EntityType,
			InvoiceSalesTax: b.InvoiceSalesTax,
		})
		if err != nil {
			return err
		}
		b.ApplyTaxes(bd)
		b.AuditedStamp = &Stamp{By: actor.ID, At: at}
		return nil
	})
}

// Verify moves Audited -> Verified.
func (s *Service) Verify(ctx context.Context, org fiscal.OrgID, id fiscal.BillID, actor fiscal.Actor) (*Bill, error) {
	return s.simpleTransition(ctx, org, id, actor, Verified, func(b *Bill, at time.Time) error {
		b.VerifiedStamp = &Stamp{By: actor.ID, At: at}
		return nil
	})
}

// Reject moves Submitted -> Rejected. Terminal; reason required.
func (s *Service) Reject(ctx context.Context, org fiscal.OrgID, id fiscal.BillID, actor fiscal.Actor, reason string) (*Bill, error) {
	if reason == "" {
		return nil, fiscal.Invalid("reason", "rejection reason is required")
	}
	return s.simpleTransition(ctx, org, id, actor, Rejected, func(b *Bill, at time.Time) error {
		b.RejectionReason = reason
		b.RejectedStamp = &Stamp{By: actor.ID, At: at}
		return nil
	})
}

// simpleTransition handles the single-row transitions.
func (s *Service) simpleTransition(ctx context.Context, org fiscal.OrgID, id fiscal.BillID, actor fiscal.Actor, to Status, apply func(*Bill, time.Time) error) (*Bill, error) {
	b, err := s.store.GetBill(ctx, org, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(b, to, actor); err != nil {
		return nil, err
	}
	at := s.now()
	if err := apply(b, at); err != nil {
		return nil, err
	}
	b.Status = to
	b.UpdatedAt = at
	if err := s.store.SaveBill(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// =============================================================================
// APPROVE - the critical transition
// =============================================================================

// Approve moves Verified -> Approved: budget debits and liability voucher
// in one atomic unit. Any failure rolls back every partial mutation.
func (s *Service) Approve(ctx context.Context, org fiscal.OrgID, id fiscal.BillID, actor fiscal.Actor) (*Bill, error) {
	var approved *Bill
	err := s.store.WithApprovalTx(ctx, func(txv ApprovalTx) error {
		b, err := txv.GetBill(ctx, org, id)
		if err != nil {
			return err
		}
		if err := authorize(b, Approved, actor); err != nil {
			return err
		}

		fy, err := txv.Budget().GetFiscalYear(ctx, org, b.FiscalYear)
		if err != nil {
			return err
		}
		if !fy.Active {
			return fiscal.ErrFiscalYearInactive
		}

		if len(b.Lines) == 0 {
			return fiscal.Invalid("lines", "cannot approve a bill with no lines")
		}
		if !b.LineTotal().Equal(b.Gross) {
			return fiscal.Invalid("lines", "line total "+b.LineTotal().StringFixed(2)+
				" does not match gross amount "+b.Gross.StringFixed(2))
		}
		if err := s.checkTaxConsistency(b); err != nil {
			return err
		}

		payee, err := txv.GetPayee(ctx, org, b.Payee)
		if err != nil {
			return err
		}

		// Hard budget constraint, per distinct head. CommitSpend is a
		// guarded atomic update inside this transaction: the first
		// failing head aborts and rolls back every earlier debit.
		order, totals := b.ChargesPerHead()
		for _, head := range order {
			if err := txv.Budget().CommitSpend(ctx, org, b.FiscalYear, head, totals[head]); err != nil {
				return err
			}
		}

		engine := voucher.NewEngine(txv.Vouchers(), coa.NewResolver(txv.Heads()))
		engine.ReversalCutoffDays = s.ReversalCutoffDays

		charges := make([]voucher.LineCharge, 0, len(b.Lines))
		for _, l := range b.Lines {
			charges = append(charges, voucher.LineCharge{Head: l.Head, Amount: l.Amount, Description: l.Description})
		}
		v, err := engine.PostLiability(ctx, org, b.FiscalYear, string(b.ID), payee.Name, charges, b.Net,
			voucher.TaxCredits{IncomeTax: b.IncomeTax, SalesTax: b.SalesTax, StampDuty: b.StampDuty}, actor)
		if err != nil {
			return err
		}

		// Status flips only after the voucher is durably posted.
		at := s.now()
		b.Status = Approved
		b.ApprovedStamp = &Stamp{By: actor.ID, At: at}
		b.LiabilityVoucher = v.ID
		b.UpdatedAt = at
		if err := txv.SaveBill(ctx, b); err != nil {
			return err
		}
		approved = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// checkTaxConsistency asserts the stamped components still describe the
// gross amount. A mismatch aborts the approval.
func (s *Service) checkTaxConsistency(b *Bill) error {
	sum := b.IncomeTax.Add(b.SalesTax).Add(b.StampDuty)
	if !sum.Equal(b.TotalTax) {
		return fiscal.Invalid("tax_amount", "tax components do not sum to total tax")
	}
	if !b.Gross.Sub(b.TotalTax).Equal(b.Net) {
		return fiscal.Invalid("net_amount", "net amount does not equal gross minus tax")
	}
	return nil
}

// =============================================================================
// PAY
// =============================================================================

// Pay moves Approved -> Paid: records the cheque, posts the payment
// voucher (Dr Accounts Payable / Cr Bank) and stamps the bill, atomically.
// The payment amount must equal the bill net exactly.
func (s *Service) Pay(ctx context.Context, org fiscal.OrgID, id fiscal.BillID, actor fiscal.Actor, chequeNumber string, chequeDate time.Time, amount decimal.Decimal) (*Bill, error) {
	var paid *Bill
	err := s.store.WithApprovalTx(ctx, func(txv ApprovalTx) error {
		b, err := txv.GetBill(ctx, org, id)
		if err != nil {
			return err
		}
		if err := authorize(b, Paid, actor); err != nil {
			return err
		}
		if !amount.Equal(b.Net) {
			return fiscal.Invalid("amount", "payment amount "+amount.StringFixed(2)+
				" must equal bill net amount "+b.Net.StringFixed(2))
		}

		payee, err := txv.GetPayee(ctx, org, b.Payee)
		if err != nil {
			return err
		}

		engine := voucher.NewEngine(txv.Vouchers(), coa.NewResolver(txv.Heads()))
		v, err := engine.PostPayment(ctx, org, b.FiscalYear, string(b.ID), payee.Name, b.Net, actor)
		if err != nil {
			return err
		}

		p, err := payment.New(org, b.ID, chequeNumber, chequeDate, amount)
		if err != nil {
			return err
		}
		at := s.now()
		p.Voucher = v.ID
		p.PostedBy = actor.ID
		p.PostedAt = at
		if err := txv.SavePayment(ctx, p); err != nil {
			return err
		}

		b.Status = Paid
		b.PaidStamp = &Stamp{By: actor.ID, At: at}
		b.PaymentVoucher = v.ID
		b.UpdatedAt = at
		if err := txv.SaveBill(ctx, b); err != nil {
			return err
		}
		paid = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}
