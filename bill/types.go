/*
Package bill drives the bill approval workflow.

PURPOSE:
  A Bill is a payable transaction moving through a role-gated state
  machine:

      Draft -> Submitted -> Audited -> Verified -> Approved -> Paid
                   |
                   +-> Rejected (terminal, reason required)

  Pre-audit computes withholding taxes and stamps them onto the bill.
  Approval is the critical transition: it validates the lines, checks every
  touched budget head against the hard budget constraint, posts the
  liability voucher and debits the budget - all in one atomic unit.

KEY CONCEPTS IN THIS FILE (types.go):
  - Payee: the vendor/employee master carrying the tax dimensions
  - Line: one (budget head, amount) charge; lines must sum to gross
  - Bill: the payable with its tax components and transition stamps

SEE ALSO:
  - workflow.go: the transition and role-gate tables
  - service.go: the operations
*/
package bill

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cfms/fiscal-engine/fiscal"
	"github.com/cfms/fiscal-engine/tax"
)

// =============================================================================
// PAYEE
// =============================================================================

// Payee is the vendor/contractor/employee master record. Its tax status and
// entity type are inputs to the withholding calculation.
type Payee struct {
	ID      fiscal.PayeeID
	Org     fiscal.OrgID
	Name    string
	CNICNTN string // CNIC for individuals, NTN for companies

	TaxStatus  tax.FilerStatus
	EntityType tax.EntityType

	BankName    string
	BankAccount string
	Active      bool
}

// Validate checks the payee master fields.
func (p *Payee) Validate() error {
	if p.Name == "" {
		return fiscal.Invalid("name", "payee name is required")
	}
	if !p.TaxStatus.Valid() {
		return fiscal.Invalid("tax_status", "unknown tax status "+string(p.TaxStatus))
	}
	if !p.EntityType.Valid() {
		return fiscal.Invalid("entity_type", "unknown entity type "+string(p.EntityType))
	}
	return nil
}

// =============================================================================
// BILL
// =============================================================================

type Status string

const (
	Draft     Status = "DRAFT"
	Submitted Status = "SUBMITTED"
	Audited   Status = "AUDITED"
	Verified  Status = "VERIFIED"
	Approved  Status = "APPROVED"
	Paid      Status = "PAID"
	Rejected  Status = "REJECTED"
)

// Line is one expense charge against a budget head.
type Line struct {
	ID          string
	Head        fiscal.HeadID
	Description string
	Amount      decimal.Decimal
}

// Stamp records who performed a transition and when.
type Stamp struct {
	By string
	At time.Time
}

// Bill is a payable transaction.
type Bill struct {
	ID         fiscal.BillID
	Org        fiscal.OrgID
	FiscalYear string
	Payee      fiscal.PayeeID

	BillNumber  string // vendor invoice/reference number
	BillDate    time.Time
	Description string

	TransactionType tax.TransactionType
	Gross           decimal.Decimal
	InvoiceSalesTax *decimal.Decimal // sales tax shown on the vendor invoice

	// Tax components stamped by pre-audit. Invariants: TotalTax is their
	// exact sum and Net is exactly Gross - TotalTax.
	IncomeTax decimal.Decimal
	SalesTax  decimal.Decimal
	StampDuty decimal.Decimal
	TotalTax  decimal.Decimal
	Net       decimal.Decimal

	Lines  []Line
	Status Status

	SubmittedStamp *Stamp
	AuditedStamp   *Stamp
	VerifiedStamp  *Stamp
	ApprovedStamp  *Stamp
	RejectedStamp  *Stamp
	PaidStamp      *Stamp

	RejectionReason string

	LiabilityVoucher fiscal.VoucherID
	PaymentVoucher   fiscal.VoucherID

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBill creates a draft bill. Net defaults to gross until pre-audit
// stamps the tax components.
func NewBill(org fiscal.OrgID, fy string, payee fiscal.PayeeID, tt tax.TransactionType, gross decimal.Decimal, createdBy string, now time.Time) (*Bill, error) {
	if !gross.IsPositive() {
		return nil, fiscal.Invalid("gross_amount", "gross amount must be positive")
	}
	if !tt.Valid() {
		return nil, fiscal.Invalid("transaction_type", "unknown transaction type "+string(tt))
	}
	return &Bill{
		ID:              fiscal.BillID(uuid.NewString()),
		Org:             org,
		FiscalYear:      fy,
		Payee:           payee,
		TransactionType: tt,
		Gross:           fiscal.RoundMoney(gross),
		Net:             fiscal.RoundMoney(gross),
		Status:          Draft,
		CreatedBy:       createdBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// AddLine appends an expense line. Only draft bills may change.
func (b *Bill) AddLine(head fiscal.HeadID, amount decimal.Decimal, description string) error {
	if b.Status != Draft {
		return &fiscal.TransitionError{Entity: "bill", Current: string(b.Status), Attempted: "edit lines"}
	}
	if !amount.IsPositive() {
		return fiscal.Invalid("amount", "line amount must be positive")
	}
	b.Lines = append(b.Lines, Line{
		ID:          uuid.NewString(),
		Head:        head,
		Description: description,
		Amount:      fiscal.RoundMoney(amount),
	})
	return nil
}

// LineTotal sums all line amounts.
func (b *Bill) LineTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range b.Lines {
		total = total.Add(l.Amount)
	}
	return total
}

// ChargesPerHead sums line amounts per distinct head, preserving
// first-seen order. Lines sharing a head merge; distinct heads stay apart.
func (b *Bill) ChargesPerHead() ([]fiscal.HeadID, map[fiscal.HeadID]decimal.Decimal) {
	order := make([]fiscal.HeadID, 0, len(b.Lines))
	totals := make(map[fiscal.HeadID]decimal.Decimal, len(b.Lines))
	for _, l := range b.Lines {
		if _, seen := totals[l.Head]; !seen {
			order = append(order, l.Head)
		}
		totals[l.Head] = totals[l.Head].Add(l.Amount)
	}
	return order, totals
}

// ApplyTaxes stamps a withholding breakdown onto the bill.
func (b *Bill) ApplyTaxes(bd tax.Breakdown) {
	b.IncomeTax = bd.IncomeTax
	b.SalesTax = bd.SalesTax
	b.StampDuty = bd.StampDuty
	b.TotalTax = bd.TotalTax
	b.Net = bd.NetAmount
}
