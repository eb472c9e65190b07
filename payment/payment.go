/*
Package payment records cheque payments against approved bills.

PURPOSE:
  A Payment is the cash-outflow leg of the expenditure cycle. Posting one
  creates the payment voucher (Dr Accounts Payable / Cr Bank) and moves the
  bill to Paid; the bill workflow drives this as its pay transition.

INVARIANT:
  The payment amount must equal the bill's net amount exactly - partial
  payments are not modeled.
*/
package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cfms/fiscal-engine/fiscal"
)

// Payment is one cheque issued against an approved bill.
type Payment struct {
	ID   string
	Org  fiscal.OrgID
	Bill fiscal.BillID

	ChequeNumber string
	ChequeDate   time.Time
	Amount       decimal.Decimal

	Voucher  fiscal.VoucherID
	PostedBy string
	PostedAt time.Time
}

// New builds a payment for the given bill net amount.
// The amount must match the bill net exactly; the caller verifies.
func New(org fiscal.OrgID, billID fiscal.BillID, chequeNumber string, chequeDate time.Time, amount decimal.Decimal) (*Payment, error) {
	if chequeNumber == "" {
		return nil, fiscal.Invalid("cheque_number", "cheque number is required")
	}
	if !amount.IsPositive() {
		return nil, fiscal.Invalid("amount", "payment amount must be positive")
	}
	return &Payment{
		ID:           uuid.NewString(),
		Org:          org,
		Bill:         billID,
		ChequeNumber: chequeNumber,
		ChequeDate:   chequeDate,
		Amount:       amount,
	}, nil
}
