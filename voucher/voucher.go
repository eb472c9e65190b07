/*
Package voucher implements balanced double-entry vouchers.

PURPOSE:
  A voucher owns an ordered set of journal entries (debits and credits)
  representing one accounting event. The package enforces the core
  double-entry invariant and the posting lifecycle:

  1. BALANCED: a voucher posts only when sum(debit) == sum(credit) > 0.
     An imbalance is a fatal integrity bug, surfaced, never corrected.
  2. IMMUTABLE: once posted, a voucher never changes. Corrections happen
     through reversal vouchers with debit/credit sides swapped, linked to
     the original.
  3. SEQUENTIAL: voucher numbers are sequential per (fiscal year, type),
     allocated from a serialized counter - no read-then-increment race.

KEY CONCEPTS IN THIS FILE (voucher.go):
  - Entry: one debit-or-credit line against a budget head
  - Voucher: the header owning its entries, with posting/reversal state

SEE ALSO:
  - engine.go: liability/payment voucher construction, posting, reversal
*/
package voucher

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cfms/fiscal-engine/fiscal"
)

// =============================================================================
// TYPES
// =============================================================================

type Type string

const (
	Journal  Type = "JV" // liability recognition
	Payment  Type = "PV" // cash outflow
	Receipt  Type = "RV" // cash inflow
	Reversal Type = "REV"
)

// Entry is one journal line. Exactly one of Debit/Credit is non-zero.
type Entry struct {
	ID          string
	Head        fiscal.HeadID
	Description string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}

// Validate checks the one-sided-line rule.
func (e *Entry) Validate() error {
	if e.Debit.IsNegative() || e.Credit.IsNegative() {
		return fiscal.Invalid("entry", "debit and credit must be non-negative")
	}
	if e.Debit.IsPositive() && e.Credit.IsPositive() {
		return fiscal.Invalid("entry", "an entry cannot carry both a debit and a credit")
	}
	if e.Debit.IsZero() && e.Credit.IsZero() {
		return fiscal.Invalid("entry", "an entry must carry a debit or a credit")
	}
	return nil
}

// Voucher is a balanced set of journal entries for one accounting event.
type Voucher struct {
	ID         fiscal.VoucherID
	Org        fiscal.OrgID
	No         string // e.g. "JV-2025-26-0001"
	FiscalYear string
	Date       time.Time
	Type       Type

	Description string
	Reference   string // e.g. the bill ID this voucher records
	Entries     []Entry

	Posted   bool
	PostedAt *time.Time
	PostedBy string

	// Reversal linkage. A REV voucher points at the voucher it reverses;
	// a reversed voucher points forward at its reversal.
	Reversed          bool
	ReversedAt        *time.Time
	ReversedBy        string
	ReversalReason    string
	ReversesVoucher   fiscal.VoucherID
	ReversedByVoucher fiscal.VoucherID
}

// New creates an unposted voucher shell.
func New(org fiscal.OrgID, fy string, t Type, date time.Time, description string) *Voucher {
	return &Voucher{
		ID:         fiscal.VoucherID(uuid.NewString()),
		Org:        org,
		FiscalYear: fy,
		Date:       date,
		Type:       t,
		Description: description,
	}
}

// Debit appends a debit line.
func (v *Voucher) Debit(head fiscal.HeadID, amount decimal.Decimal, description string) {
	v.Entries = append(v.Entries, Entry{
		ID:          uuid.NewString(),
		Head:        head,
		Description: description,
		Debit:       amount,
		Credit:      decimal.Zero,
	})
}

// Credit appends a credit line.
func (v *Voucher) Credit(head fiscal.HeadID, amount decimal.Decimal, description string) {
	v.Entries = append(v.Entries, Entry{
		ID:          uuid.NewString(),
		Head:        head,
		Description: description,
		Debit:       decimal.Zero,
		Credit:      amount,
	})
}

// TotalDebits sums the debit side.
func (v *Voucher) TotalDebits() decimal.Decimal {
	total := decimal.Zero
	for _, e := range v.Entries {
		total = total.Add(e.Debit)
	}
	return total
}

// TotalCredits sums the credit side.
func (v *Voucher) TotalCredits() decimal.Decimal {
	total := decimal.Zero
	for _, e := range v.Entries {
		total = total.Add(e.Credit)
	}
	return total
}

// IsBalanced reports sum(debit) == sum(credit) with a non-zero total.
func (v *Voucher) IsBalanced() bool {
	d, c := v.TotalDebits(), v.TotalCredits()
	return d.Equal(c) && d.IsPositive()
}

// MarkPosted flips the voucher to posted after asserting balance.
// Returns *fiscal.ImbalanceError when debits != credits.
func (v *Voucher) MarkPosted(actorID string, at time.Time) error {
	if v.Posted {
		return &fiscal.TransitionError{Entity: "voucher", Current: "posted", Attempted: "post"}
	}
	for i := range v.Entries {
		if err := v.Entries[i].Validate(); err != nil {
			return err
		}
	}
	if !v.IsBalanced() {
		return &fiscal.ImbalanceError{
			VoucherNo: v.No,
			Debits:    v.TotalDebits(),
			Credits:   v.TotalCredits(),
		}
	}
	v.Posted = true
	v.PostedAt = &at
	v.PostedBy = actorID
	return nil
}
