/*
workflow.go - Persistence for bills, vouchers, payments and establishment

PURPOSE:
  The workflow side of the SQLite store: payee and bill records with their
  lines and transition stamps, vouchers with their entries and the serialized
  number counter, payment records, establishment entries, and the approval
  transaction that spans all of them.

APPROVAL TRANSACTION:
  WithApprovalTx opens one database transaction and hands the callback a
  view bundling bills, payments, the budget store and the voucher store.
  Bill approval runs its budget debits and its voucher posting through that
  view; any failure rolls back every partial write.

VOUCHER NUMBERING:
  voucher_counters is bumped with a single INSERT .. ON CONFLICT .. RETURNING
  statement, so concurrent postings inside serialized transactions neither
  collide nor skip numbers.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cfms/fiscal-engine/bill"
	"github.com/cfms/fiscal-engine/budget"
	"github.com/cfms/fiscal-engine/coa"
	"github.com/cfms/fiscal-engine/establishment"
	"github.com/cfms/fiscal-engine/fiscal"
	"github.com/cfms/fiscal-engine/payment"
	"github.com/cfms/fiscal-engine/voucher"
)

// =============================================================================
// PAYEES (bill.Store)
// =============================================================================

const payeeColumns = `id, org, name, cnic_ntn, tax_status, entity_type, bank_name, bank_account, active`

func (s *Store) GetPayee(ctx context.Context, org fiscal.OrgID, id fiscal.PayeeID) (*bill.Payee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPayee(ctx, s.db, org, id)
}

func (s *Store) getPayee(ctx context.Context, q dbtx, org fiscal.OrgID, id fiscal.PayeeID) (*bill.Payee, error) {
	var p bill.Payee
	err := q.QueryRowContext(ctx,
		"SELECT "+payeeColumns+" FROM payees WHERE org = ? AND id = ?", org, id,
	).Scan(&p.ID, &p.Org, &p.Name, &p.CNICNTN, &p.TaxStatus, &p.EntityType,
		&p.BankName, &p.BankAccount, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payee %s: %w", id, fiscal.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payee: %w", err)
	}
	return &p, nil
}

func (s *Store) SavePayee(ctx context.Context, p *bill.Payee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payees (`+payeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			cnic_ntn = excluded.cnic_ntn,
			tax_status = excluded.tax_status,
			entity_type = excluded.entity_type,
			bank_name = excluded.bank_name,
			bank_account = excluded.bank_account,
			active = excluded.active`,
		p.ID, p.Org, p.Name, p.CNICNTN, p.TaxStatus, p.EntityType,
		p.BankName, p.BankAccount, p.Active)
	if err != nil {
		return fmt.Errorf("failed to save payee: %w", err)
	}
	return nil
}

// ListPayees returns all payees for an organization, active first.
func (s *Store) ListPayees(ctx context.Context, org fiscal.OrgID) ([]*bill.Payee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+payeeColumns+" FROM payees WHERE org = ? ORDER BY active DESC, name", org)
	if err != nil {
		return nil, fmt.Errorf("failed to query payees: %w", err)
	}
	defer rows.Close()

	var payees []*bill.Payee
	for rows.Next() {
		var p bill.Payee
		if err := rows.Scan(&p.ID, &p.Org, &p.Name, &p.CNICNTN, &p.TaxStatus,
			&p.EntityType, &p.BankName, &p.BankAccount, &p.Active); err != nil {
			return nil, err
		}
		payees = append(payees, &p)
	}
	return payees, rows.Err()
}

// =============================================================================
// BILLS (bill.Store)
// =============================================================================

func (s *Store) GetBill(ctx context.Context, org fiscal.OrgID, id fiscal.BillID) (*bill.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getBill(ctx, s.db, org, id)
}

func (s *Store) getBill(ctx context.Context, q dbtx, org fiscal.OrgID, id fiscal.BillID) (*bill.Bill, error) {
	var (
		b                     bill.Bill
		billDate              sql.NullString
		invoiceSalesTax       sql.NullString
		gross, net            string
		incomeTax, salesTax   string
		stampDuty, totalTax   string
		createdAt, updatedAt  string
		stamps                [6][2]sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, org, fiscal_year, payee_id, bill_number, bill_date, description,
			transaction_type, gross, invoice_sales_tax,
			income_tax, sales_tax, stamp_duty, total_tax, net, status,
			submitted_by, submitted_at, audited_by, audited_at,
			verified_by, verified_at, approved_by, approved_at,
			rejected_by, rejected_at, paid_by, paid_at,
			rejection_reason, liability_voucher, payment_voucher,
			created_by, created_at, updated_at
		FROM bills WHERE org = ? AND id = ?`, org, id,
	).Scan(&b.ID, &b.Org, &b.FiscalYear, &b.Payee, &b.BillNumber, &billDate, &b.Description,
		&b.TransactionType, &gross, &invoiceSalesTax,
		&incomeTax, &salesTax, &stampDuty, &totalTax, &net, &b.Status,
		&stamps[0][0], &stamps[0][1], &stamps[1][0], &stamps[1][1],
		&stamps[2][0], &stamps[2][1], &stamps[3][0], &stamps[3][1],
		&stamps[4][0], &stamps[4][1], &stamps[5][0], &stamps[5][1],
		&b.RejectionReason, &b.LiabilityVoucher, &b.PaymentVoucher,
		&b.CreatedBy, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bill %s: %w", id, fiscal.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bill: %w", err)
	}

	if billDate.Valid {
		b.BillDate = parseTime(billDate.String)
	}
	if invoiceSalesTax.Valid {
		d := dec(invoiceSalesTax.String)
		b.InvoiceSalesTax = &d
	}
	b.Gross = dec(gross)
	b.IncomeTax = dec(incomeTax)
	b.SalesTax = dec(salesTax)
	b.StampDuty = dec(stampDuty)
	b.TotalTax = dec(totalTax)
	b.Net = dec(net)
	b.SubmittedStamp = scanBillStamp(stamps[0])
	b.AuditedStamp = scanBillStamp(stamps[1])
	b.VerifiedStamp = scanBillStamp(stamps[2])
	b.ApprovedStamp = scanBillStamp(stamps[3])
	b.RejectedStamp = scanBillStamp(stamps[4])
	b.PaidStamp = scanBillStamp(stamps[5])
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)

	rows, err := q.QueryContext(ctx, `
		SELECT id, head_id, description, amount FROM bill_lines
		WHERE bill_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query bill lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l      bill.Line
			amount string
		)
		if err := rows.Scan(&l.ID, &l.Head, &l.Description, &amount); err != nil {
			return nil, err
		}
		l.Amount = dec(amount)
		b.Lines = append(b.Lines, l)
	}
	return &b, rows.Err()
}

func scanBillStamp(pair [2]sql.NullString) *bill.Stamp {
	if !pair[0].Valid {
		return nil
	}
	return &bill.Stamp{By: pair[0].String, At: parseTime(pair[1].String)}
}

func (s *Store) SaveBill(ctx context.Context, b *bill.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveBill(ctx, s.db, b)
}

func billStampArgs(st *bill.Stamp) (any, any) {
	if st == nil {
		return nil, nil
	}
	return st.By, fmtTime(st.At)
}

func (s *Store) saveBill(ctx context.Context, q dbtx, b *bill.Bill) error {
	var billDate any
	if !b.BillDate.IsZero() {
		billDate = fmtTime(b.BillDate)
	}
	var invoiceST any
	if b.InvoiceSalesTax != nil {
		invoiceST = b.InvoiceSalesTax.String()
	}
	subBy, subAt := billStampArgs(b.SubmittedStamp)
	audBy, audAt := billStampArgs(b.AuditedStamp)
	verBy, verAt := billStampArgs(b.VerifiedStamp)
	appBy, appAt := billStampArgs(b.ApprovedStamp)
	rejBy, rejAt := billStampArgs(b.RejectedStamp)
	payBy, payAt := billStampArgs(b.PaidStamp)

	_, err := q.ExecContext(ctx, `
		INSERT INTO bills (id, org, fiscal_year, payee_id, bill_number, bill_date, description,
			transaction_type, gross, invoice_sales_tax,
			income_tax, sales_tax, stamp_duty, total_tax, net, status,
			submitted_by, submitted_at, audited_by, audited_at,
			verified_by, verified_at, approved_by, approved_at,
			rejected_by, rejected_at, paid_by, paid_at,
			rejection_reason, liability_voucher, payment_voucher,
			created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bill_number = excluded.bill_number,
			bill_date = excluded.bill_date,
			description = excluded.description,
			transaction_type = excluded.transaction_type,
			gross = excluded.gross,
			invoice_sales_tax = excluded.invoice_sales_tax,
			income_tax = excluded.income_tax,
			sales_tax = excluded.sales_tax,
			stamp_duty = excluded.stamp_duty,
			total_tax = excluded.total_tax,
			net = excluded.net,
			status = excluded.status,
			submitted_by = excluded.submitted_by, submitted_at = excluded.submitted_at,
			audited_by = excluded.audited_by, audited_at = excluded.audited_at,
			verified_by = excluded.verified_by, verified_at = excluded.verified_at,
			approved_by = excluded.approved_by, approved_at = excluded.approved_at,
			rejected_by = excluded.rejected_by, rejected_at = excluded.rejected_at,
			paid_by = excluded.paid_by, paid_at = excluded.paid_at,
			rejection_reason = excluded.rejection_reason,
			liability_voucher = excluded.liability_voucher,
			payment_voucher = excluded.payment_voucher,
			updated_at = excluded.updated_at`,
		b.ID, b.Org, b.FiscalYear, b.Payee, b.BillNumber, billDate, b.Description,
		b.TransactionType, b.Gross.String(), invoiceST,
		b.IncomeTax.String(), b.SalesTax.String(), b.StampDuty.String(),
		b.TotalTax.String(), b.Net.String(), b.Status,
		subBy, subAt, audBy, audAt, verBy, verAt, appBy, appAt, rejBy, rejAt, payBy, payAt,
		b.RejectionReason, b.LiabilityVoucher, b.PaymentVoucher,
		b.CreatedBy, fmtTime(b.CreatedAt), fmtTime(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save bill: %w", err)
	}

	if _, err := q.ExecContext(ctx, "DELETE FROM bill_lines WHERE bill_id = ?", b.ID); err != nil {
		return fmt.Errorf("failed to replace bill lines: %w", err)
	}
	for i, l := range b.Lines {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO bill_lines (id, bill_id, head_id, description, amount, position)
			VALUES (?, ?, ?, ?, ?, ?)`,
			l.ID, b.ID, l.Head, l.Description, l.Amount.String(), i); err != nil {
			return fmt.Errorf("failed to save bill line: %w", err)
		}
	}
	return nil
}

// ListBills returns bill headers for an organization and fiscal year, newest
// first. Lines are not loaded.
func (s *Store) ListBills(ctx context.Context, org fiscal.OrgID, fy string) ([]*bill.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org, fiscal_year, payee_id, bill_number, transaction_type,
			gross, total_tax, net, status, created_at, updated_at
		FROM bills WHERE org = ? AND fiscal_year = ? ORDER BY created_at DESC`, org, fy)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var bills []*bill.Bill
	for rows.Next() {
		var (
			b                               bill.Bill
			gross, totalTax, net            string
			createdAt, updatedAt            string
		)
		if err := rows.Scan(&b.ID, &b.Org, &b.FiscalYear, &b.Payee, &b.BillNumber,
			&b.TransactionType, &gross, &totalTax, &net, &b.Status,
			&createdAt, &updatedAt); err != nil {
			return nil, err
		}
		b.Gross = dec(gross)
		b.TotalTax = dec(totalTax)
		b.Net = dec(net)
		b.CreatedAt = parseTime(createdAt)
		b.UpdatedAt = parseTime(updatedAt)
		bills = append(bills, &b)
	}
	return bills, rows.Err()
}

// =============================================================================
// VOUCHERS (voucher.Store)
// =============================================================================

// NextVoucherNumber bumps the serialized counter for (org, fiscal year, type).
func (s *Store) NextVoucherNumber(ctx context.Context, org fiscal.OrgID, fy string, t voucher.Type) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextVoucherNumber(ctx, s.db, org, fy, t)
}

func (s *Store) nextVoucherNumber(ctx context.Context, q dbtx, org fiscal.OrgID, fy string, t voucher.Type) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		INSERT INTO voucher_counters (org, fiscal_year, type, value)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(org, fiscal_year, type) DO UPDATE SET value = value + 1
		RETURNING value`, org, fy, t,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate voucher number: %w", err)
	}
	return n, nil
}

func (s *Store) SaveVoucher(ctx context.Context, v *voucher.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveVoucher(ctx, s.db, v)
}

func (s *Store) saveVoucher(ctx context.Context, q dbtx, v *voucher.Voucher) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO vouchers (id, org, no, fiscal_year, date, type, description, reference,
			posted, posted_at, posted_by,
			reversed, reversed_at, reversed_by, reversal_reason,
			reverses_voucher, reversed_by_voucher)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			no = excluded.no,
			description = excluded.description,
			reference = excluded.reference,
			posted = excluded.posted,
			posted_at = excluded.posted_at,
			posted_by = excluded.posted_by,
			reversed = excluded.reversed,
			reversed_at = excluded.reversed_at,
			reversed_by = excluded.reversed_by,
			reversal_reason = excluded.reversal_reason,
			reverses_voucher = excluded.reverses_voucher,
			reversed_by_voucher = excluded.reversed_by_voucher`,
		v.ID, v.Org, v.No, v.FiscalYear, fmtTime(v.Date), v.Type, v.Description, v.Reference,
		v.Posted, nullTime(v.PostedAt), v.PostedBy,
		v.Reversed, nullTime(v.ReversedAt), v.ReversedBy, v.ReversalReason,
		v.ReversesVoucher, v.ReversedByVoucher)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("voucher number %s already exists: %w", v.No, err)
		}
		return fmt.Errorf("failed to save voucher: %w", err)
	}

	if _, err := q.ExecContext(ctx, "DELETE FROM voucher_entries WHERE voucher_id = ?", v.ID); err != nil {
		return fmt.Errorf("failed to replace voucher entries: %w", err)
	}
	for i, e := range v.Entries {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO voucher_entries (id, voucher_id, head_id, description, debit, credit, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, v.ID, e.Head, e.Description, e.Debit.String(), e.Credit.String(), i); err != nil {
			return fmt.Errorf("failed to save voucher entry: %w", err)
		}
	}
	return nil
}

func (s *Store) GetVoucher(ctx context.Context, org fiscal.OrgID, id fiscal.VoucherID) (*voucher.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getVoucher(ctx, s.db, org, id)
}

func (s *Store) getVoucher(ctx context.Context, q dbtx, org fiscal.OrgID, id fiscal.VoucherID) (*voucher.Voucher, error) {
	var (
		v                    voucher.Voucher
		date                 string
		postedAt, reversedAt sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, org, no, fiscal_year, date, type, description, reference,
			posted, posted_at, posted_by,
			reversed, reversed_at, reversed_by, reversal_reason,
			reverses_voucher, reversed_by_voucher
		FROM vouchers WHERE org = ? AND id = ?`, org, id,
	).Scan(&v.ID, &v.Org, &v.No, &v.FiscalYear, &date, &v.Type, &v.Description, &v.Reference,
		&v.Posted, &postedAt, &v.PostedBy,
		&v.Reversed, &reversedAt, &v.ReversedBy, &v.ReversalReason,
		&v.ReversesVoucher, &v.ReversedByVoucher)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("voucher %s: %w", id, fiscal.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load voucher: %w", err)
	}
	v.Date = parseTime(date)
	v.PostedAt = scanNullTime(postedAt)
	v.ReversedAt = scanNullTime(reversedAt)

	rows, err := q.QueryContext(ctx, `
		SELECT id, head_id, description, debit, credit FROM voucher_entries
		WHERE voucher_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query voucher entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e             voucher.Entry
			debit, credit string
		)
		if err := rows.Scan(&e.ID, &e.Head, &e.Description, &debit, &credit); err != nil {
			return nil, err
		}
		e.Debit = dec(debit)
		e.Credit = dec(credit)
		v.Entries = append(v.Entries, e)
	}
	return &v, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) SavePayment(ctx context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savePayment(ctx, s.db, p)
}

func (s *Store) savePayment(ctx context.Context, q dbtx, p *payment.Payment) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO payments (id, org, bill_id, cheque_number, cheque_date, amount,
			voucher_id, posted_by, posted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Org, p.Bill, p.ChequeNumber, fmtTime(p.ChequeDate),
		p.Amount.String(), p.Voucher, p.PostedBy, fmtTime(p.PostedAt))
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

// PaymentsForBill returns the payments recorded against a bill.
func (s *Store) PaymentsForBill(ctx context.Context, org fiscal.OrgID, billID fiscal.BillID) ([]*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org, bill_id, cheque_number, cheque_date, amount, voucher_id, posted_by, posted_at
		FROM payments WHERE org = ? AND bill_id = ? ORDER BY posted_at`, org, billID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []*payment.Payment
	for rows.Next() {
		var (
			p                            payment.Payment
			chequeDate, amount, postedAt string
		)
		if err := rows.Scan(&p.ID, &p.Org, &p.Bill, &p.ChequeNumber, &chequeDate,
			&amount, &p.Voucher, &p.PostedBy, &postedAt); err != nil {
			return nil, err
		}
		p.ChequeDate = parseTime(chequeDate)
		p.Amount = dec(amount)
		p.PostedAt = parseTime(postedAt)
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}

// =============================================================================
// APPROVAL TRANSACTION (bill.Store)
// =============================================================================

// WithApprovalTx executes fn within one transaction spanning bills, budget
// allocations, vouchers and payments.
func (s *Store) WithApprovalTx(ctx context.Context, fn func(bill.ApprovalTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&approvalTx{parent: s, tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// approvalTx is the transactional view handed to bill approval and payment.
type approvalTx struct {
	parent *Store
	tx     *sql.Tx
}

func (a *approvalTx) GetBill(ctx context.Context, org fiscal.OrgID, id fiscal.BillID) (*bill.Bill, error) {
	return a.parent.getBill(ctx, a.tx, org, id)
}

func (a *approvalTx) SaveBill(ctx context.Context, b *bill.Bill) error {
	return a.parent.saveBill(ctx, a.tx, b)
}

func (a *approvalTx) GetPayee(ctx context.Context, org fiscal.OrgID, id fiscal.PayeeID) (*bill.Payee, error) {
	return a.parent.getPayee(ctx, a.tx, org, id)
}

func (a *approvalTx) SavePayment(ctx context.Context, p *payment.Payment) error {
	return a.parent.savePayment(ctx, a.tx, p)
}

// Budget exposes the budget store bound to this transaction.
func (a *approvalTx) Budget() budget.Store {
	return &budgetTx{parent: a.parent, tx: a.tx}
}

// Vouchers exposes the voucher store bound to this transaction.
func (a *approvalTx) Vouchers() voucher.Store {
	return &voucherTx{parent: a.parent, tx: a.tx}
}

// Heads exposes the chart of accounts bound to this transaction.
func (a *approvalTx) Heads() coa.Store {
	return &headsTx{parent: a.parent, tx: a.tx}
}

// headsTx is the transactional view of the chart of accounts.
type headsTx struct {
	parent *Store
	tx     *sql.Tx
}

func (h *headsTx) GetHead(ctx context.Context, org fiscal.OrgID, id fiscal.HeadID) (*coa.Head, error) {
	return h.parent.getHead(ctx, h.tx, org, id)
}

func (h *headsTx) SaveHead(ctx context.Context, head *coa.Head) error {
	return h.parent.saveHead(ctx, h.tx, head)
}

func (h *headsTx) HeadsBySystemCode(ctx context.Context, org fiscal.OrgID, code coa.SystemCode) ([]*coa.Head, error) {
	return h.parent.headsBySystemCode(ctx, h.tx, org, code)
}

// voucherTx is the transactional view of the voucher store.
type voucherTx struct {
	parent *Store
	tx     *sql.Tx
}

func (v *voucherTx) NextVoucherNumber(ctx context.Context, org fiscal.OrgID, fy string, t voucher.Type) (int, error) {
	return v.parent.nextVoucherNumber(ctx, v.tx, org, fy, t)
}

func (v *voucherTx) SaveVoucher(ctx context.Context, vo *voucher.Voucher) error {
	return v.parent.saveVoucher(ctx, v.tx, vo)
}

func (v *voucherTx) GetVoucher(ctx context.Context, org fiscal.OrgID, id fiscal.VoucherID) (*voucher.Voucher, error) {
	return v.parent.getVoucher(ctx, v.tx, org, id)
}

// =============================================================================
// ESTABLISHMENT (establishment.Store)
// =============================================================================

const entryColumns = `id, org, fiscal_year, designation, bps_grade, post_type,
	sanctioned_posts, filled_posts, annual_cost, status,
	verified_by, verified_at, recommended_by, recommended_at, approved_by, approved_at,
	rejection_reason, created_at, updated_at`

func (s *Store) GetEntry(ctx context.Context, org fiscal.OrgID, id fiscal.EntryID) (*establishment.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM establishment_entries WHERE org = ? AND id = ?", org, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("establishment entry %s: %w", id, fiscal.ErrNotFound)
	}
	return e, err
}

func scanEntry(row rowScanner) (*establishment.Entry, error) {
	var (
		e                    establishment.Entry
		annualCost           string
		createdAt, updatedAt string
		stamps               [3][2]sql.NullString
	)
	err := row.Scan(&e.ID, &e.Org, &e.FiscalYear, &e.Designation, &e.BPSGrade, &e.PostType,
		&e.SanctionedPosts, &e.FilledPosts, &annualCost, &e.Status,
		&stamps[0][0], &stamps[0][1], &stamps[1][0], &stamps[1][1], &stamps[2][0], &stamps[2][1],
		&e.RejectionReason, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.AnnualCost = dec(annualCost)
	e.VerifiedStamp = scanActionStamp(stamps[0])
	e.RecommendStamp = scanActionStamp(stamps[1])
	e.ApprovedStamp = scanActionStamp(stamps[2])
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

func scanActionStamp(pair [2]sql.NullString) *establishment.ActionStamp {
	if !pair[0].Valid {
		return nil
	}
	return &establishment.ActionStamp{By: pair[0].String, At: parseTime(pair[1].String)}
}

func actionStampArgs(st *establishment.ActionStamp) (any, any) {
	if st == nil {
		return nil, nil
	}
	return st.By, fmtTime(st.At)
}

func (s *Store) SaveEntry(ctx context.Context, e *establishment.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	verBy, verAt := actionStampArgs(e.VerifiedStamp)
	recBy, recAt := actionStampArgs(e.RecommendStamp)
	appBy, appAt := actionStampArgs(e.ApprovedStamp)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO establishment_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			designation = excluded.designation,
			bps_grade = excluded.bps_grade,
			post_type = excluded.post_type,
			sanctioned_posts = excluded.sanctioned_posts,
			filled_posts = excluded.filled_posts,
			annual_cost = excluded.annual_cost,
			status = excluded.status,
			verified_by = excluded.verified_by, verified_at = excluded.verified_at,
			recommended_by = excluded.recommended_by, recommended_at = excluded.recommended_at,
			approved_by = excluded.approved_by, approved_at = excluded.approved_at,
			rejection_reason = excluded.rejection_reason,
			updated_at = excluded.updated_at`,
		e.ID, e.Org, e.FiscalYear, e.Designation, e.BPSGrade, e.PostType,
		e.SanctionedPosts, e.FilledPosts, e.AnnualCost.String(), e.Status,
		verBy, verAt, recBy, recAt, appBy, appAt,
		e.RejectionReason, fmtTime(e.CreatedAt), fmtTime(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save establishment entry: %w", err)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, org fiscal.OrgID, fy string) ([]*establishment.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM establishment_entries WHERE org = ? AND fiscal_year = ? ORDER BY designation",
		org, fy)
	if err != nil {
		return nil, fmt.Errorf("failed to query establishment entries: %w", err)
	}
	defer rows.Close()

	var entries []*establishment.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
