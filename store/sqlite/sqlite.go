/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the engine using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

INTERFACES IMPLEMENTED:
  coa.Store:           budget heads and system-code lookup
  tax.ConfigStore:     versioned withholding rate configurations
  budget.Store:        allocations, guarded spend/release, SAE records
  voucher.Store:       vouchers, entries and the serialized number counter
  bill.Store:          bills, payees and the cross-store approval transaction
  establishment.Store: sanctioned-post entries

KEY TABLES:
  fiscal_years:          active/locked lifecycle per (org, name)
  heads:                 chart of accounts leaves, system codes
  allocations:           one budget row per (org, fiscal year, head)
  quarter_releases:      idempotency markers for quarterly releases
  sae_records:           immutable finalization summaries
  rate_configs:          dated rate matrices, at most one active
  payees/bills/bill_lines/payments
  vouchers/voucher_entries/voucher_counters
  establishment_entries

AMOUNT STORAGE:
  Allocation amounts are stored as INTEGER minor units (paisa) so the
  guarded updates can compare and add inside a single SQL statement:

      UPDATE allocations SET spent = spent + ?
      WHERE ... AND spent + ? <= released

  Every amount is pre-rounded to 2 decimal places, so the conversion is
  exact. All other amounts are TEXT decimal strings.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of WAL mode. The mutex is held
  for the whole of WithTx / WithApprovalTx; the transactional views do not
  re-acquire it.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - budget/ledger.go: the guarded-update contract
  - bill/service.go: the approval transaction contract
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/cfms/fiscal-engine/budget"
	"github.com/cfms/fiscal-engine/coa"
	"github.com/cfms/fiscal-engine/fiscal"
	"github.com/cfms/fiscal-engine/tax"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection: ":memory:" databases exist per-connection, and
	// file databases only ever see one writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Fiscal years, one row per (org, name)
	CREATE TABLE IF NOT EXISTS fiscal_years (
		org TEXT NOT NULL,
		name TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		locked BOOLEAN NOT NULL DEFAULT FALSE,
		sae_number TEXT NOT NULL DEFAULT '',
		locked_at TEXT,
		PRIMARY KEY (org, name)
	);

	-- Chart of accounts
	CREATE TABLE IF NOT EXISTS heads (
		id TEXT PRIMARY KEY,
		org TEXT NOT NULL,
		department TEXT NOT NULL DEFAULT '',
		fund TEXT NOT NULL DEFAULT '',
		function TEXT NOT NULL DEFAULT '',
		major_code TEXT NOT NULL DEFAULT '',
		minor_code TEXT NOT NULL DEFAULT '',
		nam_code TEXT NOT NULL DEFAULT '',
		sub_code TEXT NOT NULL DEFAULT '',
		parent_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		object_class TEXT NOT NULL DEFAULT '',
		system_code TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		has_sub_heads BOOLEAN NOT NULL DEFAULT FALSE
	);

	-- System-code resolution (hot path in every posting)
	CREATE INDEX IF NOT EXISTS idx_heads_system
		ON heads(org, system_code) WHERE system_code != '';
	CREATE INDEX IF NOT EXISTS idx_heads_org ON heads(org);

	-- Budget allocations; amounts in INTEGER minor units for guarded updates
	CREATE TABLE IF NOT EXISTS allocations (
		org TEXT NOT NULL,
		fiscal_year TEXT NOT NULL,
		head_id TEXT NOT NULL,
		original INTEGER NOT NULL DEFAULT 0,
		revised INTEGER NOT NULL DEFAULT 0,
		released INTEGER NOT NULL DEFAULT 0,
		spent INTEGER NOT NULL DEFAULT 0,
		object_class TEXT NOT NULL DEFAULT '',
		account_type TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (org, fiscal_year, head_id)
	);

	-- Quarterly release idempotency markers
	CREATE TABLE IF NOT EXISTS quarter_releases (
		org TEXT NOT NULL,
		fiscal_year TEXT NOT NULL,
		quarter TEXT NOT NULL,
		total_released TEXT NOT NULL,
		processed_by TEXT NOT NULL,
		processed_at TEXT NOT NULL,
		PRIMARY KEY (org, fiscal_year, quarter)
	);

	-- Schedule of Authorized Expenditure records (immutable)
	CREATE TABLE IF NOT EXISTS sae_records (
		org TEXT NOT NULL,
		fiscal_year TEXT NOT NULL,
		sae_number TEXT NOT NULL,
		total_receipts TEXT NOT NULL,
		total_expenditure TEXT NOT NULL,
		contingency_reserve TEXT NOT NULL,
		surplus TEXT NOT NULL,
		approved_by TEXT NOT NULL,
		generated_at TEXT NOT NULL,
		PRIMARY KEY (org, fiscal_year)
	);

	-- Withholding rate configurations
	CREATE TABLE IF NOT EXISTS rate_configs (
		id TEXT PRIMARY KEY,
		tax_year TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		goods_filer_company TEXT NOT NULL,
		goods_filer_individual TEXT NOT NULL,
		goods_non_filer_company TEXT NOT NULL,
		goods_non_filer_individual TEXT NOT NULL,
		services_filer TEXT NOT NULL,
		services_non_filer TEXT NOT NULL,
		works_filer_company TEXT NOT NULL,
		works_filer_individual TEXT NOT NULL,
		works_non_filer_company TEXT NOT NULL,
		works_non_filer_individual TEXT NOT NULL,
		sales_tax_goods_filer TEXT NOT NULL,
		sales_tax_goods_non_filer TEXT NOT NULL,
		sales_tax_services_filer TEXT NOT NULL,
		sales_tax_services_non_filer TEXT NOT NULL,
		sales_tax_works TEXT NOT NULL,
		stamp_duty_rate TEXT NOT NULL,
		standard_sales_tax_rate TEXT NOT NULL
	);

	-- Payees (vendor/employee master)
	CREATE TABLE IF NOT EXISTS payees (
		id TEXT PRIMARY KEY,
		org TEXT NOT NULL,
		name TEXT NOT NULL,
		cnic_ntn TEXT NOT NULL DEFAULT '',
		tax_status TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		bank_name TEXT NOT NULL DEFAULT '',
		bank_account TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_payees_org ON payees(org);

	-- Bills
	CREATE TABLE IF NOT EXISTS bills (
		id TEXT PRIMARY KEY,
		org TEXT NOT NULL,
		fiscal_year TEXT NOT NULL,
		payee_id TEXT NOT NULL,
		bill_number TEXT NOT NULL DEFAULT '',
		bill_date TEXT,
		description TEXT NOT NULL DEFAULT '',
		transaction_type TEXT NOT NULL,
		gross TEXT NOT NULL,
		invoice_sales_tax TEXT,
		income_tax TEXT NOT NULL DEFAULT '0',
		sales_tax TEXT NOT NULL DEFAULT '0',
		stamp_duty TEXT NOT NULL DEFAULT '0',
		total_tax TEXT NOT NULL DEFAULT '0',
		net TEXT NOT NULL,
		status TEXT NOT NULL,
		submitted_by TEXT, submitted_at TEXT,
		audited_by TEXT, audited_at TEXT,
		verified_by TEXT, verified_at TEXT,
		approved_by TEXT, approved_at TEXT,
		rejected_by TEXT, rejected_at TEXT,
		paid_by TEXT, paid_at TEXT,
		rejection_reason TEXT NOT NULL DEFAULT '',
		liability_voucher TEXT NOT NULL DEFAULT '',
		payment_voucher TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bills_org_year ON bills(org, fiscal_year);
	CREATE INDEX IF NOT EXISTS idx_bills_status ON bills(org, status);

	CREATE TABLE IF NOT EXISTS bill_lines (
		id TEXT PRIMARY KEY,
		bill_id TEXT NOT NULL,
		head_id TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bill_lines_bill ON bill_lines(bill_id);

	-- Vouchers
	CREATE TABLE IF NOT EXISTS vouchers (
		id TEXT PRIMARY KEY,
		org TEXT NOT NULL,
		no TEXT NOT NULL,
		fiscal_year TEXT NOT NULL,
		date TEXT NOT NULL,
		type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		posted BOOLEAN NOT NULL DEFAULT FALSE,
		posted_at TEXT,
		posted_by TEXT NOT NULL DEFAULT '',
		reversed BOOLEAN NOT NULL DEFAULT FALSE,
		reversed_at TEXT,
		reversed_by TEXT NOT NULL DEFAULT '',
		reversal_reason TEXT NOT NULL DEFAULT '',
		reverses_voucher TEXT NOT NULL DEFAULT '',
		reversed_by_voucher TEXT NOT NULL DEFAULT ''
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_vouchers_no ON vouchers(org, no);
	CREATE INDEX IF NOT EXISTS idx_vouchers_org_year ON vouchers(org, fiscal_year);
	CREATE INDEX IF NOT EXISTS idx_vouchers_reference
		ON vouchers(reference) WHERE reference != '';

	CREATE TABLE IF NOT EXISTS voucher_entries (
		id TEXT PRIMARY KEY,
		voucher_id TEXT NOT NULL,
		head_id TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		debit TEXT NOT NULL,
		credit TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_voucher_entries_voucher
		ON voucher_entries(voucher_id);

	-- Serialized voucher numbering per (org, fiscal year, type)
	CREATE TABLE IF NOT EXISTS voucher_counters (
		org TEXT NOT NULL,
		fiscal_year TEXT NOT NULL,
		type TEXT NOT NULL,
		value INTEGER NOT NULL,
		PRIMARY KEY (org, fiscal_year, type)
	);

	-- Payments
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		org TEXT NOT NULL,
		bill_id TEXT NOT NULL,
		cheque_number TEXT NOT NULL,
		cheque_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		voucher_id TEXT NOT NULL DEFAULT '',
		posted_by TEXT NOT NULL DEFAULT '',
		posted_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_bill ON payments(bill_id);

	-- Schedule of Establishment
	CREATE TABLE IF NOT EXISTS establishment_entries (
		id TEXT PRIMARY KEY,
		org TEXT NOT NULL,
		fiscal_year TEXT NOT NULL,
		designation TEXT NOT NULL,
		bps_grade INTEGER NOT NULL DEFAULT 0,
		post_type TEXT NOT NULL,
		sanctioned_posts INTEGER NOT NULL,
		filled_posts INTEGER NOT NULL DEFAULT 0,
		annual_cost TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		verified_by TEXT, verified_at TEXT,
		recommended_by TEXT, recommended_at TEXT,
		approved_by TEXT, approved_at TEXT,
		rejection_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_establishment_org_year
		ON establishment_entries(org, fiscal_year);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// dbtx abstracts *sql.DB and *sql.Tx so the same implementation serves both
// the direct store and the transactional views.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// toMinor converts a 2dp-rounded amount to integer minor units (paisa).
func toMinor(d decimal.Decimal) int64 {
	return fiscal.RoundMoney(d).Shift(2).IntPart()
}

// fromMinor converts integer minor units back to a decimal amount.
func fromMinor(n int64) decimal.Decimal {
	return decimal.New(n, -2)
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func scanNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

// =============================================================================
// FISCAL YEARS (budget.Store)
// =============================================================================

func (s *Store) GetFiscalYear(ctx context.Context, org fiscal.OrgID, name string) (*fiscal.FiscalYear, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getFiscalYear(ctx, s.db, org, name)
}

func (s *Store) getFiscalYear(ctx context.Context, q dbtx, org fiscal.OrgID, name string) (*fiscal.FiscalYear, error) {
	var (
		fy                   fiscal.FiscalYear
		startDate, endDate   string
		lockedAt             sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT name, start_date, end_date, active, locked, sae_number, locked_at
		FROM fiscal_years WHERE org = ? AND name = ?`, org, name,
	).Scan(&fy.Name, &startDate, &endDate, &fy.Active, &fy.Locked, &fy.SAENumber, &lockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fiscal year %s: %w", name, fiscal.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load fiscal year: %w", err)
	}
	fy.StartDate = parseTime(startDate)
	fy.EndDate = parseTime(endDate)
	fy.LockedAt = scanNullTime(lockedAt)
	return &fy, nil
}

func (s *Store) SaveFiscalYear(ctx context.Context, org fiscal.OrgID, fy *fiscal.FiscalYear) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveFiscalYear(ctx, s.db, org, fy)
}

func (s *Store) saveFiscalYear(ctx context.Context, q dbtx, org fiscal.OrgID, fy *fiscal.FiscalYear) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO fiscal_years (org, name, start_date, end_date, active, locked, sae_number, locked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org, name) DO UPDATE SET
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			active = excluded.active,
			locked = excluded.locked,
			sae_number = excluded.sae_number,
			locked_at = excluded.locked_at`,
		org, fy.Name, fmtTime(fy.StartDate), fmtTime(fy.EndDate),
		fy.Active, fy.Locked, fy.SAENumber, nullTime(fy.LockedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save fiscal year: %w", err)
	}
	return nil
}

// =============================================================================
// CHART OF ACCOUNTS (coa.Store)
// =============================================================================

const headColumns = `id, org, department, fund, function, major_code, minor_code,
	nam_code, sub_code, parent_id, name, type, object_class, system_code, active, has_sub_heads`

func (s *Store) GetHead(ctx context.Context, org fiscal.OrgID, id fiscal.HeadID) (*coa.Head, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getHead(ctx, s.db, org, id)
}

func (s *Store) getHead(ctx context.Context, q dbtx, org fiscal.OrgID, id fiscal.HeadID) (*coa.Head, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+headColumns+" FROM heads WHERE org = ? AND id = ?", org, id)
	h, err := scanHead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("head %s: %w", id, fiscal.ErrNotFound)
	}
	return h, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHead(row rowScanner) (*coa.Head, error) {
	var h coa.Head
	err := row.Scan(
		&h.ID, &h.Org, &h.Department, &h.Fund, &h.Function,
		&h.MajorCode, &h.MinorCode, &h.NAMCode, &h.SubCode, &h.Parent,
		&h.Name, &h.Type, &h.ObjectClass, &h.System, &h.Active, &h.HasSubHeads,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// SaveHead inserts or updates a head. Saving a sub-head marks its parent NAM
// head as aggregating, which disallows direct posting to the parent.
func (s *Store) SaveHead(ctx context.Context, h *coa.Head) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveHead(ctx, s.db, h)
}

func (s *Store) saveHead(ctx context.Context, q dbtx, h *coa.Head) error {
	if err := h.Validate(); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO heads (id, org, department, fund, function, major_code, minor_code,
			nam_code, sub_code, parent_id, name, type, object_class, system_code, active, has_sub_heads)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			department = excluded.department,
			fund = excluded.fund,
			function = excluded.function,
			major_code = excluded.major_code,
			minor_code = excluded.minor_code,
			nam_code = excluded.nam_code,
			sub_code = excluded.sub_code,
			parent_id = excluded.parent_id,
			name = excluded.name,
			type = excluded.type,
			object_class = excluded.object_class,
			system_code = excluded.system_code,
			active = excluded.active`,
		h.ID, h.Org, h.Department, h.Fund, h.Function, h.MajorCode, h.MinorCode,
		h.NAMCode, h.SubCode, h.Parent, h.Name, h.Type, h.ObjectClass, h.System,
		h.Active, h.HasSubHeads,
	)
	if err != nil {
		return fmt.Errorf("failed to save head: %w", err)
	}
	if h.Parent != "" {
		if _, err := q.ExecContext(ctx,
			"UPDATE heads SET has_sub_heads = TRUE WHERE org = ? AND id = ?",
			h.Org, h.Parent); err != nil {
			return fmt.Errorf("failed to mark parent head: %w", err)
		}
	}
	return nil
}

func (s *Store) HeadsBySystemCode(ctx context.Context, org fiscal.OrgID, code coa.SystemCode) ([]*coa.Head, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headsBySystemCode(ctx, s.db, org, code)
}

func (s *Store) headsBySystemCode(ctx context.Context, q dbtx, org fiscal.OrgID, code coa.SystemCode) ([]*coa.Head, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+headColumns+" FROM heads WHERE org = ? AND system_code = ? AND active = TRUE",
		org, code)
	if err != nil {
		return nil, fmt.Errorf("failed to query system heads: %w", err)
	}
	defer rows.Close()

	var heads []*coa.Head
	for rows.Next() {
		h, err := scanHead(rows)
		if err != nil {
			return nil, err
		}
		heads = append(heads, h)
	}
	return heads, rows.Err()
}

// =============================================================================
// ALLOCATIONS (budget.Store)
// =============================================================================

func (s *Store) GetAllocation(ctx context.Context, org fiscal.OrgID, fy string, head fiscal.HeadID) (*budget.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAllocation(ctx, s.db, org, fy, head)
}

func (s *Store) getAllocation(ctx context.Context, q dbtx, org fiscal.OrgID, fy string, head fiscal.HeadID) (*budget.Allocation, error) {
	var (
		a                                  budget.Allocation
		original, revised, released, spent int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT org, fiscal_year, head_id, original, revised, released, spent, object_class, account_type
		FROM allocations WHERE org = ? AND fiscal_year = ? AND head_id = ?`,
		org, fy, head,
	).Scan(&a.Org, &a.FiscalYear, &a.Head, &original, &revised, &released, &spent,
		&a.ObjectClass, &a.AccountType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("allocation for head %s in %s: %w", head, fy, fiscal.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load allocation: %w", err)
	}
	a.Original = fromMinor(original)
	a.Revised = fromMinor(revised)
	a.Released = fromMinor(released)
	a.Spent = fromMinor(spent)
	return &a, nil
}

// SaveAllocation upserts the row, snapshotting the head's classification so
// release and finalization scans never need per-row head lookups.
func (s *Store) SaveAllocation(ctx context.Context, a *budget.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAllocation(ctx, s.db, a)
}

func (s *Store) saveAllocation(ctx context.Context, q dbtx, a *budget.Allocation) error {
	if a.ObjectClass == "" || a.AccountType == "" {
		h, err := s.getHead(ctx, q, a.Org, a.Head)
		if err != nil {
			return err
		}
		a.ObjectClass = h.ObjectClass
		a.AccountType = h.Type
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO allocations (org, fiscal_year, head_id, original, revised, released, spent, object_class, account_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org, fiscal_year, head_id) DO UPDATE SET
			original = excluded.original,
			revised = excluded.revised,
			released = excluded.released,
			spent = excluded.spent,
			object_class = excluded.object_class,
			account_type = excluded.account_type`,
		a.Org, a.FiscalYear, a.Head,
		toMinor(a.Original), toMinor(a.Revised), toMinor(a.Released), toMinor(a.Spent),
		a.ObjectClass, a.AccountType,
	)
	if err != nil {
		return fmt.Errorf("failed to save allocation: %w", err)
	}
	return nil
}

func (s *Store) ListAllocations(ctx context.Context, org fiscal.OrgID, fy string) ([]*budget.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listAllocations(ctx, s.db, org, fy)
}

func (s *Store) listAllocations(ctx context.Context, q dbtx, org fiscal.OrgID, fy string) ([]*budget.Allocation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT org, fiscal_year, head_id, original, revised, released, spent, object_class, account_type
		FROM allocations WHERE org = ? AND fiscal_year = ? ORDER BY head_id`,
		org, fy)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var allocations []*budget.Allocation
	for rows.Next() {
		var (
			a                                  budget.Allocation
			original, revised, released, spent int64
		)
		if err := rows.Scan(&a.Org, &a.FiscalYear, &a.Head, &original, &revised,
			&released, &spent, &a.ObjectClass, &a.AccountType); err != nil {
			return nil, err
		}
		a.Original = fromMinor(original)
		a.Revised = fromMinor(revised)
		a.Released = fromMinor(released)
		a.Spent = fromMinor(spent)
		allocations = append(allocations, &a)
	}
	return allocations, rows.Err()
}

// CommitSpend is the guarded debit: the balance check and the increment are
// one atomic UPDATE, so two concurrent approvals can never jointly overspend.
func (s *Store) CommitSpend(ctx context.Context, org fiscal.OrgID, fy string, head fiscal.HeadID, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitSpend(ctx, s.db, org, fy, head, amount)
}

func (s *Store) commitSpend(ctx context.Context, q dbtx, org fiscal.OrgID, fy string, head fiscal.HeadID, amount decimal.Decimal) error {
	amt := toMinor(amount)
	res, err := q.ExecContext(ctx, `
		UPDATE allocations SET spent = spent + ?
		WHERE org = ? AND fiscal_year = ? AND head_id = ? AND spent + ? <= released`,
		amt, org, fy, head, amt)
	if err != nil {
		return fmt.Errorf("failed to commit spend: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	// The guard rejected the update: either no such allocation, or the
	// amount does not fit. Re-read to report which.
	a, err := s.getAllocation(ctx, q, org, fy, head)
	if err != nil {
		return err
	}
	return &fiscal.BudgetExceededError{
		Head:       head,
		FiscalYear: fy,
		Requested:  fiscal.RoundMoney(amount),
		Available:  a.Available(),
	}
}

// AddReleased is the guarded release increment, capped at the revised
// allocation.
func (s *Store) AddReleased(ctx context.Context, org fiscal.OrgID, fy string, head fiscal.HeadID, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addReleased(ctx, s.db, org, fy, head, amount)
}

func (s *Store) addReleased(ctx context.Context, q dbtx, org fiscal.OrgID, fy string, head fiscal.HeadID, amount decimal.Decimal) error {
	amt := toMinor(amount)
	res, err := q.ExecContext(ctx, `
		UPDATE allocations SET released = released + ?
		WHERE org = ? AND fiscal_year = ? AND head_id = ? AND released + ? <= revised`,
		amt, org, fy, head, amt)
	if err != nil {
		return fmt.Errorf("failed to add release: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	a, err := s.getAllocation(ctx, q, org, fy, head)
	if err != nil {
		return err
	}
	return &fiscal.BudgetExceededError{
		Head:       head,
		FiscalYear: fy,
		Requested:  fiscal.RoundMoney(amount),
		Available:  a.Revised.Sub(a.Released),
	}
}

func (s *Store) QuarterReleased(ctx context.Context, org fiscal.OrgID, fy string, qtr fiscal.Quarter) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quarterReleased(ctx, s.db, org, fy, qtr)
}

func (s *Store) quarterReleased(ctx context.Context, q dbtx, org fiscal.OrgID, fy string, qtr fiscal.Quarter) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM quarter_releases WHERE org = ? AND fiscal_year = ? AND quarter = ?",
		org, fy, qtr,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) MarkQuarterReleased(ctx context.Context, org fiscal.OrgID, fy string, qtr fiscal.Quarter, total decimal.Decimal, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markQuarterReleased(ctx, s.db, org, fy, qtr, total, actor)
}

func (s *Store) markQuarterReleased(ctx context.Context, q dbtx, org fiscal.OrgID, fy string, qtr fiscal.Quarter, total decimal.Decimal, actor string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO quarter_releases (org, fiscal_year, quarter, total_released, processed_by, processed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		org, fy, qtr, total.String(), actor, fmtTime(time.Now()))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("quarter %s of %s: %w", qtr, fy, fiscal.ErrAlreadyReleased)
		}
		return fmt.Errorf("failed to mark quarter released: %w", err)
	}
	return nil
}

func (s *Store) SaveSAERecord(ctx context.Context, rec *budget.SAERecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveSAERecord(ctx, s.db, rec)
}

func (s *Store) saveSAERecord(ctx context.Context, q dbtx, rec *budget.SAERecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sae_records (org, fiscal_year, sae_number, total_receipts, total_expenditure,
			contingency_reserve, surplus, approved_by, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Org, rec.FiscalYear, rec.SAENumber,
		rec.TotalReceipts.String(), rec.TotalExpenditure.String(),
		rec.ContingencyReserve.String(), rec.Surplus.String(),
		rec.ApprovedBy, fmtTime(rec.GeneratedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("SAE for %s: %w", rec.FiscalYear, fiscal.ErrAlreadyLocked)
		}
		return fmt.Errorf("failed to save SAE record: %w", err)
	}
	return nil
}

// GetSAERecord returns the finalization summary for a fiscal year.
func (s *Store) GetSAERecord(ctx context.Context, org fiscal.OrgID, fy string) (*budget.SAERecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rec                                             budget.SAERecord
		receipts, expenditure, contingency, surplus, at string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT org, fiscal_year, sae_number, total_receipts, total_expenditure,
			contingency_reserve, surplus, approved_by, generated_at
		FROM sae_records WHERE org = ? AND fiscal_year = ?`, org, fy,
	).Scan(&rec.Org, &rec.FiscalYear, &rec.SAENumber, &receipts, &expenditure,
		&contingency, &surplus, &rec.ApprovedBy, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("SAE record for %s: %w", fy, fiscal.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	rec.TotalReceipts = dec(receipts)
	rec.TotalExpenditure = dec(expenditure)
	rec.ContingencyReserve = dec(contingency)
	rec.Surplus = dec(surplus)
	rec.GeneratedAt = parseTime(at)
	return &rec, nil
}

// WithTx executes fn within one database transaction over the budget store.
func (s *Store) WithTx(ctx context.Context, fn func(budget.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&budgetTx{parent: s, tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// budgetTx is the transactional view of the budget store. It does not take
// the store mutex; WithTx already holds it.
type budgetTx struct {
	parent *Store
	tx     *sql.Tx
}

func (b *budgetTx) GetFiscalYear(ctx context.Context, org fiscal.OrgID, name string) (*fiscal.FiscalYear, error) {
	return b.parent.getFiscalYear(ctx, b.tx, org, name)
}

func (b *budgetTx) SaveFiscalYear(ctx context.Context, org fiscal.OrgID, fy *fiscal.FiscalYear) error {
	return b.parent.saveFiscalYear(ctx, b.tx, org, fy)
}

func (b *budgetTx) GetAllocation(ctx context.Context, org fiscal.OrgID, fy string, head fiscal.HeadID) (*budget.Allocation, error) {
	return b.parent.getAllocation(ctx, b.tx, org, fy, head)
}

func (b *budgetTx) SaveAllocation(ctx context.Context, a *budget.Allocation) error {
	return b.parent.saveAllocation(ctx, b.tx, a)
}

func (b *budgetTx) ListAllocations(ctx context.Context, org fiscal.OrgID, fy string) ([]*budget.Allocation, error) {
	return b.parent.listAllocations(ctx, b.tx, org, fy)
}

func (b *budgetTx) CommitSpend(ctx context.Context, org fiscal.OrgID, fy string, head fiscal.HeadID, amount decimal.Decimal) error {
	return b.parent.commitSpend(ctx, b.tx, org, fy, head, amount)
}

func (b *budgetTx) AddReleased(ctx context.Context, org fiscal.OrgID, fy string, head fiscal.HeadID, amount decimal.Decimal) error {
	return b.parent.addReleased(ctx, b.tx, org, fy, head, amount)
}

func (b *budgetTx) QuarterReleased(ctx context.Context, org fiscal.OrgID, fy string, qtr fiscal.Quarter) (bool, error) {
	return b.parent.quarterReleased(ctx, b.tx, org, fy, qtr)
}

func (b *budgetTx) MarkQuarterReleased(ctx context.Context, org fiscal.OrgID, fy string, qtr fiscal.Quarter, total decimal.Decimal, actor string) error {
	return b.parent.markQuarterReleased(ctx, b.tx, org, fy, qtr, total, actor)
}

func (b *budgetTx) SaveSAERecord(ctx context.Context, rec *budget.SAERecord) error {
	return b.parent.saveSAERecord(ctx, b.tx, rec)
}

// WithTx on the transactional view runs fn within the already-open
// transaction.
func (b *budgetTx) WithTx(ctx context.Context, fn func(budget.Store) error) error {
	return fn(b)
}

// =============================================================================
// RATE CONFIGURATIONS (tax.ConfigStore)
// =============================================================================

const rateColumns = `id, tax_year, effective_from, effective_to, active,
	goods_filer_company, goods_filer_individual, goods_non_filer_company, goods_non_filer_individual,
	services_filer, services_non_filer,
	works_filer_company, works_filer_individual, works_non_filer_company, works_non_filer_individual,
	sales_tax_goods_filer, sales_tax_goods_non_filer, sales_tax_services_filer, sales_tax_services_non_filer,
	sales_tax_works, stamp_duty_rate, standard_sales_tax_rate`

func (s *Store) ActiveConfig(ctx context.Context) (*tax.RateConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+rateColumns+" FROM rate_configs WHERE active = TRUE LIMIT 1")
	cfg, err := scanRateConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active rate configuration: %w", fiscal.ErrNotFound)
	}
	return cfg, err
}

func scanRateConfig(row rowScanner) (*tax.RateConfig, error) {
	var (
		cfg           tax.RateConfig
		effectiveFrom string
		effectiveTo   sql.NullString
		rates         [17]string
	)
	err := row.Scan(
		&cfg.ID, &cfg.TaxYear, &effectiveFrom, &effectiveTo, &cfg.Active,
		&rates[0], &rates[1], &rates[2], &rates[3],
		&rates[4], &rates[5],
		&rates[6], &rates[7], &rates[8], &rates[9],
		&rates[10], &rates[11], &rates[12], &rates[13],
		&rates[14], &rates[15], &rates[16],
	)
	if err != nil {
		return nil, err
	}
	cfg.EffectiveFrom = parseTime(effectiveFrom)
	cfg.EffectiveTo = scanNullTime(effectiveTo)
	cfg.GoodsFilerCompany = dec(rates[0])
	cfg.GoodsFilerIndividual = dec(rates[1])
	cfg.GoodsNonFilerCompany = dec(rates[2])
	cfg.GoodsNonFilerIndividual = dec(rates[3])
	cfg.ServicesFiler = dec(rates[4])
	cfg.ServicesNonFiler = dec(rates[5])
	cfg.WorksFilerCompany = dec(rates[6])
	cfg.WorksFilerIndividual = dec(rates[7])
	cfg.WorksNonFilerCompany = dec(rates[8])
	cfg.WorksNonFilerIndividual = dec(rates[9])
	cfg.SalesTaxGoodsFiler = dec(rates[10])
	cfg.SalesTaxGoodsNonFiler = dec(rates[11])
	cfg.SalesTaxServicesFiler = dec(rates[12])
	cfg.SalesTaxServicesNonFiler = dec(rates[13])
	cfg.SalesTaxWorks = dec(rates[14])
	cfg.StampDutyRate = dec(rates[15])
	cfg.StandardSalesTaxRate = dec(rates[16])
	return &cfg, nil
}

func (s *Store) SaveConfig(ctx context.Context, c *tax.RateConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := c.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_configs (`+rateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tax_year = excluded.tax_year,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to,
			goods_filer_company = excluded.goods_filer_company,
			goods_filer_individual = excluded.goods_filer_individual,
			goods_non_filer_company = excluded.goods_non_filer_company,
			goods_non_filer_individual = excluded.goods_non_filer_individual,
			services_filer = excluded.services_filer,
			services_non_filer = excluded.services_non_filer,
			works_filer_company = excluded.works_filer_company,
			works_filer_individual = excluded.works_filer_individual,
			works_non_filer_company = excluded.works_non_filer_company,
			works_non_filer_individual = excluded.works_non_filer_individual,
			sales_tax_goods_filer = excluded.sales_tax_goods_filer,
			sales_tax_goods_non_filer = excluded.sales_tax_goods_non_filer,
			sales_tax_services_filer = excluded.sales_tax_services_filer,
			sales_tax_services_non_filer = excluded.sales_tax_services_non_filer,
			sales_tax_works = excluded.sales_tax_works,
			stamp_duty_rate = excluded.stamp_duty_rate,
			standard_sales_tax_rate = excluded.standard_sales_tax_rate`,
		c.ID, c.TaxYear, fmtTime(c.EffectiveFrom), nullTime(c.EffectiveTo), c.Active,
		c.GoodsFilerCompany.String(), c.GoodsFilerIndividual.String(),
		c.GoodsNonFilerCompany.String(), c.GoodsNonFilerIndividual.String(),
		c.ServicesFiler.String(), c.ServicesNonFiler.String(),
		c.WorksFilerCompany.String(), c.WorksFilerIndividual.String(),
		c.WorksNonFilerCompany.String(), c.WorksNonFilerIndividual.String(),
		c.SalesTaxGoodsFiler.String(), c.SalesTaxGoodsNonFiler.String(),
		c.SalesTaxServicesFiler.String(), c.SalesTaxServicesNonFiler.String(),
		c.SalesTaxWorks.String(), c.StampDutyRate.String(), c.StandardSalesTaxRate.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save rate config: %w", err)
	}
	return nil
}

// ActivateConfig marks the given configuration active and deactivates every
// other one, in one transaction.
func (s *Store) ActivateConfig(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx,
		"UPDATE rate_configs SET active = FALSE WHERE active = TRUE"); err != nil {
		return fmt.Errorf("failed to deactivate configs: %w", err)
	}
	res, err := sqlTx.ExecContext(ctx,
		"UPDATE rate_configs SET active = TRUE WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to activate config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("rate config %s: %w", id, fiscal.ErrNotFound)
	}
	return sqlTx.Commit()
}

func (s *Store) ListConfigs(ctx context.Context) ([]*tax.RateConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+rateColumns+" FROM rate_configs ORDER BY effective_from DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query rate configs: %w", err)
	}
	defer rows.Close()

	var configs []*tax.RateConfig
	for rows.Next() {
		cfg, err := scanRateConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}
