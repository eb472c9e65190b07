package budget_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfms/fiscal-engine/budget"
	"github.com/cfms/fiscal-engine/coa"
	"github.com/cfms/fiscal-engine/fiscal"
	"github.com/cfms/fiscal-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	testOrg fiscal.OrgID = "tma-01"
	testFY               = "2025-26"
)

var (
	tmo = fiscal.Actor{ID: "user-tmo", Role: fiscal.RoleTMO, Org: testOrg}
)

func newTestLedger(t *testing.T) (*budget.Ledger, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return budget.NewLedger(store), store
}

func saveYear(t *testing.T, store *sqlite.Store, active bool) {
	t.Helper()
	err := store.SaveFiscalYear(context.Background(), testOrg, &fiscal.FiscalYear{
		Name:      testFY,
		StartDate: time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, time.June, 30, 0, 0, 0, 0, time.UTC),
		Active:    active,
	})
	require.NoError(t, err)
}

func saveHead(t *testing.T, store *sqlite.Store, id fiscal.HeadID, accType coa.AccountType, objectClass string) {
	t.Helper()
	err := store.SaveHead(context.Background(), &coa.Head{
		ID:          id,
		Org:         testOrg,
		MajorCode:   "C0",
		MinorCode:   "C01",
		NAMCode:     string(id),
		Name:        "head " + string(id),
		Type:        accType,
		ObjectClass: objectClass,
		Active:      true,
	})
	require.NoError(t, err)
}

func enter(t *testing.T, ledger *budget.Ledger, head fiscal.HeadID, amount string) {
	t.Helper()
	_, err := ledger.EnterAllocation(context.Background(), testOrg, testFY, head, fiscal.MustMoney(amount))
	require.NoError(t, err)
}

// seedBudget sets up a balanced budget that passes both finalization checks:
// revenue 1,000,000 against expenditure 900,000 with a 100,000 contingency.
func seedBudget(t *testing.T, ledger *budget.Ledger, store *sqlite.Store) {
	t.Helper()
	saveYear(t, store, true)
	saveHead(t, store, "rev-1", coa.AccountRevenue, "C01")
	saveHead(t, store, "sal-1", coa.AccountExpenditure, "A01101")
	saveHead(t, store, "exp-1", coa.AccountExpenditure, "A03201")
	saveHead(t, store, "cont-1", coa.AccountExpenditure, "A09701")
	enter(t, ledger, "rev-1", "1000000")
	enter(t, ledger, "sal-1", "400000")
	enter(t, ledger, "exp-1", "400000")
	enter(t, ledger, "cont-1", "100000")
}

func finalize(t *testing.T, ledger *budget.Ledger) *budget.SAERecord {
	t.Helper()
	rec, err := ledger.Finalize(context.Background(), testOrg, testFY, tmo)
	require.NoError(t, err)
	return rec
}

func getAllocation(t *testing.T, store *sqlite.Store, head fiscal.HeadID) *budget.Allocation {
	t.Helper()
	a, err := store.GetAllocation(context.Background(), testOrg, testFY, head)
	require.NoError(t, err)
	return a
}

// =============================================================================
// ALLOCATION ENTRY
// =============================================================================

func TestEnterAllocation_SeedsRevisedFromOriginal(t *testing.T) {
	// GIVEN: An active, unlocked fiscal year
	// WHEN: Entering an allocation
	// THEN: Revised equals original and nothing is released or spent yet

	ledger, store := newTestLedger(t)
	saveYear(t, store, true)
	saveHead(t, store, "exp-1", coa.AccountExpenditure, "A03201")

	a, err := ledger.EnterAllocation(context.Background(), testOrg, testFY, "exp-1", fiscal.MustMoney("123456.789"))
	require.NoError(t, err)

	assert.True(t, a.Original.Equal(fiscal.MustMoney("123456.79")), "original rounds to 2dp")
	assert.True(t, a.Revised.Equal(a.Original))
	assert.True(t, a.Released.IsZero())
	assert.True(t, a.Spent.IsZero())

	// Round-trips through the store with the classification snapshot.
	stored := getAllocation(t, store, "exp-1")
	assert.True(t, stored.Revised.Equal(a.Revised))
	assert.Equal(t, "A03201", stored.ObjectClass)
	assert.Equal(t, coa.AccountExpenditure, stored.AccountType)
}

func TestEnterAllocation_RejectsNegativeAndBadYear(t *testing.T) {
	ledger, store := newTestLedger(t)
	saveYear(t, store, true)
	saveHead(t, store, "exp-1", coa.AccountExpenditure, "A03201")
	ctx := context.Background()

	_, err := ledger.EnterAllocation(ctx, testOrg, testFY, "exp-1", fiscal.MustMoney("-1"))
	assert.ErrorIs(t, err, fiscal.ErrValidation)

	_, err = ledger.EnterAllocation(ctx, testOrg, "2030-31", "exp-1", fiscal.MustMoney("100"))
	assert.ErrorIs(t, err, fiscal.ErrNotFound)
}

func TestEnterAllocation_RejectedOnceLocked(t *testing.T) {
	// GIVEN: A finalized (locked) fiscal year
	// WHEN: Entering another allocation
	// THEN: The entry is rejected with AlreadyLocked

	ledger, store := newTestLedger(t)
	seedBudget(t, ledger, store)
	finalize(t, ledger)

	saveHead(t, store, "exp-2", coa.AccountExpenditure, "A03202")
	_, err := ledger.EnterAllocation(context.Background(), testOrg, testFY, "exp-2", fiscal.MustMoney("5000"))
	assert.ErrorIs(t, err, fiscal.ErrAlreadyLocked)
}

// =============================================================================
// QUARTERLY RELEASE
// =============================================================================

func TestReleaseQuarter_RequiresFinalizedBudget(t *testing.T) {
	// GIVEN: An active fiscal year that has not been finalized
	// WHEN: Releasing Q1
	// THEN: The release is rejected; releases operate on authorized budgets

	ledger, store := newTestLedger(t)
	seedBudget(t, ledger, store)

	_, err := ledger.ReleaseQuarter(context.Background(), testOrg, testFY, fiscal.Q1, tmo)
	assert.ErrorIs(t, err, fiscal.ErrValidation)
}

func TestReleaseQuarter_Q1_SalaryFullNonSalaryQuarter(t *testing.T) {
	// GIVEN: A finalized budget with salary and non-salary heads
	// WHEN: Releasing Q1
	// THEN: Salary heads release 100% of revised, every other head 25%

	ledger, store := newTestLedger(t)
	seedBudget(t, ledger, store)
	finalize(t, ledger)

	summary, err := ledger.ReleaseQuarter(context.Background(), testOrg, testFY, fiscal.Q1, tmo)
	require.NoError(t, err)

	assert.True(t, getAllocation(t, store, "sal-1").Released.Equal(fiscal.MustMoney("400000")),
		"salary head releases in full")
	assert.True(t, getAllocation(t, store, "exp-1").Released.Equal(fiscal.MustMoney("100000")))
	assert.True(t, getAllocation(t, store, "cont-1").Released.Equal(fiscal.MustMoney("25000")))
	assert.True(t, getAllocation(t, store, "rev-1").Released.Equal(fiscal.MustMoney("250000")))

	assert.Equal(t, 4, summary.HeadsReleased)
	assert.True(t, summary.TotalReleased.Equal(fiscal.MustMoney("775000")),
		"got %s", summary.TotalReleased)
	assert.Equal(t, tmo.ID, summary.ProcessedBy)
}

func TestReleaseQuarter_SalarySkippedAfterQ1(t *testing.T) {
	// GIVEN: Q1 already released
	// WHEN: Releasing Q2
	// THEN: Salary heads are skipped; everything else gets another 25%

	ledger, store := newTestLedger(t)
	seedBudget(t, ledger, store)
	finalize(t, ledger)
	ctx := context.Background()

	_, err := ledger.ReleaseQuarter(ctx, testOrg, testFY, fiscal.Q1, tmo)
	require.NoError(t, err)
	summary, err := ledger.ReleaseQuarter(ctx, testOrg, testFY, fiscal.Q2, tmo)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.HeadsReleased)
	assert.True(t, getAllocation(t, store, "sal-1").Released.Equal(fiscal.MustMoney("400000")),
		"salary stays at its Q1 release")
	assert.True(t, getAllocation(t, store, "exp-1").Released.Equal(fiscal.MustMoney("200000")))
}

func TestReleaseQuarter_Idempotent(t *testing.T) {
	// GIVEN: Q1 already released
	// WHEN: Releasing Q1 again
	// THEN: AlreadyReleased, and no allocation moves

	ledger, store := newTestLedger(t)
	seedBudget(t, ledger, store)
	finalize(t, ledger)
	ctx := context.Background()

	_, err := ledger.ReleaseQuarter(ctx, testOrg, testFY, fiscal.Q1, tmo)
	require.NoError(t, err)

	before := getAllocation(t, store, "exp-1").Released
	_, err = ledger.ReleaseQuarter(ctx, testOrg, testFY, fiscal.Q1, tmo)
	assert.ErrorIs(t, err, fiscal.ErrAlreadyReleased)
	assert.True(t, getAllocation(t, store, "exp-1").Released.Equal(before))
}

func TestReleaseQuarter_FourQuartersNeverExceedRevised(t *testing.T) {
	// GIVEN: A finalized budget
	// WHEN: Releasing all four quarters
	// THEN: Released equals revised exactly on every head

	ledger, store := newTestLedger(t)
	seedBudget(t, ledger, store)
	finalize(t, ledger)
	ctx := context.Background()

	for _, q := range fiscal.Quarters {
		_, err := ledger.ReleaseQuarter(ctx, testOrg, testFY, q, tmo)
		require.NoError(t, err, "quarter %s", q)
	}

	for _, head := range []fiscal.HeadID{"rev-1", "sal-1", "exp-1", "cont-1"} {
		a := getAllocation(t, store, head)
		assert.True(t, a.Released.Equal(a.Revised),
			"head %s: released %s, revised %s", head, a.Released, a.Revised)
		require.NoError(t, a.CheckInvariant())
	}
}

func TestReleaseQuarter_UnknownQuarterRejected(t *testing.T) {
	ledger, store := newTestLedger(t)
	seedBudget(t, ledger, store)
	finalize(t, ledger)

	_, err := ledger.ReleaseQuarter(context.Background(), testOrg, testFY, "Q5", tmo)
	assert.ErrorIs(t, err, fiscal.ErrValidation)
}

// =============================================================================
// COMMIT SPEND - the hard budget constraint
// =============================================================================

func TestCommitSpend_DebitsWithinReleased(t *testing.T) {
	// GIVEN: exp-1 has 100,000 released after Q1
	// WHEN: Spending 60,000
	// THEN: Spent moves to 60,000 and 40,000 remains available

	ledger, store := newTestLedger(t)
	seedBudget(t, ledger, store)
	finalize(t, ledger)
	ctx := context.Background()
	_, err := ledger.ReleaseQuarter(ctx, testOrg, testFY, fiscal.Q1, tmo)
	require.NoError(t, err)

	require.NoError(t, ledger.CommitSpend(ctx, testOrg, testFY, "exp-1", fiscal.MustMoney("60000")))

	avail, err := ledger.Available(ctx, testOrg, testFY, "exp-1")
	require.NoError(t, err)
	assert.True(t, avail.Equal(fiscal.MustMoney("40000")), "got %s", avail)
}

func TestCommitSpend_OverspendRejectedWithShortfall(t *testing.T) {
	// GIVEN: exp-1 has 40,000 available
	// WHEN: Spending 50,000
	// THEN: BudgetExceededError carrying head, requested and available;
	//       nothing is debited

	ledger, store := newTestLedger(t)
	seedBudget(t, ledger, store)
	finalize(t, ledger)
	ctx := context.Background()
	_, err := ledger.ReleaseQuarter(ctx, testOrg, testFY, fiscal.Q1, tmo)
	require.NoError(t, err)
	require.NoError(t, ledger.CommitSpend(ctx, testOrg, testFY, "exp-1", fiscal.MustMoney("60000")))

	err = ledger.CommitSpend(ctx, testOrg, testFY, "exp-1", fiscal.MustMoney("50000"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fiscal.ErrBudgetExceeded)

	var be *fiscal.BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, fiscal.HeadID("exp-1"), be.Head)
	assert.True(t, be.Requested.Equal(fiscal.MustMoney("50000")))
	assert.True(t, be.Available.Equal(fiscal.MustMoney("40000")))
	assert.True(t, be.Shortfall().Equal(fiscal.MustMoney("10000")))

	assert.True(t, getAllocation(t, store, "exp-1").Spent.Equal(fiscal.MustMoney("60000")),
		"failed spend must not move the row")
}

func TestCommitSpend_RejectsNonPositiveAmounts(t *testing.T) {
	ledger, store := newTestLedger(t)
	seedBudget(t, ledger, store)

	err := ledger.CommitSpend(context.Background(), testOrg, testFY, "exp-1", decimal.Zero)
	assert.ErrorIs(t, err, fiscal.ErrValidation)
}

func TestCommitSpend_ConcurrentSpendsNeverOverspend(t *testing.T) {
	// GIVEN: exp-1 has exactly 100,000 released
	// WHEN: 20 goroutines each try to spend 10,000 concurrently
	// THEN: Exactly 10 succeed and spent lands exactly on released

	ledger, store := newTestLedger(t)
	seedBudget(t, ledger, store)
	finalize(t, ledger)
	ctx := context.Background()
	_, err := ledger.ReleaseQuarter(ctx, testOrg, testFY, fiscal.Q1, tmo)
	require.NoError(t, err)

	const workers = 20
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- ledger.CommitSpend(ctx, testOrg, testFY, "exp-1", fiscal.MustMoney("10000"))
		}()
	}
	wg.Wait()
	close(results)

	succeeded, exceeded := 0, 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, fiscal.ErrBudgetExceeded)
		exceeded++
	}
	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 10, exceeded)

	a := getAllocation(t, store, "exp-1")
	assert.True(t, a.Spent.Equal(a.Released),
		"spent %s must land exactly on released %s", a.Spent, a.Released)
	require.NoError(t, a.CheckInvariant())
}

// =============================================================================
// FINALIZATION
// =============================================================================

func TestFinalize_GeneratesSAEAndLocksYear(t *testing.T) {
	// GIVEN: A budget passing both checks
	// WHEN: Finalizing
	// THEN: SAE record with the totals; year locked with the SAE number

	ledger, store := newTestLedger(t)
	seedBudget(t, ledger, store)
	ctx := context.Background()

	rec := finalize(t, ledger)
	assert.True(t, rec.TotalReceipts.Equal(fiscal.MustMoney("1000000")))
	assert.True(t, rec.TotalExpenditure.Equal(fiscal.MustMoney("900000")))
	assert.True(t, rec.ContingencyReserve.Equal(fiscal.MustMoney("100000")))
	assert.True(t, rec.Surplus.Equal(fiscal.MustMoney("100000")))
	assert.Contains(t, rec.SAENumber, "SAE-"+testFY)
	assert.Equal(t, tmo.ID, rec.ApprovedBy)

	fy, err := store.GetFiscalYear(ctx, testOrg, testFY)
	require.NoError(t, err)
	assert.True(t, fy.Locked)
	assert.Equal(t, rec.SAENumber, fy.SAENumber)
	require.NotNil(t, fy.LockedAt)

	stored, err := store.GetSAERecord(ctx, testOrg, testFY)
	require.NoError(t, err)
	assert.Equal(t, rec.SAENumber, stored.SAENumber)
}

func TestFinalize_SecondFinalizeRejected(t *testing.T) {
	ledger, store := newTestLedger(t)
	seedBudget(t, ledger, store)
	finalize(t, ledger)

	_, err := ledger.Finalize(context.Background(), testOrg, testFY, tmo)
	assert.ErrorIs(t, err, fiscal.ErrAlreadyLocked)
}

func TestFinalize_ContingencyReserveShortfall(t *testing.T) {
	// GIVEN: Contingency of 10,000 against revenue of 1,000,000
	// WHEN: Finalizing
	// THEN: ReserveError names the check and carries the 10,000 shortfall;
	//       the year stays unlocked

	ledger, store := newTestLedger(t)
	saveYear(t, store, true)
	saveHead(t, store, "rev-1", coa.AccountRevenue, "C01")
	saveHead(t, store, "exp-1", coa.AccountExpenditure, "A03201")
	saveHead(t, store, "cont-1", coa.AccountExpenditure, "A09701")
	enter(t, ledger, "rev-1", "1000000")
	enter(t, ledger, "exp-1", "500000")
	enter(t, ledger, "cont-1", "10000")

	_, err := ledger.Finalize(context.Background(), testOrg, testFY, tmo)
	require.Error(t, err)

	var re *fiscal.ReserveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "contingency_reserve", re.Check)
	assert.True(t, re.Required.Equal(fiscal.MustMoney("20000")))
	assert.True(t, re.Shortfall().Equal(fiscal.MustMoney("10000")))

	fy, err := store.GetFiscalYear(context.Background(), testOrg, testFY)
	require.NoError(t, err)
	assert.False(t, fy.Locked, "failed finalization must not lock the year")
}

func TestFinalize_DeficitRejected(t *testing.T) {
	// GIVEN: Expenditure exceeding revenue
	// WHEN: Finalizing
	// THEN: The zero-deficit check fails with the overshoot

	ledger, store := newTestLedger(t)
	saveYear(t, store, true)
	saveHead(t, store, "rev-1", coa.AccountRevenue, "C01")
	saveHead(t, store, "exp-1", coa.AccountExpenditure, "A03201")
	saveHead(t, store, "cont-1", coa.AccountExpenditure, "A09701")
	enter(t, ledger, "rev-1", "500000")
	enter(t, ledger, "exp-1", "600000")
	enter(t, ledger, "cont-1", "10000")

	_, err := ledger.Finalize(context.Background(), testOrg, testFY, tmo)
	require.Error(t, err)

	var re *fiscal.ReserveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "zero_deficit", re.Check)
}

func TestAllocation_InvariantChecks(t *testing.T) {
	a, err := budget.NewAllocation(testOrg, testFY, "exp-1", fiscal.MustMoney("100"))
	require.NoError(t, err)
	require.NoError(t, a.CheckInvariant())

	a.Spent = fiscal.MustMoney("10")
	err = a.CheckInvariant()
	assert.ErrorIs(t, err, fiscal.ErrValidation, "spent above released must fail: %v", err)

	a.Released = fiscal.MustMoney("200")
	err = a.CheckInvariant()
	assert.ErrorIs(t, err, fiscal.ErrValidation, "released above revised must fail")
}

func TestQuarterLabels(t *testing.T) {
	for i, q := range fiscal.Quarters {
		assert.Equal(t, fmt.Sprintf("Q%d", i+1), string(q))
		assert.True(t, q.Valid())
	}
	assert.False(t, fiscal.Quarter("Q9").Valid())
}
