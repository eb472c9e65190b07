package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfms/fiscal-engine/coa"
	"github.com/cfms/fiscal-engine/fiscal"
	"github.com/cfms/fiscal-engine/store/sqlite"
	"github.com/cfms/fiscal-engine/tax"
)

const testOrg fiscal.OrgID = "tma-01"

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// =============================================================================
// FISCAL YEARS AND HEADS
// =============================================================================

func TestFiscalYear_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetFiscalYear(ctx, testOrg, "2025-26")
	assert.ErrorIs(t, err, fiscal.ErrNotFound)

	fy := &fiscal.FiscalYear{
		Name:      "2025-26",
		StartDate: time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, time.June, 30, 0, 0, 0, 0, time.UTC),
		Active:    true,
	}
	require.NoError(t, store.SaveFiscalYear(ctx, testOrg, fy))

	got, err := store.GetFiscalYear(ctx, testOrg, "2025-26")
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.False(t, got.Locked)
	assert.True(t, got.StartDate.Equal(fy.StartDate))

	// Save is an upsert: locking the year persists in place.
	got.Locked = true
	require.NoError(t, store.SaveFiscalYear(ctx, testOrg, got))
	got, err = store.GetFiscalYear(ctx, testOrg, "2025-26")
	require.NoError(t, err)
	assert.True(t, got.Locked)
}

func TestFiscalYear_ScopedByOrg(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveFiscalYear(ctx, testOrg, &fiscal.FiscalYear{
		Name:      "2025-26",
		StartDate: time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, time.June, 30, 0, 0, 0, 0, time.UTC),
	}))

	_, err := store.GetFiscalYear(ctx, "tma-02", "2025-26")
	assert.ErrorIs(t, err, fiscal.ErrNotFound, "years are per organization")
}

func TestHead_RoundTripWithSystemCode(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveHead(ctx, &coa.Head{
		ID: "ap-1", Org: testOrg, MajorCode: "G1", MinorCode: "G12",
		NAMCode: "G12401", Name: "Accounts Payable",
		Type: coa.AccountLiability, System: coa.SystemAccountsPayable, Active: true,
	}))
	require.NoError(t, store.SaveHead(ctx, &coa.Head{
		ID: "exp-1", Org: testOrg, MajorCode: "A0", MinorCode: "A03",
		NAMCode: "A03201", Name: "Office Supplies",
		Type: coa.AccountExpenditure, ObjectClass: "A03201", Active: true,
	}))

	got, err := store.GetHead(ctx, testOrg, "ap-1")
	require.NoError(t, err)
	assert.Equal(t, coa.SystemAccountsPayable, got.System)
	assert.Empty(t, got.ObjectClass)

	matches, err := store.HeadsBySystemCode(ctx, testOrg, coa.SystemAccountsPayable)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, fiscal.HeadID("ap-1"), matches[0].ID)

	matches, err = store.HeadsBySystemCode(ctx, testOrg, coa.SystemBank)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

// =============================================================================
// RATE CONFIGURATIONS
// =============================================================================

func newConfig(taxYear string) *tax.RateConfig {
	c := tax.DefaultRates()
	c.ID = uuid.NewString()
	c.TaxYear = taxYear
	c.EffectiveFrom = time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
	return c
}

func TestRateConfig_NoActiveConfigIsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ActiveConfig(context.Background())
	assert.ErrorIs(t, err, fiscal.ErrNotFound)
}

func TestRateConfig_ActivationIsExclusive(t *testing.T) {
	// GIVEN: Two saved rate configurations, the first active
	// WHEN: Activating the second
	// THEN: Exactly one configuration is ever active

	store := newTestStore(t)
	ctx := context.Background()

	first := newConfig("2024-25")
	first.Active = true
	second := newConfig("2025-26")
	require.NoError(t, store.SaveConfig(ctx, first))
	require.NoError(t, store.SaveConfig(ctx, second))

	active, err := store.ActiveConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	require.NoError(t, store.ActivateConfig(ctx, second.ID))

	active, err = store.ActiveConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	all, err := store.ListConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	activeCount := 0
	for _, c := range all {
		if c.Active {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)
}

func TestRateConfig_ActivateUnknownIsNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.ActivateConfig(context.Background(), "no-such-config")
	assert.ErrorIs(t, err, fiscal.ErrNotFound)
}

func TestRateConfig_RatesSurviveRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := newConfig("2025-26")
	require.NoError(t, store.SaveConfig(ctx, c))
	require.NoError(t, store.ActivateConfig(ctx, c.ID))

	got, err := store.ActiveConfig(ctx)
	require.NoError(t, err)
	assert.True(t, got.ServicesFiler.Equal(c.ServicesFiler))
	assert.True(t, got.WorksNonFilerIndividual.Equal(c.WorksNonFilerIndividual))
	assert.True(t, got.SalesTaxGoodsNonFiler.Equal(c.SalesTaxGoodsNonFiler))
	assert.True(t, got.StampDutyRate.Equal(c.StampDutyRate))
	assert.True(t, got.StandardSalesTaxRate.Equal(c.StandardSalesTaxRate))
	assert.NoError(t, got.Validate())
}
