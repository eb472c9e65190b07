package tax_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfms/fiscal-engine/fiscal"
	"github.com/cfms/fiscal-engine/tax"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func defaultCalc() *tax.Calculator {
	return tax.NewCalculator(tax.DefaultRates())
}

func money(s string) decimal.Decimal {
	return fiscal.MustMoney(s)
}

// assertBreakdown checks each component and the two totals identities.
func assertBreakdown(t *testing.T, bd tax.Breakdown, incomeTax, salesTax, stampDuty string) {
	t.Helper()
	assert.True(t, bd.IncomeTax.Equal(money(incomeTax)),
		"income tax: want %s, got %s", incomeTax, bd.IncomeTax)
	assert.True(t, bd.SalesTax.Equal(money(salesTax)),
		"sales tax: want %s, got %s", salesTax, bd.SalesTax)
	assert.True(t, bd.StampDuty.Equal(money(stampDuty)),
		"stamp duty: want %s, got %s", stampDuty, bd.StampDuty)
	assert.True(t, bd.TotalTax.Equal(bd.IncomeTax.Add(bd.SalesTax).Add(bd.StampDuty)),
		"total must equal sum of components")
}

// =============================================================================
// PINNED MATRIX VALUES
// =============================================================================

func TestCalculate_ServicesFiler_PinnedExample(t *testing.T) {
	// GIVEN: A 100,000 services bill for an active filer company
	// WHEN: Computing withholding with the default rates
	// THEN: IT 15,000 + ST 9,000 (half of 18% base) + SD 0 = 24,000; net 76,000

	bd, err := defaultCalc().Calculate(tax.Input{
		Gross:           money("100000"),
		TransactionType: tax.Services,
		FilerStatus:     tax.ActiveFiler,
		EntityType:      tax.Company,
	})
	require.NoError(t, err)

	assertBreakdown(t, bd, "15000.00", "9000.00", "0")
	assert.True(t, bd.TotalTax.Equal(money("24000.00")))
	assert.True(t, bd.NetAmount.Equal(money("76000.00")))
}

func TestCalculate_ServicesNonFiler(t *testing.T) {
	// GIVEN: A 100,000 services bill for a non-filer
	// WHEN: Computing withholding
	// THEN: Income tax doubles to 30% and the full sales tax base is withheld

	bd, err := defaultCalc().Calculate(tax.Input{
		Gross:           money("100000"),
		TransactionType: tax.Services,
		FilerStatus:     tax.NonFiler,
		EntityType:      tax.Individual,
	})
	require.NoError(t, err)

	assertBreakdown(t, bd, "30000.00", "18000.00", "0")
	assert.True(t, bd.NetAmount.Equal(money("52000.00")))
}

func TestCalculate_GoodsMatrix(t *testing.T) {
	// GIVEN: A 100,000 goods bill
	// WHEN: Varying filer status and entity type
	// THEN: Income tax follows the status x entity matrix and sales tax
	//       withholding follows the 1/5th rule for filers

	cases := []struct {
		name      string
		status    tax.FilerStatus
		entity    tax.EntityType
		incomeTax string
		salesTax  string
	}{
		{"filer company", tax.ActiveFiler, tax.Company, "5000.00", "3600.00"},
		{"filer individual", tax.ActiveFiler, tax.Individual, "5500.00", "3600.00"},
		{"non-filer company", tax.NonFiler, tax.Company, "10000.00", "18000.00"},
		{"non-filer individual", tax.NonFiler, tax.Individual, "11000.00", "18000.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bd, err := defaultCalc().Calculate(tax.Input{
				Gross:           money("100000"),
				TransactionType: tax.Goods,
				FilerStatus:     tc.status,
				EntityType:      tc.entity,
			})
			require.NoError(t, err)
			assertBreakdown(t, bd, tc.incomeTax, tc.salesTax, "0")
		})
	}
}

func TestCalculate_WorksCarriesStampDuty(t *testing.T) {
	// GIVEN: A 200,000 works contract for an active filer company
	// WHEN: Computing withholding
	// THEN: Stamp duty of 1% applies on top of income and sales tax

	bd, err := defaultCalc().Calculate(tax.Input{
		Gross:           money("200000"),
		TransactionType: tax.Works,
		FilerStatus:     tax.ActiveFiler,
		EntityType:      tax.Company,
	})
	require.NoError(t, err)

	// IT = 200,000 x 7.5% = 15,000; ST = (200,000 x 18%) x 100% = 36,000;
	// SD = 200,000 x 1% = 2,000
	assertBreakdown(t, bd, "15000.00", "36000.00", "2000.00")
	assert.True(t, bd.NetAmount.Equal(money("147000.00")))
}

func TestCalculate_StampDutyOnlyOnWorks(t *testing.T) {
	// GIVEN: Goods and services transactions
	// WHEN: Computing withholding
	// THEN: Stamp duty is always zero

	for _, tt := range []tax.TransactionType{tax.Goods, tax.Services} {
		bd, err := defaultCalc().Calculate(tax.Input{
			Gross:           money("50000"),
			TransactionType: tt,
			FilerStatus:     tax.NonFiler,
			EntityType:      tax.Company,
		})
		require.NoError(t, err)
		assert.True(t, bd.StampDuty.IsZero(), "%s should carry no stamp duty", tt)
	}
}

// =============================================================================
// SALES TAX BASE
// =============================================================================

func TestCalculate_InvoiceSalesTaxOverridesStandardBase(t *testing.T) {
	// GIVEN: A goods bill whose invoice shows 15,000 sales tax
	// WHEN: Computing withholding for an active filer
	// THEN: Withholding is 20% of the invoice amount, not of gross x 18%

	invoiceST := money("15000")
	bd, err := defaultCalc().Calculate(tax.Input{
		Gross:           money("100000"),
		TransactionType: tax.Goods,
		FilerStatus:     tax.ActiveFiler,
		EntityType:      tax.Company,
		InvoiceSalesTax: &invoiceST,
	})
	require.NoError(t, err)
	assert.True(t, bd.SalesTax.Equal(money("3000.00")),
		"want 20%% of 15,000, got %s", bd.SalesTax)
}

func TestCalculate_ZeroInvoiceSalesTaxFallsBackToStandardBase(t *testing.T) {
	// GIVEN: An invoice sales tax of zero
	// WHEN: Computing withholding
	// THEN: The standard 18% base is used instead

	zero := decimal.Zero
	bd, err := defaultCalc().Calculate(tax.Input{
		Gross:           money("100000"),
		TransactionType: tax.Goods,
		FilerStatus:     tax.ActiveFiler,
		EntityType:      tax.Company,
		InvoiceSalesTax: &zero,
	})
	require.NoError(t, err)
	assert.True(t, bd.SalesTax.Equal(money("3600.00")))
}

// =============================================================================
// EXEMPT AND INVALID INPUT
// =============================================================================

func TestCalculate_ExemptPayeeWithholdsNothing(t *testing.T) {
	// GIVEN: An exempt payee (e.g. a government department)
	// WHEN: Computing withholding on any transaction type
	// THEN: All components are zero and net equals gross

	bd, err := defaultCalc().Calculate(tax.Input{
		Gross:           money("100000"),
		TransactionType: tax.Works,
		FilerStatus:     tax.Exempt,
		EntityType:      tax.Company,
	})
	require.NoError(t, err)
	assert.True(t, bd.TotalTax.IsZero())
	assert.True(t, bd.NetAmount.Equal(money("100000")))
}

func TestCalculate_RejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		in   tax.Input
	}{
		{"zero gross", tax.Input{Gross: decimal.Zero, TransactionType: tax.Goods, FilerStatus: tax.ActiveFiler, EntityType: tax.Company}},
		{"negative gross", tax.Input{Gross: money("-5"), TransactionType: tax.Goods, FilerStatus: tax.ActiveFiler, EntityType: tax.Company}},
		{"unknown transaction type", tax.Input{Gross: money("10"), TransactionType: "RENT", FilerStatus: tax.ActiveFiler, EntityType: tax.Company}},
		{"unknown filer status", tax.Input{Gross: money("10"), TransactionType: tax.Goods, FilerStatus: "LATE", EntityType: tax.Company}},
		{"unknown entity type", tax.Input{Gross: money("10"), TransactionType: tax.Goods, FilerStatus: tax.ActiveFiler, EntityType: "TRUST"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := defaultCalc().Calculate(tc.in)
			assert.ErrorIs(t, err, fiscal.ErrValidation)
		})
	}
}

// =============================================================================
// ROUNDING
// =============================================================================

func TestCalculate_ComponentsRoundBeforeSumming(t *testing.T) {
	// GIVEN: A gross amount that produces fractional paisa per component
	// WHEN: Computing withholding
	// THEN: Each component is rounded half-up to 2dp and the totals are the
	//       exact sums of the rounded components

	bd, err := defaultCalc().Calculate(tax.Input{
		Gross:           money("333.33"),
		TransactionType: tax.Services,
		FilerStatus:     tax.ActiveFiler,
		EntityType:      tax.Individual,
	})
	require.NoError(t, err)

	// IT = 333.33 x 0.15 = 49.9995 -> 50.00
	// base = 333.33 x 0.18 = 59.9994 -> 59.99 (rounds before withholding)
	// ST = 59.99 x 0.50 = 29.995 -> 30.00
	assert.True(t, bd.IncomeTax.Equal(money("50.00")), "got %s", bd.IncomeTax)
	assert.True(t, bd.SalesTax.Equal(money("30.00")), "got %s", bd.SalesTax)
	assert.True(t, bd.TotalTax.Equal(money("80.00")))
	assert.True(t, bd.NetAmount.Equal(money("253.33")))
}

// =============================================================================
// RATE CONFIG VALIDATION
// =============================================================================

func TestRateConfig_ValidateRejectsOutOfRangeRates(t *testing.T) {
	cfg := tax.DefaultRates()
	cfg.ServicesFiler = money("1.5")
	assert.ErrorIs(t, cfg.Validate(), fiscal.ErrValidation)

	cfg = tax.DefaultRates()
	cfg.StampDutyRate = money("-0.01")
	assert.ErrorIs(t, cfg.Validate(), fiscal.ErrValidation)

	cfg = tax.DefaultRates()
	cfg.TaxYear = ""
	assert.ErrorIs(t, cfg.Validate(), fiscal.ErrValidation)
}

func TestDefaultRates_AreValid(t *testing.T) {
	require.NoError(t, tax.DefaultRates().Validate())
}
