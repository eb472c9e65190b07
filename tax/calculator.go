/*
calculator.go - Pure withholding calculation

PURPOSE:
  Given a gross amount and the three rate dimensions, compute the income
  tax, sales tax withholding and stamp duty for one transaction. The
  function is pure: rates in, breakdown out, no I/O.

ROUNDING:
  Each component rounds independently to 2 decimal places (half away from
  zero) BEFORE summing. TotalTax is the exact sum of the three rounded
  components and NetAmount is exactly gross - TotalTax; the totals are never
  re-rounded. Tests pin these identities.

EXAMPLE:
  gross=100,000 SERVICES ACTIVE_FILER:
    income tax  = 100,000 x 0.15          = 15,000.00
    sales tax   = (100,000 x 0.18) x 0.50 =  9,000.00
    stamp duty  = 0 (not works)
    total       = 24,000.00, net = 76,000.00
*/
package tax

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/cfms/fiscal-engine/fiscal"
)

// Input describes one transaction to compute withholding for.
type Input struct {
	Gross           decimal.Decimal
	TransactionType TransactionType
	FilerStatus     FilerStatus
	EntityType      EntityType

	// InvoiceSalesTax, when set, is the sales tax shown on the vendor
	// invoice and becomes the withholding base. Otherwise the base is
	// gross x the standard rate.
	InvoiceSalesTax *decimal.Decimal
}

// Breakdown is the result of a withholding calculation.
// Invariants: TotalTax == IncomeTax + SalesTax + StampDuty and
// NetAmount == Gross - TotalTax, exactly.
type Breakdown struct {
	IncomeTax decimal.Decimal
	SalesTax  decimal.Decimal
	StampDuty decimal.Decimal
	TotalTax  decimal.Decimal
	NetAmount decimal.Decimal
}

// Calculator applies one rate configuration.
type Calculator struct {
	rates *RateConfig
}

func NewCalculator(rates *RateConfig) *Calculator {
	return &Calculator{rates: rates}
}

// Rates returns the configuration the calculator was built with.
func (c *Calculator) Rates() *RateConfig { return c.rates }

// Calculate computes the withholding breakdown for one transaction.
func (c *Calculator) Calculate(in Input) (Breakdown, error) {
	if in.Gross.IsNegative() || in.Gross.IsZero() {
		return Breakdown{}, fiscal.Invalid("gross_amount", "gross amount must be positive")
	}
	if !in.TransactionType.Valid() {
		return Breakdown{}, fiscal.Invalid("transaction_type", "unknown transaction type "+string(in.TransactionType))
	}
	if !in.FilerStatus.Valid() {
		return Breakdown{}, fiscal.Invalid("filer_status", "unknown filer status "+string(in.FilerStatus))
	}
	if !in.EntityType.Valid() {
		return Breakdown{}, fiscal.Invalid("entity_type", "unknown entity type "+string(in.EntityType))
	}

	// Exempt payees (e.g. government departments) pay no withholding at all.
	if in.FilerStatus == Exempt {
		return Breakdown{
			IncomeTax: decimal.Zero,
			SalesTax:  decimal.Zero,
			StampDuty: decimal.Zero,
			TotalTax:  decimal.Zero,
			NetAmount: in.Gross,
		}, nil
	}

	incomeTax := fiscal.RoundMoney(
		in.Gross.Mul(c.rates.incomeTaxRate(in.TransactionType, in.FilerStatus, in.EntityType)))

	salesTax := fiscal.RoundMoney(
		c.salesTaxBase(in).Mul(c.rates.salesTaxWithholdingRate(in.TransactionType, in.FilerStatus)))

	stampDuty := decimal.Zero
	if in.TransactionType == Works {
		stampDuty = fiscal.RoundMoney(in.Gross.Mul(c.rates.StampDutyRate))
	}

	total := incomeTax.Add(salesTax).Add(stampDuty)
	return Breakdown{
		IncomeTax: incomeTax,
		SalesTax:  salesTax,
		StampDuty: stampDuty,
		TotalTax:  total,
		NetAmount: in.Gross.Sub(total),
	}, nil
}

// salesTaxBase is the invoice sales tax when provided, else the standard
// rate applied to gross. The computed base rounds before withholding.
func (c *Calculator) salesTaxBase(in Input) decimal.Decimal {
	if in.InvoiceSalesTax != nil && in.InvoiceSalesTax.IsPositive() {
		return *in.InvoiceSalesTax
	}
	return fiscal.RoundMoney(in.Gross.Mul(c.rates.StandardSalesTaxRate))
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, fiscal.ErrNotFound)
}
