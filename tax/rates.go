/*
Package tax computes withholding taxes for expenditure transactions.

PURPOSE:
  Implements the withholding matrix applied to every bill during pre-audit:
  income tax by (transaction type, filer status, entity type), sales tax
  withholding over a standard or invoice base, and stamp duty on works
  contracts. Rates live in a dated, versioned RateConfig; exactly one config
  is active at a time and the calculator falls back to the compiled Tax Year
  2025-26 defaults when none is.

KEY CONCEPTS IN THIS FILE (rates.go):
  - TransactionType / FilerStatus / EntityType: the three rate dimensions
  - RateConfig: admin-configurable rate table with singleton activation
  - DefaultRates: compiled fallback matrix

RATE DIMENSIONALITY:
  Services income tax depends on filer status only. Goods and works depend
  on filer status AND entity type. Sales tax withholding depends on
  transaction type and filer status. Stamp duty applies to works only.

SEE ALSO:
  - calculator.go: the pure calculation
*/
package tax

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cfms/fiscal-engine/fiscal"
)

// =============================================================================
// RATE DIMENSIONS
// =============================================================================

type TransactionType string

const (
	Goods    TransactionType = "GOODS"
	Services TransactionType = "SERVICES"
	Works    TransactionType = "WORKS"
)

func (t TransactionType) Valid() bool {
	switch t {
	case Goods, Services, Works:
		return true
	}
	return false
}

// FilerStatus is the payee's standing on the active taxpayers list.
type FilerStatus string

const (
	ActiveFiler FilerStatus = "ACTIVE_FILER"
	NonFiler    FilerStatus = "NON_FILER"
	Exempt      FilerStatus = "EXEMPT" // e.g. government departments
)

func (s FilerStatus) Valid() bool {
	switch s {
	case ActiveFiler, NonFiler, Exempt:
		return true
	}
	return false
}

type EntityType string

const (
	Company    EntityType = "COMPANY"
	Individual EntityType = "INDIVIDUAL"
)

func (e EntityType) Valid() bool {
	return e == Company || e == Individual
}

// =============================================================================
// RATE CONFIGURATION
// =============================================================================

// RateConfig is one dated version of the full rate matrix. At most one
// configuration is active; activating one deactivates all others.
type RateConfig struct {
	ID            string
	TaxYear       string // e.g. "2025-26"
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	Active        bool

	// Income tax - goods (status x entity)
	GoodsFilerCompany       decimal.Decimal
	GoodsFilerIndividual    decimal.Decimal
	GoodsNonFilerCompany    decimal.Decimal
	GoodsNonFilerIndividual decimal.Decimal

	// Income tax - services (status only)
	ServicesFiler    decimal.Decimal
	ServicesNonFiler decimal.Decimal

	// Income tax - works (status x entity)
	WorksFilerCompany       decimal.Decimal
	WorksFilerIndividual    decimal.Decimal
	WorksNonFilerCompany    decimal.Decimal
	WorksNonFilerIndividual decimal.Decimal

	// Sales tax withholding fractions of the sales tax base
	SalesTaxGoodsFiler       decimal.Decimal
	SalesTaxGoodsNonFiler    decimal.Decimal
	SalesTaxServicesFiler    decimal.Decimal
	SalesTaxServicesNonFiler decimal.Decimal
	SalesTaxWorks            decimal.Decimal // same for filer and non-filer

	StampDutyRate        decimal.Decimal // works contracts only
	StandardSalesTaxRate decimal.Decimal // base when no invoice amount given
}

// Validate checks every rate is within [0, 1].
func (c *RateConfig) Validate() error {
	one := decimal.NewFromInt(1)
	rates := []decimal.Decimal{
		c.GoodsFilerCompany, c.GoodsFilerIndividual,
		c.GoodsNonFilerCompany, c.GoodsNonFilerIndividual,
		c.ServicesFiler, c.ServicesNonFiler,
		c.WorksFilerCompany, c.WorksFilerIndividual,
		c.WorksNonFilerCompany, c.WorksNonFilerIndividual,
		c.SalesTaxGoodsFiler, c.SalesTaxGoodsNonFiler,
		c.SalesTaxServicesFiler, c.SalesTaxServicesNonFiler,
		c.SalesTaxWorks, c.StampDutyRate, c.StandardSalesTaxRate,
	}
	for _, r := range rates {
		if r.IsNegative() || r.GreaterThan(one) {
			return fiscal.Invalid("rates", "every rate must be between 0 and 1")
		}
	}
	if c.TaxYear == "" {
		return fiscal.Invalid("tax_year", "tax year is required")
	}
	return nil
}

// incomeTaxRate resolves the income tax rate for the given dimensions.
// Services depend on status only; goods and works on status and entity.
func (c *RateConfig) incomeTaxRate(tt TransactionType, status FilerStatus, entity EntityType) decimal.Decimal {
	switch tt {
	case Services:
		if status == ActiveFiler {
			return c.ServicesFiler
		}
		return c.ServicesNonFiler
	case Goods:
		if status == ActiveFiler {
			if entity == Company {
				return c.GoodsFilerCompany
			}
			return c.GoodsFilerIndividual
		}
		if entity == Company {
			return c.GoodsNonFilerCompany
		}
		return c.GoodsNonFilerIndividual
	case Works:
		if status == ActiveFiler {
			if entity == Company {
				return c.WorksFilerCompany
			}
			return c.WorksFilerIndividual
		}
		if entity == Company {
			return c.WorksNonFilerCompany
		}
		return c.WorksNonFilerIndividual
	}
	return decimal.Zero
}

// salesTaxWithholdingRate resolves the withheld fraction of the sales tax base.
func (c *RateConfig) salesTaxWithholdingRate(tt TransactionType, status FilerStatus) decimal.Decimal {
	switch tt {
	case Goods:
		if status == ActiveFiler {
			return c.SalesTaxGoodsFiler
		}
		return c.SalesTaxGoodsNonFiler
	case Services:
		if status == ActiveFiler {
			return c.SalesTaxServicesFiler
		}
		return c.SalesTaxServicesNonFiler
	case Works:
		return c.SalesTaxWorks
	}
	return decimal.Zero
}

// DefaultRates returns the compiled fallback matrix (Tax Year 2025-26).
func DefaultRates() *RateConfig {
	return &RateConfig{
		ID:      "defaults",
		TaxYear: "2025-26",

		GoodsFilerCompany:       fiscal.MustMoney("0.05"),
		GoodsFilerIndividual:    fiscal.MustMoney("0.055"),
		GoodsNonFilerCompany:    fiscal.MustMoney("0.10"),
		GoodsNonFilerIndividual: fiscal.MustMoney("0.11"),

		ServicesFiler:    fiscal.MustMoney("0.15"),
		ServicesNonFiler: fiscal.MustMoney("0.30"),

		WorksFilerCompany:       fiscal.MustMoney("0.075"),
		WorksFilerIndividual:    fiscal.MustMoney("0.08"),
		WorksNonFilerCompany:    fiscal.MustMoney("0.15"),
		WorksNonFilerIndividual: fiscal.MustMoney("0.16"),

		// The "1/5th rule" for goods: filers are withheld 20% of invoice
		// sales tax, non-filers the whole amount.
		SalesTaxGoodsFiler:       fiscal.MustMoney("0.20"),
		SalesTaxGoodsNonFiler:    fiscal.MustMoney("1.00"),
		SalesTaxServicesFiler:    fiscal.MustMoney("0.50"),
		SalesTaxServicesNonFiler: fiscal.MustMoney("1.00"),
		SalesTaxWorks:            fiscal.MustMoney("1.00"),

		StampDutyRate:        fiscal.MustMoney("0.01"),
		StandardSalesTaxRate: fiscal.MustMoney("0.18"),
	}
}

// =============================================================================
// CONFIG STORE
// =============================================================================

// ConfigStore persists rate configurations.
type ConfigStore interface {
	// ActiveConfig returns the single active configuration,
	// fiscal.ErrNotFound when none is active.
	ActiveConfig(ctx context.Context) (*RateConfig, error)

	// SaveConfig inserts or updates a configuration (does not activate it).
	SaveConfig(ctx context.Context, c *RateConfig) error

	// ActivateConfig marks the given configuration active and deactivates
	// every other one in the same transaction.
	ActivateConfig(ctx context.Context, id string) error

	// ListConfigs returns all configurations, newest first.
	ListConfigs(ctx context.Context) ([]*RateConfig, error)
}

// LoadCalculator builds a Calculator from the active configuration,
// falling back to the compiled defaults when none is active.
func LoadCalculator(ctx context.Context, store ConfigStore) (*Calculator, error) {
	cfg, err := store.ActiveConfig(ctx)
	if err != nil {
		if errorsIsNotFound(err) {
			return NewCalculator(DefaultRates()), nil
		}
		return nil, err
	}
	return NewCalculator(cfg), nil
}
