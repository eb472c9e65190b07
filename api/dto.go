/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts travel as decimal strings ("150000.00"), never floats. The
  handlers parse them with shopspring/decimal and reject malformed input.

VALIDATION:
  Request structs carry go-playground/validator tags; handlers run
  validate.Struct before touching domain logic.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cfms/fiscal-engine/bill"
	"github.com/cfms/fiscal-engine/budget"
	"github.com/cfms/fiscal-engine/coa"
	"github.com/cfms/fiscal-engine/establishment"
	"github.com/cfms/fiscal-engine/fiscal"
	"github.com/cfms/fiscal-engine/payment"
	"github.com/cfms/fiscal-engine/tax"
	"github.com/cfms/fiscal-engine/voucher"
)

const dateLayout = "2006-01-02"

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// FISCAL YEARS AND BUDGET
// =============================================================================

// CreateFiscalYearRequest creates or updates a fiscal year.
type CreateFiscalYearRequest struct {
	Name      string `json:"name" validate:"required"`
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
	Active    bool   `json:"active"`
}

// FiscalYearDTO represents a fiscal year in API responses.
type FiscalYearDTO struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Active    bool   `json:"active"`
	Locked    bool   `json:"locked"`
	SAENumber string `json:"sae_number,omitempty"`
	LockedAt  string `json:"locked_at,omitempty"`
}

func toFiscalYearDTO(fy *fiscal.FiscalYear) FiscalYearDTO {
	dto := FiscalYearDTO{
		Name:      fy.Name,
		StartDate: fy.StartDate.Format(dateLayout),
		EndDate:   fy.EndDate.Format(dateLayout),
		Active:    fy.Active,
		Locked:    fy.Locked,
		SAENumber: fy.SAENumber,
	}
	if fy.LockedAt != nil {
		dto.LockedAt = fy.LockedAt.Format(time.RFC3339)
	}
	return dto
}

// CreateHeadRequest creates a budget head.
type CreateHeadRequest struct {
	ID          string `json:"id" validate:"required"`
	Department  string `json:"department"`
	Fund        string `json:"fund"`
	Function    string `json:"function"`
	MajorCode   string `json:"major_code"`
	MinorCode   string `json:"minor_code"`
	NAMCode     string `json:"nam_code"`
	SubCode     string `json:"sub_code"`
	Parent      string `json:"parent,omitempty"`
	Name        string `json:"name" validate:"required"`
	Type        string `json:"type" validate:"required,oneof=REVENUE EXPENDITURE ASSET LIABILITY"`
	ObjectClass string `json:"object_class"`
	System      string `json:"system,omitempty"`
}

// HeadDTO represents a budget head.
type HeadDTO struct {
	ID             string `json:"id"`
	FullCode       string `json:"full_code"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	ObjectClass    string `json:"object_class,omitempty"`
	System         string `json:"system,omitempty"`
	Salary         bool   `json:"salary"`
	PostingAllowed bool   `json:"posting_allowed"`
	Active         bool   `json:"active"`
}

func toHeadDTO(h *coa.Head) HeadDTO {
	return HeadDTO{
		ID:             string(h.ID),
		FullCode:       h.FullCode(),
		Name:           h.Name,
		Type:           string(h.Type),
		ObjectClass:    h.ObjectClass,
		System:         string(h.System),
		Salary:         h.IsSalary(),
		PostingAllowed: h.PostingAllowed(),
		Active:         h.Active,
	}
}

// EnterAllocationRequest records a budget allocation.
type EnterAllocationRequest struct {
	FiscalYear string `json:"fiscal_year" validate:"required"`
	HeadID     string `json:"head_id" validate:"required"`
	Original   string `json:"original" validate:"required"`
}

// AllocationDTO represents one budget row.
type AllocationDTO struct {
	FiscalYear  string `json:"fiscal_year"`
	HeadID      string `json:"head_id"`
	Original    string `json:"original"`
	Revised     string `json:"revised"`
	Released    string `json:"released"`
	Spent       string `json:"spent"`
	Available   string `json:"available"`
	ObjectClass string `json:"object_class,omitempty"`
	AccountType string `json:"account_type,omitempty"`
}

func toAllocationDTO(a *budget.Allocation) AllocationDTO {
	return AllocationDTO{
		FiscalYear:  a.FiscalYear,
		HeadID:      string(a.Head),
		Original:    a.Original.StringFixed(2),
		Revised:     a.Revised.StringFixed(2),
		Released:    a.Released.StringFixed(2),
		Spent:       a.Spent.StringFixed(2),
		Available:   a.Available().StringFixed(2),
		ObjectClass: a.ObjectClass,
		AccountType: string(a.AccountType),
	}
}

// ReleaseSummaryDTO reports one quarterly release run.
type ReleaseSummaryDTO struct {
	FiscalYear    string `json:"fiscal_year"`
	Quarter       string `json:"quarter"`
	TotalReleased string `json:"total_released"`
	HeadsReleased int    `json:"heads_released"`
	ProcessedBy   string `json:"processed_by"`
	ProcessedAt   string `json:"processed_at"`
}

// SAERecordDTO is the finalization summary.
type SAERecordDTO struct {
	FiscalYear         string `json:"fiscal_year"`
	SAENumber          string `json:"sae_number"`
	TotalReceipts      string `json:"total_receipts"`
	TotalExpenditure   string `json:"total_expenditure"`
	ContingencyReserve string `json:"contingency_reserve"`
	Surplus            string `json:"surplus"`
	ApprovedBy         string `json:"approved_by"`
	GeneratedAt        string `json:"generated_at"`
}

func toSAERecordDTO(rec *budget.SAERecord) SAERecordDTO {
	return SAERecordDTO{
		FiscalYear:         rec.FiscalYear,
		SAENumber:          rec.SAENumber,
		TotalReceipts:      rec.TotalReceipts.StringFixed(2),
		TotalExpenditure:   rec.TotalExpenditure.StringFixed(2),
		ContingencyReserve: rec.ContingencyReserve.StringFixed(2),
		Surplus:            rec.Surplus.StringFixed(2),
		ApprovedBy:         rec.ApprovedBy,
		GeneratedAt:        rec.GeneratedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// PAYEES AND BILLS
// =============================================================================

// CreatePayeeRequest creates a payee master record.
type CreatePayeeRequest struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	CNICNTN     string `json:"cnic_ntn"`
	TaxStatus   string `json:"tax_status" validate:"required,oneof=ACTIVE_FILER NON_FILER EXEMPT"`
	EntityType  string `json:"entity_type" validate:"required,oneof=COMPANY INDIVIDUAL"`
	BankName    string `json:"bank_name"`
	BankAccount string `json:"bank_account"`
}

// PayeeDTO represents a payee.
type PayeeDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CNICNTN    string `json:"cnic_ntn,omitempty"`
	TaxStatus  string `json:"tax_status"`
	EntityType string `json:"entity_type"`
	Active     bool   `json:"active"`
}

func toPayeeDTO(p *bill.Payee) PayeeDTO {
	return PayeeDTO{
		ID:         string(p.ID),
		Name:       p.Name,
		CNICNTN:    p.CNICNTN,
		TaxStatus:  string(p.TaxStatus),
		EntityType: string(p.EntityType),
		Active:     p.Active,
	}
}

// BillLineRequest is one expense charge on a new bill.
type BillLineRequest struct {
	HeadID      string `json:"head_id" validate:"required"`
	Amount      string `json:"amount" validate:"required"`
	Description string `json:"description"`
}

// CreateBillRequest creates a draft bill with its lines.
type CreateBillRequest struct {
	FiscalYear      string            `json:"fiscal_year" validate:"required"`
	PayeeID         string            `json:"payee_id" validate:"required"`
	BillNumber      string            `json:"bill_number"`
	BillDate        string            `json:"bill_date"`
	Description     string            `json:"description"`
	TransactionType string            `json:"transaction_type" validate:"required,oneof=GOODS SERVICES WORKS"`
	Gross           string            `json:"gross" validate:"required"`
	InvoiceSalesTax string            `json:"invoice_sales_tax,omitempty"`
	Lines           []BillLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// RejectRequest carries the mandatory rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// PayBillRequest records the cheque for an approved bill.
type PayBillRequest struct {
	ChequeNumber string `json:"cheque_number" validate:"required"`
	ChequeDate   string `json:"cheque_date" validate:"required"`
	Amount       string `json:"amount" validate:"required"`
}

// StampDTO records who performed a transition and when.
type StampDTO struct {
	By string `json:"by"`
	At string `json:"at"`
}

func toStampDTO(st *bill.Stamp) *StampDTO {
	if st == nil {
		return nil
	}
	return &StampDTO{By: st.By, At: st.At.Format(time.RFC3339)}
}

// BillLineDTO is one expense line.
type BillLineDTO struct {
	HeadID      string `json:"head_id"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

// BillDTO represents a bill with its tax components and stamps.
type BillDTO struct {
	ID              string        `json:"id"`
	FiscalYear      string        `json:"fiscal_year"`
	PayeeID         string        `json:"payee_id"`
	BillNumber      string        `json:"bill_number,omitempty"`
	Description     string        `json:"description,omitempty"`
	TransactionType string        `json:"transaction_type"`
	Gross           string        `json:"gross"`
	IncomeTax       string        `json:"income_tax"`
	SalesTax        string        `json:"sales_tax"`
	StampDuty       string        `json:"stamp_duty"`
	TotalTax        string        `json:"total_tax"`
	Net             string        `json:"net"`
	Status          string        `json:"status"`
	Lines           []BillLineDTO `json:"lines,omitempty"`

	Submitted *StampDTO `json:"submitted,omitempty"`
	Audited   *StampDTO `json:"audited,omitempty"`
	Verified  *StampDTO `json:"verified,omitempty"`
	Approved  *StampDTO `json:"approved,omitempty"`
	Rejected  *StampDTO `json:"rejected,omitempty"`
	Paid      *StampDTO `json:"paid,omitempty"`

	RejectionReason  string `json:"rejection_reason,omitempty"`
	LiabilityVoucher string `json:"liability_voucher,omitempty"`
	PaymentVoucher   string `json:"payment_voucher,omitempty"`
	CreatedAt        string `json:"created_at"`
}

func toBillDTO(b *bill.Bill) BillDTO {
	dto := BillDTO{
		ID:              string(b.ID),
		FiscalYear:      b.FiscalYear,
		PayeeID:         string(b.Payee),
		BillNumber:      b.BillNumber,
		Description:     b.Description,
		TransactionType: string(b.TransactionType),
		Gross:           b.Gross.StringFixed(2),
		IncomeTax:       b.IncomeTax.StringFixed(2),
		SalesTax:        b.SalesTax.StringFixed(2),
		StampDuty:       b.StampDuty.StringFixed(2),
		TotalTax:        b.TotalTax.StringFixed(2),
		Net:             b.Net.StringFixed(2),
		Status:          string(b.Status),

		Submitted: toStampDTO(b.SubmittedStamp),
		Audited:   toStampDTO(b.AuditedStamp),
		Verified:  toStampDTO(b.VerifiedStamp),
		Approved:  toStampDTO(b.ApprovedStamp),
		Rejected:  toStampDTO(b.RejectedStamp),
		Paid:      toStampDTO(b.PaidStamp),

		RejectionReason:  b.RejectionReason,
		LiabilityVoucher: string(b.LiabilityVoucher),
		PaymentVoucher:   string(b.PaymentVoucher),
		CreatedAt:        b.CreatedAt.Format(time.RFC3339),
	}
	for _, l := range b.Lines {
		dto.Lines = append(dto.Lines, BillLineDTO{
			HeadID:      string(l.Head),
			Amount:      l.Amount.StringFixed(2),
			Description: l.Description,
		})
	}
	return dto
}

// PaymentDTO represents a cheque payment.
type PaymentDTO struct {
	ID           string `json:"id"`
	BillID       string `json:"bill_id"`
	ChequeNumber string `json:"cheque_number"`
	ChequeDate   string `json:"cheque_date"`
	Amount       string `json:"amount"`
	VoucherID    string `json:"voucher_id"`
	PostedBy     string `json:"posted_by"`
	PostedAt     string `json:"posted_at"`
}

func toPaymentDTO(p *payment.Payment) PaymentDTO {
	return PaymentDTO{
		ID:           p.ID,
		BillID:       string(p.Bill),
		ChequeNumber: p.ChequeNumber,
		ChequeDate:   p.ChequeDate.Format(dateLayout),
		Amount:       p.Amount.StringFixed(2),
		VoucherID:    string(p.Voucher),
		PostedBy:     p.PostedBy,
		PostedAt:     p.PostedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// VOUCHERS
// =============================================================================

// VoucherEntryDTO is one journal line.
type VoucherEntryDTO struct {
	HeadID      string `json:"head_id"`
	Description string `json:"description,omitempty"`
	Debit       string `json:"debit"`
	Credit      string `json:"credit"`
}

// VoucherDTO represents a posted voucher.
type VoucherDTO struct {
	ID          string            `json:"id"`
	No          string            `json:"no"`
	FiscalYear  string            `json:"fiscal_year"`
	Date        string            `json:"date"`
	Type        string            `json:"type"`
	Description string            `json:"description,omitempty"`
	Reference   string            `json:"reference,omitempty"`
	Entries     []VoucherEntryDTO `json:"entries"`
	Posted      bool              `json:"posted"`
	PostedBy    string            `json:"posted_by,omitempty"`

	Reversed          bool   `json:"reversed,omitempty"`
	ReversalReason    string `json:"reversal_reason,omitempty"`
	ReversesVoucher   string `json:"reverses_voucher,omitempty"`
	ReversedByVoucher string `json:"reversed_by_voucher,omitempty"`
}

func toVoucherDTO(v *voucher.Voucher) VoucherDTO {
	dto := VoucherDTO{
		ID:          string(v.ID),
		No:          v.No,
		FiscalYear:  v.FiscalYear,
		Date:        v.Date.Format(dateLayout),
		Type:        string(v.Type),
		Description: v.Description,
		Reference:   v.Reference,
		Posted:      v.Posted,
		PostedBy:    v.PostedBy,

		Reversed:          v.Reversed,
		ReversalReason:    v.ReversalReason,
		ReversesVoucher:   string(v.ReversesVoucher),
		ReversedByVoucher: string(v.ReversedByVoucher),
	}
	for _, e := range v.Entries {
		dto.Entries = append(dto.Entries, VoucherEntryDTO{
			HeadID:      string(e.Head),
			Description: e.Description,
			Debit:       e.Debit.StringFixed(2),
			Credit:      e.Credit.StringFixed(2),
		})
	}
	return dto
}

// ReverseVoucherRequest carries the mandatory reversal reason.
type ReverseVoucherRequest struct {
	FiscalYear string `json:"fiscal_year" validate:"required"`
	Reason     string `json:"reason" validate:"required"`
}

// =============================================================================
// TAX
// =============================================================================

// TaxPreviewRequest computes a withholding breakdown without touching a bill.
type TaxPreviewRequest struct {
	Gross           string `json:"gross" validate:"required"`
	TransactionType string `json:"transaction_type" validate:"required,oneof=GOODS SERVICES WORKS"`
	FilerStatus     string `json:"filer_status" validate:"required,oneof=ACTIVE_FILER NON_FILER EXEMPT"`
	EntityType      string `json:"entity_type" validate:"required,oneof=COMPANY INDIVIDUAL"`
	InvoiceSalesTax string `json:"invoice_sales_tax,omitempty"`
}

// TaxBreakdownDTO is the computed withholding.
type TaxBreakdownDTO struct {
	IncomeTax string `json:"income_tax"`
	SalesTax  string `json:"sales_tax"`
	StampDuty string `json:"stamp_duty"`
	TotalTax  string `json:"total_tax"`
	NetAmount string `json:"net_amount"`
}

func toTaxBreakdownDTO(bd tax.Breakdown) TaxBreakdownDTO {
	return TaxBreakdownDTO{
		IncomeTax: bd.IncomeTax.StringFixed(2),
		SalesTax:  bd.SalesTax.StringFixed(2),
		StampDuty: bd.StampDuty.StringFixed(2),
		TotalTax:  bd.TotalTax.StringFixed(2),
		NetAmount: bd.NetAmount.StringFixed(2),
	}
}

// RateConfigRequest creates a rate configuration. All rates are fractions
// between 0 and 1 as decimal strings.
type RateConfigRequest struct {
	ID            string `json:"id" validate:"required"`
	TaxYear       string `json:"tax_year" validate:"required"`
	EffectiveFrom string `json:"effective_from" validate:"required"`

	GoodsFilerCompany       string `json:"goods_filer_company" validate:"required"`
	GoodsFilerIndividual    string `json:"goods_filer_individual" validate:"required"`
	GoodsNonFilerCompany    string `json:"goods_non_filer_company" validate:"required"`
	GoodsNonFilerIndividual string `json:"goods_non_filer_individual" validate:"required"`

	ServicesFiler    string `json:"services_filer" validate:"required"`
	ServicesNonFiler string `json:"services_non_filer" validate:"required"`

	WorksFilerCompany       string `json:"works_filer_company" validate:"required"`
	WorksFilerIndividual    string `json:"works_filer_individual" validate:"required"`
	WorksNonFilerCompany    string `json:"works_non_filer_company" validate:"required"`
	WorksNonFilerIndividual string `json:"works_non_filer_individual" validate:"required"`

	SalesTaxGoodsFiler       string `json:"sales_tax_goods_filer" validate:"required"`
	SalesTaxGoodsNonFiler    string `json:"sales_tax_goods_non_filer" validate:"required"`
	SalesTaxServicesFiler    string `json:"sales_tax_services_filer" validate:"required"`
	SalesTaxServicesNonFiler string `json:"sales_tax_services_non_filer" validate:"required"`
	SalesTaxWorks            string `json:"sales_tax_works" validate:"required"`

	StampDutyRate        string `json:"stamp_duty_rate" validate:"required"`
	StandardSalesTaxRate string `json:"standard_sales_tax_rate" validate:"required"`
}

// RateConfigDTO summarizes a rate configuration.
type RateConfigDTO struct {
	ID            string `json:"id"`
	TaxYear       string `json:"tax_year"`
	EffectiveFrom string `json:"effective_from"`
	Active        bool   `json:"active"`
}

func toRateConfigDTO(c *tax.RateConfig) RateConfigDTO {
	return RateConfigDTO{
		ID:            c.ID,
		TaxYear:       c.TaxYear,
		EffectiveFrom: c.EffectiveFrom.Format(dateLayout),
		Active:        c.Active,
	}
}

// =============================================================================
// ESTABLISHMENT
// =============================================================================

// CreateEstablishmentRequest creates a sanctioned-post entry.
type CreateEstablishmentRequest struct {
	FiscalYear      string `json:"fiscal_year" validate:"required"`
	Designation     string `json:"designation" validate:"required"`
	BPSGrade        int    `json:"bps_grade" validate:"min=0,max=22"`
	PostType        string `json:"post_type" validate:"required,oneof=LOCAL PUGF"`
	SanctionedPosts int    `json:"sanctioned_posts" validate:"required,min=1"`
	AnnualCost      string `json:"annual_cost"`
}

// EstablishmentTransitionRequest moves an entry through its workflow.
type EstablishmentTransitionRequest struct {
	Target string `json:"target" validate:"required,oneof=DRAFT VERIFIED RECOMMENDED APPROVED REJECTED"`
	Reason string `json:"reason"`
}

// EstablishmentEntryDTO represents a sanctioned-post entry.
type EstablishmentEntryDTO struct {
	ID              string `json:"id"`
	FiscalYear      string `json:"fiscal_year"`
	Designation     string `json:"designation"`
	BPSGrade        int    `json:"bps_grade"`
	PostType        string `json:"post_type"`
	SanctionedPosts int    `json:"sanctioned_posts"`
	FilledPosts     int    `json:"filled_posts"`
	VacantPosts     int    `json:"vacant_posts"`
	AnnualCost      string `json:"annual_cost"`
	TotalAnnualCost string `json:"total_annual_cost"`
	Status          string `json:"status"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

func toEstablishmentEntryDTO(e *establishment.Entry) EstablishmentEntryDTO {
	return EstablishmentEntryDTO{
		ID:              string(e.ID),
		FiscalYear:      e.FiscalYear,
		Designation:     e.Designation,
		BPSGrade:        e.BPSGrade,
		PostType:        string(e.PostType),
		SanctionedPosts: e.SanctionedPosts,
		FilledPosts:     e.FilledPosts,
		VacantPosts:     e.VacantPosts(),
		AnnualCost:      e.AnnualCost.StringFixed(2),
		TotalAnnualCost: e.TotalAnnualCost().StringFixed(2),
		Status:          string(e.Status),
		RejectionReason: e.RejectionReason,
	}
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

// parseMoney parses a decimal amount string, rejecting malformed or
// negative input at the API boundary.
func parseMoney(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fiscal.Invalid(field, "malformed amount "+s)
	}
	if d.IsNegative() {
		return decimal.Zero, fiscal.Invalid(field, "amount cannot be negative")
	}
	return d, nil
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fiscal.Invalid(field, "malformed date "+s+" (use YYYY-MM-DD)")
	}
	return t, nil
}
