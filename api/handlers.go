/*
handlers.go - HTTP API handlers for the fiscal engine

PURPOSE:
  Exposes the budget, bill, voucher, tax and establishment workflows via
  REST API. Handles HTTP request/response, JSON serialization and input
  validation, and delegates to domain logic.

IDENTITY:
  The engine trusts the host application for authentication. Every mutating
  request carries the acting user in headers:

    X-Org-Id:     organization (tenant) identifier
    X-Actor-Id:   user identifier, recorded on stamps and vouchers
    X-Actor-Role: role code (DA, AC, TOF, TMO, LCB, ADM)

  Role-gate enforcement happens in the domain packages; the API only
  extracts and forwards the actor.

ERROR HANDLING:
  Domain errors map onto HTTP statuses:
  - 400: validation errors, malformed input
  - 403: role gate failures
  - 404: record not found
  - 409: invalid transitions, already released/locked, inactive year
  - 422: hard budget constraint failures
  - 500: everything else

  Voucher imbalance and missing system-account configuration indicate
  setup or engine bugs; they are additionally logged as operator alerts.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/cfms/fiscal-engine/bill"
	"github.com/cfms/fiscal-engine/budget"
	"github.com/cfms/fiscal-engine/coa"
	"github.com/cfms/fiscal-engine/establishment"
	"github.com/cfms/fiscal-engine/fiscal"
	"github.com/cfms/fiscal-engine/store/sqlite"
	"github.com/cfms/fiscal-engine/tax"
	"github.com/cfms/fiscal-engine/voucher"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         *sqlite.Store
	Bills         *bill.Service
	Budget        *budget.Ledger
	Establishment *establishment.Service

	// ReversalCutoffDays limits voucher reversals; zero disables the window.
	ReversalCutoffDays int

	validate *validator.Validate
	log      *logrus.Logger
}

// NewHandler creates a handler wired to the given store.
func NewHandler(store *sqlite.Store, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Store:         store,
		Bills:         bill.NewService(store, store, store),
		Budget:        budget.NewLedger(store),
		Establishment: establishment.NewService(store),
		validate:      validator.New(),
		log:           log,
	}
}

// =============================================================================
// IDENTITY
// =============================================================================

func actorFrom(r *http.Request) fiscal.Actor {
	return fiscal.Actor{
		ID:   r.Header.Get("X-Actor-Id"),
		Role: fiscal.Role(r.Header.Get("X-Actor-Role")),
		Org:  fiscal.OrgID(r.Header.Get("X-Org-Id")),
	}
}

// requireActor extracts the acting user, rejecting requests without one.
func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (fiscal.Actor, bool) {
	actor := actorFrom(r)
	if actor.Org == "" || actor.ID == "" || actor.Role == "" {
		writeError(w, http.StatusBadRequest,
			"X-Org-Id, X-Actor-Id and X-Actor-Role headers are required", nil)
		return fiscal.Actor{}, false
	}
	return actor, true
}

// requireOrg extracts the organization for read-only requests.
func (h *Handler) requireOrg(w http.ResponseWriter, r *http.Request) (fiscal.OrgID, bool) {
	org := fiscal.OrgID(r.Header.Get("X-Org-Id"))
	if org == "" {
		writeError(w, http.StatusBadRequest, "X-Org-Id header is required", nil)
		return "", false
	}
	return org, true
}

// decodeAndValidate decodes the JSON body into req and runs validation.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// =============================================================================
// FISCAL YEARS
// =============================================================================

// CreateFiscalYear creates or updates a fiscal year.
// POST /api/fiscal-years
func (h *Handler) CreateFiscalYear(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req CreateFiscalYearRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	fy := &fiscal.FiscalYear{Name: req.Name, StartDate: start, EndDate: end, Active: req.Active}
	if err := h.Store.SaveFiscalYear(r.Context(), actor.Org, fy); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFiscalYearDTO(fy))
}

// GetFiscalYear returns one fiscal year.
// GET /api/fiscal-years/{name}
func (h *Handler) GetFiscalYear(w http.ResponseWriter, r *http.Request) {
	org, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	fy, err := h.Store.GetFiscalYear(r.Context(), org, chi.URLParam(r, "name"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFiscalYearDTO(fy))
}

// ReleaseQuarter releases funds for one quarter.
// POST /api/fiscal-years/{name}/release/{quarter}
func (h *Handler) ReleaseQuarter(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	summary, err := h.Budget.ReleaseQuarter(r.Context(), actor.Org,
		chi.URLParam(r, "name"), fiscal.Quarter(chi.URLParam(r, "quarter")), actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReleaseSummaryDTO{
		FiscalYear:    summary.FiscalYear,
		Quarter:       string(summary.Quarter),
		TotalReleased: summary.TotalReleased.StringFixed(2),
		HeadsReleased: summary.HeadsReleased,
		ProcessedBy:   summary.ProcessedBy,
		ProcessedAt:   summary.ProcessedAt.Format(time.RFC3339),
	})
}

// FinalizeBudget runs the finalization checks, locks the year and generates
// the Schedule of Authorized Expenditure.
// POST /api/fiscal-years/{name}/finalize
func (h *Handler) FinalizeBudget(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	rec, err := h.Budget.Finalize(r.Context(), actor.Org, chi.URLParam(r, "name"), actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSAERecordDTO(rec))
}

// GetSAERecord returns the finalization summary of a locked year.
// GET /api/fiscal-years/{name}/sae
func (h *Handler) GetSAERecord(w http.ResponseWriter, r *http.Request) {
	org, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	rec, err := h.Store.GetSAERecord(r.Context(), org, chi.URLParam(r, "name"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSAERecordDTO(rec))
}

// =============================================================================
// CHART OF ACCOUNTS
// =============================================================================

// CreateHead creates a budget head.
// POST /api/heads
func (h *Handler) CreateHead(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req CreateHeadRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	head := &coa.Head{
		ID:          fiscal.HeadID(req.ID),
		Org:         actor.Org,
		Department:  req.Department,
		Fund:        req.Fund,
		Function:    req.Function,
		MajorCode:   req.MajorCode,
		MinorCode:   req.MinorCode,
		NAMCode:     req.NAMCode,
		SubCode:     req.SubCode,
		Parent:      fiscal.HeadID(req.Parent),
		Name:        req.Name,
		Type:        coa.AccountType(req.Type),
		ObjectClass: req.ObjectClass,
		System:      coa.SystemCode(req.System),
		Active:      true,
	}
	if err := h.Store.SaveHead(r.Context(), head); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHeadDTO(head))
}

// GetHead returns one budget head.
// GET /api/heads/{id}
func (h *Handler) GetHead(w http.ResponseWriter, r *http.Request) {
	org, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	head, err := h.Store.GetHead(r.Context(), org, fiscal.HeadID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHeadDTO(head))
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

// EnterAllocation records a budget allocation for a head.
// POST /api/allocations
func (h *Handler) EnterAllocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req EnterAllocationRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	original, err := parseMoney("original", req.Original)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	a, err := h.Budget.EnterAllocation(r.Context(), actor.Org, req.FiscalYear,
		fiscal.HeadID(req.HeadID), original)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTO(a))
}

// ListAllocations returns the budget rows for a fiscal year.
// GET /api/allocations?fiscal_year=2025-26
func (h *Handler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	org, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	fy := r.URL.Query().Get("fiscal_year")
	if fy == "" {
		writeError(w, http.StatusBadRequest, "fiscal_year query parameter is required", nil)
		return
	}
	allocations, err := h.Store.ListAllocations(r.Context(), org, fy)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]AllocationDTO, len(allocations))
	for i, a := range allocations {
		dtos[i] = toAllocationDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAvailable returns the spendable balance (released - spent) for a head.
// Non-locking read, display purposes only; approval re-checks under the
// transaction.
// GET /api/allocations/{head}/available?fiscal_year=2025-26
func (h *Handler) GetAvailable(w http.ResponseWriter, r *http.Request) {
	org, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	fy := r.URL.Query().Get("fiscal_year")
	if fy == "" {
		writeError(w, http.StatusBadRequest, "fiscal_year query parameter is required", nil)
		return
	}
	head := fiscal.HeadID(chi.URLParam(r, "head"))
	available, err := h.Budget.Available(r.Context(), org, fy, head)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"head":        string(head),
		"fiscal_year": fy,
		"available":   available.StringFixed(2),
	})
}

// =============================================================================
// PAYEES
// =============================================================================

// CreatePayee creates a payee master record.
// POST /api/payees
func (h *Handler) CreatePayee(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req CreatePayeeRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	p := &bill.Payee{
		ID:          fiscal.PayeeID(req.ID),
		Org:         actor.Org,
		Name:        req.Name,
		CNICNTN:     req.CNICNTN,
		TaxStatus:   tax.FilerStatus(req.TaxStatus),
		EntityType:  tax.EntityType(req.EntityType),
		BankName:    req.BankName,
		BankAccount: req.BankAccount,
		Active:      true,
	}
	if err := h.Store.SavePayee(r.Context(), p); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPayeeDTO(p))
}

// ListPayees returns all payees for the organization.
// GET /api/payees
func (h *Handler) ListPayees(w http.ResponseWriter, r *http.Request) {
	org, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	payees, err := h.Store.ListPayees(r.Context(), org)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]PayeeDTO, len(payees))
	for i, p := range payees {
		dtos[i] = toPayeeDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BILLS
// =============================================================================

// CreateBill creates a draft bill with its lines.
// POST /api/bills
func (h *Handler) CreateBill(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req CreateBillRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	gross, err := parseMoney("gross", req.Gross)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	b, err := bill.NewBill(actor.Org, req.FiscalYear, fiscal.PayeeID(req.PayeeID),
		tax.TransactionType(req.TransactionType), gross, actor.ID, time.Now())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	b.BillNumber = req.BillNumber
	b.Description = req.Description
	if req.BillDate != "" {
		d, err := parseDate("bill_date", req.BillDate)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		b.BillDate = d
	}
	if req.InvoiceSalesTax != "" {
		st, err := parseMoney("invoice_sales_tax", req.InvoiceSalesTax)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		b.InvoiceSalesTax = &st
	}
	for _, l := range req.Lines {
		amount, err := parseMoney("lines.amount", l.Amount)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		if err := b.AddLine(fiscal.HeadID(l.HeadID), amount, l.Description); err != nil {
			h.writeDomainError(w, err)
			return
		}
	}

	created, err := h.Bills.Create(r.Context(), b)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBillDTO(created))
}

// GetBill returns a bill with its lines and stamps.
// GET /api/bills/{id}
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	org, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	b, err := h.Store.GetBill(r.Context(), org, fiscal.BillID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(b))
}

// ListBills returns bill headers for a fiscal year.
// GET /api/bills?fiscal_year=2025-26
func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	org, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	fy := r.URL.Query().Get("fiscal_year")
	if fy == "" {
		writeError(w, http.StatusBadRequest, "fiscal_year query parameter is required", nil)
		return
	}
	bills, err := h.Store.ListBills(r.Context(), org, fy)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]BillDTO, len(bills))
	for i, b := range bills {
		dtos[i] = toBillDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// billTransition handles the single-step workflow endpoints.
func (h *Handler) billTransition(w http.ResponseWriter, r *http.Request,
	op func(actor fiscal.Actor, id fiscal.BillID) (*bill.Bill, error)) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	b, err := op(actor, fiscal.BillID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(b))
}

// SubmitBill moves Draft -> Submitted.
// POST /api/bills/{id}/submit
func (h *Handler) SubmitBill(w http.ResponseWriter, r *http.Request) {
	h.billTransition(w, r, func(actor fiscal.Actor, id fiscal.BillID) (*bill.Bill, error) {
		return h.Bills.Submit(r.Context(), actor.Org, id, actor)
	})
}

// PreAuditBill moves Submitted -> Audited, computing withholding taxes.
// POST /api/bills/{id}/pre-audit
func (h *Handler) PreAuditBill(w http.ResponseWriter, r *http.Request) {
	h.billTransition(w, r, func(actor fiscal.Actor, id fiscal.BillID) (*bill.Bill, error) {
		return h.Bills.PreAudit(r.Context(), actor.Org, id, actor)
	})
}

// VerifyBill moves Audited -> Verified.
// POST /api/bills/{id}/verify
func (h *Handler) VerifyBill(w http.ResponseWriter, r *http.Request) {
	h.billTransition(w, r, func(actor fiscal.Actor, id fiscal.BillID) (*bill.Bill, error) {
		return h.Bills.Verify(r.Context(), actor.Org, id, actor)
	})
}

// ApproveBill moves Verified -> Approved: budget debits plus the liability
// voucher in one atomic unit.
// POST /api/bills/{id}/approve
func (h *Handler) ApproveBill(w http.ResponseWriter, r *http.Request) {
	h.billTransition(w, r, func(actor fiscal.Actor, id fiscal.BillID) (*bill.Bill, error) {
		return h.Bills.Approve(r.Context(), actor.Org, id, actor)
	})
}

// RejectBill moves Submitted -> Rejected with a mandatory reason.
// POST /api/bills/{id}/reject
func (h *Handler) RejectBill(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	h.billTransition(w, r, func(actor fiscal.Actor, id fiscal.BillID) (*bill.Bill, error) {
		return h.Bills.Reject(r.Context(), actor.Org, id, actor, req.Reason)
	})
}

// PayBill moves Approved -> Paid, recording the cheque and posting the
// payment voucher.
// POST /api/bills/{id}/pay
func (h *Handler) PayBill(w http.ResponseWriter, r *http.Request) {
	var req PayBillRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	chequeDate, err := parseDate("cheque_date", req.ChequeDate)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	amount, err := parseMoney("amount", req.Amount)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.billTransition(w, r, func(actor fiscal.Actor, id fiscal.BillID) (*bill.Bill, error) {
		return h.Bills.Pay(r.Context(), actor.Org, id, actor, req.ChequeNumber, chequeDate, amount)
	})
}

// ListBillPayments returns the payments recorded against a bill.
// GET /api/bills/{id}/payments
func (h *Handler) ListBillPayments(w http.ResponseWriter, r *http.Request) {
	org, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	payments, err := h.Store.PaymentsForBill(r.Context(), org, fiscal.BillID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// VOUCHERS
// =============================================================================

// GetVoucher returns a voucher with its entries.
// GET /api/vouchers/{id}
func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	org, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	v, err := h.Store.GetVoucher(r.Context(), org, fiscal.VoucherID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVoucherDTO(v))
}

// ReverseVoucher creates and posts an offsetting reversal voucher.
// POST /api/vouchers/{id}/reverse
func (h *Handler) ReverseVoucher(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req ReverseVoucherRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	fy, err := h.Store.GetFiscalYear(r.Context(), actor.Org, req.FiscalYear)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	// Both writes (the REV voucher and the reversed flag on the original)
	// must land together, same as the approval path.
	var rev *voucher.Voucher
	err = h.Store.WithApprovalTx(r.Context(), func(tx bill.ApprovalTx) error {
		engine := voucher.NewEngine(tx.Vouchers(), coa.NewResolver(tx.Heads()))
		engine.ReversalCutoffDays = h.ReversalCutoffDays
		var err error
		rev, err = engine.Reverse(r.Context(), actor.Org,
			fiscal.VoucherID(chi.URLParam(r, "id")), fy, actor, req.Reason)
		return err
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVoucherDTO(rev))
}

// =============================================================================
// TAX
// =============================================================================

// PreviewTax computes a withholding breakdown with the active rates.
// POST /api/tax/preview
func (h *Handler) PreviewTax(w http.ResponseWriter, r *http.Request) {
	var req TaxPreviewRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	gross, err := parseMoney("gross", req.Gross)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	input := tax.Input{
		Gross:           gross,
		TransactionType: tax.TransactionType(req.TransactionType),
		FilerStatus:     tax.FilerStatus(req.FilerStatus),
		EntityType:      tax.EntityType(req.EntityType),
	}
	if req.InvoiceSalesTax != "" {
		st, err := parseMoney("invoice_sales_tax", req.InvoiceSalesTax)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		input.InvoiceSalesTax = &st
	}

	calc, err := tax.LoadCalculator(r.Context(), h.Store)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	bd, err := calc.Calculate(input)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaxBreakdownDTO(bd))
}

// CreateRateConfig records a new rate configuration (inactive).
// POST /api/tax/configs
func (h *Handler) CreateRateConfig(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	var req RateConfigRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	effectiveFrom, err := parseDate("effective_from", req.EffectiveFrom)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	cfg := &tax.RateConfig{ID: req.ID, TaxYear: req.TaxYear, EffectiveFrom: effectiveFrom}
	assign := func(field, value string, dst *decimal.Decimal) bool {
		d, err := parseMoney(field, value)
		if err != nil {
			h.writeDomainError(w, err)
			return false
		}
		*dst = d
		return true
	}
	ok := assign("goods_filer_company", req.GoodsFilerCompany, &cfg.GoodsFilerCompany) &&
		assign("goods_filer_individual", req.GoodsFilerIndividual, &cfg.GoodsFilerIndividual) &&
		assign("goods_non_filer_company", req.GoodsNonFilerCompany, &cfg.GoodsNonFilerCompany) &&
		assign("goods_non_filer_individual", req.GoodsNonFilerIndividual, &cfg.GoodsNonFilerIndividual) &&
		assign("services_filer", req.ServicesFiler, &cfg.ServicesFiler) &&
		assign("services_non_filer", req.ServicesNonFiler, &cfg.ServicesNonFiler) &&
		assign("works_filer_company", req.WorksFilerCompany, &cfg.WorksFilerCompany) &&
		assign("works_filer_individual", req.WorksFilerIndividual, &cfg.WorksFilerIndividual) &&
		assign("works_non_filer_company", req.WorksNonFilerCompany, &cfg.WorksNonFilerCompany) &&
		assign("works_non_filer_individual", req.WorksNonFilerIndividual, &cfg.WorksNonFilerIndividual) &&
		assign("sales_tax_goods_filer", req.SalesTaxGoodsFiler, &cfg.SalesTaxGoodsFiler) &&
		assign("sales_tax_goods_non_filer", req.SalesTaxGoodsNonFiler, &cfg.SalesTaxGoodsNonFiler) &&
		assign("sales_tax_services_filer", req.SalesTaxServicesFiler, &cfg.SalesTaxServicesFiler) &&
		assign("sales_tax_services_non_filer", req.SalesTaxServicesNonFiler, &cfg.SalesTaxServicesNonFiler) &&
		assign("sales_tax_works", req.SalesTaxWorks, &cfg.SalesTaxWorks) &&
		assign("stamp_duty_rate", req.StampDutyRate, &cfg.StampDutyRate) &&
		assign("standard_sales_tax_rate", req.StandardSalesTaxRate, &cfg.StandardSalesTaxRate)
	if !ok {
		return
	}

	if err := h.Store.SaveConfig(r.Context(), cfg); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRateConfigDTO(cfg))
}

// ActivateRateConfig activates one configuration, deactivating all others.
// POST /api/tax/configs/{id}/activate
func (h *Handler) ActivateRateConfig(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	if err := h.Store.ActivateConfig(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRateConfigs returns all rate configurations, newest first.
// GET /api/tax/configs
func (h *Handler) ListRateConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.Store.ListConfigs(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]RateConfigDTO, len(configs))
	for i, c := range configs {
		dtos[i] = toRateConfigDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ESTABLISHMENT
// =============================================================================

// CreateEstablishmentEntry records a draft sanctioned-post entry.
// POST /api/establishment
func (h *Handler) CreateEstablishmentEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req CreateEstablishmentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	annualCost := decimal.Zero
	if req.AnnualCost != "" {
		c, err := parseMoney("annual_cost", req.AnnualCost)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		annualCost = c
	}
	entry, err := establishment.NewEntry(actor.Org, req.FiscalYear, req.Designation,
		req.BPSGrade, establishment.PostType(req.PostType), req.SanctionedPosts,
		annualCost, time.Now())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	created, err := h.Establishment.Create(r.Context(), entry)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEstablishmentEntryDTO(created))
}

// ListEstablishmentEntries returns entries for a fiscal year.
// GET /api/establishment?fiscal_year=2025-26
func (h *Handler) ListEstablishmentEntries(w http.ResponseWriter, r *http.Request) {
	org, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	fy := r.URL.Query().Get("fiscal_year")
	if fy == "" {
		writeError(w, http.StatusBadRequest, "fiscal_year query parameter is required", nil)
		return
	}
	entries, err := h.Store.ListEntries(r.Context(), org, fy)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]EstablishmentEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEstablishmentEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TransitionEstablishmentEntry moves an entry through its workflow.
// POST /api/establishment/{id}/transition
func (h *Handler) TransitionEstablishmentEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req EstablishmentTransitionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	entry, err := h.Establishment.Transition(r.Context(), actor.Org,
		fiscal.EntryID(chi.URLParam(r, "id")), establishment.Status(req.Target), actor, req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEstablishmentEntryDTO(entry))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// writeDomainError maps domain failures onto HTTP statuses and logs the
// failures that indicate setup or engine bugs.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	if fiscal.IsOperatorAlert(err) {
		h.log.WithError(err).Error("operator alert: accounting integrity or configuration failure")
		writeErrorCode(w, http.StatusInternalServerError, "Internal integrity failure", "integrity_failure", err)
		return
	}

	switch {
	case errors.Is(err, fiscal.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, "Record not found", "not_found", err)
	case errors.Is(err, fiscal.ErrUnauthorizedRole):
		writeErrorCode(w, http.StatusForbidden, "Role not permitted", "role_not_permitted", err)
	case errors.Is(err, fiscal.ErrBudgetExceeded):
		writeErrorCode(w, http.StatusUnprocessableEntity, "Insufficient released budget", "budget_exceeded", err)
	case errors.Is(err, fiscal.ErrInvalidTransition):
		writeErrorCode(w, http.StatusConflict, "Invalid workflow transition", "invalid_transition", err)
	case errors.Is(err, fiscal.ErrAlreadyReleased):
		writeErrorCode(w, http.StatusConflict, "Quarter already released", "already_released", err)
	case errors.Is(err, fiscal.ErrAlreadyLocked):
		writeErrorCode(w, http.StatusConflict, "Fiscal year already locked", "already_locked", err)
	case errors.Is(err, fiscal.ErrFiscalYearInactive):
		writeErrorCode(w, http.StatusConflict, "Fiscal year not active", "fiscal_year_inactive", err)
	case errors.Is(err, fiscal.ErrValidation):
		writeErrorCode(w, http.StatusBadRequest, "Validation failed", "validation_failed", err)
	default:
		h.log.WithError(err).Error("unhandled internal error")
		writeErrorCode(w, http.StatusInternalServerError, "Internal error", "", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	writeErrorCode(w, status, message, "", err)
}

func writeErrorCode(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
