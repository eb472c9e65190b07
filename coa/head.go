/*
Package coa models the chart of accounts.

PURPOSE:
  Budget heads are the leaf accounts of a 5-level chart
  (Major -> Minor -> NAM -> optional Sub). Every bill line, allocation and
  journal entry references a head. Control accounts (Accounts Payable, the
  tax payable heads, bank) are ordinary heads tagged with a well-known
  system code and resolved through the Resolver.

INVARIANTS:
  1. Exactly one of {NAM code, Sub code} is set on a head, never both.
  2. A NAM head that has sub-heads disallows direct posting to itself.
  3. Each system code resolves to exactly one active head; zero or multiple
     is a configuration error, surfaced fast.

SALARY CLASSIFICATION:
  Heads whose object class starts with "A01" are salary heads. Quarterly
  release treats them differently: 100% released in Q1 instead of 25% per
  quarter.

SEE ALSO:
  - coa/resolver.go: system-code resolution
  - budget: allocations keyed by head
*/
package coa

import (
	"strings"

	"github.com/cfms/fiscal-engine/fiscal"
)

// =============================================================================
// ACCOUNT CLASSIFICATION
// =============================================================================

type AccountType string

const (
	AccountRevenue     AccountType = "REVENUE"
	AccountExpenditure AccountType = "EXPENDITURE"
	AccountAsset       AccountType = "ASSET"
	AccountLiability   AccountType = "LIABILITY"
)

// SystemCode tags heads used by automated postings.
type SystemCode string

const (
	SystemAccountsPayable SystemCode = "AP"
	SystemIncomeTax       SystemCode = "TAX_IT"
	SystemSalesTax        SystemCode = "TAX_ST"
	SystemStampDuty       SystemCode = "TAX_SD"
	SystemBank            SystemCode = "BANK"
)

// salaryObjectPrefix marks salary heads in the PIFRA object classification.
const salaryObjectPrefix = "A01"

// =============================================================================
// BUDGET HEAD
// =============================================================================

// Head is a leaf account in the chart of accounts.
// Identity is (department, fund, function, NAM-or-Sub code).
type Head struct {
	ID         fiscal.HeadID
	Org        fiscal.OrgID
	Department string
	Fund       string
	Function   string

	MajorCode string
	MinorCode string
	NAMCode   string        // set on NAM-level heads
	SubCode   string        // set on sub-heads; mutually exclusive with NAMCode
	Parent    fiscal.HeadID // parent NAM head, required on sub-heads

	Name        string
	Type        AccountType
	ObjectClass string     // PIFRA object code, e.g. "A01101"
	System      SystemCode // empty for ordinary heads
	Active      bool

	// HasSubHeads is maintained by the store: true when sub-heads exist
	// under this NAM head, which forbids direct posting to it.
	HasSubHeads bool
}

// Validate checks the structural invariants of the head itself.
func (h *Head) Validate() error {
	if h.NAMCode == "" && h.SubCode == "" {
		return fiscal.Invalid("head", "one of NAM code or sub code must be set")
	}
	if h.NAMCode != "" && h.SubCode != "" {
		return fiscal.Invalid("head", "NAM code and sub code are mutually exclusive")
	}
	if h.SubCode != "" && h.Parent == "" {
		return fiscal.Invalid("head", "sub-heads must reference their parent NAM head")
	}
	if h.Name == "" {
		return fiscal.Invalid("name", "head name is required")
	}
	return nil
}

// Code returns the leaf code of the head (sub code when present).
func (h *Head) Code() string {
	if h.SubCode != "" {
		return h.SubCode
	}
	return h.NAMCode
}

// FullCode renders the complete classification path.
func (h *Head) FullCode() string {
	parts := []string{h.MajorCode, h.MinorCode, h.Code()}
	return strings.Join(parts, "-")
}

// IsSalary reports whether this head is released in full in Q1.
func (h *Head) IsSalary() bool {
	return strings.HasPrefix(h.ObjectClass, salaryObjectPrefix)
}

// IsSubHead reports whether this is a sub-head under a NAM head.
func (h *Head) IsSubHead() bool { return h.SubCode != "" }

// PostingAllowed reports whether journal entries and bill lines may
// reference this head directly. A NAM head with sub-heads only aggregates.
func (h *Head) PostingAllowed() bool {
	return h.Active && !(h.NAMCode != "" && h.HasSubHeads)
}
