/*
workflow.go - Bill state machine and role gates

PURPOSE:
  The state table and the permission table are each defined exactly once,
  here, and tested independently. Every transition is authorized through
  CanTransition(from, to, role); no role logic lives in the service
  operations.

THE MACHINE:
  Draft --submit--> Submitted --pre_audit--> Audited --verify--> Verified
        --approve--> Approved --pay--> Paid
  Submitted --reject--> Rejected (terminal)

ROLE GATES:
  submit     maker (DA)
  pre_audit  finance officer (TOF)
  verify     verifying officer (AC)
  approve    approving authority (TMO)
  reject     finance officer or approving authority
  pay        finance officer (TOF) - deliberately distinct from approve
  ADM passes every gate.
*/
package bill

import "github.com/cfms/fiscal-engine/fiscal"

// transitions is the single source of truth for the state machine.
var transitions = map[Status][]Status{
	Draft:     {Submitted},
	Submitted: {Audited, Rejected},
	Audited:   {Verified},
	Verified:  {Approved},
	Approved:  {Paid},
	Paid:      {},
	Rejected:  {},
}

type gate struct {
	from, to Status
}

// roleGates is the single source of truth for authorization.
var roleGates = map[gate][]fiscal.Role{
	{Draft, Submitted}:    {fiscal.RoleMaker},
	{Submitted, Audited}:  {fiscal.RoleTOFinance},
	{Submitted, Rejected}: {fiscal.RoleTOFinance, fiscal.RoleTMO},
	{Audited, Verified}:   {fiscal.RoleAccountant},
	{Verified, Approved}:  {fiscal.RoleTMO},
	{Approved, Paid}:      {fiscal.RoleTOFinance},
}

// ValidTransition reports whether the state table allows from -> to.
func ValidTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransition reports whether the role may perform from -> to.
// False when the transition itself is invalid.
func CanTransition(from, to Status, role fiscal.Role) bool {
	if !ValidTransition(from, to) {
		return false
	}
	allowed, ok := roleGates[gate{from, to}]
	if !ok {
		return false
	}
	return fiscal.Actor{Role: role}.Is(allowed...)
}

// authorize validates the state table and the role gate in order, returning
// the error that identifies which check failed. The entry is untouched.
func authorize(b *Bill, to Status, actor fiscal.Actor) error {
	if !ValidTransition(b.Status, to) {
		return &fiscal.TransitionError{Entity: "bill", Current: string(b.Status), Attempted: string(to)}
	}
	allowed := roleGates[gate{b.Status, to}]
	if !actor.Is(allowed...) {
		return &fiscal.RoleError{Role: actor.Role, Attempted: string(b.Status) + "->" + string(to), Allowed: allowed}
	}
	return nil
}
