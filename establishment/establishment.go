/*
Package establishment drives the sanctioned-post approval workflow.

PURPOSE:
  A Schedule of Establishment entry records a sanctioned staff post. Two
  parallel approval tracks exist, selected by the post type:

  LOCAL (approved locally):
      Draft -> {Verified, Approved}
      Verified -> {Approved, Rejected}
      Rejected -> Draft

  PUGF (provincial cadre, requires the provincial board):
      Draft -> {Verified, Recommended}
      Verified -> {Recommended, Rejected}
      Recommended -> {Approved, Rejected}
      Rejected -> Draft

  Each transition is validated against BOTH the state table and the role
  gate before any mutation; the error identifies which check failed. The
  local approving authority may RECOMMEND a PUGF post but never directly
  approve it - approval of provincial-cadre posts belongs to the board.

KEY CONCEPTS IN THIS FILE:
  - Entry: the sanctioned-post record with its approval status
  - transition tables and role gates, one table each per track
  - Service.Transition: the single mutation entry point
*/
package establishment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cfms/fiscal-engine/fiscal"
)

// =============================================================================
// TYPES
// =============================================================================

// PostType selects the approval track.
type PostType string

const (
	Local PostType = "LOCAL"
	PUGF  PostType = "PUGF" // provincial unified group of functionaries
)

func (p PostType) Valid() bool { return p == Local || p == PUGF }

type Status string

const (
	Draft       Status = "DRAFT"
	Verified    Status = "VERIFIED"
	Recommended Status = "RECOMMENDED"
	Approved    Status = "APPROVED"
	Rejected    Status = "REJECTED"
)

// Entry is one sanctioned-post record.
type Entry struct {
	ID  fiscal.EntryID
	Org fiscal.OrgID

	FiscalYear  string
	Designation string
	BPSGrade    int
	PostType    PostType

	SanctionedPosts int
	FilledPosts     int
	AnnualCost      decimal.Decimal // per post, for salary budgeting

	Status          Status
	VerifiedStamp   *ActionStamp
	RecommendStamp  *ActionStamp
	ApprovedStamp   *ActionStamp
	RejectionReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActionStamp records who performed a workflow action and when.
type ActionStamp struct {
	By string
	At time.Time
}

// NewEntry creates a draft establishment entry.
func NewEntry(org fiscal.OrgID, fy, designation string, grade int, postType PostType, sanctioned int, annualCost decimal.Decimal, now time.Time) (*Entry, error) {
	if !postType.Valid() {
		return nil, fiscal.Invalid("post_type", "unknown post type "+string(postType))
	}
	if sanctioned <= 0 {
		return nil, fiscal.Invalid("sanctioned_posts", "sanctioned posts must be positive")
	}
	if designation == "" {
		return nil, fiscal.Invalid("designation", "designation is required")
	}
	return &Entry{
		ID:              fiscal.EntryID(uuid.NewString()),
		Org:             org,
		FiscalYear:      fy,
		Designation:     designation,
		BPSGrade:        grade,
		PostType:        postType,
		SanctionedPosts: sanctioned,
		AnnualCost:      annualCost,
		Status:          Draft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// VacantPosts is sanctioned minus filled.
func (e *Entry) VacantPosts() int { return e.SanctionedPosts - e.FilledPosts }

// TotalAnnualCost is the budget requirement for all sanctioned posts.
func (e *Entry) TotalAnnualCost() decimal.Decimal {
	return e.AnnualCost.Mul(decimal.NewFromInt(int64(e.SanctionedPosts)))
}

// =============================================================================
// TRANSITION TABLES - one per track, defined once
// =============================================================================

var localTransitions = map[Status][]Status{
	Draft:    {Verified, Approved},
	Verified: {Approved, Rejected},
	Approved: {},
	Rejected: {Draft},
}

var pugfTransitions = map[Status][]Status{
	Draft:       {Verified, Recommended},
	Verified:    {Recommended, Rejected},
	Recommended: {Approved, Rejected},
	Approved:    {},
	Rejected:    {Draft},
}

// ValidTransitions returns the allowed next states for a track and state.
func ValidTransitions(postType PostType, current Status) []Status {
	if postType == PUGF {
		return pugfTransitions[current]
	}
	return localTransitions[current]
}

// validTransition reports whether the state table allows current -> target.
func validTransition(postType PostType, current, target Status) bool {
	for _, next := range ValidTransitions(postType, current) {
		if next == target {
			return true
		}
	}
	return false
}

// =============================================================================
// ROLE GATES - defined once, keyed by (track, stage)
// =============================================================================

// allowedRoles resolves the role gate for a transition. The current status
// matters for PUGF rejection: the local authority rejects at verification
// stage, the board at recommendation stage.
func allowedRoles(postType PostType, current, target Status) []fiscal.Role {
	switch target {
	case Verified:
		return []fiscal.Role{fiscal.RoleTOFinance, fiscal.RoleAccountant}
	case Recommended:
		// The local approving authority recommends PUGF posts upward but
		// never directly approves them.
		return []fiscal.Role{fiscal.RoleTMO}
	case Approved:
		if postType == PUGF {
			return []fiscal.Role{fiscal.RoleLCB}
		}
		return []fiscal.Role{fiscal.RoleTMO}
	case Rejected:
		if postType == PUGF {
			if current == Recommended {
				return []fiscal.Role{fiscal.RoleLCB}
			}
			return []fiscal.Role{fiscal.RoleTMO}
		}
		return []fiscal.Role{fiscal.RoleTMO, fiscal.RoleTOFinance}
	case Draft:
		// Resubmission after rejection.
		return []fiscal.Role{fiscal.RoleMaker, fiscal.RoleAccountant, fiscal.RoleTOFinance}
	}
	return nil
}

// CanTransition reports whether role may move an entry of the given track
// from current to target. False when the transition itself is invalid.
func CanTransition(postType PostType, current, target Status, role fiscal.Role) bool {
	if !validTransition(postType, current, target) {
		return false
	}
	return fiscal.Actor{Role: role}.Is(allowedRoles(postType, current, target)...)
}

// =============================================================================
// SERVICE
// =============================================================================

// Store persists establishment entries.
type Store interface {
	GetEntry(ctx context.Context, org fiscal.OrgID, id fiscal.EntryID) (*Entry, error)
	SaveEntry(ctx context.Context, e *Entry) error
	ListEntries(ctx context.Context, org fiscal.OrgID, fy string) ([]*Entry, error)
}

// Service exposes the establishment workflow.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Create records a draft entry.
func (s *Service) Create(ctx context.Context, e *Entry) (*Entry, error) {
	if err := s.store.SaveEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Transition moves an entry to the target status. The state table and the
// role gate are checked in order before any mutation; on failure the entry
// is unchanged and the error identifies which check failed.
// A reason is required when rejecting.
func (s *Service) Transition(ctx context.Context, org fiscal.OrgID, id fiscal.EntryID, target Status, actor fiscal.Actor, reason string) (*Entry, error) {
	e, err := s.store.GetEntry(ctx, org, id)
	if err != nil {
		return nil, err
	}

	if !validTransition(e.PostType, e.Status, target) {
		return nil, &fiscal.TransitionError{
			Entity:    "establishment entry (" + string(e.PostType) + ")",
			Current:   string(e.Status),
			Attempted: string(target),
		}
	}
	allowed := allowedRoles(e.PostType, e.Status, target)
	if !actor.Is(allowed...) {
		return nil, &fiscal.RoleError{
			Role:      actor.Role,
			Attempted: string(e.Status) + "->" + string(target),
			Allowed:   allowed,
		}
	}
	if target == Rejected && reason == "" {
		return nil, fiscal.Invalid("reason", "rejection reason is required")
	}

	at := s.now()
	switch target {
	case Verified:
		e.VerifiedStamp = &ActionStamp{By: actor.ID, At: at}
	case Recommended:
		e.RecommendStamp = &ActionStamp{By: actor.ID, At: at}
	case Approved:
		e.ApprovedStamp = &ActionStamp{By: actor.ID, At: at}
	case Rejected:
		e.RejectionReason = reason
	case Draft:
		// Resubmission clears the previous cycle's stamps.
		e.VerifiedStamp = nil
		e.RecommendStamp = nil
		e.RejectionReason = ""
	}
	e.Status = target
	e.UpdatedAt = at

	if err := s.store.SaveEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// AllowedActions lists the targets the actor could reach from the entry's
// current status, for UI affordances.
func (s *Service) AllowedActions(e *Entry, actor fiscal.Actor) []Status {
	var out []Status
	for _, target := range ValidTransitions(e.PostType, e.Status) {
		if actor.Is(allowedRoles(e.PostType, e.Status, target)...) {
			out = append(out, target)
		}
	}
	return out
}
