package establishment_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfms/fiscal-engine/establishment"
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
	da  = fiscal.Actor{ID: "user-da", Role: fiscal.RoleMaker, Org: testOrg}
	ac  = fiscal.Actor{ID: "user-ac", Role: fiscal.RoleAccountant, Org: testOrg}
	tof = fiscal.Actor{ID: "user-tof", Role: fiscal.RoleTOFinance, Org: testOrg}
	tmo = fiscal.Actor{ID: "user-tmo", Role: fiscal.RoleTMO, Org: testOrg}
	lcb = fiscal.Actor{ID: "user-lcb", Role: fiscal.RoleLCB, Org: testOrg}
)

func newTestService(t *testing.T) (*establishment.Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return establishment.NewService(store), store
}

func newEntry(t *testing.T, postType establishment.PostType) *establishment.Entry {
	t.Helper()
	e, err := establishment.NewEntry(testOrg, testFY, "Junior Clerk", 11, postType,
		4, decimal.NewFromInt(480000), time.Now())
	require.NoError(t, err)
	return e
}

// =============================================================================
// ENTRY BASICS
// =============================================================================

func TestNewEntry_Validation(t *testing.T) {
	_, err := establishment.NewEntry(testOrg, testFY, "Clerk", 11, "FEDERAL", 1, decimal.Zero, time.Now())
	assert.ErrorIs(t, err, fiscal.ErrValidation, "unknown post type")

	_, err = establishment.NewEntry(testOrg, testFY, "Clerk", 11, establishment.Local, 0, decimal.Zero, time.Now())
	assert.ErrorIs(t, err, fiscal.ErrValidation, "zero sanctioned posts")

	_, err = establishment.NewEntry(testOrg, testFY, "", 11, establishment.Local, 1, decimal.Zero, time.Now())
	assert.ErrorIs(t, err, fiscal.ErrValidation, "missing designation")
}

func TestEntry_CostAndVacancy(t *testing.T) {
	e := newEntry(t, establishment.Local)
	e.FilledPosts = 3

	assert.Equal(t, 1, e.VacantPosts())
	assert.Equal(t, "1920000", e.TotalAnnualCost().String(), "4 posts at 480,000 each")
}

// =============================================================================
// LOCAL TRACK
// =============================================================================

func TestLocalTrack_DraftVerifiedApproved(t *testing.T) {
	// GIVEN: A draft LOCAL post entry
	// WHEN: The finance officer verifies and the approving authority approves
	// THEN: Stamps record each actor; the approved entry accepts no transition

	svc, _ := newTestService(t)
	ctx := context.Background()
	e, err := svc.Create(ctx, newEntry(t, establishment.Local))
	require.NoError(t, err)

	e, err = svc.Transition(ctx, testOrg, e.ID, establishment.Verified, tof, "")
	require.NoError(t, err)
	assert.Equal(t, establishment.Verified, e.Status)
	require.NotNil(t, e.VerifiedStamp)
	assert.Equal(t, tof.ID, e.VerifiedStamp.By)

	e, err = svc.Transition(ctx, testOrg, e.ID, establishment.Approved, tmo, "")
	require.NoError(t, err)
	assert.Equal(t, establishment.Approved, e.Status)
	require.NotNil(t, e.ApprovedStamp)
	assert.Equal(t, tmo.ID, e.ApprovedStamp.By)

	_, err = svc.Transition(ctx, testOrg, e.ID, establishment.Draft, da, "")
	assert.ErrorIs(t, err, fiscal.ErrInvalidTransition, "approved is terminal")
}

func TestLocalTrack_DirectApprovalFromDraft(t *testing.T) {
	// The local authority may approve a LOCAL post without prior verification.
	svc, _ := newTestService(t)
	ctx := context.Background()
	e, err := svc.Create(ctx, newEntry(t, establishment.Local))
	require.NoError(t, err)

	e, err = svc.Transition(ctx, testOrg, e.ID, establishment.Approved, tmo, "")
	require.NoError(t, err)
	assert.Equal(t, establishment.Approved, e.Status)
	assert.Nil(t, e.VerifiedStamp)
}

func TestLocalTrack_RecommendedNotInTrack(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	e, err := svc.Create(ctx, newEntry(t, establishment.Local))
	require.NoError(t, err)

	_, err = svc.Transition(ctx, testOrg, e.ID, establishment.Recommended, tmo, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, fiscal.ErrInvalidTransition)

	var te *fiscal.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Entity, "LOCAL", "error names the track")
}

// =============================================================================
// PUGF TRACK
// =============================================================================

func TestPUGFTrack_FullChainToBoardApproval(t *testing.T) {
	// GIVEN: A draft PUGF post entry
	// WHEN: Verify -> Recommend -> Approve through accountant, TMO and board
	// THEN: Each stage stamps its actor and the board holds the final approval

	svc, _ := newTestService(t)
	ctx := context.Background()
	e, err := svc.Create(ctx, newEntry(t, establishment.PUGF))
	require.NoError(t, err)

	e, err = svc.Transition(ctx, testOrg, e.ID, establishment.Verified, ac, "")
	require.NoError(t, err)

	e, err = svc.Transition(ctx, testOrg, e.ID, establishment.Recommended, tmo, "")
	require.NoError(t, err)
	require.NotNil(t, e.RecommendStamp)
	assert.Equal(t, tmo.ID, e.RecommendStamp.By)

	e, err = svc.Transition(ctx, testOrg, e.ID, establishment.Approved, lcb, "")
	require.NoError(t, err)
	assert.Equal(t, establishment.Approved, e.Status)
	assert.Equal(t, lcb.ID, e.ApprovedStamp.By)
}

func TestPUGFTrack_LocalAuthorityCannotApprove(t *testing.T) {
	// GIVEN: A recommended PUGF entry
	// WHEN: The local approving authority tries to approve it
	// THEN: RoleError; only the provincial board may approve provincial posts

	svc, _ := newTestService(t)
	ctx := context.Background()
	e, err := svc.Create(ctx, newEntry(t, establishment.PUGF))
	require.NoError(t, err)
	_, err = svc.Transition(ctx, testOrg, e.ID, establishment.Verified, tof, "")
	require.NoError(t, err)
	_, err = svc.Transition(ctx, testOrg, e.ID, establishment.Recommended, tmo, "")
	require.NoError(t, err)

	_, err = svc.Transition(ctx, testOrg, e.ID, establishment.Approved, tmo, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, fiscal.ErrUnauthorizedRole)

	var re *fiscal.RoleError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, []fiscal.Role{fiscal.RoleLCB}, re.Allowed)
}

func TestPUGFTrack_RejectionRolesDependOnStage(t *testing.T) {
	// At verification stage the local authority rejects; once recommended,
	// only the board may.
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Verified stage: TMO rejects, LCB cannot.
	e, err := svc.Create(ctx, newEntry(t, establishment.PUGF))
	require.NoError(t, err)
	_, err = svc.Transition(ctx, testOrg, e.ID, establishment.Verified, ac, "")
	require.NoError(t, err)
	_, err = svc.Transition(ctx, testOrg, e.ID, establishment.Rejected, lcb, "not ours yet")
	assert.ErrorIs(t, err, fiscal.ErrUnauthorizedRole)
	_, err = svc.Transition(ctx, testOrg, e.ID, establishment.Rejected, tmo, "post not needed")
	require.NoError(t, err)

	// Recommended stage: LCB rejects, TMO cannot.
	e2, err := svc.Create(ctx, newEntry(t, establishment.PUGF))
	require.NoError(t, err)
	_, err = svc.Transition(ctx, testOrg, e2.ID, establishment.Recommended, tmo, "")
	require.NoError(t, err)
	_, err = svc.Transition(ctx, testOrg, e2.ID, establishment.Rejected, tmo, "changed mind")
	assert.ErrorIs(t, err, fiscal.ErrUnauthorizedRole)
	rejected, err := svc.Transition(ctx, testOrg, e2.ID, establishment.Rejected, lcb, "cadre freeze")
	require.NoError(t, err)
	assert.Equal(t, "cadre freeze", rejected.RejectionReason)
}

// =============================================================================
// REJECTION AND RESUBMISSION
// =============================================================================

func TestTransition_RejectionRequiresReason(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	e, err := svc.Create(ctx, newEntry(t, establishment.Local))
	require.NoError(t, err)
	_, err = svc.Transition(ctx, testOrg, e.ID, establishment.Verified, tof, "")
	require.NoError(t, err)

	_, err = svc.Transition(ctx, testOrg, e.ID, establishment.Rejected, tmo, "")
	assert.ErrorIs(t, err, fiscal.ErrValidation)

	// The failed rejection left the entry untouched.
	reloaded, err := svc.Transition(ctx, testOrg, e.ID, establishment.Rejected, tmo, "duplicate post")
	require.NoError(t, err)
	assert.Equal(t, establishment.Rejected, reloaded.Status)
}

func TestTransition_ResubmitClearsPreviousCycle(t *testing.T) {
	// GIVEN: A PUGF entry rejected after recommendation
	// WHEN: The maker resubmits it to draft
	// THEN: Verification and recommendation stamps and the rejection reason
	//       are cleared for the new cycle

	svc, store := newTestService(t)
	ctx := context.Background()
	e, err := svc.Create(ctx, newEntry(t, establishment.PUGF))
	require.NoError(t, err)
	_, err = svc.Transition(ctx, testOrg, e.ID, establishment.Verified, ac, "")
	require.NoError(t, err)
	_, err = svc.Transition(ctx, testOrg, e.ID, establishment.Recommended, tmo, "")
	require.NoError(t, err)
	_, err = svc.Transition(ctx, testOrg, e.ID, establishment.Rejected, lcb, "scale mismatch")
	require.NoError(t, err)

	e, err = svc.Transition(ctx, testOrg, e.ID, establishment.Draft, da, "")
	require.NoError(t, err)
	assert.Equal(t, establishment.Draft, e.Status)
	assert.Nil(t, e.VerifiedStamp)
	assert.Nil(t, e.RecommendStamp)
	assert.Empty(t, e.RejectionReason)

	// The cleared state survives the round trip.
	reloaded, err := store.GetEntry(ctx, testOrg, e.ID)
	require.NoError(t, err)
	assert.Equal(t, establishment.Draft, reloaded.Status)
	assert.Nil(t, reloaded.VerifiedStamp)
	assert.Nil(t, reloaded.RecommendStamp)
	assert.Empty(t, reloaded.RejectionReason)
}

// =============================================================================
// TABLE AND AFFORDANCE CHECKS
// =============================================================================

func TestCanTransition_Table(t *testing.T) {
	tests := []struct {
		name     string
		postType establishment.PostType
		from, to establishment.Status
		role     fiscal.Role
		want     bool
	}{
		{"local verify by finance officer", establishment.Local, establishment.Draft, establishment.Verified, fiscal.RoleTOFinance, true},
		{"local verify by maker", establishment.Local, establishment.Draft, establishment.Verified, fiscal.RoleMaker, false},
		{"local approve by authority", establishment.Local, establishment.Verified, establishment.Approved, fiscal.RoleTMO, true},
		{"pugf approve by authority", establishment.PUGF, establishment.Recommended, establishment.Approved, fiscal.RoleTMO, false},
		{"pugf approve by board", establishment.PUGF, establishment.Recommended, establishment.Approved, fiscal.RoleLCB, true},
		{"pugf recommend from draft", establishment.PUGF, establishment.Draft, establishment.Recommended, fiscal.RoleTMO, true},
		{"local recommend invalid", establishment.Local, establishment.Draft, establishment.Recommended, fiscal.RoleTMO, false},
		{"resubmit by maker", establishment.Local, establishment.Rejected, establishment.Draft, fiscal.RoleMaker, true},
		{"resubmit by board", establishment.Local, establishment.Rejected, establishment.Draft, fiscal.RoleLCB, false},
		{"admin passes gate", establishment.PUGF, establishment.Recommended, establishment.Approved, fiscal.RoleAdmin, true},
		{"admin cannot skip states", establishment.PUGF, establishment.Draft, establishment.Approved, fiscal.RoleAdmin, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, establishment.CanTransition(tc.postType, tc.from, tc.to, tc.role))
		})
	}
}

func TestAllowedActions(t *testing.T) {
	svc, _ := newTestService(t)

	e := newEntry(t, establishment.PUGF)
	e.Status = establishment.Recommended

	assert.Equal(t, []establishment.Status{establishment.Approved, establishment.Rejected},
		svc.AllowedActions(e, lcb))
	assert.Empty(t, svc.AllowedActions(e, tof))
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func TestStore_EntryRoundTrip(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	e := newEntry(t, establishment.PUGF)
	e.FilledPosts = 2
	_, err := svc.Create(ctx, e)
	require.NoError(t, err)
	_, err = svc.Transition(ctx, testOrg, e.ID, establishment.Verified, ac, "")
	require.NoError(t, err)

	got, err := store.GetEntry(ctx, testOrg, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Junior Clerk", got.Designation)
	assert.Equal(t, 11, got.BPSGrade)
	assert.Equal(t, establishment.PUGF, got.PostType)
	assert.Equal(t, 4, got.SanctionedPosts)
	assert.Equal(t, 2, got.FilledPosts)
	assert.True(t, got.AnnualCost.Equal(decimal.NewFromInt(480000)))
	require.NotNil(t, got.VerifiedStamp)
	assert.Equal(t, ac.ID, got.VerifiedStamp.By)

	list, err := store.ListEntries(ctx, testOrg, testFY)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, e.ID, list[0].ID)

	_, err = store.GetEntry(ctx, testOrg, "no-such-entry")
	assert.ErrorIs(t, err, fiscal.ErrNotFound)
}
