package approval_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slateworks/prodledger/approval"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func twoStepChain(t *testing.T) *approval.Chain {
	c, err := approval.NewChain([]approval.StepSpec{
		{Approvers: []approval.UserID{"controller"}},
		{Approvers: []approval.UserID{"producer"}},
	})
	require.NoError(t, err)
	return c
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

func TestNewChain_RequiresSteps(t *testing.T) {
	_, err := approval.NewChain(nil)
	assert.ErrorIs(t, err, approval.ErrNoSteps)
}

func TestNewChain_RequiresApproversPerStep(t *testing.T) {
	_, err := approval.NewChain([]approval.StepSpec{
		{Approvers: []approval.UserID{"controller"}},
		{Approvers: nil},
	})
	assert.ErrorIs(t, err, approval.ErrNoApprovers)
}

// =============================================================================
// SEQUENTIAL PROGRESSION
// =============================================================================

func TestChain_StepsCompleteInOrder(t *testing.T) {
	// GIVEN: A two-step chain
	// WHEN: The first step's approver approves
	// THEN: The cursor advances but the document is not yet approved

	c := twoStepChain(t)

	outcome, err := c.Approve(0, "controller")
	require.NoError(t, err)
	assert.True(t, outcome.StepCompleted)
	assert.False(t, outcome.DocumentApproved)
	assert.Equal(t, 1, c.Current)
	assert.Equal(t, approval.StatePending, c.State)

	// Last step completing approves the whole document
	outcome, err = c.Approve(1, "producer")
	require.NoError(t, err)
	assert.True(t, outcome.DocumentApproved)
	assert.Equal(t, approval.StateApproved, c.State)
}

func TestChain_FutureStepNotReachable(t *testing.T) {
	// GIVEN: A two-step chain still at step 0
	// WHEN: The second approver tries to approve step 1 early
	// THEN: The call fails and nothing changes

	c := twoStepChain(t)

	_, err := c.Approve(1, "producer")
	assert.ErrorIs(t, err, approval.ErrStepNotReached)
	assert.Equal(t, 0, c.Current)
}

func TestChain_ClosedStepNotApprovable(t *testing.T) {
	c := twoStepChain(t)

	_, err := c.Approve(0, "controller")
	require.NoError(t, err)

	_, err = c.Approve(0, "controller")
	assert.ErrorIs(t, err, approval.ErrStepClosed)
}

func TestChain_StepOutOfRange(t *testing.T) {
	c := twoStepChain(t)

	_, err := c.Approve(5, "controller")
	assert.ErrorIs(t, err, approval.ErrStepOutOfRange)

	_, err = c.Approve(-1, "controller")
	assert.ErrorIs(t, err, approval.ErrStepOutOfRange)
}

func TestChain_NonApproverFails(t *testing.T) {
	// GIVEN: A chain whose current step lists only "controller"
	// WHEN: Someone else approves
	// THEN: Hard failure, no silent no-op

	c := twoStepChain(t)

	_, err := c.Approve(0, "intruder")
	assert.ErrorIs(t, err, approval.ErrNotApprover)
	assert.Equal(t, approval.StatePending, c.State)
}

// =============================================================================
// REQUIRE-ALL STEPS
// =============================================================================

func TestChain_RequireAll_WaitsForEveryApprover(t *testing.T) {
	// GIVEN: A single step requiring all three approvers
	// WHEN: Approvals land one by one
	// THEN: The step stays open until the last distinct approver acts

	c, err := approval.NewChain([]approval.StepSpec{
		{Approvers: []approval.UserID{"a", "b", "c"}, RequireAll: true},
	})
	require.NoError(t, err)

	outcome, err := c.Approve(0, "a")
	require.NoError(t, err)
	assert.False(t, outcome.StepCompleted)

	outcome, err = c.Approve(0, "b")
	require.NoError(t, err)
	assert.False(t, outcome.StepCompleted)
	assert.Equal(t, approval.StatePending, c.State)

	outcome, err = c.Approve(0, "c")
	require.NoError(t, err)
	assert.True(t, outcome.DocumentApproved)
}

func TestChain_RequireAll_DoubleApproveIsIdempotent(t *testing.T) {
	// GIVEN: A require-all step with two approvers, one already approved
	// WHEN: The same user approves again
	// THEN: ApprovedBy keeps set semantics; the step does not complete

	c, err := approval.NewChain([]approval.StepSpec{
		{Approvers: []approval.UserID{"a", "b"}, RequireAll: true},
	})
	require.NoError(t, err)

	_, err = c.Approve(0, "a")
	require.NoError(t, err)
	outcome, err := c.Approve(0, "a")
	require.NoError(t, err)

	assert.False(t, outcome.StepCompleted)
	assert.Len(t, c.Steps[0].ApprovedBy, 1)
}

func TestChain_RequireAll_DuplicateApproversCollapse(t *testing.T) {
	// GIVEN: A requireAll step whose approver list repeats a user
	// WHEN: That user approves once
	// THEN: The step completes; the repeated entry is one approver, not
	//       two, so the document cannot deadlock in pending

	c, err := approval.NewChain([]approval.StepSpec{
		{Approvers: []approval.UserID{"a", "a"}, RequireAll: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []approval.UserID{"a"}, c.Steps[0].Approvers)

	outcome, err := c.Approve(0, "a")
	require.NoError(t, err)
	assert.True(t, outcome.StepCompleted)
	assert.True(t, outcome.DocumentApproved)
}

func TestChain_AnyOf_FirstApproverDecides(t *testing.T) {
	c, err := approval.NewChain([]approval.StepSpec{
		{Approvers: []approval.UserID{"a", "b"}},
	})
	require.NoError(t, err)

	outcome, err := c.Approve(0, "b")
	require.NoError(t, err)
	assert.True(t, outcome.DocumentApproved)
}

// =============================================================================
// REJECTION
// =============================================================================

func TestChain_RejectKillsDocument(t *testing.T) {
	// GIVEN: A pending two-step chain
	// WHEN: The first approver rejects with a reason
	// THEN: The whole chain is rejected immediately

	c := twoStepChain(t)

	err := c.Reject(0, "controller", "quote is stale")
	require.NoError(t, err)

	assert.Equal(t, approval.StateRejected, c.State)
	assert.Equal(t, approval.StepRejected, c.Steps[0].Status)
	assert.Equal(t, []approval.UserID{"controller"}, c.Steps[0].RejectedBy)
}

func TestChain_RejectRequiresReason(t *testing.T) {
	c := twoStepChain(t)

	err := c.Reject(0, "controller", "")
	assert.ErrorIs(t, err, approval.ErrReasonRequired)
	assert.Equal(t, approval.StatePending, c.State)
}

func TestChain_RejectFromLaterPendingStep(t *testing.T) {
	// GIVEN: Step 0 completed, step 1 pending
	// WHEN: Step 1's approver rejects
	// THEN: Rejection lands even though an earlier step already approved

	c := twoStepChain(t)
	_, err := c.Approve(0, "controller")
	require.NoError(t, err)

	err = c.Reject(1, "producer", "wrong supplier")
	require.NoError(t, err)
	assert.Equal(t, approval.StateRejected, c.State)
}

func TestChain_RejectClosedStepFails(t *testing.T) {
	c := twoStepChain(t)
	_, err := c.Approve(0, "controller")
	require.NoError(t, err)

	err = c.Reject(0, "controller", "too late")
	assert.ErrorIs(t, err, approval.ErrStepClosed)
}

func TestChain_RejectByNonApproverFails(t *testing.T) {
	c := twoStepChain(t)

	err := c.Reject(0, "intruder", "nope")
	assert.ErrorIs(t, err, approval.ErrNotApprover)
}

// =============================================================================
// TERMINAL STATES
// =============================================================================

func TestChain_TerminalStateBlocksFurtherAction(t *testing.T) {
	// GIVEN: A fully approved chain
	// WHEN: Approving or rejecting again
	// THEN: TerminalStateError either way

	c, err := approval.NewChain([]approval.StepSpec{
		{Approvers: []approval.UserID{"a"}},
	})
	require.NoError(t, err)

	_, err = c.Approve(0, "a")
	require.NoError(t, err)

	var terminal *approval.TerminalStateError
	_, err = c.Approve(0, "a")
	assert.ErrorAs(t, err, &terminal)
	assert.Equal(t, approval.StateApproved, terminal.State)

	err = c.Reject(0, "a", "reason")
	assert.ErrorAs(t, err, &terminal)
}

func TestChain_ResetClearsEverything(t *testing.T) {
	// GIVEN: A rejected chain with prior approvals
	// WHEN: Resetting for resubmission
	// THEN: Back to step 0, pending, no retained approvals

	c := twoStepChain(t)
	_, err := c.Approve(0, "controller")
	require.NoError(t, err)
	err = c.Reject(1, "producer", "budget cut")
	require.NoError(t, err)

	c.Reset()

	assert.Equal(t, approval.StatePending, c.State)
	assert.Equal(t, 0, c.Current)
	for _, step := range c.Steps {
		assert.Equal(t, approval.StepPending, step.Status)
		assert.Empty(t, step.ApprovedBy)
		assert.Empty(t, step.RejectedBy)
	}
}
