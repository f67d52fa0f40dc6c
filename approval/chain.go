/*
Package approval drives a document's multi-step approval lifecycle.

PURPOSE:
  A Chain is an ordered list of approval steps attached to a financial
  document (purchase order or invoice). Steps are evaluated strictly in
  order: a later step cannot be reached before its predecessor completes.
  The chain is PURE STATE - it never touches money. Approve returns an
  Outcome so the caller can decide whether to apply the ledger effect.
  This decoupling is deliberate.

COMPLETION RULES:
  - RequireAll = true:  step completes when every approver has approved.
  - RequireAll = false: the first approver decides for the step.
  Approving twice is idempotent; ApprovedBy has set semantics, not a
  counter.

REJECTION:
  A reject from ANY pending step kills the whole document immediately,
  regardless of RequireAll (single point of veto). Reason is mandatory.
  Rejected is terminal; only an explicit Reset (resubmission) reopens
  the workflow, restarting at step 0 with cleared approvals.

SEE ALSO:
  - errors.go: failure modes (wrong approver, closed step, terminal state)
  - purchase/, invoice/: callers that apply the ledger side effects
*/
package approval

// =============================================================================
// TYPES
// =============================================================================

type UserID string

type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

// State is the chain-level state, a strict function of step completion.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRejected State = "rejected"
)

// Step is one stage in the chain.
type Step struct {
	Order      int        `json:"order"`
	Approvers  []UserID   `json:"approvers"`
	ApprovedBy []UserID   `json:"approvedBy,omitempty"`
	RejectedBy []UserID   `json:"rejectedBy,omitempty"`
	Status     StepStatus `json:"status"`
	RequireAll bool       `json:"requireAll"`
}

// IsApprover reports whether u belongs to the step's approver set.
func (s *Step) IsApprover(u UserID) bool {
	for _, a := range s.Approvers {
		if a == u {
			return true
		}
	}
	return false
}

// recordApproval adds u to ApprovedBy with set semantics.
func (s *Step) recordApproval(u UserID) {
	for _, a := range s.ApprovedBy {
		if a == u {
			return
		}
	}
	s.ApprovedBy = append(s.ApprovedBy, u)
}

// completed reports whether the step's completion rule is satisfied.
func (s *Step) completed() bool {
	if s.RequireAll {
		return len(s.ApprovedBy) == len(s.Approvers)
	}
	return len(s.ApprovedBy) >= 1
}

// =============================================================================
// CHAIN
// =============================================================================

// Chain holds the ordered steps and the cursor into them.
type Chain struct {
	Steps   []Step `json:"steps"`
	Current int    `json:"current"`
	State   State  `json:"state"`
}

// StepSpec describes a step when building a chain.
type StepSpec struct {
	Approvers  []UserID
	RequireAll bool
}

// NewChain builds a pending chain from specs. At least one step with at
// least one approver each is required. Approver lists are sets: repeats
// are dropped, otherwise a requireAll step listing the same user twice
// could never satisfy its completion rule.
func NewChain(specs []StepSpec) (*Chain, error) {
	if len(specs) == 0 {
		return nil, ErrNoSteps
	}
	steps := make([]Step, len(specs))
	for i, spec := range specs {
		approvers := dedupeUsers(spec.Approvers)
		if len(approvers) == 0 {
			return nil, ErrNoApprovers
		}
		steps[i] = Step{
			Order:      i,
			Approvers:  approvers,
			Status:     StepPending,
			RequireAll: spec.RequireAll,
		}
	}
	return &Chain{Steps: steps, Current: 0, State: StatePending}, nil
}

// dedupeUsers keeps the first occurrence of each user, preserving order.
func dedupeUsers(users []UserID) []UserID {
	seen := make(map[UserID]struct{}, len(users))
	out := make([]UserID, 0, len(users))
	for _, u := range users {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// Outcome tells the caller what an Approve call changed, so it can
// decide whether to trigger the ledger side effect.
type Outcome struct {
	StepCompleted    bool
	DocumentApproved bool
}

// Approve registers an approval on the given step.
//
// Preconditions, each a hard failure (no silent no-ops):
//   - the chain is not in a terminal state
//   - stepIndex equals the current step (closed steps cannot be approved,
//     future steps are not reached yet)
//   - approver belongs to the step's approver set
func (c *Chain) Approve(stepIndex int, approver UserID) (Outcome, error) {
	if c.State != StatePending {
		return Outcome{}, &TerminalStateError{State: c.State}
	}
	if stepIndex < 0 || stepIndex >= len(c.Steps) {
		return Outcome{}, ErrStepOutOfRange
	}
	if stepIndex < c.Current {
		return Outcome{}, ErrStepClosed
	}
	if stepIndex > c.Current {
		return Outcome{}, ErrStepNotReached
	}

	step := &c.Steps[stepIndex]
	if !step.IsApprover(approver) {
		return Outcome{}, ErrNotApprover
	}

	step.recordApproval(approver)
	if !step.completed() {
		return Outcome{}, nil
	}

	step.Status = StepApproved
	if stepIndex == len(c.Steps)-1 {
		c.State = StateApproved
		return Outcome{StepCompleted: true, DocumentApproved: true}, nil
	}
	c.Current++
	return Outcome{StepCompleted: true}, nil
}

// Reject kills the whole document from any pending step. The rejecting
// user must belong to that step's approver set and must give a reason.
func (c *Chain) Reject(stepIndex int, approver UserID, reason string) error {
	if c.State != StatePending {
		return &TerminalStateError{State: c.State}
	}
	if stepIndex < 0 || stepIndex >= len(c.Steps) {
		return ErrStepOutOfRange
	}
	if reason == "" {
		return ErrReasonRequired
	}

	step := &c.Steps[stepIndex]
	if step.Status != StepPending {
		return ErrStepClosed
	}
	if !step.IsApprover(approver) {
		return ErrNotApprover
	}

	step.RejectedBy = append(step.RejectedBy, approver)
	step.Status = StepRejected
	c.State = StateRejected
	return nil
}

// Reset reopens the workflow for resubmission: back to step 0, all
// approvals cleared. Draft -> pending always restarts the chain.
func (c *Chain) Reset() {
	for i := range c.Steps {
		c.Steps[i].ApprovedBy = nil
		c.Steps[i].RejectedBy = nil
		c.Steps[i].Status = StepPending
	}
	c.Current = 0
	c.State = StatePending
}
