package escrow

import (
	"fmt"
	"slices"
)

// Op names a ledger operation.
type Op string

const (
	OpAddTask           Op = "add_task"
	OpGetTask           Op = "get_task"
	OpDeleteTask        Op = "delete_task"
	OpAcceptTask        Op = "accept_task"
	OpAbandonTask       Op = "abandon_task"
	OpTaskSubmitted     Op = "task_submitted"
	OpAcceptCompletion  Op = "accept_completion"
	OpRaiseDispute      Op = "raise_dispute"
	OpPayAgent          Op = "pay_agent"
	OpRefundBeneficiary Op = "refund_beneficiary"
)

// Role is a bit set of the roles a caller holds relative to a task.
type Role uint8

const (
	RoleOwner Role = 1 << iota
	RoleAgent
	RoleArbiter
	RoleCustody // the escrow account itself

	RoleAny Role = 0
)

// Has reports whether r contains any role of other.
func (r Role) Has(other Role) bool { return r&other != 0 }

func (r Role) String() string {
	switch {
	case r == RoleAny:
		return "any"
	case r.Has(RoleOwner) && r.Has(RoleAgent):
		return "owner|agent"
	case r.Has(RoleOwner):
		return "owner"
	case r.Has(RoleAgent):
		return "agent"
	case r.Has(RoleArbiter):
		return "arbiter"
	case r.Has(RoleCustody):
		return "escrow account"
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// Policy holds the decisions the observed behavior leaves open.
type Policy struct {
	// OwnerMayDispute lets the owner raise a dispute in addition to the agent.
	OwnerMayDispute bool
	// RefundStates are the states refundBeneficiary accepts. Empty means every non-terminal state.
	RefundStates []TaskState
}

// DefaultPolicy allows only the agent to dispute and refunds from any live state.
func DefaultPolicy() Policy {
	return Policy{RefundStates: NonTerminalStates()}
}

// Validate rejects refund states a live task can never be in.
func (p Policy) Validate() error {
	for _, s := range p.RefundStates {
		if s.Terminal() || !slices.Contains(NonTerminalStates(), s) {
			return fmt.Errorf("refund state %s is not a live task state", s)
		}
	}
	return nil
}

// rule is one row of the authorization table.
type rule struct {
	allow Role        // caller must hold one of these roles; RoleAny admits everyone
	deny  Role        // caller must hold none of these roles
	from  []TaskState // task must be in one of these states
}

// Authorizer evaluates the per-operation authorization table.
type Authorizer struct {
	arbiter Identity
	custody Identity
	rules   map[Op]rule
}

// NewAuthorizer builds the table for the given arbiter, custody account and
// policy.
func NewAuthorizer(arbiter, custody Identity, policy Policy) *Authorizer {
	disputers := RoleAgent
	if policy.OwnerMayDispute {
		disputers |= RoleOwner
	}
	refundFrom := policy.RefundStates
	if len(refundFrom) == 0 {
		refundFrom = NonTerminalStates()
	}

	return &Authorizer{
		arbiter: arbiter.Normalize(),
		custody: custody.Normalize(),
		rules: map[Op]rule{
			OpGetTask:           {allow: RoleAny, from: NonTerminalStates()},
			OpDeleteTask:        {allow: RoleOwner, from: []TaskState{StateUninitiated}},
			OpAcceptTask:        {allow: RoleAny, deny: RoleOwner | RoleCustody, from: []TaskState{StateUninitiated}},
			OpAbandonTask:       {allow: RoleAgent, from: []TaskState{StateAccepted, StateSubmitted}},
			OpTaskSubmitted:     {allow: RoleAgent, from: []TaskState{StateAccepted}},
			OpAcceptCompletion:  {allow: RoleOwner, from: []TaskState{StateSubmitted}},
			OpRaiseDispute:      {allow: disputers, from: []TaskState{StateSubmitted}},
			OpPayAgent:          {allow: RoleArbiter, from: []TaskState{StateDisputed}},
			OpRefundBeneficiary: {allow: RoleArbiter, from: slices.Clone(refundFrom)},
		},
	}
}

// Arbiter returns the fixed arbiter identity.
func (a *Authorizer) Arbiter() Identity { return a.arbiter }

// RolesOf returns every role caller holds on t.
func (a *Authorizer) RolesOf(caller Identity, t Task) Role {
	caller = caller.Normalize()
	var r Role
	if caller == t.Owner {
		r |= RoleOwner
	}
	if t.HasAgent() && caller == t.Agent {
		r |= RoleAgent
	}
	if caller == a.arbiter {
		r |= RoleArbiter
	}
	if !a.custody.IsZero() && caller == a.custody {
		r |= RoleCustody
	}
	return r
}

// Authorize checks the caller's role first and the task state second.
func (a *Authorizer) Authorize(op Op, caller Identity, t Task) error {
	rl, ok := a.rules[op]
	if !ok {
		return fmt.Errorf("no authorization rule for %s", op)
	}
	roles := a.RolesOf(caller, t)
	if rl.allow != RoleAny && !roles.Has(rl.allow) {
		return fmt.Errorf("%w: %s requires %s on task %d", roleError(rl.allow), op, rl.allow, t.ID)
	}
	if denied := roles & rl.deny; denied != 0 {
		// denied roles only guard accept_task today
		return fmt.Errorf("%w: %s cannot be performed by the %s", ErrNotAgent, op, denied)
	}
	if !slices.Contains(rl.from, t.Status) {
		return fmt.Errorf("%w: %s requires %s, task %d is %s", ErrWrongState, op, statesString(rl.from), t.ID, t.Status)
	}
	return nil
}

// roleError picks the error kind for a missing role. Rules admitting the agent
// report ErrNotAgent even when the owner is admitted too.
func roleError(required Role) error {
	switch {
	case required.Has(RoleAgent):
		return ErrNotAgent
	case required.Has(RoleOwner):
		return ErrNotOwner
	default:
		return ErrNotArbiter
	}
}

func statesString(states []TaskState) string {
	if len(states) == 1 {
		return states[0].String()
	}
	out := "one of ["
	for i, s := range states {
		if i > 0 {
			out += " "
		}
		out += s.String()
	}
	return out + "]"
}
