package escrow

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// Config fixes the identities of a ledger instance.
type Config struct {
	Arbiter       Identity
	EscrowAccount Identity // substrate account holding every live deposit
	Policy        Policy
}

// Ledger is the escrow state machine. It owns no mutable state of its own:
// tasks live in the Store and value lives in the Substrate.
type Ledger struct {
	store     Store
	substrate Substrate
	auth      *Authorizer
	escrow    Identity
	observers []Observer
	now       func() time.Time
}

// NewLedger creates a ledger for the given arbiter.
func NewLedger(cfg Config, store Store, substrate Substrate, observers ...Observer) (*Ledger, error) {
	if cfg.Arbiter.IsZero() {
		return nil, ErrNoArbiter
	}
	if cfg.EscrowAccount.IsZero() {
		return nil, fmt.Errorf("escrow account required")
	}
	if cfg.EscrowAccount.Normalize() == cfg.Arbiter.Normalize() {
		return nil, ErrEscrowAccount
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if store == nil || substrate == nil {
		return nil, fmt.Errorf("store and substrate are required")
	}
	return &Ledger{
		store:     store,
		substrate: substrate,
		auth:      NewAuthorizer(cfg.Arbiter, cfg.EscrowAccount, cfg.Policy),
		escrow:    cfg.EscrowAccount.Normalize(),
		observers: observers,
		now:       time.Now,
	}, nil
}

// Arbiter returns the arbiter fixed at construction.
func (l *Ledger) Arbiter() Identity { return l.auth.Arbiter() }

// EscrowAccount returns the custody account.
func (l *Ledger) EscrowAccount() Identity { return l.escrow }

// AddTask locks value from caller into a new Uninitiated task.
func (l *Ledger) AddTask(ctx context.Context, caller Identity, name string, value Amount) (Task, error) {
	caller = caller.Normalize()
	if caller.IsZero() {
		return Task{}, l.reject(OpAddTask, caller, 0, ErrNoCaller)
	}
	if value <= 0 {
		return Task{}, l.reject(OpAddTask, caller, 0, fmt.Errorf("%w: attached value %d", ErrNoFunds, value))
	}
	if caller == l.escrow {
		return Task{}, l.reject(OpAddTask, caller, 0, fmt.Errorf("%w: escrow account %s cannot own tasks", ErrCustodyCaller, caller))
	}

	now := l.now()
	t := Task{
		Name:      name,
		Deposit:   value,
		Owner:     caller,
		Status:    StateUninitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	deposit := func(ctx context.Context, c Change) (Transfer, error) {
		c.Transfer = l.depositRequest(c.Task)
		return l.settle(ctx, c)
	}
	created, receipt, err := l.store.Create(ctx, t, deposit)
	if err != nil {
		return Task{}, l.reject(OpAddTask, caller, 0, err)
	}
	log.Printf("task %d %q created by %s with deposit %d", created.ID, created.Name, caller, value)
	l.commit(OpAddTask, caller, created, &receipt)
	return created, nil
}

// GetTask returns a live task.
func (l *Ledger) GetTask(ctx context.Context, id TaskID) (Task, error) {
	return l.store.Get(ctx, id)
}

// AgentToTask returns the agent of a live task, empty until acceptance.
func (l *Ledger) AgentToTask(ctx context.Context, id TaskID) (Identity, error) {
	t, err := l.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return t.Agent, nil
}

// ListTasks returns live tasks ordered by id.
func (l *Ledger) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	return l.store.List(ctx, filter)
}

// Settlement returns the archived record of a destroyed task.
func (l *Ledger) Settlement(ctx context.Context, id TaskID) (Settlement, error) {
	return l.store.Settlement(ctx, id)
}

// DeleteTask removes an Uninitiated task and returns the deposit to its owner.
func (l *Ledger) DeleteTask(ctx context.Context, caller Identity, id TaskID) (Settlement, error) {
	return l.settleTask(ctx, OpDeleteTask, caller, id, func(t Task) Change {
		return l.payout(t, TransferWithdraw, t.Owner, StateRefunded, OutcomeWithdrawn)
	})
}

// AcceptTask assigns caller as the agent.
func (l *Ledger) AcceptTask(ctx context.Context, caller Identity, id TaskID) (Task, error) {
	return l.transition(ctx, OpAcceptTask, caller, id, func(t Task) Task {
		t.Agent = caller.Normalize()
		t.Status = StateAccepted
		return t
	})
}

// AbandonTask clears the agent and reopens the task.
func (l *Ledger) AbandonTask(ctx context.Context, caller Identity, id TaskID) (Task, error) {
	return l.transition(ctx, OpAbandonTask, caller, id, func(t Task) Task {
		t.Agent = ""
		t.Status = StateUninitiated
		return t
	})
}

// TaskSubmitted marks the work as delivered for owner review.
func (l *Ledger) TaskSubmitted(ctx context.Context, caller Identity, id TaskID) (Task, error) {
	return l.transition(ctx, OpTaskSubmitted, caller, id, func(t Task) Task {
		t.Status = StateSubmitted
		return t
	})
}

// AcceptCompletion releases the deposit to the agent.
func (l *Ledger) AcceptCompletion(ctx context.Context, caller Identity, id TaskID) (Settlement, error) {
	return l.settleTask(ctx, OpAcceptCompletion, caller, id, func(t Task) Change {
		return l.payout(t, TransferRelease, t.Agent, StateCompleted, OutcomeReleased)
	})
}

// RaiseDispute hands a submitted task to the arbiter.
func (l *Ledger) RaiseDispute(ctx context.Context, caller Identity, id TaskID) (Task, error) {
	return l.transition(ctx, OpRaiseDispute, caller, id, func(t Task) Task {
		t.Status = StateDisputed
		return t
	})
}

// PayAgent resolves a dispute in the agent's favor.
func (l *Ledger) PayAgent(ctx context.Context, caller Identity, id TaskID) (Settlement, error) {
	return l.settleTask(ctx, OpPayAgent, caller, id, func(t Task) Change {
		return l.payout(t, TransferRelease, t.Agent, StateCompleted, OutcomeArbitratedToAgent)
	})
}

// RefundBeneficiary resolves a task in the owner's favor.
func (l *Ledger) RefundBeneficiary(ctx context.Context, caller Identity, id TaskID) (Settlement, error) {
	return l.settleTask(ctx, OpRefundBeneficiary, caller, id, func(t Task) Change {
		return l.payout(t, TransferRefund, t.Owner, StateRefunded, OutcomeRefunded)
	})
}

// Balance returns the substrate balance of any account.
func (l *Ledger) Balance(ctx context.Context, account Identity) (Amount, error) {
	return l.substrate.Balance(ctx, account.Normalize())
}

// HeldBalance returns the value currently in custody.
func (l *Ledger) HeldBalance(ctx context.Context) (Amount, error) {
	return l.substrate.Balance(ctx, l.escrow)
}

// AuditReport compares custody with the live task mapping.
type AuditReport struct {
	Held         Amount    `json:"held"`
	LiveDeposits Amount    `json:"live_deposits"`
	Balanced     bool      `json:"balanced"`
	CheckedAt    time.Time `json:"checked_at"`
}

// Audit returns ErrImbalance when held value differs from the sum of live deposits.
func (l *Ledger) Audit(ctx context.Context) (AuditReport, error) {
	live, held, err := l.store.Reconcile(ctx, l.HeldBalance)
	if err != nil {
		return AuditReport{}, fmt.Errorf("reconcile custody: %w", err)
	}
	report := AuditReport{Held: held, LiveDeposits: live, Balanced: held == live, CheckedAt: l.now()}
	if !report.Balanced {
		log.Printf("ledger imbalance: held=%d live=%d", held, live)
		return report, fmt.Errorf("%w: held %d, live deposits %d", ErrImbalance, held, live)
	}
	return report, nil
}

// transition applies a state change that moves no value.
func (l *Ledger) transition(ctx context.Context, op Op, caller Identity, id TaskID, next func(Task) Task) (Task, error) {
	change, _, err := l.apply(ctx, op, caller, id, func(t Task) Change {
		return Change{Task: next(t)}
	})
	if err != nil {
		return Task{}, err
	}
	return change.Task, nil
}

// settleTask applies a change that destroys the task and moves its deposit.
func (l *Ledger) settleTask(ctx context.Context, op Op, caller Identity, id TaskID, next func(Task) Change) (Settlement, error) {
	change, receipt, err := l.apply(ctx, op, caller, id, next)
	if err != nil {
		return Settlement{}, err
	}
	return Settlement{
		Task:      change.Task,
		Outcome:   change.Outcome,
		Receipt:   receipt,
		SettledAt: change.Task.UpdatedAt,
	}, nil
}

// apply is the single transactional boundary of every task mutation:
// authorize, write the next state, then transfer.
func (l *Ledger) apply(ctx context.Context, op Op, caller Identity, id TaskID, next func(Task) Change) (Change, Transfer, error) {
	caller = caller.Normalize()
	if caller.IsZero() {
		return Change{}, Transfer{}, l.reject(op, caller, id, ErrNoCaller)
	}
	now := l.now()
	change, receipt, err := l.store.Update(ctx, id, func(t Task) (Change, error) {
		if err := l.auth.Authorize(op, caller, t); err != nil {
			return Change{}, err
		}
		c := next(t)
		c.Task.UpdatedAt = now
		return c, nil
	}, l.settle)
	if err != nil {
		return Change{}, Transfer{}, l.reject(op, caller, id, err)
	}

	var tr *Transfer
	if change.Transfer != nil {
		tr = &receipt
		log.Printf("task %d %s by %s: %s %d to %s", id, strings.ReplaceAll(string(op), "_", " "), caller, receipt.Kind, receipt.Amount, receipt.To)
	} else {
		log.Printf("task %d %s by %s: now %s", id, strings.ReplaceAll(string(op), "_", " "), caller, change.Task.Status)
	}
	l.commit(op, caller, change.Task, tr)
	return change, receipt, nil
}

// payout zeroes the deposit before the transfer is requested.
func (l *Ledger) payout(t Task, kind TransferKind, to Identity, status TaskState, outcome Outcome) Change {
	amount := t.Deposit
	t.Deposit = 0
	t.Status = status
	return Change{
		Task:    t,
		Remove:  true,
		Outcome: outcome,
		Transfer: &TransferRequest{
			TaskID: t.ID,
			Kind:   kind,
			From:   l.escrow,
			To:     to,
			Amount: amount,
		},
	}
}

func (l *Ledger) settle(ctx context.Context, c Change) (Transfer, error) {
	if c.Transfer == nil {
		if c.Remove {
			return Transfer{}, fmt.Errorf("task %d removed without a transfer", c.Task.ID)
		}
		return Transfer{}, nil
	}
	req := *c.Transfer
	if req.TaskID == 0 {
		req.TaskID = c.Task.ID
	}
	return l.substrate.Transfer(ctx, req)
}

// depositRequest moves the attached value of a new task into custody.
func (l *Ledger) depositRequest(t Task) *TransferRequest {
	return &TransferRequest{
		TaskID: t.ID,
		Kind:   TransferDeposit,
		From:   t.Owner,
		To:     l.escrow,
		Amount: t.Deposit,
	}
}

func (l *Ledger) commit(op Op, caller Identity, t Task, tr *Transfer) {
	for _, o := range l.observers {
		o.Committed(op, caller, t, tr)
	}
}

func (l *Ledger) reject(op Op, caller Identity, id TaskID, err error) error {
	for _, o := range l.observers {
		o.Rejected(op, caller, id, err)
	}
	return err
}
