package escrow

import (
	"fmt"
	"strings"
	"time"
)

// TaskID is the ledger-assigned handle of a task. IDs start at 1 and are never reused.
type TaskID int64

// Identity is a caller or account identity (wallet address, public key, ...).
type Identity string

// Normalize trims surrounding whitespace.
func (i Identity) Normalize() Identity {
	return Identity(strings.TrimSpace(string(i)))
}

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool {
	return strings.TrimSpace(string(i)) == ""
}

// Amount is a quantity of the single custodied asset in base units.
type Amount int64

// TaskState is the lifecycle state of a task.
type TaskState int

const (
	StateUninitiated TaskState = iota
	StateAccepted
	StateSubmitted
	StateCompleted
	StateDisputed
	StateRefunded
)

var stateNames = map[TaskState]string{
	StateUninitiated: "Uninitiated",
	StateAccepted:    "Accepted",
	StateSubmitted:   "Submitted",
	StateCompleted:   "Completed",
	StateDisputed:    "Disputed",
	StateRefunded:    "Refunded",
}

func (s TaskState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TaskState(%d)", int(s))
}

// Terminal reports whether value has left the ledger for a task in this state.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateRefunded
}

// ParseTaskState accepts the state name in any case.
func ParseTaskState(raw string) (TaskState, error) {
	for state, name := range stateNames {
		if strings.EqualFold(strings.TrimSpace(raw), name) {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown task state %q", raw)
}

// NonTerminalStates lists every state a live task can be in.
func NonTerminalStates() []TaskState {
	return []TaskState{StateUninitiated, StateAccepted, StateSubmitted, StateDisputed}
}

func (s TaskState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TaskState) UnmarshalText(b []byte) error {
	parsed, err := ParseTaskState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Task is one escrow engagement.
type Task struct {
	ID        TaskID    `json:"id"`
	Name      string    `json:"name"`
	Deposit   Amount    `json:"deposit"`
	Owner     Identity  `json:"owner"`
	Agent     Identity  `json:"agent,omitempty"`
	Status    TaskState `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasAgent reports whether an agent has accepted the task.
func (t Task) HasAgent() bool {
	return !t.Agent.IsZero()
}

// TransferKind classifies a movement of value in or out of custody.
type TransferKind string

const (
	TransferDeposit  TransferKind = "deposit"  // owner -> escrow on addTask
	TransferWithdraw TransferKind = "withdraw" // escrow -> owner on deleteTask
	TransferRelease  TransferKind = "release"  // escrow -> agent on acceptCompletion / payAgent
	TransferRefund   TransferKind = "refund"   // escrow -> owner on refundBeneficiary
)

// Transfer is a receipt of value moved by the substrate.
type Transfer struct {
	ID        string       `json:"id"`
	TaskID    TaskID       `json:"task_id"`
	Kind      TransferKind `json:"kind"`
	From      Identity     `json:"from"`
	To        Identity     `json:"to"`
	Amount    Amount       `json:"amount"`
	CreatedAt time.Time    `json:"created_at"`
}

// Outcome records how a task left the live mapping.
type Outcome string

const (
	OutcomeWithdrawn         Outcome = "withdrawn"
	OutcomeReleased          Outcome = "released"
	OutcomeArbitratedToAgent Outcome = "arbitrated_to_agent"
	OutcomeRefunded          Outcome = "refunded"
)

// Settlement is the archived final state of a destroyed task.
type Settlement struct {
	Task      Task      `json:"task"`
	Outcome   Outcome   `json:"outcome"`
	Receipt   Transfer  `json:"receipt"`
	SettledAt time.Time `json:"settled_at"`
}

// TaskFilter captures list filters for live tasks.
type TaskFilter struct {
	Owner  Identity
	Agent  Identity
	Status *TaskState
	Limit  int
	Offset int
}

// Matches reports whether t passes the filter's owner, agent and status constraints.
func (f TaskFilter) Matches(t Task) bool {
	if !f.Owner.IsZero() && t.Owner != f.Owner.Normalize() {
		return false
	}
	if !f.Agent.IsZero() && t.Agent != f.Agent.Normalize() {
		return false
	}
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	return true
}

// Page applies offset and limit to an already filtered, id-ordered slice.
func (f TaskFilter) Page(tasks []Task) []Task {
	if f.Offset > 0 {
		if f.Offset >= len(tasks) {
			return nil
		}
		tasks = tasks[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(tasks) {
		tasks = tasks[:f.Limit]
	}
	return tasks
}

// Event is a lightweight activity entry emitted after each ledger operation.
type Event struct {
	Type      string    `json:"type"`    // add_task | accept_task | ... | reject
	TaskID    TaskID    `json:"task_id"` // zero when the task was never created
	Actor     Identity  `json:"actor"`
	Message   string    `json:"message"`
	Amount    Amount    `json:"amount,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
