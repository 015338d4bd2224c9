package escrow

import "context"

// TransferRequest asks the substrate to move value for a task.
type TransferRequest struct {
	TaskID TaskID
	Kind   TransferKind
	From   Identity
	To     Identity
	Amount Amount
}

// Change is the decided outcome of an operation on a task.
type Change struct {
	Task     Task             // next state of the task
	Remove   bool             // drop the task from the live mapping and archive a settlement
	Outcome  Outcome          // set when Remove
	Transfer *TransferRequest // value to move once the change is written
}

// SettleFunc moves the value a change requires. Stores call it after writing
// the change and before committing, inside the same transaction.
type SettleFunc func(ctx context.Context, c Change) (Transfer, error)

// DecideFunc inspects the current task and returns the change to apply.
// Returning an error aborts the transaction with nothing written.
type DecideFunc func(t Task) (Change, error)

// HeldFunc reads the custody balance. Stores pass a context carrying their
// snapshot so the substrate can read inside it.
type HeldFunc func(ctx context.Context) (Amount, error)

// Store persists the live task mapping and the settlement archive.
//
// Implementations serialize Update calls for the same task id and run
// decide, the write and settle as one atomic unit: if settle fails nothing
// is written.
type Store interface {
	// Create assigns the next id to t, writes it and settles the deposit.
	Create(ctx context.Context, t Task, settle SettleFunc) (Task, Transfer, error)
	Get(ctx context.Context, id TaskID) (Task, error)
	List(ctx context.Context, filter TaskFilter) ([]Task, error)
	Update(ctx context.Context, id TaskID, decide DecideFunc, settle SettleFunc) (Change, Transfer, error)
	Settlement(ctx context.Context, id TaskID) (Settlement, error)
	// Reconcile sums the deposit of every live task and calls held within
	// the same snapshot: no Create or Update commits between the two reads.
	Reconcile(ctx context.Context, held HeldFunc) (live, custody Amount, err error)
	Close()
}

// Substrate moves value between accounts. A transfer either completes fully
// or returns an error with no effect.
type Substrate interface {
	Transfer(ctx context.Context, req TransferRequest) (Transfer, error)
	Balance(ctx context.Context, account Identity) (Amount, error)
}

// Observer is notified after every ledger operation.
type Observer interface {
	Committed(op Op, caller Identity, t Task, transfer *Transfer)
	Rejected(op Op, caller Identity, id TaskID, err error)
}
