package escrow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"escrow-backend/core/escrow"

	"github.com/google/uuid"
)

// MemoryAccounts is an in-process value transfer substrate.
type MemoryAccounts struct {
	mu       sync.Mutex
	balances map[escrow.Identity]escrow.Amount
	journal  []escrow.Transfer
}

// NewMemoryAccounts seeds the given balances.
func NewMemoryAccounts(seed map[escrow.Identity]escrow.Amount) *MemoryAccounts {
	a := &MemoryAccounts{balances: make(map[escrow.Identity]escrow.Amount, len(seed))}
	for id, amount := range seed {
		a.balances[id.Normalize()] += amount
	}
	return a
}

// Mint credits value from outside the ledger (faucet, seed data).
func (a *MemoryAccounts) Mint(_ context.Context, account escrow.Identity, amount escrow.Amount) error {
	if account.IsZero() {
		return fmt.Errorf("mint: account required")
	}
	if amount <= 0 {
		return fmt.Errorf("mint: invalid amount %d", amount)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[account.Normalize()] += amount
	return nil
}

// Transfer moves value between two accounts or fails with no effect.
func (a *MemoryAccounts) Transfer(_ context.Context, req escrow.TransferRequest) (escrow.Transfer, error) {
	if err := validateTransfer(req); err != nil {
		return escrow.Transfer{}, err
	}
	from, to := req.From.Normalize(), req.To.Normalize()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.balances[from] < req.Amount {
		return escrow.Transfer{}, fmt.Errorf("%w: %s holds %d, needs %d", escrow.ErrInsufficient, from, a.balances[from], req.Amount)
	}
	a.balances[from] -= req.Amount
	a.balances[to] += req.Amount

	tr := escrow.Transfer{
		ID:        uuid.NewString(),
		TaskID:    req.TaskID,
		Kind:      req.Kind,
		From:      from,
		To:        to,
		Amount:    req.Amount,
		CreatedAt: time.Now(),
	}
	a.journal = append(a.journal, tr)
	return tr, nil
}

func (a *MemoryAccounts) Balance(_ context.Context, account escrow.Identity) (escrow.Amount, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balances[account.Normalize()], nil
}

// Journal returns the transfers of one task, or all transfers when id is zero.
func (a *MemoryAccounts) Journal(_ context.Context, id escrow.TaskID) ([]escrow.Transfer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]escrow.Transfer, 0, len(a.journal))
	for _, tr := range a.journal {
		if id == 0 || tr.TaskID == id {
			out = append(out, tr)
		}
	}
	return out, nil
}

func validateTransfer(req escrow.TransferRequest) error {
	if req.From.IsZero() || req.To.IsZero() {
		return fmt.Errorf("transfer: from and to accounts are required")
	}
	if req.From.Normalize() == req.To.Normalize() {
		return fmt.Errorf("transfer: from and to must differ (%s)", req.From)
	}
	if req.Amount <= 0 {
		return fmt.Errorf("transfer: invalid amount %d", req.Amount)
	}
	return nil
}
