package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow-backend/core/escrow"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGAccounts is a Postgres-backed value transfer substrate. Transfers join
// the transaction carried in ctx when the store started one.
type PGAccounts struct {
	pool *pgxpool.Pool
}

// NewPGAccounts uses an already initialized pool.
func NewPGAccounts(pool *pgxpool.Pool) *PGAccounts {
	return &PGAccounts{pool: pool}
}

// Mint credits value from outside the ledger (faucet, seed data).
func (a *PGAccounts) Mint(ctx context.Context, account escrow.Identity, amount escrow.Amount) error {
	if account.IsZero() {
		return fmt.Errorf("mint: account required")
	}
	if amount <= 0 {
		return fmt.Errorf("mint: invalid amount %d", amount)
	}
	return inTx(ctx, a.pool, func(ctx context.Context, q querier) error {
		return credit(ctx, q, account.Normalize(), amount)
	})
}

// SeedOnce mints amount into account unless the account was seeded before.
// The seed is recorded in escrow_seeds, so an account drained to zero is not
// topped up again on restart. It reports whether value was minted.
func (a *PGAccounts) SeedOnce(ctx context.Context, account escrow.Identity, amount escrow.Amount) (bool, error) {
	if account.IsZero() {
		return false, fmt.Errorf("seed: account required")
	}
	if amount <= 0 {
		return false, fmt.Errorf("seed: invalid amount %d", amount)
	}
	var minted bool
	err := inTx(ctx, a.pool, func(ctx context.Context, q querier) error {
		tag, err := q.Exec(ctx, `
INSERT INTO escrow_seeds (account, amount) VALUES ($1, $2)
ON CONFLICT (account) DO NOTHING
`, string(account.Normalize()), int64(amount))
		if err != nil {
			return fmt.Errorf("record seed %s: %w", account, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		minted = true
		return credit(ctx, q, account.Normalize(), amount)
	})
	if err != nil {
		return false, err
	}
	return minted, nil
}

func (a *PGAccounts) Transfer(ctx context.Context, req escrow.TransferRequest) (escrow.Transfer, error) {
	if err := validateTransfer(req); err != nil {
		return escrow.Transfer{}, err
	}
	tr := escrow.Transfer{
		ID:        uuid.NewString(),
		TaskID:    req.TaskID,
		Kind:      req.Kind,
		From:      req.From.Normalize(),
		To:        req.To.Normalize(),
		Amount:    req.Amount,
		CreatedAt: time.Now(),
	}
	err := inTx(ctx, a.pool, func(ctx context.Context, q querier) error {
		tag, err := q.Exec(ctx, `
UPDATE escrow_accounts SET balance = balance - $2
WHERE account = $1 AND balance >= $2
`, string(tr.From), int64(tr.Amount))
		if err != nil {
			return fmt.Errorf("debit %s: %w", tr.From, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s cannot cover %d", escrow.ErrInsufficient, tr.From, tr.Amount)
		}
		if err := credit(ctx, q, tr.To, tr.Amount); err != nil {
			return err
		}
		_, err = q.Exec(ctx, `
INSERT INTO escrow_transfers (id, task_id, kind, from_account, to_account, amount, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, tr.ID, int64(tr.TaskID), string(tr.Kind), string(tr.From), string(tr.To), int64(tr.Amount), tr.CreatedAt)
		if err != nil {
			return fmt.Errorf("journal transfer: %w", err)
		}
		return nil
	})
	if err != nil {
		return escrow.Transfer{}, err
	}
	return tr, nil
}

func (a *PGAccounts) Balance(ctx context.Context, account escrow.Identity) (escrow.Amount, error) {
	var q querier = a.pool
	if tx, ok := txFrom(ctx); ok {
		q = tx
	}
	var balance int64
	err := q.QueryRow(ctx, `SELECT balance FROM escrow_accounts WHERE account=$1`, string(account.Normalize())).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return escrow.Amount(balance), nil
}

// Journal returns the transfers of one task, or all transfers when id is zero.
func (a *PGAccounts) Journal(ctx context.Context, id escrow.TaskID) ([]escrow.Transfer, error) {
	rows, err := a.pool.Query(ctx, `
SELECT id, task_id, kind, from_account, to_account, amount, created_at
FROM escrow_transfers
WHERE ($1 = 0 OR task_id = $1)
ORDER BY created_at, id
`, int64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []escrow.Transfer
	for rows.Next() {
		var (
			tr             escrow.Transfer
			taskID, amount int64
			kind, from, to string
		)
		if err := rows.Scan(&tr.ID, &taskID, &kind, &from, &to, &amount, &tr.CreatedAt); err != nil {
			return nil, err
		}
		tr.TaskID = escrow.TaskID(taskID)
		tr.Kind = escrow.TransferKind(kind)
		tr.From = escrow.Identity(from)
		tr.To = escrow.Identity(to)
		tr.Amount = escrow.Amount(amount)
		out = append(out, tr)
	}
	return out, rows.Err()
}

func credit(ctx context.Context, q querier, account escrow.Identity, amount escrow.Amount) error {
	_, err := q.Exec(ctx, `
INSERT INTO escrow_accounts (account, balance) VALUES ($1, $2)
ON CONFLICT (account) DO UPDATE SET balance = escrow_accounts.balance + EXCLUDED.balance
`, string(account), int64(amount))
	if err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	return nil
}
