package escrow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"escrow-backend/core/escrow"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists the task mapping in Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects and initializes the schema.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := NewSchemaManager(pool).Initialize(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Accounts returns the substrate sharing this store's pool, so transfers
// join the store's transaction.
func (s *PGStore) Accounts() *PGAccounts {
	return NewPGAccounts(s.pool)
}

// Pool exposes the connection pool to other stores sharing the database.
func (s *PGStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Close shuts down the pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

const taskColumns = `id, name, deposit, owner, agent, status, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, t escrow.Task, settle escrow.SettleFunc) (escrow.Task, escrow.Transfer, error) {
	var receipt escrow.Transfer
	err := inTx(ctx, s.pool, func(ctx context.Context, q querier) error {
		err := q.QueryRow(ctx, `
INSERT INTO escrow_tasks (name, deposit, owner, agent, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id
`, t.Name, int64(t.Deposit), string(t.Owner), string(t.Agent), t.Status.String(), t.CreatedAt, t.UpdatedAt).Scan(&t.ID)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		receipt, err = settle(ctx, escrow.Change{Task: t})
		return err
	})
	if err != nil {
		return escrow.Task{}, escrow.Transfer{}, err
	}
	return t, receipt, nil
}

func (s *PGStore) Get(ctx context.Context, id escrow.TaskID) (escrow.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM escrow_tasks WHERE id=$1`, int64(id))
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return escrow.Task{}, notFound(id)
	}
	return t, err
}

func (s *PGStore) List(ctx context.Context, filter escrow.TaskFilter) ([]escrow.Task, error) {
	var status string
	if filter.Status != nil {
		status = filter.Status.String()
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+taskColumns+`
FROM escrow_tasks
WHERE ($1 = '' OR owner = $1)
AND ($2 = '' OR agent = $2)
AND ($3 = '' OR status = $3)
ORDER BY id
`, string(filter.Owner.Normalize()), string(filter.Agent.Normalize()), status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []escrow.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return filter.Page(out), nil
}

// Update locks the row, applies the decided change and settles inside one
// transaction. A removed task is deleted before the transfer runs and its
// settlement is written after, so a failed transfer rolls back both.
func (s *PGStore) Update(ctx context.Context, id escrow.TaskID, decide escrow.DecideFunc, settle escrow.SettleFunc) (escrow.Change, escrow.Transfer, error) {
	var (
		change  escrow.Change
		receipt escrow.Transfer
	)
	err := inTx(ctx, s.pool, func(ctx context.Context, q querier) error {
		row := q.QueryRow(ctx, `SELECT `+taskColumns+` FROM escrow_tasks WHERE id=$1 FOR UPDATE`, int64(id))
		prev, err := scanTask(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(id)
		}
		if err != nil {
			return err
		}

		change, err = decide(prev)
		if err != nil {
			return err
		}
		change.Task.ID = id

		if change.Remove {
			if _, err := q.Exec(ctx, `DELETE FROM escrow_tasks WHERE id=$1`, int64(id)); err != nil {
				return fmt.Errorf("delete task: %w", err)
			}
		} else {
			t := change.Task
			_, err := q.Exec(ctx, `
UPDATE escrow_tasks SET agent=$2, status=$3, updated_at=$4 WHERE id=$1
`, int64(id), string(t.Agent), t.Status.String(), t.UpdatedAt)
			if err != nil {
				return fmt.Errorf("update task: %w", err)
			}
		}

		receipt, err = settle(ctx, change)
		if err != nil {
			return err
		}

		if change.Remove {
			t := change.Task
			_, err := q.Exec(ctx, `
INSERT INTO escrow_settlements (task_id, name, owner, agent, status, outcome, receipt_id, created_at, settled_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, int64(id), t.Name, string(t.Owner), string(t.Agent), t.Status.String(), string(change.Outcome), receipt.ID, t.CreatedAt, t.UpdatedAt)
			if err != nil {
				return fmt.Errorf("archive settlement: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return escrow.Change{}, escrow.Transfer{}, err
	}
	return change, receipt, nil
}

func (s *PGStore) Settlement(ctx context.Context, id escrow.TaskID) (escrow.Settlement, error) {
	var (
		st             escrow.Settlement
		taskID         int64
		owner, agent   string
		status         string
		outcome        string
		kind, from, to string
		amount         int64
		receiptTaskID  int64
	)
	err := s.pool.QueryRow(ctx, `
SELECT s.task_id, s.name, s.owner, s.agent, s.status, s.outcome, s.created_at, s.settled_at,
       t.id, t.task_id, t.kind, t.from_account, t.to_account, t.amount, t.created_at
FROM escrow_settlements s
JOIN escrow_transfers t ON t.id = s.receipt_id
WHERE s.task_id=$1
`, int64(id)).Scan(&taskID, &st.Task.Name, &owner, &agent, &status, &outcome, &st.Task.CreatedAt, &st.SettledAt,
		&st.Receipt.ID, &receiptTaskID, &kind, &from, &to, &amount, &st.Receipt.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return escrow.Settlement{}, fmt.Errorf("%w: no settlement for task %d", escrow.ErrTaskNotFound, id)
	}
	if err != nil {
		return escrow.Settlement{}, err
	}

	state, err := escrow.ParseTaskState(status)
	if err != nil {
		return escrow.Settlement{}, err
	}
	st.Task.ID = escrow.TaskID(taskID)
	st.Task.Owner = escrow.Identity(owner)
	st.Task.Agent = escrow.Identity(agent)
	st.Task.Status = state
	st.Task.UpdatedAt = st.SettledAt
	st.Outcome = escrow.Outcome(outcome)
	st.Receipt.TaskID = escrow.TaskID(receiptTaskID)
	st.Receipt.Kind = escrow.TransferKind(kind)
	st.Receipt.From = escrow.Identity(from)
	st.Receipt.To = escrow.Identity(to)
	st.Receipt.Amount = escrow.Amount(amount)
	return st, nil
}

// Reconcile reads live deposits and the custody balance in one repeatable
// read transaction. held receives a context carrying it, which PGAccounts joins.
func (s *PGStore) Reconcile(ctx context.Context, held escrow.HeldFunc) (escrow.Amount, escrow.Amount, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return 0, 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var live int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(deposit), 0)::BIGINT FROM escrow_tasks`).Scan(&live); err != nil {
		return 0, 0, err
	}
	custody, err := held(withTx(ctx, tx))
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return escrow.Amount(live), custody, nil
}

func scanTask(row pgx.Row) (escrow.Task, error) {
	var (
		t                   escrow.Task
		id, deposit         int64
		owner, agent, state string
	)
	if err := row.Scan(&id, &t.Name, &deposit, &owner, &agent, &state, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return escrow.Task{}, err
	}
	status, err := escrow.ParseTaskState(state)
	if err != nil {
		log.Printf("task %d has unknown status %q", id, state)
		return escrow.Task{}, err
	}
	t.ID = escrow.TaskID(id)
	t.Deposit = escrow.Amount(deposit)
	t.Owner = escrow.Identity(strings.TrimSpace(owner))
	t.Agent = escrow.Identity(strings.TrimSpace(agent))
	t.Status = status
	return t, nil
}
