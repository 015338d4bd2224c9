package escrow

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaManager handles database schema migrations
type SchemaManager struct {
	pool *pgxpool.Pool
}

// NewSchemaManager creates a new schema manager
func NewSchemaManager(pool *pgxpool.Pool) *SchemaManager {
	return &SchemaManager{pool: pool}
}

// Initialize creates the database schema
func (m *SchemaManager) Initialize(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, m.getSchema())
	return err
}

// getSchema returns the complete database schema
func (m *SchemaManager) getSchema() string {
	return `
-- Live tasks; BIGSERIAL never hands out a deleted id again
CREATE TABLE IF NOT EXISTS escrow_tasks (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  deposit BIGINT NOT NULL CHECK (deposit > 0),
  owner TEXT NOT NULL,
  agent TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);

-- Settled tasks, written in the same transaction as the payout
CREATE TABLE IF NOT EXISTS escrow_settlements (
  task_id BIGINT PRIMARY KEY,
  name TEXT NOT NULL,
  owner TEXT NOT NULL,
  agent TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  outcome TEXT NOT NULL,
  receipt_id TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  settled_at TIMESTAMPTZ NOT NULL
);

-- Substrate accounts
CREATE TABLE IF NOT EXISTS escrow_accounts (
  account TEXT PRIMARY KEY,
  balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0)
);

-- Configured seed balances, minted once per account
CREATE TABLE IF NOT EXISTS escrow_seeds (
  account TEXT PRIMARY KEY,
  amount BIGINT NOT NULL CHECK (amount > 0),
  seeded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Transfer journal
CREATE TABLE IF NOT EXISTS escrow_transfers (
  id TEXT PRIMARY KEY,
  task_id BIGINT NOT NULL,
  kind TEXT NOT NULL,
  from_account TEXT NOT NULL,
  to_account TEXT NOT NULL,
  amount BIGINT NOT NULL CHECK (amount > 0),
  created_at TIMESTAMPTZ NOT NULL
);

-- Indexes for performance
CREATE INDEX IF NOT EXISTS idx_escrow_tasks_owner ON escrow_tasks(owner);
CREATE INDEX IF NOT EXISTS idx_escrow_tasks_agent_status ON escrow_tasks(agent, status);
CREATE INDEX IF NOT EXISTS idx_escrow_transfers_task ON escrow_transfers(task_id);
`
}
