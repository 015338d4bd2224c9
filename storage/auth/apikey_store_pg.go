package auth

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"escrow-backend/core/escrow"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGAPIKeyStore persists API keys in Postgres. Only the key hash is stored.
type PGAPIKeyStore struct {
	pool *pgxpool.Pool
}

// NewPGAPIKeyStore initializes the schema on an existing pool.
func NewPGAPIKeyStore(ctx context.Context, pool *pgxpool.Pool) (*PGAPIKeyStore, error) {
	s := &PGAPIKeyStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("init api key schema: %w", err)
	}
	return s, nil
}

func (s *PGAPIKeyStore) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS escrow_api_keys (
  key_hash TEXT PRIMARY KEY,
  wallet TEXT NOT NULL,
  label TEXT NOT NULL DEFAULT '',
  source TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_escrow_api_keys_wallet ON escrow_api_keys(wallet);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PGAPIKeyStore) Resolve(ctx context.Context, key string) (APIKey, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return APIKey{}, false
	}
	var (
		rec    APIKey
		wallet string
	)
	err := s.pool.QueryRow(ctx,
		"SELECT wallet, label, source, created_at FROM escrow_api_keys WHERE key_hash=$1",
		hashKey(key),
	).Scan(&wallet, &rec.Label, &rec.Source, &rec.CreatedAt)
	if err != nil {
		return APIKey{}, false
	}
	rec.Wallet = escrow.Identity(wallet)
	return rec, true
}

// Issue implements KeyIssuer.
func (s *PGAPIKeyStore) Issue(ctx context.Context, wallet escrow.Identity, label, source string) (APIKey, error) {
	if wallet.IsZero() {
		return APIKey{}, fmt.Errorf("wallet required")
	}
	key, err := generateKey()
	if err != nil {
		return APIKey{}, err
	}
	rec := APIKey{
		Key:       key,
		Wallet:    wallet.Normalize(),
		Label:     label,
		Source:    source,
		CreatedAt: time.Now(),
	}
	_, err = s.pool.Exec(ctx,
		"INSERT INTO escrow_api_keys (key_hash, wallet, label, source, created_at) VALUES ($1,$2,$3,$4,$5)",
		hashKey(key), string(rec.Wallet), rec.Label, rec.Source, rec.CreatedAt)
	if err != nil {
		return APIKey{}, err
	}
	return rec, nil
}

// Revoke deletes a key.
func (s *PGAPIKeyStore) Revoke(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM escrow_api_keys WHERE key_hash=$1", hashKey(strings.TrimSpace(key)))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// Seed inserts a provided key if not present.
func (s *PGAPIKeyStore) Seed(ctx context.Context, key string, wallet escrow.Identity, source string) {
	if strings.TrimSpace(key) == "" || wallet.IsZero() {
		return
	}
	_, err := s.pool.Exec(ctx,
		"INSERT INTO escrow_api_keys (key_hash, wallet, source, created_at) VALUES ($1,$2,$3,$4) ON CONFLICT DO NOTHING",
		hashKey(strings.TrimSpace(key)), string(wallet.Normalize()), source, time.Now())
	if err != nil {
		log.Printf("seed api key for %s: %v", wallet, err)
	}
}
