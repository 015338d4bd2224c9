package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"escrow-backend/core/escrow"
)

// APIKey binds a secret key to the wallet identity it acts for.
type APIKey struct {
	Key       string          `json:"key,omitempty"` // only set on issue
	Wallet    escrow.Identity `json:"wallet"`
	Label     string          `json:"label,omitempty"`
	Source    string          `json:"source,omitempty"` // e.g. "config", "cli"
	CreatedAt time.Time       `json:"created_at"`
}

// KeyResolver maps a presented key to its wallet. Used by the HTTP middleware.
type KeyResolver interface {
	Resolve(ctx context.Context, key string) (APIKey, bool)
}

// ErrKeyNotFound is returned when revoking a key that is not stored.
var ErrKeyNotFound = errors.New("api key not found")

// KeyRevoker deletes keys so they stop resolving.
type KeyRevoker interface {
	Revoke(ctx context.Context, key string) error
}

// KeyIssuer creates new keys for a wallet.
type KeyIssuer interface {
	Issue(ctx context.Context, wallet escrow.Identity, label, source string) (APIKey, error)
}

// APIKeyStore provides in-memory key resolution. Keys are held by hash.
type APIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]APIKey
}

// NewAPIKeyStore constructs an empty store.
func NewAPIKeyStore() *APIKeyStore {
	return &APIKeyStore{keys: make(map[string]APIKey)}
}

// Seed adds a pre-existing key (e.g., from config).
func (s *APIKeyStore) Seed(key string, wallet escrow.Identity, source string) {
	key = strings.TrimSpace(key)
	if key == "" || wallet.IsZero() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[hashKey(key)] = APIKey{Wallet: wallet.Normalize(), Source: source, CreatedAt: time.Now()}
}

// Len returns the number of known keys.
func (s *APIKeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

func (s *APIKeyStore) Resolve(_ context.Context, key string) (APIKey, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return APIKey{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.keys[hashKey(key)]
	return rec, ok
}

// Issue creates and stores a new API key.
func (s *APIKeyStore) Issue(_ context.Context, wallet escrow.Identity, label, source string) (APIKey, error) {
	if wallet.IsZero() {
		return APIKey{}, fmt.Errorf("wallet required")
	}
	key, err := generateKey()
	if err != nil {
		return APIKey{}, err
	}
	rec := APIKey{Wallet: wallet.Normalize(), Label: label, Source: source, CreatedAt: time.Now()}
	s.mu.Lock()
	s.keys[hashKey(key)] = rec
	s.mu.Unlock()
	rec.Key = key
	return rec, nil
}

// Revoke removes a key.
func (s *APIKeyStore) Revoke(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := hashKey(strings.TrimSpace(key))
	if _, ok := s.keys[h]; !ok {
		return ErrKeyNotFound
	}
	delete(s.keys, h)
	return nil
}

func generateKey() (string, error) {
	b := make([]byte, 32) // 256-bit key
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashKey is unsalted so a presented key can be looked up directly; keys are
// 256-bit random values.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
