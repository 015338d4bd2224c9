package auth

import (
	"context"
	"errors"
	"testing"
)

func TestAPIKeyStoreIssueResolve(t *testing.T) {
	ctx := context.Background()
	s := NewAPIKeyStore()

	rec, err := s.Issue(ctx, " 0xowner ", "laptop", "cli")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(rec.Key) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(rec.Key))
	}

	got, ok := s.Resolve(ctx, rec.Key)
	if !ok {
		t.Fatal("issued key not resolved")
	}
	if got.Wallet != "0xowner" || got.Label != "laptop" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.Key != "" {
		t.Error("resolved record must not carry the key")
	}

	if err := s.Revoke(ctx, rec.Key); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, ok := s.Resolve(ctx, rec.Key); ok {
		t.Error("revoked key still resolves")
	}
	if err := s.Revoke(ctx, rec.Key); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound on second revoke, got %v", err)
	}
}

func TestAPIKeyStoreSeed(t *testing.T) {
	ctx := context.Background()
	s := NewAPIKeyStore()
	s.Seed("k1", "alice", "config")
	s.Seed("", "bob", "config")
	s.Seed("k2", "", "config")

	if s.Len() != 1 {
		t.Fatalf("expected 1 key, got %d", s.Len())
	}
	rec, ok := s.Resolve(ctx, " k1 ")
	if !ok || rec.Wallet != "alice" {
		t.Errorf("expected alice, got %+v %v", rec, ok)
	}
	if _, ok := s.Resolve(ctx, "k3"); ok {
		t.Error("unknown key resolved")
	}
	if _, err := s.Issue(ctx, "", "", "cli"); err == nil {
		t.Error("expected error issuing without wallet")
	}
}
