package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"escrow-backend/core/escrow"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "escrow.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
http_addr: ":9000"
arbiter: 0xarbiter
api_keys:
  k1: 0xowner
accounts:
  0xowner: 500
policy:
  owner_may_dispute: true
  refund_states: [Disputed]
request_timeout: 5s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9000" || cfg.RequestTimeout != 5*time.Second {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.StoreDriver != "memory" || cfg.EscrowAccount != "escrow" {
		t.Errorf("defaults not kept: %+v", cfg)
	}

	lc, err := cfg.LedgerConfig()
	if err != nil {
		t.Fatalf("LedgerConfig: %v", err)
	}
	want := escrow.Config{
		Arbiter:       "0xarbiter",
		EscrowAccount: "escrow",
		Policy:        escrow.Policy{OwnerMayDispute: true, RefundStates: []escrow.TaskState{escrow.StateDisputed}},
	}
	if diff := cmp.Diff(want, lc); diff != "" {
		t.Errorf("ledger config mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[escrow.Identity]escrow.Amount{"0xowner": 500}, cfg.SeedBalances()); diff != "" {
		t.Errorf("seed mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "arbiter: from-file\n")
	t.Setenv("ESCROW_ARBITER", "from-env")
	t.Setenv("ESCROW_API_KEYS", "k1=alice, k2=bob")
	t.Setenv("ESCROW_REFUND_STATES", "Uninitiated,Disputed")
	t.Setenv("ESCROW_SHUTDOWN_TIMEOUT_SEC", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Arbiter != "from-env" {
		t.Errorf("expected env arbiter, got %s", cfg.Arbiter)
	}
	if diff := cmp.Diff(map[string]string{"k1": "alice", "k2": "bob"}, cfg.APIKeys); diff != "" {
		t.Errorf("api keys mismatch (-want +got):\n%s", diff)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Errorf("expected 3s shutdown timeout, got %s", cfg.ShutdownTimeout)
	}
	p, _ := cfg.EscrowPolicy()
	if diff := cmp.Diff([]escrow.TaskState{escrow.StateUninitiated, escrow.StateDisputed}, p.RefundStates); diff != "" {
		t.Errorf("refund states mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing arbiter", "store_driver: memory\n"},
		{"postgres without dsn", "arbiter: a\nstore_driver: postgres\n"},
		{"unknown driver", "arbiter: a\nstore_driver: sqlite\n"},
		{"terminal refund state", "arbiter: a\npolicy:\n  refund_states: [Completed]\n"},
		{"unknown refund state", "arbiter: a\npolicy:\n  refund_states: [Paid]\n"},
		{"negative seed", "arbiter: a\naccounts:\n  bob: -1\n"},
		{"seeded escrow account", "arbiter: a\naccounts:\n  escrow: 500\n"},
		{"seeded custom escrow account", "arbiter: a\nescrow_account: vault\naccounts:\n  vault: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateAllowsEmptyEscrowSeed(t *testing.T) {
	if _, err := Load(writeConfig(t, "arbiter: a\naccounts:\n  escrow: 0\n  bob: 10\n")); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestDefaultPolicyRefundsFromEveryLiveState(t *testing.T) {
	t.Setenv("ESCROW_ARBITER", "arb")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, _ := cfg.EscrowPolicy()
	if diff := cmp.Diff(escrow.NonTerminalStates(), p.RefundStates); diff != "" {
		t.Errorf("refund states mismatch (-want +got):\n%s", diff)
	}
}
