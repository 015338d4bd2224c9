package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"escrow-backend/config"
	"escrow-backend/core/escrow"
	auth "escrow-backend/storage/auth"

	"github.com/spf13/cobra"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Arbiter = "arbiter"
	cfg.Accounts = map[string]int64{"owner": 500}
	return cfg
}

func TestOpenAppMemory(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.APIKeys = map[string]string{"owner-key": "owner"}

	a, err := openApp(ctx, cfg)
	if err != nil {
		t.Fatalf("openApp: %v", err)
	}
	defer a.Close()

	if a.recorder == nil || a.keys == nil || a.journal == nil {
		t.Fatalf("expected metrics, keys and journal to be wired")
	}
	if a.issuer != nil || a.revoker != nil {
		t.Errorf("memory mode should not issue or revoke keys")
	}
	key, ok := a.keys.Resolve(ctx, "owner-key")
	if !ok || key.Wallet != "owner" {
		t.Fatalf("expected owner-key to resolve to owner, got %+v %v", key, ok)
	}
	if _, err := a.ledger.AddTask(ctx, "owner", "Ship it", 200); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if got := a.feed.Recent(1); len(got) != 1 || got[0].Type != string(escrow.OpAddTask) {
		t.Errorf("expected add_task event, got %+v", got)
	}
}

func TestOpenAppWithoutKeysTrustsCallerHeader(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics = false
	a, err := openApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openApp: %v", err)
	}
	defer a.Close()
	if a.keys != nil {
		t.Fatalf("expected nil resolver without configured keys")
	}

	h := a.handler(0)
	req := httptest.NewRequest(http.MethodPost, "/api/escrow/tasks", strings.NewReader(`{"name":"Docs","value":50}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caller", "owner")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("metrics disabled: expected 404, got %d", rec.Code)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	a, err := openApp(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("openApp: %v", err)
	}
	defer a.Close()

	rec := httptest.NewRecorder()
	a.handler(0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "escrow_held_balance") {
		t.Errorf("expected escrow metrics in output")
	}
}

func TestAuditCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "escrow.yaml")
	if err := os.WriteFile(path, []byte("arbiter: arbiter\naccounts:\n  owner: 10\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"audit", "--config", path})
	defer rootCmd.SetArgs(nil)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !strings.Contains(out.String(), "balanced") {
		t.Errorf("unexpected audit output:\n%s", out.String())
	}
}

func TestKeysIssueRequiresPersistentStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "escrow.yaml")
	if err := os.WriteFile(path, []byte("arbiter: arbiter\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"keys", "issue", "--wallet", "owner", "--config", path})
	defer rootCmd.SetArgs(nil)
	err := rootCmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Fatalf("expected postgres requirement error, got %v", err)
	}
}

func TestKeysRevokeRequiresPersistentStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "escrow.yaml")
	if err := os.WriteFile(path, []byte("arbiter: arbiter\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"keys", "revoke", "--key", "abc", "--config", path})
	defer rootCmd.SetArgs(nil)
	err := rootCmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Fatalf("expected postgres requirement error, got %v", err)
	}
}

func TestRevokeKey(t *testing.T) {
	ctx := context.Background()
	keys := auth.NewAPIKeyStore()
	issued, err := keys.Issue(ctx, "owner", "laptop", "cli")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(ctx)

	if err := revokeKey(cmd, keys, issued.Key); err != nil {
		t.Fatalf("revokeKey: %v", err)
	}
	if !strings.Contains(out.String(), "Key revoked") {
		t.Errorf("unexpected output %q", out.String())
	}
	if _, ok := keys.Resolve(ctx, issued.Key); ok {
		t.Error("revoked key still resolves")
	}
	if err := revokeKey(cmd, keys, issued.Key); err == nil || !strings.Contains(err.Error(), "no such key") {
		t.Errorf("expected unknown key error, got %v", err)
	}
}
