package mcp

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"

	"escrow-backend/core/escrow"
	scstore "escrow-backend/storage/escrow"

	"github.com/google/go-cmp/cmp"
	"github.com/mark3labs/mcp-go/mcp"
)

func newTestMCPServer(t *testing.T, identity escrow.Identity) (*MCPServer, *escrow.Ledger) {
	t.Helper()
	accounts := scstore.NewMemoryAccounts(map[escrow.Identity]escrow.Amount{"owner": 1000})
	l, err := escrow.NewLedger(escrow.Config{Arbiter: "arbiter", EscrowAccount: "escrow", Policy: escrow.DefaultPolicy()},
		scstore.NewMemoryStore(), accounts)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	return NewMCPServer(l, identity), l
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return text.Text
}

func call(t *testing.T, s *MCPServer, name string, args map[string]interface{}) (string, bool) {
	t.Helper()
	res, err := s.CallTool(context.Background(), name, args)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return resultText(t, res), res.IsError
}

func toolErrorCode(t *testing.T, text string) string {
	t.Helper()
	var body map[string]ToolError
	if err := json.Unmarshal([]byte(text), &body); err != nil {
		t.Fatalf("decode tool error %q: %v", text, err)
	}
	return body["error"].Code
}

func TestRegisteredTools(t *testing.T) {
	s, _ := newTestMCPServer(t, "")
	got := s.ToolNames()
	sort.Strings(got)
	want := []string{
		"abandon_task", "accept_completion", "accept_task", "add_task", "agent_to_task", "audit",
		"delete_task", "get_balance", "get_settlement", "get_task", "list_tasks", "pay_agent",
		"raise_dispute", "refund_beneficiary", "task_submitted",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tools mismatch (-want +got):\n%s", diff)
	}
}

func TestToolLifecycle(t *testing.T) {
	s, l := newTestMCPServer(t, "")

	text, isErr := call(t, s, "add_task", map[string]interface{}{"caller": "owner", "name": "Write docs", "value": float64(100)})
	if isErr {
		t.Fatalf("add_task failed: %s", text)
	}
	var task escrow.Task
	if err := json.Unmarshal([]byte(text), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.ID != 1 || task.Deposit != 100 {
		t.Fatalf("unexpected task %+v", task)
	}

	steps := []struct {
		tool   string
		caller string
	}{
		{"accept_task", "agent"},
		{"task_submitted", "agent"},
		{"raise_dispute", "agent"},
		{"pay_agent", "arbiter"},
	}
	for _, step := range steps {
		if text, isErr := call(t, s, step.tool, map[string]interface{}{"caller": step.caller, "task_id": float64(1)}); isErr {
			t.Fatalf("%s failed: %s", step.tool, text)
		}
	}

	text, isErr = call(t, s, "get_settlement", map[string]interface{}{"task_id": "1"})
	if isErr {
		t.Fatalf("get_settlement failed: %s", text)
	}
	if !strings.Contains(text, string(escrow.OutcomeArbitratedToAgent)) {
		t.Errorf("expected arbitrated outcome, got %s", text)
	}

	if b, _ := l.Balance(context.Background(), "agent"); b != 100 {
		t.Errorf("expected agent balance 100, got %d", b)
	}
	text, isErr = call(t, s, "audit", nil)
	if isErr || !strings.Contains(text, `"balanced": true`) {
		t.Errorf("expected balanced audit, got %s", text)
	}
}

func TestToolErrors(t *testing.T) {
	s, _ := newTestMCPServer(t, "")
	if text, isErr := call(t, s, "add_task", map[string]interface{}{"caller": "owner", "value": float64(10)}); isErr {
		t.Fatalf("add_task failed: %s", text)
	}

	tests := []struct {
		name string
		tool string
		args map[string]interface{}
		code string
	}{
		{"missing caller", "accept_task", map[string]interface{}{"task_id": float64(1)}, ErrCodeMissingRequired},
		{"missing task id", "accept_task", map[string]interface{}{"caller": "agent"}, ErrCodeMissingRequired},
		{"bad task id", "get_task", map[string]interface{}{"task_id": "abc"}, ErrCodeInvalidValue},
		{"fractional value", "add_task", map[string]interface{}{"caller": "owner", "value": 1.5}, ErrCodeInvalidValue},
		{"zero deposit", "add_task", map[string]interface{}{"caller": "owner", "value": float64(0)}, escrow.CodeNoFunds},
		{"unknown task", "get_task", map[string]interface{}{"task_id": float64(99)}, escrow.CodeNotFound},
		{"escrow account cannot accept", "accept_task", map[string]interface{}{"caller": "escrow", "task_id": float64(1)}, escrow.CodeNotAgent},
		{"owner cannot accept", "accept_task", map[string]interface{}{"caller": "owner", "task_id": float64(1)}, escrow.CodeNotAgent},
		{"not submitted", "accept_completion", map[string]interface{}{"caller": "owner", "task_id": float64(1)}, escrow.CodeWrongState},
		{"arbiter only", "refund_beneficiary", map[string]interface{}{"caller": "owner", "task_id": float64(1)}, escrow.CodeNotArbiter},
		{"bad status filter", "list_tasks", map[string]interface{}{"status": "finished"}, ErrCodeInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := call(t, s, tt.tool, tt.args)
			if !isErr {
				t.Fatalf("expected error result, got %s", text)
			}
			if got := toolErrorCode(t, text); got != tt.code {
				t.Errorf("expected code %s, got %s (%s)", tt.code, got, text)
			}
		})
	}
}

func TestBoundIdentity(t *testing.T) {
	s, l := newTestMCPServer(t, "owner")

	text, isErr := call(t, s, "add_task", map[string]interface{}{"caller": "someone-else", "value": float64(40)})
	if isErr {
		t.Fatalf("add_task failed: %s", text)
	}
	task, err := l.GetTask(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Owner != "owner" {
		t.Errorf("expected bound owner, got %s", task.Owner)
	}

	text, isErr = call(t, s, "list_tasks", map[string]interface{}{"owner": "owner", "status": "uninitiated"})
	if isErr || !strings.Contains(text, `"total_count": 1`) {
		t.Errorf("unexpected list result %s", text)
	}
	text, isErr = call(t, s, "delete_task", map[string]interface{}{"task_id": float64(1)})
	if isErr {
		t.Fatalf("delete_task failed: %s", text)
	}
	if b, _ := l.Balance(context.Background(), "owner"); b != 1000 {
		t.Errorf("expected refunded owner balance 1000, got %d", b)
	}
}
