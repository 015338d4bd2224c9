package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"escrow-backend/core/escrow"
	scstore "escrow-backend/storage/escrow"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCountsLedgerOperations(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()
	accounts := scstore.NewMemoryAccounts(map[escrow.Identity]escrow.Amount{"owner": 100})
	l, err := escrow.NewLedger(escrow.Config{Arbiter: "arb", EscrowAccount: "escrow"}, scstore.NewMemoryStore(), accounts, rec)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}

	task, err := l.AddTask(ctx, "owner", "x", 40)
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	l.AcceptTask(ctx, "agent", task.ID)
	l.TaskSubmitted(ctx, "agent", task.ID)
	l.AcceptCompletion(ctx, "agent", task.ID)
	if _, err := l.AcceptCompletion(ctx, "owner", task.ID); err != nil {
		t.Fatalf("AcceptCompletion: %v", err)
	}

	if got := testutil.ToFloat64(rec.ops.WithLabelValues("add_task", "ok", "")); got != 1 {
		t.Errorf("expected 1 add_task, got %v", got)
	}
	if got := testutil.ToFloat64(rec.ops.WithLabelValues("accept_completion", "rejected", escrow.CodeNotOwner)); got != 1 {
		t.Errorf("expected 1 rejected completion, got %v", got)
	}
	if got := testutil.ToFloat64(rec.moved.WithLabelValues("release")); got != 40 {
		t.Errorf("expected 40 released, got %v", got)
	}
	if got := testutil.ToFloat64(rec.live); got != 0 {
		t.Errorf("expected no live deposits, got %v", got)
	}

	rec.Refresh(ctx, l)
	if got := testutil.ToFloat64(rec.held); got != 0 {
		t.Errorf("expected held 0, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	rec := NewRecorder()
	rec.Rejected(escrow.OpGetTask, "x", 1, escrow.ErrTaskNotFound)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `escrow_operations_total{code="NOT_FOUND",op="get_task",result="rejected"} 1`) {
		t.Errorf("metric missing from output:\n%s", w.Body.String())
	}
}
