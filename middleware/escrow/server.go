package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"escrow-backend/core/escrow"
	"escrow-backend/middleware"
	"escrow-backend/services"
)

// Journal lists substrate transfers. Both account substrates implement it.
type Journal interface {
	Journal(ctx context.Context, id escrow.TaskID) ([]escrow.Transfer, error)
}

// Server wires the HTTP API onto a ledger.
type Server struct {
	ledger  *escrow.Ledger
	feed    *EventFeed
	journal Journal
	qr      *services.QRCodeService
	health  *services.HealthService
}

// TaskCreateBody is the payload of POST /api/escrow/tasks.
type TaskCreateBody struct {
	Name  string        `json:"name"`
	Value escrow.Amount `json:"value"`
}

// NewServer builds a Server. feed and journal may be nil.
func NewServer(ledger *escrow.Ledger, feed *EventFeed, journal Journal) *Server {
	return &Server{
		ledger:  ledger,
		feed:    feed,
		journal: journal,
		qr:      services.NewQRCodeService(),
		health:  services.NewHealthService(ledger),
	}
}

// RegisterRoutes attaches handlers to the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/escrow/config", s.handleConfig)
	mux.HandleFunc("/api/escrow/tasks", s.authWrap(s.handleTasks))
	mux.HandleFunc("/api/escrow/tasks/", s.authWrap(s.handleTasks))
	mux.HandleFunc("/api/escrow/accounts/", s.handleAccounts)
	mux.HandleFunc("/api/escrow/audit", s.handleAudit)
	if s.journal != nil {
		mux.HandleFunc("/api/escrow/transfers", s.handleTransfers)
	}
	if s.feed != nil {
		mux.Handle("/api/escrow/events", s.feed)
	}
}

// authWrap requires an authenticated caller for every state-changing request.
func (s *Server) authWrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			if _, ok := middleware.CallerFrom(r.Context()); !ok {
				Error(w, http.StatusUnauthorized, escrow.CodeNoCaller, "caller identity required (X-API-Key)")
				return
			}
		}
		next(w, r)
	}
}

func callerOf(r *http.Request) escrow.Identity {
	caller, _ := middleware.CallerFrom(r.Context())
	return caller
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.health.GetHealthStatus(r.Context())
	status := http.StatusOK
	if resp.Status == "unavailable" {
		status = http.StatusServiceUnavailable
	}
	JSON(w, status, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	JSON(w, http.StatusOK, map[string]escrow.Identity{
		"arbiter":        s.ledger.Arbiter(),
		"escrow_account": s.ledger.EscrowAccount(),
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/escrow/tasks"), "/")
	if path == "" {
		switch r.Method {
		case http.MethodGet:
			s.listTasks(w, r)
		case http.MethodPost:
			s.createTask(w, r)
		default:
			Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		}
		return
	}

	parts := strings.Split(path, "/")
	raw, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || raw <= 0 {
		Error(w, http.StatusBadRequest, "INVALID_TASK_ID", "task id must be a positive integer")
		return
	}
	id := escrow.TaskID(raw)

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			task, err := s.ledger.GetTask(r.Context(), id)
			if err != nil {
				LedgerError(w, err)
				return
			}
			JSON(w, http.StatusOK, task)
		case http.MethodDelete:
			st, err := s.ledger.DeleteTask(r.Context(), callerOf(r), id)
			if err != nil {
				LedgerError(w, err)
				return
			}
			JSON(w, http.StatusOK, st)
		default:
			Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		}
		return
	}
	if len(parts) > 2 {
		Error(w, http.StatusNotFound, escrow.CodeNotFound, "unknown task action")
		return
	}

	action := parts[1]
	if r.Method == http.MethodGet {
		s.taskView(w, r, id, action)
		return
	}
	if r.Method != http.MethodPost {
		Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	s.taskAction(w, r, id, action)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := escrow.TaskFilter{
		Owner:  escrow.Identity(q.Get("owner")),
		Agent:  escrow.Identity(q.Get("agent")),
		Limit:  intFromQuery(r, "limit", 0),
		Offset: intFromQuery(r, "offset", 0),
	}
	if raw := q.Get("status"); raw != "" {
		st, err := escrow.ParseTaskState(raw)
		if err != nil {
			Error(w, http.StatusBadRequest, "INVALID_STATUS", err.Error())
			return
		}
		filter.Status = &st
	}
	tasks, err := s.ledger.ListTasks(r.Context(), filter)
	if err != nil {
		LedgerError(w, err)
		return
	}
	if tasks == nil {
		tasks = []escrow.Task{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"tasks":       tasks,
		"total_count": len(tasks),
	})
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var body TaskCreateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid json: "+err.Error())
		return
	}
	task, err := s.ledger.AddTask(r.Context(), callerOf(r), strings.TrimSpace(body.Name), body.Value)
	if err != nil {
		LedgerError(w, err)
		return
	}
	JSON(w, http.StatusCreated, task)
}

// taskAction runs one state-changing operation named by the path.
func (s *Server) taskAction(w http.ResponseWriter, r *http.Request, id escrow.TaskID, action string) {
	ctx, caller := r.Context(), callerOf(r)
	var (
		result interface{}
		err    error
	)
	switch action {
	case "accept":
		result, err = s.ledger.AcceptTask(ctx, caller, id)
	case "abandon":
		result, err = s.ledger.AbandonTask(ctx, caller, id)
	case "submit":
		result, err = s.ledger.TaskSubmitted(ctx, caller, id)
	case "dispute":
		result, err = s.ledger.RaiseDispute(ctx, caller, id)
	case "complete":
		result, err = s.ledger.AcceptCompletion(ctx, caller, id)
	case "pay-agent":
		result, err = s.ledger.PayAgent(ctx, caller, id)
	case "refund":
		result, err = s.ledger.RefundBeneficiary(ctx, caller, id)
	default:
		Error(w, http.StatusNotFound, escrow.CodeNotFound, "unknown task action "+action)
		return
	}
	if err != nil {
		LedgerError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

// taskView serves the read-only sub-resources of a task.
func (s *Server) taskView(w http.ResponseWriter, r *http.Request, id escrow.TaskID, view string) {
	ctx := r.Context()
	switch view {
	case "agent":
		agent, err := s.ledger.AgentToTask(ctx, id)
		if err != nil {
			LedgerError(w, err)
			return
		}
		JSON(w, http.StatusOK, map[string]interface{}{"task_id": id, "agent": agent})
	case "settlement":
		st, err := s.ledger.Settlement(ctx, id)
		if err != nil {
			LedgerError(w, err)
			return
		}
		JSON(w, http.StatusOK, st)
	case "qr":
		task, err := s.ledger.GetTask(ctx, id)
		if err != nil {
			LedgerError(w, err)
			return
		}
		png, err := s.qr.TaskQRCode(task, s.ledger.EscrowAccount())
		if err != nil {
			LedgerError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write(png)
	default:
		Error(w, http.StatusNotFound, escrow.CodeNotFound, "unknown task view "+view)
	}
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	account := escrow.Identity(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/escrow/accounts"), "/"))
	if account.IsZero() {
		Error(w, http.StatusBadRequest, "INVALID_ACCOUNT", "account required")
		return
	}
	balance, err := s.ledger.Balance(r.Context(), account)
	if err != nil {
		LedgerError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"account": account.Normalize(), "balance": balance})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	report, err := s.ledger.Audit(r.Context())
	if err != nil && !errors.Is(err, escrow.ErrImbalance) {
		LedgerError(w, err)
		return
	}
	status := http.StatusOK
	if !report.Balanced {
		status = http.StatusConflict
	}
	JSON(w, status, report)
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	id := escrow.TaskID(intFromQuery(r, "task_id", 0))
	transfers, err := s.journal.Journal(r.Context(), id)
	if err != nil {
		LedgerError(w, err)
		return
	}
	if transfers == nil {
		transfers = []escrow.Transfer{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"transfers": transfers,
		"total":     len(transfers),
	})
}
