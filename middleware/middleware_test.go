package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"escrow-backend/core/escrow"
	auth "escrow-backend/storage/auth"
)

func callerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r.Context())
		w.Write([]byte(caller))
	})
}

func TestAuthenticate(t *testing.T) {
	keys := auth.NewAPIKeyStore()
	keys.Seed("k1", "alice", "test")

	tests := []struct {
		name     string
		resolver auth.KeyResolver
		headers  map[string]string
		status   int
		want     escrow.Identity
	}{
		{"dev mode trusts X-Caller", nil, map[string]string{"X-Caller": " bob "}, http.StatusOK, "bob"},
		{"key resolves wallet", keys, map[string]string{"X-API-Key": "k1"}, http.StatusOK, "alice"},
		{"bearer token", keys, map[string]string{"Authorization": "Bearer k1"}, http.StatusOK, "alice"},
		{"X-Caller ignored with keys", keys, map[string]string{"X-Caller": "bob"}, http.StatusOK, ""},
		{"invalid key", keys, map[string]string{"X-API-Key": "nope"}, http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			Authenticate(tt.resolver)(callerEcho()).ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if tt.status == http.StatusOK && escrow.Identity(rec.Body.String()) != tt.want {
				t.Errorf("expected caller %q, got %q", tt.want, rec.Body.String())
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected codes %v", codes)
	}
}

func TestTimeout(t *testing.T) {
	h := Timeout(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusRequestTimeout {
		t.Fatalf("expected 408, got %d", rec.Code)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Errorf("unexpected order %v", order)
	}
}

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		target string
		status int
	}{
		{"/api/escrow/tasks?owner=alice", http.StatusOK},
		{"/api/escrow/accounts/alice", http.StatusOK},
		{"/api/escrow/tasks?owner=../etc", http.StatusBadRequest},
		{"/api/escrow/accounts/%2e%2e%2fetc", http.StatusBadRequest},
		{"/api/escrow/tasks?name=..%5Cwin", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ValidateFilename(callerEcho()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}
