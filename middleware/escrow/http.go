package escrow

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"escrow-backend/core/escrow"
)

// ErrorBody is the error envelope of every failed API call.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON writes a JSON response with status code.
func JSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, code, msg string) {
	JSON(w, status, map[string]ErrorBody{"error": {Code: code, Message: msg}})
}

// LedgerError maps a ledger error to its HTTP status. Internal failures are
// logged and reported without detail.
func LedgerError(w http.ResponseWriter, err error) {
	code := escrow.Code(err)
	status := statusFor(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("ledger failure: %v", err)
		msg = "internal error"
	}
	Error(w, status, code, msg)
}

func statusFor(code string) int {
	switch code {
	case escrow.CodeNoFunds, escrow.CodeInsufficient:
		return http.StatusPaymentRequired
	case escrow.CodeNotFound:
		return http.StatusNotFound
	case escrow.CodeNotOwner, escrow.CodeNotAgent, escrow.CodeNotArbiter, escrow.CodeCustody:
		return http.StatusForbidden
	case escrow.CodeWrongState:
		return http.StatusConflict
	case escrow.CodeNoCaller:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func intFromQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
