package mcp

import (
	"encoding/json"
	"fmt"

	"escrow-backend/core/escrow"
)

// Error codes raised by the tool layer itself. Ledger failures carry the
// codes from escrow.Code.
const (
	ErrCodeMissingRequired = "MISSING_REQUIRED_FIELD"
	ErrCodeInvalidValue    = "INVALID_FIELD_VALUE"
)

// ToolError represents a structured error from tool execution
type ToolError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Tool    string      `json:"tool,omitempty"`
	Field   string      `json:"field,omitempty"`
	Value   interface{} `json:"field_value,omitempty"`
	Hint    string      `json:"hint,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// JSON renders the error as the text body of a tool result.
func (e *ToolError) JSON() string {
	b, err := json.Marshal(map[string]*ToolError{"error": e})
	if err != nil {
		return e.Error()
	}
	return string(b)
}

// NewMissingFieldError creates an error for missing required field
func NewMissingFieldError(tool, field string) *ToolError {
	return &ToolError{
		Code:    ErrCodeMissingRequired,
		Message: fmt.Sprintf("Field '%s' is required", field),
		Tool:    tool,
		Field:   field,
		Hint:    fmt.Sprintf("Add '%s' to your tool arguments", field),
	}
}

// NewInvalidValueError reports an argument that failed to parse.
func NewInvalidValueError(tool, field string, value interface{}, expected string) *ToolError {
	return &ToolError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Field '%s' must be %s", field, expected),
		Tool:    tool,
		Field:   field,
		Value:   value,
	}
}

// NewLedgerError wraps an error returned by the ledger. Internal failures are
// reported without detail.
func NewLedgerError(tool string, err error) *ToolError {
	code := escrow.Code(err)
	msg := err.Error()
	if code == escrow.CodeInternal {
		msg = "internal error"
	}
	return &ToolError{
		Code:    code,
		Message: msg,
		Tool:    tool,
		Hint:    hintFor(code),
	}
}

func hintFor(code string) string {
	switch code {
	case escrow.CodeNoFunds:
		return "Pass a positive value when adding a task"
	case escrow.CodeNotFound:
		return "Use list_tasks or get_settlement to check the task id"
	case escrow.CodeNotOwner, escrow.CodeNotAgent, escrow.CodeNotArbiter, escrow.CodeCustody:
		return "Call this tool as the identity holding the required role"
	case escrow.CodeWrongState:
		return "Use get_task to inspect the current status"
	case escrow.CodeInsufficient:
		return "Check the account balance with get_balance"
	case escrow.CodeNoCaller:
		return "Pass 'caller' or configure a bound identity"
	}
	return ""
}
