package escrow

import "errors"

// Err is a simple string error helper.
type Err string

func (e Err) Error() string { return string(e) }

var (
	ErrNoFunds       = Err("You must add a task and send ether")
	ErrTaskNotFound  = Err("Task does not exist!")
	ErrNotOwner      = Err("You are not the Owner!")
	ErrNotAgent      = Err("You are not the Agent!")
	ErrNotArbiter    = Err("You are not the Arbiter!")
	ErrWrongState    = Err("Task is not in the required state!")
	ErrCustodyCaller = Err("The escrow account cannot take part in tasks!")
	ErrNoCaller      = Err("caller identity required")
	ErrImbalance     = Err("held balance does not match live deposits")
	ErrInsufficient  = Err("insufficient funds")
	ErrNoArbiter     = Err("arbiter identity required")
	ErrEscrowAccount = Err("escrow account must differ from the arbiter")
)

// Error codes surfaced to API and tool callers.
const (
	CodeNoFunds      = "NO_FUNDS"
	CodeNotFound     = "NOT_FOUND"
	CodeNotOwner     = "NOT_OWNER"
	CodeNotAgent     = "NOT_AGENT"
	CodeNotArbiter   = "NOT_ARBITER"
	CodeWrongState   = "WRONG_STATE"
	CodeNoCaller     = "NO_CALLER"
	CodeCustody      = "CUSTODY_CALLER"
	CodeInsufficient = "INSUFFICIENT_FUNDS"
	CodeImbalance    = "LEDGER_IMBALANCE"
	CodeInternal     = "INTERNAL_ERROR"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNoFunds, CodeNoFunds},
	{ErrTaskNotFound, CodeNotFound},
	{ErrNotOwner, CodeNotOwner},
	{ErrNotAgent, CodeNotAgent},
	{ErrNotArbiter, CodeNotArbiter},
	{ErrWrongState, CodeWrongState},
	{ErrNoCaller, CodeNoCaller},
	{ErrCustodyCaller, CodeCustody},
	{ErrInsufficient, CodeInsufficient},
	{ErrImbalance, CodeImbalance},
}

// Code maps an error returned by the ledger to a stable code.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// IsCallerError reports whether err stems from a caller-side precondition
// violation rather than a substrate or storage failure.
func IsCallerError(err error) bool {
	switch Code(err) {
	case CodeInternal, CodeImbalance, "":
		return false
	}
	return true
}
