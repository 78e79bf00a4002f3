package script

import "fmt"

// ErrorCode identifies the kind of script-validation failure, so callers
// can distinguish syntactic from semantic failures without parsing
// messages (spec.md §7).
type ErrorCode string

const (
	ErrMalformedScript   ErrorCode = "SCRIPT_ERR_MALFORMED"
	ErrUnknownOpcode     ErrorCode = "SCRIPT_ERR_UNKNOWN_OPCODE"
	ErrStackOverflow     ErrorCode = "SCRIPT_ERR_STACK_OVERFLOW"
	ErrItemOverflow      ErrorCode = "SCRIPT_ERR_ITEM_OVERFLOW"
	ErrStackUnderflow    ErrorCode = "SCRIPT_ERR_STACK_UNDERFLOW"
	ErrNotBoolean        ErrorCode = "SCRIPT_ERR_NOT_BOOLEAN"
	ErrDanglingCond      ErrorCode = "SCRIPT_ERR_DANGLING_COND"
	ErrEqualityFailed    ErrorCode = "SCRIPT_ERR_VERIFY_EQUAL_FAILED"
	ErrKeyInvalid        ErrorCode = "SCRIPT_ERR_KEY_INVALID"
	ErrSigInvalid        ErrorCode = "SCRIPT_ERR_SIG_INVALID"
	ErrSigHashMismatch   ErrorCode = "SCRIPT_ERR_SIG_HASH_MISMATCH"
	ErrMultiSigCount     ErrorCode = "SCRIPT_ERR_MULTISIG_COUNT"
	ErrSequenceTooLow    ErrorCode = "SCRIPT_ERR_SEQUENCE_TOO_LOW"
	ErrLockHeightNotMet  ErrorCode = "SCRIPT_ERR_LOCK_HEIGHT_NOT_MET"
	ErrUnlockAgeNotMet   ErrorCode = "SCRIPT_ERR_UNLOCK_AGE_NOT_MET"
	ErrFinalStackInvalid ErrorCode = "SCRIPT_ERR_FINAL_STACK_INVALID"
	ErrRedeemHashMismatch ErrorCode = "SCRIPT_ERR_REDEEM_HASH_MISMATCH"
	ErrLockSize           ErrorCode = "SCRIPT_ERR_LOCK_SIZE"
)

// Error is the concrete error type every script-engine failure is
// reported as (spec.md §4.1, "returns a non-null error describing the
// first violation").
type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func newErr(code ErrorCode, msg string) error {
	return &Error{Code: code, Msg: msg}
}
