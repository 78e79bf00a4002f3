package blockstore

import "fmt"

// ErrorCode enumerates the storage failure kinds of spec.md §7 ("Storage").
type ErrorCode string

const (
	ErrNotFound         ErrorCode = "STORE_ERR_NOT_FOUND"
	ErrHeightOrder      ErrorCode = "STORE_ERR_HEIGHT_ORDER_VIOLATION"
	ErrChecksumMismatch ErrorCode = "STORE_ERR_CHECKSUM_MISMATCH"
	ErrIndexMismatch    ErrorCode = "STORE_ERR_INDEX_INCONSISTENT"
	ErrCorruptEncoding  ErrorCode = "STORE_ERR_CORRUPT_ENCODING"
)

// Error is the concrete type the blockstore backends return. Per spec.md
// §4.6's "fatal for that file" language, a checksum failure halts the
// caller rather than being handled as an ordinary recoverable condition,
// but the type itself carries no behavior beyond reporting.
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
