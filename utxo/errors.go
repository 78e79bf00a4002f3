package utxo

// ErrorCode enumerates the failure kinds a Batch can report.
type ErrorCode string

const (
	ErrAlreadySpent ErrorCode = "UTXO_ERR_ALREADY_SPENT"
	ErrUnknownUTXO  ErrorCode = "UTXO_ERR_UNKNOWN_UTXO"
)

// Error is the concrete type Batch.Apply returns.
type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Msg
}

func newErr(code ErrorCode, msg string) error {
	return &Error{Code: code, Msg: msg}
}
