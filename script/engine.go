package script

import (
	"bytes"
	"encoding/binary"

	"github.com/stasis-chain/stasis/crypto"
)

// Budget bounds a single script evaluation's stack growth (spec.md §4.1,
// "Resource bounds").
type Budget struct {
	MaxTotalSize int
	MaxItemSize  int
}

// Engine evaluates lock/unlock bytecode against a shared data Stack. A
// fresh Engine is created per input validation; Run may be invoked more
// than once against the same Engine so that the unlock script's resulting
// stack carries over into the lock script, per spec.md §4.1 ("the unlock
// script is executed first on an empty stack; the lock script then
// continues on the resulting stack").
type Engine struct {
	stack  *Stack
	budget Budget
}

// NewEngine returns an Engine with an empty data stack governed by budget.
func NewEngine(budget Budget) *Engine {
	return &Engine{stack: NewStack(budget.MaxTotalSize, budget.MaxItemSize), budget: budget}
}

// Stack exposes the engine's current data stack, e.g. so a caller can pop
// the final result or hand the stack to a chained Run call manually.
func (e *Engine) Stack() *Stack { return e.stack }

// Run executes script against the engine's current stack state. Each call
// to Run has its own conditional-nesting scope: IF/NOT_IF/ELSE/END_IF must
// balance within the script passed to a single Run call.
func (e *Engine) Run(code []byte, ctx Context) error {
	cond := &condStack{}
	pos := 0
	for pos < len(code) {
		op := Opcode(code[pos])
		pos++

		switch {
		case op >= OpPushMin && op <= OpPushMax:
			n := int(op)
			if pos+n > len(code) {
				return newErr(ErrMalformedScript, "push-bytes-N truncated")
			}
			data := code[pos : pos+n]
			pos += n
			if cond.isTrue() {
				if err := e.stack.Push(append([]byte(nil), data...)); err != nil {
					return err
				}
			}
			continue
		}

		switch op {
		case OpPushData1:
			if pos+1 > len(code) {
				return newErr(ErrMalformedScript, "PUSH_DATA_1 truncated length")
			}
			n := int(code[pos])
			pos++
			if pos+n > len(code) {
				return newErr(ErrMalformedScript, "PUSH_DATA_1 truncated data")
			}
			data := code[pos : pos+n]
			pos += n
			if cond.isTrue() {
				if err := e.stack.Push(append([]byte(nil), data...)); err != nil {
					return err
				}
			}

		case OpPushData2:
			if pos+2 > len(code) {
				return newErr(ErrMalformedScript, "PUSH_DATA_2 truncated length")
			}
			n := int(binary.LittleEndian.Uint16(code[pos : pos+2]))
			pos += 2
			if pos+n > len(code) {
				return newErr(ErrMalformedScript, "PUSH_DATA_2 truncated data")
			}
			data := code[pos : pos+n]
			pos += n
			if cond.isTrue() {
				if err := e.stack.Push(append([]byte(nil), data...)); err != nil {
					return err
				}
			}

		case OpPushNum1, OpPushNum2, OpPushNum3, OpPushNum4, OpPushNum5:
			if cond.isTrue() {
				n := byte(op - OpPushNum1 + 1)
				if err := e.stack.Push([]byte{n}); err != nil {
					return err
				}
			}

		case OpTrue:
			if cond.isTrue() {
				if err := e.stack.Push(append([]byte(nil), trueValue...)); err != nil {
					return err
				}
			}

		case OpFalse:
			if cond.isTrue() {
				if err := e.stack.Push(append([]byte(nil), falseValue...)); err != nil {
					return err
				}
			}

		case OpIf, OpNotIf:
			if cond.isTrue() {
				v, err := e.stack.Pop()
				if err != nil {
					return err
				}
				b, err := asBool(v)
				if err != nil {
					return err
				}
				if op == OpNotIf {
					b = !b
				}
				cond.push(b)
			} else {
				cond.push(false)
			}

		case OpElse:
			if err := cond.tryToggle(); err != nil {
				return err
			}

		case OpEndIf:
			if err := cond.pop(); err != nil {
				return err
			}

		default:
			if !cond.isTrue() {
				// Not executing: skip any opcode that isn't control flow.
				if err := skipOperandsOnly(op, code, &pos); err != nil {
					return err
				}
				continue
			}
			if err := e.execOpcode(op, ctx); err != nil {
				return err
			}
		}
	}

	if !cond.isEmpty() {
		return newErr(ErrDanglingCond, "dangling IF/NOT_IF/ELSE at end of script")
	}
	return nil
}

// skipOperandsOnly is a defensive no-op: every non-push opcode in this set
// has no inline operands, so there is nothing to skip. It exists so that if
// an inline-operand opcode is ever added, forgetting to extend this
// function fails loudly instead of silently misparsing.
func skipOperandsOnly(op Opcode, code []byte, pos *int) error {
	switch op {
	case OpDup, OpHash, OpCheckEqual, OpVerifyEqual, OpCheckSig, OpVerifySig,
		OpCheckMultiSig, OpVerifyMultiSig, OpCheckSeqSig, OpVerifySeqSig,
		OpVerifyLockHeight, OpVerifyUnlockAge:
		return nil
	default:
		return newErr(ErrUnknownOpcode, "unrecognized opcode")
	}
}

func (e *Engine) execOpcode(op Opcode, ctx Context) error {
	switch op {
	case OpDup:
		v, err := e.stack.Peek()
		if err != nil {
			return err
		}
		return e.stack.Push(append([]byte(nil), v...))

	case OpHash:
		v, err := e.stack.Pop()
		if err != nil {
			return err
		}
		h := crypto.HashBytes(v)
		return e.stack.Push(h[:])

	case OpCheckEqual, OpVerifyEqual:
		a, err := e.stack.Pop()
		if err != nil {
			return err
		}
		b, err := e.stack.Pop()
		if err != nil {
			return err
		}
		equal := bytes.Equal(a, b)
		if op == OpVerifyEqual {
			if !equal {
				return newErr(ErrEqualityFailed, "VERIFY_EQUAL failed")
			}
			return nil
		}
		return e.stack.Push(boolValue(equal))

	case OpCheckSig, OpVerifySig:
		ok, err := e.checkSig(ctx)
		if err != nil {
			return err
		}
		if op == OpVerifySig {
			if !ok {
				return newErr(ErrSigInvalid, "VERIFY_SIG failed")
			}
			return nil
		}
		return e.stack.Push(boolValue(ok))

	case OpCheckMultiSig, OpVerifyMultiSig:
		ok, err := e.checkMultiSig(ctx)
		if err != nil {
			return err
		}
		if op == OpVerifyMultiSig {
			if !ok {
				return newErr(ErrSigInvalid, "VERIFY_MULTI_SIG failed")
			}
			return nil
		}
		return e.stack.Push(boolValue(ok))

	case OpCheckSeqSig, OpVerifySeqSig:
		ok, err := e.checkSeqSig(ctx)
		if err != nil {
			return err
		}
		if op == OpVerifySeqSig {
			if !ok {
				return newErr(ErrSigInvalid, "VERIFY_SEQ_SIG failed")
			}
			return nil
		}
		return e.stack.Push(boolValue(ok))

	case OpVerifyLockHeight:
		v, err := e.stack.Pop()
		if err != nil {
			return err
		}
		if len(v) != 8 {
			return newErr(ErrMalformedScript, "VERIFY_LOCK_HEIGHT operand must be 8 bytes")
		}
		min := binary.LittleEndian.Uint64(v)
		if ctx.LockHeight() < min {
			return newErr(ErrLockHeightNotMet, "lock_height below required minimum")
		}
		return nil

	case OpVerifyUnlockAge:
		v, err := e.stack.Pop()
		if err != nil {
			return err
		}
		if len(v) != 4 {
			return newErr(ErrMalformedScript, "VERIFY_UNLOCK_AGE operand must be 4 bytes")
		}
		min := binary.LittleEndian.Uint32(v)
		if ctx.UnlockAge() < uint64(min) {
			return newErr(ErrUnlockAgeNotMet, "unlock_age below required minimum")
		}
		return nil
	}
	return newErr(ErrUnknownOpcode, "unrecognized opcode")
}

func asBool(v []byte) (bool, error) {
	if bytes.Equal(v, trueValue) {
		return true, nil
	}
	if bytes.Equal(v, falseValue) {
		return false, nil
	}
	return false, newErr(ErrNotBoolean, "stack value is not a canonical boolean")
}

func boolValue(b bool) []byte {
	if b {
		return append([]byte(nil), trueValue...)
	}
	return append([]byte(nil), falseValue...)
}
