package script

import "encoding/binary"

// ValidateSyntax statically checks code for malformed opcodes, truncated
// push operands, and unbalanced IF/NOT_IF/ELSE/END_IF nesting, without
// executing anything. Push-data length fields are checked against
// budget.MaxItemSize here so that the equivalent runtime pushes in Run are
// infallible (spec.md §4.1, "Push-data size fields are verified against
// stack_max_item_size during syntactic validation so that at runtime they
// are infallible").
func ValidateSyntax(code []byte, budget Budget) error {
	depth := 0
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
			if n > budget.MaxItemSize {
				return newErr(ErrItemOverflow, "push-bytes-N exceeds max item size")
			}
			pos += n
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
			if n > budget.MaxItemSize {
				return newErr(ErrItemOverflow, "PUSH_DATA_1 exceeds max item size")
			}
			pos += n

		case OpPushData2:
			if pos+2 > len(code) {
				return newErr(ErrMalformedScript, "PUSH_DATA_2 truncated length")
			}
			n := int(binary.LittleEndian.Uint16(code[pos : pos+2]))
			pos += 2
			if pos+n > len(code) {
				return newErr(ErrMalformedScript, "PUSH_DATA_2 truncated data")
			}
			if n > budget.MaxItemSize {
				return newErr(ErrItemOverflow, "PUSH_DATA_2 exceeds max item size")
			}
			pos += n

		case OpPushNum1, OpPushNum2, OpPushNum3, OpPushNum4, OpPushNum5,
			OpTrue, OpFalse, OpDup, OpHash, OpCheckEqual, OpVerifyEqual,
			OpCheckSig, OpVerifySig, OpCheckMultiSig, OpVerifyMultiSig,
			OpCheckSeqSig, OpVerifySeqSig, OpVerifyLockHeight, OpVerifyUnlockAge,
			OpElse:
			// No inline operands; ELSE does not change nesting depth.

		case OpIf, OpNotIf:
			depth++

		case OpEndIf:
			depth--
			if depth < 0 {
				return newErr(ErrDanglingCond, "END_IF with no matching IF")
			}

		default:
			return newErr(ErrUnknownOpcode, "unrecognized opcode")
		}
	}
	if depth != 0 {
		return newErr(ErrDanglingCond, "dangling IF/NOT_IF at end of script")
	}
	return nil
}
