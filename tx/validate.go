package tx

import (
	"bytes"
	"sort"

	"github.com/stasis-chain/stasis/amount"
	"github.com/stasis-chain/stasis/consensusparams"
	"github.com/stasis-chain/stasis/crypto"
	"github.com/stasis-chain/stasis/script"
	"github.com/stasis-chain/stasis/serialize"
)

// UTXOFinder locates a UTXO by its identifier hash (spec.md §6, "UTXO
// finder"). A double-spend-tracking finder additionally remembers which
// UTXOs a candidate transaction set has already consumed.
type UTXOFinder func(utxoHash crypto.Hash) (UTXO, bool)

// FeeChecker verifies fee rules and data-payload fees given the amount left
// unspent by the transaction (spec.md §6, "Fee checker").
type FeeChecker func(t *Transaction, sumUnspent amount.Amount) error

// PenaltyDepositFinder returns the non-refundable portion of a Freeze
// stake if its validator has been slashed, else the stake's configured
// penalty (spec.md §6, "Penalty-deposit finder").
type PenaltyDepositFinder func(utxoHash crypto.Hash) amount.Amount

// Validate checks tx against the rules of spec.md §4.2, short-circuiting on
// the first violation in the order the spec prescribes: structural,
// per-input, type-specific, conservation, then the delegated fee check.
func Validate(
	t *Transaction,
	finder UTXOFinder,
	height uint64,
	feeChecker FeeChecker,
	penaltyFinder PenaltyDepositFinder,
	params consensusparams.Params,
) error {
	isCoinbase := t.IsCoinbase()

	if err := validateStructure(t, height, isCoinbase, params); err != nil {
		return err
	}

	sumIn, sumPenalty, meltedPenalty, err := validateInputs(t, finder, height, penaltyFinder, params)
	if err != nil {
		return err
	}

	sumOut, err := sumOutputs(t.Outputs)
	if err != nil {
		return newErr(ErrOverflow, "output value sum overflow")
	}

	if isCoinbase {
		return validateCoinbaseShape(t)
	}

	if err := validateTypeRules(t, finder, height, params); err != nil {
		return err
	}

	total, err := amount.Add(sumIn, sumPenalty)
	if err != nil {
		return newErr(ErrOverflow, "input+penalty sum overflow")
	}
	if total < sumOut {
		return newErr(ErrConservation, "inputs + penalty deposits < outputs")
	}
	remaining, err := amount.Sub(total, sumOut)
	if err != nil {
		return newErr(ErrOverflow, "remaining computation overflow")
	}

	if meltedPenalty > 0 && remaining == 0 {
		return newErr(ErrPenaltyNotConsumed, "melted freeze penalty deposit fully refunded")
	}

	if feeChecker != nil {
		if err := feeChecker(t, remaining); err != nil {
			return err
		}
	}

	return nil
}

func validateStructure(t *Transaction, height uint64, isCoinbase bool, params consensusparams.Params) error {
	if !isCoinbase && len(t.Inputs) == 0 {
		return newErr(ErrNoInputs, "non-coinbase transaction must have at least one input")
	}
	if len(t.Outputs) == 0 {
		return newErr(ErrNoOutputs, "transaction must have at least one output")
	}
	if t.LockHeight > height {
		return newErr(ErrLockHeightNotMet, "tx.lock_height exceeds current height")
	}

	for i := 1; i < len(t.Inputs); i++ {
		prev := t.Inputs[i-1].Ref.Key()
		cur := t.Inputs[i].Ref.Key()
		if bytes.Compare(prev[:], cur[:]) >= 0 {
			return newErr(ErrInputsNotMonotonic, "inputs must be strictly monotonic by hash")
		}
	}

	for i := 1; i < len(t.Outputs); i++ {
		if compareOutputs(t.Outputs[i-1], t.Outputs[i]) >= 0 {
			return newErr(ErrOutputsNotSorted, "outputs must be sorted")
		}
	}

	for _, o := range t.Outputs {
		if !amount.Valid(o.Value) {
			return newErr(ErrInvalidOutputValue, "output value must be non-zero")
		}
		if o.Type == OutputFreeze && o.Value < params.MinFreezeAmount {
			return newErr(ErrBelowMinFreeze, "Freeze output below MinFreezeAmount")
		}
		if err := validateLockSyntax(o.Lock, params); err != nil {
			return err
		}
	}
	return nil
}

func validateLockSyntax(l Lock, params consensusparams.Params) error {
	switch l.Type {
	case LockKey:
		if len(l.Bytes) != crypto.PointSize {
			return newErr(ErrInvalidLock, "Key lock must be 32 bytes")
		}
	case LockKeyHash, LockRedeem:
		if len(l.Bytes) != script.HashLockSize {
			return newErr(ErrInvalidLock, "KeyHash/Redeem lock must be 64 bytes")
		}
	case LockScript:
		if len(l.Bytes) == 0 {
			return newErr(ErrInvalidLock, "Script lock must not be empty")
		}
		budget := script.Budget{MaxTotalSize: params.StackMaxTotalSize, MaxItemSize: params.StackMaxItemSize}
		if err := script.ValidateSyntax(l.Bytes, budget); err != nil {
			return err
		}
	default:
		return newErr(ErrInvalidLock, "unrecognized lock type")
	}
	return nil
}

func compareOutputs(a, b Output) int {
	return CompareOutputs(a, b)
}

// CompareOutputs orders two outputs by their encoded bytes — the ordering
// Validate requires of Transaction.Outputs (spec.md §6, "outputs by
// lexicographic value order"). Exported so callers assembling a transaction
// (e.g. the ledger building a coinbase payout) can sort to match.
func CompareOutputs(a, b Output) int {
	w1 := serialize.NewWriter()
	encodeOutput(w1, a)
	w2 := serialize.NewWriter()
	encodeOutput(w2, b)
	return bytes.Compare(w1.Bytes(), w2.Bytes())
}

// SortOutputs sorts outs in place using CompareOutputs.
func SortOutputs(outs []Output) {
	sort.Slice(outs, func(i, j int) bool {
		return CompareOutputs(outs[i], outs[j]) < 0
	})
}

func sumOutputs(outs []Output) (amount.Amount, error) {
	vals := make([]amount.Amount, len(outs))
	for i, o := range outs {
		vals[i] = o.Value
	}
	return amount.SumAll(vals...)
}

// validateInputs runs the per-input checks of spec.md §4.2 step 2: locate
// the UTXO, accumulate value and (for Freeze inputs) penalty deposit,
// enforce the unlock-height/age rule, and run the script engine.
func validateInputs(
	t *Transaction,
	finder UTXOFinder,
	height uint64,
	penaltyFinder PenaltyDepositFinder,
	params consensusparams.Params,
) (sumIn amount.Amount, sumPenalty amount.Amount, meltedPenalty amount.Amount, err error) {
	if t.IsCoinbase() {
		return 0, 0, 0, nil
	}

	budget := script.Budget{MaxTotalSize: params.StackMaxTotalSize, MaxItemSize: params.StackMaxItemSize}

	for i, in := range t.Inputs {
		key := in.Ref.Key()
		u, ok := finder(key)
		if !ok {
			return 0, 0, 0, newErr(ErrMissingUTXO, "referenced UTXO not found")
		}

		sumIn, err = amount.Add(sumIn, u.Output.Value)
		if err != nil {
			return 0, 0, 0, newErr(ErrOverflow, "input value sum overflow")
		}

		if u.Output.Type == OutputFreeze {
			var penalty amount.Amount
			if penaltyFinder != nil {
				penalty = penaltyFinder(key)
			}
			sumPenalty, err = amount.Add(sumPenalty, penalty)
			if err != nil {
				return 0, 0, 0, newErr(ErrOverflow, "penalty deposit sum overflow")
			}
			meltedPenalty, err = amount.Add(meltedPenalty, penalty)
			if err != nil {
				return 0, 0, 0, newErr(ErrOverflow, "melted penalty sum overflow")
			}
		}

		if height < u.UnlockHeight+in.UnlockAge {
			return 0, 0, 0, newErr(ErrNotUnlockedForAge, "UTXO not unlocked for this height")
		}

		ctx := sigContext{tx: t, inputIdx: i, unlockAge: in.UnlockAge}
		if err := script.ExecuteLock(u.Output.Lock.Type, u.Output.Lock.Bytes, in.Unlock, ctx, budget); err != nil {
			return 0, 0, 0, newErr(ErrScriptFailed, err.Error())
		}
	}
	return sumIn, sumPenalty, meltedPenalty, nil
}

func validateCoinbaseShape(t *Transaction) error {
	if len(t.Inputs) != 1 || t.Inputs[0].Ref != (OutputRef{Index: t.Inputs[0].Ref.Index}) {
		return newErr(ErrCoinbaseShape, "coinbase tx must have exactly one coinbase input")
	}
	if len(t.Payload) != 0 {
		return newErr(ErrCoinbaseShape, "coinbase tx must not carry a payload")
	}
	for _, o := range t.Outputs {
		if o.Type != OutputCoinbase {
			return newErr(ErrCoinbaseShape, "coinbase tx outputs must all be type Coinbase")
		}
	}
	return nil
}

func validateTypeRules(t *Transaction, finder UTXOFinder, height uint64, params consensusparams.Params) error {
	hasFreezeInput := false
	hasPaymentInput := false
	var sumFreezeIn amount.Amount
	var err error
	for _, in := range t.Inputs {
		u, ok := finder(in.Ref.Key())
		if !ok {
			continue // already reported by validateInputs
		}
		if u.Output.Type == OutputFreeze {
			hasFreezeInput = true
			sumFreezeIn, err = amount.Add(sumFreezeIn, u.Output.Value)
			if err != nil {
				return newErr(ErrOverflow, "freeze input sum overflow")
			}
		} else {
			hasPaymentInput = true
			if height < u.UnlockHeight {
				return newErr(ErrNotUnlockedForAge, "Payment input spent before its UTXO's unlock_height")
			}
		}
	}

	if hasFreezeInput && hasPaymentInput {
		return newErr(ErrTypeMix, "cannot mix Freeze and Payment inputs in one transaction (melting must be all-or-nothing)")
	}

	if hasFreezeInput && sumFreezeIn < params.MinFreezeAmount {
		return newErr(ErrBelowMinFreeze, "sum of Freeze inputs below MinFreezeAmount")
	}

	hasFreezeOutput := false
	paymentRefundCount := 0
	for _, o := range t.Outputs {
		switch o.Type {
		case OutputFreeze:
			hasFreezeOutput = true
			if o.Lock.Type != LockKey {
				return newErr(ErrFreezeLockNotKey, "Freeze output must use a Key lock")
			}
		case OutputPayment:
			paymentRefundCount++
		}
	}

	if hasFreezeOutput {
		if len(t.Payload) != 0 {
			return newErr(ErrFreezeHasPayload, "freezing transaction must not carry a payload")
		}
		if paymentRefundCount > 1 {
			return newErr(ErrFreezeRefundCount, "at most one Payment refund output allowed")
		}
		if hasFreezeInput {
			return newErr(ErrReFreeze, "cannot re-freeze an already-Freeze input")
		}
	}

	return nil
}
