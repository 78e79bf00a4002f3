package tx

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stasis-chain/stasis/amount"
	"github.com/stasis-chain/stasis/consensusparams"
	"github.com/stasis-chain/stasis/crypto"
)

func testParams() consensusparams.Params {
	return consensusparams.Params{
		ValidatorCycle:      100,
		PayoutPeriod:        10,
		BlockInterval:       5,
		SlashPenaltyAmount:  1000,
		MinFreezeAmount:     500,
		StackMaxTotalSize:   4096,
		StackMaxItemSize:    520,
		BlockRewardAmount:   50,
		CommonsRewardAmount: 5,
	}
}

func keyScalar(seed byte) crypto.Scalar {
	var h crypto.Hash
	h[0] = seed
	return crypto.ScalarFromHash(h)
}

func keyLock(pub crypto.PublicKey) Lock {
	return Lock{Type: LockKey, Bytes: pub.Bytes()}
}

// signKeyUnlock produces a 65-byte sig_hash ∥ R ∥ s witness item that
// authorizes a Key lock for the given input of t.
func signKeyUnlock(t *testing.T, tx *Transaction, inputIdx int, priv crypto.Scalar, sigHash SigHash, nonceSeed byte) []byte {
	t.Helper()
	ctx := sigContext{tx: tx, inputIdx: inputIdx, unlockAge: tx.Inputs[inputIdx].UnlockAge}
	challenge := ctx.Challenge(sigHash)
	sig := crypto.Sign(priv, keyScalar(nonceSeed), challenge)
	out := make([]byte, 0, 65)
	out = append(out, byte(sigHash))
	out = append(out, sig.Bytes()...)
	return out
}

func TestValidatePaymentHappyPath(t *testing.T) {
	priv := keyScalar(1)
	pub := crypto.ScalarBaseMult(priv)

	spentRef := OutputRef{TxHash: crypto.HashBytes([]byte("prev")), Index: 0}
	spent := UTXO{
		UnlockHeight: 0,
		Output:       Output{Value: 1000, Lock: keyLock(pub), Type: OutputPayment},
	}

	transaction := &Transaction{
		Inputs: []Input{
			{Ref: spentRef, UnlockAge: 0},
		},
		Outputs: []Output{
			{Value: 900, Lock: keyLock(pub), Type: OutputPayment},
		},
	}
	transaction.Inputs[0].Unlock = signKeyUnlock(t, transaction, 0, priv, SigHashAll, 2)

	finder := func(key crypto.Hash) (UTXO, bool) {
		if key == spentRef.Key() {
			return spent, true
		}
		return UTXO{}, false
	}

	err := Validate(transaction, finder, 10, nil, nil, testParams())
	if err != nil {
		t.Fatalf("expected valid transaction, got: %v", err)
	}
}

func TestValidateRejectsMissingUTXO(t *testing.T) {
	transaction := &Transaction{
		Inputs:  []Input{{Ref: OutputRef{TxHash: crypto.HashBytes([]byte("x")), Index: 0}}},
		Outputs: []Output{{Value: 1, Lock: Lock{Type: LockKey, Bytes: make([]byte, crypto.PointSize)}, Type: OutputPayment}},
	}
	finder := func(key crypto.Hash) (UTXO, bool) { return UTXO{}, false }

	err := Validate(transaction, finder, 1, nil, nil, testParams())
	assertCode(t, err, ErrMissingUTXO)
}

func TestValidateRejectsBadSignature(t *testing.T) {
	priv := keyScalar(1)
	pub := crypto.ScalarBaseMult(priv)
	wrongPriv := keyScalar(99)

	spentRef := OutputRef{TxHash: crypto.HashBytes([]byte("prev")), Index: 0}
	spent := UTXO{Output: Output{Value: 1000, Lock: keyLock(pub), Type: OutputPayment}}

	transaction := &Transaction{
		Inputs:  []Input{{Ref: spentRef}},
		Outputs: []Output{{Value: 900, Lock: keyLock(pub), Type: OutputPayment}},
	}
	transaction.Inputs[0].Unlock = signKeyUnlock(t, transaction, 0, wrongPriv, SigHashAll, 2)

	finder := func(key crypto.Hash) (UTXO, bool) {
		if key == spentRef.Key() {
			return spent, true
		}
		return UTXO{}, false
	}

	err := Validate(transaction, finder, 10, nil, nil, testParams())
	assertCode(t, err, ErrScriptFailed)
}

func TestValidateRejectsConservationViolation(t *testing.T) {
	priv := keyScalar(1)
	pub := crypto.ScalarBaseMult(priv)

	spentRef := OutputRef{TxHash: crypto.HashBytes([]byte("prev")), Index: 0}
	spent := UTXO{Output: Output{Value: 100, Lock: keyLock(pub), Type: OutputPayment}}

	transaction := &Transaction{
		Inputs:  []Input{{Ref: spentRef}},
		Outputs: []Output{{Value: 900, Lock: keyLock(pub), Type: OutputPayment}},
	}
	transaction.Inputs[0].Unlock = signKeyUnlock(t, transaction, 0, priv, SigHashAll, 2)

	finder := func(key crypto.Hash) (UTXO, bool) {
		if key == spentRef.Key() {
			return spent, true
		}
		return UTXO{}, false
	}

	err := Validate(transaction, finder, 10, nil, nil, testParams())
	assertCode(t, err, ErrConservation)
}

func TestValidateRejectsTypeMixFreezeAndPayment(t *testing.T) {
	priv := keyScalar(1)
	pub := crypto.ScalarBaseMult(priv)

	freezeRef := OutputRef{TxHash: crypto.HashBytes([]byte("a")), Index: 0}
	paymentRef := OutputRef{TxHash: crypto.HashBytes([]byte("b")), Index: 0}

	refs := []OutputRef{freezeRef, paymentRef}
	sort.Slice(refs, func(i, j int) bool {
		ki, kj := refs[i].Key(), refs[j].Key()
		return bytes.Compare(ki[:], kj[:]) < 0
	})

	transaction := &Transaction{
		Inputs: []Input{
			{Ref: refs[0]},
			{Ref: refs[1]},
		},
		Outputs: []Output{
			{Value: 1500, Lock: keyLock(pub), Type: OutputPayment},
		},
	}
	transaction.Inputs[0].Unlock = signKeyUnlock(t, transaction, 0, priv, SigHashAll, 2)
	transaction.Inputs[1].Unlock = signKeyUnlock(t, transaction, 1, priv, SigHashAll, 3)

	finder := func(key crypto.Hash) (UTXO, bool) {
		switch key {
		case freezeRef.Key():
			return UTXO{Output: Output{Value: 1000, Lock: keyLock(pub), Type: OutputFreeze}}, true
		case paymentRef.Key():
			return UTXO{Output: Output{Value: 500, Lock: keyLock(pub), Type: OutputPayment}}, true
		}
		return UTXO{}, false
	}

	err := Validate(transaction, finder, 10, nil, nil, testParams())
	assertCode(t, err, ErrTypeMix)
}

func TestValidateRejectsFreezeBelowMinimum(t *testing.T) {
	priv := keyScalar(1)
	pub := crypto.ScalarBaseMult(priv)

	spentRef := OutputRef{TxHash: crypto.HashBytes([]byte("prev")), Index: 0}
	spent := UTXO{Output: Output{Value: 1000, Lock: keyLock(pub), Type: OutputPayment}}

	transaction := &Transaction{
		Inputs:  []Input{{Ref: spentRef}},
		Outputs: []Output{{Value: 100, Lock: keyLock(pub), Type: OutputFreeze}},
	}
	transaction.Inputs[0].Unlock = signKeyUnlock(t, transaction, 0, priv, SigHashAll, 2)

	finder := func(key crypto.Hash) (UTXO, bool) {
		if key == spentRef.Key() {
			return spent, true
		}
		return UTXO{}, false
	}

	err := Validate(transaction, finder, 10, nil, nil, testParams())
	assertCode(t, err, ErrBelowMinFreeze)
}

func TestValidateRejectsUnmetUnlockAge(t *testing.T) {
	priv := keyScalar(1)
	pub := crypto.ScalarBaseMult(priv)

	spentRef := OutputRef{TxHash: crypto.HashBytes([]byte("prev")), Index: 0}
	spent := UTXO{UnlockHeight: 5, Output: Output{Value: 1000, Lock: keyLock(pub), Type: OutputFreeze}}

	transaction := &Transaction{
		Inputs:  []Input{{Ref: spentRef, UnlockAge: 100}},
		Outputs: []Output{{Value: 900, Lock: keyLock(pub), Type: OutputFreeze}},
	}
	transaction.Inputs[0].Unlock = signKeyUnlock(t, transaction, 0, priv, SigHashAll, 2)

	finder := func(key crypto.Hash) (UTXO, bool) {
		if key == spentRef.Key() {
			return spent, true
		}
		return UTXO{}, false
	}

	err := Validate(transaction, finder, 50, nil, nil, testParams())
	assertCode(t, err, ErrNotUnlockedForAge)
}

func TestValidateCoinbaseShapeOK(t *testing.T) {
	pub := crypto.ScalarBaseMult(keyScalar(1))
	transaction := &Transaction{
		Inputs:  []Input{CoinbaseInput(20)},
		Outputs: []Output{{Value: 50, Lock: keyLock(pub), Type: OutputCoinbase}},
	}
	finder := func(key crypto.Hash) (UTXO, bool) { return UTXO{}, false }

	err := Validate(transaction, finder, 20, nil, nil, testParams())
	if err != nil {
		t.Fatalf("expected valid coinbase, got: %v", err)
	}
}

func TestValidateCoinbaseRejectsNonCoinbaseOutputType(t *testing.T) {
	pub := crypto.ScalarBaseMult(keyScalar(1))
	transaction := &Transaction{
		Inputs:  []Input{CoinbaseInput(20)},
		Outputs: []Output{{Value: 50, Lock: keyLock(pub), Type: OutputPayment}},
	}
	finder := func(key crypto.Hash) (UTXO, bool) { return UTXO{}, false }

	err := Validate(transaction, finder, 20, nil, nil, testParams())
	assertCode(t, err, ErrCoinbaseShape)
}

func TestValidateRejectsUnsortedOutputs(t *testing.T) {
	pub := crypto.ScalarBaseMult(keyScalar(1))
	spentRef := OutputRef{TxHash: crypto.HashBytes([]byte("prev")), Index: 0}

	transaction := &Transaction{
		Inputs: []Input{{Ref: spentRef}},
		Outputs: []Output{
			{Value: 5, Lock: keyLock(pub), Type: OutputPayment},
			{Value: 5, Lock: keyLock(pub), Type: OutputPayment},
		},
	}
	finder := func(key crypto.Hash) (UTXO, bool) { return UTXO{}, false }

	err := Validate(transaction, finder, 1, nil, nil, testParams())
	assertCode(t, err, ErrOutputsNotSorted)
}

func TestValidateFeeCheckerInvoked(t *testing.T) {
	priv := keyScalar(1)
	pub := crypto.ScalarBaseMult(priv)

	spentRef := OutputRef{TxHash: crypto.HashBytes([]byte("prev")), Index: 0}
	spent := UTXO{Output: Output{Value: 1000, Lock: keyLock(pub), Type: OutputPayment}}

	transaction := &Transaction{
		Inputs:  []Input{{Ref: spentRef}},
		Outputs: []Output{{Value: 900, Lock: keyLock(pub), Type: OutputPayment}},
	}
	transaction.Inputs[0].Unlock = signKeyUnlock(t, transaction, 0, priv, SigHashAll, 2)

	finder := func(key crypto.Hash) (UTXO, bool) {
		if key == spentRef.Key() {
			return spent, true
		}
		return UTXO{}, false
	}

	var sawFee amount.Amount
	feeChecker := func(tx *Transaction, sumUnspent amount.Amount) error {
		sawFee = sumUnspent
		return nil
	}

	err := Validate(transaction, finder, 10, feeChecker, nil, testParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sawFee != 100 {
		t.Fatalf("expected fee checker to observe 100, got %d", sawFee)
	}
}

func assertCode(t *testing.T, err error, want ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %s, got nil", want)
	}
	te, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *tx.Error, got %T: %v", err, err)
	}
	if te.Code != want {
		t.Fatalf("expected error code %s, got %s", want, te.Code)
	}
}
