package script

import (
	"testing"

	"github.com/stasis-chain/stasis/crypto"
)

type fakeCtx struct {
	challenge    crypto.Hash
	seqChallenge crypto.Hash
	lockHeight   uint64
	unlockAge    uint64
}

func (c fakeCtx) Challenge(SigHash) crypto.Hash                { return c.challenge }
func (c fakeCtx) SeqChallenge(uint32, uint64) crypto.Hash      { return c.seqChallenge }
func (c fakeCtx) LockHeight() uint64                           { return c.lockHeight }
func (c fakeCtx) UnlockAge() uint64                            { return c.unlockAge }

func testBudget() Budget {
	return Budget{MaxTotalSize: 4096, MaxItemSize: 520}
}

func sigItem(t *testing.T, priv crypto.Scalar, sh SigHash, challenge crypto.Hash) []byte {
	t.Helper()
	nonce := crypto.ScalarFromHash(crypto.HashBytes(priv.Bytes(), challenge[:]))
	sig := crypto.Sign(priv, nonce, challenge)
	out := make([]byte, 0, SigItemSize)
	out = append(out, byte(sh))
	out = append(out, sig.R.Bytes()...)
	out = append(out, sig.S.Bytes()...)
	return out
}

func TestKeyLockRoundTrip(t *testing.T) {
	priv := crypto.ScalarFromHash(crypto.HashBytes([]byte("k1")))
	pub := crypto.ScalarBaseMult(priv)
	challenge := crypto.HashBytes([]byte("tx-challenge"))
	ctx := fakeCtx{challenge: challenge}

	unlock := sigItem(t, priv, SigHashAll, challenge)
	if err := ExecuteLock(LockKey, pub.Bytes(), unlock, ctx, testBudget()); err != nil {
		t.Fatalf("expected Key lock to authorize: %v", err)
	}

	wrongCtx := fakeCtx{challenge: crypto.HashBytes([]byte("other"))}
	if err := ExecuteLock(LockKey, pub.Bytes(), unlock, wrongCtx, testBudget()); err == nil {
		t.Fatalf("expected Key lock to reject wrong challenge")
	}
}

func TestKeyHashLockRoundTrip(t *testing.T) {
	priv := crypto.ScalarFromHash(crypto.HashBytes([]byte("k2")))
	pub := crypto.ScalarBaseMult(priv)
	challenge := crypto.HashBytes([]byte("tx-challenge-2"))
	ctx := fakeCtx{challenge: challenge}

	lockHash := crypto.HashBytes(pub.Bytes())
	sig := sigItem(t, priv, SigHashAll, challenge)
	unlock := append(append([]byte{}, sig...), pub.Bytes()...)

	if err := ExecuteLock(LockKeyHash, lockHash[:], unlock, ctx, testBudget()); err != nil {
		t.Fatalf("expected KeyHash lock to authorize: %v", err)
	}
}

func TestScriptLockIfElse(t *testing.T) {
	ctx := fakeCtx{}
	// unlock pushes TRUE; lock: IF TRUE ELSE FALSE END_IF
	unlock := []byte{byte(OpTrue)}
	lock := []byte{byte(OpIf), byte(OpTrue), byte(OpElse), byte(OpFalse), byte(OpEndIf)}
	if err := ExecuteLock(LockScript, lock, unlock, ctx, testBudget()); err != nil {
		t.Fatalf("expected Script lock to authorize: %v", err)
	}
}

func TestScriptLockDanglingIfFails(t *testing.T) {
	ctx := fakeCtx{}
	lock := []byte{byte(OpTrue), byte(OpIf), byte(OpTrue)}
	if err := ExecuteLock(LockScript, lock, []byte{}, ctx, testBudget()); err == nil {
		t.Fatalf("expected dangling IF to fail validation")
	}
}

func TestRedeemLock(t *testing.T) {
	ctx := fakeCtx{}
	redeemScript := []byte{byte(OpTrue)}
	redeemHash := crypto.HashBytes(redeemScript)

	// unlock script: push the redeem script bytes.
	unlock := append([]byte{byte(len(redeemScript))}, redeemScript...)

	if err := ExecuteLock(LockRedeem, redeemHash[:], unlock, ctx, testBudget()); err != nil {
		t.Fatalf("expected Redeem lock to authorize: %v", err)
	}
}

func TestCheckMultiSig(t *testing.T) {
	privs := make([]crypto.Scalar, 3)
	pubs := make([]crypto.Point, 3)
	for i := range privs {
		privs[i] = crypto.ScalarFromHash(crypto.HashBytes([]byte{byte(i), 'm'}))
		pubs[i] = crypto.ScalarBaseMult(privs[i])
	}
	challenge := crypto.HashBytes([]byte("multisig-challenge"))
	ctx := fakeCtx{challenge: challenge}

	eng := NewEngine(testBudget())
	// Build stack manually: push sigs..., n, pubkeys..., m so m is on top
	// and is read first; PopN returns each group in push order.
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	must(eng.Stack().Push(sigItem(t, privs[0], SigHashAll, challenge)))
	must(eng.Stack().Push(sigItem(t, privs[2], SigHashAll, challenge)))
	must(eng.Stack().Push([]byte{2})) // n (2-of-3)
	for _, p := range pubs {
		must(eng.Stack().Push(p.Bytes()))
	}
	must(eng.Stack().Push([]byte{3})) // m

	ok, err := eng.checkMultiSig(ctx)
	if err != nil {
		t.Fatalf("checkMultiSig: %v", err)
	}
	if !ok {
		t.Fatalf("expected 2-of-3 multisig to succeed")
	}
}

func TestVerifyLockHeightAndUnlockAge(t *testing.T) {
	ctx := fakeCtx{lockHeight: 100, unlockAge: 5}
	eng := NewEngine(testBudget())

	lock := []byte{0x08, 0, 0, 0, 0, 0, 0, 0, 0} // push 8 zero bytes -> min 0
	if err := eng.Run(append(lock, byte(OpVerifyLockHeight)), ctx); err != nil {
		t.Fatalf("VERIFY_LOCK_HEIGHT with min 0: %v", err)
	}

	tooHigh := []byte{0x08, 0, 0, 0, 0, 0, 0, 0, 1} // min = 1<<56, way above 100
	if err := eng.Run(append(tooHigh, byte(OpVerifyLockHeight)), ctx); err == nil {
		t.Fatalf("expected VERIFY_LOCK_HEIGHT to fail when min exceeds lock height")
	}

	age := []byte{0x04, 5, 0, 0, 0} // push 4 bytes LE -> min 5
	if err := eng.Run(append(age, byte(OpVerifyUnlockAge)), ctx); err != nil {
		t.Fatalf("VERIFY_UNLOCK_AGE with min 5: %v", err)
	}

	tooOld := []byte{0x04, 6, 0, 0, 0} // min 6, above unlock age 5
	if err := eng.Run(append(tooOld, byte(OpVerifyUnlockAge)), ctx); err == nil {
		t.Fatalf("expected VERIFY_UNLOCK_AGE to fail when min exceeds unlock age")
	}
}
