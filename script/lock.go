package script

import "github.com/stasis-chain/stasis/crypto"

// LockType selects how a Lock's bytes are interpreted (spec.md §3/§4.1).
type LockType byte

const (
	LockKey LockType = iota
	LockKeyHash
	LockScript
	LockRedeem
)

// HashLockSize is the encoded width of the hash carried by KeyHash and
// Redeem locks (the full 64-byte Hash type).
const HashLockSize = crypto.HashSize

// ExecuteLock validates unlock against lock under the rules of spec.md
// §4.1 for the four lock types. It returns nil iff the unlock/lock pair
// authorizes the spend; any returned error means "script did not
// authorize" (spec.md §4.1, "Failure modes").
func ExecuteLock(lockType LockType, lock, unlock []byte, ctx Context, budget Budget) error {
	switch lockType {
	case LockKey:
		return executeKeyLock(lock, unlock, ctx)
	case LockKeyHash:
		return executeKeyHashLock(lock, unlock, ctx)
	case LockScript:
		return executeScriptLock(lock, unlock, ctx, budget)
	case LockRedeem:
		return executeRedeemLock(lock, unlock, ctx, budget)
	default:
		return newErr(ErrLockSize, "unrecognized lock type")
	}
}

func executeKeyLock(lock, unlock []byte, ctx Context) error {
	if len(lock) != crypto.PointSize {
		return newErr(ErrLockSize, "Key lock must be 32 bytes")
	}
	if len(unlock) != SigItemSize {
		return newErr(ErrLockSize, "Key unlock must be 65 bytes")
	}
	pub, err := parsePublicKey(lock)
	if err != nil {
		return err
	}
	sigHash, sig, err := parseSigItem(unlock)
	if err != nil {
		return err
	}
	if !crypto.Verify(pub, ctx.Challenge(sigHash), sig) {
		return newErr(ErrSigInvalid, "Key lock signature invalid")
	}
	return nil
}

func executeKeyHashLock(lock, unlock []byte, ctx Context) error {
	if len(lock) != HashLockSize {
		return newErr(ErrLockSize, "KeyHash lock must be 64 bytes")
	}
	if len(unlock) != SigItemSize+crypto.PointSize {
		return newErr(ErrLockSize, "KeyHash unlock must be 97 bytes")
	}
	sigRaw := unlock[:SigItemSize]
	pubRaw := unlock[SigItemSize:]

	var wantHash crypto.Hash
	copy(wantHash[:], lock)
	if crypto.HashBytes(pubRaw) != wantHash {
		return newErr(ErrRedeemHashMismatch, "KeyHash: hash(pubkey) mismatch")
	}
	pub, err := parsePublicKey(pubRaw)
	if err != nil {
		return err
	}
	sigHash, sig, err := parseSigItem(sigRaw)
	if err != nil {
		return err
	}
	if !crypto.Verify(pub, ctx.Challenge(sigHash), sig) {
		return newErr(ErrSigInvalid, "KeyHash lock signature invalid")
	}
	return nil
}

func executeScriptLock(lock, unlock []byte, ctx Context, budget Budget) error {
	eng := NewEngine(budget)
	if err := eng.Run(unlock, ctx); err != nil {
		return err
	}
	if err := eng.Run(lock, ctx); err != nil {
		return err
	}
	return requireSingleTrue(eng.Stack())
}

func executeRedeemLock(lock, unlock []byte, ctx Context, budget Budget) error {
	if len(lock) != HashLockSize {
		return newErr(ErrLockSize, "Redeem lock must be 64 bytes")
	}
	eng := NewEngine(budget)
	if err := eng.Run(unlock, ctx); err != nil {
		return err
	}
	redeemScript, err := eng.Stack().Pop()
	if err != nil {
		return err
	}
	var wantHash crypto.Hash
	copy(wantHash[:], lock)
	if crypto.HashBytes(redeemScript) != wantHash {
		return newErr(ErrRedeemHashMismatch, "Redeem: hash(redeem script) mismatch")
	}
	if err := eng.Run(redeemScript, ctx); err != nil {
		return err
	}
	return requireSingleTrue(eng.Stack())
}

func requireSingleTrue(s *Stack) error {
	if s.Len() != 1 {
		return newErr(ErrFinalStackInvalid, "script must end with exactly one stack item")
	}
	v, err := s.Pop()
	if err != nil {
		return err
	}
	b, err := asBool(v)
	if err != nil {
		return err
	}
	if !b {
		return newErr(ErrFinalStackInvalid, "script did not end with TRUE")
	}
	return nil
}
