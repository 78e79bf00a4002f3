// Package utxo implements the unspent-output set the ledger validates and
// applies transactions against (spec.md §6, "UTXO set"): a map keyed by
// tx.OutputRef.Key(), with copy-on-write block application so a failed block
// never leaves the set partially mutated.
package utxo

import (
	"github.com/stasis-chain/stasis/crypto"
	"github.com/stasis-chain/stasis/tx"
)

// Set is the unspent-output set. The zero value is not usable; construct
// with New.
type Set struct {
	entries map[crypto.Hash]tx.UTXO
}

// New returns an empty Set.
func New() *Set {
	return &Set{entries: make(map[crypto.Hash]tx.UTXO)}
}

// Peek implements tx.UTXOFinder directly against the committed set, with no
// visibility into any in-flight batch.
func (s *Set) Peek(key crypto.Hash) (tx.UTXO, bool) {
	u, ok := s.entries[key]
	return u, ok
}

// Len returns the number of unspent outputs currently tracked.
func (s *Set) Len() int {
	return len(s.entries)
}

// Batch accumulates the spends and creations of a candidate set of
// transactions against a snapshot of Set, without mutating Set until
// Commit. Validate (tx.Validate) is driven against Batch.Finder so that
// transactions within the same block or mempool candidate set correctly see
// each other's spends — preventing a double-spend across two transactions
// that each, in isolation, reference a real UTXO (spec.md §4.2, "a
// double-spend-tracking finder").
type Batch struct {
	base    *Set
	spent   map[crypto.Hash]struct{}
	created map[crypto.Hash]tx.UTXO
}

// NewBatch opens a batch against base. base is read through, never written,
// until Commit.
func (s *Set) NewBatch() *Batch {
	return &Batch{
		base:    s,
		spent:   make(map[crypto.Hash]struct{}),
		created: make(map[crypto.Hash]tx.UTXO),
	}
}

// Finder is a tx.UTXOFinder that resolves references against the batch's
// view: newly created outputs are visible, spent ones are hidden even
// though they remain in base until Commit.
func (b *Batch) Finder(key crypto.Hash) (tx.UTXO, bool) {
	if _, spent := b.spent[key]; spent {
		return tx.UTXO{}, false
	}
	if u, ok := b.created[key]; ok {
		return u, true
	}
	return b.base.Peek(key)
}

// Apply records the spends and creations of one transaction against the
// batch. It returns an error, without mutating the batch, if any input
// references a UTXO the batch does not consider unspent — the same
// double-spend-within-a-set protection spec.md §4.2 requires of the UTXO
// finder passed to tx.Validate.
func (b *Batch) Apply(t *tx.Transaction, unlockHeight uint64) error {
	keys := make(map[crypto.Hash]struct{}, len(t.Inputs))
	for _, in := range t.Inputs {
		if in.Ref.IsCoinbaseRef() {
			continue
		}
		key := in.Ref.Key()
		_, dup := keys[key]
		if _, ok := b.Finder(key); !ok || dup {
			return newErr(ErrAlreadySpent, "input references an already-spent or unknown UTXO")
		}
		keys[key] = struct{}{}
	}
	for key := range keys {
		b.spent[key] = struct{}{}
	}

	txHash := t.Hash()
	for idx, out := range t.Outputs {
		ref := tx.OutputRef{TxHash: txHash, Index: uint64(idx)}
		b.created[ref.Key()] = tx.UTXO{UnlockHeight: unlockHeight, Output: out}
	}
	return nil
}

// UpdateEnrollmentUnlock rewrites the unlock_height of the Freeze UTXO
// referenced by key to newUnlockHeight, without otherwise touching its
// value or lock (spec.md §4.3, "Enrollments additionally update the
// referenced Freeze UTXO's unlock_height to height + ValidatorCycle").
func (b *Batch) UpdateEnrollmentUnlock(key crypto.Hash, newUnlockHeight uint64) error {
	u, ok := b.Finder(key)
	if !ok {
		return newErr(ErrUnknownUTXO, "enrollment references an unknown or already-spent UTXO")
	}
	u.UnlockHeight = newUnlockHeight
	b.created[key] = u
	return nil
}

// Commit folds the batch's spends and creations into base, all at once.
// Nothing about base is visible to change until Commit is called; a
// discarded Batch leaves base untouched.
func (b *Batch) Commit() {
	for key := range b.spent {
		delete(b.base.entries, key)
	}
	for key, u := range b.created {
		b.base.entries[key] = u
	}
}
