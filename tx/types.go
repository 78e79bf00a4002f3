// Package tx implements the transaction data model and validation rules
// of spec.md §3 and §4.2: payment, freeze, and coinbase transactions
// validated against an unspent-output set, the script engine, and fee and
// penalty-deposit collaborators.
package tx

import (
	"github.com/stasis-chain/stasis/amount"
	"github.com/stasis-chain/stasis/crypto"
	"github.com/stasis-chain/stasis/script"
)

// SigHash selects which transaction fields a signature binds; re-exported
// from package script since this package's per-input signing context
// implements script.Context.
type SigHash = script.SigHash

const (
	SigHashAll     = script.SigHashAll
	SigHashNoInput = script.SigHashNoInput
)

// LockType mirrors script.LockType; re-exported so callers constructing
// Outputs don't need to import script directly.
type LockType = script.LockType

const (
	LockKey     = script.LockKey
	LockKeyHash = script.LockKeyHash
	LockScript  = script.LockScript
	LockRedeem  = script.LockRedeem
)

// Lock is a spend condition attached to an Output (spec.md §3).
type Lock struct {
	Type  LockType
	Bytes []byte
}

// OutputType distinguishes ordinary payments from stake-backing Freeze
// outputs and payout-only Coinbase outputs (spec.md §3).
type OutputType byte

const (
	OutputPayment OutputType = iota
	OutputFreeze
	OutputCoinbase
)

// Output is a single spendable value locked by a spend condition.
type Output struct {
	Value amount.Amount
	Lock  Lock
	Type  OutputType
}

// OutputRef identifies the UTXO an Input spends. Coinbase inputs carry the
// block height in Index and the zero Hash in TxHash (spec.md §3, "Coinbase
// inputs carry the block height in the UTXO-reference field").
type OutputRef struct {
	TxHash crypto.Hash
	Index  uint64
}

// CoinbaseInput returns the canonical single input of a coinbase
// transaction at the given height (spec.md §4.2, "Coinbase: single input
// equal to Input(height)").
func CoinbaseInput(height uint64) Input {
	return Input{Ref: OutputRef{Index: height}}
}

// IsCoinbaseRef reports whether ref is a coinbase height reference rather
// than a real spent output.
func (ref OutputRef) IsCoinbaseRef() bool {
	return ref.TxHash.IsZero()
}

// Key returns the UTXO identifier hash(tx_hash, output_idx) (spec.md §3,
// "UTXO ... identified by hash(tx_hash, output_index)").
func (ref OutputRef) Key() crypto.Hash {
	var idx [8]byte
	idx[0] = byte(ref.Index)
	idx[1] = byte(ref.Index >> 8)
	idx[2] = byte(ref.Index >> 16)
	idx[3] = byte(ref.Index >> 24)
	idx[4] = byte(ref.Index >> 32)
	idx[5] = byte(ref.Index >> 40)
	idx[6] = byte(ref.Index >> 48)
	idx[7] = byte(ref.Index >> 56)
	return crypto.HashBytes(ref.TxHash[:], idx[:])
}

// Input spends one previously created UTXO (spec.md §3): (utxo_ref,
// unlock, unlock_age).
type Input struct {
	Ref       OutputRef
	Unlock    []byte
	UnlockAge uint64
}

// UTXO is the projection of an Output the unspent-output set stores,
// alongside the height at which it becomes spendable (spec.md §3).
type UTXO struct {
	UnlockHeight uint64
	Output       Output
}

// Transaction is the full set of fields validated and applied atomically
// (spec.md §3): (inputs[], outputs[], payload[], lock_height). Outputs are
// sorted; inputs are strictly monotonic by hash.
type Transaction struct {
	Inputs     []Input
	Outputs    []Output
	Payload    []byte
	LockHeight uint64
}

// IsCoinbase reports whether tx is shaped like a coinbase transaction: a
// single input carrying a coinbase (zero-hash) reference.
func (t *Transaction) IsCoinbase() bool {
	return len(t.Inputs) == 1 && t.Inputs[0].Ref.IsCoinbaseRef()
}
