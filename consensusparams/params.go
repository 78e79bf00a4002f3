// Package consensusparams holds the immutable configuration every ledger is
// constructed with (spec.md §6, "Consensus params (immutable at startup)").
package consensusparams

import (
	"github.com/stasis-chain/stasis/amount"
	"github.com/stasis-chain/stasis/crypto"
)

// Amount is a non-negative integer quantity (spec.md §3). Arithmetic on
// Amount fails rather than wraps on overflow/underflow; see package amount.
type Amount = amount.Amount

// Params bundles the protocol constants the core consumes. It is built once
// at process start (by the node's config/bootstrap layer, outside the core)
// and passed by value or pointer to ledger.New; nothing inside the core
// mutates it.
type Params struct {
	// ValidatorCycle is the number of blocks an enrollment remains active for.
	ValidatorCycle uint64
	// PayoutPeriod is the block-height period between coinbase payouts.
	PayoutPeriod uint64
	// BlockInterval is the target time, in seconds, between blocks.
	BlockInterval uint64
	// SlashPenaltyAmount is debited from a slashed validator's Freeze stake
	// and credited to CommonsBudgetAddress.
	SlashPenaltyAmount Amount
	// CommonsBudgetAddress receives slash penalties and unallocated rewards.
	CommonsBudgetAddress crypto.PublicKey
	// MinFreezeAmount is the minimum stake a Freeze UTXO must hold to back
	// an enrollment.
	MinFreezeAmount Amount
	// StackMaxTotalSize bounds the combined size of the items on the script
	// engine's stack at any one time; popped items no longer count.
	StackMaxTotalSize int
	// StackMaxItemSize bounds the size of any single stack item.
	StackMaxItemSize int
	// BlockRewardAmount is the amount distributed to signing validators,
	// proportional to stake, for each block in a payout window.
	BlockRewardAmount Amount
	// CommonsRewardAmount is the fixed per-block share credited to
	// CommonsBudgetAddress regardless of slashing.
	CommonsRewardAmount Amount
}

// Validate checks internal consistency of the parameter set.
func (p Params) Validate() error {
	if p.ValidatorCycle == 0 {
		return errParam("ValidatorCycle must be > 0")
	}
	if p.PayoutPeriod == 0 {
		return errParam("PayoutPeriod must be > 0")
	}
	if p.StackMaxTotalSize <= 0 || p.StackMaxItemSize <= 0 {
		return errParam("stack size bounds must be > 0")
	}
	if p.StackMaxItemSize > p.StackMaxTotalSize {
		return errParam("StackMaxItemSize must not exceed StackMaxTotalSize")
	}
	return nil
}

type paramError string

func (e paramError) Error() string { return "consensusparams: " + string(e) }

func errParam(msg string) error { return paramError(msg) }

// IsPayoutHeight reports whether height is a payout block per spec.md §3:
// "A Coinbase transaction appears iff height ≥ 2·PayoutPeriod ∧ height mod
// PayoutPeriod == 0".
func (p Params) IsPayoutHeight(height uint64) bool {
	return height >= 2*p.PayoutPeriod && height%p.PayoutPeriod == 0
}
