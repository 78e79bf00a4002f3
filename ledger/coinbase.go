package ledger

import (
	"github.com/stasis-chain/stasis/amount"
	"github.com/stasis-chain/stasis/crypto"
	"github.com/stasis-chain/stasis/tx"
)

// rewardShare accumulates one payout recipient's credited amount across the
// blocks of a payout window, keyed by the recipient's public-key bytes
// rather than by crypto.Point itself — Point embeds an unexported
// *edwards25519.Point and compares by pointer identity, not curve-point
// value, so it cannot serve as a map key here.
type rewardShare struct {
	pub   [32]byte
	total amount.Amount
}

// GetCoinbaseTx builds the coinbase transaction due at a payout height
// (spec.md §3, "A Coinbase transaction appears iff height ≥ 2·PayoutPeriod
// ∧ height mod PayoutPeriod == 0", and §4.4 "get_coinbase_tx"). It replays
// the prior PayoutPeriod blocks, crediting each block's signers in
// proportion to their Freeze stake with a share of BlockRewardAmount plus
// that block's accumulated transaction fees, and crediting
// CommonsBudgetAddress with CommonsRewardAmount plus SlashPenaltyAmount for
// every validator slashed in that window. Results are cached by height.
func (l *Ledger) GetCoinbaseTx(height uint64) (*tx.Transaction, error) {
	if !l.params.IsPayoutHeight(height) {
		return nil, nil
	}
	if cached, ok := l.coinbaseCache[height]; ok {
		return cached, nil
	}

	shares := make(map[[32]byte]*rewardShare)
	var commonsTotal amount.Amount
	var err error

	windowStart := height - l.params.PayoutPeriod
	for h := windowStart; h < height; h++ {
		b, rerr := l.store.ReadByHeight(h)
		if rerr != nil {
			return nil, newErr(ErrUnknownHeight, "coinbase: payout window references an unstored height")
		}

		active := l.validators.GetValidators(h)
		var signerStakes []amount.Amount
		var signerPubs [][32]byte
		var totalStake amount.Amount
		slashedCount := 0

		for i, v := range active {
			if i < len(b.Header.Preimages) && b.Header.Preimages[i].IsZero() {
				slashedCount++
				continue
			}
			if !b.Header.Validators.IsSet(i) {
				continue
			}
			u, ok := l.utxos.Peek(v.UTXOKey)
			if !ok {
				continue
			}
			signerPubs = append(signerPubs, pubKeyBytes(v.PubKey))
			signerStakes = append(signerStakes, u.Output.Value)
			totalStake, err = amount.Add(totalStake, u.Output.Value)
			if err != nil {
				return nil, err
			}
		}

		blockReward := l.params.BlockRewardAmount
		fee := l.feeAccum[h]
		pool, err2 := amount.Add(blockReward, fee)
		if err2 != nil {
			return nil, err2
		}

		if totalStake > 0 {
			for i, pub := range signerPubs {
				share := proportionalShare(pool, signerStakes[i], totalStake)
				if share == 0 {
					continue
				}
				r, ok := shares[pub]
				if !ok {
					r = &rewardShare{pub: pub}
					shares[pub] = r
				}
				r.total, err = amount.Add(r.total, share)
				if err != nil {
					return nil, err
				}
			}
		} else {
			// No eligible signer: the block's reward pool reverts to the
			// commons budget rather than being lost.
			commonsTotal, err = amount.Add(commonsTotal, pool)
			if err != nil {
				return nil, err
			}
		}

		slashPenalty := amount.Amount(slashedCount) * l.params.SlashPenaltyAmount
		commonsTotal, err = amount.Add(commonsTotal, l.params.CommonsRewardAmount)
		if err != nil {
			return nil, err
		}
		commonsTotal, err = amount.Add(commonsTotal, slashPenalty)
		if err != nil {
			return nil, err
		}
	}

	outs := make([]tx.Output, 0, len(shares)+1)
	for _, r := range shares {
		if r.total == 0 {
			continue
		}
		pub := pubKeyFromBytes(r.pub)
		outs = append(outs, tx.Output{
			Value: r.total,
			Lock:  tx.Lock{Type: tx.LockKey, Bytes: pub.Bytes()},
			Type:  tx.OutputCoinbase,
		})
	}
	if commonsTotal > 0 {
		outs = append(outs, tx.Output{
			Value: commonsTotal,
			Lock:  tx.Lock{Type: tx.LockKey, Bytes: l.params.CommonsBudgetAddress.Bytes()},
			Type:  tx.OutputCoinbase,
		})
	}
	tx.SortOutputs(outs)

	coinbase := &tx.Transaction{
		Inputs:  []tx.Input{tx.CoinbaseInput(height)},
		Outputs: outs,
	}
	l.coinbaseCache[height] = coinbase
	return coinbase, nil
}

// proportionalShare returns floor(pool * stake / totalStake), the integer
// share of pool owed to a signer holding stake out of totalStake. Any
// remainder from flooring is left unassigned (it accrues to no one; the
// sum of all shares over a block can be strictly less than pool).
func proportionalShare(pool amount.Amount, stake amount.Amount, totalStake amount.Amount) amount.Amount {
	if totalStake == 0 {
		return 0
	}
	return amount.Amount((uint64(pool) * uint64(stake)) / uint64(totalStake))
}

func pubKeyBytes(pub crypto.PublicKey) [32]byte {
	var out [32]byte
	copy(out[:], pub.Bytes())
	return out
}

func pubKeyFromBytes(b [32]byte) crypto.PublicKey {
	pt, err := crypto.PointFromBytes(b[:])
	if err != nil {
		// Only reachable if a validator's stored public key was corrupt at
		// enrollment time, which AddEnrollment never allows.
		panic("ledger: corrupt validator public key: " + err.Error())
	}
	return pt
}
