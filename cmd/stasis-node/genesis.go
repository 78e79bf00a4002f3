package main

import (
	"github.com/stasis-chain/stasis/amount"
	"github.com/stasis-chain/stasis/block"
	"github.com/stasis-chain/stasis/crypto"
	"github.com/stasis-chain/stasis/tx"
	"github.com/stasis-chain/stasis/validator"
)

// devValidatorSeed deterministically derives a devnet validator's signing
// key and pre-image chain secret from its index, so repeated `-network
// devnet` runs produce byte-identical genesis blocks without a keyfile.
func devValidatorSeed(network string, index int) (priv crypto.Scalar, secret crypto.Hash) {
	priv = crypto.ScalarFromHash(crypto.HashBytes([]byte(network), []byte("devnet-validator-priv"), []byte{byte(index)}))
	secret = crypto.HashBytes([]byte(network), []byte("devnet-validator-preimage"), []byte{byte(index)})
	return priv, secret
}

// preimageChainLength bounds how many blocks a devnet chain can run before
// a validator's hash chain runs out of pre-images to reveal; comfortably
// beyond anything this demonstration CLI mines in one run.
const preimageChainLength = 1 << 20

// devGenesis builds the single-block devnet genesis: one funding/enrolling
// transaction, shaped as a coinbase transaction so applyAccepted's coinbase
// path mints its Freeze outputs without requiring a witnessed prior block,
// each output immediately staked into an Enrollment active from height 0.
// It returns the block alongside a utxo-key-keyed signer index, since
// GetValidators (and so the header's per-position preimage/signature slots)
// orders validators by utxo key, not by devValidatorSeed index.
func devGenesis(network string, validatorCount int, stake amount.Amount) (*block.Block, map[crypto.Hash]devValidatorInfo) {
	outs := make([]tx.Output, validatorCount)
	type seed struct {
		pub        crypto.PublicKey
		commitment crypto.Hash
		priv       crypto.Scalar
		secret     crypto.Hash
	}
	seeds := make([]seed, validatorCount)

	funding := &tx.Transaction{Inputs: []tx.Input{tx.CoinbaseInput(0)}}
	for i := 0; i < validatorCount; i++ {
		priv, secret := devValidatorSeed(network, i)
		pub := crypto.ScalarBaseMult(priv)
		outs[i] = tx.Output{
			Value: stake,
			Lock:  tx.Lock{Type: tx.LockKey, Bytes: pub.Bytes()},
			Type:  tx.OutputFreeze,
		}
		seeds[i] = seed{pub: pub, commitment: crypto.HashChain(secret, preimageChainLength), priv: priv, secret: secret}
	}
	funding.Outputs = outs

	enrollments := make([]validator.Enrollment, validatorCount)
	signers := make(map[crypto.Hash]devValidatorInfo, validatorCount)
	for i, s := range seeds {
		key := tx.OutputRef{TxHash: funding.Hash(), Index: uint64(i)}.Key()
		enrollments[i] = validator.Enrollment{UTXOKey: key, PubKey: s.pub, Commitment: s.commitment}
		signers[key] = devValidatorInfo{priv: s.priv, secret: s.secret}
	}
	sortEnrollmentsByUTXOKey(enrollments)

	header := block.Header{Height: 0, Enrollments: enrollments}
	return block.BuildBlock(header, []*tx.Transaction{funding}), signers
}

// sortEnrollmentsByUTXOKey orders enrollments the way validator.AddEnrollment
// requires them presented in a block header (spec.md §4.3, "Enrollments
// ... sorted by utxo_key").
func sortEnrollmentsByUTXOKey(e []validator.Enrollment) {
	for i := 1; i < len(e); i++ {
		for j := i; j > 0 && lessHash(e[j].UTXOKey, e[j-1].UTXOKey); j-- {
			e[j], e[j-1] = e[j-1], e[j]
		}
	}
}

func lessHash(a, b crypto.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
