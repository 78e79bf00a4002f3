package ledger

import (
	"testing"

	"github.com/stasis-chain/stasis/amount"
	"github.com/stasis-chain/stasis/block"
	"github.com/stasis-chain/stasis/blockstore"
	"github.com/stasis-chain/stasis/consensusparams"
	"github.com/stasis-chain/stasis/crypto"
	"github.com/stasis-chain/stasis/tx"
	"github.com/stasis-chain/stasis/validator"
)

func testLedgerParams() consensusparams.Params {
	return consensusparams.Params{
		ValidatorCycle:       100,
		PayoutPeriod:         2,
		BlockInterval:        5,
		SlashPenaltyAmount:   200,
		CommonsBudgetAddress: crypto.ScalarBaseMult(keyScalar(250)),
		MinFreezeAmount:      500,
		StackMaxTotalSize:    4096,
		StackMaxItemSize:     520,
		BlockRewardAmount:    100,
		CommonsRewardAmount:  10,
	}
}

func keyScalar(seed byte) crypto.Scalar {
	var h crypto.Hash
	h[0] = seed
	return crypto.ScalarFromHash(h)
}

// preimageChainLen is far beyond any height these tests reach, so
// revealAt(height) = HashChain(secret, preimageChainLen-height) always has
// enough room to subtract from.
const preimageChainLen = 100000

type testValidator struct {
	priv       crypto.Scalar
	pub        crypto.PublicKey
	secret     crypto.Hash
	commitment crypto.Hash
	utxoKey    crypto.Hash
}

func (v *testValidator) revealAt(height uint64) crypto.Hash {
	return crypto.HashChain(v.secret, preimageChainLen-height)
}

// newFundingTx mints n Freeze outputs, one per validator, via a
// coinbase-shaped input — applyAccepted applies coinbase transactions
// directly without running tx.Validate, so this is a clean way to seed a
// test genesis's initial stakes without inventing an unwitnessed prior
// block.
func newFundingTx(height uint64, vals []*testValidator, value amount.Amount) *tx.Transaction {
	outs := make([]tx.Output, len(vals))
	for i, v := range vals {
		outs[i] = tx.Output{Value: value, Lock: tx.Lock{Type: tx.LockKey, Bytes: v.pub.Bytes()}, Type: tx.OutputFreeze}
	}
	return &tx.Transaction{Inputs: []tx.Input{tx.CoinbaseInput(height)}, Outputs: outs}
}

func makeValidators(n int, value amount.Amount) ([]*testValidator, *tx.Transaction) {
	vals := make([]*testValidator, n)
	for i := 0; i < n; i++ {
		priv := keyScalar(byte(i + 1))
		secret := crypto.HashBytes([]byte("validator-secret"), []byte{byte(i)})
		vals[i] = &testValidator{
			priv:       priv,
			pub:        crypto.ScalarBaseMult(priv),
			secret:     secret,
			commitment: crypto.HashChain(secret, preimageChainLen),
		}
	}
	funding := newFundingTx(0, vals, value)
	for i, v := range vals {
		v.utxoKey = tx.OutputRef{TxHash: funding.Hash(), Index: uint64(i)}.Key()
	}
	return vals, funding
}

func buildGenesis(vals []*testValidator, funding *tx.Transaction) *block.Block {
	enrollments := make([]validator.Enrollment, len(vals))
	for i, v := range vals {
		enrollments[i] = validator.Enrollment{UTXOKey: v.utxoKey, PubKey: v.pub, Commitment: v.commitment}
	}
	sortEnrollments(enrollments)
	header := block.Header{Height: 0, Enrollments: enrollments}
	return block.BuildBlock(header, []*tx.Transaction{funding})
}

func sortEnrollments(e []validator.Enrollment) {
	for i := 1; i < len(e); i++ {
		for j := i; j > 0 && lessHash(e[j].UTXOKey, e[j-1].UTXOKey); j-- {
			e[j], e[j-1] = e[j-1], e[j]
		}
	}
}

func newTestLedger(t *testing.T, params consensusparams.Params, genesis *block.Block) *Ledger {
	t.Helper()
	store, err := blockstore.NewMemoryStore("")
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	l, err := New(params, store, genesis, nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return l
}

// signBlock builds the aggregate signature over b.Header for the validators
// marked signing, each revealing its pre-image for height — the
// PartialNonce-per-signer construction documented in crypto.PartialNonce.
func signBlock(b *block.Block, active []validator.ValidatorInfo, byKey map[crypto.Hash]*testValidator, signing []int) {
	bitmask := block.NewBitmask(len(active))
	preimages := make([]crypto.Hash, len(active))
	for _, i := range signing {
		v := byKey[active[i].UTXOKey]
		preimages[i] = v.revealAt(b.Header.Height)
	}
	b.Header.Preimages = preimages
	rebuilt := block.BuildBlock(b.Header, b.Txs)
	hash := rebuilt.Header.Hash()

	sumR := crypto.IdentityPoint()
	sumS := crypto.ZeroScalar()
	for _, i := range signing {
		v := byKey[active[i].UTXOKey]
		p := crypto.ScalarFromHash(preimages[i])
		nonce := crypto.PartialNonce(v.priv, p, hash)
		sumR = sumR.Add(crypto.ScalarBaseMult(nonce))
		sumS = sumS.Add(p)
		bitmask.Set(i)
	}

	rebuilt.Header.Signature = crypto.Signature{R: sumR, S: sumS}
	rebuilt.Header.Validators = bitmask
	*b = *rebuilt
}

func indexRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestEmptyStart(t *testing.T) {
	vals, funding := makeValidators(3, 1000)
	genesis := buildGenesis(vals, funding)
	l := newTestLedger(t, testLedgerParams(), genesis)

	if l.GetBlockHeight() != 0 {
		t.Fatalf("expected height 0, got %d", l.GetBlockHeight())
	}
	active := l.GetValidators(1)
	if len(active) != 3 {
		t.Fatalf("expected 3 active validators at height 1, got %d", len(active))
	}

	blocks, err := l.GetBlocksFrom(0)
	if err != nil {
		t.Fatalf("GetBlocksFrom: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Header.Hash() != genesis.Header.Hash() {
		t.Fatalf("expected GetBlocksFrom(0) to return only genesis")
	}
}

func TestLinearGrowthWithFullSignature(t *testing.T) {
	vals, funding := makeValidators(3, 1000)
	genesis := buildGenesis(vals, funding)
	l := newTestLedger(t, testLedgerParams(), genesis)

	byKey := map[crypto.Hash]*testValidator{}
	for _, v := range vals {
		byKey[v.utxoKey] = v
	}

	active := l.GetValidators(1)
	header := block.Header{PrevBlock: genesis.Header.Hash(), Height: 1}
	b := block.BuildBlock(header, nil)
	signBlock(b, active, byKey, indexRange(len(active)))

	if err := l.AcceptBlock(b); err != nil {
		t.Fatalf("AcceptBlock: %v", err)
	}
	if l.GetBlockHeight() != 1 {
		t.Fatalf("expected height 1, got %d", l.GetBlockHeight())
	}

	// The pre-images just revealed must now be known for height 1.
	for _, v := range l.GetValidators(2) {
		if v.KnownPreimageHeight != 1 {
			t.Fatalf("expected validator %x to have a known pre-image at height 1", v.UTXOKey[:4])
		}
	}
}

func TestSlashingOnMissingPreimage(t *testing.T) {
	vals, funding := makeValidators(3, 1000)
	genesis := buildGenesis(vals, funding)
	l := newTestLedger(t, testLedgerParams(), genesis)

	byKey := map[crypto.Hash]*testValidator{}
	for _, v := range vals {
		byKey[v.utxoKey] = v
	}

	active := l.GetValidators(1)
	header := block.Header{PrevBlock: genesis.Header.Hash(), Height: 1}
	b := block.BuildBlock(header, nil)
	// Every validator but index 0 reveals; index 0 is marked signed-but-slashed
	// (bit set, zero pre-image) so it still counts toward majority without
	// contributing to the aggregate.
	signing := indexRange(len(active))[1:]
	signBlock(b, active, byKey, signing)
	b.Header.Validators.Set(0)

	if err := l.AcceptBlock(b); err != nil {
		t.Fatalf("AcceptBlock: %v", err)
	}

	slashedKey := active[0].UTXOKey
	remaining := l.GetValidators(2)
	for _, v := range remaining {
		if v.UTXOKey == slashedKey {
			t.Fatalf("expected slashed validator to be inactive from height+1")
		}
	}
	if len(remaining) != len(active)-1 {
		t.Fatalf("expected %d active validators after slashing, got %d", len(active)-1, len(remaining))
	}
}

// buildAndAcceptBlock advances l by one block at its current tip, every
// validator fully signing, carrying txs (which may be nil, or a single
// coinbase transaction at a payout height).
func buildAndAcceptBlock(t *testing.T, l *Ledger, byKey map[crypto.Hash]*testValidator, txs []*tx.Transaction) *block.Block {
	t.Helper()
	height := l.GetBlockHeight() + 1
	active := l.GetValidators(height)
	header := block.Header{PrevBlock: l.GetLastBlock().Header.Hash(), Height: height}
	b := block.BuildBlock(header, txs)
	signBlock(b, active, byKey, indexRange(len(active)))
	if err := l.AcceptBlock(b); err != nil {
		t.Fatalf("AcceptBlock at height %d: %v", height, err)
	}
	return b
}

func TestCoinbasePayout(t *testing.T) {
	vals, funding := makeValidators(3, 1000)
	genesis := buildGenesis(vals, funding)
	l := newTestLedger(t, testLedgerParams(), genesis)

	byKey := map[crypto.Hash]*testValidator{}
	for _, v := range vals {
		byKey[v.utxoKey] = v
	}

	for h := uint64(1); h < 4; h++ {
		buildAndAcceptBlock(t, l, byKey, nil)
	}

	payoutHeight := l.GetBlockHeight() + 1 // 4, the first payout height with PayoutPeriod=2
	coinbase, err := l.GetCoinbaseTx(payoutHeight)
	if err != nil {
		t.Fatalf("GetCoinbaseTx: %v", err)
	}
	if coinbase == nil {
		t.Fatalf("expected a coinbase transaction at the first payout height")
	}
	if len(coinbase.Outputs) != 4 {
		t.Fatalf("expected 3 validator payouts + 1 commons output, got %d", len(coinbase.Outputs))
	}

	b := buildAndAcceptBlock(t, l, byKey, []*tx.Transaction{coinbase})
	if b.Header.Height != payoutHeight {
		t.Fatalf("expected payout block at height %d, got %d", payoutHeight, b.Header.Height)
	}
}

func TestAcceptTransactionRejectsDoubleSpendBelowThreshold(t *testing.T) {
	vals, funding := makeValidators(1, 1000)
	genesis := buildGenesis(vals, funding)
	l := newTestLedger(t, testLedgerParams(), genesis)

	payerPriv := keyScalar(77)
	payerPub := crypto.ScalarBaseMult(payerPriv)

	// Seed a spendable Payment UTXO directly into the committed set, the same
	// coinbase-input shortcut used for genesis validator funding.
	fundPayment := &tx.Transaction{
		Inputs:  []tx.Input{tx.CoinbaseInput(0)},
		Outputs: []tx.Output{{Value: 1000, Lock: tx.Lock{Type: tx.LockKey, Bytes: payerPub.Bytes()}, Type: tx.OutputPayment}},
	}
	batch := l.utxos.NewBatch()
	if err := batch.Apply(fundPayment, 0); err != nil {
		t.Fatalf("seed payment utxo: %v", err)
	}
	batch.Commit()
	spentRef := tx.OutputRef{TxHash: fundPayment.Hash(), Index: 0}

	buildSpend := func(value amount.Amount) *tx.Transaction {
		return &tx.Transaction{
			Inputs:  []tx.Input{{Ref: spentRef}},
			Outputs: []tx.Output{{Value: value, Lock: tx.Lock{Type: tx.LockKey, Bytes: payerPub.Bytes()}, Type: tx.OutputPayment}},
		}
	}

	first := buildSpend(900)
	first.Inputs[0].Unlock = signKeyUnlock(first, 0, payerPriv, 1)
	if err := l.AcceptTransaction(first, 10, 0); err != nil {
		t.Fatalf("accept first spend: %v", err)
	}

	second := buildSpend(905)
	second.Inputs[0].Unlock = signKeyUnlock(second, 0, payerPriv, 2)
	err := l.AcceptTransaction(second, 10, 0)
	if le, ok := err.(*Error); !ok || le.Code != ErrPoolDoubleSpend {
		t.Fatalf("expected ErrPoolDoubleSpend for a fee rate within threshold, got %v", err)
	}
}

// signKeyUnlock produces a sig_hash ∥ R ∥ s witness for a Key lock, using
// tx.SignatureChallenge rather than package tx's own unexported test helper.
func signKeyUnlock(transaction *tx.Transaction, inputIdx int, priv crypto.Scalar, nonceSeed byte) []byte {
	challenge := tx.SignatureChallenge(transaction, inputIdx, tx.SigHashAll)
	sig := crypto.Sign(priv, keyScalar(nonceSeed), challenge)
	out := make([]byte, 0, 65)
	out = append(out, byte(tx.SigHashAll))
	out = append(out, sig.Bytes()...)
	return out
}
