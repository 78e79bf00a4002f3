package ledger

import (
	"github.com/stasis-chain/stasis/amount"
	"github.com/stasis-chain/stasis/block"
	"github.com/stasis-chain/stasis/blockstore"
	"github.com/stasis-chain/stasis/consensusparams"
	"github.com/stasis-chain/stasis/crypto"
	"github.com/stasis-chain/stasis/tx"
	"github.com/stasis-chain/stasis/utxo"
	"github.com/stasis-chain/stasis/validator"
)

// Notifier is told about every block the ledger accepts, so a node's
// networking and mining layers can react without the core depending on them
// (spec.md §4.4, "accept_block ... notifies observers"). externalized is set
// when the block arrived via Externalize rather than a direct AcceptBlock
// call, letting a listener distinguish SCP-style externalization from local
// block construction.
type Notifier interface {
	OnAccepted(b *block.Block, validatorSetChanged bool, externalized bool)
}

type nopNotifier struct{}

func (nopNotifier) OnAccepted(*block.Block, bool, bool) {}

// Ledger composes the UTXO set, validator manager, and block log into the
// single externally-consistent state machine spec.md §4.4 describes:
// accept_block, accept_transaction, build_block, get_coinbase_tx, and the
// late-signature path, each applied atomically.
type Ledger struct {
	params     consensusparams.Params
	utxos      *utxo.Set
	validators *validator.Manager
	store      blockstore.Storage
	pool       *pool
	notifier   Notifier

	lastBlock          *block.Block
	feeAccum           map[uint64]amount.Amount
	coinbaseCache      map[uint64]*tx.Transaction
	pendingEnrollments map[crypto.Hash]validator.Enrollment
}

// New constructs a Ledger over store, seeding it with genesis if store is
// empty. genesis is passed directly rather than through Params to avoid an
// import cycle (consensusparams would otherwise have to import block, which
// imports tx, which imports consensusparams).
func New(params consensusparams.Params, store blockstore.Storage, genesis *block.Block, notifier Notifier) (*Ledger, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}

	l := &Ledger{
		params:             params,
		utxos:              utxo.New(),
		validators:         validator.New(params.ValidatorCycle),
		store:              store,
		pool:               newPool(),
		notifier:           notifier,
		feeAccum:           make(map[uint64]amount.Amount),
		coinbaseCache:      make(map[uint64]*tx.Transaction),
		pendingEnrollments: make(map[crypto.Hash]validator.Enrollment),
	}

	if err := store.Load(genesis); err != nil {
		return nil, err
	}

	last, err := store.ReadLast()
	if err != nil {
		return nil, err
	}

	if last.Header.Height == genesis.Header.Height && last.Header.Hash() == genesis.Header.Hash() {
		if _, err := l.applyAccepted(genesis, true); err != nil {
			return nil, err
		}
	} else {
		if err := l.replayFrom(genesis, last); err != nil {
			return nil, err
		}
	}

	l.lastBlock = last
	return l, nil
}

// replayFrom reconstructs in-memory UTXO/validator state by re-applying
// every block from genesis through last, inclusive — used when store
// already held a chain before this process started.
func (l *Ledger) replayFrom(genesis, last *block.Block) error {
	for h := genesis.Header.Height; h <= last.Header.Height; h++ {
		b, err := l.store.ReadByHeight(h)
		if err != nil {
			return err
		}
		if _, err := l.applyAccepted(b, h == genesis.Header.Height); err != nil {
			return err
		}
	}
	return nil
}

// penaltyFinder implements tx.PenaltyDepositFinder per spec.md §6: a
// slashed validator's whole stake is already forfeit; an unslashed one's
// configured penalty is SlashPenaltyAmount.
func (l *Ledger) penaltyFinder(key crypto.Hash) amount.Amount {
	u, ok := l.utxos.Peek(key)
	if !ok {
		return 0
	}
	if slashed, exists := l.validators.IsSlashed(key); exists && slashed {
		return u.Output.Value
	}
	return l.params.SlashPenaltyAmount
}

// noopFeeChecker implements tx.FeeChecker: any unspent remainder is simply the
// fee; the core imposes no minimum here, leaving relative policy to
// AcceptTransaction's pool-facing rules (spec.md §4.4).
func noopFeeChecker(*tx.Transaction, amount.Amount) error { return nil }

// GetBlockHeight returns the height of the most recently accepted block.
func (l *Ledger) GetBlockHeight() uint64 {
	return l.lastBlock.Header.Height
}

// GetLastBlock returns the most recently accepted block.
func (l *Ledger) GetLastBlock() *block.Block {
	return l.lastBlock
}

// GetBlocksFrom returns every stored block from height through the current
// tip, inclusive, for sync-style catch-up (spec.md §6, "External
// interfaces").
func (l *Ledger) GetBlocksFrom(height uint64) ([]*block.Block, error) {
	var out []*block.Block
	for h := height; h <= l.lastBlock.Header.Height; h++ {
		b, err := l.store.ReadByHeight(h)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// GetTransactionByHash locates a transaction pending in the pool by hash.
func (l *Ledger) GetTransactionByHash(hash crypto.Hash) (*tx.Transaction, bool) {
	return l.pool.get(hash)
}

// GetUnknownTxHashes filters hashes down to those the pool has not seen,
// for peer-to-peer inventory reconciliation.
func (l *Ledger) GetUnknownTxHashes(hashes []crypto.Hash) []crypto.Hash {
	var out []crypto.Hash
	for _, h := range hashes {
		if !l.pool.has(h) {
			out = append(out, h)
		}
	}
	return out
}

// GetValidators returns the validator set active at height.
func (l *Ledger) GetValidators(height uint64) []validator.ValidatorInfo {
	return l.validators.GetValidators(height)
}

// PeekUTXO looks up a UTXO in the committed set.
func (l *Ledger) PeekUTXO(key crypto.Hash) (tx.UTXO, bool) {
	return l.utxos.Peek(key)
}

// AcceptTransaction validates t against the committed UTXO set and the
// pool's fee and double-spend policy, inserting it on success (spec.md
// §4.4, "accept_transaction"). doubleSpendThresholdPct and minFeePct are
// expressed as whole percentages (e.g. 10 means 10%).
func (l *Ledger) AcceptTransaction(t *tx.Transaction, doubleSpendThresholdPct, minFeePct float64) error {
	if t.IsCoinbase() {
		return newErr(ErrPoolCoinbase, "coinbase transactions cannot be submitted to the pool")
	}
	hash := t.Hash()
	if l.pool.has(hash) {
		return newErr(ErrPoolDuplicate, "transaction already in the pool")
	}

	height := l.lastBlock.Header.Height + 1
	var fee amount.Amount
	feeChecker := func(_ *tx.Transaction, remaining amount.Amount) error {
		fee = remaining
		return nil
	}
	if err := tx.Validate(t, l.utxos.Peek, height, feeChecker, l.penaltyFinder, l.params); err != nil {
		return err
	}

	rate := feeRate(t, fee)
	if avg := l.pool.averageFeeRate(); avg > 0 && rate < avg*minFeePct/100 {
		return newErr(ErrPoolFeeBelowMinimum, "fee rate below the pool's relative minimum")
	}

	spends := spentKeys(t)
	conflicts := l.pool.conflicts(spends)
	if len(conflicts) > 0 {
		maxRate := maxConflictFeeRate(conflicts)
		if rate <= maxRate*(1+doubleSpendThresholdPct/100) {
			return newErr(ErrPoolDoubleSpend, "replacement fee rate does not exceed the incumbent by the required threshold")
		}
		for _, c := range conflicts {
			l.pool.evict(c.hash)
		}
	}

	l.pool.insert(&poolEntry{tx: t, hash: hash, fee: fee, feeRate: rate, spends: spends})
	return nil
}

// UpdateBlockMultiSig patches a previously accepted block's aggregate
// signature and validator bitmask in place, without touching its header
// hash (spec.md §4.5, "update_block_multi_sig"): used when a late-arriving
// validator's pre-image extends a signature already accepted with a bare
// majority. header must carry the same prev_block/merkle_root/height/
// preimages/enrollments as the stored block — only Signature and Validators
// may differ — since those are exactly the fields excluded from the hash
// that identifies which stored block is being patched.
func (l *Ledger) UpdateBlockMultiSig(header block.Header) error {
	active := l.validators.GetValidators(header.Height)
	if err := block.VerifyHeaderSignatureRelaxed(&header, active); err != nil {
		return newErr(ErrBlockSignature, err.Error())
	}

	hash := header.Hash()
	if err := l.store.UpdateBlockSig(header.Height, hash, header.Signature, header.Validators); err != nil {
		return err
	}
	if l.lastBlock.Header.Height == header.Height {
		l.lastBlock.Header.Signature = header.Signature
		l.lastBlock.Header.Validators = header.Validators
	}
	return nil
}
