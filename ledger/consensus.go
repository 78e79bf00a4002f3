package ledger

import (
	"sort"

	"github.com/stasis-chain/stasis/amount"
	"github.com/stasis-chain/stasis/block"
	"github.com/stasis-chain/stasis/crypto"
	"github.com/stasis-chain/stasis/tx"
	"github.com/stasis-chain/stasis/validator"
)

// AcceptBlock runs the five-step block-validation algorithm of spec.md
// §4.4, then persists and applies the block atomically. On any failure the
// block is not persisted and no ledger state changes.
func (l *Ledger) AcceptBlock(b *block.Block) error {
	return l.acceptBlock(b, false)
}

// Externalize is the consensus layer's name for the moment a nominated
// block becomes authoritative (spec.md §6 glossary, "Externalization"); in
// this core it runs the same validation and application as AcceptBlock,
// differing only in the externalized flag passed to the notifier.
func (l *Ledger) Externalize(b *block.Block) error {
	return l.acceptBlock(b, true)
}

func (l *Ledger) acceptBlock(b *block.Block, externalized bool) error {
	if err := l.validateBlockLinkage(b); err != nil {
		return err
	}

	active := l.validators.GetValidators(b.Header.Height)
	if len(b.Header.Preimages) != len(active) {
		return newErr(ErrPreimageCountMismatch, "preimages length does not match active validator count")
	}
	if err := l.validatePreimageEntries(b.Header, active); err != nil {
		return err
	}
	if err := l.validateEnrollments(b.Header.Enrollments); err != nil {
		return err
	}

	expectedCoinbase, err := l.expectedCoinbaseFor(b.Header.Height)
	if err != nil {
		return err
	}
	if err := l.validateCoinbasePresence(b, expectedCoinbase); err != nil {
		return err
	}

	if err := block.VerifyHeaderSignature(&b.Header, active); err != nil {
		return newErr(ErrBlockSignature, err.Error())
	}

	if err := l.dryRunTransactions(b); err != nil {
		return err
	}

	if err := l.store.SaveBlock(b); err != nil {
		return err
	}

	validatorSetChanged, err := l.applyAccepted(b, false)
	if err != nil {
		return err
	}

	if l.params.IsPayoutHeight(b.Header.Height) {
		cutoff := int64(b.Header.Height) - int64(l.params.PayoutPeriod)
		for h := range l.feeAccum {
			if cutoff >= 0 && h < uint64(cutoff) {
				delete(l.feeAccum, h)
			}
		}
	}

	included := make([]crypto.Hash, 0, len(b.Txs))
	for _, t := range b.Txs {
		included = append(included, t.Hash())
	}
	l.pool.removeIncluded(included)

	l.lastBlock = b
	l.notifier.OnAccepted(b, validatorSetChanged, externalized)
	return nil
}

func (l *Ledger) validateBlockLinkage(b *block.Block) error {
	if b.Header.Height != l.lastBlock.Header.Height+1 {
		return newErr(ErrHeightMismatch, "block height is not one past the current tip")
	}
	if b.Header.PrevBlock != l.lastBlock.Header.Hash() {
		return newErr(ErrPrevHashMismatch, "block's prev_block does not match the current tip's hash")
	}
	return nil
}

// validatePreimageEntries checks spec.md §4.4 step 3: each non-init entry
// either matches a pre-image already known for this exact height, or is a
// freshly revealed value that must pass the enrollment manager's
// monotonicity and hash-chain reduction check.
func (l *Ledger) validatePreimageEntries(h block.Header, active []validator.ValidatorInfo) error {
	for i, v := range active {
		p := h.Preimages[i]
		if p.IsZero() {
			continue // slashed-for-this-block marker; applyAccepted performs the slash
		}
		if v.KnownPreimageHeight == h.Height {
			if v.KnownPreimage != p {
				return newErr(ErrPreimageMismatch, "revealed pre-image does not match the already-known value for this height")
			}
			continue
		}
		if crypto.HashChain(p, h.Height-v.EnrollHeight) != v.Commitment {
			return newErr(ErrPreimageMismatch, "revealed pre-image does not reduce to the enrollment commitment")
		}
	}
	return nil
}

// validateEnrollments checks the header-level enrollment invariants that
// don't require mutating state: strict utxo_key ordering and that every
// referenced UTXO exists and is eligible to back a stake (spec.md §3,
// "header.enrollments is strictly monotonic by utxo_key").
func (l *Ledger) validateEnrollments(enrollments []validator.Enrollment) error {
	for i, e := range enrollments {
		if i > 0 && !lessHash(enrollments[i-1].UTXOKey, e.UTXOKey) {
			return newErr(ErrEnrollmentsUnsorted, "enrollments must be strictly monotonic by utxo_key")
		}
		u, ok := l.utxos.Peek(e.UTXOKey)
		if !ok {
			return newErr(ErrEnrollmentUnknownUTXO, "enrollment references an unknown or already-spent UTXO")
		}
		if u.Output.Type != tx.OutputFreeze || u.Output.Value < l.params.MinFreezeAmount {
			return newErr(ErrEnrollmentUnknownUTXO, "enrollment's UTXO is not an eligible Freeze stake")
		}
	}
	return nil
}

// dryRunTransactions re-validates every non-coinbase transaction against a
// throwaway batch before anything is persisted (spec.md §4.4 step 2 must
// complete before step 2 "persist via block storage" — a block carrying an
// invalid transaction must never reach the block log). applyAccepted
// repeats this work against the real batch it commits from.
func (l *Ledger) dryRunTransactions(b *block.Block) error {
	batch := l.utxos.NewBatch()
	for _, t := range b.Txs {
		if t.IsCoinbase() {
			if err := batch.Apply(t, 0); err != nil {
				return err
			}
			continue
		}
		if err := tx.Validate(t, batch.Finder, b.Header.Height, noopFeeChecker, l.penaltyFinder, l.params); err != nil {
			return err
		}
		if err := batch.Apply(t, 0); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) expectedCoinbaseFor(height uint64) (*tx.Transaction, error) {
	if !l.params.IsPayoutHeight(height) {
		return nil, nil
	}
	return l.GetCoinbaseTx(height)
}

func (l *Ledger) validateCoinbasePresence(b *block.Block, expected *tx.Transaction) error {
	var found *tx.Transaction
	for _, t := range b.Txs {
		if t.IsCoinbase() {
			if found != nil {
				return newErr(ErrSurplusCoinbase, "block contains more than one coinbase transaction")
			}
			found = t
		}
	}
	if expected == nil {
		if found != nil {
			return newErr(ErrSurplusCoinbase, "coinbase transaction present in a non-payout block")
		}
		return nil
	}
	if found == nil {
		return newErr(ErrMissingCoinbase, "payout block is missing its coinbase transaction")
	}
	if found.Hash() != expected.Hash() {
		return newErr(ErrMissingCoinbase, "coinbase transaction does not match the computed payout")
	}
	return nil
}

// applyAccepted runs the atomic batch of spec.md §4.4 step 3 (slashing, UTXO
// update, validator-set update) against shadow copies, committing only if
// every transaction and every header entry applies cleanly. isGenesis skips
// the pre-image/slashing pass (genesis carries no pre-images) and makes the
// block's enrollments effective at its own height rather than one later.
// Returns whether the active validator set changed.
func (l *Ledger) applyAccepted(b *block.Block, isGenesis bool) (bool, error) {
	workValidators := l.validators.Clone()
	batch := l.utxos.NewBatch()
	validatorSetChanged := false

	// Transactions apply first so a block's own enrollments can reference a
	// Freeze UTXO that same block just created (the bootstrap case: genesis
	// both funds and enrolls its initial validator set in one step).
	var blockFees amount.Amount
	for _, t := range b.Txs {
		if t.IsCoinbase() {
			if err := batch.Apply(t, 0); err != nil {
				return false, err
			}
			continue
		}
		var fee amount.Amount
		feeChecker := func(_ *tx.Transaction, remaining amount.Amount) error {
			fee = remaining
			return nil
		}
		if err := tx.Validate(t, batch.Finder, b.Header.Height, feeChecker, l.penaltyFinder, l.params); err != nil {
			return false, err
		}
		var err error
		blockFees, err = amount.Add(blockFees, fee)
		if err != nil {
			return false, err
		}
		if err := batch.Apply(t, 0); err != nil {
			return false, err
		}
	}

	if !isGenesis {
		active := workValidators.GetValidators(b.Header.Height)
		for i, v := range active {
			if i >= len(b.Header.Preimages) {
				break
			}
			p := b.Header.Preimages[i]
			if p.IsZero() {
				if err := workValidators.Slash(v.UTXOKey, b.Header.Height); err != nil {
					return false, err
				}
				validatorSetChanged = true
				continue
			}
			if v.KnownPreimageHeight != b.Header.Height || v.KnownPreimage != p {
				if !workValidators.AddPreimage(validator.PreImageInfo{UTXOKey: v.UTXOKey, Hash: p, Height: b.Header.Height}) {
					return false, newErr(ErrPreimageMismatch, "pre-image rejected during application")
				}
			}
		}
	}

	// Genesis enrollments are active from height 0 itself (there is no
	// prior active set whose preimages/signature they could retroactively
	// disturb); every later block's enrollments take effect one height
	// later so this block's own header.Preimages length — computed against
	// the active set *before* this block's enrollments — stays valid under
	// any future re-derivation of GetValidators(b.Header.Height).
	enrollEffectiveHeight := b.Header.Height + 1
	if isGenesis {
		enrollEffectiveHeight = b.Header.Height
	}
	for _, e := range b.Header.Enrollments {
		if err := workValidators.AddEnrollment(e, enrollEffectiveHeight); err != nil {
			return false, err
		}
		if err := batch.UpdateEnrollmentUnlock(e.UTXOKey, b.Header.Height+l.params.ValidatorCycle); err != nil {
			return false, err
		}
		validatorSetChanged = true
	}

	batch.Commit()
	l.validators = workValidators
	l.feeAccum[b.Header.Height] = blockFees
	return validatorSetChanged, nil
}

// ConsensusData is a proposed next block's content, as handed to
// ValidateConsensusData by the nomination layer (spec.md §4.4).
type ConsensusData struct {
	Txs               []*tx.Transaction
	Enrollments       []validator.Enrollment
	MissingValidators []int
}

const minActiveValidators = 1

// ValidateConsensusData validates a proposed next block's transaction set,
// enrollments, and slashing list (spec.md §4.4). initialMissingValidators
// is the snapshot taken at the start of the nomination round, the upper
// bound `H` of the slashing-data bounds check.
func (l *Ledger) ValidateConsensusData(data ConsensusData, initialMissingValidators []int) error {
	height := l.lastBlock.Header.Height + 1
	active := l.validators.GetValidators(height)

	if len(data.MissingValidators) > len(active) {
		return newErr(ErrTooManyMissing, "more missing validators than active validators")
	}

	// Preserved as-is per spec.md §9's open question: this undercounts
	// headroom because it doesn't subtract validators whose cycle is
	// expiring this round regardless of reveal. Implementers must not
	// "fix" this without a consensus change.
	avnb := len(active) - len(data.MissingValidators)
	if avnb < minActiveValidators {
		return newErr(ErrNotEnoughActive, "active validator count would fall below the minimum")
	}

	if err := l.validateSlashingBounds(active, height, data.MissingValidators, initialMissingValidators); err != nil {
		return err
	}

	if err := l.validateEnrollments(data.Enrollments); err != nil {
		return err
	}

	batch := l.utxos.NewBatch()
	for _, t := range data.Txs {
		if t.IsCoinbase() {
			return newErr(ErrPoolCoinbase, "consensus data must not carry an explicit coinbase transaction")
		}
		if err := tx.Validate(t, batch.Finder, height, noopFeeChecker, l.penaltyFinder, l.params); err != nil {
			return err
		}
		if err := batch.Apply(t, 0); err != nil {
			return err
		}
	}
	return nil
}

// validateSlashingBounds enforces L ⊆ M ⊆ H (spec.md §4.4): L is every
// index whose known pre-image height is below height (it cannot possibly
// have revealed in time), H is the nomination round's starting snapshot.
func (l *Ledger) validateSlashingBounds(active []validator.ValidatorInfo, height uint64, m []int, h []int) error {
	hSet := make(map[int]struct{}, len(h))
	for _, idx := range h {
		hSet[idx] = struct{}{}
	}
	mSet := make(map[int]struct{}, len(m))
	for _, idx := range m {
		if idx < 0 || idx >= len(active) {
			return newErr(ErrSlashingBounds, "missing-validator index out of range")
		}
		mSet[idx] = struct{}{}
		if _, ok := hSet[idx]; !ok {
			return newErr(ErrSlashingBounds, "missing-validator index is not in the nomination round's snapshot")
		}
	}
	for i, v := range active {
		if v.KnownPreimageHeight < height {
			if _, ok := mSet[i]; !ok {
				return newErr(ErrSlashingBounds, "validator without a timely pre-image is not in the missing-validator set")
			}
		}
	}
	return nil
}

// BuildBlock assembles the next block from a chosen transaction set,
// enrollment set, and missing-validator list, using whichever pre-images
// are currently known for the target height (spec.md §4.4,
// "build_block ... using current pre-images").
func (l *Ledger) BuildBlock(txs []*tx.Transaction, enrollments []validator.Enrollment, missingValidators []int) *block.Block {
	height := l.lastBlock.Header.Height + 1
	active := l.validators.GetValidators(height)
	missing := make(map[int]struct{}, len(missingValidators))
	for _, i := range missingValidators {
		missing[i] = struct{}{}
	}

	preimages := make([]crypto.Hash, len(active))
	bitmask := block.NewBitmask(len(active))
	for i, v := range active {
		if _, isMissing := missing[i]; isMissing {
			continue
		}
		bitmask.Set(i)
		if v.KnownPreimageHeight == height {
			preimages[i] = v.KnownPreimage
		}
	}

	header := block.Header{
		PrevBlock:   l.lastBlock.Header.Hash(),
		Height:      height,
		Validators:  bitmask,
		Preimages:   preimages,
		Enrollments: enrollments,
	}
	return block.BuildBlock(header, txs)
}

// PrepareNominatingSet returns a draft ConsensusData built from the pool's
// highest-fee-rate transactions and the ledger's own candidate enrollments
// and missing-validator view — a starting point the nomination layer is
// free to refine before calling ValidateConsensusData (spec.md §6).
func (l *Ledger) PrepareNominatingSet(maxTxs int) ConsensusData {
	return ConsensusData{
		Txs:               l.GetCandidateTransactions(maxTxs),
		Enrollments:       l.GetCandidateEnrollments(),
		MissingValidators: l.GetCandidateMissingValidators(),
	}
}

// GetCandidateTransactions returns up to maxTxs pending transactions,
// highest fee rate first.
func (l *Ledger) GetCandidateTransactions(maxTxs int) []*tx.Transaction {
	entries := make([]*poolEntry, 0, len(l.pool.byHash))
	for _, e := range l.pool.byHash {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].feeRate > entries[j].feeRate
	})
	if maxTxs > 0 && len(entries) > maxTxs {
		entries = entries[:maxTxs]
	}
	out := make([]*tx.Transaction, len(entries))
	for i, e := range entries {
		out[i] = e.tx
	}
	return out
}

// GetCandidateEnrollments returns the staged enrollments awaiting
// inclusion, ordered by utxo_key ascending to match the header invariant.
func (l *Ledger) GetCandidateEnrollments() []validator.Enrollment {
	out := make([]validator.Enrollment, 0, len(l.pendingEnrollments))
	for _, e := range l.pendingEnrollments {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return lessHash(out[i].UTXOKey, out[j].UTXOKey)
	})
	return out
}

// GetCandidateMissingValidators returns the conservative lower bound `L` of
// the slashing-data bounds check: positions that cannot possibly have a
// timely pre-image for the next height.
func (l *Ledger) GetCandidateMissingValidators() []int {
	height := l.lastBlock.Header.Height + 1
	active := l.validators.GetValidators(height)
	var out []int
	for i, v := range active {
		if v.KnownPreimageHeight < height {
			out = append(out, i)
		}
	}
	return out
}

// AddPreimage records a validator's revealed pre-image ahead of it
// appearing in a block header, so BuildBlock and validatePreimageEntries
// can find it already known (spec.md §6, "add_preimage").
func (l *Ledger) AddPreimage(info validator.PreImageInfo) bool {
	return l.validators.AddPreimage(info)
}

// AddEnrollment stages a candidate enrollment for nomination after checking
// its UTXO is an eligible, not-yet-active Freeze stake (spec.md §6,
// "add_enrollment").
func (l *Ledger) AddEnrollment(e validator.Enrollment) error {
	u, ok := l.utxos.Peek(e.UTXOKey)
	if !ok {
		return newErr(ErrEnrollmentUnknownUTXO, "enrollment references an unknown or already-spent UTXO")
	}
	if u.Output.Type != tx.OutputFreeze || u.Output.Value < l.params.MinFreezeAmount {
		return newErr(ErrEnrollmentUnknownUTXO, "enrollment's UTXO is not an eligible Freeze stake")
	}
	if l.validators.Exists(e.UTXOKey) {
		height := l.lastBlock.Header.Height + 1
		if active := l.validators.GetValidators(height); containsUTXO(active, e.UTXOKey) {
			return newErr(ErrEnrollmentUnknownUTXO, "utxo_key already has an active enrollment")
		}
	}
	l.pendingEnrollments[e.UTXOKey] = e
	return nil
}

func containsUTXO(vs []validator.ValidatorInfo, key crypto.Hash) bool {
	for _, v := range vs {
		if v.UTXOKey == key {
			return true
		}
	}
	return false
}

func lessHash(a, b crypto.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
