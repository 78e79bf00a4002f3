// Package validator tracks the active validator set, pre-image reveals, and
// slashing (spec.md §4.3, "Enrollment/pre-image tracking"). A validator is
// active at height h iff it was enrolled at some height e ≤ h, h < e +
// ValidatorCycle, and it has not been slashed at a height below h (a
// validator slashed at s is still active at s and inactive from s+1).
package validator

import (
	"sort"

	"github.com/stasis-chain/stasis/crypto"
)

// Enrollment stakes a Freeze UTXO into the active validator set (spec.md
// §3, "Enrollment — (utxo_key, ...)").
type Enrollment struct {
	UTXOKey    crypto.Hash
	PubKey     crypto.PublicKey
	Commitment crypto.Hash
}

// PreImageInfo is a validator's revealed pre-image at a specific height
// (spec.md §3).
type PreImageInfo struct {
	UTXOKey crypto.Hash
	Hash    crypto.Hash
	Height  uint64
}

// ValidatorInfo is the read-only projection of one validator's state the
// ledger and consensus layer query (spec.md §4.3, "get_validators").
type ValidatorInfo struct {
	UTXOKey             crypto.Hash
	PubKey              crypto.PublicKey
	EnrollHeight        uint64
	Commitment          crypto.Hash
	Slashed             bool
	SlashHeight         uint64
	KnownPreimage       crypto.Hash
	KnownPreimageHeight uint64
}

type record struct {
	enrollHeight        uint64
	pubKey              crypto.PublicKey
	commitment          crypto.Hash
	slashed             bool
	slashHeight         uint64
	knownPreimage       crypto.Hash
	knownPreimageHeight uint64
	hasKnownPreimage    bool
}

// Manager owns the enrollment and pre-image state. The zero value is not
// usable; construct with New.
type Manager struct {
	cycle   uint64
	records map[crypto.Hash]*record
}

// New returns an empty Manager configured with the protocol's validator
// cycle length.
func New(validatorCycle uint64) *Manager {
	return &Manager{cycle: validatorCycle, records: make(map[crypto.Hash]*record)}
}

// Clone returns a deep copy, so a caller can attempt a sequence of mutations
// against it and discard the clone on failure without ever touching m — the
// same shadow-and-swap strategy utxo.Batch gives the UTXO set (spec.md §9,
// "Rollback via transactional batch").
func (m *Manager) Clone() *Manager {
	out := &Manager{cycle: m.cycle, records: make(map[crypto.Hash]*record, len(m.records))}
	for k, r := range m.records {
		cp := *r
		out.records[k] = &cp
	}
	return out
}

// AddEnrollment inserts e as newly enrolled at height. It fails if utxo_key
// is already associated with an active (non-expired, non-slashed)
// enrollment, mirroring the block-header invariant that enrollments are
// strictly monotonic and duplicate-free (spec.md §3).
func (m *Manager) AddEnrollment(e Enrollment, height uint64) error {
	if r, ok := m.records[e.UTXOKey]; ok && m.isActiveRecord(r, height) {
		return newErr(ErrDuplicateEnrollment, "utxo_key already has an active enrollment")
	}
	m.records[e.UTXOKey] = &record{
		enrollHeight: height,
		pubKey:       e.PubKey,
		commitment:   e.Commitment,
	}
	return nil
}

func (m *Manager) isActiveRecord(r *record, height uint64) bool {
	if height < r.enrollHeight || height >= r.enrollHeight+m.cycle {
		return false
	}
	if r.slashed && height >= r.slashHeight+1 {
		return false
	}
	return true
}

// CountActive returns the number of validators active at height (spec.md
// §4.3).
func (m *Manager) CountActive(height uint64) int {
	n := 0
	for _, r := range m.records {
		if m.isActiveRecord(r, height) {
			n++
		}
	}
	return n
}

// GetValidators returns the active validators at height, ordered by
// utxo_key ascending — the same order block headers use for pre-image
// positions (spec.md §4.3, "ordered consistently with the pre-image
// positions in block headers").
func (m *Manager) GetValidators(height uint64) []ValidatorInfo {
	keys := make([]crypto.Hash, 0, len(m.records))
	for k, r := range m.records {
		if m.isActiveRecord(r, height) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return lessHash(keys[i], keys[j])
	})

	out := make([]ValidatorInfo, len(keys))
	for i, k := range keys {
		r := m.records[k]
		out[i] = ValidatorInfo{
			UTXOKey:             k,
			PubKey:              r.pubKey,
			EnrollHeight:        r.enrollHeight,
			Commitment:          r.commitment,
			Slashed:             r.slashed,
			SlashHeight:         r.slashHeight,
			KnownPreimage:       r.knownPreimage,
			KnownPreimageHeight: r.knownPreimageHeight,
		}
	}
	return out
}

// AddPreimage records a validator's revealed pre-image, enforcing that the
// known pre-image height only moves forward and that the revealed value
// actually reduces to the enrollment commitment under the required number
// of sequential hashings (spec.md §4.3). Returns false, with no mutation,
// if either check fails.
func (m *Manager) AddPreimage(info PreImageInfo) bool {
	r, ok := m.records[info.UTXOKey]
	if !ok {
		return false
	}
	if info.Height < r.enrollHeight {
		return false
	}
	if r.hasKnownPreimage && info.Height <= r.knownPreimageHeight {
		return false
	}
	n := info.Height - r.enrollHeight
	if crypto.HashChain(info.Hash, n) != r.commitment {
		return false
	}
	r.knownPreimage = info.Hash
	r.knownPreimageHeight = info.Height
	r.hasKnownPreimage = true
	return true
}

// Slash marks the validator referenced by utxo as inactive from height+1
// and forfeits its penalty deposit (spec.md §4.3). Returns an error if
// utxo_key is unknown.
func (m *Manager) Slash(utxo crypto.Hash, height uint64) error {
	r, ok := m.records[utxo]
	if !ok {
		return newErr(ErrUnknownValidator, "slash: unknown utxo_key")
	}
	r.slashed = true
	r.slashHeight = height
	return nil
}

// KnownPreimageHeight reports the height of the most recent pre-image known
// for utxo, and whether one is known at all — the "L" lower bound used by
// slashing-data validation (spec.md §4.4, "Slashing-data bounds").
func (m *Manager) KnownPreimageHeight(utxo crypto.Hash) (uint64, bool) {
	r, ok := m.records[utxo]
	if !ok || !r.hasKnownPreimage {
		return 0, false
	}
	return r.knownPreimageHeight, true
}

// Exists reports whether utxo_key has ever been enrolled.
func (m *Manager) Exists(utxo crypto.Hash) bool {
	_, ok := m.records[utxo]
	return ok
}

// IsSlashed reports whether utxo_key's validator has ever been slashed, and
// whether utxo_key is enrolled at all. Used by the ledger's penalty-deposit
// finder (spec.md §6) to distinguish a still-active stake from one already
// forfeited.
func (m *Manager) IsSlashed(utxo crypto.Hash) (slashed bool, exists bool) {
	r, ok := m.records[utxo]
	if !ok {
		return false, false
	}
	return r.slashed, true
}

// EnrollHeight returns the height at which utxo_key was enrolled, if known.
func (m *Manager) EnrollHeight(utxo crypto.Hash) (uint64, bool) {
	r, ok := m.records[utxo]
	if !ok {
		return 0, false
	}
	return r.enrollHeight, true
}

func lessHash(a, b crypto.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
