package ledger

import (
	"github.com/stasis-chain/stasis/amount"
	"github.com/stasis-chain/stasis/crypto"
	"github.com/stasis-chain/stasis/tx"
)

// poolEntry is one pending transaction held by the pool, alongside the
// bookkeeping accept_transaction needs for the double-spend and fee-rate
// policies of spec.md §4.4.
type poolEntry struct {
	tx      *tx.Transaction
	hash    crypto.Hash
	fee     amount.Amount
	feeRate float64 // fee per encoded byte
	spends  []crypto.Hash
}

// pool is the ledger's pending-transaction set (spec.md §4.4,
// "accept_transaction ... insert into the pool").
type pool struct {
	byHash   map[crypto.Hash]*poolEntry
	spenders map[crypto.Hash][]crypto.Hash // utxo key -> pool tx hashes spending it
}

func newPool() *pool {
	return &pool{
		byHash:   make(map[crypto.Hash]*poolEntry),
		spenders: make(map[crypto.Hash][]crypto.Hash),
	}
}

func (p *pool) has(hash crypto.Hash) bool {
	_, ok := p.byHash[hash]
	return ok
}

func (p *pool) get(hash crypto.Hash) (*tx.Transaction, bool) {
	e, ok := p.byHash[hash]
	if !ok {
		return nil, false
	}
	return e.tx, true
}

func (p *pool) averageFeeRate() float64 {
	if len(p.byHash) == 0 {
		return 0
	}
	var sum float64
	for _, e := range p.byHash {
		sum += e.feeRate
	}
	return sum / float64(len(p.byHash))
}

// conflicts returns the existing pool entries that share at least one
// spent UTXO with spends.
func (p *pool) conflicts(spends []crypto.Hash) []*poolEntry {
	seen := make(map[crypto.Hash]struct{})
	var out []*poolEntry
	for _, key := range spends {
		for _, h := range p.spenders[key] {
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, p.byHash[h])
		}
	}
	return out
}

// maxConflictFeeRate returns the highest fee rate among conflicts, or 0 if
// there are none.
func maxConflictFeeRate(conflicts []*poolEntry) float64 {
	var max float64
	for _, e := range conflicts {
		if e.feeRate > max {
			max = e.feeRate
		}
	}
	return max
}

func (p *pool) evict(hash crypto.Hash) {
	e, ok := p.byHash[hash]
	if !ok {
		return
	}
	delete(p.byHash, hash)
	for _, key := range e.spends {
		list := p.spenders[key]
		for i, h := range list {
			if h == hash {
				p.spenders[key] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(p.spenders[key]) == 0 {
			delete(p.spenders, key)
		}
	}
}

func (p *pool) insert(e *poolEntry) {
	p.byHash[e.hash] = e
	for _, key := range e.spends {
		p.spenders[key] = append(p.spenders[key], e.hash)
	}
}

// removeIncluded drops every pool entry whose hash appears in included —
// spec.md §4.4, "on block acceptance, all txs included in the block are
// removed from the pool before the commit point".
func (p *pool) removeIncluded(included []crypto.Hash) {
	for _, h := range included {
		p.evict(h)
	}
}

func (p *pool) size() int {
	return len(p.byHash)
}

func spentKeys(t *tx.Transaction) []crypto.Hash {
	keys := make([]crypto.Hash, 0, len(t.Inputs))
	for _, in := range t.Inputs {
		if in.Ref.IsCoinbaseRef() {
			continue
		}
		keys = append(keys, in.Ref.Key())
	}
	return keys
}
