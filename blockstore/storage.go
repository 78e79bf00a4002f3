// Package blockstore implements the append-only, content-addressable block
// log: an in-memory backend suited to tests and short-lived nodes, and a
// memory-mapped persistent backend for long-running ones. Both implement
// Storage, so the ledger writer never knows which one it is driving.
package blockstore

import (
	"github.com/stasis-chain/stasis/block"
	"github.com/stasis-chain/stasis/crypto"
)

// Storage is the single interface the two backends implement (spec.md
// §4.6). Load must be called exactly once before any other method; it
// either opens an existing log or seeds it with genesis.
type Storage interface {
	Load(genesis *block.Block) error
	ReadLast() (*block.Block, error)
	ReadByHeight(height uint64) (*block.Block, error)
	ReadByHash(hash crypto.Hash) (*block.Block, error)
	SaveBlock(b *block.Block) error
	UpdateBlockSig(height uint64, hash crypto.Hash, sig crypto.Signature, validators block.Bitmask) error
}
