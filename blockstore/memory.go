package blockstore

import (
	"fmt"

	"github.com/stasis-chain/stasis/block"
	"github.com/stasis-chain/stasis/crypto"

	bolt "go.etcd.io/bbolt"
)

var indexBucket = []byte("height_to_hash")

// MemoryStore is the "indexed append-only vector of encoded blocks" backend
// of spec.md §4.6. Blocks live in process memory; indexPath, if non-empty,
// additionally mirrors the height→hash index into a bbolt file so a test
// harness or short-lived node can sanity-check its last-known tip across a
// restart without paying for full block durability, following the same
// bucket-per-concern layout the node's persistent key/value store uses.
type MemoryStore struct {
	blocks   []*block.Block
	byHash   map[crypto.Hash]uint64
	idx      *bolt.DB
	loaded   bool
	genesisH crypto.Hash
}

// NewMemoryStore constructs a backend. indexPath == "" skips the durable
// index entirely and keeps everything in process memory.
func NewMemoryStore(indexPath string) (*MemoryStore, error) {
	m := &MemoryStore{byHash: make(map[crypto.Hash]uint64)}
	if indexPath == "" {
		return m, nil
	}
	db, err := bolt.Open(indexPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("blockstore: open index: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(indexBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("blockstore: create index bucket: %w", err)
	}
	m.idx = db
	return m, nil
}

func (m *MemoryStore) Close() error {
	if m.idx == nil {
		return nil
	}
	return m.idx.Close()
}

func (m *MemoryStore) Load(genesis *block.Block) error {
	if len(m.blocks) > 0 {
		return nil
	}
	m.loaded = true
	return m.SaveBlock(genesis)
}

func (m *MemoryStore) ReadLast() (*block.Block, error) {
	if len(m.blocks) == 0 {
		return nil, newErr(ErrNotFound, "store is empty")
	}
	return m.blocks[len(m.blocks)-1], nil
}

func (m *MemoryStore) ReadByHeight(height uint64) (*block.Block, error) {
	if height >= uint64(len(m.blocks)) {
		return nil, newErr(ErrNotFound, "no block at that height")
	}
	return m.blocks[height], nil
}

func (m *MemoryStore) ReadByHash(hash crypto.Hash) (*block.Block, error) {
	h, ok := m.byHash[hash]
	if !ok {
		return nil, newErr(ErrNotFound, "no block with that hash")
	}
	return m.blocks[h], nil
}

func (m *MemoryStore) SaveBlock(b *block.Block) error {
	if uint64(len(m.blocks)) != b.Header.Height {
		return newErr(ErrHeightOrder, "save_block requires block.height == current_length")
	}
	hash := b.Header.Hash()
	m.blocks = append(m.blocks, b)
	m.byHash[hash] = b.Header.Height
	if m.idx != nil {
		if err := m.idx.Update(func(tx *bolt.Tx) error {
			var heightKey [8]byte
			putU64LE(heightKey[:], b.Header.Height)
			return tx.Bucket(indexBucket).Put(heightKey[:], hash[:])
		}); err != nil {
			return fmt.Errorf("blockstore: persist index: %w", err)
		}
	}
	return nil
}

func (m *MemoryStore) UpdateBlockSig(height uint64, hash crypto.Hash, sig crypto.Signature, validators block.Bitmask) error {
	if height >= uint64(len(m.blocks)) {
		return newErr(ErrNotFound, "no block at that height")
	}
	b := m.blocks[height]
	if b.Header.Hash() != hash {
		return newErr(ErrIndexMismatch, "hash does not match block at that height")
	}
	b.Header.Signature = sig
	b.Header.Validators = validators
	return nil
}

func putU64LE(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}
