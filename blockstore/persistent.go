package blockstore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/stasis-chain/stasis/block"
	"github.com/stasis-chain/stasis/crypto"

	"github.com/edsrzf/mmap-go"
)

const (
	// MapSize is the fixed size of every data file the persistent backend
	// allocates (spec.md §4.6).
	MapSize = 640 * 1024
	// ChecksumSize is the width of the leading CRC32 field of every file.
	ChecksumSize = 4
	// DataSize is the portion of a file available for block storage.
	DataSize = MapSize - ChecksumSize
	// sizePrefixWidth is the fixed width of the length prefix before every
	// stored block's encoding.
	sizePrefixWidth = 4

	dataFileNameFmt = "blocks-%010d.dat"
	indexFileName   = "index.dat"
)

type dataFile struct {
	path string
	f    *os.File
	m    mmap.MMap
}

func openDataFile(path string) (*dataFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("blockstore: open data file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if err := f.Truncate(MapSize); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("blockstore: allocate data file: %w", err)
		}
	} else if info.Size() != MapSize {
		_ = f.Close()
		return nil, newErr(ErrCorruptEncoding, "data file has unexpected size")
	}

	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("blockstore: mmap data file: %w", err)
	}

	d := &dataFile{path: path, f: f, m: m}
	if err := d.verifyChecksum(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *dataFile) verifyChecksum() error {
	want := binary.LittleEndian.Uint32(d.m[:ChecksumSize])
	if want == 0 {
		return nil // freshly allocated, all-zero file; nothing written yet.
	}
	got := crc32.ChecksumIEEE(d.m[ChecksumSize:])
	if got != want {
		return newErr(ErrChecksumMismatch, fmt.Sprintf("file %s: checksum mismatch", d.path))
	}
	return nil
}

func (d *dataFile) recomputeChecksum() {
	sum := crc32.ChecksumIEEE(d.m[ChecksumSize:])
	binary.LittleEndian.PutUint32(d.m[:ChecksumSize], sum)
}

func (d *dataFile) flush() error {
	d.recomputeChecksum()
	return d.m.Flush()
}

func (d *dataFile) close() error {
	if err := d.flush(); err != nil {
		_ = d.m.Unmap()
		_ = d.f.Close()
		return err
	}
	if err := d.m.Unmap(); err != nil {
		_ = d.f.Close()
		return err
	}
	return d.f.Close()
}

// PersistentStore is the memory-mapped backend of spec.md §4.6: blocks are
// stored contiguously across fixed-size files, with a per-file CRC32 and a
// height/hash index persisted alongside the data.
type PersistentStore struct {
	dir    string
	files  []*dataFile
	writeP int64 // next write position in the logical (checksum-excluded) byte stream

	heightPos []int64
	hashToH   map[crypto.Hash]uint64
}

// OpenPersistentStore opens (or creates) a persistent backend rooted at dir.
func OpenPersistentStore(dir string) (*PersistentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blockstore: mkdir: %w", err)
	}
	p := &PersistentStore{dir: dir, hashToH: make(map[crypto.Hash]uint64)}
	if err := p.openExistingFiles(); err != nil {
		return nil, err
	}
	if err := p.loadIndex(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PersistentStore) dataFilePath(i int) string {
	return filepath.Join(p.dir, fmt.Sprintf(dataFileNameFmt, i))
}

func (p *PersistentStore) openExistingFiles() error {
	for i := 0; ; i++ {
		path := p.dataFilePath(i)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				break
			}
			return err
		}
		df, err := openDataFile(path)
		if err != nil {
			return err
		}
		p.files = append(p.files, df)
	}
	return nil
}

func (p *PersistentStore) currentFile() (*dataFile, error) {
	idx := int(p.writeP / DataSize)
	for idx >= len(p.files) {
		df, err := openDataFile(p.dataFilePath(len(p.files)))
		if err != nil {
			return nil, err
		}
		p.files = append(p.files, df)
	}
	return p.files[idx], nil
}

// writeAt writes data starting at the logical position pos, spanning file
// boundaries as needed.
func (p *PersistentStore) writeAt(pos int64, data []byte) error {
	for len(data) > 0 {
		fileIdx := int(pos / DataSize)
		for fileIdx >= len(p.files) {
			df, err := openDataFile(p.dataFilePath(len(p.files)))
			if err != nil {
				return err
			}
			p.files = append(p.files, df)
		}
		off := pos % DataSize
		n := copy(p.files[fileIdx].m[ChecksumSize+off:], data)
		data = data[n:]
		pos += int64(n)
	}
	return nil
}

// readAt reads n bytes starting at the logical position pos, spanning file
// boundaries as needed.
func (p *PersistentStore) readAt(pos int64, n int) ([]byte, error) {
	out := make([]byte, n)
	remaining := out
	for len(remaining) > 0 {
		fileIdx := int(pos / DataSize)
		if fileIdx >= len(p.files) {
			return nil, newErr(ErrCorruptEncoding, "read past end of data log")
		}
		off := pos % DataSize
		k := copy(remaining, p.files[fileIdx].m[ChecksumSize+off:])
		remaining = remaining[k:]
		pos += int64(k)
	}
	return out, nil
}

func (p *PersistentStore) flushAll() error {
	for _, f := range p.files {
		if err := f.flush(); err != nil {
			return err
		}
	}
	return nil
}

func (p *PersistentStore) Load(genesis *block.Block) error {
	if len(p.heightPos) > 0 {
		return nil
	}
	return p.SaveBlock(genesis)
}

func (p *PersistentStore) SaveBlock(b *block.Block) error {
	if uint64(len(p.heightPos)) != b.Header.Height {
		return newErr(ErrHeightOrder, "save_block requires block.height == current_length")
	}
	encoded := block.Encode(b)

	var sizePrefix [sizePrefixWidth]byte
	binary.LittleEndian.PutUint32(sizePrefix[:], uint32(len(encoded)))

	startPos := p.writeP
	if err := p.writeAt(p.writeP, sizePrefix[:]); err != nil {
		return err
	}
	p.writeP += sizePrefixWidth
	if err := p.writeAt(p.writeP, encoded); err != nil {
		return err
	}
	p.writeP += int64(len(encoded))

	hash := b.Header.Hash()
	p.heightPos = append(p.heightPos, startPos)
	p.hashToH[hash] = b.Header.Height

	if err := p.flushAll(); err != nil {
		return err
	}
	return p.saveIndex()
}

func (p *PersistentStore) readBlockAt(pos int64) (*block.Block, error) {
	sizeBytes, err := p.readAt(pos, sizePrefixWidth)
	if err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(sizeBytes)
	encoded, err := p.readAt(pos+sizePrefixWidth, int(size))
	if err != nil {
		return nil, err
	}
	return block.Decode(encoded)
}

func (p *PersistentStore) ReadLast() (*block.Block, error) {
	if len(p.heightPos) == 0 {
		return nil, newErr(ErrNotFound, "store is empty")
	}
	return p.readBlockAt(p.heightPos[len(p.heightPos)-1])
}

func (p *PersistentStore) ReadByHeight(height uint64) (*block.Block, error) {
	if height >= uint64(len(p.heightPos)) {
		return nil, newErr(ErrNotFound, "no block at that height")
	}
	return p.readBlockAt(p.heightPos[height])
}

func (p *PersistentStore) ReadByHash(hash crypto.Hash) (*block.Block, error) {
	h, ok := p.hashToH[hash]
	if !ok {
		return nil, newErr(ErrNotFound, "no block with that hash")
	}
	return p.ReadByHeight(h)
}

// UpdateBlockSig rewrites the signature+validators patch region of the
// block at height in place, relying on that region's fixed byte width and
// offset (block.HeaderFixedPrefixSize, block.SigPatchRegionSize).
func (p *PersistentStore) UpdateBlockSig(height uint64, hash crypto.Hash, sig crypto.Signature, validators block.Bitmask) error {
	if height >= uint64(len(p.heightPos)) {
		return newErr(ErrNotFound, "no block at that height")
	}
	existing, err := p.readBlockAt(p.heightPos[height])
	if err != nil {
		return err
	}
	if existing.Header.Hash() != hash {
		return newErr(ErrIndexMismatch, "hash does not match block at that height")
	}

	patchPos := p.heightPos[height] + sizePrefixWidth + int64(block.HeaderFixedPrefixSize)
	patch := block.EncodeSigPatch(sig, validators)
	if err := p.writeAt(patchPos, patch); err != nil {
		return err
	}
	return p.flushAll()
}

func (p *PersistentStore) indexPath() string {
	return filepath.Join(p.dir, indexFileName)
}

func (p *PersistentStore) saveIndex() error {
	buf := make([]byte, 0, 8+len(p.heightPos)*(8+crypto.HashSize+8))
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(p.heightPos)))
	buf = append(buf, countBuf[:]...)

	for height, pos := range p.heightPos {
		var rec [8 + crypto.HashSize + 8]byte
		binary.LittleEndian.PutUint64(rec[0:8], uint64(height))
		// The hash is not kept indexed by height directly; recover it via
		// the reverse map built during SaveBlock/loadIndex.
		for h, hh := range p.hashToH {
			if hh == uint64(height) {
				copy(rec[8:8+crypto.HashSize], h[:])
				break
			}
		}
		binary.LittleEndian.PutUint64(rec[8+crypto.HashSize:], uint64(pos))
		buf = append(buf, rec[:]...)
	}

	return os.WriteFile(p.indexPath(), buf, 0o600)
}

func (p *PersistentStore) loadIndex() error {
	data, err := os.ReadFile(p.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("blockstore: read index: %w", err)
	}
	if len(data) < 8 {
		return newErr(ErrCorruptEncoding, "index.dat truncated")
	}
	count := binary.LittleEndian.Uint64(data[:8])
	recSize := 8 + crypto.HashSize + 8
	want := 8 + int(count)*recSize
	if len(data) != want {
		return newErr(ErrCorruptEncoding, "index.dat size does not match its record count")
	}

	heightPos := make([]int64, count)
	hashToH := make(map[crypto.Hash]uint64, count)
	off := 8
	for i := uint64(0); i < count; i++ {
		rec := data[off : off+recSize]
		off += recSize
		height := binary.LittleEndian.Uint64(rec[0:8])
		var h crypto.Hash
		copy(h[:], rec[8:8+crypto.HashSize])
		pos := int64(binary.LittleEndian.Uint64(rec[8+crypto.HashSize:]))
		if height >= count {
			return newErr(ErrIndexMismatch, "index.dat height out of range")
		}
		heightPos[height] = pos
		hashToH[h] = height
	}

	p.heightPos = heightPos
	p.hashToH = hashToH
	if count > 0 {
		p.writeP = heightPos[count-1]
		last, err := p.readBlockAt(p.writeP)
		if err != nil {
			return err
		}
		encoded := block.Encode(last)
		p.writeP += sizePrefixWidth + int64(len(encoded))
	}
	return nil
}

func (p *PersistentStore) Close() error {
	var firstErr error
	for _, f := range p.files {
		if err := f.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
