package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// magic identifies the footer of a well-formed table file.
const magic uint64 = 0x4341534341444542 // "CASCADEB"

const formatVersion uint32 = 1

// blockSizeTarget is the uncompressed size a data block is built up to
// before being sealed and a new one started.
const blockSizeTarget = 64 * 1024

// Codec selects the block compression a table file was built with; the
// choice is recorded in the footer so readers need no out-of-band hint.
type Codec uint32

const (
	CodecNone Codec = iota
	CodecLZ4
	CodecZstd
)

// Shared zstd coder pair; EncodeAll/DecodeAll on these are safe for
// concurrent use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// BlockMeta describes one data block's placement in the file and the first
// internal key it contains, used for the sparse in-memory block index.
type BlockMeta struct {
	Offset       uint32
	Len          uint32 // compressed length on disk
	UncompLen    uint32
	FirstKey     []byte
	SmallestKey  []byte
	LargestKey   []byte
}

// Footer is the fixed-size trailer every table file ends with.
type Footer struct {
	MetaBlockOffset uint32
	MetaBlockLen    uint32
	BloomOffset     uint32
	BloomLen        uint32
	BlockCodec      Codec
	FormatVersion   uint32
	Magic           uint64
}

const footerSize = 4 + 4 + 4 + 4 + 4 + 4 + 8

// Encode serializes the footer to its fixed-size wire form.
func (f Footer) Encode() []byte {
	buf := make([]byte, footerSize)
	binary.BigEndian.PutUint32(buf[0:], f.MetaBlockOffset)
	binary.BigEndian.PutUint32(buf[4:], f.MetaBlockLen)
	binary.BigEndian.PutUint32(buf[8:], f.BloomOffset)
	binary.BigEndian.PutUint32(buf[12:], f.BloomLen)
	binary.BigEndian.PutUint32(buf[16:], uint32(f.BlockCodec))
	binary.BigEndian.PutUint32(buf[20:], f.FormatVersion)
	binary.BigEndian.PutUint64(buf[24:], f.Magic)
	return buf
}

// DecodeFooter parses the trailing footerSize bytes of a table file.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) != footerSize {
		return Footer{}, fmt.Errorf("sstable: footer must be %d bytes, got %d", footerSize, len(buf))
	}
	f := Footer{
		MetaBlockOffset: binary.BigEndian.Uint32(buf[0:]),
		MetaBlockLen:    binary.BigEndian.Uint32(buf[4:]),
		BloomOffset:     binary.BigEndian.Uint32(buf[8:]),
		BloomLen:        binary.BigEndian.Uint32(buf[12:]),
		BlockCodec:      Codec(binary.BigEndian.Uint32(buf[16:])),
		FormatVersion:   binary.BigEndian.Uint32(buf[20:]),
		Magic:           binary.BigEndian.Uint64(buf[24:]),
	}
	if f.Magic != magic {
		return Footer{}, fmt.Errorf("sstable: bad magic %x", f.Magic)
	}
	if f.BlockCodec > CodecZstd {
		return Footer{}, fmt.Errorf("sstable: unknown block codec %d", f.BlockCodec)
	}
	return f, nil
}

// Builder assembles a table file from internal-key-sorted entries.
type Builder struct {
	codec    Codec
	cur      *blockBuilder
	blocks   []BlockMeta
	fileBuf  bytes.Buffer
	allKeys  [][]byte
	lastKey  []byte
	haveLast bool
}

// NewBuilder returns an empty table builder compressing blocks with LZ4,
// the default for flush-path tables where build latency matters most.
func NewBuilder() *Builder {
	return NewBuilderWithCodec(CodecLZ4)
}

// NewBuilderWithCodec returns an empty table builder using the given block
// codec. Compaction into deep levels trades build time for the better
// ratio of zstd, since those tables are written once and read for a long
// time.
func NewBuilderWithCodec(codec Codec) *Builder {
	return &Builder{codec: codec, cur: newBlockBuilder()}
}

// Add appends one entry. Entries must be added in strictly increasing
// internal-key order (ascending user key, then descending epoch for ties).
func (b *Builder) Add(e Entry) error {
	ikey := EncodeInternalKey(e.UserKey, e.Epoch)
	if b.haveLast && bytes.Compare(ikey, b.lastKey) <= 0 {
		return fmt.Errorf("sstable: keys must be added in strictly increasing order")
	}
	b.lastKey = append([]byte(nil), ikey...)
	b.haveLast = true
	b.allKeys = append(b.allKeys, e.UserKey)

	if b.cur.entries == 0 {
		b.blocks = append(b.blocks, BlockMeta{SmallestKey: append([]byte(nil), ikey...)})
	}
	b.cur.add(ikey, e.Value)
	b.blocks[len(b.blocks)-1].LargestKey = append([]byte(nil), ikey...)

	if b.cur.size() >= blockSizeTarget {
		if err := b.sealBlock(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) sealBlock() error {
	if b.cur.entries == 0 {
		return nil
	}
	raw := b.cur.finish()
	var out []byte
	switch b.codec {
	case CodecNone:
	case CodecLZ4:
		compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
		var ht [1 << 16]int
		n, err := lz4.CompressBlock(raw, compressed, ht[:])
		if err != nil {
			return fmt.Errorf("sstable: compress block: %w", err)
		}
		if n > 0 && n < len(raw) {
			out = compressed[:n]
		}
	case CodecZstd:
		compressed := zstdEncoder.EncodeAll(raw, nil)
		if len(compressed) < len(raw) {
			out = compressed
		}
	default:
		return fmt.Errorf("sstable: unknown block codec %d", b.codec)
	}
	meta := &b.blocks[len(b.blocks)-1]
	meta.Offset = uint32(b.fileBuf.Len())
	meta.UncompLen = uint32(len(raw))
	if out == nil {
		// incompressible (or CodecNone): store raw with a length-equal
		// marker (UncompLen == CompLen) so the reader knows.
		meta.Len = uint32(len(raw))
		b.fileBuf.Write(raw)
	} else {
		meta.Len = uint32(len(out))
		b.fileBuf.Write(out)
	}
	b.cur = newBlockBuilder()
	return nil
}

// Finish seals the final block, writes the block-meta index and Bloom
// filter, and returns the complete file bytes plus the Bloom filter and
// block index for immediate in-memory use by the writer (avoiding a
// round-trip decode right after build).
func (b *Builder) Finish() (file []byte, bloom *BloomFilter, blocks []BlockMeta, err error) {
	if err := b.sealBlock(); err != nil {
		return nil, nil, nil, err
	}

	metaOffset := uint32(b.fileBuf.Len())
	metaBuf := encodeBlockMetas(b.blocks)
	b.fileBuf.Write(metaBuf)

	bloomFilter := BuildBloomFilter(b.allKeys)
	bloomOffset := uint32(b.fileBuf.Len())
	bloomBuf := bloomFilter.Encode()
	b.fileBuf.Write(bloomBuf)

	footer := Footer{
		MetaBlockOffset: metaOffset,
		MetaBlockLen:    uint32(len(metaBuf)),
		BloomOffset:     bloomOffset,
		BloomLen:        uint32(len(bloomBuf)),
		BlockCodec:      b.codec,
		FormatVersion:   formatVersion,
		Magic:           magic,
	}
	b.fileBuf.Write(footer.Encode())

	return b.fileBuf.Bytes(), bloomFilter, b.blocks, nil
}

// Empty reports whether any entries were added.
func (b *Builder) Empty() bool { return len(b.blocks) == 0 }

func encodeBlockMetas(blocks []BlockMeta) []byte {
	var buf bytes.Buffer
	var tmp [4]byte
	putU32 := func(v uint32) {
		binary.BigEndian.PutUint32(tmp[:], v)
		buf.Write(tmp[:])
	}
	putBytes := func(b []byte) {
		putU32(uint32(len(b)))
		buf.Write(b)
	}
	putU32(uint32(len(blocks)))
	for _, m := range blocks {
		putU32(m.Offset)
		putU32(m.Len)
		putU32(m.UncompLen)
		putBytes(m.SmallestKey)
		putBytes(m.LargestKey)
	}
	return buf.Bytes()
}

func decodeBlockMetas(buf []byte) ([]BlockMeta, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("sstable: truncated block meta")
	}
	n := binary.BigEndian.Uint32(buf)
	buf = buf[4:]
	out := make([]BlockMeta, 0, n)
	readU32 := func() (uint32, error) {
		if len(buf) < 4 {
			return 0, fmt.Errorf("sstable: truncated block meta")
		}
		v := binary.BigEndian.Uint32(buf)
		buf = buf[4:]
		return v, nil
	}
	readBytes := func() ([]byte, error) {
		l, err := readU32()
		if err != nil {
			return nil, err
		}
		if uint32(len(buf)) < l {
			return nil, fmt.Errorf("sstable: truncated block meta")
		}
		b := buf[:l]
		buf = buf[l:]
		return b, nil
	}
	for i := uint32(0); i < n; i++ {
		var m BlockMeta
		var err error
		if m.Offset, err = readU32(); err != nil {
			return nil, err
		}
		if m.Len, err = readU32(); err != nil {
			return nil, err
		}
		if m.UncompLen, err = readU32(); err != nil {
			return nil, err
		}
		if m.SmallestKey, err = readBytes(); err != nil {
			return nil, err
		}
		if m.LargestKey, err = readBytes(); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Reader serves point lookups and range scans against a built table file
// held entirely in memory (the object-store read path fetches the whole
// object; block-level partial reads would need ranged object reads first).
type Reader struct {
	data   []byte
	codec  Codec
	blocks []BlockMeta
	bloom  *BloomFilter
}

// OpenReader parses footer, block index, and Bloom filter out of data.
func OpenReader(data []byte) (*Reader, error) {
	if len(data) < footerSize {
		return nil, fmt.Errorf("sstable: file too small")
	}
	footer, err := DecodeFooter(data[len(data)-footerSize:])
	if err != nil {
		return nil, err
	}
	metaBuf := data[footer.MetaBlockOffset : footer.MetaBlockOffset+footer.MetaBlockLen]
	blocks, err := decodeBlockMetas(metaBuf)
	if err != nil {
		return nil, err
	}
	bloomBuf := data[footer.BloomOffset : footer.BloomOffset+footer.BloomLen]
	bloom := DecodeBloomFilter(bloomBuf)
	return &Reader{data: data, codec: footer.BlockCodec, blocks: blocks, bloom: bloom}, nil
}

// SmallestKey returns the table's smallest user key, or nil if empty.
func (r *Reader) SmallestKey() []byte {
	if len(r.blocks) == 0 {
		return nil
	}
	uk, _ := SplitInternalKey(r.blocks[0].SmallestKey)
	return uk
}

// LargestKey returns the table's largest user key, or nil if empty.
func (r *Reader) LargestKey() []byte {
	if len(r.blocks) == 0 {
		return nil
	}
	uk, _ := SplitInternalKey(r.blocks[len(r.blocks)-1].LargestKey)
	return uk
}

func (r *Reader) readBlock(idx int) ([]blockRecord, error) {
	m := r.blocks[idx]
	raw := r.data[m.Offset : m.Offset+m.Len]
	var decompressed []byte
	if m.Len == m.UncompLen {
		decompressed = raw
	} else {
		switch r.codec {
		case CodecLZ4:
			decompressed = make([]byte, m.UncompLen)
			n, err := lz4.UncompressBlock(raw, decompressed)
			if err != nil {
				return nil, fmt.Errorf("sstable: decompress block %d: %w", idx, err)
			}
			decompressed = decompressed[:n]
		case CodecZstd:
			var err error
			decompressed, err = zstdDecoder.DecodeAll(raw, make([]byte, 0, m.UncompLen))
			if err != nil {
				return nil, fmt.Errorf("sstable: decompress block %d: %w", idx, err)
			}
		default:
			return nil, fmt.Errorf("sstable: block %d compressed but footer says codec %d", idx, r.codec)
		}
	}
	return decodeBlock(decompressed)
}

// blockIndexFor returns the index of the last block whose SmallestKey is
// <= the target internal key, or -1 if the target precedes every block.
func (r *Reader) blockIndexFor(internalKey []byte) int {
	i := sort.Search(len(r.blocks), func(i int) bool {
		return bytes.Compare(r.blocks[i].SmallestKey, internalKey) > 0
	})
	return i - 1
}

// Get returns the value for the newest entry at userKey with epoch <=
// atEpoch. found is false if no such entry exists in this table or the
// entry found is a tombstone (callers distinguish tombstone from absent via
// the isDelete return).
func (r *Reader) Get(userKey []byte, atEpoch uint64) (value []byte, found bool, isDelete bool, err error) {
	if r.bloom != nil && !r.bloom.MayContain(userKey) {
		return nil, false, false, nil
	}
	// The lookup key is (userKey, atEpoch): any stored entry with the same
	// user key and epoch <= atEpoch sorts at or after this internal key
	// (smaller complemented-epoch suffix sorts first for larger epoch), so
	// search for the first block whose smallest key could hold it.
	lookupKey := EncodeInternalKey(userKey, atEpoch)
	idx := r.blockIndexFor(lookupKey)
	if idx < 0 {
		idx = 0
	}
	for ; idx < len(r.blocks); idx++ {
		if bytes.Compare(r.blocks[idx].SmallestKey, EncodeInternalKey(userKey, 0)) > 0 {
			// this block's smallest key already sorts after every possible
			// internal key for userKey, so userKey can't be in this or any
			// later block
			break
		}
		records, err := r.readBlock(idx)
		if err != nil {
			return nil, false, false, err
		}
		for _, rec := range records {
			uk, epoch := SplitInternalKey(rec.internalKey)
			if !bytes.Equal(uk, userKey) {
				if bytes.Compare(uk, userKey) > 0 {
					return nil, false, false, nil
				}
				continue
			}
			if epoch > atEpoch {
				continue
			}
			if rec.value == nil {
				return nil, false, true, nil
			}
			return rec.value, true, false, nil
		}
	}
	return nil, false, false, nil
}

// AllEntries decodes every block in order and returns the flattened entry
// list; used by compaction to merge tables and by tests.
func (r *Reader) AllEntries() ([]Entry, error) {
	var out []Entry
	for i := range r.blocks {
		records, err := r.readBlock(i)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			uk, epoch := SplitInternalKey(rec.internalKey)
			out = append(out, Entry{UserKey: uk, Epoch: epoch, Value: rec.value})
		}
	}
	return out, nil
}
