package sstable

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

// bitsPerKey follows the standard RocksDB/LevelDB formula for a target false
// positive rate of ~1%: bits_per_key = ceil(-log2(fpr) / ln(2)).
const bitsPerKey = 10

// BloomFilter is a fixed-size Bloom filter built once from a known key set
// and read thereafter. numHashes is derived from bitsPerKey per the standard
// formula k = bits_per_key * ln(2), rounded to the nearest integer in
// [1, 30].
type BloomFilter struct {
	bits      []byte
	numHashes int
}

// BuildBloomFilter constructs a filter sized for len(keys) entries.
func BuildBloomFilter(keys [][]byte) *BloomFilter {
	n := len(keys)
	if n == 0 {
		n = 1
	}
	numBits := n * bitsPerKey
	if numBits < 64 {
		numBits = 64
	}
	numBytes := (numBits + 7) / 8
	numHashes := int(math.Round(float64(bitsPerKey) * math.Ln2))
	if numHashes < 1 {
		numHashes = 1
	}
	if numHashes > 30 {
		numHashes = 30
	}

	f := &BloomFilter{
		bits:      make([]byte, numBytes),
		numHashes: numHashes,
	}
	for _, k := range keys {
		f.add(k)
	}
	return f
}

// h1/h2 double-hashing: the i-th probe is h1 + i*h2, the standard technique
// (Kirsch-Mitzenmacher) for deriving k hash functions from two.
func (f *BloomFilter) probes(key []byte) (h1, h2 uint64) {
	sum := xxhash.Sum64(key)
	h1 = sum
	h2 = (sum >> 17) | (sum << 47)
	return
}

func (f *BloomFilter) add(key []byte) {
	h1, h2 := f.probes(key)
	nbits := uint64(len(f.bits)) * 8
	for i := 0; i < f.numHashes; i++ {
		bitPos := (h1 + uint64(i)*h2) % nbits
		f.bits[bitPos/8] |= 1 << (bitPos % 8)
	}
}

// MayContain reports whether key might be present. False means definitely
// absent; true may be a false positive.
func (f *BloomFilter) MayContain(key []byte) bool {
	h1, h2 := f.probes(key)
	nbits := uint64(len(f.bits)) * 8
	for i := 0; i < f.numHashes; i++ {
		bitPos := (h1 + uint64(i)*h2) % nbits
		if f.bits[bitPos/8]&(1<<(bitPos%8)) == 0 {
			return false
		}
	}
	return true
}

// Encode serializes the filter: 1 byte numHashes, 4 byte length, bits.
func (f *BloomFilter) Encode() []byte {
	out := make([]byte, 1+4+len(f.bits))
	out[0] = byte(f.numHashes)
	out[1] = byte(len(f.bits) >> 24)
	out[2] = byte(len(f.bits) >> 16)
	out[3] = byte(len(f.bits) >> 8)
	out[4] = byte(len(f.bits))
	copy(out[5:], f.bits)
	return out
}

// DecodeBloomFilter parses the wire form produced by Encode.
func DecodeBloomFilter(buf []byte) *BloomFilter {
	numHashes := int(buf[0])
	n := int(buf[1])<<24 | int(buf[2])<<16 | int(buf[3])<<8 | int(buf[4])
	bits := make([]byte, n)
	copy(bits, buf[5:5+n])
	return &BloomFilter{bits: bits, numHashes: numHashes}
}

// EncodedLen returns the byte length Encode would produce.
func (f *BloomFilter) EncodedLen() int {
	return 1 + 4 + len(f.bits)
}
