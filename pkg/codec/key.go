// Package codec implements the order-preserving primary-key serializer,
// the cell-based row encoding, and vnode hashing shared by the state table
// and the exchange dispatchers.
package codec

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/cascadedb/cascade/pkg/common"
)

const (
	notNullTag byte = 0x00
	nullTag    byte = 0x01
)

// EncodeRowKey serializes row using ot, producing bytes whose unsigned
// byte-lexicographic order matches common.CompareRow(row, other, ot) <= 0.
// Ascending fields use the natural big-endian comparable encoding;
// descending fields complement every byte of that encoding afterward so
// that a larger value sorts first. A nullability tag precedes every field,
// and NULL sorts after any non-NULL value regardless of direction, per
// NULLs-last ordering. row must have exactly len(ot) fields.
func EncodeRowKey(row common.Row, ot []common.OrderType) ([]byte, error) {
	if row.Len() != len(ot) {
		return nil, fmt.Errorf("codec: row has %d fields, order-type vector has %d", row.Len(), len(ot))
	}
	var buf []byte
	for i, o := range ot {
		d := row.At(i)
		enc, err := encodeField(d, o)
		if err != nil {
			return nil, fmt.Errorf("codec: field %d: %w", i, err)
		}
		buf = append(buf, enc...)
	}
	return buf, nil
}

// encodeField encodes one nullable field: a nullability tag, then (if
// non-NULL) the natural big-endian comparable bytes, complemented
// byte-for-byte when the field sorts descending. The tag itself is never
// complemented, so NULL sorts after any present value in raw byte order
// regardless of the field's direction — matching CompareRow, which never
// applies the descending flip across a NULL/non-NULL pair.
func encodeField(d common.Datum, o common.OrderType) ([]byte, error) {
	if d.IsNull() {
		return []byte{nullTag}, nil
	}
	payload, err := encodeNonNull(d, o.Type)
	if err != nil {
		return nil, err
	}
	if o.Direction == common.Descending {
		complement(payload)
	}
	return append([]byte{notNullTag}, payload...), nil
}

func encodeNonNull(d common.Datum, typ common.DataType) ([]byte, error) {
	switch typ {
	case common.TypeInt16:
		return encodeUint(uint16(int16(d.Value().(int16))^math.MinInt16), 2), nil
	case common.TypeInt32:
		return encodeUint(uint32(int32(d.Value().(int32))^math.MinInt32), 4), nil
	case common.TypeInt64:
		return encodeUint(uint64(d.Value().(int64))^uint64(math.MinInt64), 8), nil
	case common.TypeFloat32:
		return encodeFloatBits(uint64(math.Float32bits(d.Value().(float32))), 4), nil
	case common.TypeFloat64:
		return encodeFloatBits(math.Float64bits(d.Value().(float64)), 8), nil
	case common.TypeBool:
		if d.Value().(bool) {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case common.TypeVarchar:
		return encodeMemcomparableString(d.Value().(string)), nil
	default:
		return nil, fmt.Errorf("codec: type %v is not a supported key field", typ)
	}
}

// encodeMemcomparableString escapes embedded 0x00 bytes as 0x00,0xFF and
// terminates with 0x00,0x00, so that byte-lexicographic order over the
// encoding matches byte-lexicographic order over s, including prefix cases
// (a string that is a true prefix of another always sorts first, since its
// terminator's first byte is 0x00 and the continuation's next byte is never
// smaller).
func encodeMemcomparableString(s string) []byte {
	out := make([]byte, 0, len(s)+2)
	for i := 0; i < len(s); i++ {
		if s[i] == 0x00 {
			out = append(out, 0x00, 0xFF)
		} else {
			out = append(out, s[i])
		}
	}
	return append(out, 0x00, 0x00)
}

func encodeUint(v uint64, width int) []byte {
	out := make([]byte, width)
	switch width {
	case 2:
		binary.BigEndian.PutUint16(out, uint16(v))
	case 4:
		binary.BigEndian.PutUint32(out, uint32(v))
	case 8:
		binary.BigEndian.PutUint64(out, v)
	}
	return out
}

// encodeFloatBits maps IEEE-754 bits to a monotonically comparable unsigned
// encoding: flip the sign bit for positives, flip all bits for negatives.
func encodeFloatBits(bitsVal uint64, width int) []byte {
	var signMask uint64 = 1 << 63
	if width == 4 {
		signMask = 1 << 31
	}
	var mapped uint64
	if bitsVal&signMask != 0 {
		// negative: flip all bits
		if width == 4 {
			mapped = uint64(^uint32(bitsVal))
		} else {
			mapped = ^bitsVal
		}
	} else {
		mapped = bitsVal | signMask
	}
	return encodeUint(mapped, width)
}

func complement(b []byte) {
	for i := range b {
		b[i] = ^b[i]
	}
}

// VnodeCount is the default power-of-two partition space size.
const VnodeCount = 256

// VnodeHash computes CRC32 of the encoded distribution-key columns, then
// reduces mod vnodeCount.
func VnodeHash(distKey common.Row, ot []common.OrderType, vnodeCount int) (uint32, error) {
	encoded, err := EncodeRowKey(distKey, ot)
	if err != nil {
		return 0, fmt.Errorf("codec: vnode hash: %w", err)
	}
	sum := crc32.ChecksumIEEE(encoded)
	return sum % uint32(vnodeCount), nil
}
