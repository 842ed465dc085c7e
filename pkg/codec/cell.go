package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cascadedb/cascade/pkg/common"
)

// SentinelColumnID is a reserved column id, smaller than any real column id,
// written on every row insert and removed on delete. A point lookup for the
// sentinel cell alone tells the caller whether the row exists without
// reading every column.
const SentinelColumnID uint32 = 0

// EncodeCellKey builds the storage key for one (primary-key, column) cell:
// keyspace ‖ pk-encoded ‖ column-id. keyspace namespaces a logical table
// within the shared LSM keyspace.
func EncodeCellKey(keyspace []byte, encodedPK []byte, columnID uint32) []byte {
	out := make([]byte, 0, len(keyspace)+len(encodedPK)+4)
	out = append(out, keyspace...)
	out = append(out, encodedPK...)
	var colBuf [4]byte
	binary.BigEndian.PutUint32(colBuf[:], columnID)
	return append(out, colBuf[:]...)
}

// SplitCellKey reverses EncodeCellKey given the keyspace and pk lengths,
// returning the encoded pk and the column id.
func SplitCellKey(key []byte, keyspaceLen, pkLen int) (encodedPK []byte, columnID uint32, err error) {
	want := keyspaceLen + pkLen + 4
	if len(key) != want {
		return nil, 0, fmt.Errorf("codec: cell key length %d, want %d", len(key), want)
	}
	encodedPK = key[keyspaceLen : keyspaceLen+pkLen]
	columnID = binary.BigEndian.Uint32(key[keyspaceLen+pkLen:])
	return encodedPK, columnID, nil
}

// EncodeDatum serializes a single non-key datum's value for storage as a
// cell value. Unlike the key codec, cell values don't need to be
// order-preserving — only round-trippable.
func EncodeDatum(d common.Datum, typ common.DataType) ([]byte, error) {
	if d.IsNull() {
		return nil, nil
	}
	switch typ {
	case common.TypeInt16, common.TypeInt32, common.TypeInt64,
		common.TypeFloat32, common.TypeFloat64, common.TypeBool:
		ot := common.OrderType{Type: typ, Direction: common.Ascending}
		b, err := encodeField(d, ot)
		if err != nil {
			return nil, err
		}
		return b[1:], nil // drop the nullability tag, caller already knows it's non-NULL
	case common.TypeVarchar:
		return []byte(d.Value().(string)), nil
	default:
		return nil, fmt.Errorf("codec: unsupported cell value type %v", typ)
	}
}

// DecodeDatum is the inverse of EncodeDatum. A nil buf decodes to NULL.
func DecodeDatum(buf []byte, typ common.DataType) (common.Datum, error) {
	if buf == nil {
		return common.Null(), nil
	}
	switch typ {
	case common.TypeInt16:
		return common.NewDatum(int16(binary.BigEndian.Uint16(buf) ^ 0x8000)), nil
	case common.TypeInt32:
		return common.NewDatum(int32(binary.BigEndian.Uint32(buf) ^ 0x80000000)), nil
	case common.TypeInt64:
		return common.NewDatum(int64(binary.BigEndian.Uint64(buf) ^ 0x8000000000000000)), nil
	case common.TypeFloat32:
		return common.NewDatum(decodeFloat32(buf)), nil
	case common.TypeFloat64:
		return common.NewDatum(decodeFloat64(buf)), nil
	case common.TypeBool:
		return common.NewDatum(buf[0] != 0), nil
	case common.TypeVarchar:
		return common.NewDatum(string(buf)), nil
	default:
		return common.Datum{}, fmt.Errorf("codec: unsupported cell value type %v", typ)
	}
}

func decodeFloat32(buf []byte) float32 {
	mapped := binary.BigEndian.Uint32(buf)
	var bitsVal uint32
	if mapped&(1<<31) != 0 {
		bitsVal = mapped &^ (1 << 31)
	} else {
		bitsVal = ^mapped
	}
	return math.Float32frombits(bitsVal)
}

func decodeFloat64(buf []byte) float64 {
	mapped := binary.BigEndian.Uint64(buf)
	var bitsVal uint64
	if mapped&(1<<63) != 0 {
		bitsVal = mapped &^ (1 << 63)
	} else {
		bitsVal = ^mapped
	}
	return math.Float64frombits(bitsVal)
}
