package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/common"
)

func TestEncodeDecodeDatumRoundTrip(t *testing.T) {
	cases := []struct {
		typ common.DataType
		val any
	}{
		{common.TypeInt16, int16(-1234)},
		{common.TypeInt16, int16(1234)},
		{common.TypeInt32, int32(-123456)},
		{common.TypeInt64, int64(-123456789012)},
		{common.TypeFloat32, float32(-12.5)},
		{common.TypeFloat32, float32(12.5)},
		{common.TypeFloat64, float64(-123456.789)},
		{common.TypeFloat64, float64(0)},
		{common.TypeBool, true},
		{common.TypeBool, false},
		{common.TypeVarchar, "hello, world"},
		{common.TypeVarchar, ""},
	}
	for _, c := range cases {
		d := common.NewDatum(c.val)
		enc, err := EncodeDatum(d, c.typ)
		require.NoError(t, err)
		dec, err := DecodeDatum(enc, c.typ)
		require.NoError(t, err)
		assert.Equal(t, c.val, dec.Value(), "type %v value %v", c.typ, c.val)
	}
}

func TestEncodeDecodeDatumNull(t *testing.T) {
	enc, err := EncodeDatum(common.Null(), common.TypeInt64)
	require.NoError(t, err)
	assert.Nil(t, enc)
	dec, err := DecodeDatum(enc, common.TypeInt64)
	require.NoError(t, err)
	assert.True(t, dec.IsNull())
}

func TestCellKeyRoundTrip(t *testing.T) {
	keyspace := []byte("table#7#")
	pk, err := EncodeRowKey(common.NewRow(common.NewDatum(int64(99))),
		[]common.OrderType{{Type: common.TypeInt64, Direction: common.Ascending}})
	require.NoError(t, err)

	key := EncodeCellKey(keyspace, pk, 3)
	gotPK, gotCol, err := SplitCellKey(key, len(keyspace), len(pk))
	require.NoError(t, err)
	assert.Equal(t, pk, gotPK)
	assert.Equal(t, uint32(3), gotCol)
}

func TestCellKeySentinelColumnSortsFirst(t *testing.T) {
	keyspace := []byte("ks#")
	pk, err := EncodeRowKey(common.NewRow(common.NewDatum(int64(1))),
		[]common.OrderType{{Type: common.TypeInt64, Direction: common.Ascending}})
	require.NoError(t, err)

	sentinel := EncodeCellKey(keyspace, pk, SentinelColumnID)
	other := EncodeCellKey(keyspace, pk, 5)
	assert.Less(t, string(sentinel), string(other))
}

func TestSplitCellKeyLengthMismatch(t *testing.T) {
	_, _, err := SplitCellKey([]byte("short"), 10, 10)
	assert.Error(t, err)
}
