package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/common"
)

func TestGobCodecRoundTrips(t *testing.T) {
	var c gobCodec
	req := &RegisterWorkerRequest{NodeID: "n1", Role: "compute", Host: "10.0.0.5:9000"}

	data, err := c.Marshal(req)
	require.NoError(t, err)

	got := new(RegisterWorkerRequest)
	require.NoError(t, c.Unmarshal(data, got))
	assert.Equal(t, req, got)
}

func TestWireDatumRoundTripsEveryScalarKind(t *testing.T) {
	cases := []struct {
		typ common.DataType
		d   common.Datum
	}{
		{common.TypeInt16, common.NewDatum(int16(7))},
		{common.TypeInt32, common.NewDatum(int32(-9))},
		{common.TypeInt64, common.NewDatum(int64(123456789))},
		{common.TypeFloat32, common.NewDatum(float32(1.5))},
		{common.TypeFloat64, common.NewDatum(2.25)},
		{common.TypeBool, common.NewDatum(true)},
		{common.TypeVarchar, common.NewDatum("hello")},
		{common.TypeInt64, common.Null()},
	}
	for _, c := range cases {
		w := ToWireDatum(c.d, c.typ)
		got := FromWireDatum(w)
		if c.d.IsNull() {
			assert.True(t, got.IsNull())
			continue
		}
		assert.Equal(t, c.d.Value(), got.Value())
	}
}

func TestWireRowRoundTrips(t *testing.T) {
	row := common.NewRow(common.NewDatum(int64(1)), common.NewDatum("x"), common.Null())
	types := []common.DataType{common.TypeInt64, common.TypeVarchar, common.TypeBool}

	w := ToWireRow(row, types)
	got := FromWireRow(w)

	require.Equal(t, row.Len(), got.Len())
	assert.Equal(t, int64(1), got.At(0).Value())
	assert.Equal(t, "x", got.At(1).Value())
	assert.True(t, got.At(2).IsNull())
}
