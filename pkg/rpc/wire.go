package rpc

import (
	"fmt"

	"github.com/cascadedb/cascade/pkg/common"
)

// WireDatum is a self-describing gob-friendly stand-in for common.Datum,
// whose fields are private and so can't be gob-encoded directly. Only the
// scalar kinds exchanged over the wire today are represented; struct/list
// datums stay a planner-internal concern.
type WireDatum struct {
	Null bool
	Kind common.DataType
	I    int64
	F    float64
	S    string
	B    bool
}

// ToWireDatum converts d, tagged with its column type so the receiver can
// reconstruct the right Go value without a side-channel schema.
func ToWireDatum(d common.Datum, typ common.DataType) WireDatum {
	if d.IsNull() {
		return WireDatum{Null: true, Kind: typ}
	}
	w := WireDatum{Kind: typ}
	switch typ {
	case common.TypeInt16:
		w.I = int64(d.Value().(int16))
	case common.TypeInt32:
		w.I = int64(d.Value().(int32))
	case common.TypeInt64:
		w.I = d.Value().(int64)
	case common.TypeFloat32:
		w.F = float64(d.Value().(float32))
	case common.TypeFloat64:
		w.F = d.Value().(float64)
	case common.TypeBool:
		w.B = d.Value().(bool)
	case common.TypeVarchar:
		w.S = d.Value().(string)
	default:
		w.S = fmt.Sprintf("%v", d.Value())
	}
	return w
}

// FromWireDatum is ToWireDatum's inverse.
func FromWireDatum(w WireDatum) common.Datum {
	if w.Null {
		return common.Null()
	}
	switch w.Kind {
	case common.TypeInt16:
		return common.NewDatum(int16(w.I))
	case common.TypeInt32:
		return common.NewDatum(int32(w.I))
	case common.TypeInt64:
		return common.NewDatum(w.I)
	case common.TypeFloat32:
		return common.NewDatum(float32(w.F))
	case common.TypeFloat64:
		return common.NewDatum(w.F)
	case common.TypeBool:
		return common.NewDatum(w.B)
	default:
		return common.NewDatum(w.S)
	}
}

// WireRow is a gob-friendly common.Row.
type WireRow struct {
	Values []WireDatum
}

// ToWireRow converts r given the column types of its schema, in order.
func ToWireRow(r common.Row, types []common.DataType) WireRow {
	values := make([]WireDatum, r.Len())
	for i := range values {
		values[i] = ToWireDatum(r.At(i), types[i])
	}
	return WireRow{Values: values}
}

// FromWireRow is ToWireRow's inverse.
func FromWireRow(w WireRow) common.Row {
	values := make([]common.Datum, len(w.Values))
	for i, wd := range w.Values {
		values[i] = FromWireDatum(wd)
	}
	return common.NewRow(values...)
}

// ColumnTypes extracts the per-column DataType vector from a TableDesc, the
// shape ToWireRow/batch RPC callers need to tag rows for transmission.
func ColumnTypes(desc common.TableDesc) []common.DataType {
	types := make([]common.DataType, len(desc.Columns))
	for i, c := range desc.Columns {
		types[i] = c.Type
	}
	return types
}
