// Package common defines the shared row/column data model: the scalar
// Datum sum type, fixed-length Row, and the column/table descriptors that
// every other component (codec, hummock, state table, streaming, batch)
// builds on top of.
package common

import (
	"fmt"
	"math"
)

// DataType enumerates the scalar and composite types a Datum can hold.
type DataType int

const (
	TypeInt16 DataType = iota
	TypeInt32
	TypeInt64
	TypeFloat32
	TypeFloat64
	TypeDecimal
	TypeBool
	TypeVarchar
	TypeStruct
	TypeList
)

func (t DataType) String() string {
	switch t {
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeVarchar:
		return "varchar"
	case TypeStruct:
		return "struct"
	case TypeList:
		return "list"
	default:
		return "unknown"
	}
}

// OrderDirection is the sort direction of one key field.
type OrderDirection int

const (
	Ascending OrderDirection = iota
	Descending
)

// OrderType pairs a field's DataType with its sort direction, the unit the
// order-preserving key codec is parameterized by.
type OrderType struct {
	Type      DataType
	Direction OrderDirection
}

// Decimal is a minimal fixed-point decimal: Unscaled * 10^-Scale.
type Decimal struct {
	Unscaled int64
	Scale    int32
}

// Datum is a single nullable scalar value. A nil Datum (IsNull() == true)
// carries no Value. Composite values (struct/list) nest further Datums.
type Datum struct {
	null  bool
	value any
}

// Null returns the NULL datum.
func Null() Datum { return Datum{null: true} }

// NewDatum wraps a concrete Go value (int16/int32/int64/float32/float64/
// Decimal/bool/string/[]Datum) as a non-NULL Datum.
func NewDatum(v any) Datum { return Datum{value: v} }

// IsNull reports whether the datum is NULL.
func (d Datum) IsNull() bool { return d.null }

// Value returns the underlying Go value; callers must check IsNull first.
func (d Datum) Value() any { return d.value }

// Row is a fixed-length ordered sequence of nullable scalar values.
type Row struct {
	Values []Datum
}

// NewRow constructs a Row from datums.
func NewRow(values ...Datum) Row { return Row{Values: values} }

// Len returns the number of columns in the row.
func (r Row) Len() int { return len(r.Values) }

// At returns the datum at position i.
func (r Row) At(i int) Datum { return r.Values[i] }

// Project returns a new Row containing only the given column positions, in
// order — used by join/agg executors that need a subset of columns (e.g. the
// distribution-key columns for vnode hashing, or the ORDER BY prefix for a
// top-N cache comparison).
func (r Row) Project(positions []int) Row {
	out := make([]Datum, len(positions))
	for i, p := range positions {
		out[i] = r.Values[p]
	}
	return Row{Values: out}
}

// ColumnDesc describes one column: its stable id, type, and display name.
// Column ids are stable across table versions; column positions may be
// reordered.
type ColumnDesc struct {
	ID   uint32
	Name string
	Type DataType
}

// TableDesc is the immutable, ordered column list plus the designated
// primary-key index list (positions into Columns) and their sort
// directions.
type TableDesc struct {
	TableID       uint32
	Name          string
	Columns       []ColumnDesc
	PrimaryKeyPos []int
	PrimaryKeyDir []OrderDirection
}

// PrimaryKeyOrderTypes returns the OrderType vector the key codec needs,
// derived from the table's primary-key column types and directions.
func (t TableDesc) PrimaryKeyOrderTypes() []OrderType {
	out := make([]OrderType, len(t.PrimaryKeyPos))
	for i, pos := range t.PrimaryKeyPos {
		out[i] = OrderType{Type: t.Columns[pos].Type, Direction: t.PrimaryKeyDir[i]}
	}
	return out
}

// PrimaryKey projects a row down to its primary-key columns, in PK order.
func (t TableDesc) PrimaryKey(row Row) Row {
	return row.Project(t.PrimaryKeyPos)
}

// CompareDatum orders two datums of the same declared type. NULL sorts
// greater than any non-NULL value; the join operator depends on this for
// struct-field ordering.
func CompareDatum(a, b Datum, typ DataType) int {
	if a.IsNull() && b.IsNull() {
		return 0
	}
	if a.IsNull() {
		return 1
	}
	if b.IsNull() {
		return -1
	}
	switch typ {
	case TypeInt16:
		return compareInt64(int64(a.value.(int16)), int64(b.value.(int16)))
	case TypeInt32:
		return compareInt64(int64(a.value.(int32)), int64(b.value.(int32)))
	case TypeInt64:
		return compareInt64(a.value.(int64), b.value.(int64))
	case TypeFloat32:
		return compareFloat64(float64(a.value.(float32)), float64(b.value.(float32)))
	case TypeFloat64:
		return compareFloat64(a.value.(float64), b.value.(float64))
	case TypeDecimal:
		return compareDecimal(a.value.(Decimal), b.value.(Decimal))
	case TypeBool:
		av, bv := a.value.(bool), b.value.(bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	case TypeVarchar:
		av, bv := a.value.(string), b.value.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case TypeStruct, TypeList:
		return compareDatumSlice(a.value.([]Datum), b.value.([]Datum))
	default:
		panic(fmt.Sprintf("common: unsupported comparable type %v", typ))
	}
}

func compareDatumSlice(a, b []Datum) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		// Struct field comparison doesn't know each field's declared type
		// here; callers that need full struct comparison should use
		// CompareRow with an explicit per-field type vector instead.
		if c := compareUntyped(a[i], b[i]); c != 0 {
			return c
		}
	}
	return compareInt64(int64(len(a)), int64(len(b)))
}

// compareUntyped infers the type from the dynamic Go value; used only for
// nested struct/list fields where CompareDatum's caller can't supply a type
// vector.
func compareUntyped(a, b Datum) int {
	if a.IsNull() && b.IsNull() {
		return 0
	}
	if a.IsNull() {
		return 1
	}
	if b.IsNull() {
		return -1
	}
	switch av := a.value.(type) {
	case int64:
		return compareInt64(av, b.value.(int64))
	case float64:
		return compareFloat64(av, b.value.(float64))
	case string:
		bv := b.value.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case bool:
		bv := b.value.(bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	default:
		panic("common: compareUntyped: unsupported nested type")
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat64(a, b float64) int {
	switch {
	case math.IsNaN(a) && math.IsNaN(b):
		return 0
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareDecimal(a, b Decimal) int {
	av, bv := a.Unscaled, b.Unscaled
	scale := a.Scale
	if a.Scale != b.Scale {
		// normalize to the larger scale for comparison
		if a.Scale < b.Scale {
			for s := a.Scale; s < b.Scale; s++ {
				av *= 10
			}
			scale = b.Scale
		} else {
			for s := b.Scale; s < a.Scale; s++ {
				bv *= 10
			}
			scale = a.Scale
		}
	}
	_ = scale
	return compareInt64(av, bv)
}

// CompareRow compares two rows field-by-field using ot, returning the sign
// of the first differing field (0 if every field compares equal).
func CompareRow(a, b Row, ot []OrderType) int {
	for i, o := range ot {
		da, db := a.At(i), b.At(i)
		c := CompareDatum(da, db, o.Type)
		// NULLs sort last independent of direction: the direction flip
		// only reorders non-NULL values against each other.
		if o.Direction == Descending && !da.IsNull() && !db.IsNull() {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}
