// Package schema implements SPEC_FULL.md §3's DbSchema model and §4.4's
// mutation validators: the dynamic, host-supplied table/column schema,
// system columns, and the tagged value variant rows are represented as
// (per §9's design note on "dynamic schemas & polymorphic rows").
package schema

import "fmt"

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindText
	KindInteger
	KindReal
	KindBlob
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// Value is the tagged value variant every application column is stored
// as. Only one of the typed fields is meaningful, selected by Kind.
type Value struct {
	Kind    ValueKind
	Text    string
	Integer int64
	Real    float64
	Blob    []byte
}

// Null is the Value representing SQL NULL.
func Null() Value { return Value{Kind: KindNull} }

// Text wraps a string Value.
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

// Integer wraps an int64 Value.
func Integer(i int64) Value { return Value{Kind: KindInteger, Integer: i} }

// Real wraps a float64 Value.
func Real(f float64) Value { return Value{Kind: KindReal, Real: f} }

// Blob wraps a []byte Value.
func Blob(b []byte) Value { return Value{Kind: KindBlob, Blob: b} }

// Bool encodes a boolean as the integer 0 or 1, matching SQLite's and the
// wire protocol's convention (there is no dedicated boolean SQL type).
func Bool(b bool) Value {
	if b {
		return Integer(1)
	}
	return Integer(0)
}

// IsNull reports whether v holds SQL NULL.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Equal reports whether two Values hold the same kind and payload, used
// by the diff engine's per-row, per-column comparison (SPEC_FULL.md §4.7).
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindText:
		return v.Text == other.Text
	case KindInteger:
		return v.Integer == other.Integer
	case KindReal:
		return v.Real == other.Real
	case KindBlob:
		return string(v.Blob) == string(other.Blob)
	default:
		return false
	}
}

// Driver returns the value in the shape database/sql expects for a bind
// parameter or that a driver.Value scan produces.
func (v Value) Driver() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindText:
		return v.Text
	case KindInteger:
		return v.Integer
	case KindReal:
		return v.Real
	case KindBlob:
		return v.Blob
	default:
		return nil
	}
}

// FromDriver converts a database/sql scan result (one of nil, string,
// int64, float64, []byte) into a Value.
func FromDriver(v interface{}) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case string:
		return Text(x), nil
	case int64:
		return Integer(x), nil
	case float64:
		return Real(x), nil
	case []byte:
		return Blob(x), nil
	case bool:
		return Bool(x), nil
	default:
		return Value{}, fmt.Errorf("schema: unsupported driver value type %T", v)
	}
}

// Row is a single row keyed by column name.
type Row map[string]Value
