// Package query implements SPEC_FULL.md §4.7: query identity
// (serialization), the JSON-array decoding helper for SQL aggregate
// output, the per-query row cache, the subscribed-query registry, and
// the loading-promise coalescer that backs the engine's reactive
// subscriptions.
package query

import (
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/evoluhq/evolu-go/internal/schema"
)

// Query is a parameterized SQL statement plus caller-supplied options
// (e.g. a logical sort key) that participate in query identity.
type Query struct {
	SQL     string
	Params  []schema.Value
	Options map[string]string
}

// Serial is a canonical string identity for a Query: two queries compare
// equal iff their Serial values are byte-identical (SPEC_FULL.md §4.7).
type Serial string

// blobTag wraps a hex-encoded blob parameter so its JSON shape (an
// object) can never collide with a text parameter's JSON shape (a
// string), however the text happens to be spelled.
type blobTag struct {
	Blob string `json:"blob"`
}

// Serialize computes q's Serial as
// JSON([sql, params-with-byte-hex-marker, sorted-options]).
func Serialize(q Query) Serial {
	params := make([]interface{}, len(q.Params))
	for i, p := range q.Params {
		params[i] = marshalParam(p)
	}

	keys := make([]string, 0, len(q.Options))
	for k := range q.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	opts := make([][2]string, len(keys))
	for i, k := range keys {
		opts[i] = [2]string{k, q.Options[k]}
	}

	b, err := json.Marshal([]interface{}{q.SQL, params, opts})
	if err != nil {
		// Values are all JSON-marshalable primitives; this cannot fail.
		panic(err)
	}
	return Serial(b)
}

// marshalParam renders a schema.Value for inclusion in a Serial. Blobs
// are hex-encoded inside a blobTag object so two params that differ only
// in text-vs-blob encoding never collide.
func marshalParam(v schema.Value) interface{} {
	switch v.Kind {
	case schema.KindNull:
		return nil
	case schema.KindInteger:
		return v.Integer
	case schema.KindReal:
		return v.Real
	case schema.KindBlob:
		return blobTag{Blob: hex.EncodeToString(v.Blob)}
	default:
		return v.Text
	}
}
