package query

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/evoluhq/evolu-go/internal/clock"
	"github.com/evoluhq/evolu-go/internal/schema"
)

// NonceSize is the width in bytes of the per-session nonce. Its unpadded
// base64url form is the marker a query prepends to a JSON-valued column
// (for example json_group_array output) so DecodeRow decodes it, per
// SPEC_FULL.md §4.7.
const NonceSize = 21

// NewNonce generates a fresh session nonce.
func NewNonce(rng clock.Rand) ([]byte, error) {
	b := make([]byte, NonceSize)
	if err := rng.Bytes(b); err != nil {
		return nil, err
	}
	return b, nil
}

func nonceString(nonce []byte) string {
	return base64.RawURLEncoding.EncodeToString(nonce)
}

// DecodeRow walks a raw storage row, JSON-decoding any text column that
// begins with the session nonce (the marker a query prepends to, for
// example, json_group_array output) and leaving every other
// column as its native Go value. Decoding recurses into nested
// nonce-prefixed strings, matching parseSqliteJsonArray's handling of
// nested object/array output.
func DecodeRow(nonce []byte, row schema.Row) (map[string]interface{}, error) {
	prefix := nonceString(nonce)
	out := make(map[string]interface{}, len(row))
	for col, v := range row {
		dv, err := decodeValue(prefix, v)
		if err != nil {
			return nil, err
		}
		out[col] = dv
	}
	return out, nil
}

func decodeValue(prefix string, v schema.Value) (interface{}, error) {
	if v.Kind == schema.KindText && strings.HasPrefix(v.Text, prefix) {
		return decodeMarked(prefix, strings.TrimPrefix(v.Text, prefix))
	}
	return v.Driver(), nil
}

func decodeMarked(prefix, jsonText string) (interface{}, error) {
	var raw interface{}
	if err := json.Unmarshal([]byte(jsonText), &raw); err != nil {
		return nil, err
	}
	return decodeNested(prefix, raw), nil
}

// decodeNested walks a decoded JSON tree, recursively decoding any string
// that is itself a nonce-marked JSON payload.
func decodeNested(prefix string, v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		if strings.HasPrefix(t, prefix) {
			if nested, err := decodeMarked(prefix, strings.TrimPrefix(t, prefix)); err == nil {
				return nested
			}
		}
		return t
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = decodeNested(prefix, e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = decodeNested(prefix, e)
		}
		return out
	default:
		return t
	}
}
