package main

import (
	"fmt"

	"github.com/evoluhq/evolu-go/internal/schema"
)

// jsonToValue converts a decoded JSON scalar into a schema.Value. JSON has
// no integer/float distinction, so a float64 with no fractional part
// round-trips as KindInteger; anything else real-valued stays KindReal.
func jsonToValue(v interface{}) (schema.Value, error) {
	switch t := v.(type) {
	case nil:
		return schema.Null(), nil
	case string:
		return schema.Text(t), nil
	case bool:
		return schema.Bool(t), nil
	case float64:
		if t == float64(int64(t)) {
			return schema.Integer(int64(t)), nil
		}
		return schema.Real(t), nil
	default:
		return schema.Value{}, fmt.Errorf("unsupported JSON value type %T", v)
	}
}

func jsonToValues(m map[string]interface{}) (map[schema.ColumnName]schema.Value, error) {
	out := make(map[schema.ColumnName]schema.Value, len(m))
	for k, v := range m {
		val, err := jsonToValue(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}

func parseMutationKind(s string) (schema.MutationKind, error) {
	switch s {
	case "insert":
		return schema.Insert, nil
	case "update":
		return schema.Update, nil
	case "upsert":
		return schema.Upsert, nil
	case "delete":
		return schema.Delete, nil
	default:
		return 0, fmt.Errorf("unknown mutation kind %q (want insert, update, upsert, or delete)", s)
	}
}
