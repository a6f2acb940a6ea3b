package config

import "github.com/evoluhq/evolu-go/internal/schema"

// indexEntry mirrors one YAML list item under the indexes key:
//
//	indexes:
//	  - name: todoCreatedAt
//	    sql: "create index todoCreatedAt on todo (createdAt)"
type indexEntry struct {
	Name string `mapstructure:"name" yaml:"name"`
	SQL  string `mapstructure:"sql" yaml:"sql"`
}

// Indexes returns the configured create-index statements as schema.Index
// values, ready to hand to the CRDT engine's schema reconciliation.
func Indexes() []schema.Index {
	if v == nil {
		return nil
	}
	var entries []indexEntry
	if err := v.UnmarshalKey(KeyIndexes, &entries); err != nil {
		return nil
	}
	out := make([]schema.Index, 0, len(entries))
	for _, e := range entries {
		out = append(out, schema.Index{Name: e.Name, SQL: e.SQL})
	}
	return out
}
