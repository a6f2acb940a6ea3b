package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/evoluhq/evolu-go/internal/query"
	"github.com/evoluhq/evolu-go/internal/schema"
)

var (
	querySQL    string
	queryParams []string
)

func init() {
	queryCmd.Flags().StringVar(&querySQL, "sql", "", "SQL SELECT to run (required)")
	queryCmd.Flags().StringArrayVar(&queryParams, "param", nil, "Bound parameter, repeatable and bound as TEXT in order")
	_ = queryCmd.MarkFlagRequired("sql")
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a read-only SQL query and print the matching rows as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		params := make([]schema.Value, len(queryParams))
		for i, p := range queryParams {
			params[i] = schema.Text(p)
		}

		res, err := e.Load(ctx, query.Query{SQL: querySQL, Params: params})
		if err != nil {
			return err
		}
		if res.Err != nil {
			return res.Err
		}

		out := make([]map[string]interface{}, len(res.Rows))
		for i, row := range res.Rows {
			out[i] = rowToJSON(row)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func rowToJSON(row schema.Row) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for col, v := range row {
		switch v.Kind {
		case schema.KindNull:
			out[col] = nil
		case schema.KindText:
			out[col] = v.Text
		case schema.KindInteger:
			out[col] = v.Integer
		case schema.KindReal:
			out[col] = v.Real
		case schema.KindBlob:
			out[col] = v.Blob
		}
	}
	return out
}
