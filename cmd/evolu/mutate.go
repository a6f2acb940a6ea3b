package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/evoluhq/evolu-go/internal/crdt"
	"github.com/evoluhq/evolu-go/internal/schema"
)

var mutateFile string

func init() {
	mutateCmd.Flags().StringVar(&mutateFile, "file", "-", "JSON mutation batch file ('-' reads stdin)")
}

// cliMutation is the on-disk/stdin shape of one mutation batch entry.
type cliMutation struct {
	Kind    string                 `json:"kind"`
	Table   string                 `json:"table"`
	ID      string                 `json:"id"`
	OwnerID string                 `json:"ownerId,omitempty"`
	Values  map[string]interface{} `json:"values,omitempty"`
}

var mutateCmd = &cobra.Command{
	Use:   "mutate",
	Short: "Apply a batch of insert/update/upsert/delete mutations from JSON",
	Long: `Reads a JSON array of mutations, e.g.:

  [{"kind": "insert", "table": "todo", "id": "1", "values": {"title": "hi"}}]

and applies them in a single transaction.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		raw, err := readMutationInput(mutateFile)
		if err != nil {
			return err
		}

		var entries []cliMutation
		if err := json.Unmarshal(raw, &entries); err != nil {
			return fmt.Errorf("parse mutation batch: %w", err)
		}

		mutations := make([]crdt.Mutation, 0, len(entries))
		for i, entry := range entries {
			kind, err := parseMutationKind(entry.Kind)
			if err != nil {
				return fmt.Errorf("mutation %d: %w", i, err)
			}
			values, err := jsonToValues(entry.Values)
			if err != nil {
				return fmt.Errorf("mutation %d: %w", i, err)
			}
			mutations = append(mutations, crdt.Mutation{
				Kind: kind,
				Change: schema.Change{
					Table: entry.Table, ID: entry.ID, OwnerID: entry.OwnerID, Values: values,
				},
			})
		}

		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		applied, _, err := e.Mutate(ctx, mutations, nil)
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(map[string]interface{}{"tables": applied.Tables, "messages": len(applied.Messages)})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied %d mutation(s) touching %d table(s)\n", len(mutations), len(applied.Tables))
		return nil
	},
}

func readMutationInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
