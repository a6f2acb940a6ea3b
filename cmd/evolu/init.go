package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or open the database and print the app owner's identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		o := e.Owner()
		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(map[string]string{"ownerId": o.ID, "kind": o.Kind.String()})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "owner %s (%s)\n", o.ID, o.Kind)
		return nil
	},
}
