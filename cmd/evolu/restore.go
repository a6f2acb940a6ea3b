package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evoluhq/evolu-go/internal/config"
)

var restoreMnemonic string

func init() {
	restoreCmd.Flags().StringVar(&restoreMnemonic, "mnemonic", "", "BIP-39 mnemonic to restore the app owner from (required)")
	_ = restoreCmd.MarkFlagRequired("mnemonic")
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Wipe local storage and re-derive the app owner from a mnemonic",
	Long:  `Drops every table and re-initializes storage under the App owner derived from --mnemonic. No data is carried over; re-sync from a remote afterward.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		desired, err := loadSchema(schemaPath)
		if err != nil {
			return err
		}

		o, err := e.Restore(ctx, restoreMnemonic, desired, config.SyncURLs())
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(map[string]string{"ownerId": o.ID})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored owner %s\n", o.ID)
		return nil
	},
}
