package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var exportOut string

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "-", "Output file for the exported SQLite database ('-' writes stdout)")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a snapshot of the database file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		data, err := e.Export(ctx)
		if err != nil {
			return err
		}

		if exportOut == "-" {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(exportOut, data, 0o600); err != nil {
			return fmt.Errorf("write export file: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes to %s\n", len(data), exportOut)
		return nil
	},
}
