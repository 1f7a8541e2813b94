package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	var dest string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a consistent copy of the record store",
		Long: `Copy the record store database to a backup file using an online
snapshot, safe to run while a pipeline is active.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			app, err := buildApp(context.Background())
			if err != nil {
				return err
			}
			defer app.Close()

			target := dest
			if target == "" {
				target = app.cfg.Checkpoint.BackupPath()
			}

			if err := app.store.Backup(context.Background(), target); err != nil {
				return fmt.Errorf("backing up store: %w", err)
			}

			statusf("Backup written to %s\n", target)

			return nil
		},
	}

	cmd.Flags().StringVar(&dest, "dest", "", "backup file path (default <checkpoint dir>/intelliextract.db.bak)")

	return cmd
}
