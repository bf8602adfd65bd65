package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded SQL migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.openStore(cmd.Context()); err != nil {
			return err
		}
		return a.store.Migrate(cmd.Context(), a.logger)
	},
}
