package main

import (
	"time"

	"github.com/spf13/cobra"

	"watchtower/internal/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write demo gameplay history starting at 09:00 UTC",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.openStore(cmd.Context()); err != nil {
			return err
		}
		now := time.Now().UTC()
		if seedForce {
			_, err = seed.Run(cmd.Context(), a.repo, a.exporter, now, a.logger)
		} else {
			_, err = seed.RunOnce(cmd.Context(), a.repo, a.exporter, now, a.logger)
		}
		return err
	},
}

var seedForce bool

func init() {
	seedCmd.Flags().BoolVar(&seedForce, "force", false, "write demo history even when seeded rows exist")
}
