package main

import (
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"watchtower/internal/analyzer"
	"watchtower/internal/bus"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print suspect reports published on NATS",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if a.cfg.NATS.URL == "" {
			return errors.New("nats.url is required")
		}
		sub, err := bus.NewSubscriber(a.cfg.NATS.URL, a.logger)
		if err != nil {
			return err
		}
		defer sub.Close()

		out := cmd.OutOrStdout()
		for _, behavior := range analyzer.Behaviors {
			if _, err := sub.SubscribeSuspects(behavior, func(msg bus.SuspectMessage) {
				fmt.Fprintf(out, "%s: %s [%s]\n", behavior, msg.Comment, strings.Join(msg.SuspectIDs, ", "))
			}); err != nil {
				return err
			}
		}
		<-ctx.Done()
		return nil
	},
}
