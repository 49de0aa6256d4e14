package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Keep feeds refreshed on the configured schedule",
		Long: `Registers the configured default feeds, refreshes every due feed immediately
and then on feeds.schedule (or every feeds.default_interval_minutes).
Designed for running inside a Docker container or as a background service.
Handles SIGINT/SIGTERM for graceful shutdown (finishes the current run).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

			if err := engine.StartScheduler(); err != nil {
				return err
			}
			logger.Info("daemon started", zap.String("db", engine.Config().Database.Path))

			<-sig
			logger.Info("received shutdown signal, exiting")
			return nil
		},
	}
}
