package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sentinel/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the full ingestion and clustering pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := pipeline.NewEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("pipeline starting",
			zap.String("store", cfg.Store.Driver),
			zap.Int("queue_capacity", cfg.Pipeline.QueueCapacity))

		if err := env.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		zap.L().Info("pipeline stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
