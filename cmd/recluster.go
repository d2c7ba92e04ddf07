package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sentinel/internal/pipeline"
)

var reclusterCmd = &cobra.Command{
	Use:   "recluster",
	Short: "Run a single offline re-clustering pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := pipeline.NewEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Recluster.Run(ctx); err != nil {
			return err
		}
		zap.L().Info("recluster pass complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reclusterCmd)
}
