package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sentinel/internal/pipeline"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Run a single alert scan and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := pipeline.NewEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Trigger.Scan(ctx); err != nil {
			return err
		}
		zap.L().Info("alert scan complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(alertsCmd)
}
