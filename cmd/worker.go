package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

const workerShutdownTimeout = 30 * time.Second

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the ingestion worker",
	Long:  `Drains the ingestion queue, processing documents until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker() error {
	ctx, cancel, eng, logger, err := setupEngine()
	if err != nil {
		return err
	}
	defer cancel()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), workerShutdownTimeout)
		defer shutdownCancel()
		if err := eng.Close(shutdownCtx); err != nil {
			logger.Warn("engine shutdown incomplete", "error", err)
		}
	}()

	return eng.RunWorker(ctx)
}
