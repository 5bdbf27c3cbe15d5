package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show document and queue counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats()
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats() error {
	ctx, cancel, eng, logger, err := setupEngine()
	if err != nil {
		return err
	}
	defer cancel()
	defer func() {
		if err := eng.Close(context.Background()); err != nil {
			logger.Warn("engine shutdown incomplete", "error", err)
		}
	}()

	st, err := eng.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("documents:    %d\n", st.Documents)
	fmt.Printf("pending:      %d\n", st.Pending)
	fmt.Printf("processing:   %d\n", st.Processing)
	fmt.Printf("completed:    %d\n", st.Completed)
	fmt.Printf("failed:       %d\n", st.Failed)
	fmt.Printf("dead letters: %d\n", st.DeadLetters)
	return nil
}
