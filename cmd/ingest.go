package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/devrecall/devrecall/internal/record"
)

var (
	flagIngestType     string
	flagIngestSource   string
	flagIngestPriority int
	flagIngestSync     bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Submit a document for ingestion",
	Long: `Reads content from the given file, or stdin when no file is supplied, and
submits it to the ingestion queue. With --sync the document is processed
immediately instead of queued.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(args)
	},
}

func init() {
	ingestCmd.Flags().StringVarP(&flagIngestType, "type", "t", "generic", "data type (session, code, deployment, learning, error, config, system_snapshot, metric, generic)")
	ingestCmd.Flags().StringVarP(&flagIngestSource, "source", "s", "cli", "source label")
	ingestCmd.Flags().IntVarP(&flagIngestPriority, "priority", "p", 0, "queue priority, higher first")
	ingestCmd.Flags().BoolVar(&flagIngestSync, "sync", false, "process immediately instead of queueing")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(args []string) error {
	content, err := readIngestContent(args)
	if err != nil {
		return err
	}
	dataType := record.DataType(flagIngestType)
	if !dataType.Valid() {
		return fmt.Errorf("unknown data type %q", flagIngestType)
	}

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

	doc := record.Document{
		Content: content,
		Type:    dataType,
		Source:  flagIngestSource,
	}

	if flagIngestSync {
		outcome, err := eng.IngestSync(ctx, doc)
		if err != nil {
			return err
		}
		if outcome.Deduplicated {
			fmt.Printf("duplicate content, already ingested (doc %s)\n", outcome.DocID)
			return nil
		}
		fmt.Printf("ingested doc %s: %d chunks in %s\n", outcome.DocID, outcome.Chunks, outcome.Duration)
		return nil
	}

	id, err := eng.Ingest(ctx, doc, flagIngestPriority)
	if err != nil {
		return err
	}
	fmt.Printf("queued %s\n", id)
	return nil
}

func readIngestContent(args []string) (string, error) {
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", args[0], err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("no content: pass a file or pipe to stdin")
	}
	return string(data), nil
}
