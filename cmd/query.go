package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devrecall/devrecall/internal/query"
	"github.com/devrecall/devrecall/internal/recency"
	"github.com/devrecall/devrecall/internal/record"
)

var (
	flagQueryTopK    int
	flagQueryTypes   []string
	flagQueryRecency string
	flagQueryAlpha   float64
	flagQueryVerbose bool
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Search ingested records",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, strings.Join(args, " "))
	},
}

func init() {
	queryCmd.Flags().IntVarP(&flagQueryTopK, "top", "k", 10, "number of results")
	queryCmd.Flags().StringSliceVarP(&flagQueryTypes, "type", "t", nil, "restrict to data types")
	queryCmd.Flags().StringVar(&flagQueryRecency, "recency", "", "recency weighting (none, light, normal, heavy, critical)")
	queryCmd.Flags().Float64VarP(&flagQueryAlpha, "alpha", "a", -1, "explicit dense/sparse blend in [0,1], -1 for auto")
	queryCmd.Flags().BoolVarP(&flagQueryVerbose, "verbose", "v", false, "show scoring details")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, question string) error {
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

	req := query.Request{
		Query:   question,
		TopK:    flagQueryTopK,
		Recency: recency.Knob(flagQueryRecency),
	}
	for _, t := range flagQueryTypes {
		dt := record.DataType(t)
		if !dt.Valid() {
			return fmt.Errorf("unknown data type %q", t)
		}
		req.Types = append(req.Types, dt)
	}
	if cmd.Flags().Changed("alpha") {
		if flagQueryAlpha < 0 || flagQueryAlpha > 1 {
			return fmt.Errorf("alpha must be in [0,1]")
		}
		a := flagQueryAlpha
		req.Alpha = &a
	}

	resp, err := eng.Query(ctx, req)
	if err != nil {
		return err
	}

	if flagQueryVerbose {
		fmt.Printf("intent=%s confidence=%.2f alpha=%.2f sparse=%t provider=%s\n",
			resp.Intent, resp.Confidence, resp.Alpha, resp.SparseUsed, resp.RerankProvider)
		if len(resp.SubQueries) > 0 {
			fmt.Printf("sub-queries: %s\n", strings.Join(resp.SubQueries, " | "))
		}
		if len(resp.Degraded) > 0 {
			fmt.Printf("degraded: %s\n", strings.Join(resp.Degraded, ", "))
		}
	}
	if len(resp.Results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for _, r := range resp.Results {
		fmt.Printf("%2d. [%s] %s (%.3f)\n", r.Rank, r.Type, firstLine(r.Preview), r.FinalScore)
		if flagQueryVerbose {
			fmt.Printf("    id=%s semantic=%.3f decay=%.2f boost=%.2f moved=%+d\n",
				r.ID, r.SemanticScore, r.RecencyDecay, r.RecencyBoost, r.RankChange)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "…"
	}
	return s
}
