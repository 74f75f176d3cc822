package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"docrag/src/core/rag"
)

// evaluateCmd represents the evaluate command
var evaluateCmd = &cobra.Command{
	Use:   "evaluate [path]...",
	Short: "Measure retrieval recall against a golden set",
	Long: `The evaluate command reads a JSON lines file where each line holds a query and
the chunks that should be retrieved for it:

  {"query": "...", "golden_chunks": [{"source_id": "report.pdf", "index": 3}]}

It reports the average recall@k of the vector search. Paths given as arguments
are ingested first.`,
	RunE: Evaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringP("evaluate", "e", "", "Evaluation JSON lines file path")
	evaluateCmd.MarkFlagRequired("evaluate")
	evaluateCmd.Flags().IntP("top-k", "k", rag.DefaultTopK, "number of chunks to retrieve per query")
}

func Evaluate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	evaluatePath, _ := cmd.Flags().GetString("evaluate")
	k, _ := cmd.Flags().GetInt("top-k")

	evalFile, err := os.Open(evaluatePath)
	if err != nil {
		return fmt.Errorf("failed to open evaluation file: %w", err)
	}
	defer evalFile.Close()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) > 0 {
		if err := ingestForEvaluation(ctx, a, args); err != nil {
			return err
		}
	}

	report, err := rag.EvaluateRecall(ctx, evalFile, a.queries.Retrieve, k)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Evaluation Results:\n")
	fmt.Fprintf(out, "Total evaluations: %d\n", report.Queries)
	if report.Skipped > 0 {
		fmt.Fprintf(out, "Skipped lines: %d\n", report.Skipped)
	}
	fmt.Fprintf(out, "Average recall@%d: %.2f%%\n", k, report.AverageRecall*100)
	return nil
}

func ingestForEvaluation(ctx context.Context, a *app, args []string) error {
	paths, err := expandPaths(args)
	if err != nil {
		return err
	}

	stopWorker, err := a.startEmbeddedWorker(ctx)
	if err != nil {
		return err
	}
	defer stopWorker()

	jobs, err := submitIngestions(ctx, a, paths, ingestOptions{})
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()
	if failed := waitForJobs(waitCtx, a.trigger, jobs, "indexing"); len(failed) > 0 {
		return fmt.Errorf("%d of %d ingestions failed", len(failed), len(jobs))
	}
	return nil
}
