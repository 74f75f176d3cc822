package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"docrag/src/core/rag"
	"docrag/src/infrastructure/job"
	"docrag/src/log"
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question over the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().Int("top-k", rag.DefaultTopK, "number of chunks to retrieve")
	queryCmd.Flags().String("format", string(rag.DefaultOutputFormat),
		"answer format (short, long, bullet_points, detailed, tabular, summary)")
	queryCmd.Flags().Bool("wait", false, "wait for the answer and print it")
	queryCmd.Flags().Duration("timeout", 5*time.Minute, "how long --wait waits")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	topK, _ := cmd.Flags().GetInt("top-k")
	format, _ := cmd.Flags().GetString("format")
	wait, _ := cmd.Flags().GetBool("wait")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stopWorker, err := a.startEmbeddedWorker(ctx)
	if err != nil {
		return err
	}
	defer stopWorker()

	if a.embedded() && !wait {
		log.Info("In-process transport, waiting for the answer before exiting")
		wait = true
	}

	j, err := a.trigger.SubmitQuery(ctx, rag.QueryRequest{
		Question:     strings.Join(args, " "),
		TopK:         topK,
		OutputFormat: rag.OutputFormat(format),
	})
	if err != nil {
		return err
	}
	if !wait {
		fmt.Fprintln(cmd.OutOrStdout(), j.ID)
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done, err := waitForJob(waitCtx, a.trigger, j.ID)
	if err != nil {
		return err
	}
	if done.Status != job.JobStatusCompleted {
		return fmt.Errorf("query failed: %s", jobError(done))
	}

	var answer rag.Answer
	if err := decodeResult(done, &answer); err != nil {
		return err
	}
	printAnswer(cmd.OutOrStdout(), &answer)
	return nil
}

func printAnswer(w io.Writer, answer *rag.Answer) {
	fmt.Fprintln(w, answer.Text)
	if len(answer.Citations) == 0 {
		return
	}

	fmt.Fprintf(w, "\nSources (%d contexts):\n", answer.NumContexts)
	for _, c := range answer.Citations {
		if c.Page > 0 {
			fmt.Fprintf(w, "  - %s #%d (page %d, score %.3f)\n", c.SourceID, c.ChunkIndex, c.Page, c.Score)
		} else {
			fmt.Fprintf(w, "  - %s #%d (score %.3f)\n", c.SourceID, c.ChunkIndex, c.Score)
		}
	}
}
