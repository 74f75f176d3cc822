package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docrag/src/log"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background job worker",
	Long: `The worker command consumes ingest_file and query_documents jobs from the
message broker. It needs the amqp transport, since gochannel jobs only reach
workers inside the process that enqueued them.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	if viper.GetString("jobs.transport") != transportAMQP {
		return errors.New("the worker command needs jobs.transport=amqp")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// Initialize router
	router, err := a.newRouter()
	if err != nil {
		return err
	}

	log.Info("Starting worker", "concurrency", viper.GetInt("worker.concurrency"))
	if err := router.Run(ctx); err != nil {
		return err
	}

	log.Info("Router stopped")
	return nil
}
