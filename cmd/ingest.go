package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docrag/src/core/decoder"
	"docrag/src/core/rag"
	"docrag/src/core/trigger"
	"docrag/src/infrastructure/job"
	"docrag/src/log"
	"docrag/src/storage/minioctrl"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Index files or directories",
	Long: `The ingest command submits one ingestion job per file. Directories are walked
and every file with a supported extension is submitted. With --upload the files
are copied to the configured MinIO bucket first and ingested from there.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().String("source-id", "", "source id, only valid with a single file")
	ingestCmd.Flags().String("type", "", "file type (pdf, word, image, text); detected when empty")
	ingestCmd.Flags().Bool("upload", false, "upload files to MinIO before ingesting")
	ingestCmd.Flags().Bool("wait", false, "wait for the jobs to finish")
	ingestCmd.Flags().Duration("timeout", 30*time.Minute, "how long --wait waits")
}

type ingestOptions struct {
	SourceID string
	FileType string
	Upload   bool
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := ingestOptions{}
	opts.SourceID, _ = cmd.Flags().GetString("source-id")
	opts.FileType, _ = cmd.Flags().GetString("type")
	opts.Upload, _ = cmd.Flags().GetBool("upload")
	wait, _ := cmd.Flags().GetBool("wait")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	paths, err := expandPaths(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no supported files found")
	}
	if opts.SourceID != "" && len(paths) > 1 {
		return errors.New("--source-id needs exactly one file")
	}

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
		log.Info("In-process transport, waiting for jobs before exiting")
		wait = true
	}

	jobs, err := submitIngestions(ctx, a, paths, opts)
	if err != nil {
		return err
	}
	if !wait {
		for _, j := range jobs {
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", j.ID, j.Key)
		}
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	failed := waitForJobs(waitCtx, a.trigger, jobs, "indexing")
	for _, j := range failed {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", j.Key, jobError(j))
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d ingestions failed", len(failed), len(jobs))
	}
	return nil
}

// submitIngestions submits every path and returns the accepted jobs.
// Rejected files are logged and skipped.
func submitIngestions(ctx context.Context, a *app, paths []string, opts ingestOptions) ([]*job.Job, error) {
	if opts.Upload {
		if a.minio == nil {
			return nil, errors.New("--upload needs minio.endpoint")
		}
		if err := a.minio.EnsureBucketExists(ctx, viper.GetString("minio.bucket")); err != nil {
			return nil, err
		}
	}

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("submitting"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	defer bar.Finish()

	jobs := make([]*job.Job, 0, len(paths))
	for _, path := range paths {
		req := trigger.IngestionRequest{SourceID: opts.SourceID, FilePath: path, FileType: opts.FileType}
		if opts.Upload {
			remote, err := upload(ctx, a.minio, path)
			if err != nil {
				return jobs, err
			}
			req.FilePath = remote
		} else if abs, err := filepath.Abs(path); err == nil {
			req.FilePath = abs
		}

		j, err := a.trigger.SubmitIngestion(ctx, req)
		if err != nil {
			log.Error(err, "Ingestion rejected", "path", path, "kind", rag.KindOf(err))
		} else {
			jobs = append(jobs, j)
		}
		_ = bar.Add(1)
	}
	return jobs, nil
}

func upload(ctx context.Context, store *minioctrl.MinioService, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	bucket, object := viper.GetString("minio.bucket"), filepath.Base(path)
	if err := store.PutObject(ctx, bucket, object, data, mimetype.Detect(data).String()); err != nil {
		return "", err
	}
	log.V(1).Info("Uploaded file", "path", path, "bucket", bucket, "object", object)
	return minioctrl.URL(bucket, object), nil
}

// expandPaths walks directories and keeps files with a supported extension.
// Files named explicitly are kept as given.
func expandPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if ft, err := decoder.FileTypeFromExtension(path); err == nil && ft != "" {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// waitForJobs polls until every job is finished or ctx ends and returns the
// jobs that did not complete.
func waitForJobs(ctx context.Context, jobs *trigger.Service, pending []*job.Job, description string) []*job.Job {
	bar := progressbar.NewOptions(len(pending),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	defer bar.Finish()

	var failed []*job.Job
	for _, p := range pending {
		j, err := waitForJob(ctx, jobs, p.ID)
		if err != nil {
			p.Error = ptr(err.Error())
			failed = append(failed, p)
		} else if j.Status != job.JobStatusCompleted {
			failed = append(failed, j)
		}
		_ = bar.Add(1)
	}
	return failed
}

func waitForJob(ctx context.Context, jobs *trigger.Service, id int64) (*job.Job, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		j, err := jobs.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if j.Status.Terminal() {
			return j, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("job %d still %s: %w", id, j.Stage, ctx.Err())
		case <-ticker.C:
		}
	}
}

func jobError(j *job.Job) string {
	msg := "failed"
	if j.Error != nil {
		msg = *j.Error
	}
	if j.ErrorKind != nil {
		msg = *j.ErrorKind + ": " + msg
	}
	return msg
}

func decodeResult(j *job.Job, out any) error {
	if len(j.Result) == 0 {
		return errors.New("job has no result")
	}
	return json.Unmarshal(j.Result, out)
}

func ptr[T any](v T) *T { return &v }
