// Package trigger accepts ingestion and query requests and turns them into
// jobs, rejecting what must not run.
package trigger

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"docrag/src/core/decoder"
	"docrag/src/core/rag"
	"docrag/src/infrastructure/job"
	"docrag/src/log"
)

var ErrJobNotFound = errors.New("job not found")

// Jobs creates and looks up jobs.
type Jobs interface {
	EnqueueJob(ctx context.Context, taskType, key string, payload any, notBefore time.Time) (*job.Job, error)
	GetJob(ctx context.Context, id int64) (*job.Job, error)
}

// QueryValidator rejects malformed questions before they are queued.
type QueryValidator interface {
	Validate(req rag.QueryRequest) error
}

// SourceDeleter removes the records of a source.
type SourceDeleter interface {
	DeleteSource(ctx context.Context, sourceID string) (int, error)
}

// IngestionRequest asks for a file to be indexed. SourceID defaults to the
// file's base name and FileType to the one implied by its extension or
// content.
type IngestionRequest struct {
	SourceID string `json:"source_id"`
	FilePath string `json:"file_path" binding:"required"`
	FileType string `json:"file_type"`
}

type Service struct {
	jobs          Jobs
	queries       QueryValidator
	sources       SourceDeleter
	cooldown      *job.SourceCooldown
	ingestLimiter *job.Throttle
	queryLimiter  *job.Throttle
	now           func() time.Time
}

func NewService(
	jobs Jobs,
	queries QueryValidator,
	sources SourceDeleter,
	cooldown *job.SourceCooldown,
	ingestLimiter, queryLimiter *job.Throttle,
) *Service {
	return &Service{
		jobs:          jobs,
		queries:       queries,
		sources:       sources,
		cooldown:      cooldown,
		ingestLimiter: ingestLimiter,
		queryLimiter:  queryLimiter,
		now:           time.Now,
	}
}

// SubmitIngestion validates req, claims the source's cooldown and a throttle
// slot, and queues the ingestion.
func (s *Service) SubmitIngestion(ctx context.Context, req IngestionRequest) (*job.Job, error) {
	ev, err := ingestEvent(req)
	if err != nil {
		return nil, err
	}

	if err := s.cooldown.Acquire(ctx, ev.SourceID); err != nil {
		return nil, err
	}

	notBefore, err := s.ingestLimiter.Reserve(ctx, s.now())
	if err != nil {
		s.release(ctx, ev.SourceID)
		return nil, err
	}

	j, err := s.jobs.EnqueueJob(ctx, job.TaskTypeIngestFile, ev.SourceID, ev, notBefore)
	if err != nil {
		s.release(ctx, ev.SourceID)
		return nil, err
	}

	log.Info("Accepted ingestion", "job_id", j.ID, "source_id", ev.SourceID, "file_type", ev.FileType, "not_before", notBefore)
	return j, nil
}

// SubmitQuery validates req, claims a throttle slot and queues the query.
func (s *Service) SubmitQuery(ctx context.Context, req rag.QueryRequest) (*job.Job, error) {
	if err := s.queries.Validate(req); err != nil {
		return nil, err
	}

	notBefore, err := s.queryLimiter.Reserve(ctx, s.now())
	if err != nil {
		return nil, err
	}

	j, err := s.jobs.EnqueueJob(ctx, job.TaskTypeQueryDocuments, "", req, notBefore)
	if err != nil {
		return nil, err
	}

	log.Info("Accepted query", "job_id", j.ID, "top_k", req.TopK, "format", req.OutputFormat)
	return j, nil
}

func (s *Service) GetJob(ctx context.Context, id int64) (*job.Job, error) {
	j, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, ErrJobNotFound
	}
	return j, nil
}

// DeleteSource removes a source's records and lifts its cooldown.
func (s *Service) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	if strings.TrimSpace(sourceID) == "" {
		return 0, rag.NewError(rag.ErrInvalidFormat, false, nil, "source id is empty")
	}

	n, err := s.sources.DeleteSource(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	s.release(ctx, sourceID)

	log.Info("Deleted source", "source_id", sourceID, "records", n)
	return n, nil
}

func (s *Service) release(ctx context.Context, sourceID string) {
	if err := s.cooldown.Release(ctx, sourceID); err != nil {
		log.Error(err, "failed to release cooldown", "source_id", sourceID)
	}
}

func ingestEvent(req IngestionRequest) (rag.IngestFileEvent, error) {
	path := strings.TrimSpace(req.FilePath)
	if path == "" {
		return rag.IngestFileEvent{}, rag.NewError(rag.ErrInvalidFormat, false, nil, "file path is empty")
	}

	var (
		ft  rag.FileType
		err error
	)
	if req.FileType != "" {
		ft, err = decoder.ParseFileType(req.FileType)
	} else {
		ft, err = decoder.FileTypeFromExtension(path)
	}
	if err != nil {
		return rag.IngestFileEvent{}, err
	}

	sourceID := strings.TrimSpace(req.SourceID)
	if sourceID == "" {
		sourceID = filepath.Base(path)
	}

	return rag.IngestFileEvent{SourceID: sourceID, FilePath: path, FileType: ft}, nil
}
