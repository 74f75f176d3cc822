package job

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/bwmarrin/snowflake"

	"docrag/src/core/rag"
)

// Progress reports the stage a running job has reached.
type Progress func(stage string)

// Task executes one job type. The returned value becomes the job result.
type Task interface {
	Run(ctx context.Context, job *Job, progress Progress) (any, error)
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context, job *Job, progress Progress) (any, error)

func (f TaskFunc) Run(ctx context.Context, job *Job, progress Progress) (any, error) {
	return f(ctx, job, progress)
}

// FailureHook is called once when a job fails for good.
type FailureHook func(ctx context.Context, job *Job, err error)

type JobService struct {
	publisher message.Publisher
	repo      JobRepository
	ids       *snowflake.Node
	logger    watermill.LoggerAdapter
	retry     RetryPolicy
	tasks     map[string]Task
	onFailure map[string]FailureHook
	now       func() time.Time
}

type JobMessage struct {
	JobID    int64           `json:"job_id,string"`
	TaskType string          `json:"task_type"`
	Payload  json.RawMessage `json:"payload"`
}

func NewJobService(
	publisher message.Publisher,
	repo JobRepository,
	ids *snowflake.Node,
	retry RetryPolicy,
	logger watermill.LoggerAdapter,
) *JobService {
	return &JobService{
		publisher: publisher,
		repo:      repo,
		ids:       ids,
		logger:    logger,
		retry:     retry,
		tasks:     make(map[string]Task),
		onFailure: make(map[string]FailureHook),
		now:       time.Now,
	}
}

// Register binds a task to its type. onFailure may be nil.
func (s *JobService) Register(taskType string, task Task, onFailure FailureHook) {
	s.tasks[taskType] = task
	if onFailure != nil {
		s.onFailure[taskType] = onFailure
	}
}

// TaskTypes lists the registered task types, which are also their topics.
func (s *JobService) TaskTypes() []string {
	types := make([]string, 0, len(s.tasks))
	for t := range s.tasks {
		types = append(types, t)
	}
	return types
}

// EnqueueJob creates a new job and publishes it to the message queue. The
// job will not start before notBefore.
func (s *JobService) EnqueueJob(ctx context.Context, taskType, key string, payload any, notBefore time.Time) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	// Create job record
	job := &Job{
		ID:        s.ids.Generate().Int64(),
		TaskType:  taskType,
		Key:       key,
		Payload:   body,
		Status:    JobStatusPending,
		Stage:     StageReceived,
		NotBefore: notBefore,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	// Prepare message
	msgPayload, err := json.Marshal(JobMessage{
		JobID:    job.ID,
		TaskType: job.TaskType,
		Payload:  job.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job message: %w", err)
	}

	// Publish message
	msg := message.NewMessage(watermill.NewUUID(), msgPayload)
	middleware.SetCorrelationID(strconv.FormatInt(job.ID, 10), msg)
	if err := s.publisher.Publish(taskType, msg); err != nil {
		return nil, fmt.Errorf("failed to publish job message: %w", err)
	}

	return job, nil
}

// GetJob returns a job or nil when it does not exist
func (s *JobService) GetJob(ctx context.Context, id int64) (*Job, error) {
	return s.repo.Get(ctx, id)
}

// ProcessJobMessage processes a job message from the queue. Task failures are
// recorded on the job and acknowledged; only bookkeeping errors are returned
// so the router can redeliver.
func (s *JobService) ProcessJobMessage(msg *message.Message) error {
	var jobMsg JobMessage
	if err := json.Unmarshal(msg.Payload, &jobMsg); err != nil {
		s.logger.Error("Dropping malformed job message", err, watermill.LogFields{"message_uuid": msg.UUID})
		return nil
	}

	ctx := msg.Context()
	fields := watermill.LogFields{"job_id": jobMsg.JobID, "task_type": jobMsg.TaskType}

	// Get job from database
	job, err := s.repo.Get(ctx, jobMsg.JobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		s.logger.Error("Job not found", nil, fields)
		return nil
	}
	if job.Status.Terminal() {
		s.logger.Info("Job already finished, skipping redelivery", fields)
		return nil
	}

	if err := s.waitUntil(ctx, job.NotBefore); err != nil {
		return err
	}

	task, ok := s.tasks[job.TaskType]
	if !ok {
		return s.fail(ctx, job, fmt.Errorf("unknown task type: %s", job.TaskType))
	}

	// Update status to running
	if err := s.repo.UpdateStatus(ctx, job.ID, JobStatusRunning, Outcome{}); err != nil {
		return fmt.Errorf("failed to update job status to running: %w", err)
	}

	var result any
	attempts := job.Attempts
	err = s.retry.Do(ctx, func(attempt int) error {
		attempts = job.Attempts + attempt
		if err := s.repo.UpdateProgress(ctx, job.ID, "", attempts); err != nil {
			s.logger.Error("Failed to record attempt", err, fields)
		}

		var runErr error
		result, runErr = task.Run(ctx, job, func(stage string) {
			if err := s.repo.UpdateProgress(ctx, job.ID, stage, attempts); err != nil {
				s.logger.Error("Failed to record stage", err, fields)
			}
			s.logger.Debug("Job stage", watermill.LogFields{"job_id": job.ID, "stage": stage})
		})
		if runErr != nil && rag.IsTransient(runErr) {
			s.logger.Info("Job attempt failed, retrying", watermill.LogFields{
				"job_id": job.ID, "attempt": attempts, "reason": rag.ReasonOf(runErr),
			})
		}
		return runErr
	})
	if err != nil {
		return s.fail(ctx, job, err)
	}

	body, err := json.Marshal(result)
	if err != nil {
		return s.fail(ctx, job, fmt.Errorf("failed to marshal job result: %w", err))
	}

	// Update status to completed
	if err := s.repo.UpdateStatus(ctx, job.ID, JobStatusCompleted, Outcome{Stage: StageCompleted, Result: body}); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}
	s.logger.Info("Job completed", watermill.LogFields{"job_id": job.ID, "task_type": job.TaskType, "attempts": attempts})

	return nil
}

func (s *JobService) fail(ctx context.Context, job *Job, cause error) error {
	kind, reason := rag.KindOf(cause), rag.ReasonOf(cause)
	s.logger.Error("Job failed", cause, watermill.LogFields{"job_id": job.ID, "task_type": job.TaskType, "kind": kind})

	if hook, ok := s.onFailure[job.TaskType]; ok {
		hook(ctx, job, cause)
	}

	// Update status to failed
	if err := s.repo.UpdateStatus(ctx, job.ID, JobStatusFailed, Outcome{Stage: StageFailed, ErrorKind: &kind, Error: &reason}); err != nil {
		return fmt.Errorf("failed to update job status to failed: %w", err)
	}
	return nil
}

func (s *JobService) waitUntil(ctx context.Context, t time.Time) error {
	delay := t.Sub(s.now())
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
