package job

import (
	"context"
	"encoding/json"
	"time"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the job will not run again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Task types double as the topic their messages are published on.
const (
	TaskTypeIngestFile     = "ingest_file"
	TaskTypeQueryDocuments = "query_documents"
)

// Stages the service records itself. Tasks report the ones in between.
const (
	StageReceived  = "received"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// Job represents a background job
type Job struct {
	ID        int64           `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	TaskType  string          `json:"task_type" gorm:"index"`
	Key       string          `json:"key,omitempty" gorm:"index"`
	Payload   json.RawMessage `json:"payload" gorm:"type:jsonb"`
	Status    JobStatus       `json:"status"`
	Stage     string          `json:"stage,omitempty"`
	Attempts  int             `json:"attempts"`
	ErrorKind *string         `json:"error_kind,omitempty"`
	Error     *string         `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty" gorm:"type:jsonb"`
	NotBefore time.Time       `json:"not_before"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Outcome is what a finished attempt leaves on the job record.
type Outcome struct {
	Stage     string
	Result    json.RawMessage
	ErrorKind *string
	Error     *string
}

// JobRepository defines the interface for job persistence
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	// Get returns nil without error when the job does not exist.
	Get(ctx context.Context, id int64) (*Job, error)
	UpdateStatus(ctx context.Context, id int64, status JobStatus, outcome Outcome) error
	UpdateProgress(ctx context.Context, id int64, stage string, attempts int) error
}

// StepLog records the output of completed steps per job.
type StepLog interface {
	// Load returns the stored output and true when the step already ran.
	Load(ctx context.Context, jobID int64, name string) (json.RawMessage, bool, error)
	Save(ctx context.Context, jobID int64, name string, output json.RawMessage) error
}

// SlotStore books start slots for named throttles. Every process sharing a
// store draws from one budget per name.
type SlotStore interface {
	// ReserveSlot books the first free slot at or after now. Booked slots are
	// interval apart. When that slot is more than maxWait away nothing is
	// booked, ok is false and at still reports the slot.
	ReserveSlot(ctx context.Context, name string, now time.Time, interval, maxWait time.Duration) (at time.Time, ok bool, err error)
}

// CooldownStore holds per-key reservations.
type CooldownStore interface {
	// Reserve claims key until the given time unless an unexpired claim
	// exists. It reports whether the claim was made.
	Reserve(ctx context.Context, key string, now, until time.Time) (bool, error)
	Release(ctx context.Context, key string) error
}
