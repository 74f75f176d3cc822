package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryJobRepository keeps jobs in process. It backs the single-process
// mode and tests.
type MemoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[int64]*Job
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[int64]*Job)}
}

func (r *MemoryJobRepository) Create(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("job %d already exists", job.ID)
	}
	now := time.Now()
	job.CreatedAt, job.UpdatedAt = now, now
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobRepository) Get(_ context.Context, id int64) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	return cloneJob(job), nil
}

func (r *MemoryJobRepository) UpdateStatus(_ context.Context, id int64, status JobStatus, outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	job.Status = status
	job.ErrorKind = outcome.ErrorKind
	job.Error = outcome.Error
	if outcome.Stage != "" {
		job.Stage = outcome.Stage
	}
	if outcome.Result != nil {
		job.Result = slices.Clone(outcome.Result)
	}
	job.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryJobRepository) UpdateProgress(_ context.Context, id int64, stage string, attempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	if stage != "" {
		job.Stage = stage
	}
	job.Attempts = attempts
	job.UpdatedAt = time.Now()
	return nil
}

func cloneJob(j *Job) *Job {
	c := *j
	c.Payload = slices.Clone(j.Payload)
	c.Result = slices.Clone(j.Result)
	return &c
}

type stepKey struct {
	jobID int64
	name  string
}

// MemoryStepLog is an in-process StepLog.
type MemoryStepLog struct {
	mu    sync.RWMutex
	steps map[stepKey]json.RawMessage
}

func NewMemoryStepLog() *MemoryStepLog {
	return &MemoryStepLog{steps: make(map[stepKey]json.RawMessage)}
}

func (l *MemoryStepLog) Load(_ context.Context, jobID int64, name string) (json.RawMessage, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out, ok := l.steps[stepKey{jobID, name}]
	return slices.Clone(out), ok, nil
}

func (l *MemoryStepLog) Save(_ context.Context, jobID int64, name string, output json.RawMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.steps[stepKey{jobID, name}] = slices.Clone(output)
	return nil
}

// MemoryCooldownStore is an in-process CooldownStore.
type MemoryCooldownStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{expires: make(map[string]time.Time)}
}

func (s *MemoryCooldownStore) Reserve(_ context.Context, key string, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.expires[key]; ok && exp.After(now) {
		return false, nil
	}
	s.expires[key] = until
	return true, nil
}

func (s *MemoryCooldownStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.expires, key)
	return nil
}

// MemorySlotStore is an in-process SlotStore with one token bucket per name.
type MemorySlotStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewMemorySlotStore() *MemorySlotStore {
	return &MemorySlotStore{limiters: make(map[string]*rate.Limiter)}
}

func (s *MemorySlotStore) ReserveSlot(_ context.Context, name string, now time.Time, interval, maxWait time.Duration) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.limiters[name]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
		s.limiters[name] = limiter
	}

	r := limiter.ReserveN(now, 1)
	at := now.Add(r.DelayFrom(now))
	if at.Sub(now) > maxWait {
		r.CancelAt(now)
		return at, false, nil
	}
	return at, true, nil
}
