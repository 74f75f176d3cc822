package job

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Step is one memoized step output.
type Step struct {
	JobID     int64           `gorm:"primaryKey;autoIncrement:false"`
	Name      string          `gorm:"primaryKey"`
	Output    json.RawMessage `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func (Step) TableName() string { return "job_steps" }

// CooldownRecord is a reservation of a key until ExpiresAt.
type CooldownRecord struct {
	SourceKey string `gorm:"primaryKey"`
	ExpiresAt time.Time
}

func (CooldownRecord) TableName() string { return "cooldowns" }

// ThrottleSlot is the next free start slot of a named throttle.
type ThrottleSlot struct {
	Name   string `gorm:"primaryKey"`
	NextAt time.Time
}

func (ThrottleSlot) TableName() string { return "throttle_slots" }

// Migrate creates the job tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Job{}, &Step{}, &CooldownRecord{}, &ThrottleSlot{})
}

type PostgresJobRepository struct {
	db *gorm.DB
}

func NewPostgresJobRepository(db *gorm.DB) *PostgresJobRepository {
	return &PostgresJobRepository{db: db}
}

func (r *PostgresJobRepository) Create(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *PostgresJobRepository) Get(ctx context.Context, id int64) (*Job, error) {
	var job Job
	result := r.db.WithContext(ctx).First(&job, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}

	return &job, nil
}

func (r *PostgresJobRepository) UpdateStatus(ctx context.Context, id int64, status JobStatus, outcome Outcome) error {
	fields := map[string]interface{}{
		"status":     status,
		"error_kind": outcome.ErrorKind,
		"error":      outcome.Error,
	}
	if outcome.Stage != "" {
		fields["stage"] = outcome.Stage
	}
	if outcome.Result != nil {
		fields["result"] = outcome.Result
	}

	result := r.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return errors.New("job not found")
	}

	return nil
}

func (r *PostgresJobRepository) UpdateProgress(ctx context.Context, id int64, stage string, attempts int) error {
	fields := map[string]interface{}{"attempts": attempts}
	if stage != "" {
		fields["stage"] = stage
	}

	result := r.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return errors.New("job not found")
	}

	return nil
}

type PostgresStepLog struct {
	db *gorm.DB
}

func NewPostgresStepLog(db *gorm.DB) *PostgresStepLog {
	return &PostgresStepLog{db: db}
}

func (l *PostgresStepLog) Load(ctx context.Context, jobID int64, name string) (json.RawMessage, bool, error) {
	var step Step
	result := l.db.WithContext(ctx).Where("job_id = ? AND name = ?", jobID, name).Take(&step)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, result.Error
	}

	return step.Output, true, nil
}

func (l *PostgresStepLog) Save(ctx context.Context, jobID int64, name string, output json.RawMessage) error {
	step := &Step{JobID: jobID, Name: name, Output: output}
	return l.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(step).Error
}

type PostgresCooldownStore struct {
	db *gorm.DB
}

func NewPostgresCooldownStore(db *gorm.DB) *PostgresCooldownStore {
	return &PostgresCooldownStore{db: db}
}

// Reserve inserts the key, or takes over an expired row, in one statement.
func (s *PostgresCooldownStore) Reserve(ctx context.Context, key string, now, until time.Time) (bool, error) {
	row := &CooldownRecord{SourceKey: key, ExpiresAt: until}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"expires_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Lte{Column: clause.Column{Table: "cooldowns", Name: "expires_at"}, Value: now},
		}},
	}).Create(row)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (s *PostgresCooldownStore) Release(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("source_key = ?", key).Delete(&CooldownRecord{}).Error
}

type PostgresSlotStore struct {
	db *gorm.DB
}

func NewPostgresSlotStore(db *gorm.DB) *PostgresSlotStore {
	return &PostgresSlotStore{db: db}
}

// ReserveSlot locks the throttle's row so concurrent bookings from any
// process are serialized.
func (s *PostgresSlotStore) ReserveSlot(ctx context.Context, name string, now time.Time, interval, maxWait time.Duration) (time.Time, bool, error) {
	var at time.Time
	var booked bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := &ThrottleSlot{Name: name, NextAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
			return err
		}

		var slot ThrottleSlot
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&slot, "name = ?", name).Error; err != nil {
			return err
		}

		at = slot.NextAt
		if at.Before(now) {
			at = now
		}
		if at.Sub(now) > maxWait {
			return nil
		}
		booked = true
		return tx.Model(&slot).Update("next_at", at.Add(interval)).Error
	})
	if err != nil {
		return time.Time{}, false, err
	}
	return at, booked, nil
}
