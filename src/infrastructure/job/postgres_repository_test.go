package job_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"docrag/src/core/rag"
	"docrag/src/infrastructure/job"
)

// Runs against a real database when JOBS_TEST_DSN is set, e.g.
// host=localhost user=postgres password=postgres dbname=docrag_test port=5432 sslmode=disable
func TestPostgresSlotStoreSharesBudget(t *testing.T) {
	dsn := os.Getenv("JOBS_TEST_DSN")
	if dsn == "" {
		t.Skip("JOBS_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, job.Migrate(db))

	// two stores on one database stand in for two processes
	name := fmt.Sprintf("ingest_test_%d", time.Now().UnixNano())
	api := job.NewThrottle(job.NewPostgresSlotStore(db), name, 2, time.Minute, 45*time.Second)
	cli := job.NewThrottle(job.NewPostgresSlotStore(db), name, 2, time.Minute, 45*time.Second)
	now := time.Now().UTC().Truncate(time.Second)

	at, err := api.Reserve(ctx, now)
	require.NoError(t, err)
	assert.WithinDuration(t, now, at, time.Millisecond)

	at, err = cli.Reserve(ctx, now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(30*time.Second), at, time.Millisecond)

	_, err = api.Reserve(ctx, now)
	require.Error(t, err)
	assert.Equal(t, "throttled", rag.KindOf(err))

	at, err = cli.Reserve(ctx, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Minute), at, time.Millisecond)
}
