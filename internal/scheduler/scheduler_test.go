package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finrisk/valuation-service/internal/database"
	"github.com/finrisk/valuation-service/internal/domain"
	"github.com/finrisk/valuation-service/internal/events"
	"github.com/finrisk/valuation-service/internal/instruments"
	"github.com/finrisk/valuation-service/internal/risk"
)

type countingJob struct{ runs int }

func (j *countingJob) Name() string { return "counting" }
func (j *countingJob) Run() error   { j.runs++; return nil }

func TestAddJob_RejectsInvalidCronExpression(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.AddJob("not a cron", &countingJob{})
	assert.Error(t, err)
}

func TestRunNow_ExecutesOutsideSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{}
	require.NoError(t, s.AddJob("0 3 * * *", job))

	require.NoError(t, s.RunNow(job))
	assert.Equal(t, 1, job.runs)
}

func TestStressTestJob_NoSnapshotIsNotAnError(t *testing.T) {
	bus := events.NewSnapshotBus(zerolog.Nop())
	job := NewStressTestJob(bus, risk.DefaultEngine(), zerolog.Nop())
	assert.NoError(t, job.Run())
}

func TestStressTestJob_RunsAgainstLatestSnapshot(t *testing.T) {
	bus := events.NewSnapshotBus(zerolog.Nop())
	bus.Publish(domain.PortfolioSnapshot{Timestamp: time.Now().UTC(), PortfolioValue: 100000})

	job := NewStressTestJob(bus, risk.DefaultEngine(), zerolog.Nop())
	assert.NoError(t, job.Run())
}

var testDBCounter int

func TestRetentionCleanupJob_DeletesAgedTicks(t *testing.T) {
	testDBCounter++
	db, err := database.New(database.Config{
		Path: fmt.Sprintf("file:scheduler_test_%d?mode=memory&cache=shared", testDBCounter),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	history := instruments.NewHistory(db)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, history.Append(ctx, domain.TickPoint{Symbol: "AAPL", Price: 150, Timestamp: now.Add(-48 * time.Hour)}))
	require.NoError(t, history.Append(ctx, domain.TickPoint{Symbol: "AAPL", Price: 151, Timestamp: now}))

	job := NewRetentionCleanupJob(history, nil, 1, zerolog.Nop())
	require.NoError(t, job.Run())

	remaining, err := history.Since(ctx, "AAPL", 365*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, 151.0, remaining[0].Price)
}
