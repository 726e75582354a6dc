package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/finrisk/valuation-service/internal/archive"
	"github.com/finrisk/valuation-service/internal/instruments"
)

// RetentionCleanupJob enforces TICK_RETENTION_DAYS: ticks older than the
// window are archived (when an Archiver is configured) then deleted from
// price_history, keeping the table bounded for a long-running feed.
type RetentionCleanupJob struct {
	history  *instruments.History
	archiver *archive.Archiver
	retain   time.Duration
	log      zerolog.Logger
}

// NewRetentionCleanupJob builds the job. retentionDays is the age beyond
// which tick rows are archived and removed.
func NewRetentionCleanupJob(history *instruments.History, archiver *archive.Archiver, retentionDays int, log zerolog.Logger) *RetentionCleanupJob {
	return &RetentionCleanupJob{
		history:  history,
		archiver: archiver,
		retain:   time.Duration(retentionDays) * 24 * time.Hour,
		log:      log.With().Str("job", "retention_cleanup").Logger(),
	}
}

func (j *RetentionCleanupJob) Name() string { return "retention_cleanup" }

func (j *RetentionCleanupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-j.retain)

	if j.archiver.Enabled() {
		aged, err := j.history.OlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		if err := j.archiver.UploadTicks(ctx, aged, time.Now().UTC()); err != nil {
			// Archival failure blocks deletion: losing the only copy of
			// aged ticks is worse than letting them sit past the window
			// one more cycle.
			return err
		}
	}

	deleted, err := j.history.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	j.log.Info().Int64("rows_deleted", deleted).Time("cutoff", cutoff).Msg("tick history retention cleanup complete")
	return nil
}
