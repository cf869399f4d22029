package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/kanghyki/badang-post-office/pkg/db/models"
	"github.com/kanghyki/badang-post-office/pkg/enums"
	"github.com/kanghyki/badang-post-office/pkg/logger"
)

const interruptedMessage = "processing interrupted by restart"

// Store is the slice of the postcard repository the sweep needs.
type Store interface {
	ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]models.Postcard, error)
	FailStale(ctx context.Context, id uuid.UUID, message string, olderThan time.Time) (bool, error)
}

// Progress announces the terminal failure on the postcard's channel.
type Progress interface {
	Publish(ctx context.Context, postcardID uuid.UUID, event enums.PostcardEventType, errText *string) error
}

// Job fails postcards stranded in processing by a crashed worker. The send
// stage is not idempotent, so a stranded run is marked failed for an explicit
// resend rather than re-queued.
type Job struct {
	store    Store
	progress Progress
	grace    time.Duration
	logg     *logger.Logger
	now      func() time.Time
}

func NewJob(store Store, progress Progress, grace time.Duration, logg *logger.Logger) *Job {
	return &Job{
		store:    store,
		progress: progress,
		grace:    grace,
		logg:     logg,
		now:      time.Now,
	}
}

func (j *Job) Name() string { return "stuck-processing-sweep" }

func (j *Job) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.grace)
	rows, err := j.store.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	var errs error
	swept := 0
	for _, row := range rows {
		rowCtx := j.logg.WithPostcardID(ctx, row.ID.String())

		// The conditional write re-checks status and cutoff: a run that
		// finished between list and update is left alone.
		failed, err := j.store.FailStale(ctx, row.ID, interruptedMessage, cutoff)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sweep postcard %s: %w", row.ID, err))
			continue
		}
		if !failed {
			j.logg.Debug(rowCtx, "postcard left processing before sweep, skipping")
			continue
		}
		swept++
		message := interruptedMessage
		if err := j.progress.Publish(rowCtx, row.ID, enums.PostcardEventFailed, &message); err != nil {
			j.logg.Error(rowCtx, "failed to record sweep failure event", err)
		}
		j.logg.Warn(rowCtx, "stale processing postcard marked failed")
	}
	j.logg.Info(j.logg.WithField(ctx, "swept", swept), "stuck processing sweep complete")
	return errs
}
