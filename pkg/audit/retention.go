package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionPolicy defines how long audit records are kept.
type RetentionPolicy struct {
	// RetentionDays is the number of days to keep records.
	RetentionDays int

	// Schedule is a cron expression for the purge job.
	Schedule string
}

// DefaultRetentionPolicy keeps 90 days of records, purging nightly.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays: 90,
		Schedule:      "0 3 * * *",
	}
}

// Purger deletes records older than a cutoff.
type Purger interface {
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// RetentionWorker runs the purge job on a cron schedule.
type RetentionWorker struct {
	purger Purger
	policy RetentionPolicy
	cron   *cron.Cron
	onRun  func(deleted int64, err error)
}

// NewRetentionWorker creates a retention worker. onRun, if non-nil, is
// called after each purge with the outcome; purge failures are reported
// there and never propagate.
func NewRetentionWorker(purger Purger, policy RetentionPolicy, onRun func(deleted int64, err error)) *RetentionWorker {
	return &RetentionWorker{
		purger: purger,
		policy: policy,
		cron:   cron.New(),
		onRun:  onRun,
	}
}

// Start schedules the purge job and starts the cron loop.
func (w *RetentionWorker) Start() error {
	_, err := w.cron.AddFunc(w.policy.Schedule, func() {
		w.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}
	w.cron.Start()
	return nil
}

// RunOnce executes a single purge pass.
func (w *RetentionWorker) RunOnce(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -w.policy.RetentionDays)
	deleted, err := w.purger.Purge(ctx, cutoff)
	if w.onRun != nil {
		w.onRun(deleted, err)
	}
}

// Stop stops the cron loop and waits for a running job to finish.
func (w *RetentionWorker) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
}
