package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/pkg/logger"
)

// DefaultStaleAfter is how long a report may sit IN_PROGRESS before the sweep fails it
const DefaultStaleAfter = 2 * time.Hour

// StaleReportSweepJob fails reports left IN_PROGRESS by a crashed or killed worker
type StaleReportSweepJob struct {
	reports    contracts.ReportRepository
	schedule   string
	staleAfter time.Duration
	logger     *logger.Logger
	now        func() time.Time
}

// NewStaleReportSweepJob creates the job. Empty schedule means hourly.
func NewStaleReportSweepJob(reports contracts.ReportRepository, schedule string, staleAfter time.Duration, log *logger.Logger) *StaleReportSweepJob {
	if schedule == "" {
		schedule = "0 0 * * * *"
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if log == nil {
		log = logger.Nop()
	}
	return &StaleReportSweepJob{
		reports:    reports,
		schedule:   schedule,
		staleAfter: staleAfter,
		logger:     log,
		now:        time.Now,
	}
}

// Name returns the job name
func (j *StaleReportSweepJob) Name() string {
	return "stale_report_sweep"
}

// Schedule returns the cron schedule
func (j *StaleReportSweepJob) Schedule() string {
	return j.schedule
}

// Run marks every stale report FAILED. A report finished meanwhile (ErrNotFound) is ignored.
func (j *StaleReportSweepJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.staleAfter)
	ids, err := j.reports.ListStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stale reports: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	message := fmt.Sprintf("processing abandoned: no progress for %s", j.staleAfter)
	failed := 0
	var errs []error
	for _, id := range ids {
		if err := j.reports.FailReport(ctx, id, message); err != nil {
			if errors.Is(err, contracts.ErrNotFound) {
				continue
			}
			errs = append(errs, fmt.Errorf("fail report %s: %w", id, err))
			continue
		}
		failed++
	}

	j.logger.WithFields(map[string]interface{}{
		"stale":  len(ids),
		"failed": failed,
		"cutoff": cutoff,
	}).Warn("Stale quality reports marked as failed")
	return errors.Join(errs...)
}
