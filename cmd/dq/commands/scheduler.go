package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/regtech-dq/internal/scheduler"
	"github.com/wonny/regtech-dq/internal/scheduler/jobs"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Inspect and run maintenance jobs",
	Long: `Lists or runs the maintenance jobs that "dq serve" schedules.

Registered jobs:
- catalog_refresh: reloads the rule catalog into Redis (only with RULES_CACHE_ENABLED)
- stale_report_sweep: marks abandoned IN_PROGRESS reports as FAILED

Subcommands:
  list    - registered jobs and schedules
  run     - run one job now

Example:
  go run ./cmd/dq scheduler list
  go run ./cmd/dq scheduler run stale_report_sweep`,
}

var (
	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered jobs",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "Run one job immediately",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
}

// newScheduler registers the maintenance jobs the configuration allows
func newScheduler(a *app, opts ...scheduler.Option) (*scheduler.Scheduler, error) {
	sched := scheduler.New(a.log, opts...)

	if a.cached != nil {
		job := jobs.NewCatalogRefreshJob(a.cached, a.cfg.Scheduler.CatalogRefreshSpec, a.log)
		if err := sched.AddJob(job); err != nil {
			return nil, err
		}
	}

	sweep := jobs.NewStaleReportSweepJob(a.reports, a.cfg.Scheduler.StaleSweepSpec, a.cfg.Scheduler.StaleAfter, a.log)
	if err := sched.AddJob(sweep); err != nil {
		return nil, err
	}
	return sched, nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := newScheduler(a)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	stats := sched.GetJobStats()
	printHeader(out, "Registered jobs")
	rows := make([][]string, 0, len(stats))
	for _, name := range sched.GetAllJobs() {
		rows = append(rows, []string{name, stats[name].Schedule})
	}
	printTable(out, []string{"JOB", "SCHEDULE"}, []int{22, 16}, rows)
	return nil
}

func runJob(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	jobName := args[0]

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	// 수동 실행은 재시도 없이 한 번만
	sched, err := newScheduler(a, scheduler.WithRetries(0, 0))
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer sched.Stop()

	fmt.Fprintf(out, "Running job: %s\n", jobName)
	result, err := sched.RunJob(jobName)
	if err != nil {
		return err
	}

	printKeyValue(out, "Duration", result.Duration.Round(time.Millisecond).String(), 8)
	if !result.Success {
		printError(out, result.Error)
		return fmt.Errorf("job %s failed", jobName)
	}
	printSuccess(out, "Job completed")
	return nil
}
