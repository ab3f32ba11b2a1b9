package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wonny/regtech-dq/internal/api"
	"github.com/wonny/regtech-dq/internal/api/handlers"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the maintenance scheduler",
	Long: `Starts the HTTP server and, when SCHEDULER_ENABLED, the maintenance jobs.

Endpoints:
  GET  /health                    - dependency health and dq schema
  GET  /metrics                   - Prometheus metrics (METRICS_ENABLED)
  POST /api/batches               - validate and persist one batch
  GET  /api/reports/{batchId}     - stored quality report
  GET  /api/banks/{bankId}/trends - score trend (from, to, limit)
  GET  /api/thresholds/{bankId}   - active bank threshold
  GET  /api/jobs                  - scheduler statistics

Example:
  go run ./cmd/dq serve
  go run ./cmd/dq serve --port 8081`,
	RunE: runServe,
}

var servePort string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&servePort, "port", "", "HTTP port (default PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Port = servePort
	}

	a, err := newApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	// 1. 스케줄러
	var jobStats handlers.JobStats
	if cfg.Scheduler.Enabled {
		sched, err := newScheduler(a)
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
		sched.Start()
		defer sched.Stop()
		jobStats = sched
	}

	// 2. 헬스 체크
	checks := map[string]handlers.HealthCheck{}
	if a.db != nil {
		checks["postgres"] = a.db.Ready
	}
	if a.redis.Enabled() {
		checks["redis"] = a.redis.Ping
	}

	// 3. HTTP 서버
	// a nil *Registry must not reach the router as a non-nil interface
	var gatherer prometheus.Gatherer
	if a.registry != nil {
		gatherer = a.registry
	}
	handler := handlers.NewQualityHandler(a.service, a.reports, a.thresholds, jobStats, checks, log)
	server := api.New(cfg, log, api.NewRouter(handler, gatherer, log))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "✅ Listening on %s (Ctrl+C to stop)\n", server.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("Server stopped")
	return nil
}
