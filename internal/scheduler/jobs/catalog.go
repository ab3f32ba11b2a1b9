package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/internal/rules"
	"github.com/wonny/regtech-dq/pkg/logger"
)

// CatalogRefresher reloads the rule source and rewrites its cache.
// *rules.CachedSource satisfies it.
type CatalogRefresher interface {
	Refresh(ctx context.Context) ([]contracts.BusinessRule, error)
}

// CatalogRefreshJob keeps the Redis rule cache in step with the rule store
type CatalogRefreshJob struct {
	source   CatalogRefresher
	schedule string
	logger   *logger.Logger
	now      func() time.Time

	lastHash string
}

// NewCatalogRefreshJob creates the job. An empty schedule runs every 5 minutes.
func NewCatalogRefreshJob(source CatalogRefresher, schedule string, log *logger.Logger) *CatalogRefreshJob {
	if schedule == "" {
		schedule = "0 */5 * * * *"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CatalogRefreshJob{source: source, schedule: schedule, logger: log, now: time.Now}
}

// Name returns the job name
func (j *CatalogRefreshJob) Name() string {
	return "catalog_refresh"
}

// Schedule returns the cron schedule
func (j *CatalogRefreshJob) Schedule() string {
	return j.schedule
}

// Run reloads the catalog and logs its hash; a changed hash is logged at info level
func (j *CatalogRefreshJob) Run(ctx context.Context) error {
	all, err := j.source.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh catalog: %w", err)
	}
	hash, err := rules.Hash(all)
	if err != nil {
		return fmt.Errorf("hash catalog: %w", err)
	}
	applicable, skipped := rules.Applicable(all, contracts.DateOf(j.now()))

	log := j.logger.WithFields(map[string]interface{}{
		"rules":      len(all),
		"applicable": len(applicable),
		"skipped":    skipped,
		"hash":       hash,
	})
	if hash != j.lastHash {
		log.Info("Rule catalog refreshed")
	} else {
		log.Debug("Rule catalog unchanged")
	}
	j.lastHash = hash
	return nil
}

// LastHash returns the hash seen by the latest successful run
func (j *CatalogRefreshJob) LastHash() string {
	return j.lastHash
}
