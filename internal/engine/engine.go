package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/internal/predicate"
	"github.com/wonny/regtech-dq/internal/rules"
	"github.com/wonny/regtech-dq/pkg/config"
	"github.com/wonny/regtech-dq/pkg/logger"
)

// Options configure an Engine
type Options struct {
	Executor ExecutorOptions
	Weights  Weights
}

// OptionsFromConfig maps engine configuration to options.
// Malformed weights fail here, before any batch runs.
func OptionsFromConfig(cfg config.EngineConfig) (Options, error) {
	w, err := ParseWeights(cfg.Weights)
	if err != nil {
		return Options{}, err
	}
	return Options{Executor: ExecutorOptionsFromConfig(cfg), Weights: w}, nil
}

// Outcome is a successful batch run
type Outcome struct {
	Result    *contracts.ValidationResult
	Stats     contracts.ExecutionStats
	Tallies   Tallies
	Threshold contracts.QualityThreshold
	Snapshot  *rules.Snapshot
}

// Engine validates and scores exposure batches
// ⭐ SSOT: 배치 품질 판정은 Engine.Run 한 곳에서만
type Engine struct {
	catalog    *rules.Catalog
	thresholds contracts.ThresholdProvider
	executor   *Executor
	weights    Weights
	logger     *logger.Logger
	metrics    *Metrics
	now        func() time.Time
}

// New creates an engine. A nil threshold provider always uses the system defaults.
func New(catalog *rules.Catalog, thresholds contracts.ThresholdProvider, opts Options, log *logger.Logger, metrics *Metrics) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Weights == nil {
		opts.Weights = DefaultWeights()
	}
	return &Engine{
		catalog:    catalog,
		thresholds: thresholds,
		executor:   NewExecutor(opts.Executor, log),
		weights:    opts.Weights,
		logger:     log,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Run validates one batch: weights, thresholds, rule snapshot, execution, scoring, assembly.
// Any fatal error returns no result.
func (e *Engine) Run(ctx context.Context, batch contracts.Batch) (*Outcome, error) {
	start := time.Now()
	log := e.logger.WithBatch(batch.BatchID, batch.BankID)

	out, err := e.run(ctx, batch, log)
	if err != nil {
		e.metrics.ObserveBatch(outcomeLabel(err), time.Since(start))
		log.WithError(err).Error("Batch validation failed")
		return nil, err
	}

	e.metrics.ObserveBatch(OutcomeCompleted, time.Since(start))
	e.metrics.ObserveTallies(out.Stats, out.Tallies)
	log.WithFields(map[string]interface{}{
		"exposures":     out.Result.TotalExposures,
		"valid":         out.Result.ValidExposures,
		"overall_score": out.Result.Scores.Overall,
		"grade":         out.Result.Scores.Grade,
		"compliant":     out.Result.Scores.Compliance.Compliant,
		"rules_applied": out.Stats.RulesApplied,
		"elapsed_ms":    out.Stats.Elapsed.Milliseconds(),
	}).Info("Batch validated")
	return out, nil
}

func (e *Engine) run(ctx context.Context, batch contracts.Batch, log *logger.Logger) (*Outcome, error) {
	if strings.TrimSpace(batch.BatchID) == "" {
		return nil, fmt.Errorf("%w: batch id is required", contracts.ErrInvalidInput)
	}
	if e.catalog == nil {
		return nil, fmt.Errorf("%w: engine has no rule catalog", contracts.ErrInvalidInput)
	}

	// 1. 가중치 검증 (fail fast)
	if err := e.weights.Validate(); err != nil {
		return nil, err
	}

	asOf := batch.AsOf
	if asOf.IsZero() {
		asOf = contracts.DateOf(e.now())
	}

	// 2. 은행별 임계값
	th, err := e.threshold(ctx, batch.BankID, log)
	if err != nil {
		return nil, err
	}

	// 3. 룰 스냅샷 (배치 동안 불변)
	params := predicate.NewParams(map[string]predicate.Value{
		rules.BankTimelinessParam: predicate.Int(int64(th.TimelinessDays)),
	})
	snap, err := e.catalog.Snapshot(ctx, asOf, params)
	if err != nil {
		return nil, err
	}

	// 4. 실행
	exec, err := e.executor.Execute(ctx, batch.Exposures, snap)
	if err != nil {
		return nil, err
	}

	// 5. 점수
	scores, err := Score(exec.Tallies, len(batch.Exposures), e.weights, th)
	if err != nil {
		return nil, err
	}

	// 6. 결과 조립
	result, err := Assemble(batch.BatchID, batch.BankID, exec, &scores, snap.Hash)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Result:    result,
		Stats:     exec.Stats,
		Tallies:   exec.Tallies,
		Threshold: th,
		Snapshot:  snap,
	}, nil
}

// threshold loads the bank threshold, falling back to the defaults when none is configured
func (e *Engine) threshold(ctx context.Context, bankID string, log *logger.Logger) (contracts.QualityThreshold, error) {
	if e.thresholds == nil {
		return contracts.DefaultThreshold(bankID), nil
	}
	th, err := e.thresholds.ThresholdsFor(ctx, bankID)
	switch {
	case err == nil:
		return th, nil
	case errors.Is(err, contracts.ErrNotFound), errors.Is(err, contracts.ErrMissingThreshold):
		log.Warn("No quality threshold configured, using defaults")
		return contracts.DefaultThreshold(bankID), nil
	default:
		return contracts.QualityThreshold{}, fmt.Errorf("load thresholds: %w", err)
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, contracts.ErrEngineTimeout):
		return OutcomeTimeout
	case errors.Is(err, contracts.ErrBatchCancelled):
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}
