package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/internal/predicate"
	"github.com/wonny/regtech-dq/internal/rules"
	"github.com/wonny/regtech-dq/pkg/config"
	"github.com/wonny/regtech-dq/pkg/logger"
)

// Executor defaults
const (
	DefaultWorkers   = 4
	DefaultChunkSize = 512
	DefaultTimeout   = 5 * time.Minute
)

var errTimeoutCause = errors.New("engine wall-clock guard expired")

// ExecutorOptions tune the worker pool
type ExecutorOptions struct {
	Workers   int
	ChunkSize int
	// Timeout bounds one batch; 0 disables the guard
	Timeout time.Duration
	// EvaluateStructural runs rules that do not read a broken field on structurally invalid records
	EvaluateStructural bool
}

// ExecutorOptionsFromConfig maps engine configuration to executor options
func ExecutorOptionsFromConfig(cfg config.EngineConfig) ExecutorOptions {
	return ExecutorOptions{
		Workers:            cfg.Workers,
		ChunkSize:          cfg.ChunkSize,
		Timeout:            cfg.Timeout,
		EvaluateStructural: cfg.EvaluateStructural,
	}
}

func (o ExecutorOptions) withDefaults() ExecutorOptions {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Timeout < 0 {
		o.Timeout = 0
	}
	return o
}

// Execution is the raw outcome of running a snapshot over a batch
type Execution struct {
	// Results are in input order
	Results     []contracts.ExposureResult
	BatchErrors []contracts.ValidationError
	Tallies     Tallies
	Stats       contracts.ExecutionStats
	Valid       int
	Invalid     int
}

// Executor evaluates compiled rules over exposures on a bounded worker pool
type Executor struct {
	opts   ExecutorOptions
	logger *logger.Logger
}

// NewExecutor creates an executor
func NewExecutor(opts ExecutorOptions, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Nop()
	}
	return &Executor{opts: opts.withDefaults(), logger: log}
}

// Options returns the effective options
func (x *Executor) Options() ExecutorOptions {
	return x.opts
}

// partial is the state owned by one chunk worker
type partial struct {
	acc   *Accumulator
	stats contracts.ExecutionStats
}

func newPartial() *partial {
	return &partial{
		acc:   NewAccumulator(),
		stats: contracts.ExecutionStats{PerRule: make(map[string]*contracts.RuleExecutionCount)},
	}
}

func (p *partial) rule(code string) *contracts.RuleExecutionCount {
	c, ok := p.stats.PerRule[code]
	if !ok {
		c = &contracts.RuleExecutionCount{}
		p.stats.PerRule[code] = c
	}
	return c
}

// Execute runs the snapshot over the exposures.
// Scheduling stops when ctx is done; an exposure already under evaluation finishes first.
// A guard timeout returns *contracts.EngineTimeoutError, caller cancellation ErrBatchCancelled.
func (x *Executor) Execute(ctx context.Context, exposures []contracts.ExposureRecord, snap *rules.Snapshot) (*Execution, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil rule snapshot", contracts.ErrInvalidInput)
	}

	start := time.Now()
	runCtx := ctx
	if x.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, x.opts.Timeout, errTimeoutCause)
		defer cancel()
	}

	n := len(exposures)
	asOf := snap.AsOf
	results := make([]contracts.ExposureResult, n)

	// 1. 구조 사전검사 (배치 체크가 사용할 수 있는 레코드 판정)
	structural := make([]structuralResult, n)
	usable := make([]bool, n)
	for i := range exposures {
		structural[i] = checkStructure(&exposures[i])
		usable[i] = !structural[i].failed() || x.opts.EvaluateStructural
	}

	// 2. 배치 체크 (중복) - 단일 순차 패스
	batch := make([]*batchCheckResult, len(snap.Rules))
	head := newPartial()
	var batchErrors []contracts.ValidationError
	for ri, cr := range snap.Rules {
		if !cr.Rule.IsBatchCheck() {
			continue
		}
		if err := runCtx.Err(); err != nil {
			return nil, x.stopError(ctx, runCtx, head.stats, start)
		}
		res := runBatchCheck(cr, exposures, usable, asOf)
		batch[ri] = &res

		count := head.rule(cr.Rule.RuleCode)
		count.Add(res.counts)
		head.stats.RulesEvaluated += res.counts.Passed + res.counts.Failed
		head.stats.ViolationsFound += res.counts.Failed
		head.stats.ExemptionsApplied += res.exemptions
		if res.finding != nil {
			batchErrors = append(batchErrors, *res.finding)
			head.acc.AddBatchFinding(*res.finding)
		}
	}

	// 3. 청크 단위 병렬 평가
	chunks := (n + x.opts.ChunkSize - 1) / x.opts.ChunkSize
	partials := make([]*partial, chunks)
	builder := predicate.NewContextBuilder(asOf)

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(x.opts.Workers)
	scheduled := 0
	for c := 0; c < chunks; c++ {
		if runCtx.Err() != nil {
			break
		}
		scheduled++
		c := c
		lo := c * x.opts.ChunkSize
		hi := min(lo+x.opts.ChunkSize, n)
		p := newPartial()
		partials[c] = p

		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = x.evaluate(i, &exposures[i], structural[i], snap, builder, batch, p)
				p.acc.Add(&results[i])
				p.stats.ExposuresProcessed++
			}
			return nil
		})
	}
	waitErr := g.Wait()

	merged := head
	for _, p := range partials {
		if p == nil {
			continue
		}
		merged.acc.Merge(p.acc)
		merged.stats.Merge(p.stats)
	}
	merged.stats.RulesApplied = len(snap.Rules)
	merged.stats.RulesSkipped = snap.Skipped

	if waitErr != nil || scheduled < chunks {
		return nil, x.stopError(ctx, runCtx, merged.stats, start)
	}

	merged.stats.Elapsed = time.Since(start)
	x.logger.WithFields(map[string]interface{}{
		"exposures":  n,
		"chunks":     chunks,
		"workers":    x.opts.Workers,
		"violations": merged.stats.ViolationsFound,
		"elapsed_ms": merged.stats.Elapsed.Milliseconds(),
	}).Debug("Batch rules executed")
	return &Execution{
		Results:     results,
		BatchErrors: batchErrors,
		Tallies:     merged.acc.Tallies(),
		Stats:       merged.stats,
		Valid:       int(merged.acc.Valid()),
		Invalid:     int(merged.acc.Invalid()),
	}, nil
}

// stopError classifies an interrupted run
func (x *Executor) stopError(parent, runCtx context.Context, stats contracts.ExecutionStats, start time.Time) error {
	stats.Elapsed = time.Since(start)
	if parent.Err() != nil {
		return fmt.Errorf("%w: %v", contracts.ErrBatchCancelled, parent.Err())
	}
	if errors.Is(context.Cause(runCtx), errTimeoutCause) {
		return &contracts.EngineTimeoutError{Stats: stats}
	}
	return fmt.Errorf("%w: %v", contracts.ErrBatchCancelled, runCtx.Err())
}

// evaluate runs every rule of the snapshot against one exposure in execution order
func (x *Executor) evaluate(
	i int,
	e *contracts.ExposureRecord,
	sr structuralResult,
	snap *rules.Snapshot,
	builder *predicate.ContextBuilder,
	batch []*batchCheckResult,
	p *partial,
) contracts.ExposureResult {
	res := contracts.ExposureResult{
		Index:      i,
		ExposureID: e.ExposureID,
		Errors:     make([]contracts.ValidationError, 0, len(sr.errors)),
	}
	res.Errors = append(res.Errors, sr.errors...)

	if sr.failed() {
		res.Structural = true
		p.stats.StructuralErrors += int64(len(sr.errors))
		if !x.opts.EvaluateStructural {
			for _, cr := range snap.Rules {
				if !cr.Rule.IsBatchCheck() {
					p.rule(cr.Rule.RuleCode).Skipped++
				}
			}
			res.Valid = false
			return res
		}
	}

	fields := builder.Fields(e)
	for ri, cr := range snap.Rules {
		if cr.Rule.IsBatchCheck() {
			if b := batch[ri]; b != nil {
				if v, ok := b.perExposure[i]; ok {
					res.Errors = append(res.Errors, v)
				}
			}
			continue
		}

		count := p.rule(cr.Rule.RuleCode)
		if sr.failed() && sr.touches(cr) {
			count.Skipped++
			continue
		}
		if cr.Rule.ExemptFor(e, snap.AsOf) {
			count.Skipped++
			p.stats.ExemptionsApplied++
			continue
		}

		p.stats.RulesEvaluated++
		if cr.IsBroken() {
			count.Errored++
			p.stats.EvaluationErrors++
			res.NotEvaluated = append(res.NotEvaluated, cr.Rule.RuleCode)
			res.Errors = append(res.Errors, evaluationError(e, cr, cr.Broken))
			continue
		}

		out := cr.Program.Eval(fields.WithParams(cr.Params))
		switch out.Status {
		case predicate.StatusPass:
			count.Passed++
		case predicate.StatusViolation:
			count.Failed++
			p.stats.ViolationsFound++
			res.Errors = append(res.Errors, contracts.ValidationError{
				ExposureID: e.ExposureID,
				Dimension:  cr.Rule.Dimension,
				RuleCode:   cr.Rule.RuleCode,
				Message:    messageFor(cr),
				FieldName:  cr.Rule.FieldName,
				Severity:   cr.Rule.Severity,
				Kind:       contracts.KindViolation,
			})
		default:
			count.Errored++
			p.stats.EvaluationErrors++
			res.NotEvaluated = append(res.NotEvaluated, cr.Rule.RuleCode)
			res.Errors = append(res.Errors, evaluationError(e, cr, out.Err))
		}
	}

	res.Valid = true
	for _, ve := range res.Errors {
		if ve.CountsAgainstQuality() {
			res.Valid = false
			break
		}
	}
	return res
}

func evaluationError(e *contracts.ExposureRecord, cr *rules.CompiledRule, err error) contracts.ValidationError {
	return contracts.ValidationError{
		ExposureID: e.ExposureID,
		Dimension:  cr.Rule.Dimension,
		RuleCode:   cr.Rule.RuleCode,
		Message:    fmt.Sprintf("rule could not be evaluated: %v", err),
		FieldName:  cr.Rule.FieldName,
		Severity:   cr.Rule.Severity,
		Kind:       contracts.KindEvaluationError,
	}
}
