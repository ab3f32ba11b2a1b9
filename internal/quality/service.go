package quality

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/internal/engine"
	"github.com/wonny/regtech-dq/pkg/logger"
)

// Runner validates one batch. *engine.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, batch contracts.Batch) (*engine.Outcome, error)
}

// Command asks for one batch to be validated and persisted
type Command struct {
	BatchID       string
	BankID        string
	AsOf          contracts.Date
	Exposures     []contracts.ExposureRecord
	CorrelationID string
}

// Result is what ValidateBatch hands back
type Result struct {
	Report  *contracts.QualityReport
	Outcome *engine.Outcome // nil when the batch was already processed
}

// Service runs the engine and records the outcome in every sink
// ⭐ SSOT: 배치 품질 처리 흐름 (멱등성, 저장, 이벤트)
type Service struct {
	engine     Runner
	reports    contracts.ReportRepository
	violations contracts.ViolationWriter
	details    contracts.DetailStore
	events     contracts.EventPublisher
	logger     *logger.Logger
	now        func() time.Time
}

// NewService wires the service. violations, details and events may be nil.
func NewService(
	runner Runner,
	reports contracts.ReportRepository,
	violations contracts.ViolationWriter,
	details contracts.DetailStore,
	events contracts.EventPublisher,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		engine:     runner,
		reports:    reports,
		violations: violations,
		details:    details,
		events:     events,
		logger:     log,
		now:        time.Now,
	}
}

// ValidateBatch processes a batch exactly once.
// A batch already COMPLETED or FAILED returns ErrAlreadyProcessed with the stored report.
func (s *Service) ValidateBatch(ctx context.Context, cmd Command) (*Result, error) {
	if strings.TrimSpace(cmd.BatchID) == "" {
		return nil, fmt.Errorf("%w: batch id is required", contracts.ErrInvalidInput)
	}
	log := s.logger.WithBatch(cmd.BatchID, cmd.BankID)

	// 1. 멱등성 체크
	existing, err := s.reports.GetReport(ctx, cmd.BatchID)
	switch {
	case err == nil && existing.Status.IsTerminal():
		log.WithField("status", existing.Status).Info("Batch already processed, skipping")
		return &Result{Report: existing}, contracts.ErrAlreadyProcessed
	case err != nil && !errors.Is(err, contracts.ErrNotFound):
		return nil, fmt.Errorf("get report: %w", err)
	}

	// 2. IN_PROGRESS
	if err := s.reports.StartReport(ctx, cmd.BatchID, cmd.BankID); err != nil {
		return nil, fmt.Errorf("start report: %w", err)
	}

	// 3. 엔진 실행
	out, err := s.engine.Run(ctx, contracts.Batch{
		BatchID:   cmd.BatchID,
		BankID:    cmd.BankID,
		AsOf:      cmd.AsOf,
		Exposures: cmd.Exposures,
	})
	if err != nil {
		s.fail(ctx, cmd, err, log)
		return nil, err
	}

	// 4. 상세 결과 (cold storage)
	var reference string
	if s.details != nil {
		reference, err = s.details.StoreDetails(ctx, out.Result)
		if err != nil {
			err = fmt.Errorf("store details: %w", err)
			s.fail(ctx, cmd, err, log)
			return nil, err
		}
	}

	// 5. 요약, 실행 로그, 위반 저장
	report := s.reportFor(out, reference)
	if err := s.reports.CompleteReport(ctx, report); err != nil {
		err = fmt.Errorf("complete report: %w", err)
		s.fail(ctx, cmd, err, log)
		return nil, err
	}
	if s.violations != nil {
		if err := s.persistRuleOutcomes(ctx, cmd.BatchID, out); err != nil {
			// 요약은 이미 저장됨; 감사 행 실패는 배치를 되돌리지 않는다
			log.WithError(err).Error("Failed to persist rule execution log")
		}
	}

	// 6. 완료 이벤트
	if s.events != nil {
		event := contracts.BatchQualityCompleted{
			BatchID:          cmd.BatchID,
			BankID:           cmd.BankID,
			OverallScore:     out.Result.Scores.Overall,
			Grade:            out.Result.Scores.Grade,
			Compliant:        out.Result.Scores.Compliance.Compliant,
			DimensionScores:  out.Result.DimensionScores,
			DetailsReference: reference,
			CorrelationID:    cmd.CorrelationID,
		}
		if err := s.events.PublishCompleted(ctx, event); err != nil {
			log.WithError(err).Warn("Failed to publish completion event")
		}
	}

	return &Result{Report: report, Outcome: out}, nil
}

// fail marks the report FAILED and announces it. Errors here are logged only.
func (s *Service) fail(ctx context.Context, cmd Command, cause error, log *logger.Logger) {
	// 취소된 ctx로도 상태 기록은 남긴다
	ctx = context.WithoutCancel(ctx)

	if err := s.reports.FailReport(ctx, cmd.BatchID, cause.Error()); err != nil {
		log.WithError(err).Error("Failed to mark report as failed")
	}
	if s.events == nil {
		return
	}
	event := contracts.BatchQualityFailed{
		BatchID:       cmd.BatchID,
		BankID:        cmd.BankID,
		ErrorMessage:  cause.Error(),
		CorrelationID: cmd.CorrelationID,
	}
	if err := s.events.PublishFailed(ctx, event); err != nil {
		log.WithError(err).Warn("Failed to publish failure event")
	}
}

func (s *Service) reportFor(out *engine.Outcome, reference string) *contracts.QualityReport {
	res := out.Result
	scores := res.Scores
	return &contracts.QualityReport{
		BatchID:          res.BatchID,
		BankID:           res.BankID,
		Status:           contracts.ReportCompleted,
		TotalExposures:   res.TotalExposures,
		ValidExposures:   res.ValidExposures,
		TotalErrors:      res.TotalErrors(),
		Scores:           &scores,
		ErrorCounts:      res.ErrorCounts,
		DimensionScores:  res.DimensionScores,
		DetailsReference: reference,
		RuleSnapshotHash: res.RuleSnapshotHash,
		UpdatedAt:        s.now().UTC(),
	}
}

// persistRuleOutcomes writes one execution log row per applied rule and the violations that reference them
func (s *Service) persistRuleOutcomes(ctx context.Context, batchID string, out *engine.Outcome) error {
	executedAt := s.now().UTC()
	logs, executionIDs, ruleIDs := ExecutionLogs(batchID, out, executedAt)

	if err := s.violations.SaveExecutionLogs(ctx, logs); err != nil {
		return fmt.Errorf("save execution logs: %w", err)
	}
	violations := Violations(batchID, out.Result, executionIDs, ruleIDs, executedAt)
	if err := s.violations.SaveViolations(ctx, violations); err != nil {
		return fmt.Errorf("save violations: %w", err)
	}
	return nil
}

// ExecutionLogs builds the per-rule rows of a batch in snapshot order.
// It also returns rule code → execution id and rule code → rule id lookups.
func ExecutionLogs(batchID string, out *engine.Outcome, executedAt time.Time) ([]contracts.RuleExecutionLog, map[string]string, map[string]string) {
	if out.Snapshot == nil {
		return nil, map[string]string{}, map[string]string{}
	}
	logs := make([]contracts.RuleExecutionLog, 0, len(out.Snapshot.Rules))
	executionIDs := make(map[string]string, len(out.Snapshot.Rules))
	ruleIDs := make(map[string]string, len(out.Snapshot.Rules))

	for _, cr := range out.Snapshot.Rules {
		code := cr.Rule.RuleCode
		id := uuid.NewString()
		executionIDs[code] = id
		ruleIDs[code] = cr.Rule.RuleID

		var counts contracts.RuleExecutionCount
		if c, ok := out.Stats.PerRule[code]; ok && c != nil {
			counts = *c
		}
		logs = append(logs, contracts.RuleExecutionLog{
			ExecutionID: id,
			BatchID:     batchID,
			RuleID:      cr.Rule.RuleID,
			RuleCode:    code,
			Counts:      counts,
			ExecutedAt:  executedAt,
		})
	}
	return logs, executionIDs, ruleIDs
}

// Violations flattens the quality-lowering errors of a result into persisted rows.
// Structural errors have no rule row, so their execution id stays nil and the code doubles as rule id.
func Violations(batchID string, res *contracts.ValidationResult, executionIDs, ruleIDs map[string]string, detectedAt time.Time) []contracts.RuleViolation {
	var out []contracts.RuleViolation
	for _, er := range res.ExposureResults {
		for _, ve := range er.Errors {
			if !ve.CountsAgainstQuality() {
				continue
			}
			v := contracts.RuleViolation{
				BatchID:    batchID,
				RuleID:     ve.RuleCode,
				RuleCode:   ve.RuleCode,
				ExposureID: ve.ExposureID,
				Dimension:  ve.Dimension,
				Severity:   ve.Severity,
				Message:    ve.Message,
				FieldName:  ve.FieldName,
				DetectedAt: detectedAt,
			}
			if id, ok := executionIDs[ve.RuleCode]; ok {
				execID := id
				v.ExecutionID = &execID
			}
			if id, ok := ruleIDs[ve.RuleCode]; ok && id != "" {
				v.RuleID = id
			}
			out = append(out, v)
		}
	}
	return out
}
