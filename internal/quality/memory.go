package quality

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wonny/regtech-dq/internal/contracts"
)

// MemoryRepository keeps reports and rule outcomes in process memory.
// It backs `dq validate` without a database and the service tests.
type MemoryRepository struct {
	mu         sync.RWMutex
	reports    map[string]*contracts.QualityReport
	logs       []contracts.RuleExecutionLog
	violations []contracts.RuleViolation
	now        func() time.Time
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		reports: make(map[string]*contracts.QualityReport),
		now:     time.Now,
	}
}

func (m *MemoryRepository) GetReport(_ context.Context, batchID string) (*contracts.QualityReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rep, ok := m.reports[batchID]
	if !ok {
		return nil, contracts.ErrNotFound
	}
	cp := *rep
	return &cp, nil
}

func (m *MemoryRepository) StartReport(_ context.Context, batchID, bankID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	rep, ok := m.reports[batchID]
	if !ok {
		rep = &contracts.QualityReport{BatchID: batchID, CreatedAt: now}
		m.reports[batchID] = rep
	}
	rep.BankID = bankID
	rep.Status = contracts.ReportInProgress
	rep.ErrorMessage = ""
	rep.UpdatedAt = now
	return nil
}

func (m *MemoryRepository) CompleteReport(_ context.Context, report *contracts.QualityReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep, ok := m.reports[report.BatchID]
	if !ok {
		return contracts.ErrNotFound
	}
	createdAt := rep.CreatedAt
	*rep = *report
	rep.Status = contracts.ReportCompleted
	rep.CreatedAt = createdAt
	rep.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryRepository) FailReport(_ context.Context, batchID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep, ok := m.reports[batchID]
	if !ok {
		return contracts.ErrNotFound
	}
	rep.Status = contracts.ReportFailed
	rep.ErrorMessage = message
	rep.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryRepository) ListStale(_ context.Context, olderThan time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stale []*contracts.QualityReport
	for _, rep := range m.reports {
		if rep.Status == contracts.ReportInProgress && rep.UpdatedAt.Before(olderThan) {
			stale = append(stale, rep)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		if stale[i].UpdatedAt.Equal(stale[j].UpdatedAt) {
			return stale[i].BatchID < stale[j].BatchID
		}
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	ids := make([]string, len(stale))
	for i, rep := range stale {
		ids[i] = rep.BatchID
	}
	return ids, nil
}

func (m *MemoryRepository) ListByBank(_ context.Context, bankID string, from, to time.Time, limit int) ([]contracts.QualityReport, error) {
	if limit <= 0 {
		limit = DefaultTrendLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []contracts.QualityReport
	for _, rep := range m.reports {
		if rep.BankID != bankID || rep.Status != contracts.ReportCompleted {
			continue
		}
		if !from.IsZero() && rep.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !rep.CreatedAt.Before(to) {
			continue
		}
		out = append(out, *rep)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].BatchID < out[j].BatchID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) SaveExecutionLogs(_ context.Context, logs []contracts.RuleExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, logs...)
	return nil
}

func (m *MemoryRepository) SaveViolations(_ context.Context, violations []contracts.RuleViolation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations = append(m.violations, violations...)
	return nil
}

// ExecutionLogs returns a copy of the stored execution log rows
func (m *MemoryRepository) ExecutionLogs() []contracts.RuleExecutionLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]contracts.RuleExecutionLog(nil), m.logs...)
}

// ViolationsFor returns the stored violations of a batch
func (m *MemoryRepository) ViolationsFor(_ context.Context, batchID string) ([]contracts.RuleViolation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []contracts.RuleViolation
	for _, v := range m.violations {
		if v.BatchID == batchID {
			out = append(out, v)
		}
	}
	return out, nil
}
