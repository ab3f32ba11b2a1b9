package threshold

import (
	"context"
	"sync"
	"time"

	"github.com/wonny/regtech-dq/internal/contracts"
)

// MemoryStore keeps threshold versions in process memory (CLI, tests)
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[string][]contracts.QualityThreshold
	now      func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: make(map[string][]contracts.QualityThreshold),
		now:      time.Now,
	}
}

// Active returns the latest active version
func (m *MemoryStore) Active(_ context.Context, bankID string) (contracts.QualityThreshold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vs := m.versions[bankID]
	for i := len(vs) - 1; i >= 0; i-- {
		if vs[i].Active {
			return vs[i], nil
		}
	}
	return contracts.QualityThreshold{}, contracts.ErrNotFound
}

// Save appends the next version and deactivates the previous ones
func (m *MemoryStore) Save(_ context.Context, th contracts.QualityThreshold) (contracts.QualityThreshold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vs := m.versions[th.BankID]
	for i := range vs {
		vs[i].Active = false
	}
	th.Version = len(vs) + 1
	th.Active = true
	th.EffectiveFrom = m.now()
	th.Source = contracts.ThresholdSourceConfigured
	m.versions[th.BankID] = append(vs, th)
	return th, nil
}

// History returns every version, newest first
func (m *MemoryStore) History(_ context.Context, bankID string) ([]contracts.QualityThreshold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vs := m.versions[bankID]
	out := make([]contracts.QualityThreshold, 0, len(vs))
	for i := len(vs) - 1; i >= 0; i-- {
		out = append(out, vs[i])
	}
	return out, nil
}
