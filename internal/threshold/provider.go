package threshold

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/pkg/logger"
	"github.com/wonny/regtech-dq/pkg/redis"
)

// Store reads and versions bank thresholds
type Store interface {
	Active(ctx context.Context, bankID string) (contracts.QualityThreshold, error)
	Save(ctx context.Context, th contracts.QualityThreshold) (contracts.QualityThreshold, error)
	History(ctx context.Context, bankID string) ([]contracts.QualityThreshold, error)
}

// Provider serves the active threshold of a bank.
// A bank without a configured row gets the system defaults.
type Provider struct {
	store  Store
	cache  *redis.Cache
	ttl    time.Duration
	logger *logger.Logger
}

// NewProvider creates a provider. cache may be nil.
func NewProvider(store Store, cache *redis.Cache, log *logger.Logger) *Provider {
	if log == nil {
		log = logger.Nop()
	}
	return &Provider{store: store, cache: cache, ttl: redis.TTLLong, logger: log}
}

// ThresholdsFor returns the active threshold, or the defaults when none is configured
func (p *Provider) ThresholdsFor(ctx context.Context, bankID string) (contracts.QualityThreshold, error) {
	var th contracts.QualityThreshold
	load := func() (interface{}, error) {
		return p.store.Active(ctx, bankID)
	}

	var err error
	if p.cache != nil {
		err = p.cache.GetOrSet(ctx, redis.ThresholdKey(bankID), &th, p.ttl, load)
	} else {
		var v interface{}
		v, err = load()
		if err == nil {
			th = v.(contracts.QualityThreshold)
		}
	}

	switch {
	case err == nil:
		th.Source = contracts.ThresholdSourceConfigured
		return th, nil
	case errors.Is(err, contracts.ErrNotFound):
		p.logger.WithField("bank_id", bankID).Warn("No active quality threshold, using system defaults")
		return contracts.DefaultThreshold(bankID), nil
	default:
		return contracts.QualityThreshold{}, fmt.Errorf("load threshold for %s: %w", bankID, err)
	}
}

// Save validates and stores a new threshold version, then drops the cached entry
func (p *Provider) Save(ctx context.Context, th contracts.QualityThreshold) (contracts.QualityThreshold, error) {
	if err := Validate(th); err != nil {
		return contracts.QualityThreshold{}, err
	}
	saved, err := p.store.Save(ctx, th)
	if err != nil {
		return contracts.QualityThreshold{}, err
	}
	if p.cache != nil {
		if err := p.cache.Delete(ctx, redis.ThresholdKey(th.BankID)); err != nil {
			p.logger.WithError(err).Warn("Failed to invalidate threshold cache")
		}
	}
	p.logger.WithFields(map[string]interface{}{
		"bank_id": saved.BankID,
		"version": saved.Version,
	}).Info("Quality threshold saved")
	return saved, nil
}

// History lists every stored version, newest first
func (p *Provider) History(ctx context.Context, bankID string) ([]contracts.QualityThreshold, error) {
	return p.store.History(ctx, bankID)
}

// Validate checks a threshold row before it is stored
func Validate(th contracts.QualityThreshold) error {
	percent := func(field string, v float64) error {
		if v < 0 || v > 100 {
			return contracts.ConfigurationError{Field: field, Message: fmt.Sprintf("must be within [0, 100], got %v", v)}
		}
		return nil
	}

	if strings.TrimSpace(th.BankID) == "" {
		return contracts.ConfigurationError{Field: "bank_id", Message: "required"}
	}
	if err := percent("completeness_min_percent", th.CompletenessMinPercent); err != nil {
		return err
	}
	if err := percent("accuracy_max_error_percent", th.AccuracyMaxErrorPercent); err != nil {
		return err
	}
	if err := percent("consistency_percent", th.ConsistencyPercent); err != nil {
		return err
	}
	if err := percent("compliance_cutoff", th.ComplianceCutoff); err != nil {
		return err
	}
	if th.TimelinessDays < 0 {
		return contracts.ConfigurationError{Field: "timeliness_days", Message: "must not be negative"}
	}
	return nil
}
