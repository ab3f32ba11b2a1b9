package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/pkg/logger"
	"github.com/wonny/regtech-dq/pkg/redis"
)

// StaticSource serves a fixed rule list
type StaticSource struct {
	rules []contracts.BusinessRule
}

// NewStaticSource wraps rules
func NewStaticSource(rules []contracts.BusinessRule) *StaticSource {
	return &StaticSource{rules: rules}
}

// DefaultSource serves the seeded catalog
func DefaultSource() *StaticSource {
	return NewStaticSource(DefaultRules())
}

// LoadRules returns a copy of the rule list
func (s *StaticSource) LoadRules(_ context.Context) ([]contracts.BusinessRule, error) {
	out := make([]contracts.BusinessRule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

// CachedSource reads rules through the Redis JSON cache
type CachedSource struct {
	inner  contracts.RuleSource
	cache  *redis.Cache
	ttl    time.Duration
	logger *logger.Logger
}

// NewCachedSource wraps inner with a read-through cache. A disabled Redis client passes through.
func NewCachedSource(inner contracts.RuleSource, cache *redis.Cache, ttl time.Duration, log *logger.Logger) *CachedSource {
	if ttl <= 0 {
		ttl = redis.TTLRules
	}
	return &CachedSource{inner: inner, cache: cache, ttl: ttl, logger: log}
}

// LoadRules serves the cached catalog or loads and caches it
func (s *CachedSource) LoadRules(ctx context.Context) ([]contracts.BusinessRule, error) {
	var rules []contracts.BusinessRule
	err := s.cache.GetOrSet(ctx, redis.RuleCatalogKey(), &rules, s.ttl, func() (interface{}, error) {
		return s.inner.LoadRules(ctx)
	})
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// Refresh reloads the inner source and overwrites the cache entry
func (s *CachedSource) Refresh(ctx context.Context) ([]contracts.BusinessRule, error) {
	rules, err := s.inner.LoadRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("reload rules: %w", err)
	}
	if err := s.cache.Set(ctx, redis.RuleCatalogKey(), rules, s.ttl); err != nil && s.logger != nil {
		s.logger.WithError(err).Warn("Failed to refresh rule cache")
	}
	return rules, nil
}

// Invalidate drops the cached catalog
func (s *CachedSource) Invalidate(ctx context.Context) error {
	return s.cache.Delete(ctx, redis.RuleCatalogKey())
}
