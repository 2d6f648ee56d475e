// Package settings exposes the system_settings table to the pipeline as a
// read-only typed view. Admin tooling writes tunables through the narrower
// Writer interface; workers are constructed against Reader and can never
// mutate configuration.
package settings

import (
	"context"
	"strconv"
	"sync"
	"time"

	"signal-pipeline/internal/database"
)

// Well-known setting keys. Values are seeded by admin tooling; every getter
// takes a default so missing keys degrade to configured behavior.
const (
	KeyCooldownDuration   = "cooldown.duration"
	KeyRegimePollInterval = "regime.poll_interval"
	KeyRegimeFallback     = "regime.fallback_value"
	KeyMonitorInterval    = "monitor.poll_interval"
	KeyDefaultLeverage    = "execution.default_leverage"
	KeyAdminTokenHash     = "api.admin_token_hash"
	KeyWebhookToken       = "signal.webhook_token"
)

// PlanCommissionKey returns the commission-rate setting key for a plan
func PlanCommissionKey(plan string) string {
	return "settlement.commission_rate." + plan
}

// AffiliateRateKey returns the affiliate-rate setting key for a tier
func AffiliateRateKey(tier string) string {
	return "settlement.affiliate_rate." + tier
}

// Reader is the read-only view injected into pipeline workers
type Reader interface {
	GetString(ctx context.Context, key, def string) string
	GetInt(ctx context.Context, key string, def int) int
	GetFloat(ctx context.Context, key string, def float64) float64
	GetBool(ctx context.Context, key string, def bool) bool
	GetDuration(ctx context.Context, key string, def time.Duration) time.Duration
}

// Writer is the narrow mutation surface reserved for admin tooling
type Writer interface {
	Set(ctx context.Context, key, value, valueType, updatedBy string) error
}

// cacheTTL bounds how stale a read can be after an admin write
const cacheTTL = 30 * time.Second

type cachedValue struct {
	value    string
	found    bool
	cachedAt time.Time
}

// Service reads type-tagged settings with a small TTL cache.
// Implements both Reader and Writer.
type Service struct {
	repo  *database.Repository
	mu    sync.RWMutex
	cache map[string]cachedValue
}

// NewService creates a settings service backed by the repository
func NewService(repo *database.Repository) *Service {
	return &Service{
		repo:  repo,
		cache: make(map[string]cachedValue),
	}
}

func (s *Service) lookup(ctx context.Context, key string) (string, bool) {
	s.mu.RLock()
	if cached, ok := s.cache[key]; ok && time.Since(cached.cachedAt) < cacheTTL {
		s.mu.RUnlock()
		return cached.value, cached.found
	}
	s.mu.RUnlock()

	setting, err := s.repo.GetSystemSetting(ctx, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		// Cache misses too, so a missing key does not hammer the database
		s.cache[key] = cachedValue{cachedAt: time.Now()}
		return "", false
	}
	s.cache[key] = cachedValue{value: setting.Value, found: true, cachedAt: time.Now()}
	return setting.Value, true
}

// GetString returns a string setting or the default
func (s *Service) GetString(ctx context.Context, key, def string) string {
	if value, ok := s.lookup(ctx, key); ok {
		return value
	}
	return def
}

// GetInt returns an integer setting or the default
func (s *Service) GetInt(ctx context.Context, key string, def int) int {
	if value, ok := s.lookup(ctx, key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return def
}

// GetFloat returns a float setting or the default
func (s *Service) GetFloat(ctx context.Context, key string, def float64) float64 {
	if value, ok := s.lookup(ctx, key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return def
}

// GetBool returns a boolean setting or the default
func (s *Service) GetBool(ctx context.Context, key string, def bool) bool {
	if value, ok := s.lookup(ctx, key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return def
}

// GetDuration returns a duration setting or the default
func (s *Service) GetDuration(ctx context.Context, key string, def time.Duration) time.Duration {
	if value, ok := s.lookup(ctx, key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return def
}

// Set writes a setting and invalidates its cache entry
func (s *Service) Set(ctx context.Context, key, value, valueType, updatedBy string) error {
	var by *string
	if updatedBy != "" {
		by = &updatedBy
	}
	err := s.repo.UpsertSystemSetting(ctx, &database.SystemSetting{
		Key:       key,
		Value:     value,
		ValueType: valueType,
		UpdatedBy: by,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	return nil
}
