// Package license implements the control plane's admission policy:
// which tier is active, how many agents it permits to be controlled,
// and which already-registered systems fall outside that limit.
package license

import (
	"sync"
	"time"

	"github.com/anexgohan/pankha/internal/logger"
	"github.com/anexgohan/pankha/internal/models"
	"github.com/anexgohan/pankha/internal/store"
)

// cacheValidity bounds how long a cached decision is authoritative
// without re-validation.
const cacheValidity = 24 * time.Hour

// tierLimits maps a known tier to its agent limit (nil = unlimited)
// and history retention window, used only as a fallback when no cache
// row exists yet (e.g. a fresh install before the validator has run).
var tierLimits = map[models.LicenseTier]struct {
	agentLimit    *int
	retentionDays int
}{
	models.TierCommunity:  {agentLimit: intPtr(1), retentionDays: 7},
	models.TierPro:        {agentLimit: intPtr(10), retentionDays: 30},
	models.TierEnterprise: {agentLimit: nil, retentionDays: 90},
}

func intPtr(v int) *int { return &v }

// Validator checks a license key against a remote authority. The
// production implementation calls out to LICENSE_VALIDATOR_URL; tests
// supply a stub.
type Validator interface {
	Validate(licenseKey string) (*models.LicenseCache, error)
}

// Policy holds the current license decision and answers admission
// questions for the dispatcher, controller, and HTTP layer.
type Policy struct {
	database  *store.Database
	validator Validator

	mu      sync.RWMutex
	current *models.LicenseCache

	// OnChanged is invoked whenever the effective license decision
	// changes, so the broadcast package can emit licenseChanged.
	OnChanged func(l *models.LicenseCache)
}

// New loads the cached license row (if any) and returns a ready Policy.
// Pass a nil Validator to run without a remote authority — useful for
// a community install with no license key configured, where the
// default community tier's cache row seeds the policy.
func New(database *store.Database, validator Validator) (*Policy, error) {
	p := &Policy{database: database, validator: validator}

	cached, err := database.GetLicenseCache("current")
	if err != nil {
		cached = defaultCommunityLicense()
		if saveErr := database.SaveLicenseCache(cached); saveErr != nil {
			return nil, saveErr
		}
	}
	p.current = cached
	return p, nil
}

func defaultCommunityLicense() *models.LicenseCache {
	limits := tierLimits[models.TierCommunity]
	return &models.LicenseCache{
		ID:              "current",
		Tier:            models.TierCommunity,
		AgentLimit:      limits.agentLimit,
		RetentionDays:   limits.retentionDays,
		Valid:           true,
		LastValidatedAt: time.Now(),
	}
}

// Current returns the currently effective license decision.
func (p *Policy) Current() *models.LicenseCache {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Revalidate re-checks the license if the cache has aged past 24
// hours. On an unreachable validator it keeps the stale cache and logs
// a LicenseError-class warning rather than dropping admission.
func (p *Policy) Revalidate() {
	p.mu.RLock()
	stale := time.Since(p.current.LastValidatedAt) > cacheValidity
	key := p.current.LicenseKey
	p.mu.RUnlock()

	if !stale || p.validator == nil || key == "" {
		return
	}

	fresh, err := p.validator.Validate(key)
	if err != nil {
		logger.License().Warn().Err(err).Msg("license validator unreachable, honoring cached decision")
		return
	}

	p.mu.Lock()
	changed := !sameDecision(p.current, fresh)
	p.current = fresh
	p.mu.Unlock()

	if err := p.database.SaveLicenseCache(fresh); err != nil {
		logger.License().Error().Err(err).Msg("failed to persist revalidated license")
	}

	if changed && p.OnChanged != nil {
		p.OnChanged(fresh)
	}
}

func sameDecision(a, b *models.LicenseCache) bool {
	if a.Tier != b.Tier || a.Valid != b.Valid {
		return false
	}
	if (a.AgentLimit == nil) != (b.AgentLimit == nil) {
		return false
	}
	if a.AgentLimit != nil && *a.AgentLimit != *b.AgentLimit {
		return false
	}
	return a.RetentionDays == b.RetentionDays
}

// IsAgentReadOnly reports whether a system exceeds the tier's agent
// limit, per the canonical (createdAt, id) admission order. A system
// with an unknown system ID (not found) is treated as read-only.
func (p *Policy) IsAgentReadOnly(systemID string) (bool, error) {
	statuses, err := p.ReadOnlyStatuses()
	if err != nil {
		return true, err
	}
	readOnly, ok := statuses[systemID]
	if !ok {
		return true, nil
	}
	return readOnly, nil
}

// ReadOnlyStatuses computes read-only status for every system in one
// pass, avoiding N admission-order queries for list endpoints.
func (p *Policy) ReadOnlyStatuses() (map[string]bool, error) {
	p.mu.RLock()
	limit := p.current.AgentLimit
	p.mu.RUnlock()

	systems, err := p.database.ListSystemsByCreationOrder()
	if err != nil {
		return nil, err
	}

	out := make(map[string]bool, len(systems))
	for i, sys := range systems {
		out[sys.ID] = limit != nil && i >= *limit
	}
	return out, nil
}

// RetentionDays returns the tier's history retention window, used by
// the scheduler's purge job.
func (p *Policy) RetentionDays() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.RetentionDays
}
