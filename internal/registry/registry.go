// Package registry keeps an in-memory view of every known system,
// mirroring the systems table so HTTP handlers and the controller can
// read current state without round-tripping to PostgreSQL on every
// request. Writes go through the store first, then update memory, the
// way the gateway mirrors connection state alongside persisted rows.
package registry

import (
	"sync"
	"time"

	"github.com/anexgohan/pankha/internal/license"
	"github.com/anexgohan/pankha/internal/logger"
	"github.com/anexgohan/pankha/internal/models"
	"github.com/anexgohan/pankha/internal/store"
)

// AgentState is the in-memory projection of one system row, enriched
// with the license policy's read-only verdict so callers never need a
// second query to render a system listing.
type AgentState struct {
	System              *models.System
	ReadOnly            bool
	LastDataReceivedAt  time.Time
}

// Registry is the live, in-memory agent directory.
type Registry struct {
	database *store.Database
	license  *license.Policy

	mu     sync.RWMutex
	agents map[string]*AgentState // keyed by system ID
}

// New creates a Registry and loads its initial state from the database.
func New(database *store.Database, lic *license.Policy) (*Registry, error) {
	r := &Registry{
		database: database,
		license:  lic,
		agents:   make(map[string]*AgentState),
	}
	if err := r.Refresh(); err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh reloads every system from the database and recomputes
// read-only status in a single pass, preserving any in-memory
// LastDataReceivedAt timestamps already tracked.
func (r *Registry) Refresh() error {
	systems, err := r.database.ListSystemsByCreationOrder()
	if err != nil {
		return err
	}
	readOnly, err := r.license.ReadOnlyStatuses()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	fresh := make(map[string]*AgentState, len(systems))
	for _, sys := range systems {
		state := &AgentState{System: sys, ReadOnly: readOnly[sys.ID]}
		if prev, ok := r.agents[sys.ID]; ok {
			state.LastDataReceivedAt = prev.LastDataReceivedAt
		}
		fresh[sys.ID] = state
	}
	r.agents = fresh
	return nil
}

// Get returns the current state for one system.
func (r *Registry) Get(systemID string) (*AgentState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.agents[systemID]
	return s, ok
}

// List returns every known system; the order is not defined.
func (r *Registry) List() []*AgentState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AgentState, 0, len(r.agents))
	for _, s := range r.agents {
		out = append(out, s)
	}
	return out
}

// TouchData records that telemetry was just received for a system,
// used by the dashboard to distinguish "connected, no data yet" from
// "actively reporting".
func (r *Registry) TouchData(systemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.agents[systemID]; ok {
		s.LastDataReceivedAt = time.Now()
	}
}

// SetStatus updates a system's connection status in memory; the
// gateway hub is the source of truth and persists this itself.
func (r *Registry) SetStatus(systemID, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.agents[systemID]; ok {
		s.System.Status = status
	}
}

// SetFanStepPercent persists and mirrors a negotiated setting change.
func (r *Registry) SetFanStepPercent(systemID string, percent int) error {
	if err := r.database.SetFanStepPercent(systemID, percent); err != nil {
		return err
	}
	r.mutate(systemID, func(s *models.System) { s.FanStepPercent = percent })
	return nil
}

// SetHysteresisC persists and mirrors a negotiated setting change.
func (r *Registry) SetHysteresisC(systemID string, hysteresisC float64) error {
	if err := r.database.SetHysteresisC(systemID, hysteresisC); err != nil {
		return err
	}
	r.mutate(systemID, func(s *models.System) { s.HysteresisC = hysteresisC })
	return nil
}

// SetEmergencyTempC persists and mirrors a negotiated setting change.
func (r *Registry) SetEmergencyTempC(systemID string, tempC float64) error {
	if err := r.database.SetEmergencyTempC(systemID, tempC); err != nil {
		return err
	}
	r.mutate(systemID, func(s *models.System) { s.EmergencyTempC = tempC })
	return nil
}

// SetFailsafeSpeedPct persists and mirrors a negotiated setting change.
func (r *Registry) SetFailsafeSpeedPct(systemID string, percent int) error {
	if err := r.database.SetFailsafeSpeedPct(systemID, percent); err != nil {
		return err
	}
	r.mutate(systemID, func(s *models.System) { s.FailsafeSpeedPct = percent })
	return nil
}

// SetLogLevel persists and mirrors a negotiated setting change.
func (r *Registry) SetLogLevel(systemID, level string) error {
	if err := r.database.SetLogLevel(systemID, level); err != nil {
		return err
	}
	r.mutate(systemID, func(s *models.System) { s.LogLevel = level })
	return nil
}

// SetEnableFanControl persists and mirrors a negotiated setting change.
func (r *Registry) SetEnableFanControl(systemID string, enabled bool) error {
	if err := r.database.SetEnableFanControl(systemID, enabled); err != nil {
		return err
	}
	r.mutate(systemID, func(s *models.System) { s.EnableFanControl = enabled })
	return nil
}

// Rename persists and mirrors a system's display name.
func (r *Registry) Rename(systemID, name string) error {
	if err := r.database.SetSystemName(systemID, name); err != nil {
		return err
	}
	r.mutate(systemID, func(s *models.System) { s.Name = name })
	return nil
}

func (r *Registry) mutate(systemID string, fn func(*models.System)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.agents[systemID]
	if !ok {
		logger.Gateway().Warn().Msgf("registry: mutate on unknown system %s", systemID)
		return
	}
	fn(s.System)
}
