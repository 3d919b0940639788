// Package controller runs the periodic fan curve control loop: for
// every active fan assignment it resolves a temperature, computes a
// target speed from the profile's curve, applies hysteresis and
// stepping, and dispatches setFanSpeed commands — with an emergency
// override that bypasses both.
package controller

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anexgohan/pankha/internal/aggregator"
	"github.com/anexgohan/pankha/internal/dispatch"
	"github.com/anexgohan/pankha/internal/license"
	"github.com/anexgohan/pankha/internal/logger"
	"github.com/anexgohan/pankha/internal/models"
	"github.com/anexgohan/pankha/internal/store"
)

const (
	defaultIntervalMs = 2000
	minIntervalMs     = 500
	maxIntervalMs      = 60000
	tickIntervalKey    = "controller_update_interval"

	minWriteInterval = 100 * time.Millisecond

	highestSelector = "__highest__"
	groupSelector   = "__group__"
)

// Controller ticks at a configurable interval, recomputing every
// active fan assignment's target speed.
type Controller struct {
	database   *store.Database
	aggregator *aggregator.Aggregator
	dispatcher *dispatch.Dispatcher
	license    *license.Policy

	intervalMs int

	mu              sync.Mutex
	state           map[string]*models.ControllerState // fanID -> state
	systemEmergency map[string]bool                     // systemID -> currently latched into emergency

	stopChan chan struct{}
}

// New creates a Controller wired to its collaborators. The tick
// interval is loaded from backend_settings, falling back to the
// default when unset.
func New(database *store.Database, agg *aggregator.Aggregator, dispatcher *dispatch.Dispatcher, lic *license.Policy) *Controller {
	interval := defaultIntervalMs
	var stored int
	if ok, err := database.GetSetting(tickIntervalKey, &stored); err == nil && ok {
		interval = clampInterval(stored)
	}

	return &Controller{
		database:        database,
		aggregator:      agg,
		dispatcher:      dispatcher,
		license:         lic,
		intervalMs:      interval,
		state:           make(map[string]*models.ControllerState),
		systemEmergency: make(map[string]bool),
		stopChan:        make(chan struct{}),
	}
}

func clampInterval(ms int) int {
	if ms < minIntervalMs {
		return minIntervalMs
	}
	if ms > maxIntervalMs {
		return maxIntervalMs
	}
	return ms
}

// SetTickInterval updates and persists the tick interval.
func (c *Controller) SetTickInterval(ms int) error {
	ms = clampInterval(ms)
	c.mu.Lock()
	c.intervalMs = ms
	c.mu.Unlock()
	return c.database.SetSetting(tickIntervalKey, ms)
}

// Run is the controller's tick loop. Blocks until Stop is called.
// A tick that overruns its interval by more than 2x is logged and the
// next tick is skipped rather than allowed to pile up.
func (c *Controller) Run() {
	logger.Controller().Info().Int("intervalMs", c.intervalMs).Msg("starting fan curve controller")

	skipNext := false
	for {
		c.mu.Lock()
		interval := time.Duration(c.intervalMs) * time.Millisecond
		c.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
			if skipNext {
				skipNext = false
				continue
			}
			start := time.Now()
			c.tick(interval)
			skipNext = time.Since(start) > 2*interval
		case <-c.stopChan:
			timer.Stop()
			return
		}
	}
}

// Stop signals Run to exit.
func (c *Controller) Stop() { close(c.stopChan) }

func (c *Controller) tick(interval time.Duration) {
	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed > 2*interval {
			logger.Controller().Warn().Dur("elapsed", elapsed).Dur("interval", interval).Msg("tick overran budget, skipping next")
		}
	}()

	assignments, err := c.database.ListAllActiveAssignments()
	if err != nil {
		logger.Controller().Error().Err(err).Msg("failed to load active assignments")
		return
	}

	// Group by system so the emergency check (system-wide) runs once
	// per system rather than once per assignment.
	bySystem := make(map[string][]store.ActiveAssignment)
	for _, a := range assignments {
		bySystem[a.SystemID] = append(bySystem[a.SystemID], a)
	}

	// Emergency override must reach every controllable fan on a system,
	// including ones with no profile assignment at all, so the tick
	// walks every system rather than just the ones with assignments.
	systems, err := c.database.ListSystemsByCreationOrder()
	if err != nil {
		logger.Controller().Error().Err(err).Msg("failed to load systems")
		return
	}

	for _, sys := range systems {
		c.tickSystem(sys, bySystem[sys.ID])
	}
}

func (c *Controller) tickSystem(sys *models.System, assignments []store.ActiveAssignment) {
	if sys.Status != models.SystemStatusOnline {
		return
	}

	if readOnly, err := c.license.IsAgentReadOnly(sys.ID); err != nil || readOnly {
		return
	}

	snap := c.aggregator.Latest(sys.ID)
	if snap == nil {
		return
	}

	if emergencyTemp, emergency := c.checkEmergency(sys, snap); emergency {
		fans, err := c.database.ListFans(sys.ID)
		if err != nil {
			logger.Controller().Warn().Err(err).Str("systemId", sys.ID).Msg("failed to load fans for emergency override")
			return
		}
		for _, f := range fans {
			if !f.HasPWMControl {
				continue
			}
			c.applyEmergency(sys.AgentID, sys.ID, f.ID, emergencyTemp)
		}
		return
	}

	for _, a := range assignments {
		if !a.HasPWMControl {
			continue
		}
		c.tickAssignment(sys, a, snap)
	}
}

// checkEmergency reports whether the system's highest sensor reading
// trips (or keeps tripped) its emergency override. Entry is immediate
// once maxTemp exceeds the system's emergencyTemp; exit only once it
// drops below emergencyTemp - hysteresisC, so a reading oscillating
// around the threshold doesn't flap the override on and off.
func (c *Controller) checkEmergency(sys *models.System, snap *aggregator.Snapshot) (float64, bool) {
	maxTemp := 0.0
	for _, s := range snap.Sensors {
		if s.TemperatureC > maxTemp {
			maxTemp = s.TemperatureC
		}
	}

	if sys.EmergencyTempC <= 0 {
		return maxTemp, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	latched := c.systemEmergency[sys.ID]
	switch {
	case maxTemp > sys.EmergencyTempC:
		latched = true
	case latched && maxTemp < sys.EmergencyTempC-sys.HysteresisC:
		latched = false
	}
	c.systemEmergency[sys.ID] = latched
	return maxTemp, latched
}

func (c *Controller) applyEmergency(agentID, systemID, fanID string, temp float64) {
	c.mu.Lock()
	st, ok := c.state[fanID]
	if !ok {
		st = &models.ControllerState{FanID: fanID}
		c.state[fanID] = st
	}
	alreadyEmergency := st.InEmergency
	st.InEmergency = true
	st.LastAppliedSpeed = 100
	st.LastWriteAt = time.Now()
	c.mu.Unlock()

	if alreadyEmergency {
		return // already latched at 100%, don't resend every tick
	}

	if _, err := c.dispatcher.Enqueue(systemID, agentID, models.PriorityEmergency, models.ServerMsgSetFanSpeed,
		models.SetFanSpeedPayload{FanID: fanID, SpeedPercent: 100}, fanID); err != nil {
		logger.Controller().Error().Err(err).Str("fanId", fanID).Msg("failed to enqueue emergency fan speed")
	}
	logger.Controller().Warn().Str("fanId", fanID).Float64("temp", temp).Msg("emergency override engaged")
}

func (c *Controller) tickAssignment(sys *models.System, a store.ActiveAssignment, snap *aggregator.Snapshot) {
	temp, ok := resolveTemperature(a.SensorID, snap)
	if !ok {
		return
	}

	profile, err := c.database.GetFanProfile(a.ProfileID)
	if err != nil {
		logger.Controller().Warn().Err(err).Str("profileId", a.ProfileID).Msg("failed to load profile")
		return
	}

	raw := interpolate(profile.CurvePoints, temp)
	clamped := clamp(raw, a.MinSpeedPct, a.MaxSpeedPct)
	target := quantize(clamped, sys.FanStepPercent)

	c.mu.Lock()
	st, ok := c.state[a.FanID]
	if !ok {
		st = &models.ControllerState{FanID: a.FanID, LastAppliedTempBucket: temp}
		c.state[a.FanID] = st
	}
	wasEmergency := st.InEmergency
	st.InEmergency = false

	bucketChanged := bucketMoved(st, temp, sys.HysteresisC)
	shouldWrite := !ok || wasEmergency || bucketChanged || absInt(target-st.LastAppliedSpeed) >= sys.FanStepPercent
	tooSoon := time.Since(st.LastWriteAt) < minWriteInterval
	c.mu.Unlock()

	if !shouldWrite || tooSoon {
		return
	}

	cmd, err := c.dispatcher.Enqueue(a.SystemID, sys.AgentID, models.PriorityNormal, models.ServerMsgSetFanSpeed,
		models.SetFanSpeedPayload{FanID: a.FanID, SpeedPercent: target}, a.FanID)
	if err != nil {
		logger.Controller().Error().Err(err).Str("fanId", a.FanID).Msg("failed to enqueue fan speed")
		return
	}
	if cmd.Status == models.CommandStatusFailed {
		return // agent not connected; state left unadvanced so next tick retries
	}

	c.mu.Lock()
	st.LastAppliedSpeed = target
	st.LastWriteAt = time.Now()
	c.mu.Unlock()
}

// resolveTemperature implements the three sensorId selector forms:
// a concrete sensor id, the system-wide max ("__highest__"), or the
// max within a labeled group ("__group__<tag>").
func resolveTemperature(sensorID string, snap *aggregator.Snapshot) (float64, bool) {
	if len(snap.Sensors) == 0 {
		return 0, false
	}

	switch {
	case sensorID == highestSelector:
		max, found := 0.0, false
		for _, s := range snap.Sensors {
			if !found || s.TemperatureC > max {
				max = s.TemperatureC
				found = true
			}
		}
		return max, found

	case strings.HasPrefix(sensorID, groupSelector):
		tag := strings.ToLower(strings.TrimPrefix(sensorID, groupSelector))
		max, found := 0.0, false
		for _, s := range snap.Sensors {
			if strings.HasPrefix(strings.ToLower(s.Label), tag) {
				if !found || s.TemperatureC > max {
					max = s.TemperatureC
					found = true
				}
			}
		}
		return max, found

	default:
		for _, s := range snap.Sensors {
			if s.SensorID == sensorID {
				return s.TemperatureC, true
			}
		}
		return 0, false
	}
}

// interpolate implements §4.5.1: clamp at the endpoints, otherwise
// linearly interpolate between the enclosing pair and round.
func interpolate(points []models.FanCurvePoint, temp float64) int {
	if len(points) == 0 {
		return 0
	}

	sorted := make([]models.FanCurvePoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TemperatureC < sorted[j].TemperatureC })

	if temp <= sorted[0].TemperatureC {
		return sorted[0].SpeedPercent
	}
	last := sorted[len(sorted)-1]
	if temp >= last.TemperatureC {
		return last.SpeedPercent
	}

	for i := 0; i < len(sorted)-1; i++ {
		lo, hi := sorted[i], sorted[i+1]
		if temp >= lo.TemperatureC && temp <= hi.TemperatureC {
			span := hi.TemperatureC - lo.TemperatureC
			if span == 0 {
				return lo.SpeedPercent
			}
			frac := (temp - lo.TemperatureC) / span
			speed := float64(lo.SpeedPercent) + frac*float64(hi.SpeedPercent-lo.SpeedPercent)
			return int(math.Round(speed))
		}
	}
	return last.SpeedPercent
}

func clamp(v, min, max int) int {
	if max <= 0 {
		max = 100
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// bucketMoved implements §4.5.2's banding: the bucket only moves once
// the temperature leaves [bucket-H, bucket+H]. Interpolation always
// uses the live temperature; this only gates the write decision.
func bucketMoved(st *models.ControllerState, temp, hysteresisC float64) bool {
	if hysteresisC <= 0 {
		st.LastAppliedTempBucket = temp
		return true
	}
	if temp < st.LastAppliedTempBucket-hysteresisC || temp > st.LastAppliedTempBucket+hysteresisC {
		st.LastAppliedTempBucket = temp
		return true
	}
	return false
}

// quantize rounds a target speed to the nearest multiple of step,
// per the allowed step set; step=100 only permits 0 or 100.
func quantize(target, step int) int {
	if step <= 0 {
		step = 5
	}
	if step >= 100 {
		if target >= 50 {
			return 100
		}
		return 0
	}
	return int(math.Round(float64(target)/float64(step))) * step
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ClearState drops a fan's controller state, forcing the next tick to
// write unconditionally — used when an assignment changes or the
// owning agent disconnects.
func (c *Controller) ClearState(fanID string) {
	c.mu.Lock()
	delete(c.state, fanID)
	c.mu.Unlock()
}
