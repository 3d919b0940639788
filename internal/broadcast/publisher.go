package broadcast

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/anexgohan/pankha/internal/aggregator"
	"github.com/anexgohan/pankha/internal/logger"
	"github.com/anexgohan/pankha/internal/models"
)

// Suppression thresholds: a field only re-sends once it has moved by
// at least this much since the last value that subscriber was sent.
const (
	cpuThresholdPct    = 1.0
	uptimeThresholdSec = 60
	tempThresholdC     = 0.1
	rpmThreshold       = 5
)

// fullResyncInterval forces a fullState push to every subscriber on a
// fixed cadence, bounding how stale a client's view can drift if a
// delta is ever missed.
const fullResyncInterval = 5 * time.Minute

// Publisher turns aggregator snapshots into per-subscriber deltas and
// full syncs, and pushes them onto the broadcast hub.
type Publisher struct {
	hub        *Hub
	aggregator *aggregator.Aggregator

	mu        sync.RWMutex
	lastFull  map[string]time.Time // systemID -> last full resync
}

// NewPublisher wires a Publisher to an already-running Hub and Aggregator.
func NewPublisher(hub *Hub, agg *aggregator.Aggregator) *Publisher {
	p := &Publisher{hub: hub, aggregator: agg, lastFull: make(map[string]time.Time)}
	agg.OnAggregated = p.onAggregated
	return p
}

// RunPeriodicResync forces a fullState push to every subscriber of
// every system on fullResyncInterval, regardless of delta activity.
// Blocks; run in a goroutine.
func (p *Publisher) RunPeriodicResync(systemIDs func() []string, stop <-chan struct{}) {
	ticker := time.NewTicker(fullResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, systemID := range systemIDs() {
				p.pushFullState(systemID)
			}
		case <-stop:
			return
		}
	}
}

func (p *Publisher) onAggregated(systemID string) {
	snap := p.aggregator.Latest(systemID)
	if snap == nil {
		return
	}

	current := models.DataPayload{
		AgentID:   systemID,
		Sensors:   snap.Sensors,
		Fans:      snap.Fans,
		CPUUsage:  snap.CPUUsage,
		MemUsage:  snap.MemUsage,
		UptimeSec: snap.UptimeSec,
	}

	p.hub.mu.RLock()
	defer p.hub.mu.RUnlock()

	for client := range p.hub.clients {
		if !client.isSubscribed(systemID) {
			continue
		}

		client.mu.Lock()
		baseline, seen := client.baselines[systemID]
		delta := computeDelta(baseline, current)
		hasChange := !seen || delta != nil
		if hasChange {
			client.baselines[systemID] = &current
		}
		client.mu.Unlock()

		if !seen {
			p.sendFullState(client, systemID, current)
			continue
		}
		if delta != nil {
			p.send(client, models.ServerMsgSystemDelta, delta)
		}
	}
}

// systemDelta is the wire shape of a threshold-filtered change: only
// fields that moved enough to matter are populated.
type systemDelta struct {
	SystemID  string                  `json:"systemId"`
	Sensors   []models.SensorReading  `json:"sensors,omitempty"`
	Fans      []models.FanReading     `json:"fans,omitempty"`
	CPUUsage  *float64                `json:"cpuUsage,omitempty"`
	MemUsage  *float64                `json:"memoryUsage,omitempty"`
	UptimeSec *int64                  `json:"agentUptime,omitempty"`
}

func computeDelta(baseline *models.DataPayload, current models.DataPayload) *systemDelta {
	if baseline == nil {
		return nil
	}

	d := &systemDelta{SystemID: current.AgentID}
	changed := false

	if math.Abs(current.CPUUsage-baseline.CPUUsage) >= cpuThresholdPct {
		v := current.CPUUsage
		d.CPUUsage = &v
		changed = true
	}
	if math.Abs(current.MemUsage-baseline.MemUsage) >= cpuThresholdPct {
		v := current.MemUsage
		d.MemUsage = &v
		changed = true
	}
	if absInt64(current.UptimeSec-baseline.UptimeSec) >= uptimeThresholdSec {
		v := current.UptimeSec
		d.UptimeSec = &v
		changed = true
	}

	baselineSensors := indexSensors(baseline.Sensors)
	for _, s := range current.Sensors {
		prior, ok := baselineSensors[s.SensorID]
		if !ok || math.Abs(s.TemperatureC-prior.TemperatureC) >= tempThresholdC {
			d.Sensors = append(d.Sensors, s)
			changed = true
		}
	}

	baselineFans := indexFans(baseline.Fans)
	for _, f := range current.Fans {
		prior, ok := baselineFans[f.FanID]
		if !ok || absInt(f.RPM-prior.RPM) >= rpmThreshold || f.SpeedPct != prior.SpeedPct {
			d.Fans = append(d.Fans, f)
			changed = true
		}
	}

	if !changed {
		return nil
	}
	return d
}

func indexSensors(readings []models.SensorReading) map[string]models.SensorReading {
	m := make(map[string]models.SensorReading, len(readings))
	for _, r := range readings {
		m[r.SensorID] = r
	}
	return m
}

func indexFans(readings []models.FanReading) map[string]models.FanReading {
	m := make(map[string]models.FanReading, len(readings))
	for _, r := range readings {
		m[r.FanID] = r
	}
	return m
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// HandleFullSyncRequest is wired as the hub's onFullSyncRequest
// callback: it answers subscribe/requestFullSync with an immediate
// fullState push for the named system. For "all" nothing is pushed
// here; each system's fullState reaches the client with that system's
// next data push, since the client has no baseline for it yet.
func (p *Publisher) HandleFullSyncRequest(client *Client, systemID string) {
	if systemID == subscribeAll {
		return
	}
	p.pushFullStateToClient(client, systemID)
}

func (p *Publisher) pushFullState(systemID string) {
	p.hub.mu.RLock()
	defer p.hub.mu.RUnlock()

	for client := range p.hub.clients {
		if client.isSubscribed(systemID) {
			p.pushFullStateToClient(client, systemID)
		}
	}
}

func (p *Publisher) pushFullStateToClient(client *Client, systemID string) {
	snap := p.aggregator.Latest(systemID)
	if snap == nil {
		return
	}
	current := models.DataPayload{
		AgentID:   systemID,
		Sensors:   snap.Sensors,
		Fans:      snap.Fans,
		CPUUsage:  snap.CPUUsage,
		MemUsage:  snap.MemUsage,
		UptimeSec: snap.UptimeSec,
	}
	p.sendFullState(client, systemID, current)
}

func (p *Publisher) sendFullState(client *Client, systemID string, current models.DataPayload) {
	client.mu.Lock()
	client.baselines[systemID] = &current
	client.mu.Unlock()
	p.send(client, models.ServerMsgFullState, current)
}

// NotifySystemOffline pushes a systemOffline event to every subscriber
// of the given system.
func (p *Publisher) NotifySystemOffline(systemID string) {
	p.hub.mu.RLock()
	defer p.hub.mu.RUnlock()
	for client := range p.hub.clients {
		if client.isSubscribed(systemID) {
			p.send(client, models.ServerMsgSystemOffline, map[string]string{"systemId": systemID})
		}
	}
}

// NotifyNameChanged pushes a nameChanged event to every subscriber.
func (p *Publisher) NotifyNameChanged(systemID, name string) {
	p.hub.mu.RLock()
	defer p.hub.mu.RUnlock()
	for client := range p.hub.clients {
		if client.isSubscribed(systemID) {
			p.send(client, models.ServerMsgNameChanged, map[string]string{"systemId": systemID, "name": name})
		}
	}
}

// NotifyLicenseChanged broadcasts a licenseChanged event to every subscriber.
func (p *Publisher) NotifyLicenseChanged(payload interface{}) {
	p.hub.mu.RLock()
	defer p.hub.mu.RUnlock()
	for client := range p.hub.clients {
		p.send(client, models.ServerMsgLicenseChanged, payload)
	}
}

func (p *Publisher) send(client *Client, msgType string, payload interface{}) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		logger.Broadcast().Error().Err(err).Msg("failed to marshal outbound payload")
		return
	}
	env := models.ClientEnvelope{Type: msgType, Payload: payloadBytes}
	envBytes, err := json.Marshal(env)
	if err != nil {
		return
	}

	select {
	case client.send <- envBytes:
	default:
		logger.Broadcast().Warn().Str("clientId", client.id).Msg("subscriber send buffer full, dropping message")
	}
}
