// Package dispatch queues commands for delivery to connected agents,
// tracks them to acknowledgement or timeout, retries transient
// failures, and supersedes stale fan-speed commands with fresher ones.
package dispatch

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anexgohan/pankha/internal/gateway"
	"github.com/anexgohan/pankha/internal/logger"
	"github.com/anexgohan/pankha/internal/models"
	"github.com/anexgohan/pankha/internal/store"
)

// deadline is how long a command may remain unacknowledged before it
// is marked timed out, by priority.
var deadline = map[string]time.Duration{
	models.PriorityEmergency: 3 * time.Second,
	models.PriorityHigh:      10 * time.Second,
	models.PriorityNormal:    10 * time.Second,
	models.PriorityLow:       30 * time.Second,
}

// maxRetries is how many additional attempts a non-emergency command
// gets after its first send fails or times out. Emergency commands
// never retry: a fresher override is always preferable to a stale one.
const maxRetries = 2

const retryBackoff = 1 * time.Second

// queueDepth bounds each priority lane's backlog.
const queueDepth = 1000

// pending tracks one in-flight command awaiting acknowledgement.
type pending struct {
	command  *models.Command
	fanKey   string // systemID:fanId, empty if not a fan-speed command
	deadline time.Time
	retries  int
}

// Dispatcher delivers commands to agents via the gateway hub, in
// priority order, and reconciles agent responses against outstanding
// commands.
type Dispatcher struct {
	database *store.Database
	hub      *gateway.Hub

	lanes map[string]chan *models.Command // keyed by priority

	mu        sync.Mutex
	inflight  map[string]*pending // commandID -> pending
	bySpeedKey map[string]string  // systemID:fanId -> commandID, for supersedence

	workers  int
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// priorityOrder is checked highest-first when a worker looks for work.
var priorityOrder = []string{
	models.PriorityEmergency,
	models.PriorityHigh,
	models.PriorityNormal,
	models.PriorityLow,
}

// New creates a Dispatcher bound to the store and the agent gateway hub.
func New(database *store.Database, hub *gateway.Hub) *Dispatcher {
	lanes := make(map[string]chan *models.Command, len(priorityOrder))
	for _, p := range priorityOrder {
		lanes[p] = make(chan *models.Command, queueDepth)
	}
	return &Dispatcher{
		database:   database,
		hub:        hub,
		lanes:      lanes,
		inflight:   make(map[string]*pending),
		bySpeedKey: make(map[string]string),
		workers:    10,
		stopChan:   make(chan struct{}),
	}
}

// SetWorkers configures the worker pool size. Call before Start.
func (d *Dispatcher) SetWorkers(n int) {
	if n > 0 {
		d.workers = n
	}
}

// Start runs the worker pool and the deadline sweeper. Blocks until Stop.
func (d *Dispatcher) Start() {
	logger.Dispatch().Info().Int("workers", d.workers).Msg("starting command dispatcher")

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	sweepTicker := time.NewTicker(1 * time.Second)
	defer sweepTicker.Stop()

	for {
		select {
		case <-sweepTicker.C:
			d.sweepDeadlines()
		case <-d.stopChan:
			d.wg.Wait()
			logger.Dispatch().Info().Msg("command dispatcher stopped")
			return
		}
	}
}

// Stop signals Start to exit and returns at once; Start waits for the
// in-flight workers to drain before it returns.
func (d *Dispatcher) Stop() { close(d.stopChan) }

// Enqueue queues a command for delivery. msgType is the agent envelope
// type (e.g. models.ServerMsgSetFanSpeed); payload is marshaled into
// the command's stored payload and the envelope sent to the agent.
// For setFanSpeed commands targeting the same fan, any still-pending
// predecessor is superseded rather than left to time out.
func (d *Dispatcher) Enqueue(systemID, agentID, priority, msgType string, payload interface{}, fanID string) (*models.Command, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal command payload: %w", err)
	}

	cmd := &models.Command{
		ID:       uuid.New().String(),
		SystemID: systemID,
		Type:     msgType,
		Priority: priority,
		Payload:  payloadBytes,
		Status:   models.CommandStatusPending,
	}

	fanKey := ""
	if fanID != "" {
		fanKey = systemID + ":" + fanID
	}

	if !d.hub.IsAgentConnected(agentID) {
		cmd.Status = models.CommandStatusFailed
		cmd.ErrorMessage = "agent is not connected"
		if err := d.database.InsertCommand(cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	}

	if err := d.database.InsertCommand(cmd); err != nil {
		return nil, err
	}

	if fanKey != "" {
		d.supersede(fanKey, cmd.ID)
	}

	lane, ok := d.lanes[priority]
	if !ok {
		lane = d.lanes[models.PriorityNormal]
	}

	select {
	case lane <- cmd:
	default:
		cmd.Status = models.CommandStatusFailed
		cmd.ErrorMessage = "dispatch queue full"
		d.database.UpdateCommandStatus(cmd.ID, cmd.Status, cmd.ErrorMessage)
		return cmd, nil
	}

	d.trackPending(cmd, fanKey)
	return cmd, nil
}

// supersede marks the previous command for the same fan as superseded,
// but only if it hasn't been sent to the agent yet — a command already
// in flight is left to complete or time out on its own, matching the
// dispatcher's pending-only supersedence contract.
func (d *Dispatcher) supersede(fanKey, newCommandID string) {
	d.mu.Lock()
	prevID, ok := d.bySpeedKey[fanKey]
	d.bySpeedKey[fanKey] = newCommandID
	var prev *pending
	if ok {
		if p := d.inflight[prevID]; p != nil && p.command.Status == models.CommandStatusPending {
			prev = p
			delete(d.inflight, prevID)
		}
	}
	d.mu.Unlock()

	if prev != nil {
		d.database.UpdateCommandStatus(prevID, models.CommandStatusSuperseded, "superseded by newer fan speed command")
	}
}

func (d *Dispatcher) trackPending(cmd *models.Command, fanKey string) {
	dl := deadline[cmd.Priority]
	if dl == 0 {
		dl = deadline[models.PriorityNormal]
	}

	d.mu.Lock()
	d.inflight[cmd.ID] = &pending{
		command:  cmd,
		fanKey:   fanKey,
		deadline: time.Now().Add(dl),
	}
	d.mu.Unlock()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for {
		cmd := d.nextCommand()
		if cmd == nil {
			return
		}
		d.process(cmd)
	}
}

// nextCommand blocks until a command is available in any lane,
// preferring the highest-priority non-empty lane, or until Stop.
func (d *Dispatcher) nextCommand() *models.Command {
	for {
		for _, p := range priorityOrder {
			select {
			case cmd := <-d.lanes[p]:
				return cmd
			default:
			}
		}

		select {
		case cmd := <-d.lanes[models.PriorityEmergency]:
			return cmd
		case cmd := <-d.lanes[models.PriorityHigh]:
			return cmd
		case cmd := <-d.lanes[models.PriorityNormal]:
			return cmd
		case cmd := <-d.lanes[models.PriorityLow]:
			return cmd
		case <-d.stopChan:
			return nil
		case <-time.After(200 * time.Millisecond):
			// loop back and re-check priority order rather than staying
			// parked on a low-priority lane while higher ones fill up
		}
	}
}

func (d *Dispatcher) process(cmd *models.Command) {
	d.mu.Lock()
	p, tracked := d.inflight[cmd.ID]
	d.mu.Unlock()
	if !tracked {
		return // superseded or cancelled before a worker picked it up
	}

	agentID := systemAgentID(cmd.SystemID, d.database)
	if agentID == "" || !d.hub.IsAgentConnected(agentID) {
		d.fail(cmd, p.fanKey, "agent is not connected")
		return
	}

	var payload interface{}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		d.fail(cmd, p.fanKey, "invalid stored payload")
		return
	}

	if err := d.hub.SendEnvelope(agentID, cmd.Type, payload); err != nil {
		d.retryOrFail(cmd, p, agentID, err.Error())
		return
	}

	// Mark sent in-memory too, not just in storage: supersede() checks
	// this to limit itself to commands still pending (not yet sent).
	cmd.Status = models.CommandStatusSent
	if err := d.database.UpdateCommandStatus(cmd.ID, models.CommandStatusSent, ""); err != nil {
		logger.Dispatch().Warn().Err(err).Str("commandId", cmd.ID).Msg("failed to persist sent status")
	}
}

func (d *Dispatcher) retryOrFail(cmd *models.Command, p *pending, agentID, reason string) {
	if cmd.Priority == models.PriorityEmergency || p.retries >= maxRetries {
		d.fail(cmd, p.fanKey, reason)
		return
	}

	p.retries++
	d.database.IncrementCommandAttempts(cmd.ID)

	time.AfterFunc(retryBackoff, func() {
		lane, ok := d.lanes[cmd.Priority]
		if !ok {
			lane = d.lanes[models.PriorityNormal]
		}
		select {
		case lane <- cmd:
		default:
			d.fail(cmd, p.fanKey, "dispatch queue full on retry")
		}
	})
}

func (d *Dispatcher) fail(cmd *models.Command, fanKey, reason string) {
	d.mu.Lock()
	delete(d.inflight, cmd.ID)
	if fanKey != "" && d.bySpeedKey[fanKey] == cmd.ID {
		delete(d.bySpeedKey, fanKey)
	}
	d.mu.Unlock()

	if err := d.database.UpdateCommandStatus(cmd.ID, models.CommandStatusFailed, reason); err != nil {
		logger.Dispatch().Warn().Err(err).Str("commandId", cmd.ID).Msg("failed to persist failed status")
	}
	logger.Dispatch().Warn().Str("commandId", cmd.ID).Str("reason", reason).Msg("command failed")
}

// sweepDeadlines marks any pending command past its response deadline
// as timed out.
func (d *Dispatcher) sweepDeadlines() {
	now := time.Now()

	d.mu.Lock()
	var expired []*pending
	for id, p := range d.inflight {
		if now.After(p.deadline) {
			expired = append(expired, p)
			delete(d.inflight, id)
			if p.fanKey != "" && d.bySpeedKey[p.fanKey] == id {
				delete(d.bySpeedKey, p.fanKey)
			}
		}
	}
	d.mu.Unlock()

	for _, p := range expired {
		if err := d.database.UpdateCommandStatus(p.command.ID, models.CommandStatusTimeout, "no response before deadline"); err != nil {
			logger.Dispatch().Warn().Err(err).Str("commandId", p.command.ID).Msg("failed to persist timeout status")
		}
	}
}

// HandleCommandResponse reconciles an agent's acknowledgement against
// the in-flight table. Wired to gateway.Handler.OnCommandResponse.
func (d *Dispatcher) HandleCommandResponse(systemID string, resp models.CommandResponsePayload) {
	d.mu.Lock()
	p, ok := d.inflight[resp.CommandID]
	if ok {
		delete(d.inflight, resp.CommandID)
		if p.fanKey != "" && d.bySpeedKey[p.fanKey] == resp.CommandID {
			delete(d.bySpeedKey, p.fanKey)
		}
	}
	d.mu.Unlock()

	if !ok {
		return // already superseded, timed out, or unknown
	}

	status := models.CommandStatusAcked
	errMsg := ""
	if !resp.Success {
		status = models.CommandStatusFailed
		errMsg = resp.Error
	}
	if err := d.database.UpdateCommandStatus(resp.CommandID, status, errMsg); err != nil {
		logger.Dispatch().Warn().Err(err).Str("commandId", resp.CommandID).Msg("failed to persist response status")
	}
}

func systemAgentID(systemID string, database *store.Database) string {
	sys, err := database.GetSystem(systemID)
	if err != nil || sys == nil {
		return ""
	}
	return sys.AgentID
}
