// Package aggregator ingests telemetry pushed by agents, keeps the
// latest reading per system available for lock-free reads, upserts
// newly discovered sensors/fans, and writes history asynchronously.
package aggregator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/anexgohan/pankha/internal/logger"
	"github.com/anexgohan/pankha/internal/models"
	"github.com/anexgohan/pankha/internal/store"
)

// Snapshot is the latest known state of one system, read without
// locking via atomic.Pointer.
type Snapshot struct {
	SystemID   string
	Sensors    []models.SensorReading
	Fans       []models.FanReading
	CPUUsage   float64
	MemUsage   float64
	UptimeSec  int64
	ReceivedAt time.Time
}

// historyQueueCapacity bounds the async history writer's backlog.
const historyQueueCapacity = 2048

// Aggregator fans in telemetry from every connected agent.
type Aggregator struct {
	database *store.Database

	snapshots sync.Map // systemID -> *atomic.Pointer[Snapshot]

	historyQueue  chan models.HistoryPoint
	droppedPoints atomic.Int64

	// OnAggregated is invoked after a data point has updated the
	// snapshot, so the broadcast package can compute and push deltas.
	OnAggregated func(systemID string)

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates an Aggregator. Call Run to start its history writer.
func New(database *store.Database) *Aggregator {
	return &Aggregator{
		database:     database,
		historyQueue: make(chan models.HistoryPoint, historyQueueCapacity),
		stopChan:     make(chan struct{}),
	}
}

// Run starts the background history writer. Blocks until Stop is called.
func (a *Aggregator) Run() {
	a.wg.Add(1)
	defer a.wg.Done()

	for {
		select {
		case point := <-a.historyQueue:
			if err := a.database.InsertHistoryPoint(point); err != nil {
				logger.Aggregator().Error().Err(err).Str("systemId", point.SystemID).Msg("failed to write history point")
			}
		case <-a.stopChan:
			return
		}
	}
}

// Stop signals Run to exit and waits for it to finish.
func (a *Aggregator) Stop() {
	close(a.stopChan)
	a.wg.Wait()
}

// Ingest records one data push from an agent: it updates the live
// snapshot, upserts sensors/fans seen for the first time, and queues a
// history point.
func (a *Aggregator) Ingest(systemID string, payload models.DataPayload) error {
	for _, s := range payload.Sensors {
		if _, err := a.database.UpsertSensor(systemID, s); err != nil {
			return err
		}
	}
	for _, f := range payload.Fans {
		if _, err := a.database.UpsertFan(systemID, f); err != nil {
			return err
		}
	}

	snap := &Snapshot{
		SystemID:   systemID,
		Sensors:    payload.Sensors,
		Fans:       payload.Fans,
		CPUUsage:   payload.CPUUsage,
		MemUsage:   payload.MemUsage,
		UptimeSec:  payload.UptimeSec,
		ReceivedAt: time.Now(),
	}
	a.store(systemID, snap)

	a.enqueueHistory(models.HistoryPoint{
		SystemID:   systemID,
		RecordedAt: snap.ReceivedAt,
		Sensors:    payload.Sensors,
		Fans:       payload.Fans,
		CPUUsage:   payload.CPUUsage,
		MemUsage:   payload.MemUsage,
	})

	if a.OnAggregated != nil {
		a.OnAggregated(systemID)
	}
	return nil
}

func (a *Aggregator) store(systemID string, snap *Snapshot) {
	ptrVal, _ := a.snapshots.LoadOrStore(systemID, &atomic.Pointer[Snapshot]{})
	ptr := ptrVal.(*atomic.Pointer[Snapshot])
	ptr.Store(snap)
}

func (a *Aggregator) enqueueHistory(point models.HistoryPoint) {
	select {
	case a.historyQueue <- point:
	default:
		select {
		case <-a.historyQueue:
			a.droppedPoints.Add(1)
		default:
		}
		select {
		case a.historyQueue <- point:
		default:
			a.droppedPoints.Add(1)
		}
		logger.Aggregator().Warn().Str("systemId", point.SystemID).Msg("history queue full, dropped oldest point")
	}
}

// DroppedHistoryPoints returns the number of history points dropped
// due to a full queue since startup.
func (a *Aggregator) DroppedHistoryPoints() int64 {
	return a.droppedPoints.Load()
}

// Latest returns the most recently ingested snapshot for a system, or
// nil if none has been received yet.
func (a *Aggregator) Latest(systemID string) *Snapshot {
	ptrVal, ok := a.snapshots.Load(systemID)
	if !ok {
		return nil
	}
	return ptrVal.(*atomic.Pointer[Snapshot]).Load()
}

// Forget removes a system's snapshot, e.g. after prolonged disconnect.
func (a *Aggregator) Forget(systemID string) {
	a.snapshots.Delete(systemID)
}
