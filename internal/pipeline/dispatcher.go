package pipeline

import (
	"fleet-safety/monitor/internal/domain"
	"fleet-safety/monitor/internal/metrics"
)

// Dispatcher fans evaluation outcomes out to the sink queues. Every queue is
// bounded with drop-oldest-on-overflow, so a slow or dead sink can never
// stall ingestion of subsequent telemetry for any vehicle.
type Dispatcher struct {
	AlertQ  *Queue[domain.AlertEvent]
	RecordQ *Queue[domain.ComplianceRecord]
	StateQ  *Queue[domain.VehicleState]
}

func NewDispatcher(alertSize, recordSize, stateSize int) *Dispatcher {
	return &Dispatcher{
		AlertQ:  NewQueue[domain.AlertEvent](alertSize, &metrics.AlertQueueDrops),
		RecordQ: NewQueue[domain.ComplianceRecord](recordSize, &metrics.RecordQueueDrops),
		StateQ:  NewQueue[domain.VehicleState](stateSize, &metrics.StateQueueDrops),
	}
}

// Dispatch routes one evaluation's outcomes plus the updated state snapshot.
// Per-vehicle outcome order is preserved because Dispatch is called from
// inside the vehicle's evaluation transaction, in arrival order.
func (d *Dispatcher) Dispatch(out domain.Outcomes, snapshot domain.VehicleState) {
	for _, alert := range out.Alerts {
		d.AlertQ.Push(alert)
		metrics.AlertsEmitted.Add(1)
	}
	for _, record := range out.Records {
		d.RecordQ.Push(record)
		metrics.RecordsEmitted.Add(1)
	}
	d.StateQ.Push(snapshot)
}

// Close closes all sink queues.
func (d *Dispatcher) Close() {
	d.AlertQ.Close()
	d.RecordQ.Close()
	d.StateQ.Close()
}
