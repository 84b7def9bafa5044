package pipeline

import (
	"context"
	"log/slog"
	"time"

	"fleet-safety/monitor/internal/domain"
	"fleet-safety/monitor/internal/metrics"
)

// AlertStore persists alert events.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert domain.AlertEvent) error
}

// AlertPublisher pushes alerts to live subscribers with dedup.
type AlertPublisher interface {
	CheckAlertDedup(ctx context.Context, vehicleID string, kind domain.AlertKind) (bool, error)
	SetAlertDedup(ctx context.Context, vehicleID string, kind domain.AlertKind) error
	PublishAlert(ctx context.Context, alert domain.AlertEvent) error
}

// RecordStore persists compliance records in batches.
type RecordStore interface {
	BatchInsertRecords(ctx context.Context, records []domain.ComplianceRecord) error
}

// LiveStateStore mirrors vehicle state for dashboards.
type LiveStateStore interface {
	UpdateLiveState(ctx context.Context, state domain.VehicleState) error
}

// AlertSink drains the alert queue: structured log always; persistence and
// live publish are best-effort and skipped when the backing stores are nil
// (simulation mode).
type AlertSink struct {
	q   *Queue[domain.AlertEvent]
	db  AlertStore
	pub AlertPublisher
	log *slog.Logger
}

func NewAlertSink(q *Queue[domain.AlertEvent], db AlertStore, pub AlertPublisher, log *slog.Logger) *AlertSink {
	return &AlertSink{q: q, db: db, pub: pub, log: log.With("component", "alert_sink")}
}

func (s *AlertSink) Run(ctx context.Context) {
	for {
		alert, ok := s.q.Pop(ctx)
		if !ok {
			return
		}
		s.handle(ctx, alert)
	}
}

func (s *AlertSink) handle(ctx context.Context, alert domain.AlertEvent) {
	s.log.Warn("alert",
		"vehicle_id", alert.VehicleID,
		"kind", alert.Kind,
		"severity", alert.Severity,
		"actions", alert.Actions,
	)

	if s.db != nil {
		if err := s.db.InsertAlert(ctx, alert); err != nil {
			metrics.AlertWriteFails.Add(1)
			s.log.Error("alert insert failed", "vehicle_id", alert.VehicleID, "error", err)
		}
	}

	if s.pub == nil {
		return
	}
	dup, err := s.pub.CheckAlertDedup(ctx, alert.VehicleID, alert.Kind)
	if err != nil {
		s.log.Error("alert dedup check failed", "vehicle_id", alert.VehicleID, "error", err)
		return
	}
	if dup {
		return
	}
	if err := s.pub.PublishAlert(ctx, alert); err != nil {
		s.log.Error("alert publish failed", "vehicle_id", alert.VehicleID, "error", err)
		return
	}
	if err := s.pub.SetAlertDedup(ctx, alert.VehicleID, alert.Kind); err != nil {
		s.log.Error("alert dedup set failed", "vehicle_id", alert.VehicleID, "error", err)
	}
}

// RecordSink drains the compliance-record queue into the record store in
// batches, flushing on size or interval.
type RecordSink struct {
	q         *Queue[domain.ComplianceRecord]
	db        RecordStore
	batchSize int
	flushMS   int
	log       *slog.Logger
}

func NewRecordSink(q *Queue[domain.ComplianceRecord], db RecordStore, batchSize, flushMS int, log *slog.Logger) *RecordSink {
	if batchSize < 1 {
		batchSize = 1
	}
	return &RecordSink{q: q, db: db, batchSize: batchSize, flushMS: flushMS, log: log.With("component", "record_sink")}
}

func (s *RecordSink) Run(ctx context.Context) {
	batch := make([]domain.ComplianceRecord, 0, s.batchSize)
	flushEvery := time.Duration(s.flushMS) * time.Millisecond

	for {
		waitCtx, cancel := context.WithTimeout(ctx, flushEvery)
		record, ok := s.q.Pop(waitCtx)
		cancel()

		if ok {
			batch = append(batch, record)
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}
			continue
		}

		// Pop returned without an item: flush interval elapsed, parent
		// context ended, or the queue closed.
		s.flush(context.WithoutCancel(ctx), batch)
		batch = batch[:0]
		if ctx.Err() != nil || s.q.Closed() {
			return
		}
	}
}

func (s *RecordSink) flush(ctx context.Context, batch []domain.ComplianceRecord) {
	if len(batch) == 0 {
		return
	}
	for _, r := range batch {
		s.log.Info("compliance record",
			"vehicle_id", r.VehicleID, "cargo_id", r.CargoID,
			"pass", r.Verdict.Pass, "reasons", r.Verdict.Reasons)
	}
	if s.db == nil {
		return
	}
	if err := s.db.BatchInsertRecords(ctx, batch); err != nil {
		metrics.RecordWriteFails.Add(int64(len(batch)))
		s.log.Error("record batch insert failed", "batch", len(batch), "error", err)
	}
}

// StateSink mirrors the newest vehicle state snapshots into the live store.
// Intermediate snapshots superseded while the sink was busy collapse to the
// latest per vehicle.
type StateSink struct {
	q    *Queue[domain.VehicleState]
	live LiveStateStore
	log  *slog.Logger
}

func NewStateSink(q *Queue[domain.VehicleState], live LiveStateStore, log *slog.Logger) *StateSink {
	return &StateSink{q: q, live: live, log: log.With("component", "state_sink")}
}

func (s *StateSink) Run(ctx context.Context) {
	for {
		snap, ok := s.q.Pop(ctx)
		if !ok {
			return
		}

		// Collapse any queued snapshots for the same vehicle to the newest.
		latest := map[string]domain.VehicleState{snap.VehicleID: snap}
		for {
			more, ok := s.q.TryPop()
			if !ok {
				break
			}
			latest[more.VehicleID] = more
		}

		if s.live == nil {
			continue
		}
		for _, st := range latest {
			if err := s.live.UpdateLiveState(ctx, st); err != nil {
				s.log.Error("live state update failed", "vehicle_id", st.VehicleID, "error", err)
			}
		}
	}
}
