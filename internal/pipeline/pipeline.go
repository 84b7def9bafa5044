// Package pipeline wires telemetry ingestion: events enter through Process,
// are evaluated inside the vehicle's state cell, and the outcomes fan out to
// bounded sink queues that downstream runners drain independently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fleet-safety/monitor/internal/domain"
	"fleet-safety/monitor/internal/metrics"
	"fleet-safety/monitor/internal/state"
)

type Pipeline struct {
	store      *state.Store
	dispatcher *Dispatcher
	log        *slog.Logger
}

func New(store *state.Store, dispatcher *Dispatcher, log *slog.Logger) *Pipeline {
	return &Pipeline{store: store, dispatcher: dispatcher, log: log.With("component", "pipeline")}
}

// Process ingests one telemetry event: validate, then evaluate and dispatch
// inside the vehicle's exclusion domain so per-vehicle outcome order matches
// acceptance order. Stale and malformed events return typed errors and leave
// state untouched.
func (p *Pipeline) Process(ctx context.Context, ev domain.TelemetryEvent) (domain.Outcomes, error) {
	metrics.EventsReceived.Add(1)

	if err := validate(ev); err != nil {
		metrics.EventsMalformed.Add(1)
		return domain.Outcomes{}, err
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}

	// Dispatch from inside the cell lock: a later same-vehicle event cannot
	// push its outcomes before this one's. Queue pushes never block, so the
	// lock is not held across I/O.
	_, outcomes, err := p.store.Apply(ctx, ev, func(snapshot domain.VehicleState, out domain.Outcomes) {
		p.dispatcher.Dispatch(out, snapshot)
	})
	if err != nil {
		if errors.Is(err, domain.ErrStaleEvent) {
			metrics.EventsStale.Add(1)
			p.log.Debug("stale event dropped", "vehicle_id", ev.VehicleID, "timestamp", ev.Timestamp)
		}
		return domain.Outcomes{}, err
	}
	return outcomes, nil
}

// ProcessBatch ingests a batch and returns the speed violations it produced,
// in input order. Rejected events (stale or malformed) are counted, not
// fatal: one bad event never blocks the rest of the batch.
func (p *Pipeline) ProcessBatch(ctx context.Context, events []domain.TelemetryEvent) (violations []domain.AlertEvent, rejected int) {
	for _, ev := range events {
		outcomes, err := p.Process(ctx, ev)
		if err != nil {
			rejected++
			continue
		}
		for _, alert := range outcomes.Alerts {
			if alert.Kind == domain.AlertSpeedViolation {
				violations = append(violations, alert)
			}
		}
	}
	return violations, rejected
}

func validate(ev domain.TelemetryEvent) error {
	switch {
	case ev.VehicleID == "":
		return fmt.Errorf("%w: missing vehicle_id", domain.ErrMalformedEvent)
	case ev.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", domain.ErrMalformedEvent)
	case ev.SpeedKmh < 0:
		return fmt.Errorf("%w: negative speed", domain.ErrMalformedEvent)
	}
	return nil
}
