// Package state holds the latest known state per vehicle. Each vehicle id
// owns an independent mutual-exclusion domain, so evaluation for one vehicle
// never contends with another's; a global lock is deliberately absent.
package state

import (
	"context"
	"fmt"
	"sync"

	"fleet-safety/monitor/internal/domain"
)

// Evaluator produces the updated state and outcomes for one event. It runs
// inside the vehicle's exclusion domain; at most one evaluation executes per
// vehicle at any instant.
type Evaluator interface {
	Evaluate(ctx context.Context, ev domain.TelemetryEvent, prior domain.VehicleState) (domain.VehicleState, domain.Outcomes, error)
}

type cell struct {
	mu    sync.Mutex
	state domain.VehicleState
}

// Store maps vehicle ids to owned state cells. Cells are created lazily on
// first sight of a vehicle id and live for the process lifetime.
type Store struct {
	cells sync.Map // vehicle id -> *cell
	eval  Evaluator
}

func NewStore(eval Evaluator) *Store {
	return &Store{eval: eval}
}

func (s *Store) cellFor(vehicleID string) *cell {
	if raw, ok := s.cells.Load(vehicleID); ok {
		return raw.(*cell)
	}
	raw, _ := s.cells.LoadOrStore(vehicleID, &cell{
		state: domain.VehicleState{
			VehicleID:        vehicleID,
			ComplianceStatus: domain.ComplianceUnknown,
			ActiveAlerts:     make(map[domain.AlertKind]domain.AlertEvent),
		},
	})
	return raw.(*cell)
}

// ApplyEvent runs one evaluation transaction for the event's vehicle. Events
// whose timestamp strictly precedes the stored state are rejected with
// ErrStaleEvent and leave state untouched.
func (s *Store) ApplyEvent(ctx context.Context, ev domain.TelemetryEvent) (domain.VehicleState, domain.Outcomes, error) {
	return s.Apply(ctx, ev, nil)
}

// Apply is ApplyEvent with a commit hook. The hook runs after the state
// transition and before the cell lock releases, so anything it does with the
// outcomes (queue pushes, publishes) happens in the same per-vehicle order in
// which events were accepted. The hook must not block.
func (s *Store) Apply(ctx context.Context, ev domain.TelemetryEvent, commit func(domain.VehicleState, domain.Outcomes)) (domain.VehicleState, domain.Outcomes, error) {
	if ev.VehicleID == "" {
		return domain.VehicleState{}, domain.Outcomes{}, fmt.Errorf("%w: missing vehicle_id", domain.ErrMalformedEvent)
	}

	c := s.cellFor(ev.VehicleID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.LastTimestamp.IsZero() && ev.Timestamp.Before(c.state.LastTimestamp) {
		return c.state.Clone(), domain.Outcomes{}, fmt.Errorf(
			"%w: event %s precedes state %s for %s",
			domain.ErrStaleEvent, ev.Timestamp.Format("15:04:05.000"),
			c.state.LastTimestamp.Format("15:04:05.000"), ev.VehicleID,
		)
	}

	next, outcomes, err := s.eval.Evaluate(ctx, ev, c.state)
	if err != nil {
		return c.state.Clone(), domain.Outcomes{}, err
	}
	c.state = next
	snapshot := next.Clone()
	if commit != nil {
		commit(snapshot, outcomes)
	}
	return snapshot, outcomes, nil
}

// Snapshot returns a copy of the vehicle's current state.
func (s *Store) Snapshot(vehicleID string) (domain.VehicleState, error) {
	raw, ok := s.cells.Load(vehicleID)
	if !ok {
		return domain.VehicleState{}, fmt.Errorf("%w: %s", domain.ErrUnknownVehicle, vehicleID)
	}
	c := raw.(*cell)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone(), nil
}

// LastTimestamp is a cheap admission check for the ingestion boundary; the
// authoritative check happens again under the cell lock in ApplyEvent.
func (s *Store) LastTimestamp(vehicleID string) (t int64, ok bool) {
	raw, found := s.cells.Load(vehicleID)
	if !found {
		return 0, false
	}
	c := raw.(*cell)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.LastTimestamp.IsZero() {
		return 0, false
	}
	return c.state.LastTimestamp.UnixNano(), true
}

// ActiveAlerts returns the vehicle's currently active alert set, ordered
// speed, driver-risk, cargo for stable responses.
func (s *Store) ActiveAlerts(vehicleID string) ([]domain.AlertEvent, error) {
	snap, err := s.Snapshot(vehicleID)
	if err != nil {
		return nil, err
	}
	ordered := []domain.AlertKind{
		domain.AlertSpeedViolation,
		domain.AlertDriverRisk,
		domain.AlertCargoNonCompliance,
	}
	out := make([]domain.AlertEvent, 0, len(snap.ActiveAlerts))
	for _, kind := range ordered {
		if a, ok := snap.ActiveAlerts[kind]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}
