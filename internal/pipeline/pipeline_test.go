package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fleet-safety/monitor/internal/compliance"
	"fleet-safety/monitor/internal/config"
	"fleet-safety/monitor/internal/domain"
	"fleet-safety/monitor/internal/rules"
	"fleet-safety/monitor/internal/state"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPipeline() (*Pipeline, *Dispatcher) {
	policy := config.Policy{
		DefaultSpeedLimitKmh: 80,
		SpeedWarnPct:         0.10,
		SpeedHighPct:         0.30,
		SpeedCriticalPct:     0.50,
		SustainedSeconds:     10,
		WindowSize:           12,
		RiskThreshold:        30,
		SleepThreshold:       60,
	}
	checker := compliance.NewChecker(compliance.DefaultSnapshot())
	store := state.NewStore(rules.New(policy, nil, checker))
	disp := NewDispatcher(64, 64, 64)
	return New(store, disp, testLogger()), disp
}

func telemetry(vehicleID string, at time.Time, speed float64) domain.TelemetryEvent {
	return domain.TelemetryEvent{
		VehicleID:    vehicleID,
		VehicleClass: "truck",
		Timestamp:    at,
		SpeedKmh:     speed,
	}
}

func TestProcessDispatchesOutcomes(t *testing.T) {
	pipe, disp := testPipeline()
	ctx := context.Background()

	out, err := pipe.Process(ctx, telemetry("VEH001", t0, 120))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out.Alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(out.Alerts))
	}

	alert, ok := disp.AlertQ.TryPop()
	if !ok {
		t.Fatal("alert queue empty after dispatch")
	}
	if alert.Kind != domain.AlertSpeedViolation || alert.VehicleID != "VEH001" {
		t.Errorf("queued alert = %+v", alert)
	}

	snap, ok := disp.StateQ.TryPop()
	if !ok {
		t.Fatal("state queue empty after dispatch")
	}
	if snap.VehicleID != "VEH001" || snap.LastSpeedKmh != 120 {
		t.Errorf("queued snapshot = %+v", snap)
	}
}

func TestProcessCargoScanDispatchesRecord(t *testing.T) {
	pipe, disp := testPipeline()

	ev := telemetry("VEH001", t0, 60)
	ev.CargoScan = &domain.CargoScan{QRPayload: "CARGO-001|Rice Bags|general|10|25"}

	out, err := pipe.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(out.Records))
	}

	record, ok := disp.RecordQ.TryPop()
	if !ok {
		t.Fatal("record queue empty after dispatch")
	}
	if record.CargoID != "CARGO-001" || !record.Verdict.Pass {
		t.Errorf("queued record = %+v", record)
	}
}

func TestProcessRejectsMalformed(t *testing.T) {
	pipe, disp := testPipeline()
	ctx := context.Background()

	tests := []struct {
		name string
		ev   domain.TelemetryEvent
	}{
		{name: "missing vehicle id", ev: telemetry("", t0, 60)},
		{name: "zero timestamp", ev: telemetry("VEH001", time.Time{}, 60)},
		{name: "negative speed", ev: telemetry("VEH001", t0, -5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := pipe.Process(ctx, tt.ev); !errors.Is(err, domain.ErrMalformedEvent) {
				t.Errorf("err = %v, want ErrMalformedEvent", err)
			}
		})
	}
	if disp.StateQ.Len() != 0 {
		t.Error("malformed events reached the dispatcher")
	}
}

func TestProcessRejectsStaleWithoutDispatch(t *testing.T) {
	pipe, disp := testPipeline()
	ctx := context.Background()

	if _, err := pipe.Process(ctx, telemetry("VEH001", t0.Add(time.Minute), 60)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	queued := disp.StateQ.Len()

	if _, err := pipe.Process(ctx, telemetry("VEH001", t0, 60)); !errors.Is(err, domain.ErrStaleEvent) {
		t.Fatalf("err = %v, want ErrStaleEvent", err)
	}
	if disp.StateQ.Len() != queued {
		t.Error("stale event dispatched a state snapshot")
	}
}

func TestProcessConcurrentSameVehicleDispatchOrder(t *testing.T) {
	policy := config.Policy{
		DefaultSpeedLimitKmh: 80,
		SpeedWarnPct:         0.10,
		SpeedHighPct:         0.30,
		SpeedCriticalPct:     0.50,
		SustainedSeconds:     10,
		WindowSize:           12,
		RiskThreshold:        30,
		SleepThreshold:       60,
	}
	store := state.NewStore(rules.New(policy, nil, compliance.NewChecker(compliance.DefaultSnapshot())))
	disp := NewDispatcher(1024, 1024, 1024)
	pipe := New(store, disp, testLogger())
	ctx := context.Background()

	const events = 400
	var next atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := next.Add(1) - 1
				if i >= events {
					return
				}
				// Racing goroutines may apply a later event first; the
				// earlier one is then rejected as stale, never reordered.
				pipe.Process(ctx, telemetry("VEH001", t0.Add(time.Duration(i)*time.Second), 60))
			}
		}()
	}
	wg.Wait()

	var prev time.Time
	popped := 0
	for {
		snap, ok := disp.StateQ.TryPop()
		if !ok {
			break
		}
		popped++
		if !snap.LastTimestamp.After(prev) {
			t.Fatalf("snapshot %d out of order: %s after %s", popped, snap.LastTimestamp, prev)
		}
		prev = snap.LastTimestamp
	}
	if popped == 0 {
		t.Fatal("no state snapshots dispatched")
	}
}

func TestProcessBatch(t *testing.T) {
	pipe, _ := testPipeline()

	// Two violations, one clean event, one stale, one malformed.
	events := []domain.TelemetryEvent{
		telemetry("VEH001", t0, 120),
		telemetry("VEH002", t0, 60),
		telemetry("VEH001", t0.Add(time.Second), 125),
		telemetry("VEH001", t0, 99),
		telemetry("", t0, 10),
	}

	violations, rejected := pipe.ProcessBatch(context.Background(), events)
	if len(violations) != 2 {
		t.Errorf("violations = %d, want 2", len(violations))
	}
	if rejected != 2 {
		t.Errorf("rejected = %d, want 2", rejected)
	}
	for _, v := range violations {
		if v.Kind != domain.AlertSpeedViolation {
			t.Errorf("violation kind = %s", v.Kind)
		}
	}
}
