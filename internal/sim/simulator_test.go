package sim

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"fleet-safety/monitor/internal/compliance"
	"fleet-safety/monitor/internal/config"
	"fleet-safety/monitor/internal/pipeline"
	"fleet-safety/monitor/internal/rules"
	"fleet-safety/monitor/internal/state"
)

func TestSimulatorFeedsPipeline(t *testing.T) {
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
	disp := pipeline.NewDispatcher(256, 256, 1024)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipe := pipeline.New(store, disp, log)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	sim := New(pipe, 3, 10*time.Millisecond, 42, log)
	sim.Run(ctx)

	// Every vehicle must have produced state the store can serve.
	for _, id := range []string{"VEH001", "VEH002", "VEH003"} {
		if _, err := store.Snapshot(id); err != nil {
			t.Errorf("no state for %s: %v", id, err)
		}
	}
	if disp.StateQ.Len() == 0 {
		t.Error("no state snapshots dispatched")
	}
}

func TestVehicleSimStaysInBounds(t *testing.T) {
	s := New(nil, 1, time.Second, 7, slog.New(slog.NewTextHandler(io.Discard, nil)))
	v := s.vehicles[0]

	for i := 0; i < 500; i++ {
		ev := v.next()
		if ev.SpeedKmh < 0 || ev.SpeedKmh > 130 {
			t.Fatalf("speed out of bounds: %v", ev.SpeedKmh)
		}
		if ev.Driver.EyeClosurePct < 0 || ev.Driver.EyeClosurePct > 100 {
			t.Fatalf("eye closure out of bounds: %v", ev.Driver.EyeClosurePct)
		}
		if ev.VehicleID != "VEH001" || ev.VehicleClass != "truck" {
			t.Fatalf("vehicle identity drifted: %s %s", ev.VehicleID, ev.VehicleClass)
		}
	}
}
