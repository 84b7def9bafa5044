// Package sim feeds generated telemetry into the pipeline, one goroutine per
// simulated vehicle. It exists for local runs and load checks; production
// traffic arrives over the ingestion boundary instead.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"fleet-safety/monitor/internal/domain"
	"fleet-safety/monitor/internal/pipeline"
)

type Simulator struct {
	pipe     *pipeline.Pipeline
	interval time.Duration
	log      *slog.Logger
	vehicles []*vehicleSim
}

type vehicleSim struct {
	id       string
	class    string
	segment  string
	rng      *rand.Rand
	speed    float64
	eyePct   float64
	yawnRate float64
	blinkMs  float64
	lat, lon float64
}

// New builds a simulator with n vehicles driving the Delhi-Jaipur corridor.
func New(pipe *pipeline.Pipeline, n int, interval time.Duration, seed int64, log *slog.Logger) *Simulator {
	s := &Simulator{
		pipe:     pipe,
		interval: interval,
		log:      log.With("component", "sim"),
	}
	classes := []string{"truck", "bus", "ac_coach", "sleeper_coach"}
	for i := 0; i < n; i++ {
		s.vehicles = append(s.vehicles, &vehicleSim{
			id:       fmt.Sprintf("VEH%03d", i+1),
			class:    classes[i%len(classes)],
			segment:  "NH48",
			rng:      rand.New(rand.NewSource(seed + int64(i))),
			speed:    60,
			eyePct:   30,
			yawnRate: 2,
			blinkMs:  200,
			lat:      28.45,
			lon:      77.02,
		})
	}
	return s
}

// Run drives all vehicle feeds until the context ends.
func (s *Simulator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, v := range s.vehicles {
		wg.Add(1)
		go func(v *vehicleSim) {
			defer wg.Done()
			s.drive(ctx, v)
		}(v)
	}
	wg.Wait()
}

func (s *Simulator) drive(ctx context.Context, v *vehicleSim) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ev := v.next()
			if _, err := s.pipe.Process(ctx, ev); err != nil {
				s.log.Debug("event rejected", "vehicle_id", v.id, "error", err)
			}
		}
	}
}

func (v *vehicleSim) next() domain.TelemetryEvent {
	v.speed = clamp(v.speed+v.rng.Float64()*10-5, 0, 130)
	v.eyePct = clamp(v.eyePct+v.rng.Float64()*13-5, 0, 100)
	v.yawnRate = clamp(v.yawnRate+v.rng.Float64()*1.5-0.5, 0, 10)
	v.blinkMs = clamp(v.blinkMs+v.rng.Float64()*50-20, 100, 500)
	v.lat += (v.rng.Float64() - 0.5) * 0.001
	v.lon += (v.rng.Float64() - 0.5) * 0.001

	ev := domain.TelemetryEvent{
		Timestamp:     time.Now(),
		VehicleID:     v.id,
		VehicleClass:  v.class,
		RoadSegment:   v.segment,
		Latitude:      v.lat,
		Longitude:     v.lon,
		SpeedKmh:      v.speed,
		HarshManeuver: v.rng.Float64() < 0.05,
		Driver: &domain.DriverSignals{
			EyeClosurePct:       v.eyePct,
			BlinkDurationMs:     v.blinkMs,
			YawningRatePerMin:   v.yawnRate,
			SteeringVariability: v.rng.Float64(),
			LaneDepartures:      laneDepartures(v.rng),
		},
	}

	// Rare depot-style cargo scan mid-stream.
	if v.rng.Float64() < 0.02 {
		ev.CargoScan = &domain.CargoScan{
			QRPayload: fmt.Sprintf("CARGO-%04d|Machine Parts|machinery|2|450.0|", v.rng.Intn(10000)),
			ScannedBy: "depot_gate_2",
		}
	}
	return ev
}

func laneDepartures(rng *rand.Rand) int {
	if rng.Float64() < 0.1 {
		return rng.Intn(3)
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
