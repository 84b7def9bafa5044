// Package rules implements the per-event rule evaluation: speed, then
// driver-risk, then cargo, in that order for every event. Evaluation is
// deterministic given (event, prior state) and the advisory answer; the
// advisory call is the only I/O on the path.
package rules

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"fleet-safety/monitor/internal/advisory"
	"fleet-safety/monitor/internal/compliance"
	"fleet-safety/monitor/internal/config"
	"fleet-safety/monitor/internal/domain"
)

type Evaluator struct {
	policy     config.Policy
	classifier advisory.Classifier
	checker    *compliance.Checker
	newID      func() string
}

// New builds an evaluator. classifier may be nil, in which case driver-risk
// alerts are always emitted in degraded mode from the local score.
func New(policy config.Policy, classifier advisory.Classifier, checker *compliance.Checker) *Evaluator {
	return &Evaluator{
		policy:     policy,
		classifier: classifier,
		checker:    checker,
		newID:      uuid.NewString,
	}
}

// WithIDFunc overrides alert/record id generation, for deterministic tests.
func (e *Evaluator) WithIDFunc(fn func() string) *Evaluator {
	e.newID = fn
	return e
}

// Evaluate applies all rules to one event against the prior state and
// returns the updated state plus the outcomes in emission order. The caller
// (the state store) guarantees event timestamps are non-decreasing.
func (e *Evaluator) Evaluate(ctx context.Context, ev domain.TelemetryEvent, prior domain.VehicleState) (domain.VehicleState, domain.Outcomes, error) {
	next := prior.Clone()
	next.VehicleID = ev.VehicleID
	if next.ActiveAlerts == nil {
		next.ActiveAlerts = make(map[domain.AlertKind]domain.AlertEvent)
	}
	if next.ComplianceStatus == "" {
		next.ComplianceStatus = domain.ComplianceUnknown
	}

	var out domain.Outcomes

	if alert, ok := e.speedRule(ev, &next); ok {
		out.Alerts = append(out.Alerts, alert)
	}

	e.pushSample(ev, prior, &next)

	if alert, ok := e.driverRiskRule(ctx, ev, &next); ok {
		out.Alerts = append(out.Alerts, alert)
	}

	if ev.CargoScan != nil {
		alert, record := e.cargoRule(ev, &next)
		out.Records = append(out.Records, record)
		if alert != nil {
			out.Alerts = append(out.Alerts, *alert)
		}
	}

	next.LastSpeedKmh = ev.SpeedKmh
	next.LastLatitude = ev.Latitude
	next.LastLongitude = ev.Longitude
	next.LastTimestamp = ev.Timestamp

	return next, out, nil
}

// speedRule maps the excess over the configured limit onto the three-tier
// severity band, escalating one tier for sustained runs and clamping at
// Critical.
func (e *Evaluator) speedRule(ev domain.TelemetryEvent, next *domain.VehicleState) (domain.AlertEvent, bool) {
	limit := e.policy.LimitFor(ev.VehicleClass, ev.RoadSegment)
	overBy := ev.SpeedKmh - limit
	if overBy <= 0 {
		delete(next.ActiveAlerts, domain.AlertSpeedViolation)
		next.OverspeedSince = nil
		return domain.AlertEvent{}, false
	}

	if next.OverspeedSince == nil {
		t := ev.Timestamp
		next.OverspeedSince = &t
	}
	sustained := ev.Timestamp.Sub(*next.OverspeedSince) >= time.Duration(e.policy.SustainedSeconds)*time.Second

	overPct := overBy / limit
	var sev domain.Severity
	switch {
	case overPct >= e.policy.SpeedCriticalPct:
		sev = domain.SeverityCritical
	case overPct >= e.policy.SpeedHighPct:
		sev = domain.SeverityHigh
	case overPct >= e.policy.SpeedWarnPct:
		sev = domain.SeverityWarning
	default:
		return domain.AlertEvent{}, false
	}
	if sustained {
		sev = escalate(sev)
	}

	alert := domain.AlertEvent{
		ID:        e.newID(),
		VehicleID: ev.VehicleID,
		Kind:      domain.AlertSpeedViolation,
		Severity:  sev,
		Timestamp: ev.Timestamp,
		Evidence: domain.AlertEvidence{
			SpeedKmh:      ev.SpeedKmh,
			SpeedLimitKmh: limit,
			OverByKmh:     overBy,
			OverPct:       math.Round(overPct*1000) / 1000,
			Sustained:     sustained,
		},
		Actions: driverActions(sev, false),
	}
	next.ActiveAlerts[domain.AlertSpeedViolation] = alert
	return alert, true
}

func (e *Evaluator) pushSample(ev domain.TelemetryEvent, prior domain.VehicleState, next *domain.VehicleState) {
	var delta float64
	if !prior.LastTimestamp.IsZero() {
		delta = ev.SpeedKmh - prior.LastSpeedKmh
	}
	next.Window = append(next.Window, domain.WindowSample{
		Timestamp:    ev.Timestamp,
		SpeedKmh:     ev.SpeedKmh,
		SpeedDelta:   delta,
		Harsh:        ev.HarshManeuver,
		FatigueScore: fatigueScore(ev.Driver),
	})
	if n := e.policy.WindowSize; n > 0 && len(next.Window) > n {
		next.Window = next.Window[len(next.Window)-n:]
	}
}

// driverRiskRule aggregates the rolling window; crossing the threshold asks
// the advisory bridge for a classification. A failed or absent bridge
// degrades to the local heuristic, tagged as degraded.
func (e *Evaluator) driverRiskRule(ctx context.Context, ev domain.TelemetryEvent, next *domain.VehicleState) (domain.AlertEvent, bool) {
	window := buildWindow(ev.VehicleID, next.Window)
	if window.LocalScore < e.policy.RiskThreshold {
		delete(next.ActiveAlerts, domain.AlertDriverRisk)
		return domain.AlertEvent{}, false
	}

	var rc domain.RiskClassification
	degraded := true
	if e.classifier != nil {
		if got, err := e.classifier.Classify(ctx, ev.VehicleID, window); err == nil {
			rc = got
			degraded = false
		}
	}
	if degraded {
		rc = localClassification(window.LocalScore, e.policy.SleepThreshold)
	}

	if rc.State == "normal" {
		delete(next.ActiveAlerts, domain.AlertDriverRisk)
		return domain.AlertEvent{}, false
	}

	sev := domain.SeverityHigh
	if rc.State == "sleep" {
		sev = domain.SeverityCritical
	}

	alert := domain.AlertEvent{
		ID:        e.newID(),
		VehicleID: ev.VehicleID,
		Kind:      domain.AlertDriverRisk,
		Severity:  sev,
		Timestamp: ev.Timestamp,
		Evidence: domain.AlertEvidence{
			RiskScore: rc.RiskScore,
			RiskState: rc.State,
			Degraded:  degraded,
		},
		Actions: driverActions(sev, true),
	}
	next.ActiveAlerts[domain.AlertDriverRisk] = alert
	return alert, true
}

func (e *Evaluator) cargoRule(ev domain.TelemetryEvent, next *domain.VehicleState) (*domain.AlertEvent, domain.ComplianceRecord) {
	item, verdict, _ := e.checker.CheckQR(ev.CargoScan.QRPayload, ev.VehicleClass)

	record := domain.ComplianceRecord{
		ID:        e.newID(),
		CargoID:   item.ItemID,
		VehicleID: ev.VehicleID,
		Timestamp: ev.Timestamp,
		Verdict:   verdict,
	}

	if verdict.Pass {
		next.ComplianceStatus = domain.ComplianceCompliant
		delete(next.ActiveAlerts, domain.AlertCargoNonCompliance)
		return nil, record
	}

	next.ComplianceStatus = domain.ComplianceViolation
	alert := domain.AlertEvent{
		ID:        e.newID(),
		VehicleID: ev.VehicleID,
		Kind:      domain.AlertCargoNonCompliance,
		Severity:  domain.SeverityHigh,
		Timestamp: ev.Timestamp,
		Evidence: domain.AlertEvidence{
			CargoID: item.ItemID,
			Reasons: verdict.Reasons,
		},
	}
	next.ActiveAlerts[domain.AlertCargoNonCompliance] = alert
	return &alert, record
}

// fatigueScore folds driver-monitoring signals into a 0-120 score.
func fatigueScore(d *domain.DriverSignals) float64 {
	if d == nil {
		return 0
	}
	score := 0.0
	switch {
	case d.EyeClosurePct > 80:
		score += 50
	case d.EyeClosurePct > 40:
		score += 30
	}
	if d.BlinkDurationMs > 400 {
		score += 20
	}
	if d.YawningRatePerMin > 4 {
		score += 20
	}
	if d.SteeringVariability > 0.2 {
		score += 10
	}
	if d.LaneDepartures > 0 {
		score += 20
	}
	return score
}

func buildWindow(vehicleID string, samples []domain.WindowSample) domain.TelemetryWindow {
	w := domain.TelemetryWindow{VehicleID: vehicleID, Samples: samples}
	if len(samples) == 0 {
		return w
	}

	var speedSum, deltaSum, maxFatigue float64
	for _, s := range samples {
		speedSum += s.SpeedKmh
		deltaSum += math.Abs(s.SpeedDelta)
		if s.Harsh {
			w.HarshCount++
		}
		if s.FatigueScore > maxFatigue {
			maxFatigue = s.FatigueScore
		}
	}
	w.MeanSpeedKmh = speedSum / float64(len(samples))

	// Local score: peak fatigue in the window, boosted by harsh maneuvers
	// and erratic speed changes.
	boost := math.Min(20, float64(w.HarshCount)*5)
	if deltaSum/float64(len(samples)) > 8 {
		boost += 10
	}
	w.LocalScore = maxFatigue + boost
	return w
}

func localClassification(score, sleepThreshold float64) domain.RiskClassification {
	state := "fatigue"
	if score >= sleepThreshold {
		state = "sleep"
	}
	return domain.RiskClassification{State: state, RiskScore: score, Source: "local"}
}

// driverActions is the graduated in-cab response for an alert severity.
// Critical driver-risk alerts additionally dispatch an SOS.
func driverActions(sev domain.Severity, driverRisk bool) []domain.SafetyAction {
	actions := []domain.SafetyAction{domain.ActionAlertTone, domain.ActionCabinLights}
	if sev == domain.SeverityCritical {
		actions = append(actions, domain.ActionSeatVibration)
		if driverRisk {
			actions = append(actions, domain.ActionSOSDispatch)
		}
	}
	return actions
}

func escalate(sev domain.Severity) domain.Severity {
	switch sev {
	case domain.SeverityWarning:
		return domain.SeverityHigh
	default:
		return domain.SeverityCritical
	}
}
