package domain

import "time"

// TelemetryEvent is one timestamped observation from a vehicle. Events are
// immutable once created; per vehicle, timestamps are expected to be
// non-decreasing and older events are rejected at the state store.
type TelemetryEvent struct {
	ReceivedAt time.Time

	Timestamp    time.Time
	VehicleID    string
	VehicleClass string
	RoadSegment  string

	Latitude  float64
	Longitude float64

	SpeedKmh      float64
	HarshManeuver bool

	Driver    *DriverSignals
	CargoScan *CargoScan
}

// DriverSignals carries the driver-monitoring metrics attached to an event.
// All fields are optional in the wire payload; zero values score zero.
type DriverSignals struct {
	EyeClosurePct       float64
	BlinkDurationMs     float64
	YawningRatePerMin   float64
	SteeringVariability float64
	LaneDepartures      int
}

// CargoScan is a decoded cargo QR payload attached to a telemetry event.
// Payload format: ITEM_ID|NAME|TYPE|QUANTITY|WEIGHT_KG|HAZMAT_CODE
type CargoScan struct {
	QRPayload string
	ScannedBy string
}

type ComplianceStatus string

const (
	ComplianceUnknown   ComplianceStatus = "UNKNOWN"
	ComplianceCompliant ComplianceStatus = "COMPLIANT"
	ComplianceViolation ComplianceStatus = "VIOLATION"
)

// WindowSample is one entry of the per-vehicle rolling window used by the
// driver-risk rule.
type WindowSample struct {
	Timestamp    time.Time `json:"timestamp"`
	SpeedKmh     float64   `json:"speed_kmh"`
	SpeedDelta   float64   `json:"speed_delta"`
	Harsh        bool      `json:"harsh"`
	FatigueScore float64   `json:"fatigue_score"`
}

// VehicleState is the latest known state for one vehicle. It is owned by the
// state store and mutated only inside a single evaluation transaction per
// vehicle; copies handed out to callers are value snapshots.
type VehicleState struct {
	VehicleID        string
	LastSpeedKmh     float64
	LastLatitude     float64
	LastLongitude    float64
	LastTimestamp    time.Time
	ComplianceStatus ComplianceStatus

	// ActiveAlerts holds the most recent alert per kind whose triggering
	// condition has not yet subsided.
	ActiveAlerts map[AlertKind]AlertEvent

	// Window holds the last N samples, oldest first.
	Window []WindowSample

	// OverspeedSince marks the start of a continuous overspeed run, for
	// sustained-violation escalation.
	OverspeedSince *time.Time
}

// Clone returns a deep copy safe to hand across goroutines.
func (s VehicleState) Clone() VehicleState {
	out := s
	if s.ActiveAlerts != nil {
		out.ActiveAlerts = make(map[AlertKind]AlertEvent, len(s.ActiveAlerts))
		for k, v := range s.ActiveAlerts {
			out.ActiveAlerts[k] = v
		}
	}
	if s.Window != nil {
		out.Window = append([]WindowSample(nil), s.Window...)
	}
	if s.OverspeedSince != nil {
		t := *s.OverspeedSince
		out.OverspeedSince = &t
	}
	return out
}

// TelemetryWindow is the recent-telemetry summary sent to the advisory
// service; it is built from the rolling window and discarded after the call.
type TelemetryWindow struct {
	VehicleID    string         `json:"vehicle_id"`
	Samples      []WindowSample `json:"samples"`
	LocalScore   float64        `json:"local_score"`
	HarshCount   int            `json:"harsh_count"`
	MeanSpeedKmh float64        `json:"mean_speed_kmh"`
}

// RiskClassification is the advisory service's answer for one window.
type RiskClassification struct {
	State     string  `json:"state"` // normal | fatigue | sleep
	RiskScore float64 `json:"risk_score"`
	Source    string  `json:"source"` // remote | local
}
