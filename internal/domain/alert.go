package domain

import "time"

type AlertKind string

const (
	AlertSpeedViolation     AlertKind = "SPEED_VIOLATION"
	AlertDriverRisk         AlertKind = "DRIVER_RISK"
	AlertCargoNonCompliance AlertKind = "CARGO_NON_COMPLIANCE"
)

// Severity is a three-tier band. Speed violations map the excess ratio onto
// it and clamp at Critical; there is no drift past the top tier.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SafetyAction is one graduated in-cab response recorded on an alert:
// alert tone, flashing cabin lights, seat vibration, SOS dispatch.
type SafetyAction string

const (
	ActionAlertTone     SafetyAction = "DRIVER_ALERT_TONE"
	ActionCabinLights   SafetyAction = "FLASH_CABIN_LIGHTS"
	ActionSeatVibration SafetyAction = "SEAT_VIBRATION"
	ActionSOSDispatch   SafetyAction = "SOS_DISPATCH"
)

// AlertEvent is an append-only fact emitted by the rule evaluator. It is
// never mutated after emission.
type AlertEvent struct {
	ID        string         `json:"id"`
	VehicleID string         `json:"vehicle_id"`
	Kind      AlertKind      `json:"kind"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	Evidence  AlertEvidence  `json:"evidence"`
	Actions   []SafetyAction `json:"actions,omitempty"`
}

// AlertEvidence captures the measurements behind an alert. Only the fields
// relevant to the alert's kind are populated.
type AlertEvidence struct {
	SpeedKmh      float64 `json:"speed_kmh,omitempty"`
	SpeedLimitKmh float64 `json:"speed_limit_kmh,omitempty"`
	OverByKmh     float64 `json:"over_by_kmh,omitempty"`
	OverPct       float64 `json:"over_pct,omitempty"`
	Sustained     bool    `json:"sustained,omitempty"`

	RiskScore float64 `json:"risk_score,omitempty"`
	RiskState string  `json:"risk_state,omitempty"`
	Degraded  bool    `json:"degraded,omitempty"`

	CargoID string   `json:"cargo_id,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
}

// Verdict is the cargo compliance checker's answer for one scan.
type Verdict struct {
	Pass    bool     `json:"pass"`
	Reasons []string `json:"reasons"`
}

// ComplianceRecord is the append-only record of one cargo compliance check.
type ComplianceRecord struct {
	ID        string    `json:"id"`
	CargoID   string    `json:"cargo_id"`
	VehicleID string    `json:"vehicle_id"`
	Timestamp time.Time `json:"timestamp"`
	Verdict   Verdict   `json:"verdict"`
}

// Outcomes is everything one evaluation transaction produced, in emission
// order: speed alerts first, then driver-risk, then cargo.
type Outcomes struct {
	Alerts  []AlertEvent
	Records []ComplianceRecord
}

func (o Outcomes) Empty() bool {
	return len(o.Alerts) == 0 && len(o.Records) == 0
}
