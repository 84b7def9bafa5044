package compliance

import (
	"fmt"
	"time"
)

// Manifest is the set of scanned cargo items presented at depot departure.
type Manifest struct {
	ManifestID string
	VehicleID  string
	Class      string
	Items      []CargoItem
	ScannedBy  string
}

func (m Manifest) TotalWeightKg() float64 {
	var total float64
	for _, item := range m.Items {
		total += item.WeightKg * float64(item.Quantity)
	}
	return total
}

// Decision is the pre-departure approval outcome for one manifest.
type Decision struct {
	Approved      bool      `json:"approved"`
	VehicleID     string    `json:"vehicle_id"`
	ManifestID    string    `json:"manifest_id"`
	VehicleLocked bool      `json:"vehicle_locked"`
	Violations    []string  `json:"violations"`
	CheckedAt     time.Time `json:"checked_at"`
}

// ProcessDeparture runs every item of a manifest through the checker plus a
// manifest-level weight check, and blocks departure on any violation.
func (c *Checker) ProcessDeparture(m Manifest) Decision {
	var violations []string

	for _, item := range m.Items {
		verdict := c.Check(item, m.Class)
		violations = append(violations, verdict.Reasons...)
	}

	if limit, ok := c.snap.WeightLimitsKg[m.Class]; ok {
		if total := m.TotalWeightKg(); total > limit {
			violations = append(violations,
				fmt.Sprintf("manifest_overweight:%.0fkg_limit_%.0fkg", total, limit))
		}
	}

	approved := len(violations) == 0
	return Decision{
		Approved:      approved,
		VehicleID:     m.VehicleID,
		ManifestID:    m.ManifestID,
		VehicleLocked: !approved,
		Violations:    violations,
		CheckedAt:     c.now(),
	}
}
