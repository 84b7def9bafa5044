// Package compliance evaluates cargo scans against a fixed regulatory
// reference snapshot. A Checker is immutable: updated reference data means a
// new Checker, never a mutation of a shared one mid-evaluation.
package compliance

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"fleet-safety/monitor/internal/domain"
)

// CargoItem is one decoded cargo QR payload.
type CargoItem struct {
	ItemID     string
	Name       string
	CargoType  string
	Quantity   int
	WeightKg   float64
	HazmatCode string
}

// Permit is a transport permit entry in the regulatory snapshot.
type Permit struct {
	CargoID string    `json:"cargo_id"`
	Expiry  time.Time `json:"expiry"`
}

// Snapshot is the regulatory reference data a Checker evaluates against.
type Snapshot struct {
	// ProhibitedCargo maps vehicle class to cargo types it may not carry.
	ProhibitedCargo map[string][]string `json:"prohibited_cargo"`
	// WeightLimitsKg maps vehicle class to its maximum cargo weight.
	WeightLimitsKg map[string]float64 `json:"weight_limits_kg"`
	// Permits maps cargo id to its transport permit.
	Permits map[string]Permit `json:"permits"`
}

// DefaultSnapshot returns the built-in regulatory tables.
func DefaultSnapshot() *Snapshot {
	return &Snapshot{
		ProhibitedCargo: map[string][]string{
			"sleeper_coach": {"hazmat", "lithium_batteries", "chemicals"},
			"ac_coach":      {"hazmat", "lithium_batteries"},
			"non_ac_coach":  {"lithium_batteries"},
			"bus":           {},
			"truck":         {},
		},
		WeightLimitsKg: map[string]float64{
			"sleeper_coach": 5000,
			"ac_coach":      6000,
			"non_ac_coach":  6000,
			"bus":           7000,
			"truck":         20000,
		},
		Permits: map[string]Permit{},
	}
}

// LoadSnapshot reads a snapshot from a JSON file.
func LoadSnapshot(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read regulatory snapshot: %w", err)
	}
	snap := &Snapshot{}
	if err := json.Unmarshal(raw, snap); err != nil {
		return nil, fmt.Errorf("parse regulatory snapshot: %w", err)
	}
	return snap, nil
}

// ParseQR decodes a cargo QR payload.
// Format: ITEM_ID|NAME|TYPE|QUANTITY|WEIGHT_KG|HAZMAT_CODE (hazmat optional).
func ParseQR(raw string) (CargoItem, error) {
	parts := strings.Split(raw, "|")
	if len(parts) < 5 {
		return CargoItem{}, fmt.Errorf("%w: want at least 5 fields, got %d", domain.ErrInvalidQR, len(parts))
	}
	qty, err := strconv.Atoi(parts[3])
	if err != nil {
		return CargoItem{}, fmt.Errorf("%w: quantity %q", domain.ErrInvalidQR, parts[3])
	}
	weight, err := strconv.ParseFloat(parts[4], 64)
	if err != nil {
		return CargoItem{}, fmt.Errorf("%w: weight %q", domain.ErrInvalidQR, parts[4])
	}
	item := CargoItem{
		ItemID:    parts[0],
		Name:      parts[1],
		CargoType: strings.ToLower(parts[2]),
		Quantity:  qty,
		WeightKg:  weight,
	}
	if len(parts) > 5 {
		item.HazmatCode = parts[5]
	}
	if item.ItemID == "" {
		return CargoItem{}, fmt.Errorf("%w: empty item id", domain.ErrInvalidQR)
	}
	return item, nil
}

// Checker evaluates cargo items against one regulatory snapshot. Stateless
// and deterministic: identical inputs always produce identical verdicts.
type Checker struct {
	snap *Snapshot
	now  func() time.Time
}

func NewChecker(snap *Snapshot) *Checker {
	return &Checker{snap: snap, now: time.Now}
}

// NewCheckerAt fixes the clock used for permit expiry, for deterministic
// evaluation in tests.
func NewCheckerAt(snap *Snapshot, now func() time.Time) *Checker {
	return &Checker{snap: snap, now: now}
}

// Check evaluates one decoded item for a vehicle class.
func (c *Checker) Check(item CargoItem, vehicleClass string) domain.Verdict {
	var reasons []string

	class := strings.ToLower(vehicleClass)
	for _, prohibited := range c.snap.ProhibitedCargo[class] {
		if item.CargoType == prohibited {
			reasons = append(reasons, fmt.Sprintf("prohibited_cargo:%s_on_%s", item.CargoType, class))
		}
	}

	if limit, ok := c.snap.WeightLimitsKg[class]; ok {
		total := item.WeightKg * float64(item.Quantity)
		if total > limit {
			reasons = append(reasons, fmt.Sprintf("overweight:%.0fkg_limit_%.0fkg", total, limit))
		}
	}

	if permit, ok := c.snap.Permits[item.ItemID]; ok {
		if !permit.Expiry.After(c.now()) {
			reasons = append(reasons, "expired_permit")
		}
	}

	return domain.Verdict{Pass: len(reasons) == 0, Reasons: reasons}
}

// CheckQR decodes a QR payload and evaluates it. An undecodable payload is a
// failing verdict, not an error, so stream evaluation never aborts on it.
func (c *Checker) CheckQR(qr, vehicleClass string) (CargoItem, domain.Verdict, error) {
	item, err := ParseQR(qr)
	if err != nil {
		return CargoItem{}, domain.Verdict{Pass: false, Reasons: []string{"invalid_qr"}}, err
	}
	return item, c.Check(item, vehicleClass), nil
}
