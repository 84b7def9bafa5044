package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleet-safety/monitor/internal/auth"
	"fleet-safety/monitor/internal/compliance"
	"fleet-safety/monitor/internal/config"
	"fleet-safety/monitor/internal/domain"
	"fleet-safety/monitor/internal/pipeline"
	"fleet-safety/monitor/internal/rules"
	"fleet-safety/monitor/internal/state"
)

var baseMS = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli()

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, authMW *AuthMiddleware) (*Server, *pipeline.Dispatcher) {
	t.Helper()
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
	states := state.NewStore(rules.New(policy, nil, checker))
	disp := pipeline.NewDispatcher(64, 64, 64)
	pipe := pipeline.New(states, disp, testLogger())

	s, err := NewServer(pipe, states, checker, disp.RecordQ, authMW, testLogger())
	require.NoError(t, err)
	return s, disp
}

func doJSON(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func telemetryBody(vehicleID string, tsMS int64, speed float64) map[string]interface{} {
	return map[string]interface{}{
		"vehicle_id":    vehicleID,
		"vehicle_class": "truck",
		"road_segment":  "NH48",
		"timestamp_ms":  tsMS,
		"speed_kmh":     speed,
		"lat":           28.61,
		"lon":           77.23,
	}
}

func TestIngestAccepted(t *testing.T) {
	s, disp := newTestServer(t, nil)

	w := doJSON(s, http.MethodPost, "/v1/telemetry", telemetryBody("VEH001", baseMS, 120))
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		Accepted bool `json:"accepted"`
		Alerts   int  `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Accepted)
	require.Equal(t, 1, resp.Alerts)

	alert, ok := disp.AlertQ.TryPop()
	require.True(t, ok)
	require.Equal(t, domain.AlertSpeedViolation, alert.Kind)
}

func TestIngestStaleConflict(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := doJSON(s, http.MethodPost, "/v1/telemetry", telemetryBody("VEH001", baseMS, 60))
	require.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(s, http.MethodPost, "/v1/telemetry", telemetryBody("VEH001", baseMS-5000, 60))
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestIngestMalformed(t *testing.T) {
	s, _ := newTestServer(t, nil)

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "missing required fields", body: map[string]interface{}{"vehicle_id": "VEH001"}},
		{name: "empty vehicle id", body: telemetryBody("", baseMS, 60)},
		{name: "negative speed", body: telemetryBody("VEH001", baseMS, -10)},
		{name: "wrong type", body: map[string]interface{}{
			"vehicle_id": "VEH001", "timestamp_ms": "yesterday", "speed_kmh": 60,
		}},
		{name: "latitude out of range", body: map[string]interface{}{
			"vehicle_id": "VEH001", "timestamp_ms": baseMS, "speed_kmh": 60, "lat": 123.0,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(s, http.MethodPost, "/v1/telemetry", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	t.Run("not json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/telemetry", bytes.NewBufferString("not json"))
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestIngestWithDriverAndCargo(t *testing.T) {
	s, disp := newTestServer(t, nil)

	body := telemetryBody("VEH001", baseMS, 60)
	body["driver"] = map[string]interface{}{"eye_closure_pct": 90.0}
	body["cargo_scan"] = map[string]interface{}{
		"qr":         "CARGO-001|Rice Bags|general|10|25",
		"scanned_by": "guard-07",
	}

	w := doJSON(s, http.MethodPost, "/v1/telemetry", body)
	require.Equal(t, http.StatusAccepted, w.Code)

	record, ok := disp.RecordQ.TryPop()
	require.True(t, ok)
	require.Equal(t, "CARGO-001", record.CargoID)
	require.True(t, record.Verdict.Pass)
}

func TestBatchEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	body := map[string]interface{}{
		"events": []map[string]interface{}{
			telemetryBody("VEH001", baseMS, 130),
			telemetryBody("VEH002", baseMS, 60),
			telemetryBody("VEH001", baseMS-5000, 130),
		},
	}
	w := doJSON(s, http.MethodPost, "/v1/telemetry/batch", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Violations []domain.AlertEvent `json:"violations"`
		Rejected   int                 `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Violations, 1)
	require.Equal(t, 1, resp.Rejected)
}

func TestCargoScanEndpoint(t *testing.T) {
	s, disp := newTestServer(t, nil)

	w := doJSON(s, http.MethodPost, "/v1/cargo/scan", map[string]interface{}{
		"vehicle_id":    "VEH001",
		"vehicle_class": "sleeper_coach",
		"qr":            "CARGO-002|Paint|chemicals|2|100|UN1263",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var record domain.ComplianceRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	require.Equal(t, "CARGO-002", record.CargoID)
	require.False(t, record.Verdict.Pass)
	require.NotEmpty(t, record.ID)

	queued, ok := disp.RecordQ.TryPop()
	require.True(t, ok)
	require.Equal(t, record.ID, queued.ID)
}

func TestCargoScanRejectsBadPayload(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := doJSON(s, http.MethodPost, "/v1/cargo/scan", map[string]interface{}{
		"vehicle_id": "VEH001",
		"qr":         "garbage",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(s, http.MethodPost, "/v1/cargo/scan", map[string]interface{}{"vehicle_id": "VEH001"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDepartureEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := doJSON(s, http.MethodPost, "/v1/cargo/departure", map[string]interface{}{
		"manifest_id":   "MAN-001",
		"vehicle_id":    "VEH001",
		"vehicle_class": "ac_coach",
		"items": []string{
			"CARGO-010|Rice Bags|general|10|25",
			"CARGO-011|Cells|lithium_batteries|1|10",
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var decision compliance.Decision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	require.False(t, decision.Approved)
	require.True(t, decision.VehicleLocked)
	require.Contains(t, decision.Violations, "prohibited_cargo:lithium_batteries_on_ac_coach")
}

func TestAlertsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	doJSON(s, http.MethodPost, "/v1/telemetry", telemetryBody("VEH001", baseMS, 130))

	w := doJSON(s, http.MethodGet, "/v1/vehicles/VEH001/alerts", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		VehicleID string              `json:"vehicle_id"`
		Alerts    []domain.AlertEvent `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "VEH001", resp.VehicleID)
	require.Len(t, resp.Alerts, 1)
	require.Equal(t, domain.AlertSpeedViolation, resp.Alerts[0].Kind)

	w = doJSON(s, http.MethodGet, "/v1/vehicles/GHOST/alerts", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStateEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	doJSON(s, http.MethodPost, "/v1/telemetry", telemetryBody("VEH001", baseMS, 72))

	w := doJSON(s, http.MethodGet, "/v1/vehicles/VEH001/state", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "VEH001", resp["vehicle_id"])
	require.Equal(t, 72.0, resp["speed_kmh"])

	w = doJSON(s, http.MethodGet, "/v1/vehicles/GHOST/state", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := doJSON(s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{
		ValidAPIKeys:        []string{"test_key"},
		AuthCacheTTLSeconds: 300,
	}
	authMW := NewAuthMiddleware(auth.NewAuthenticator(cfg, nil))
	s, _ := newTestServer(t, authMW)

	send := func(key string) int {
		var buf bytes.Buffer
		json.NewEncoder(&buf).Encode(telemetryBody("VEH001", baseMS, 60))
		req := httptest.NewRequest(http.MethodPost, "/v1/telemetry", &buf)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusUnauthorized, send(""))
	require.Equal(t, http.StatusUnauthorized, send("wrong_key"))
	require.Equal(t, http.StatusAccepted, send("test_key"))

	// Health stays reachable without a key.
	w := doJSON(s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestIngestUniqueAlertIDs(t *testing.T) {
	s, disp := newTestServer(t, nil)

	for i := 0; i < 3; i++ {
		body := telemetryBody("VEH001", baseMS+int64(i)*1000, 130)
		w := doJSON(s, http.MethodPost, "/v1/telemetry", body)
		require.Equal(t, http.StatusAccepted, w.Code, fmt.Sprintf("event %d", i))
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		alert, ok := disp.AlertQ.TryPop()
		require.True(t, ok)
		require.False(t, seen[alert.ID], "duplicate alert id %s", alert.ID)
		seen[alert.ID] = true
	}
}
