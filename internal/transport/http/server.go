// Package http exposes the monitor's boundaries: telemetry ingestion, batch
// speed processing, cargo scans, departure checks, and per-vehicle alert and
// state lookups. Routing, status codes, and payload validation live here;
// the core only hands back typed results for this layer to translate.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"fleet-safety/monitor/internal/compliance"
	"fleet-safety/monitor/internal/domain"
	"fleet-safety/monitor/internal/metrics"
	"fleet-safety/monitor/internal/pipeline"
	"fleet-safety/monitor/internal/state"
)

type Server struct {
	router  *mux.Router
	pipe    *pipeline.Pipeline
	states  *state.Store
	checker *compliance.Checker
	records *pipeline.Queue[domain.ComplianceRecord]
	schema  *jsonschema.Schema
	log     *slog.Logger
}

// NewServer wires the routes. authMW may be nil to serve unauthenticated
// (tests, local simulation).
func NewServer(
	pipe *pipeline.Pipeline,
	states *state.Store,
	checker *compliance.Checker,
	records *pipeline.Queue[domain.ComplianceRecord],
	authMW *AuthMiddleware,
	log *slog.Logger,
) (*Server, error) {
	schema, err := compileTelemetrySchema()
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:  mux.NewRouter(),
		pipe:    pipe,
		states:  states,
		checker: checker,
		records: records,
		schema:  schema,
		log:     log.With("component", "http"),
	}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", metrics.HandleMetrics).Methods(http.MethodGet)

	api := s.router.PathPrefix("/v1").Subrouter()
	if authMW != nil {
		api.Use(authMW.Wrap)
	}
	api.HandleFunc("/telemetry", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/telemetry/batch", s.handleBatch).Methods(http.MethodPost)
	api.HandleFunc("/cargo/scan", s.handleCargoScan).Methods(http.MethodPost)
	api.HandleFunc("/cargo/departure", s.handleDeparture).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{id}/alerts", s.handleAlerts).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}/state", s.handleState).Methods(http.MethodGet)

	return s, nil
}

func (s *Server) Router() *mux.Router {
	return s.router
}

type telemetryPayload struct {
	VehicleID    string  `json:"vehicle_id"`
	VehicleClass string  `json:"vehicle_class"`
	RoadSegment  string  `json:"road_segment"`
	TimestampMS  int64   `json:"timestamp_ms"`
	SpeedKmh     float64 `json:"speed_kmh"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	Harsh        bool    `json:"harsh_maneuver"`
	Driver       *struct {
		EyeClosurePct       float64 `json:"eye_closure_pct"`
		BlinkDurationMs     float64 `json:"blink_duration_ms"`
		YawningRatePerMin   float64 `json:"yawning_rate_per_min"`
		SteeringVariability float64 `json:"steering_variability"`
		LaneDepartures      int     `json:"lane_departures"`
	} `json:"driver"`
	CargoScan *struct {
		QR        string `json:"qr"`
		ScannedBy string `json:"scanned_by"`
	} `json:"cargo_scan"`
}

func (p telemetryPayload) toEvent() domain.TelemetryEvent {
	ev := domain.TelemetryEvent{
		ReceivedAt:    time.Now(),
		Timestamp:     time.UnixMilli(p.TimestampMS),
		VehicleID:     p.VehicleID,
		VehicleClass:  p.VehicleClass,
		RoadSegment:   p.RoadSegment,
		Latitude:      p.Lat,
		Longitude:     p.Lon,
		SpeedKmh:      p.SpeedKmh,
		HarshManeuver: p.Harsh,
	}
	if p.Driver != nil {
		ev.Driver = &domain.DriverSignals{
			EyeClosurePct:       p.Driver.EyeClosurePct,
			BlinkDurationMs:     p.Driver.BlinkDurationMs,
			YawningRatePerMin:   p.Driver.YawningRatePerMin,
			SteeringVariability: p.Driver.SteeringVariability,
			LaneDepartures:      p.Driver.LaneDepartures,
		}
	}
	if p.CargoScan != nil {
		ev.CargoScan = &domain.CargoScan{
			QRPayload: p.CargoScan.QR,
			ScannedBy: p.CargoScan.ScannedBy,
		}
	}
	return ev
}

// decodePayload validates the raw body against the telemetry schema before
// binding it, so malformed events are rejected without touching state.
func (s *Server) decodePayload(r *http.Request) (telemetryPayload, error) {
	var p telemetryPayload
	var raw interface{}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return p, errors.Join(domain.ErrMalformedEvent, err)
	}
	if err := s.schema.Validate(raw); err != nil {
		return p, errors.Join(domain.ErrMalformedEvent, err)
	}

	buf, err := json.Marshal(raw)
	if err != nil {
		return p, errors.Join(domain.ErrMalformedEvent, err)
	}
	if err := json.Unmarshal(buf, &p); err != nil {
		return p, errors.Join(domain.ErrMalformedEvent, err)
	}
	return p, nil
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	p, err := s.decodePayload(r)
	if err != nil {
		metrics.EventsMalformed.Add(1)
		writeError(w, http.StatusBadRequest, "malformed telemetry event")
		return
	}

	outcomes, err := s.pipe.Process(r.Context(), p.toEvent())
	switch {
	case errors.Is(err, domain.ErrStaleEvent):
		writeError(w, http.StatusConflict, "stale event")
		return
	case errors.Is(err, domain.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, "malformed telemetry event")
		return
	case err != nil:
		s.log.Error("ingest failed", "vehicle_id", p.VehicleID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted": true,
		"alerts":   len(outcomes.Alerts),
		"records":  len(outcomes.Records),
	})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Events []telemetryPayload `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch payload")
		return
	}

	events := make([]domain.TelemetryEvent, len(body.Events))
	for i, p := range body.Events {
		events[i] = p.toEvent()
	}

	violations, rejected := s.pipe.ProcessBatch(r.Context(), events)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"violations": violations,
		"rejected":   rejected,
	})
}

func (s *Server) handleCargoScan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VehicleID    string `json:"vehicle_id"`
		VehicleClass string `json:"vehicle_class"`
		QR           string `json:"qr"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.VehicleID == "" || body.QR == "" {
		writeError(w, http.StatusBadRequest, "invalid cargo scan payload")
		return
	}

	item, verdict, err := s.checker.CheckQR(body.QR, body.VehicleClass)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cargo QR payload")
		return
	}

	record := domain.ComplianceRecord{
		ID:        uuid.NewString(),
		CargoID:   item.ItemID,
		VehicleID: body.VehicleID,
		Timestamp: time.Now(),
		Verdict:   verdict,
	}
	if s.records != nil {
		s.records.Push(record)
		metrics.RecordsEmitted.Add(1)
	}

	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDeparture(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ManifestID   string   `json:"manifest_id"`
		VehicleID    string   `json:"vehicle_id"`
		VehicleClass string   `json:"vehicle_class"`
		ScannedBy    string   `json:"scanned_by"`
		Items        []string `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.VehicleID == "" || len(body.Items) == 0 {
		writeError(w, http.StatusBadRequest, "invalid departure payload")
		return
	}

	manifest := compliance.Manifest{
		ManifestID: body.ManifestID,
		VehicleID:  body.VehicleID,
		Class:      body.VehicleClass,
		ScannedBy:  body.ScannedBy,
	}
	for _, qr := range body.Items {
		item, err := compliance.ParseQR(qr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cargo QR payload")
			return
		}
		manifest.Items = append(manifest.Items, item)
	}

	writeJSON(w, http.StatusOK, s.checker.ProcessDeparture(manifest))
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	vehicleID := mux.Vars(r)["id"]
	alerts, err := s.states.ActiveAlerts(vehicleID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown vehicle")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"vehicle_id": vehicleID,
		"alerts":     alerts,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	vehicleID := mux.Vars(r)["id"]
	snap, err := s.states.Snapshot(vehicleID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown vehicle")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"vehicle_id":    snap.VehicleID,
		"speed_kmh":     snap.LastSpeedKmh,
		"lat":           snap.LastLatitude,
		"lon":           snap.LastLongitude,
		"timestamp":     snap.LastTimestamp,
		"compliance":    snap.ComplianceStatus,
		"active_alerts": len(snap.ActiveAlerts),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
