// Package advisory adapts the external AI risk-classification service behind
// a capability interface with a per-call timeout, bounded retry, and a
// circuit breaker. A slow or dead advisory service degrades driver-risk
// evaluation; it never stalls other rules or other vehicles.
package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"fleet-safety/monitor/internal/config"
	"fleet-safety/monitor/internal/domain"
	"fleet-safety/monitor/internal/metrics"
)

// Classifier is the capability the rule evaluator depends on.
type Classifier interface {
	Classify(ctx context.Context, vehicleID string, window domain.TelemetryWindow) (domain.RiskClassification, error)
}

// Bridge calls the remote advisory agent over HTTP.
type Bridge struct {
	client   *http.Client
	breaker  *CircuitBreaker
	endpoint string
	apiKey   string
	agentID  string
	timeout  time.Duration
	retries  int
	backoff  time.Duration
	log      *slog.Logger
}

func NewBridge(cfg *config.Config, log *slog.Logger) *Bridge {
	timeout := time.Duration(cfg.AdvisoryTimeoutMS) * time.Millisecond
	return &Bridge{
		client:   &http.Client{Timeout: timeout},
		breaker:  NewCircuitBreaker(cfg.BreakerThreshold, time.Duration(cfg.BreakerCooldownMS)*time.Millisecond),
		endpoint: fmt.Sprintf("%s/v1/agents/%s/run", cfg.AdvisoryURL, cfg.AdvisoryAgentID),
		apiKey:   cfg.AdvisoryAPIKey,
		agentID:  cfg.AdvisoryAgentID,
		timeout:  timeout,
		retries:  cfg.AdvisoryMaxRetries,
		backoff:  time.Duration(cfg.AdvisoryBackoffMS) * time.Millisecond,
		log:      log.With("component", "advisory"),
	}
}

type agentRequest struct {
	Action string                 `json:"action"`
	Input  domain.TelemetryWindow `json:"input"`
}

type agentResponse struct {
	Status    string  `json:"status"`
	State     string  `json:"state"`
	RiskScore float64 `json:"risk_score"`
	Error     string  `json:"error,omitempty"`
}

// Classify requests a risk classification for one vehicle's recent window.
// It returns ErrAdvisoryUnavailable immediately while the breaker is open,
// ErrAdvisoryTimeout when the call budget is exhausted, and
// ErrAdvisoryUnavailable for any other remote failure. All calls are
// read-only on the remote side, so the single retry is safe.
func (b *Bridge) Classify(ctx context.Context, vehicleID string, window domain.TelemetryWindow) (domain.RiskClassification, error) {
	if !b.breaker.Allow() {
		metrics.AdvisoryShortCircuits.Add(1)
		return domain.RiskClassification{}, fmt.Errorf("%w: circuit open", domain.ErrAdvisoryUnavailable)
	}

	metrics.AdvisoryCalls.Add(1)

	var lastErr error
	for attempt := 0; attempt <= b.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(b.backoff):
			case <-ctx.Done():
				b.breaker.Failure()
				metrics.AdvisoryFailures.Add(1)
				return domain.RiskClassification{}, fmt.Errorf("%w: %v", domain.ErrAdvisoryTimeout, ctx.Err())
			}
		}

		rc, err := b.call(ctx, vehicleID, window)
		if err == nil {
			b.breaker.Success()
			rc.Source = "remote"
			return rc, nil
		}
		lastErr = err
	}

	b.breaker.Failure()
	metrics.AdvisoryFailures.Add(1)
	b.log.Warn("advisory call failed", "vehicle_id", vehicleID, "error", lastErr)

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return domain.RiskClassification{}, fmt.Errorf("%w: %v", domain.ErrAdvisoryTimeout, lastErr)
	}
	return domain.RiskClassification{}, fmt.Errorf("%w: %v", domain.ErrAdvisoryUnavailable, lastErr)
}

func (b *Bridge) call(ctx context.Context, vehicleID string, window domain.TelemetryWindow) (domain.RiskClassification, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	window.VehicleID = vehicleID
	body, err := json.Marshal(agentRequest{Action: "classify_risk", Input: window})
	if err != nil {
		return domain.RiskClassification{}, fmt.Errorf("marshal advisory request: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.RiskClassification{}, fmt.Errorf("build advisory request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return domain.RiskClassification{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return domain.RiskClassification{}, fmt.Errorf("advisory status %d", resp.StatusCode)
	}

	var out agentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.RiskClassification{}, fmt.Errorf("decode advisory response: %w", err)
	}
	if out.Status == "error" || out.Error != "" {
		return domain.RiskClassification{}, fmt.Errorf("advisory error: %s", out.Error)
	}

	return domain.RiskClassification{State: out.State, RiskScore: out.RiskScore}, nil
}
