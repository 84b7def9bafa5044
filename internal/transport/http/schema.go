package http

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// telemetrySchema guards the ingestion boundary: payloads that do not
// conform are rejected as malformed before they reach the pipeline.
const telemetrySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["vehicle_id", "timestamp_ms", "speed_kmh"],
  "properties": {
    "vehicle_id": {"type": "string", "minLength": 1},
    "vehicle_class": {"type": "string"},
    "road_segment": {"type": "string"},
    "timestamp_ms": {"type": "integer", "minimum": 0},
    "speed_kmh": {"type": "number", "minimum": 0},
    "lat": {"type": "number", "minimum": -90, "maximum": 90},
    "lon": {"type": "number", "minimum": -180, "maximum": 180},
    "harsh_maneuver": {"type": "boolean"},
    "driver": {
      "type": "object",
      "properties": {
        "eye_closure_pct": {"type": "number", "minimum": 0, "maximum": 100},
        "blink_duration_ms": {"type": "number", "minimum": 0},
        "yawning_rate_per_min": {"type": "number", "minimum": 0},
        "steering_variability": {"type": "number", "minimum": 0, "maximum": 1},
        "lane_departures": {"type": "integer", "minimum": 0}
      }
    },
    "cargo_scan": {
      "type": "object",
      "required": ["qr"],
      "properties": {
        "qr": {"type": "string", "minLength": 1},
        "scanned_by": {"type": "string"}
      }
    }
  }
}`

func compileTelemetrySchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://fleet-safety.schemas.local/telemetry-event.schema.json"
	if err := c.AddResource(url, strings.NewReader(telemetrySchema)); err != nil {
		return nil, fmt.Errorf("telemetry schema load failed: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("telemetry schema compile failed: %w", err)
	}
	return schema, nil
}
