package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	EventsReceived        atomic.Int64
	EventsStale           atomic.Int64
	EventsMalformed       atomic.Int64
	AlertsEmitted         atomic.Int64
	RecordsEmitted        atomic.Int64
	AlertQueueDrops       atomic.Int64
	RecordQueueDrops      atomic.Int64
	StateQueueDrops       atomic.Int64
	AlertWriteFails       atomic.Int64
	RecordWriteFails      atomic.Int64
	AdvisoryCalls         atomic.Int64
	AdvisoryFailures      atomic.Int64
	AdvisoryShortCircuits atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "monitor_events_received_total %d\n", EventsReceived.Load())
	fmt.Fprintf(w, "monitor_events_stale_total %d\n", EventsStale.Load())
	fmt.Fprintf(w, "monitor_events_malformed_total %d\n", EventsMalformed.Load())
	fmt.Fprintf(w, "monitor_alerts_emitted_total %d\n", AlertsEmitted.Load())
	fmt.Fprintf(w, "monitor_records_emitted_total %d\n", RecordsEmitted.Load())
	fmt.Fprintf(w, "monitor_alert_queue_drops_total %d\n", AlertQueueDrops.Load())
	fmt.Fprintf(w, "monitor_record_queue_drops_total %d\n", RecordQueueDrops.Load())
	fmt.Fprintf(w, "monitor_state_queue_drops_total %d\n", StateQueueDrops.Load())
	fmt.Fprintf(w, "monitor_alert_write_failures_total %d\n", AlertWriteFails.Load())
	fmt.Fprintf(w, "monitor_record_write_failures_total %d\n", RecordWriteFails.Load())
	fmt.Fprintf(w, "monitor_advisory_calls_total %d\n", AdvisoryCalls.Load())
	fmt.Fprintf(w, "monitor_advisory_failures_total %d\n", AdvisoryFailures.Load())
	fmt.Fprintf(w, "monitor_advisory_short_circuits_total %d\n", AdvisoryShortCircuits.Load())
}
