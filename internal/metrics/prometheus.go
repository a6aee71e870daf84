package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus formats metrics in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	// Process uptime
	sb.WriteString("# HELP chatd_uptime_seconds Time since the chat daemon started\n")
	sb.WriteString("# TYPE chatd_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("chatd_uptime_seconds %d\n", snap.Uptime))
	sb.WriteString("\n")

	// Total requests by endpoint
	sb.WriteString("# HELP chatd_requests_total Total number of requests by endpoint\n")
	sb.WriteString("# TYPE chatd_requests_total counter\n")
	for _, endpoint := range sortedKeys(snap.TotalRequests) {
		count := snap.TotalRequests[endpoint]
		sb.WriteString(fmt.Sprintf("chatd_requests_total{endpoint=\"%s\"} %d\n", endpoint, count))
	}
	sb.WriteString("\n")

	// Request errors by endpoint
	sb.WriteString("# HELP chatd_request_errors_total Total number of request errors by endpoint\n")
	sb.WriteString("# TYPE chatd_request_errors_total counter\n")
	for _, endpoint := range sortedKeys(snap.RequestErrors) {
		count := snap.RequestErrors[endpoint]
		sb.WriteString(fmt.Sprintf("chatd_request_errors_total{endpoint=\"%s\"} %d\n", endpoint, count))
	}
	sb.WriteString("\n")

	// Requests in progress
	sb.WriteString("# HELP chatd_requests_in_progress Current number of requests being processed\n")
	sb.WriteString("# TYPE chatd_requests_in_progress gauge\n")
	for _, endpoint := range sortedKeys(snap.RequestsInProgress) {
		count := snap.RequestsInProgress[endpoint]
		if count > 0 { // Only show active endpoints
			sb.WriteString(fmt.Sprintf("chatd_requests_in_progress{endpoint=\"%s\"} %d\n", endpoint, count))
		}
	}
	sb.WriteString("\n")

	// Request duration (total)
	sb.WriteString("# HELP chatd_request_duration_ms_total Total request duration in milliseconds\n")
	sb.WriteString("# TYPE chatd_request_duration_ms_total counter\n")
	for _, endpoint := range sortedKeys(snap.TotalRequestsDur) {
		duration := snap.TotalRequestsDur[endpoint]
		sb.WriteString(fmt.Sprintf("chatd_request_duration_ms_total{endpoint=\"%s\"} %d\n", endpoint, duration))
	}
	sb.WriteString("\n")

	// Generations by outcome
	sb.WriteString("# HELP chatd_generations_total Total generation runs by outcome\n")
	sb.WriteString("# TYPE chatd_generations_total counter\n")
	for _, outcome := range sortedKeys(snap.GenerationsByOutcome) {
		count := snap.GenerationsByOutcome[outcome]
		sb.WriteString(fmt.Sprintf("chatd_generations_total{outcome=\"%s\"} %d\n", outcome, count))
	}
	sb.WriteString("\n")

	// Fragment volume
	sb.WriteString("# HELP chatd_generation_fragments_total Total fragments relayed to clients\n")
	sb.WriteString("# TYPE chatd_generation_fragments_total counter\n")
	sb.WriteString(fmt.Sprintf("chatd_generation_fragments_total %d\n", snap.FragmentsTotal))
	sb.WriteString("\n")

	sb.WriteString("# HELP chatd_generation_output_chars_total Total characters of generated text\n")
	sb.WriteString("# TYPE chatd_generation_output_chars_total counter\n")
	sb.WriteString(fmt.Sprintf("chatd_generation_output_chars_total %d\n", snap.OutputCharsTotal))
	sb.WriteString("\n")

	sb.WriteString("# HELP chatd_generation_duration_ms_total Total generation wall time in milliseconds\n")
	sb.WriteString("# TYPE chatd_generation_duration_ms_total counter\n")
	sb.WriteString(fmt.Sprintf("chatd_generation_duration_ms_total %d\n", snap.GenerationDurMs))
	sb.WriteString("\n")

	// Time to first fragment
	sb.WriteString("# HELP chatd_first_fragment_ms_total Total time to first fragment in milliseconds\n")
	sb.WriteString("# TYPE chatd_first_fragment_ms_total counter\n")
	sb.WriteString(fmt.Sprintf("chatd_first_fragment_ms_total %d\n", snap.FirstFragmentMs))
	sb.WriteString("\n")

	sb.WriteString("# HELP chatd_first_fragment_events_total Streams that produced at least one fragment\n")
	sb.WriteString("# TYPE chatd_first_fragment_events_total counter\n")
	sb.WriteString(fmt.Sprintf("chatd_first_fragment_events_total %d\n", snap.FirstFragmentEvents))
	sb.WriteString("\n")

	// Queue pressure
	sb.WriteString("# HELP chatd_queue_rejections_total Generations refused because the queue was full\n")
	sb.WriteString("# TYPE chatd_queue_rejections_total counter\n")
	sb.WriteString(fmt.Sprintf("chatd_queue_rejections_total %d\n", snap.QueueRejections))
	sb.WriteString("\n")

	// Active streams
	sb.WriteString("# HELP chatd_active_streams Streams currently relaying fragments\n")
	sb.WriteString("# TYPE chatd_active_streams gauge\n")
	sb.WriteString(fmt.Sprintf("chatd_active_streams %d\n", snap.ActiveStreams))
	sb.WriteString("\n")

	return sb.String()
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
