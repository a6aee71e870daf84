package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()
	c.RecordRequestStart("/api/chat/initiate")
	c.RecordRequest("/api/chat/initiate", 42*time.Millisecond)
	c.RecordRequestEnd("/api/chat/initiate")
	c.RecordError("/api/chat/initiate")
	c.RecordGeneration("complete", 12, 240, 900*time.Millisecond)
	c.RecordGeneration("error", 3, 40, 100*time.Millisecond)
	c.RecordFirstFragment(75 * time.Millisecond)
	c.RecordQueueRejection()

	snap := c.GetSnapshot()
	if snap.TotalRequests["/api/chat/initiate"] != 1 {
		t.Fatalf("request not counted: %+v", snap.TotalRequests)
	}
	if snap.RequestErrors["/api/chat/initiate"] != 1 {
		t.Fatalf("error not counted")
	}
	if snap.GenerationsByOutcome["complete"] != 1 || snap.GenerationsByOutcome["error"] != 1 {
		t.Fatalf("generations not counted: %+v", snap.GenerationsByOutcome)
	}
	if snap.FragmentsTotal != 15 || snap.OutputCharsTotal != 280 {
		t.Fatalf("fragment totals wrong: %d %d", snap.FragmentsTotal, snap.OutputCharsTotal)
	}
	if snap.FirstFragmentMs != 75 || snap.FirstFragmentEvents != 1 {
		t.Fatalf("first fragment totals wrong")
	}
	if snap.QueueRejections != 1 {
		t.Fatalf("queue rejection not counted")
	}
}

func TestFormatPrometheus(t *testing.T) {
	c := NewCollector()
	c.RecordGeneration("complete", 5, 100, time.Second)
	out := FormatPrometheus(c.GetSnapshot())

	for _, want := range []string{
		"chatd_uptime_seconds",
		`chatd_generations_total{outcome="complete"} 1`,
		"chatd_generation_fragments_total 5",
		"chatd_generation_output_chars_total 100",
		"chatd_generation_duration_ms_total 1000",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}
