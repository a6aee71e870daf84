package metrics

import (
	"sync"
	"time"
)

// Collector collects and exports metrics for Prometheus.
// This implementation uses manual metric tracking without external dependencies.
// For production, consider integrating prometheus/client_golang.
type Collector struct {
	mu sync.RWMutex

	// Request metrics
	totalRequests      map[string]int64 // by endpoint
	totalRequestsDur   map[string]int64 // total duration in ms
	requestErrors      map[string]int64 // by endpoint
	requestsInProgress map[string]int64 // current in-flight requests

	// Generation metrics
	generationsByOutcome map[string]int64 // complete, error, empty, disconnect
	fragmentsTotal       int64            // fragments relayed to clients
	outputCharsTotal     int64            // characters of generated text
	generationDurMs      int64            // total generation wall time in ms
	firstFragmentMs      int64            // total time-to-first-fragment in ms
	firstFragmentEvents  int64            // streams that produced at least one fragment
	queueRejections      int64            // generations refused because the queue was full
	activeStreams        int64            // streams currently relaying

	// System metrics
	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		totalRequests:        make(map[string]int64),
		totalRequestsDur:     make(map[string]int64),
		requestErrors:        make(map[string]int64),
		requestsInProgress:   make(map[string]int64),
		generationsByOutcome: make(map[string]int64),
		startTime:            time.Now(),
	}
}

// RecordRequest records a request to an endpoint.
func (c *Collector) RecordRequest(endpoint string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests[endpoint]++
	c.totalRequestsDur[endpoint] += duration.Milliseconds()
}

// RecordError records an error for an endpoint.
func (c *Collector) RecordError(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestErrors[endpoint]++
}

// RecordRequestStart increments in-progress requests.
func (c *Collector) RecordRequestStart(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[endpoint]++
}

// RecordRequestEnd decrements in-progress requests.
func (c *Collector) RecordRequestEnd(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[endpoint]--
}

// RecordStreamStart increments streams currently relaying.
func (c *Collector) RecordStreamStart() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeStreams++
}

// RecordStreamEnd decrements streams currently relaying.
func (c *Collector) RecordStreamEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeStreams--
}

// RecordGeneration records one finished generation run.
func (c *Collector) RecordGeneration(outcome string, fragments, outputChars int64, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generationsByOutcome[outcome]++
	c.fragmentsTotal += fragments
	c.outputCharsTotal += outputChars
	c.generationDurMs += duration.Milliseconds()
}

// RecordFirstFragment records the time to first fragment for a stream.
func (c *Collector) RecordFirstFragment(wait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.firstFragmentMs += wait.Milliseconds()
	c.firstFragmentEvents++
}

// RecordQueueRejection records a generation refused because the queue was full.
func (c *Collector) RecordQueueRejection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queueRejections++
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Uptime               int64
	TotalRequests        map[string]int64
	TotalRequestsDur     map[string]int64
	RequestErrors        map[string]int64
	RequestsInProgress   map[string]int64
	GenerationsByOutcome map[string]int64
	FragmentsTotal       int64
	OutputCharsTotal     int64
	GenerationDurMs      int64
	FirstFragmentMs      int64
	FirstFragmentEvents  int64
	QueueRejections      int64
	ActiveStreams        int64
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:               int64(time.Since(c.startTime).Seconds()),
		TotalRequests:        copyMap(c.totalRequests),
		TotalRequestsDur:     copyMap(c.totalRequestsDur),
		RequestErrors:        copyMap(c.requestErrors),
		RequestsInProgress:   copyMap(c.requestsInProgress),
		GenerationsByOutcome: copyMap(c.generationsByOutcome),
		FragmentsTotal:       c.fragmentsTotal,
		OutputCharsTotal:     c.outputCharsTotal,
		GenerationDurMs:      c.generationDurMs,
		FirstFragmentMs:      c.firstFragmentMs,
		FirstFragmentEvents:  c.firstFragmentEvents,
		QueueRejections:      c.queueRejections,
		ActiveStreams:        c.activeStreams,
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
