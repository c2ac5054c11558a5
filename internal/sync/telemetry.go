package sync

import (
	stdsync "sync"
	"time"
)

// telemetryCapacity bounds the diagnostic ring; only the most recent
// entries are retained and nothing correctness-critical depends on them.
const telemetryCapacity = 100

// TelemetryEntry records one applied sync event for operational
// visibility
type TelemetryEntry struct {
	Version   int64     `json:"version"`
	LatencyMs int64     `json:"latency_ms"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// telemetryRing is a fixed-size ring buffer of telemetry entries
type telemetryRing struct {
	mu      stdsync.Mutex
	entries [telemetryCapacity]TelemetryEntry
	next    int
	filled  bool
}

// Record appends an entry, overwriting the oldest once full
func (r *telemetryRing) Record(e TelemetryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next++
	if r.next == telemetryCapacity {
		r.next = 0
		r.filled = true
	}
}

// Entries returns the retained entries, oldest first
func (r *telemetryRing) Entries() []TelemetryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.filled {
		out := make([]TelemetryEntry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]TelemetryEntry, 0, telemetryCapacity)
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}
