package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime     time.Time
	requests      atomic.Int64
	serverErrors  atomic.Int64
	clientErrors  atomic.Int64
	locksGranted  atomic.Int64
	locksRejected atomic.Int64
	unlocks       atomic.Int64
	forceUnlocks  atomic.Int64
	broadcasts    atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Requests        int64   `json:"requests"`
	ServerErrors    int64   `json:"server_errors"`
	ClientErrors    int64   `json:"client_errors"`
	LocksGranted    int64   `json:"locks_granted"`
	LocksRejected   int64   `json:"locks_rejected"`
	Unlocks         int64   `json:"unlocks"`
	ForceUnlocks    int64   `json:"force_unlocks"`
	EventBroadcasts int64   `json:"event_broadcasts"`
	EventClients    int     `json:"event_clients"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

// RecordLockGranted increments the granted lock counter.
func (m *Metrics) RecordLockGranted() {
	m.locksGranted.Add(1)
}

// RecordLockRejected increments the rejected lock/unlock counter.
func (m *Metrics) RecordLockRejected() {
	m.locksRejected.Add(1)
}

// RecordUnlock increments the unlock counter.
func (m *Metrics) RecordUnlock() {
	m.unlocks.Add(1)
}

// RecordForceUnlock increments the administrative unlock counter.
func (m *Metrics) RecordForceUnlock() {
	m.forceUnlocks.Add(1)
}

// RecordBroadcast increments the change event counter.
func (m *Metrics) RecordBroadcast() {
	m.broadcasts.Add(1)
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:   time.Since(m.startTime).Seconds(),
		Requests:        m.requests.Load(),
		ServerErrors:    m.serverErrors.Load(),
		ClientErrors:    m.clientErrors.Load(),
		LocksGranted:    m.locksGranted.Load(),
		LocksRejected:   m.locksRejected.Load(),
		Unlocks:         m.unlocks.Load(),
		ForceUnlocks:    m.forceUnlocks.Load(),
		EventBroadcasts: m.broadcasts.Load(),
	}
}
