package observability

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// Pipeline counter names.
const (
	CounterTicketsAccepted   = "tickets_accepted"
	CounterTicketsDuplicate  = "tickets_duplicate"
	CounterTicketsAssigned   = "tickets_assigned"
	CounterTicketsGrouped    = "tickets_deduplicated"
	CounterTicketsFailed     = "tickets_failed"
	CounterIncidentsCreated  = "incidents_created"
	CounterUrgentAlerts      = "urgent_alerts"
	CounterStaleLocks        = "stale_lock_expiry"
	CounterBreakerTransition = "breaker_transitions"
	CounterNotifyFailures    = "notification_failures"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	counters     map[string]int64
	startedAt    time.Time
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		counters:     make(map[string]int64),
		startedAt:    time.Now(),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// Inc bumps a named pipeline counter.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

// Add bumps a named pipeline counter by n.
func (m *Metrics) Add(name string, n int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += n
}

// Counter reads a named pipeline counter.
func (m *Metrics) Counter(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	UptimeSeconds int64            `json:"uptime_seconds"`
	Pipeline      map[string]int64 `json:"pipeline"`
	Requests      map[string]int64 `json:"requests"`
	Errors        map[string]int64 `json:"errors"`
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		UptimeSeconds: int64(time.Since(m.startedAt).Seconds()),
		Pipeline:      copyCounts(m.counters),
		Requests:      copyCounts(m.requestCount),
		Errors:        copyCounts(m.errorCount),
	}
}

// CounterNames lists pipeline counters seen so far, sorted.
func (m *Metrics) CounterNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.counters))
	for name := range m.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
