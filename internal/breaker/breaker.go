package breaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// State represents circuit breaker state.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrOpen is returned when a call is routed away from the primary.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrLatencyExceeded marks a primary call abandoned at the latency threshold.
	ErrLatencyExceeded = errors.New("primary call exceeded latency threshold")
)

const latencyHistorySize = 100

// Transition is emitted on every state change.
type Transition struct {
	Name     string
	From     State
	To       State
	Failures int
	At       time.Time
}

// Config holds circuit breaker configuration.
type Config struct {
	Name             string
	FailureThreshold int
	LatencyThreshold time.Duration
	Cooldown         time.Duration
	OnStateChange    func(Transition)
	Now              func() time.Time
}

// Stats is a point-in-time view of breaker counters.
type Stats struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	FailureCount   int       `json:"failure_count"`
	CallsTotal     int64     `json:"calls_total"`
	CallsPrimary   int64     `json:"calls_primary"`
	CallsFallback  int64     `json:"calls_fallback"`
	AvgLatencyMs   float64   `json:"avg_latency_ms"`
	P95LatencyMs   float64   `json:"p95_latency_ms"`
	LastTransition time.Time `json:"last_transition"`
}

// Admission is handed out by Allow and must be reported through Done or Abort.
type Admission struct {
	generation uint64
	probe      bool
}

// Probe reports whether this admission is the single half-open probe.
func (a Admission) Probe() bool {
	return a.probe
}

// Breaker guards a primary dependency. All state lives behind mu; transitions
// bump generation so results from calls admitted under an older state are not
// counted against the current one.
type Breaker struct {
	name             string
	failureThreshold int
	latencyThreshold time.Duration
	cooldown         time.Duration
	onStateChange    func(Transition)
	now              func() time.Time

	mu             sync.Mutex
	state          State
	failures       int
	lastTransition time.Time
	probeInFlight  bool
	generation     uint64

	callsTotal    int64
	callsPrimary  int64
	callsFallback int64
	latencies     []time.Duration
	latencyNext   int
}

// New creates a breaker in the Closed state.
func New(cfg Config) *Breaker {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 3
	}
	if cfg.LatencyThreshold <= 0 {
		cfg.LatencyThreshold = 500 * time.Millisecond
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		latencyThreshold: cfg.LatencyThreshold,
		cooldown:         cfg.Cooldown,
		onStateChange:    cfg.OnStateChange,
		now:              now,
		state:            StateClosed,
		lastTransition:   now(),
	}
}

// Name returns the guarded dependency name.
func (b *Breaker) Name() string {
	return b.name
}

// LatencyThreshold is the deadline applied to primary calls.
func (b *Breaker) LatencyThreshold() time.Duration {
	return b.latencyThreshold
}

// State returns the current state without triggering transitions.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure counter.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Allow decides whether the next call may reach the primary. A false result
// means the caller must use the fallback.
func (b *Breaker) Allow() (Admission, bool) {
	var emitted []Transition

	b.mu.Lock()
	b.callsTotal++
	admission, ok := b.admitLocked(&emitted)
	if !ok {
		b.callsFallback++
	}
	b.mu.Unlock()

	b.emit(emitted)
	return admission, ok
}

func (b *Breaker) admitLocked(emitted *[]Transition) (Admission, bool) {
	switch b.state {
	case StateClosed:
		return Admission{generation: b.generation}, true
	case StateOpen:
		if b.now().Sub(b.lastTransition) < b.cooldown {
			return Admission{}, false
		}
		*emitted = append(*emitted, b.transitionLocked(StateHalfOpen))
		b.probeInFlight = true
		return Admission{generation: b.generation, probe: true}, true
	case StateHalfOpen:
		if b.probeInFlight {
			return Admission{}, false
		}
		b.probeInFlight = true
		return Admission{generation: b.generation, probe: true}, true
	default:
		return Admission{}, false
	}
}

// Done records the outcome of an admitted call. A call slower than the latency
// threshold counts as a failure even when err is nil.
func (b *Breaker) Done(a Admission, err error, latency time.Duration) {
	failed := err != nil || latency > b.latencyThreshold
	var emitted []Transition

	b.mu.Lock()
	if failed {
		b.callsFallback++
	} else {
		b.callsPrimary++
		b.recordLatencyLocked(latency)
	}

	if a.generation == b.generation {
		switch b.state {
		case StateClosed:
			if failed {
				b.failures++
				if b.failures >= b.failureThreshold {
					emitted = append(emitted, b.transitionLocked(StateOpen))
				}
			} else {
				b.failures = 0
			}
		case StateHalfOpen:
			if a.probe {
				b.probeInFlight = false
				if failed {
					emitted = append(emitted, b.transitionLocked(StateOpen))
				} else {
					b.failures = 0
					emitted = append(emitted, b.transitionLocked(StateClosed))
				}
			}
		}
	}
	b.mu.Unlock()

	b.emit(emitted)
}

// Abort returns an admission without judging the primary, e.g. when the
// caller's own context was cancelled.
func (b *Breaker) Abort(a Admission) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a.probe && a.generation == b.generation && b.state == StateHalfOpen {
		b.probeInFlight = false
	}
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.probeInFlight = false
	var emitted []Transition
	if b.state != StateClosed {
		emitted = append(emitted, b.transitionLocked(StateClosed))
	}
	b.mu.Unlock()
	b.emit(emitted)
}

// Stats snapshots the counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := Stats{
		Name:           b.name,
		State:          b.state.String(),
		FailureCount:   b.failures,
		CallsTotal:     b.callsTotal,
		CallsPrimary:   b.callsPrimary,
		CallsFallback:  b.callsFallback,
		LastTransition: b.lastTransition,
	}
	if len(b.latencies) == 0 {
		return stats
	}
	sorted := append([]time.Duration(nil), b.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	stats.AvgLatencyMs = millis(sum / time.Duration(len(sorted)))
	if len(sorted) >= 20 {
		stats.P95LatencyMs = millis(sorted[len(sorted)*95/100])
	}
	return stats
}

func (b *Breaker) transitionLocked(to State) Transition {
	t := Transition{
		Name:     b.name,
		From:     b.state,
		To:       to,
		Failures: b.failures,
		At:       b.now(),
	}
	b.state = to
	b.lastTransition = t.At
	b.generation++
	if to == StateClosed {
		b.failures = 0
	}
	return t
}

func (b *Breaker) recordLatencyLocked(latency time.Duration) {
	if len(b.latencies) < latencyHistorySize {
		b.latencies = append(b.latencies, latency)
		return
	}
	b.latencies[b.latencyNext] = latency
	b.latencyNext = (b.latencyNext + 1) % latencyHistorySize
}

func (b *Breaker) emit(transitions []Transition) {
	if b.onStateChange == nil {
		return
	}
	for _, t := range transitions {
		b.onStateChange(t)
	}
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

type callResult[T any] struct {
	value T
	err   error
}

// Call runs fn against the primary when the breaker admits it, abandoning the
// call at the latency threshold. ErrOpen means the breaker refused the call;
// any other error means the primary failed or timed out and was counted.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	admission, ok := b.Allow()
	if !ok {
		return zero, ErrOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, b.latencyThreshold)
	defer cancel()

	done := make(chan callResult[T], 1)
	start := time.Now()
	go func() {
		value, err := fn(callCtx)
		done <- callResult[T]{value: value, err: err}
	}()

	select {
	case res := <-done:
		latency := time.Since(start)
		if res.err != nil && ctx.Err() != nil {
			b.Abort(admission)
			return zero, ctx.Err()
		}
		if res.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			res.err = fmt.Errorf("%w: %v", ErrLatencyExceeded, res.err)
		}
		b.Done(admission, res.err, latency)
		if res.err != nil {
			return zero, res.err
		}
		if latency > b.latencyThreshold {
			return zero, fmt.Errorf("%w: %s", ErrLatencyExceeded, latency)
		}
		return res.value, nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			b.Abort(admission)
			return zero, ctx.Err()
		}
		b.Done(admission, ErrLatencyExceeded, time.Since(start))
		return zero, ErrLatencyExceeded
	}
}
