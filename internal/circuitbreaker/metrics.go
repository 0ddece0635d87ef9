package circuitbreaker

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "augment_circuit_breaker_state",
			Help: "Breaker state per dependency (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)
	requestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augment_circuit_breaker_requests_total",
			Help: "Calls seen by a breaker, labelled by the state that handled them",
		},
		[]string{"name", "service", "state", "result"},
	)
	failureCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augment_circuit_breaker_failures_total",
			Help: "Failed or rejected calls per breaker",
		},
		[]string{"name", "service"},
	)
	transitionCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augment_circuit_breaker_state_changes_total",
			Help: "Breaker state transitions",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)
	openSinceGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "augment_circuit_breaker_open_since_seconds",
			Help: "Unix time the breaker last opened, 0 while not open",
		},
		[]string{"name", "service"},
	)
)

// breakerMetrics exports one breaker's events under its name and service
// labels.
type breakerMetrics struct {
	name, service string
}

func (m breakerMetrics) StateChanged(from, to State) {
	transitionCounter.WithLabelValues(m.name, m.service, from.String(), to.String()).Inc()
	stateGauge.WithLabelValues(m.name, m.service).Set(float64(to))
	switch {
	case to == StateOpen:
		openSinceGauge.WithLabelValues(m.name, m.service).SetToCurrentTime()
	case from == StateOpen:
		openSinceGauge.WithLabelValues(m.name, m.service).Set(0)
	}
}

func (m breakerMetrics) Request(state State, success bool) {
	result := "success"
	if !success {
		result = "failure"
		failureCounter.WithLabelValues(m.name, m.service).Inc()
	}
	requestCounter.WithLabelValues(m.name, m.service, state.String(), result).Inc()
}

// Tracker keeps the breakers guarding this process so health and metrics can
// read their state.
type Tracker struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

func NewTracker() *Tracker {
	return &Tracker{breakers: make(map[string]*CircuitBreaker)}
}

// Track exports cb's metrics under service and remembers it. Tracking the
// same service and name again replaces the earlier breaker.
func (t *Tracker) Track(service string, cb *CircuitBreaker) {
	m := breakerMetrics{name: cb.Name(), service: service}
	cb.Observe(m)
	stateGauge.WithLabelValues(m.name, m.service).Set(float64(cb.State()))

	t.mu.Lock()
	t.breakers[service+"/"+cb.Name()] = cb
	t.mu.Unlock()
}

// Snapshot returns the current state keyed by "service/name".
func (t *Tracker) Snapshot() map[string]State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]State, len(t.breakers))
	for key, cb := range t.breakers {
		out[key] = cb.State()
	}
	return out
}

// Open lists the keys of breakers currently rejecting calls, sorted.
func (t *Tracker) Open() []string {
	var open []string
	for key, state := range t.Snapshot() {
		if state == StateOpen {
			open = append(open, key)
		}
	}
	sort.Strings(open)
	return open
}

// Default tracks the cache and database breakers.
var Default = NewTracker()
