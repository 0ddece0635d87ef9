// Package health reports whether the augmentation service and the backends
// it was configured with are usable.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status of a single check or of the whole service.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Result is what one Checker observed.
type Result struct {
	Status   Status         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Error    string         `json:"error,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Critical bool           `json:"critical"`
	Latency  time.Duration  `json:"latency_ns"`
}

// Checker probes one dependency. A critical checker that reports unhealthy
// makes the service not ready.
type Checker interface {
	Name() string
	Critical() bool
	Check(ctx context.Context) Result
}

// Report aggregates one round of checks.
type Report struct {
	Status     Status            `json:"status"`
	Message    string            `json:"message"`
	Ready      bool              `json:"ready"`
	CheckedAt  time.Time         `json:"checked_at"`
	Components map[string]Result `json:"components"`
}

// Manager runs the registered checkers concurrently, each under its own
// deadline.
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration

	mu       sync.RWMutex
	checkers []Checker
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger, timeout: 5 * time.Second}
}

// RegisterChecker adds c. Names must be unique and non-empty.
func (m *Manager) RegisterChecker(c Checker) error {
	name := c.Name()
	if name == "" {
		return fmt.Errorf("health checker name is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.checkers {
		if existing.Name() == name {
			return fmt.Errorf("health checker %q already registered", name)
		}
	}
	m.checkers = append(m.checkers, c)
	m.logger.Debug("Health checker registered", zap.String("name", name), zap.Bool("critical", c.Critical()))
	return nil
}

// Run executes every checker and folds the results into a Report. With no
// checkers the service is healthy.
func (m *Manager) Run(ctx context.Context) Report {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	results := make([]Result, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			results[i] = m.run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		CheckedAt:  time.Now().UTC(),
		Components: make(map[string]Result, len(checkers)),
	}
	var failing, degraded []string
	for i, c := range checkers {
		r := results[i]
		report.Components[c.Name()] = r
		switch {
		case r.Status == StatusUnhealthy && r.Critical:
			failing = append(failing, c.Name())
		case r.Status != StatusHealthy:
			degraded = append(degraded, c.Name())
		}
	}
	sort.Strings(failing)
	sort.Strings(degraded)

	switch {
	case len(failing) > 0:
		report.Status = StatusUnhealthy
		report.Message = fmt.Sprintf("critical dependencies failing: %v", failing)
	case len(degraded) > 0:
		report.Status, report.Ready = StatusDegraded, true
		report.Message = fmt.Sprintf("degraded: %v", degraded)
	default:
		report.Status, report.Ready = StatusHealthy, true
		report.Message = fmt.Sprintf("%d checks healthy", len(checkers))
	}
	return report
}

// IsReady reports whether every critical checker passes.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.Run(ctx).Ready
}

func (m *Manager) run(ctx context.Context, c Checker) (r Result) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("Health checker panicked", zap.String("name", c.Name()), zap.Any("panic", p))
			r = Result{Status: StatusUnhealthy, Error: fmt.Sprint(p)}
		}
		r.Critical = c.Critical()
		r.Latency = time.Since(start)
	}()
	return c.Check(ctx)
}
