package health

import (
	"context"
	"time"
)

// slowPing marks a reachable dependency as degraded.
const slowPing = 100 * time.Millisecond

type dependencyChecker struct {
	name        string
	critical    bool
	ping        func(context.Context) error
	breakerOpen func() bool
}

// NewDependencyChecker probes a backend with ping. When breakerOpen reports
// true the backend is unhealthy without pinging. breakerOpen may be nil.
func NewDependencyChecker(name string, critical bool, ping func(context.Context) error, breakerOpen func() bool) Checker {
	return &dependencyChecker{name: name, critical: critical, ping: ping, breakerOpen: breakerOpen}
}

func (d *dependencyChecker) Name() string   { return d.name }
func (d *dependencyChecker) Critical() bool { return d.critical }

func (d *dependencyChecker) Check(ctx context.Context) Result {
	if d.breakerOpen != nil && d.breakerOpen() {
		return Result{Status: StatusUnhealthy, Error: "circuit breaker open", Message: d.name + " is being skipped"}
	}
	start := time.Now()
	err := d.ping(ctx)
	took := time.Since(start)
	details := map[string]any{"ping_ms": took.Milliseconds()}
	switch {
	case err != nil:
		return Result{Status: StatusUnhealthy, Error: err.Error(), Message: d.name + " ping failed", Details: details}
	case took > slowPing:
		return Result{Status: StatusDegraded, Message: d.name + " is slow", Details: details}
	}
	return Result{Status: StatusHealthy, Details: details}
}

type registryChecker struct {
	name  string
	count func() int
}

// NewRegistryChecker reports degraded while the registry counted by count
// holds nothing. It is never critical.
func NewRegistryChecker(name string, count func() int) Checker {
	return &registryChecker{name: name, count: count}
}

func (r *registryChecker) Name() string   { return r.name }
func (r *registryChecker) Critical() bool { return false }

func (r *registryChecker) Check(context.Context) Result {
	n := r.count()
	res := Result{Status: StatusHealthy, Details: map[string]any{"loaded": n}}
	if n == 0 {
		res.Status, res.Message = StatusDegraded, r.name+" is empty"
	}
	return res
}
