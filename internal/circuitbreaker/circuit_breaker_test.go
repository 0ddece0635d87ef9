package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errBackend = errors.New("backend down")

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func succeed() error { return nil }
func fail() error    { return errBackend }

func newTestBreaker(t *testing.T, mutate func(*Config)) (*CircuitBreaker, *clock) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("test", cfg, zaptest.NewLogger(t))
	cb.now = c.now
	cb.openWindow(c.now())
	return cb, c
}

type recorder struct {
	mu       sync.Mutex
	changes  []string
	failures int
}

func (r *recorder) StateChanged(from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, from.String()+">"+to.String())
}

func (r *recorder) Request(_ State, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !success {
		r.failures++
	}
}

func TestBreakerLifecycle(t *testing.T) {
	cb, clk := newTestBreaker(t, func(c *Config) {
		c.FailureThreshold = 3
		c.SuccessThreshold = 2
		c.Timeout = time.Second
	})
	rec := &recorder{}
	cb.Observe(rec)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Execute(ctx, succeed))
	}
	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	}
	assert.True(t, cb.IsOpen())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitBreakerOpen)

	clk.advance(time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, rec.changes)
	assert.Equal(t, 4, rec.failures, "three failed calls and one rejection")
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(t, func(c *Config) { c.FailureThreshold = 1 })
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.advance(cb.cfg.Timeout)
	require.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerHalfOpenCapsProbes(t *testing.T) {
	cb, clk := newTestBreaker(t, func(c *Config) {
		c.FailureThreshold = 1
		c.MaxRequests = 2
		c.SuccessThreshold = 5
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.advance(cb.cfg.Timeout)

	require.NoError(t, cb.Execute(ctx, succeed))
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrTooManyRequests)
}

func TestBreakerClosedWindowResets(t *testing.T) {
	cb, clk := newTestBreaker(t, func(c *Config) {
		c.FailureThreshold = 2
		c.Interval = time.Minute
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, succeed)
	assert.Equal(t, Counts{Requests: 3, TotalSuccesses: 2, TotalFailures: 1, ConsecutiveSuccesses: 1}, cb.Counts())

	_ = cb.Execute(ctx, fail)
	clk.advance(time.Minute)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State(), "failures in different windows do not add up")
}

func TestBreakerOnStateChange(t *testing.T) {
	var from, to State
	cb, _ := newTestBreaker(t, func(c *Config) {
		c.FailureThreshold = 2
		c.OnStateChange = func(name string, f, tt State) { from, to = f, tt }
	})
	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), fail)

	assert.Equal(t, StateClosed, from)
	assert.Equal(t, StateOpen, to)
}

func TestBreakerSkipsDoneContext(t *testing.T) {
	cb, _ := newTestBreaker(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Zero(t, cb.Counts().Requests)
}

func TestBreakerIsFailure(t *testing.T) {
	miss := errors.New("miss")
	cb, _ := newTestBreaker(t, func(c *Config) {
		c.FailureThreshold = 1
		c.IsFailure = func(err error) bool { return !errors.Is(err, miss) }
	})
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), func() error { return miss }), miss)
	}
	assert.False(t, cb.IsOpen())
	assert.Equal(t, "test", cb.Name())
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	cb, _ := newTestBreaker(t, func(c *Config) { c.FailureThreshold = 1 })

	assert.PanicsWithValue(t, "boom", func() {
		_ = cb.Execute(context.Background(), func() error { panic("boom") })
	})
	assert.True(t, cb.IsOpen())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(7).String())
}

func TestTrackerSnapshot(t *testing.T) {
	tr := NewTracker()
	cb, _ := newTestBreaker(t, func(c *Config) { c.FailureThreshold = 1 })
	other, _ := newTestBreaker(t, nil)
	tr.Track("svc-a", cb)
	tr.Track("svc-b", other)

	_ = cb.Execute(context.Background(), fail)

	assert.Equal(t, map[string]State{"svc-a/test": StateOpen, "svc-b/test": StateClosed}, tr.Snapshot())
	assert.Equal(t, []string{"svc-a/test"}, tr.Open())
}

func TestSettingsMerge(t *testing.T) {
	t.Setenv("CB_DB_FAILURE_THRESHOLD", "9")
	got := Settings{Timeout: time.Second}.Merge(GetDatabaseConfig())
	assert.Equal(t, time.Second, got.Timeout)
	assert.Equal(t, uint32(9), got.FailureThreshold)
	assert.Equal(t, uint32(3), got.MaxRequests)
}
