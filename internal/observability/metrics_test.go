package observability

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterIncAndAdd(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("test_counter", "A test counter", nil)

	assert.Equal(t, 0.0, c.Value())
	c.Inc()
	c.Inc()
	c.Add(2.5)
	assert.InDelta(t, 4.5, c.Value(), 1e-9)

	// Negative delta is ignored.
	c.Add(-10)
	assert.InDelta(t, 4.5, c.Value(), 1e-9)
}

func TestCounterConcurrent(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("concurrent", "", nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000.0, c.Value())
}

func TestGaugeSetAndAdd(t *testing.T) {
	r := NewRegistry()
	g := r.NewGauge("test_gauge", "", nil)

	g.Set(10)
	g.Add(-3)
	assert.InDelta(t, 7.0, g.Value(), 1e-9)
}

func TestRegistryIdempotentRegistration(t *testing.T) {
	r := NewRegistry()
	a := r.NewCounter("dup", "", nil)
	b := r.NewCounter("dup", "", nil)
	assert.Same(t, a, b)

	a.Inc()
	assert.Equal(t, 1.0, b.Value())
}

func TestRegistryAllMetricsSorted(t *testing.T) {
	r := NewRegistry()
	r.NewCounter("zz", "", nil).Inc()
	r.NewGauge("aa", "", nil).Set(1)

	entries := r.AllMetrics()
	require.Len(t, entries, 2)
	assert.Equal(t, "aa", entries[0].Name)
	assert.Equal(t, "zz", entries[1].Name)
}

func TestPrometheusExporterFormat(t *testing.T) {
	r := NewRegistry()
	r.NewCounter("swarm_trades_total", "Trades emitted", map[string]string{"env": "test"}).Inc()
	r.NewGauge("swarm_bots_running", "Running bots", nil).Set(3)

	e := NewPrometheusExporter(r)
	out := e.Format()

	assert.Contains(t, out, "# TYPE swarm_trades_total counter")
	assert.Contains(t, out, `swarm_trades_total{env="test"} 1`)
	assert.Contains(t, out, "# TYPE swarm_bots_running gauge")
	assert.Contains(t, out, "swarm_bots_running 3")
}

func TestPrometheusExporterServeHTTP(t *testing.T) {
	r := NewRegistry()
	r.NewCounter("hits", "", nil).Inc()

	rec := httptest.NewRecorder()
	NewPrometheusExporter(r).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "hits 1"))
}

func TestCollectorRecordsTradesAndErrors(t *testing.T) {
	c := NewCollector()

	c.RecordTrade("bot-1", "w1", true, decimal.NewFromFloat(1.5))
	c.RecordTrade("bot-1", "w1", false, decimal.NewFromFloat(0.5))
	c.RecordError("queue", "boom")
	c.RecordError("queue", "boom again")
	c.RecordError("bot", "late")

	r := c.Registry()
	assert.Equal(t, 2.0, r.GetCounter("swarm_trades_total").Value())
	assert.Equal(t, 1.0, r.GetCounter("swarm_buys_total").Value())
	assert.Equal(t, 1.0, r.GetCounter("swarm_sells_total").Value())
	assert.InDelta(t, 2.0, r.GetCounter("swarm_volume_total").Value(), 1e-9)
	assert.Equal(t, 3.0, r.GetCounter("swarm_errors_total").Value())
	assert.Equal(t, 2.0, r.GetCounter("swarm_errors_queue_total").Value())

	recent := c.RecentErrors()
	require.Len(t, recent, 3)
	assert.Equal(t, "bot", recent[2].Component)
}

func TestCollectorErrorHistoryBounded(t *testing.T) {
	c := NewCollector()
	for i := 0; i < errorHistory+50; i++ {
		c.RecordError("queue", "overflow")
	}
	assert.Len(t, c.RecentErrors(), errorHistory)
}

func TestHealthMonitorWorstStatusWins(t *testing.T) {
	m := NewHealthMonitor(time.Minute)
	m.Register("ok", func(context.Context) (ComponentStatus, string) {
		return StatusHealthy, ""
	})
	m.Register("warn", func(context.Context) (ComponentStatus, string) {
		return StatusDegraded, "lagging"
	})

	health := m.Check(context.Background())
	assert.Equal(t, StatusDegraded, health.Status)
	require.Len(t, health.Components, 2)
	assert.Equal(t, "lagging", health.Components["warn"].Message)
}

func TestQueueDepthCheck(t *testing.T) {
	depth := 0
	check := QueueDepthCheck(func() int { return depth }, 10, 100)

	st, _ := check(context.Background())
	assert.Equal(t, StatusHealthy, st)

	depth = 15
	st, _ = check(context.Background())
	assert.Equal(t, StatusDegraded, st)

	depth = 150
	st, msg := check(context.Background())
	assert.Equal(t, StatusUnhealthy, st)
	assert.Contains(t, msg, "150")
}

func TestFeedAndBotChecks(t *testing.T) {
	st, _ := FeedConnectedCheck(func() bool { return false })(context.Background())
	assert.Equal(t, StatusUnhealthy, st)
	st, _ = FeedConnectedCheck(func() bool { return true })(context.Background())
	assert.Equal(t, StatusHealthy, st)

	st, _ = RunningBotsCheck(func() int { return 0 })(context.Background())
	assert.Equal(t, StatusDegraded, st)
}
