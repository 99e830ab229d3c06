package observability

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// errorHistory bounds the in-memory record of recent errors.
const errorHistory = 256

// ErrorRecord is one recorded failure.
type ErrorRecord struct {
	Component string    `json:"component"`
	Detail    string    `json:"detail"`
	At        time.Time `json:"at"`
}

// Collector receives trade and error records from bots and the task queue
// and exposes them as metrics. Safe for concurrent use.
type Collector struct {
	registry *Registry

	trades      *Counter
	buys        *Counter
	sells       *Counter
	volume      *Counter
	errorsTotal *Counter

	mu     sync.Mutex
	recent []ErrorRecord
	byComp map[string]*Counter
}

// NewCollector creates a collector over its own registry.
func NewCollector() *Collector {
	return NewCollectorWithRegistry(NewRegistry())
}

// NewCollectorWithRegistry creates a collector sharing an existing registry.
func NewCollectorWithRegistry(registry *Registry) *Collector {
	return &Collector{
		registry:    registry,
		trades:      registry.NewCounter("swarm_trades_total", "Trades emitted by all bots", nil),
		buys:        registry.NewCounter("swarm_buys_total", "Buy trades emitted", nil),
		sells:       registry.NewCounter("swarm_sells_total", "Sell trades emitted", nil),
		volume:      registry.NewCounter("swarm_volume_total", "Total emitted trade volume", nil),
		errorsTotal: registry.NewCounter("swarm_errors_total", "Errors recorded across components", nil),
		byComp:      make(map[string]*Counter),
	}
}

// Registry returns the backing metric registry.
func (c *Collector) Registry() *Registry {
	return c.registry
}

// RecordTrade accounts for one emitted trade.
func (c *Collector) RecordTrade(botID, wallet string, isBuy bool, size decimal.Decimal) {
	c.trades.Inc()
	if isBuy {
		c.buys.Inc()
	} else {
		c.sells.Inc()
	}
	v, _ := size.Float64()
	c.volume.Add(v)
}

// RecordError accounts for one component failure and keeps it in the
// bounded recent-error history.
func (c *Collector) RecordError(component, detail string) {
	c.errorsTotal.Inc()

	c.mu.Lock()
	counter, ok := c.byComp[component]
	if !ok {
		counter = c.registry.NewCounter("swarm_errors_"+component+"_total",
			"Errors recorded by the "+component+" component", nil)
		c.byComp[component] = counter
	}
	c.recent = append(c.recent, ErrorRecord{Component: component, Detail: detail, At: time.Now()})
	if len(c.recent) > errorHistory {
		c.recent = c.recent[len(c.recent)-errorHistory:]
	}
	c.mu.Unlock()

	counter.Inc()
}

// RecentErrors returns the newest-last error history.
func (c *Collector) RecentErrors() []ErrorRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ErrorRecord(nil), c.recent...)
}
