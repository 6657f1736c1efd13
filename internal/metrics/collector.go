// internal/metrics/collector.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "autosell"

// Collector owns every metric the engine exports. A nil *Collector is valid
// and records nothing, so components can be built without metrics in tests.
type Collector struct {
	activeMonitors  prometheus.Gauge
	schedulerRuns   *prometheus.CounterVec
	monitorsStarted prometheus.Counter
	monitorsStopped *prometheus.CounterVec
	sells           *prometheus.CounterVec
	swapFailures    *prometheus.CounterVec
	swapDuration    *prometheus.HistogramVec
	priceFetches    *prometheus.CounterVec
	liquidityChecks *prometheus.CounterVec

	registerer prometheus.Registerer
	all        []prometheus.Collector
}

// NewCollector creates the metrics and registers them on reg. Passing nil
// uses the default prometheus registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		activeMonitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_monitors",
			Help:      "Number of running position supervisors",
		}),
		schedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_runs_total",
			Help:      "Scheduler invocations by outcome",
		}, []string{"status"}),
		monitorsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitors_started_total",
			Help:      "Supervisors started by the scheduler",
		}),
		monitorsStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitors_stopped_total",
			Help:      "Supervisors stopped, by reason",
		}, []string{"reason"}),
		sells: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sells_total",
			Help:      "Executed sells by kind and reason",
		}, []string{"kind", "reason"}),
		swapFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swap_failures_total",
			Help:      "Failed swap attempts by kind",
		}, []string{"kind"}),
		swapDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "swap_duration_seconds",
			Help:      "Swap execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"status"}),
		priceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_fetches_total",
			Help:      "Price lookups by provider and outcome",
		}, []string{"provider", "status"}),
		liquidityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidity_checks_total",
			Help:      "Liquidity checks by classification",
		}, []string{"classification"}),
		registerer: reg,
	}

	c.all = []prometheus.Collector{
		c.activeMonitors,
		c.schedulerRuns,
		c.monitorsStarted,
		c.monitorsStopped,
		c.sells,
		c.swapFailures,
		c.swapDuration,
		c.priceFetches,
		c.liquidityChecks,
	}
	for _, m := range c.all {
		reg.MustRegister(m)
	}
	return c
}

// ObserveEventBacklog exports the event bus queue length as a gauge read at
// scrape time.
func (c *Collector) ObserveEventBacklog(backlog func() int) {
	if c == nil {
		return
	}
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "event_backlog",
		Help:      "Events queued on the bus and not yet dispatched",
	}, func() float64 { return float64(backlog()) })
	c.registerer.MustRegister(g)
	c.all = append(c.all, g)
}

// Unregister removes every metric from the registerer it was created with.
func (c *Collector) Unregister() {
	if c == nil {
		return
	}
	for _, m := range c.all {
		c.registerer.Unregister(m)
	}
}

func (c *Collector) MonitorStarted() {
	if c == nil {
		return
	}
	c.activeMonitors.Inc()
	c.monitorsStarted.Inc()
}

func (c *Collector) MonitorStopped(reason string) {
	if c == nil {
		return
	}
	c.activeMonitors.Dec()
	c.monitorsStopped.WithLabelValues(reason).Inc()
}

// RecordSchedulerRun counts one scheduler invocation.
func (c *Collector) RecordSchedulerRun(err error) {
	if c == nil {
		return
	}
	c.schedulerRuns.WithLabelValues(statusLabel(err == nil)).Inc()
}

// RecordSell counts a confirmed sale. kind is partial_sell or full_sell.
func (c *Collector) RecordSell(kind, reason string) {
	if c == nil {
		return
	}
	c.sells.WithLabelValues(kind, reasonLabel(reason)).Inc()
}

// RecordSwap records the outcome and duration of a swap call.
func (c *Collector) RecordSwap(kind string, duration time.Duration, success bool) {
	if c == nil {
		return
	}
	c.swapDuration.WithLabelValues(statusLabel(success)).Observe(duration.Seconds())
	if !success {
		c.swapFailures.WithLabelValues(kind).Inc()
	}
}

func (c *Collector) RecordPriceFetch(provider string, success bool) {
	if c == nil {
		return
	}
	c.priceFetches.WithLabelValues(provider, statusLabel(success)).Inc()
}

func (c *Collector) RecordLiquidityCheck(classification string) {
	if c == nil {
		return
	}
	c.liquidityChecks.WithLabelValues(classification).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// reasonLabel strips the threshold suffix so label cardinality stays bounded:
// "take_profit_50%" becomes "take_profit".
func reasonLabel(reason string) string {
	for _, prefix := range []string{"take_profit", "stop_loss", "trailing_stop", "drawdown"} {
		if len(reason) >= len(prefix) && reason[:len(prefix)] == prefix {
			return prefix
		}
	}
	return reason
}
