package stats

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatcore"

// Metric names shared by the coordination components.
const (
	CoordAvailable        = "coord_available"
	CoordFailOpen         = "coord_fail_open_total"
	CacheHits             = "cache_hits_total"
	CacheMisses           = "cache_misses_total"
	EventsDispatched      = "events_dispatched_total"
	EventsHandlerPanics   = "events_handler_panics_total"
	EventsHandlerErrors   = "events_handler_errors_total"
	EventsDropped         = "events_dropped_total"
	PresenceRefresh       = "presence_refresh_total"
	PubSubMessages        = "pubsub_messages_total"
	PubSubCallbackPanics  = "pubsub_callback_panics_total"
	ThreadMessageAttached = "thread_messages_attached_total"
	AutoAssignSkipped     = "autoassign_skipped_total"
	OperationDuration     = "operation_duration_seconds"
)

type StatsProvider interface {
	Incr(name string, labels ...string)
	Decr(name string, labels ...string)
	Set(name string, value float64, labels ...string)
	Observe(name string, d time.Duration, labels ...string)
	RegisterMetric(name, help string, labels ...string)
}

// StatsUpdater keeps every metric in a dedicated prometheus registry.
// Counters and gauges share the Incr path; Decr and Set only apply to gauges.
type StatsUpdater struct {
	registry *prometheus.Registry

	mu         sync.RWMutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewStatsUpdater creates a new stats updater with the default metric set registered.
func NewStatsUpdater() *StatsUpdater {
	su := &StatsUpdater{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
	su.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	su.registerGauge(CoordAvailable, "Whether the coordination store is reachable (1) or not (0).")
	su.RegisterMetric(CoordFailOpen, "Coordination operations answered with a permissive default.", "op")
	su.RegisterMetric(CacheHits, "Cache hits by layer and tier.", "layer", "tier")
	su.RegisterMetric(CacheMisses, "Cache misses by layer.", "layer")
	su.RegisterMetric(EventsDispatched, "Domain events delivered to handlers.", "event")
	su.RegisterMetric(EventsHandlerPanics, "Domain event handlers that panicked.", "event")
	su.RegisterMetric(EventsHandlerErrors, "Domain event handlers that returned an error.", "event")
	su.RegisterMetric(EventsDropped, "Domain events dropped because a handler queue was full.", "event")
	su.RegisterMetric(PresenceRefresh, "Presence entries refreshed.")
	su.RegisterMetric(PubSubMessages, "Pub/sub messages dispatched to local callbacks.")
	su.RegisterMetric(PubSubCallbackPanics, "Pub/sub callbacks that panicked.")
	su.RegisterMetric(ThreadMessageAttached, "Messages attached to threads.")
	su.RegisterMetric(AutoAssignSkipped, "Auto-assign attempts skipped by a safeguard.", "reason")

	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      OperationDuration,
		Help:      "Latency of use case operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
	su.registry.MustRegister(h)
	su.histograms[OperationDuration] = h
}

func (su *StatsUpdater) registerGauge(name, help string, labels ...string) {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
	su.registry.MustRegister(g)

	su.mu.Lock()
	su.gauges[name] = g
	su.mu.Unlock()
}

// RegisterMetric registers a counter. Registering the same name twice is a no-op.
func (su *StatsUpdater) RegisterMetric(name, help string, labels ...string) {
	su.mu.Lock()
	defer su.mu.Unlock()
	if _, ok := su.counters[name]; ok {
		return
	}

	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
	su.registry.MustRegister(c)
	su.counters[name] = c
}

func (su *StatsUpdater) Incr(name string, labels ...string) {
	su.mu.RLock()
	defer su.mu.RUnlock()
	if c, ok := su.counters[name]; ok {
		c.WithLabelValues(labels...).Inc()
		return
	}
	if g, ok := su.gauges[name]; ok {
		g.WithLabelValues(labels...).Inc()
	}
}

func (su *StatsUpdater) Decr(name string, labels ...string) {
	su.mu.RLock()
	defer su.mu.RUnlock()
	if g, ok := su.gauges[name]; ok {
		g.WithLabelValues(labels...).Dec()
	}
}

func (su *StatsUpdater) Set(name string, value float64, labels ...string) {
	su.mu.RLock()
	defer su.mu.RUnlock()
	if g, ok := su.gauges[name]; ok {
		g.WithLabelValues(labels...).Set(value)
	}
}

func (su *StatsUpdater) Observe(name string, d time.Duration, labels ...string) {
	su.mu.RLock()
	defer su.mu.RUnlock()
	if h, ok := su.histograms[name]; ok {
		h.WithLabelValues(labels...).Observe(d.Seconds())
	}
}

// Handler serves the registry in the prometheus text format.
func (su *StatsUpdater) Handler() http.Handler {
	return promhttp.HandlerFor(su.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (su *StatsUpdater) Registry() *prometheus.Registry {
	return su.registry
}

type discard struct{}

// Discard is a StatsProvider that drops everything.
var Discard StatsProvider = discard{}

func (discard) Incr(string, ...string)                   {}
func (discard) Decr(string, ...string)                   {}
func (discard) Set(string, float64, ...string)           {}
func (discard) Observe(string, time.Duration, ...string) {}
func (discard) RegisterMetric(string, string, ...string) {}
