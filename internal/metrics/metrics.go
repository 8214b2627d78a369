package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"aggronation/pkg/cache"
	"aggronation/pkg/monitoring"
)

// Metrics holds the ingestor's Prometheus instruments. Every method is safe
// on a nil receiver so components can run without metrics in tests.
type Metrics struct {
	FetchCycles      *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	ItemsUpserted    *prometheus.CounterVec
	ScheduledSources *prometheus.GaugeVec
	EventsEmitted    *prometheus.CounterVec
	EventSubscribers *prometheus.GaugeVec
	EventRelayErrors *prometheus.CounterVec
	CacheOperations  *prometheus.CounterVec
	TriggerRequests  *prometheus.CounterVec
}

func New(mc *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		FetchCycles:      mc.NewCounter("fetch_cycles_total", "Fetch cycles by source type and outcome status", []string{"source_type", "status"}),
		FetchDuration:    mc.NewHistogram("fetch_cycle_duration_seconds", "Fetch cycle duration", []string{"source_type"}, []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60}),
		ItemsUpserted:    mc.NewCounter("items_upserted_total", "Content upserts by source type and result", []string{"source_type", "result"}),
		ScheduledSources: mc.NewGauge("scheduled_sources", "Sources with an armed timer", []string{}),
		EventsEmitted:    mc.NewCounter("events_emitted_total", "Events emitted on the bus", []string{"type", "action"}),
		EventSubscribers: mc.NewGauge("event_subscribers", "Current event bus subscribers", []string{}),
		EventRelayErrors: mc.NewCounter("event_relay_errors_total", "Events that could not be relayed", []string{"sink", "reason"}),
		CacheOperations:  mc.NewCounter("cache_operations_total", "Cache operations by result", []string{"op", "result"}),
		TriggerRequests:  mc.NewCounter("trigger_requests_total", "Manual trigger requests by status", []string{"status"}),
	}
}

func (m *Metrics) ObserveCycle(sourceType, status string, d time.Duration) {
	if m == nil {
		return
	}
	if m.FetchCycles != nil {
		m.FetchCycles.WithLabelValues(sourceType, status).Inc()
	}
	if m.FetchDuration != nil {
		m.FetchDuration.WithLabelValues(sourceType).Observe(d.Seconds())
	}
}

func (m *Metrics) IncUpsert(sourceType, result string) {
	if m == nil || m.ItemsUpserted == nil {
		return
	}
	m.ItemsUpserted.WithLabelValues(sourceType, result).Inc()
}

func (m *Metrics) SetScheduled(n int) {
	if m == nil || m.ScheduledSources == nil {
		return
	}
	m.ScheduledSources.WithLabelValues().Set(float64(n))
}

func (m *Metrics) IncEvent(eventType, action string) {
	if m == nil || m.EventsEmitted == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(eventType, action).Inc()
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil || m.EventSubscribers == nil {
		return
	}
	m.EventSubscribers.WithLabelValues().Set(float64(n))
}

func (m *Metrics) IncRelayError(sink, reason string) {
	if m == nil || m.EventRelayErrors == nil {
		return
	}
	m.EventRelayErrors.WithLabelValues(sink, reason).Inc()
}

func (m *Metrics) IncCache(op, result string) {
	if m == nil || m.CacheOperations == nil {
		return
	}
	m.CacheOperations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) IncTrigger(status string) {
	if m == nil || m.TriggerRequests == nil {
		return
	}
	m.TriggerRequests.WithLabelValues(status).Inc()
}

// CacheHooks adapts the cache's per-key hooks to label-free counters.
func (m *Metrics) CacheHooks() cache.MetricsHooks {
	return cache.MetricsHooks{
		OnHit:    func(map[string]string) { m.IncCache("get", "hit") },
		OnMiss:   func(map[string]string) { m.IncCache("get", "miss") },
		OnExpire: func(map[string]string) { m.IncCache("expire", "removed") },
		OnStore:  func(map[string]string) { m.IncCache("set", "stored") },
		OnEvict:  func(map[string]string) { m.IncCache("evict", "removed") },
	}
}
