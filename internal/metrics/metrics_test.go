package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"aggronation/pkg/monitoring"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCycle("feed", "success", time.Second)
	m.IncUpsert("feed", "created")
	m.SetScheduled(3)
	m.IncEvent("content", "created")
	m.SetSubscribers(1)
	m.IncRelayError("redis", "send")
	m.IncCache("get", "hit")
	m.IncTrigger("ok")
	hooks := m.CacheHooks()
	hooks.OnHit(nil)
}

func TestMetricsRecord(t *testing.T) {
	mc := monitoring.NewMetricsCollector("ingestor", "test", "abc")
	m := New(mc)

	m.ObserveCycle("feed", "success", 200*time.Millisecond)
	m.ObserveCycle("feed", "success", 100*time.Millisecond)
	m.IncUpsert("feed", "created")
	m.SetScheduled(4)
	m.CacheHooks().OnMiss(map[string]string{"key": "x"})

	if got := testutil.ToFloat64(m.FetchCycles.WithLabelValues("feed", "success")); got != 2 {
		t.Fatalf("expected 2 cycles, got %v", got)
	}
	if got := testutil.ToFloat64(m.ItemsUpserted.WithLabelValues("feed", "created")); got != 1 {
		t.Fatalf("expected 1 upsert, got %v", got)
	}
	if got := testutil.ToFloat64(m.ScheduledSources.WithLabelValues()); got != 4 {
		t.Fatalf("expected 4 scheduled, got %v", got)
	}
	if got := testutil.ToFloat64(m.CacheOperations.WithLabelValues("get", "miss")); got != 1 {
		t.Fatalf("expected 1 cache miss, got %v", got)
	}
}
