package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/assetcache/assetcache/pkg/types"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(&Config{Enabled: true, Namespace: "assetcache"})
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	return c
}

func counterValue(t *testing.T, c *Collector, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := c.registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, family := range families {
		if !strings.HasSuffix(family.GetName(), name) {
			continue
		}
		for _, metric := range family.GetMetric() {
			if matchLabels(metric, labels) {
				if metric.GetCounter() != nil {
					return metric.GetCounter().GetValue()
				}
				return metric.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(metric *dto.Metric, labels prometheus.Labels) bool {
	got := make(map[string]string)
	for _, pair := range metric.GetLabel() {
		got[pair.GetName()] = pair.GetValue()
	}
	for key, want := range labels {
		if got[key] != want {
			return false
		}
	}
	return true
}

func TestRecordFetch(t *testing.T) {
	c := newTestCollector(t)

	c.RecordFetch(types.KindModels, true)
	c.RecordFetch(types.KindModels, true)
	c.RecordFetch(types.KindModels, false)

	if got := counterValue(t, c, "network_fetches_total", prometheus.Labels{"kind": "models", "outcome": "success"}); got != 2 {
		t.Errorf("success fetches = %v, want 2", got)
	}
	if got := counterValue(t, c, "network_fetches_total", prometheus.Labels{"kind": "models", "outcome": "error"}); got != 1 {
		t.Errorf("error fetches = %v, want 1", got)
	}
}

func TestRecordCacheLookups(t *testing.T) {
	c := newTestCollector(t)

	c.RecordCacheHit(types.KindStatic)
	c.RecordCacheMiss(types.KindStatic)
	c.RecordCacheMiss(types.KindRuntime)

	if got := counterValue(t, c, "cache_lookups_total", prometheus.Labels{"kind": "static", "result": "hit"}); got != 1 {
		t.Errorf("static hits = %v", got)
	}
	if got := counterValue(t, c, "cache_lookups_total", prometheus.Labels{"kind": "runtime", "result": "miss"}); got != 1 {
		t.Errorf("runtime misses = %v", got)
	}
}

func TestUpdatePartition(t *testing.T) {
	c := newTestCollector(t)

	c.UpdatePartition("models-v1", types.CacheStats{Entries: 6, Size: 12345})

	if got := counterValue(t, c, "partition_entries", prometheus.Labels{"partition": "models-v1"}); got != 6 {
		t.Errorf("entries = %v", got)
	}
	if got := counterValue(t, c, "partition_bytes", prometheus.Labels{"partition": "models-v1"}); got != 12345 {
		t.Errorf("bytes = %v", got)
	}
}

func TestDisabledCollectorIsNoOp(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}

	// None of these may panic on a disabled collector.
	c.RecordFetch(types.KindModels, true)
	c.RecordCacheHit(types.KindStatic)
	c.RecordCacheMiss(types.KindStatic)
	c.RecordControlMessage("CACHE_STATUS")
	c.UpdatePartition("models-v1", types.CacheStats{})
	c.SetLifecycleState(3)

	if err := c.Start(); err != nil {
		t.Errorf("Start on disabled collector: %v", err)
	}
}
