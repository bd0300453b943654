// Package metrics exposes Prometheus metrics for the asset-cache engine:
// network fetch counts per partition kind, cache hits and misses, control
// message traffic, and per-partition size gauges.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/assetcache/assetcache/pkg/types"
)

// Collector owns the engine's Prometheus registry and metrics server.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	fetchCounter     *prometheus.CounterVec
	cacheHitCounter  *prometheus.CounterVec
	controlCounter   *prometheus.CounterVec
	partitionEntries *prometheus.GaugeVec
	partitionBytes   *prometheus.GaugeVec
	lifecycleState   prometheus.Gauge

	server *http.Server
}

// Config represents metrics configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewCollector creates a metrics collector with its own registry.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Addr:      ":9090",
			Path:      "/metrics",
			Namespace: "assetcache",
		}
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "assetcache"
	}

	c := &Collector{config: config}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return c, nil
}

func (c *Collector) initMetrics() error {
	c.fetchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.config.Namespace,
		Name:      "network_fetches_total",
		Help:      "Network fetches issued, by partition kind and outcome",
	}, []string{"kind", "outcome"})

	c.cacheHitCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.config.Namespace,
		Name:      "cache_lookups_total",
		Help:      "Cache lookups, by partition kind and result",
	}, []string{"kind", "result"})

	c.controlCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.config.Namespace,
		Name:      "control_messages_total",
		Help:      "Control messages handled, by message type",
	}, []string{"type"})

	c.partitionEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: c.config.Namespace,
		Name:      "partition_entries",
		Help:      "Entries stored per partition",
	}, []string{"partition"})

	c.partitionBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: c.config.Namespace,
		Name:      "partition_bytes",
		Help:      "Bytes stored per partition",
	}, []string{"partition"})

	c.lifecycleState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: c.config.Namespace,
		Name:      "lifecycle_state",
		Help:      "Engine lifecycle state (0 installing, 1 installed, 2 activating, 3 activated)",
	})

	collectors := []prometheus.Collector{
		c.fetchCounter,
		c.cacheHitCounter,
		c.controlCounter,
		c.partitionEntries,
		c.partitionBytes,
		c.lifecycleState,
	}
	for _, collector := range collectors {
		if err := c.registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// Start starts the metrics HTTP server.
func (c *Collector) Start() error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	c.server = &http.Server{
		Addr:              c.config.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Stop shuts down the metrics HTTP server.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordFetch records a network fetch and its outcome for a partition kind.
func (c *Collector) RecordFetch(kind types.PartitionKind, success bool) {
	if !c.config.Enabled {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	c.fetchCounter.With(prometheus.Labels{"kind": string(kind), "outcome": outcome}).Inc()
}

// RecordCacheHit records a cache hit for a partition kind.
func (c *Collector) RecordCacheHit(kind types.PartitionKind) {
	if !c.config.Enabled {
		return
	}
	c.cacheHitCounter.With(prometheus.Labels{"kind": string(kind), "result": "hit"}).Inc()
}

// RecordCacheMiss records a cache miss for a partition kind.
func (c *Collector) RecordCacheMiss(kind types.PartitionKind) {
	if !c.config.Enabled {
		return
	}
	c.cacheHitCounter.With(prometheus.Labels{"kind": string(kind), "result": "miss"}).Inc()
}

// RecordControlMessage records a handled control message by type.
func (c *Collector) RecordControlMessage(messageType string) {
	if !c.config.Enabled {
		return
	}
	c.controlCounter.With(prometheus.Labels{"type": messageType}).Inc()
}

// UpdatePartition updates per-partition size gauges from store stats.
func (c *Collector) UpdatePartition(name string, stats types.CacheStats) {
	if !c.config.Enabled {
		return
	}
	c.partitionEntries.With(prometheus.Labels{"partition": name}).Set(float64(stats.Entries))
	c.partitionBytes.With(prometheus.Labels{"partition": name}).Set(float64(stats.Size))
}

// SetLifecycleState publishes the engine's lifecycle state.
func (c *Collector) SetLifecycleState(state int) {
	if !c.config.Enabled {
		return
	}
	c.lifecycleState.Set(float64(state))
}
