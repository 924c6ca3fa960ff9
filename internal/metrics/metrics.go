// ============================================================================
// Edge Agent Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose agent metrics for Prometheus monitoring
//
// Monitoring Philosophy:
//   Based on RED (Rate, Errors, Duration) and USE (Utilization, Saturation,
//   Errors). The agent runs unattended on vehicle hardware; these metrics
//   are what a fleet operator scrapes to know whether a truck's agent is
//   keeping up, falling behind, or degrading itself under load.
//
// Metric Categories:
//
//   1. WAL Counters - Cumulative, monotonically increasing:
//      - wal_appends_total: Events durably appended
//      - wal_throttled_total: Appends rejected for backpressure
//      - wal_compactions_total: Compaction passes run
//      - wal_entries_reclaimed_total: Entries deleted by compaction
//
//   2. Transport Counters:
//      - transport_batches_sent_total: Batches handed to a transport
//      - transport_acks_total: Acks received from the server
//      - transport_retries_total: Redelivery attempts
//
//   3. Performance Metrics (Histogram):
//      - batch_assembly_seconds: Time from first event to batch dispatch
//      - transport_round_trip_seconds: Send-to-ack latency
//
//   4. Status Metrics (Gauge) - Instantaneous values:
//      - wal_depth: Unacked entries currently on disk
//      - wal_disk_usage_fraction: WAL store size / configured capacity
//      - adaptive_degradation_level: Current Adaptive Controller severity
//      - health_cpu_percent / health_mem_percent / health_disk_percent
//
// Use Cases:
//
//   Alerting:
//   - wal_depth growing unbounded → transport is down or server unreachable
//   - wal_throttled_total rate increase → producers outrunning disk budget
//   - adaptive_degradation_level > 0 for an extended window → sustained
//     resource pressure, investigate before the truck needs service
//
//   Capacity Planning:
//   - transport_batches_sent_total / time → sustained throughput
//   - wal_disk_usage_fraction peaks → whether the configured quota is sized
//     correctly for this vehicle's duty cycle
//
// Every metric name above is registered with the prefix "edge_agent_".
//
// Prometheus Query Examples:
//
//   # Ack rate
//   rate(edge_agent_transport_acks_total[1m])
//
//   # 95th percentile round trip
//   histogram_quantile(0.95, edge_agent_transport_round_trip_seconds_bucket)
//
//   # Throttle rate
//   rate(edge_agent_wal_throttled_total[5m])
//
// HTTP Endpoint:
//   Exposed via /metrics, scraped by Prometheus (or bundled upstream in the
//   fleet's central collector, since trucks are rarely scraped directly).
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects the agent's Prometheus metrics. One Collector per
// process; a second NewCollector call against the default registry panics
// on duplicate registration, matching how prometheus.MustRegister behaves
// everywhere else in this codebase.
type Collector struct {
	walAppends      prometheus.Counter
	walThrottled    prometheus.Counter
	walCompactions  prometheus.Counter
	walReclaimed    prometheus.Counter

	transportBatchesSent prometheus.Counter
	transportAcks        prometheus.Counter
	transportRetries     prometheus.Counter

	batchAssembly       prometheus.Histogram
	transportRoundTrip  prometheus.Histogram

	walDepth        prometheus.Gauge
	walDiskUsage    prometheus.Gauge
	degradationLvl  prometheus.Gauge
	healthCPU       prometheus.Gauge
	healthMem       prometheus.Gauge
	healthDisk      prometheus.Gauge
}

// NewCollector creates and registers a new metrics collector.
func NewCollector() *Collector {
	c := &Collector{
		walAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_agent_wal_appends_total",
			Help: "Total number of events durably appended to the WAL",
		}),
		walThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_agent_wal_throttled_total",
			Help: "Total number of non-critical appends rejected for disk-pressure backpressure",
		}),
		walCompactions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_agent_wal_compactions_total",
			Help: "Total number of compaction passes run",
		}),
		walReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_agent_wal_entries_reclaimed_total",
			Help: "Total number of WAL entries deleted by compaction",
		}),
		transportBatchesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_agent_transport_batches_sent_total",
			Help: "Total number of batches handed to a transport",
		}),
		transportAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_agent_transport_acks_total",
			Help: "Total number of acks received from the server",
		}),
		transportRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_agent_transport_retries_total",
			Help: "Total number of redelivery attempts",
		}),
		batchAssembly: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edge_agent_batch_assembly_seconds",
			Help:    "Time from first event in a batch to dispatch",
			Buckets: prometheus.DefBuckets,
		}),
		transportRoundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edge_agent_transport_round_trip_seconds",
			Help:    "Send-to-ack latency for a batch",
			Buckets: prometheus.DefBuckets,
		}),
		walDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edge_agent_wal_depth",
			Help: "Current number of unacked entries on disk",
		}),
		walDiskUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edge_agent_wal_disk_usage_fraction",
			Help: "WAL store size as a fraction of configured capacity",
		}),
		degradationLvl: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edge_agent_adaptive_degradation_level",
			Help: "Current Adaptive Controller degradation bucket (0 = nominal)",
		}),
		healthCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edge_agent_health_cpu_percent",
			Help: "Most recently sampled CPU utilization percentage",
		}),
		healthMem: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edge_agent_health_mem_percent",
			Help: "Most recently sampled memory utilization percentage",
		}),
		healthDisk: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edge_agent_health_disk_percent",
			Help: "Most recently sampled disk utilization percentage",
		}),
	}

	prometheus.MustRegister(c.walAppends)
	prometheus.MustRegister(c.walThrottled)
	prometheus.MustRegister(c.walCompactions)
	prometheus.MustRegister(c.walReclaimed)
	prometheus.MustRegister(c.transportBatchesSent)
	prometheus.MustRegister(c.transportAcks)
	prometheus.MustRegister(c.transportRetries)
	prometheus.MustRegister(c.batchAssembly)
	prometheus.MustRegister(c.transportRoundTrip)
	prometheus.MustRegister(c.walDepth)
	prometheus.MustRegister(c.walDiskUsage)
	prometheus.MustRegister(c.degradationLvl)
	prometheus.MustRegister(c.healthCPU)
	prometheus.MustRegister(c.healthMem)
	prometheus.MustRegister(c.healthDisk)

	return c
}

// RecordAppend records a durable WAL append.
func (c *Collector) RecordAppend() { c.walAppends.Inc() }

// RecordThrottled records a non-critical append rejected for backpressure.
func (c *Collector) RecordThrottled() { c.walThrottled.Inc() }

// RecordCompaction records a finished compaction pass, reclaiming n entries.
func (c *Collector) RecordCompaction(reclaimed int) {
	c.walCompactions.Inc()
	c.walReclaimed.Add(float64(reclaimed))
}

// SetWALDepth sets the current count of unacked entries.
func (c *Collector) SetWALDepth(depth int) { c.walDepth.Set(float64(depth)) }

// SetWALDiskUsage sets the WAL store's disk usage fraction (0..1).
func (c *Collector) SetWALDiskUsage(frac float64) { c.walDiskUsage.Set(frac) }

// RecordBatchSent records a batch handed to a transport and its assembly
// latency (time since the first event joined the batch).
func (c *Collector) RecordBatchSent(assemblySeconds float64) {
	c.transportBatchesSent.Inc()
	c.batchAssembly.Observe(assemblySeconds)
}

// RecordAck records a server ack and the round-trip latency it closes out.
func (c *Collector) RecordAck(roundTripSeconds float64) {
	c.transportAcks.Inc()
	c.transportRoundTrip.Observe(roundTripSeconds)
}

// RecordRetry records one redelivery attempt.
func (c *Collector) RecordRetry() { c.transportRetries.Inc() }

// SetDegradationLevel reports the Adaptive Controller's current bucket.
func (c *Collector) SetDegradationLevel(level int) { c.degradationLvl.Set(float64(level)) }

// SetHealthSample reports the most recent CPU/mem/disk utilization sample.
func (c *Collector) SetHealthSample(cpuPercent, memPercent, diskPercent float64) {
	c.healthCPU.Set(cpuPercent)
	c.healthMem.Set(memPercent)
	c.healthDisk.Set(diskPercent)
}

// StartServer starts the Prometheus metrics HTTP server.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
