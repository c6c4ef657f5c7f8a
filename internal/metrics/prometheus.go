// Package metrics exposes Prometheus instrumentation for scans and RPC calls.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/abisig/pkg/types"
)

// PrometheusMetrics holds all Prometheus metrics for the selector scanner.
type PrometheusMetrics struct {
	// Scan counters
	FilesTotal      *prometheus.CounterVec
	EntriesTotal    *prometheus.CounterVec
	MissingDispatch prometheus.Counter

	// Gauges
	ScanStatus      *prometheus.GaugeVec
	LastScanEntries prometheus.Gauge

	// Histograms
	ScanDuration prometheus.Histogram
	RPCLatency   *prometheus.HistogramVec

	// Error tracking
	ErrorsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		FilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abisig_files_total",
				Help: "Artifact files processed by outcome",
			},
			[]string{"status"},
		),

		EntriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abisig_entries_total",
				Help: "Selectors derived by entry kind",
			},
			[]string{"kind"},
		),

		MissingDispatch: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "abisig_missing_dispatch_total",
				Help: "Function selectors absent from deployed bytecode",
			},
		),

		ScanStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "abisig_scan_status",
				Help: "Current scan status (1 if active, 0 otherwise)",
			},
			[]string{"status"},
		),

		LastScanEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "abisig_last_scan_entries",
				Help: "Selectors derived by the most recent scan",
			},
		),

		ScanDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "abisig_scan_duration_seconds",
				Help:    "Wall time of a full scan in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
		),

		RPCLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "abisig_rpc_latency_seconds",
				Help:    "RPC call latency by method",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "status"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abisig_errors_total",
				Help: "Errors by category",
			},
			[]string{"category"},
		),
	}
}

// Error categories.
const (
	CategoryFile  = "file"
	CategoryEntry = "entry"
	CategoryRPC   = "rpc"
	CategoryStore = "store"
)

// OnFile records one processed artifact. It lets PrometheusMetrics observe
// a scanner directly.
func (m *PrometheusMetrics) OnFile(report *types.FileReport) {
	switch {
	case report.Err != "":
		m.FilesTotal.WithLabelValues("failed").Inc()
		m.RecordError(CategoryFile)
	case !report.HasABI:
		m.FilesTotal.WithLabelValues("no_abi").Inc()
	default:
		m.FilesTotal.WithLabelValues("ok").Inc()
	}

	for _, d := range report.Entries {
		m.EntriesTotal.WithLabelValues(string(d.Kind)).Inc()
	}
	if n := len(report.Errors); n > 0 {
		m.ErrorsTotal.WithLabelValues(CategoryEntry).Add(float64(n))
	}
	if report.Dispatch != nil {
		m.MissingDispatch.Add(float64(len(report.Dispatch.Missing)))
	}
}

// OnDone records the scan duration.
func (m *PrometheusMetrics) OnDone(summary types.ScanSummary) {
	m.ScanDuration.Observe(summary.Duration.Seconds())
	m.LastScanEntries.Set(float64(summary.Entries))
}

// knownRPCMethods is a fixed set of known RPC methods to prevent cardinality explosion
var knownRPCMethods = map[string]bool{
	"eth_getCode":     true,
	"eth_chainId":     true,
	"eth_blockNumber": true,
	"eth_call":        true,
}

// RecordRPCLatency records RPC call latency.
func (m *PrometheusMetrics) RecordRPCLatency(method string, success bool, latencySeconds float64) {
	// Bucket unknown methods into 'other' to prevent cardinality explosion
	bucketedMethod := method
	if !knownRPCMethods[method] {
		bucketedMethod = "other"
	}

	status := "success"
	if !success {
		status = "error"
	}
	m.RPCLatency.WithLabelValues(bucketedMethod, status).Observe(latencySeconds)
}

// RecordError records an error.
func (m *PrometheusMetrics) RecordError(category string) {
	m.ErrorsTotal.WithLabelValues(category).Inc()
}

// SetScanStatus updates the scan status gauges.
func (m *PrometheusMetrics) SetScanStatus(status types.ScanStatus) {
	for _, s := range []types.ScanStatus{types.ScanIdle, types.ScanRunning, types.ScanCompleted, types.ScanError} {
		if s == status {
			m.ScanStatus.WithLabelValues(string(s)).Set(1)
		} else {
			m.ScanStatus.WithLabelValues(string(s)).Set(0)
		}
	}
}
