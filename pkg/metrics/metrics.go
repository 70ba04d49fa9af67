// Package metrics provides metrics implementations for manageusers
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/memtensor/manageusers/pkg/interfaces"
)

// Namespace prefixes every metric name
const Namespace = "manageusers"

// Well-known metric names recorded by the reconciler and batch runner
const (
	ReconcileTotal    = "reconcile_total"
	ReconcileErrors   = "reconcile_errors_total"
	ReconcileDuration = "reconcile_duration_seconds"
	GroupChanges      = "group_membership_changes_total"
	BatchRecords      = "batch_records"
)

// NoOpMetrics is a no-operation metrics implementation
type NoOpMetrics struct{}

// Counter increments a counter metric
func (m *NoOpMetrics) Counter(name string, value float64, labels map[string]string) {}

// Gauge sets a gauge metric
func (m *NoOpMetrics) Gauge(name string, value float64, labels map[string]string) {}

// Histogram records a histogram metric
func (m *NoOpMetrics) Histogram(name string, value float64, labels map[string]string) {}

// Timer records timing metrics
func (m *NoOpMetrics) Timer(name string, duration float64, labels map[string]string) {}

// PrometheusMetrics records into a private prometheus registry.
// Vectors are created on first use; the label keys of that first call
// fix the label set for the metric name.
type PrometheusMetrics struct {
	registry   *prometheus.Registry
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labelKeys  map[string][]string
}

// NewPrometheusMetrics creates a prometheus-backed metrics implementation
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labelKeys:  make(map[string][]string),
	}
}

// Registry exposes the underlying registry for HTTP exposition
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current metrics in the node_exporter textfile format
func (m *PrometheusMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Counter increments a counter metric
func (m *PrometheusMetrics) Counter(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      name,
			Help:      helpFor("Counter", name),
		}, sortedKeys(labels))
		if !m.register(name, labels, vec) {
			return
		}
		m.counters[name] = vec
	}
	if c, err := vec.GetMetricWith(m.labelsFor(name, labels)); err == nil {
		c.Add(value)
	}
}

// Gauge sets a gauge metric
func (m *PrometheusMetrics) Gauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vec, ok := m.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      name,
			Help:      helpFor("Gauge", name),
		}, sortedKeys(labels))
		if !m.register(name, labels, vec) {
			return
		}
		m.gauges[name] = vec
	}
	if g, err := vec.GetMetricWith(m.labelsFor(name, labels)); err == nil {
		g.Set(value)
	}
}

// Histogram records a histogram metric
func (m *PrometheusMetrics) Histogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vec, ok := m.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      name,
			Help:      helpFor("Histogram", name),
			Buckets:   prometheus.DefBuckets,
		}, sortedKeys(labels))
		if !m.register(name, labels, vec) {
			return
		}
		m.histograms[name] = vec
	}
	if h, err := vec.GetMetricWith(m.labelsFor(name, labels)); err == nil {
		h.Observe(value)
	}
}

// Timer records timing metrics
func (m *PrometheusMetrics) Timer(name string, duration float64, labels map[string]string) {
	m.Histogram(name, duration, labels)
}

// register must be called with mu held. A name already taken by another
// metric kind is rejected and the sample dropped.
func (m *PrometheusMetrics) register(name string, labels map[string]string, c prometheus.Collector) bool {
	if _, taken := m.labelKeys[name]; taken {
		return false
	}
	if err := m.registry.Register(c); err != nil {
		return false
	}
	m.labelKeys[name] = sortedKeys(labels)
	return true
}

func sortedKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// labelsFor projects labels onto the fixed key set, filling gaps with "".
func (m *PrometheusMetrics) labelsFor(name string, labels map[string]string) prometheus.Labels {
	out := prometheus.Labels{}
	for _, k := range m.labelKeys[name] {
		out[k] = labels[k]
	}
	return out
}

func helpFor(kind, name string) string {
	return fmt.Sprintf("%s %s.", kind, strings.ReplaceAll(name, "_", " "))
}

var _ interfaces.Metrics = (*NoOpMetrics)(nil)
var _ interfaces.Metrics = (*PrometheusMetrics)(nil)

// NewNoOpMetrics creates a new no-op metrics implementation
func NewNoOpMetrics() interfaces.Metrics {
	return &NoOpMetrics{}
}

// NewTestMetrics creates a metrics implementation for testing
func NewTestMetrics() *PrometheusMetrics {
	return NewPrometheusMetrics()
}
