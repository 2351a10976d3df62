package taskvault

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements the Metrics interface using Prometheus
type PrometheusMetrics struct {
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance.
// If registry is nil, uses the default Prometheus registry.
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer.(*prometheus.Registry)
	}

	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registry:   registry,
	}

	pm.registerDefaultMetrics()
	return pm
}

// registerDefaultMetrics registers all standard taskvault metrics
func (p *PrometheusMetrics) registerDefaultMetrics() {
	// Mutation counts
	p.counters[MetricCreateTotal] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskvault",
			Subsystem: "mutations",
			Name:      "create_total",
			Help:      "Total number of entity creations",
		},
		[]string{"store"},
	)

	p.counters[MetricUpdateTotal] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskvault",
			Subsystem: "mutations",
			Name:      "update_total",
			Help:      "Total number of entity updates",
		},
		[]string{"store"},
	)

	p.counters[MetricDeleteTotal] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskvault",
			Subsystem: "mutations",
			Name:      "delete_total",
			Help:      "Total number of entity deletions, soft and hard",
		},
		[]string{"store", "mode"},
	)

	p.counters[MetricValidationFail] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskvault",
			Subsystem: "mutations",
			Name:      "validation_failed_total",
			Help:      "Total number of mutations refused by validation",
		},
		[]string{"store"},
	)

	p.counters[MetricSaveSuccess] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskvault",
			Subsystem: "save",
			Name:      "success_total",
			Help:      "Total number of successful snapshot writes",
		},
		[]string{"store"},
	)

	p.counters[MetricSaveError] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskvault",
			Subsystem: "save",
			Name:      "error_total",
			Help:      "Total number of failed snapshot writes",
		},
		[]string{"store"},
	)

	// Timing histograms
	p.histograms[MetricSaveDuration] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskvault",
			Subsystem: "save",
			Name:      "duration_seconds",
			Help:      "Snapshot write duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"store"},
	)

	p.histograms[MetricCascadeSize] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskvault",
			Subsystem: "mutations",
			Name:      "cascade_size",
			Help:      "Number of entities touched by a cascade delete",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"store"},
	)

	// Gauge metrics
	p.gauges[MetricTableSize] = promauto.With(p.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "taskvault",
			Subsystem: "table",
			Name:      "size",
			Help:      "Number of entities currently in the primary table",
		},
		[]string{"store"},
	)
}

// Increment increments a Prometheus counter
func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		counter = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskvault",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic counter: " + name,
			},
			extractLabels(tags),
		)
		p.counters[name] = counter
	}
	p.mu.Unlock()

	counter.With(extractLabelValues(tags)).Inc()
}

// Gauge sets a Prometheus gauge value
func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	p.mu.Lock()
	gauge, ok := p.gauges[name]
	if !ok {
		gauge = promauto.With(p.registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "taskvault",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic gauge: " + name,
			},
			extractLabels(tags),
		)
		p.gauges[name] = gauge
	}
	p.mu.Unlock()

	gauge.With(extractLabelValues(tags)).Set(value)
}

// Histogram records a value in a Prometheus histogram
func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	p.mu.Lock()
	histogram, ok := p.histograms[name]
	if !ok {
		histogram = promauto.With(p.registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "taskvault",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic histogram: " + name,
				Buckets:   prometheus.DefBuckets,
			},
			extractLabels(tags),
		)
		p.histograms[name] = histogram
	}
	p.mu.Unlock()

	histogram.With(extractLabelValues(tags)).Observe(value)
}

// Timing records a duration in a Prometheus histogram
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

// GetRegistry returns the underlying Prometheus registry
func (p *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return p.registry
}

// sanitizeMetricName converts a dotted metric name into a Prometheus-legal one
func sanitizeMetricName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' || c == '-' {
			out[i] = '_'
		} else {
			out[i] = c
		}
	}
	return string(out)
}

// extractLabels extracts label names from tags (every even index)
func extractLabels(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	labels := make([]string, 0, len(tags)/2)
	for i := 0; i < len(tags)-1; i += 2 {
		labels = append(labels, tags[i])
	}
	return labels
}

// extractLabelValues creates a label map from tags (key-value pairs)
func extractLabelValues(tags []string) prometheus.Labels {
	if len(tags) == 0 {
		return prometheus.Labels{}
	}

	labels := make(prometheus.Labels)
	for i := 0; i < len(tags)-1; i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}
