package observability

// MetricType enumerates the measurement kinds understood by collectors.
type MetricType string

const (
	// MetricCounter is a monotonically increasing count.
	MetricCounter MetricType = "counter"
	// MetricHistogram records a distribution of observed values.
	MetricHistogram MetricType = "histogram"
)

// Metric is a single measurement forwarded to a MetricsCollector.
type Metric struct {
	Name        string
	Type        MetricType
	Value       float64
	Labels      map[string]string
	Description string
	Unit        string
}

// MetricsCollector consumes measurements emitted by the monitor components.
type MetricsCollector interface {
	Collect(Metric)
}

// NoopCollector discards all measurements.
type NoopCollector struct{}

// Collect implements MetricsCollector.
func (NoopCollector) Collect(Metric) {}

var _ MetricsCollector = NoopCollector{}
