package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	apimetric "go.opentelemetry.io/otel/metric"

	"github.com/cargolink/tracker/internal/observability"
)

// meterName scopes every tracker instrument.
const meterName = "github.com/cargolink/tracker"

// MetricsBridge adapts an OTel meter to the observability.Metrics interface.
// Instruments are created lazily per name and cached.
type MetricsBridge struct {
	meter apimetric.Meter

	mu         sync.Mutex
	counters   map[string]apimetric.Float64Counter
	histograms map[string]apimetric.Float64Histogram
	gauges     map[string]apimetric.Float64Gauge
}

// NewMetricsBridge builds the bridge over a meter provider.
func NewMetricsBridge(provider apimetric.MeterProvider) *MetricsBridge {
	return &MetricsBridge{
		meter:      provider.Meter(meterName),
		counters:   make(map[string]apimetric.Float64Counter),
		histograms: make(map[string]apimetric.Float64Histogram),
		gauges:     make(map[string]apimetric.Float64Gauge),
	}
}

// IncCounter adds to the named counter.
func (m *MetricsBridge) IncCounter(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	counter, ok := m.counters[name]
	if !ok {
		created, err := m.meter.Float64Counter(name)
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.counters[name] = created
		counter = created
	}
	m.mu.Unlock()
	counter.Add(context.Background(), value, apimetric.WithAttributes(attrs(labels)...))
}

// ObserveHistogram records into the named histogram.
func (m *MetricsBridge) ObserveHistogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	histogram, ok := m.histograms[name]
	if !ok {
		created, err := m.meter.Float64Histogram(name)
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.histograms[name] = created
		histogram = created
	}
	m.mu.Unlock()
	histogram.Record(context.Background(), value, apimetric.WithAttributes(attrs(labels)...))
}

// SetGauge sets the named gauge.
func (m *MetricsBridge) SetGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	gauge, ok := m.gauges[name]
	if !ok {
		created, err := m.meter.Float64Gauge(name)
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.gauges[name] = created
		gauge = created
	}
	m.mu.Unlock()
	gauge.Record(context.Background(), value, apimetric.WithAttributes(attrs(labels)...))
}

// semanticKeys maps the flat label names instrumented code passes through
// observability.Metrics onto this package's attribute keys.
var semanticKeys = map[string]attribute.Key{
	"source":     AttrSource,
	"code":       AttrEventCode,
	"outcome":    AttrOutcome,
	"method":     AttrMethod,
	"result":     AttrResult,
	"topic_kind": AttrTopic,
}

func attrs(labels map[string]string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(labels)+1)
	for key, value := range labels {
		if attr, ok := semanticKeys[key]; ok {
			out = append(out, attr.String(value))
			continue
		}
		out = append(out, attribute.String(key, value))
	}
	if env := Environment(); env != "" {
		out = append(out, AttrEnvironment.String(env))
	}
	return out
}

var _ observability.Metrics = (*MetricsBridge)(nil)
