package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	return rm
}

func findSum(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Sum[float64] {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			if metric.Name == name {
				sum, ok := metric.Data.(metricdata.Sum[float64])
				if !ok {
					t.Fatalf("metric %s is not a float64 sum: %T", name, metric.Data)
				}
				return sum
			}
		}
	}
	t.Fatalf("metric %s not collected", name)
	return metricdata.Sum[float64]{}
}

func TestBridgeTranslatesLabelsToSemanticKeys(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	bridge := NewMetricsBridge(provider)

	bridge.IncCounter("tracker_events_applied_total", 1, map[string]string{
		"outcome": "created",
		"source":  "carrier-api",
		"code":    "FLIGHT_DEPARTED",
	})
	bridge.IncCounter("tracker_notify_delivered_total", 1, map[string]string{"method": "WEBHOOK"})
	bridge.IncCounter("tracker_hub_published_total", 2, map[string]string{"topic_kind": "awb"})
	bridge.IncCounter("tracker_adapter_fetch_total", 1, map[string]string{
		"source": "customs-api",
		"result": "error",
	})

	rm := collect(t, reader)

	applied := findSum(t, rm, "tracker_events_applied_total")
	if len(applied.DataPoints) != 1 {
		t.Fatalf("expected one data point, got %d", len(applied.DataPoints))
	}
	attrs := applied.DataPoints[0].Attributes
	if got, ok := attrs.Value(AttrEventCode); !ok || got.AsString() != "FLIGHT_DEPARTED" {
		t.Fatalf("expected %s=FLIGHT_DEPARTED, got %v", AttrEventCode, got)
	}
	if got, ok := attrs.Value(AttrSource); !ok || got.AsString() != "carrier-api" {
		t.Fatalf("expected %s=carrier-api, got %v", AttrSource, got)
	}
	if got, ok := attrs.Value(AttrOutcome); !ok || got.AsString() != "created" {
		t.Fatalf("expected %s=created, got %v", AttrOutcome, got)
	}

	delivered := findSum(t, rm, "tracker_notify_delivered_total")
	if got, ok := delivered.DataPoints[0].Attributes.Value(AttrMethod); !ok || got.AsString() != "WEBHOOK" {
		t.Fatalf("expected %s=WEBHOOK, got %v", AttrMethod, got)
	}

	published := findSum(t, rm, "tracker_hub_published_total")
	if got, ok := published.DataPoints[0].Attributes.Value(AttrTopic); !ok || got.AsString() != "awb" {
		t.Fatalf("expected %s=awb, got %v", AttrTopic, got)
	}

	fetched := findSum(t, rm, "tracker_adapter_fetch_total")
	if got, ok := fetched.DataPoints[0].Attributes.Value(AttrResult); !ok || got.AsString() != "error" {
		t.Fatalf("expected %s=error, got %v", AttrResult, got)
	}
}

func TestBridgeStampsEnvironmentAttribute(t *testing.T) {
	setEnvironment("staging")
	t.Cleanup(func() {
		environmentMu.Lock()
		environment = ""
		environmentMu.Unlock()
	})

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	bridge := NewMetricsBridge(provider)
	bridge.IncCounter("tracker_notify_dropped_total", 1, nil)

	rm := collect(t, reader)
	dropped := findSum(t, rm, "tracker_notify_dropped_total")
	if got, ok := dropped.DataPoints[0].Attributes.Value(AttrEnvironment); !ok || got.AsString() != "staging" {
		t.Fatalf("expected %s=staging, got %v", AttrEnvironment, got)
	}
}
