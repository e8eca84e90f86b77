package streams

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	streamMetricsOnce sync.Once
	publishedEvents   otelmetric.Int64Counter
	failedPublishes   otelmetric.Int64Counter
)

func initStreamMetrics() {
	meter := otel.Meter("researchd/queue/streams")
	publishedEvents, _ = meter.Int64Counter(
		"stream_events_published_total",
		otelmetric.WithDescription("Envelopes appended to Redis Streams"),
	)
	failedPublishes, _ = meter.Int64Counter(
		"stream_events_failed_total",
		otelmetric.WithDescription("Envelopes rejected by validation or XADD"),
	)
}

func recordPublish(ctx context.Context, eventType string, ok bool) {
	streamMetricsOnce.Do(initStreamMetrics)
	if ctx == nil {
		ctx = context.Background()
	}
	attrs := otelmetric.WithAttributes(attribute.String("event_type", eventType))
	if ok {
		if publishedEvents != nil {
			publishedEvents.Add(ctx, 1, attrs)
		}
		return
	}
	if failedPublishes != nil {
		failedPublishes.Add(ctx, 1, attrs)
	}
}
