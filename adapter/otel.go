// Package adapter provides adapters for shm-dispose integration with external systems.
package adapter

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/shm-dispose/pkg/dispose"
)

const instrumentationName = "github.com/srediag/shm-dispose"

// OTelObserver reports registry events as OpenTelemetry metrics. A fallback
// release is also recorded as a span, since it marks a missing Dispose.
type OTelObserver struct {
	tracked  metric.Int64Counter
	released metric.Int64Counter
	live     metric.Int64UpDownCounter
	tracer   trace.Tracer
}

var _ dispose.Observer = (*OTelObserver)(nil)

// NewOTelObserver creates the instruments on meter. Pass the result to dispose.WithObserver.
func NewOTelObserver(meter metric.Meter, tracer trace.Tracer) (*OTelObserver, error) {
	tracked, err := meter.Int64Counter("dispose.tracked",
		metric.WithDescription("Resources enrolled for release."))
	if err != nil {
		return nil, err
	}
	released, err := meter.Int64Counter("dispose.released",
		metric.WithDescription("Resources released, by release path."))
	if err != nil {
		return nil, err
	}
	live, err := meter.Int64UpDownCounter("dispose.live",
		metric.WithDescription("Tracked resources not yet released."))
	if err != nil {
		return nil, err
	}
	return &OTelObserver{
		tracked:  tracked,
		released: released,
		live:     live,
		tracer:   tracer,
	}, nil
}

// Tracked implements dispose.Observer.
func (o *OTelObserver) Tracked(name string) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("resource", name))
	o.tracked.Add(ctx, 1, attrs)
	o.live.Add(ctx, 1, attrs)
}

// Released implements dispose.Observer.
func (o *OTelObserver) Released(name string, path dispose.Path) {
	ctx := context.Background()
	if path == dispose.PathFallback && o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "dispose.fallback",
			trace.WithAttributes(attribute.String("resource", name)))
		defer span.End()
	}
	o.released.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource", name),
		attribute.String("path", path.String())))
	o.live.Add(ctx, -1, metric.WithAttributes(attribute.String("resource", name)))
}

// InstrumentationName is the scope name to request meters and tracers under.
func InstrumentationName() string {
	return instrumentationName
}
