package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var providers struct {
	tracer *trace.TracerProvider
	meter  *sdkmetric.MeterProvider
}

// Tracer returns a named tracer from the global provider, it is safe to call
// at package init time since otel delegates to whichever provider is set later.
func Tracer(name string) oteltrace.Tracer {
	return otel.Tracer(name)
}

func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

func Setup(ctx context.Context, serviceName string, config config) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*15)
	defer cancel()

	r, err := newResource(serviceName, config)
	if err != nil {
		return err
	}

	tracerProvider, err := newTraceProvider(ctx, r, config)
	if err != nil {
		return err
	}
	otel.SetTracerProvider(tracerProvider)
	providers.tracer = tracerProvider

	meterProvider, err := newMetricProvider(ctx, r, config)
	if err != nil {
		return err
	}
	otel.SetMeterProvider(meterProvider)
	providers.meter = meterProvider

	return nil
}

func Shutdown(ctx context.Context) error {
	errlist := []error{}
	if providers.tracer != nil {
		err := providers.tracer.Shutdown(ctx)
		if err != nil {
			errlist = append(errlist, err)
		}
	}
	if providers.meter != nil {
		err := providers.meter.Shutdown(ctx)
		if err != nil {
			errlist = append(errlist, err)
		}
	}
	return errors.Join(errlist...)
}
