// Package telemetry bootstraps the OpenTelemetry MeterProvider the
// scheduler and HTTP surface record counters against. Grounded on the
// teacher's packages/go-core/telemetry.InitMeterProvider, unchanged aside
// from the service name this binary reports.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// InitMeterProvider bootstraps the OpenTelemetry MeterProvider with an
// OTLP/gRPC metric exporter targeting endpoint. The caller must defer
// mp.Shutdown(ctx) to flush pending metrics on exit.
func InitMeterProvider(ctx context.Context, serviceName, endpoint string) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)

	otel.SetMeterProvider(mp)
	return mp, nil
}
