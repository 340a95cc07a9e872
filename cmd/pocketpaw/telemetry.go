package main

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/peopleinfo/pocketpaw/internal/config"
)

// initTelemetry installs a real SDK TracerProvider so internal/agentloop's
// package-level `otel.Tracer` produces spans with real trace/span IDs and a
// resource identity, instead of silently no-op'ing against otel's default
// global provider. No OTLP exporter is wired — cfg.Telemetry.Endpoint is
// reserved for a future exporter — so AlwaysSample only changes whether
// spans get fully recorded in-process; Shutdown still drops them at
// process exit.
func initTelemetry(cfg *config.Config) (*sdktrace.TracerProvider, error) {
	sampler := sdktrace.NeverSample()
	if cfg.Telemetry.Enabled {
		sampler = sdktrace.AlwaysSample()
	}

	serviceName := cfg.Telemetry.ServiceName
	if serviceName == "" {
		serviceName = "pocketpaw"
	}
	res, err := sdkresource.New(context.Background(),
		sdkresource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}
