package telemetry

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"jenkinsrun/internal/config"
	"jenkinsrun/internal/logger"
)

// Shutdown flushes and stops the tracer provider
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Init installs a global tracer provider when tracing is enabled. Spans are
// written to stderr so stdout stays reserved for build output.
func Init(cfg config.TelemetryConfig) Shutdown {
	if !cfg.Enabled {
		return noop
	}
	return InitTracer(os.Stderr, cfg.ServiceName)
}

// InitTracer configures a stdout tracer writing to w
func InitTracer(w io.Writer, serviceName string) Shutdown {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		logger.Warn("Telemetry exporter init failed", "error", err)
		return noop
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)

	otel.SetTracerProvider(provider)
	logger.Debug("Tracing enabled", "service", serviceName)

	return provider.Shutdown
}
