package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"followup-dispatcher/internal/common/logger"
)

// Tracing wraps the global tracer provider. With no collector endpoint the
// global no-op provider stays in place.
type Tracing struct {
	provider *sdktrace.TracerProvider
	log      logger.Logger
}

// InitTracing exports spans to a Jaeger collector, e.g.
// http://localhost:14268/api/traces.
func InitTracing(serviceName, collectorEndpoint, version string, log logger.Logger) (*Tracing, error) {
	t := &Tracing{log: log}
	if collectorEndpoint == "" {
		return t, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(collectorEndpoint)))
	if err != nil {
		return nil, err
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		)),
	)
	otel.SetTracerProvider(t.provider)

	log.Info("tracing enabled", map[string]interface{}{"endpoint": collectorEndpoint})
	return t, nil
}

func (t *Tracing) Shutdown(ctx context.Context) {
	if t == nil || t.provider == nil {
		return
	}
	if err := t.provider.Shutdown(ctx); err != nil {
		t.log.Warn("failed to flush traces", map[string]interface{}{"error": err})
	}
}
