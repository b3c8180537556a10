package tracing

import (
	"context"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

type Config struct {
	ServiceName string
	Enabled     bool
	// Console logs finished spans instead of exporting them
	Console bool
	OTLP    exporters.OTLPConfig
}

// Provider owns the tracer provider so that it can be flushed on shutdown
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider builds the global tracer. A disabled config leaves StartSpan as a no-op.
func NewProvider(ctx context.Context, cfg Config, logger ectologger.Logger) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	var exporter sdktrace.SpanExporter
	if cfg.Console {
		exporter = exporters.NewConsoleExporter(logger)
	} else {
		otlpExporter, err := exporters.NewOTLPExporter(ctx, cfg.OTLP)
		if err != nil {
			return nil, err
		}
		exporter = otlpExporter
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	SetTracer(tp.Tracer(cfg.ServiceName))

	logger.WithContext(ctx).WithFields(map[string]any{
		"service":  cfg.ServiceName,
		"console":  cfg.Console,
		"endpoint": cfg.OTLP.Endpoint,
	}).Info("Tracing enabled")
	return &Provider{tp: tp}, nil
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
