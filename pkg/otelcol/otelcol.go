package otelcol

import (
	"context"
	"strings"

	"incentive-pipeline/pkg/config"
	"incentive-pipeline/pkg/otelcol/exporters"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module installs the global tracer provider when OTEL.ENABLE is set.
// Spans created before that go to the no-op provider.
var Module = fx.Module("otelcol",
	fx.Invoke(registerTracing),
)

func defaultTraceProviderOption(cfg *config.Config) []trace.TracerProviderOption {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
	if err != nil {
		res = resource.Default()
	}
	return []trace.TracerProviderOption{
		trace.WithResource(res),
	}
}

func ProvideTrace(exporter trace.SpanExporter, opts ...trace.TracerProviderOption) *trace.TracerProvider {
	opts = append(opts, trace.WithBatcher(exporter))

	return trace.NewTracerProvider(opts...)
}

// NewExporter picks the OTLP transport named by OTEL.EXPORTER.
func NewExporter(cfg *config.Config) (trace.SpanExporter, error) {
	switch strings.ToLower(cfg.Otel.Exporter) {
	case "http":
		return exporters.ProvideHttp(cfg)
	default:
		return exporters.ProvideGrpc(cfg)
	}
}

func registerTracing(lc fx.Lifecycle, cfg *config.Config) error {
	if !cfg.Otel.Enable {
		return nil
	}

	exporter, err := NewExporter(cfg)
	if err != nil {
		zap.L().Error("failed to create trace exporter", zap.Error(err))
		return err
	}

	tp := ProvideTrace(exporter, defaultTraceProviderOption(cfg)...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})

	zap.L().Info("tracing enabled",
		zap.String("exporter", cfg.Otel.Exporter),
		zap.String("endpoint", cfg.Otel.Endpoint),
	)
	return nil
}
