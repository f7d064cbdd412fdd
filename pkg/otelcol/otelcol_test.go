package otelcol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"incentive-pipeline/pkg/config"
)

func TestProvideTraceExportsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	cfg := &config.Config{AppName: "incentive-pipeline", AppEnv: "test"}

	tp := ProvideTrace(exporter, append(defaultTraceProviderOption(cfg), trace.WithSyncer(exporter))...)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "extraction.run")
	span.End()

	spans := exporter.GetSpans()
	require.NotEmpty(t, spans)
	require.Equal(t, "extraction.run", spans[0].Name)
}

func TestRegisterTracingDisabled(t *testing.T) {
	require.NoError(t, registerTracing(nil, &config.Config{}))
}
