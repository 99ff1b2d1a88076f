package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"

	"github.com/railzwaylabs/stockflow/internal/config"
)

var Module = fx.Module("telemetry",
	fx.Provide(New),
)

// Provider owns the trace and log pipelines. Without an OTLP endpoint it only
// installs the propagator and hands out a noop tracer provider.
type Provider struct {
	TracerProvider trace.TracerProvider
	shutdownFuncs  []func(context.Context) error
}

func New(lc fx.Lifecycle, cfg *config.Config) (*Provider, error) {
	p, err := Setup(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: p.Shutdown,
	})
	return p, nil
}

// Setup installs the global propagator and, when configured, the OTLP/HTTP
// trace and log exporters.
func Setup(ctx context.Context, cfg *config.Config) (*Provider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p := &Provider{TracerProvider: noop.NewTracerProvider()}
	if cfg.OTLPEndpoint == "" {
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.AppName),
			semconv.ServiceVersion(cfg.AppVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	p.TracerProvider = tp
	p.shutdownFuncs = append(p.shutdownFuncs, tp.Shutdown)

	logExporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpoint(cfg.OTLPEndpoint),
		otlploghttp.WithInsecure(),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create log exporter: %w", err), p.Shutdown(ctx))
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter,
			sdklog.WithExportTimeout(30*time.Second),
			sdklog.WithMaxQueueSize(2048),
		)),
	)
	global.SetLoggerProvider(lp)
	p.shutdownFuncs = append(p.shutdownFuncs, lp.Shutdown)

	return p, nil
}

// Shutdown flushes exporters in reverse order of creation.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs error
	for i := len(p.shutdownFuncs) - 1; i >= 0; i-- {
		errs = errors.Join(errs, p.shutdownFuncs[i](ctx))
	}
	p.shutdownFuncs = nil
	return errs
}
