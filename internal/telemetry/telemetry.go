// Package telemetry wires the process-wide tracer, meter, and logger,
// mirroring the teacher's internal/storage/dolt/store.go pattern: a
// package-level Tracer/Meter pair built in init(), span helpers wrapping
// every I/O call, and named instruments recording retry counts and wait
// times. The teacher itself threads log/slog through its CLI and an
// otel.Tracer through its storage layer; for a long-running daemon we
// add a zap logger as the structured-logging backbone (grounded on
// jordigilh/kubernaut, a direct zap consumer) and expose both through
// one accessor pair so every component reaches them the same way.
package telemetry

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	stdoutmetric "go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/entityledger/core"

// Tracer and Meter are the package-level handles every component starts
// spans and instruments from, named after the teacher's doltTracer/meter
// pair in internal/storage/dolt/store.go.
var (
	Tracer = otel.Tracer(instrumentationName)
	Meter  = otel.Meter(instrumentationName)

	// WriteRetryCount counts CAS-retry restarts in the write pipeline
	// (entityledger.write.retry_count, listed in SPEC_FULL.md's
	// ambient-stack section).
	WriteRetryCount metric.Int64Counter
	// CASWaitMillis records the time a write spent waiting on a losing
	// CAS attempt before retrying (entityledger.cas.wait_ms).
	CASWaitMillis metric.Int64Histogram
)

func init() {
	var err error
	WriteRetryCount, err = Meter.Int64Counter("entityledger.write.retry_count",
		metric.WithDescription("write pipeline CAS-retry restarts"))
	if err != nil {
		WriteRetryCount, _ = noopMeter().Int64Counter("entityledger.write.retry_count")
	}
	CASWaitMillis, err = Meter.Int64Histogram("entityledger.cas.wait_ms",
		metric.WithDescription("milliseconds spent on a losing CAS attempt before retry"),
		metric.WithUnit("ms"))
	if err != nil {
		CASWaitMillis, _ = noopMeter().Int64Histogram("entityledger.cas.wait_ms")
	}
}

func noopMeter() metric.Meter {
	return otel.GetMeterProvider().Meter(instrumentationName + ".noop")
}

// Config selects the exporters Setup wires up.
type Config struct {
	// ServiceName tags every span/metric with a resource attribute.
	ServiceName string
	// OTLPEndpoint, if set, sends metrics to an OTLP/HTTP collector;
	// otherwise metrics go through a stdout exporter whose output is
	// discarded (the teacher likewise ships both a stdout and OTLP
	// exporter path).
	OTLPEndpoint string
	// Development switches the zap logger to its human-readable console
	// encoder instead of JSON.
	Development bool
}

// Providers bundles the constructed SDK handles so callers can shut them
// down cleanly on exit.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Logger         *zap.Logger
}

// Setup builds a tracer provider (stdout exporter writing to io.Discard,
// matching the teacher's otel/exporters/stdout/stdouttrace dependency), a
// meter provider (OTLP/HTTP if OTLPEndpoint is set, else a stdout
// exporter also writing to io.Discard), both tagged with a service.name
// resource from cfg.ServiceName, and a zap logger, and installs the first
// two as the global providers so Tracer and Meter above start using them
// immediately.
func Setup(ctx context.Context, cfg Config) (*Providers, error) {
	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(io.Discard))
	if err != nil {
		return nil, err
	}
	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	var metricReader sdkmetric.Reader
	if cfg.OTLPEndpoint != "" {
		exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint), otlpmetrichttp.WithInsecure())
		if err != nil {
			return nil, err
		}
		metricReader = sdkmetric.NewPeriodicReader(exp)
	} else {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(io.Discard))
		if err != nil {
			return nil, err
		}
		metricReader = sdkmetric.NewPeriodicReader(exp)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	var logger *zap.Logger
	if cfg.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)

	return &Providers{TracerProvider: tp, MeterProvider: mp, Logger: logger}, nil
}

// Shutdown flushes and closes the SDK providers; call from a deferred
// cleanup at process exit.
func (p *Providers) Shutdown(ctx context.Context) error {
	if err := p.TracerProvider.Shutdown(ctx); err != nil {
		return err
	}
	if err := p.MeterProvider.Shutdown(ctx); err != nil {
		return err
	}
	return p.Logger.Sync()
}

type loggerKey struct{}

// WithLogger attaches a zap logger to ctx for components reached via
// L(ctx) instead of a global.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// L returns the logger attached to ctx, falling back to zap's global
// logger (a no-op until Setup or zap.ReplaceGlobals has run), mirroring
// the teacher's otel.Tracer singleton access pattern but for logging.
func L(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.L()
}

// StartSpan starts an internal-kind span named op under Tracer, matching
// the teacher's startSpan/endSpan helper pair in internal/storage/dolt
// and internal/metastore/postgres.go.
func StartSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
}

// EndSpan records err on span (if non-nil) and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
