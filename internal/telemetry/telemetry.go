package telemetry

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type Config struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is the OTLP/HTTP collector address. Blank disables tracing.
	Endpoint string
}

type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Init installs the global trace provider and W3C propagators. The returned
// shutdown flushes pending spans and is never nil.
func Init(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	host, insecure, ok := parseEndpoint(cfg.Endpoint)
	if !ok {
		return noopShutdown, nil
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	options := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(host),
		otlptracehttp.WithTimeout(3 * time.Second),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}),
	}
	if insecure {
		options = append(options, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(initCtx, options...)
	if err != nil {
		return noopShutdown, err
	}

	attrs := resource.WithAttributes(semconv.ServiceName(cfg.ServiceName))
	if cfg.ServiceVersion != "" {
		attrs = resource.WithAttributes(semconv.ServiceName(cfg.ServiceName), semconv.ServiceVersion(cfg.ServiceVersion))
	}
	res, err := resource.New(ctx, attrs)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return noopShutdown, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// parseEndpoint strips the scheme the exporter does not accept. Plain http
// and scheme-less addresses are dialed without TLS.
func parseEndpoint(raw string) (host string, insecure bool, ok bool) {
	value := strings.TrimSuffix(strings.TrimSpace(raw), "/")
	if value == "" {
		return "", false, false
	}
	lower := strings.ToLower(value)
	switch {
	case strings.HasPrefix(lower, "https://"):
		return value[len("https://"):], false, true
	case strings.HasPrefix(lower, "http://"):
		return value[len("http://"):], true, true
	default:
		return value, true, true
	}
}
