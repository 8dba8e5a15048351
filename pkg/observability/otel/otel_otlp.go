//go:build otelotlp

// Package otelobs provides opt-in OpenTelemetry tracing for the scoring
// service. The default build compiles to no-ops so the tracing
// dependencies carry no runtime cost without the otelotlp tag.
package otelobs

import (
	"context"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// InitTracer sets up an OTLP HTTP exporter and returns a shutdown func.
// Without OTEL_EXPORTER_OTLP_ENDPOINT tracing stays disabled.
func InitTracer(serviceName string) func(context.Context) error {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		log.Info().Str("service", serviceName).Msg("no OTEL_EXPORTER_OTLP_ENDPOINT, tracing disabled")
		return func(context.Context) error { return nil }
	}
	exp, err := otlptracehttp.New(context.Background(), otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		log.Warn().Err(err).Msg("otlp exporter init failed")
		return func(context.Context) error { return nil }
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		log.Warn().Err(err).Msg("otel resource init failed")
	}
	tp := trace.NewTracerProvider(trace.WithBatcher(exp), trace.WithResource(res))
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// WrapHTTPHandler decorates the handler with otelhttp server spans and W3C
// trace context propagation.
func WrapHTTPHandler(serviceName string, h http.Handler) http.Handler {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return otelhttp.NewHandler(h, serviceName)
}

// WrapHTTPTransport decorates a client transport so outbound requests,
// such as dataset downloads, carry traceparent headers.
func WrapHTTPTransport(t http.RoundTripper) http.RoundTripper {
	if t == nil {
		return otelhttp.DefaultClient.Transport
	}
	return otelhttp.NewTransport(t)
}
