package otelobs

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// AccessLogMiddleware writes one structured access line per request. When a
// span is active it adds trace correlation fields and mirrors them into
// Trace-Id and Span-Id response headers.
func AccessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &accessRecorder{ResponseWriter: w, status: http.StatusOK}

		sc := trace.SpanContextFromContext(r.Context())
		if sc.IsValid() {
			rec.Header().Set("Trace-Id", sc.TraceID().String())
			rec.Header().Set("Span-Id", sc.SpanID().String())
		}

		next.ServeHTTP(rec, r)

		ev := log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start))
		if sc.IsValid() {
			ev = ev.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
		}
		ev.Msg("access")
	})
}

type accessRecorder struct {
	http.ResponseWriter
	status int
}

func (r *accessRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
