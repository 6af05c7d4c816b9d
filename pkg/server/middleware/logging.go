/*
Copyright 2023-2024 EscherCloud.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package middleware carries the pre-routing middleware of the plan API:
// a span per request with correlated logging, and the request timeout.
package middleware

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.18.0"
	"go.opentelemetry.io/otel/semconv/v1.18.0/httpconv"
	"go.opentelemetry.io/otel/trace"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/eschercloudai/caravel/pkg/constants"
)

// statusWriter captures the response code, which plain http.ResponseWriter
// gives middleware no way to read back.
type statusWriter struct {
	next http.ResponseWriter
	code int
}

var _ http.ResponseWriter = &statusWriter{}

func (w *statusWriter) Header() http.Header {
	return w.next.Header()
}

func (w *statusWriter) Write(body []byte) (int, error) {
	return w.next.Write(body)
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.code = statusCode
	w.next.WriteHeader(statusCode)
}

// StatusCode returns the written code.  A handler that never calls
// WriteHeader has implicitly replied 200.
func (w *statusWriter) StatusCode() int {
	if w.code == 0 {
		return http.StatusOK
	}

	return w.code
}

// correlation returns the key/value pairs tying a log line to its span.
func correlation(s trace.SpanContext) []interface{} {
	return []interface{}{
		"span.id", s.SpanID().String(),
		"trace.id", s.TraceID().String(),
	}
}

// LoggingSpanProcessor mirrors root spans into the log stream, so every
// plan API request leaves a start and end line even when no OTLP listener
// is configured.
type LoggingSpanProcessor struct{}

var _ sdktrace.SpanProcessor = &LoggingSpanProcessor{}

func spanValues(s interface {
	SpanContext() trace.SpanContext
	Attributes() []attribute.KeyValue
},
) []interface{} {
	values := correlation(s.SpanContext())

	for _, attr := range s.Attributes() {
		values = append(values, string(attr.Key), attr.Value.Emit())
	}

	return values
}

func (*LoggingSpanProcessor) OnStart(ctx context.Context, s sdktrace.ReadWriteSpan) {
	if s.Parent().IsValid() {
		return
	}

	log.Log.Info("request started", spanValues(s)...)
}

func (*LoggingSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if s.Parent().IsValid() {
		return
	}

	log.Log.Info("request completed", spanValues(s)...)
}

func (*LoggingSpanProcessor) Shutdown(ctx context.Context) error {
	return nil
}

func (*LoggingSpanProcessor) ForceFlush(ctx context.Context) error {
	return nil
}

// Logger opens a server span per request, continuing any trace carried in
// the inbound headers, and hangs a correlated logger off the request
// context for the handlers to pull with log.FromContext.
func Logger() func(next http.Handler) http.Handler {
	propagator := otel.GetTextMapPropagator()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			attributes := []attribute.KeyValue{
				semconv.ServiceName(constants.Application),
				semconv.ServiceVersion(constants.Version),
			}
			attributes = append(attributes, httpconv.ServerRequest("", r)...)

			tracer := otel.GetTracerProvider().Tracer(constants.Application)

			ctx, span := tracer.Start(ctx, r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attributes...),
			)
			defer span.End()

			ctx = log.IntoContext(ctx, log.Log.WithValues(correlation(span.SpanContext())...))

			writer := &statusWriter{
				next: w,
			}

			next.ServeHTTP(writer, r.WithContext(ctx))

			span.SetStatus(httpconv.ServerStatus(writer.StatusCode()))
		})
	}
}
