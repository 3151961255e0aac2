// Package tracing wraps OpenTelemetry so the simulator can emit one span per
// run without the rest of the code importing the upstream packages directly.
// When Init has not been called every span is a no-op.
package tracing

import (
	"context"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ChuLiYu/deadlock-sim"

// ShutdownFunc flushes the exporter and releases its output.
type ShutdownFunc func(context.Context) error

var (
	providerOnce sync.Once
	providerErr  error
	shutdown     ShutdownFunc = func(context.Context) error { return nil }
)

// Init installs a stdout exporter writing to outputFile, or os.Stdout when
// outputFile is empty. Only the first call has any effect.
func Init(serviceName, serviceVersion, outputFile string) (ShutdownFunc, error) {
	providerOnce.Do(func() {
		var w io.Writer = os.Stdout
		var f *os.File
		if outputFile != "" {
			f, providerErr = os.Create(outputFile)
			if providerErr != nil {
				return
			}
			w = f
		}

		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			providerErr = err
			return
		}

		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				attribute.String("service.name", serviceName),
				attribute.String("service.version", serviceVersion),
			),
		)
		if err != nil {
			providerErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)

		shutdown = func(ctx context.Context) error {
			err := tp.Shutdown(ctx)
			if f != nil {
				if cerr := f.Close(); err == nil {
					err = cerr
				}
			}
			return err
		}
	})
	return shutdown, providerErr
}

// Span wraps an OpenTelemetry span.
type Span struct {
	span trace.Span
}

// StartSpan starts an internal span named name.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, &Span{span: span}
}

// WithAttributes attaches string attributes to the span.
func (s *Span) WithAttributes(attrs map[string]string) *Span {
	if s == nil || len(attrs) == 0 {
		return s
	}
	kv := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kv = append(kv, attribute.String(k, v))
	}
	s.span.SetAttributes(kv...)
	return s
}

// SetInt attaches an integer attribute.
func (s *Span) SetInt(key string, v int) *Span {
	if s == nil {
		return s
	}
	s.span.SetAttributes(attribute.Int(key, v))
	return s
}

// AddEvent records a named event on the span.
func (s *Span) AddEvent(name string, attrs map[string]int) {
	if s == nil {
		return
	}
	kv := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kv = append(kv, attribute.Int(k, v))
	}
	s.span.AddEvent(name, trace.WithAttributes(kv...))
}

// EndSpan records err (or OK) and ends the span.
func EndSpan(s *Span, err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
