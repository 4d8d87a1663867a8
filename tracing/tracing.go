// Package tracing wraps OpenTelemetry so the scheduler can emit spans for
// admission, slice execution, and pre-emption escalation without the rest of
// the code depending on the OpenTelemetry API directly.
package tracing

import (
	"context"
	"io"
	"os"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fairsched/fairsched/scheduler"

var (
	providerOnce sync.Once
	providerErr  error
)

// Init configures OpenTelemetry with the stdout exporter. If outputFile is
// empty, traces are written to os.Stdout. Safe to call multiple times: only
// the first call that reaches provider installation has any effect, and if
// that installation failed, later calls return the same error.
func Init(serviceName, serviceVersion, outputFile string) error {
	var w io.Writer = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return err
		}
		w = f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return err
	}
	return installProvider(serviceName, serviceVersion, exporter)
}

// InitWithExporter configures OpenTelemetry using a caller-supplied
// exporter.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	return installProvider(serviceName, serviceVersion, exporter)
}

func installProvider(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	if exporter == nil {
		return nil
	}

	providerOnce.Do(func() {
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
	})

	return providerErr
}

// Span wraps trace.Span so callers never import the OpenTelemetry API
// directly.
type Span struct {
	span trace.Span
}

// WithAttributes attaches string attributes to the span.
func (s *Span) WithAttributes(attrs map[string]string) *Span {
	if s == nil || len(attrs) == 0 {
		return s
	}
	otelAttrs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		otelAttrs = append(otelAttrs, attribute.String(k, v))
	}
	s.span.SetAttributes(otelAttrs...)
	return s
}

// SetStatus records an error status on the span, or OK if err is nil.
func (s *Span) SetStatus(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
}

// End finalises the span.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.span.End()
}

func startSpan(ctx context.Context, name string) (context.Context, *Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, &Span{span: span}
}

// StartAdmission traces an executor being admitted into the run queue.
func StartAdmission(ctx context.Context, executorID uint64) (context.Context, *Span) {
	ctx, sp := startSpan(ctx, "scheduler.admit")
	return ctx, sp.WithAttributes(map[string]string{"executor.id": formatID(executorID)})
}

// StartSlice traces one worker's execution of a single slice.
func StartSlice(ctx context.Context, workerName string, executorID uint64) (context.Context, *Span) {
	ctx, sp := startSpan(ctx, "scheduler.slice")
	return ctx, sp.WithAttributes(map[string]string{
		"worker.name": workerName,
		"executor.id": formatID(executorID),
	})
}

// StartEscalation traces a monitor pre-emption escalation step.
func StartEscalation(ctx context.Context, workerName string, executorID uint64, kind string) (context.Context, *Span) {
	ctx, sp := startSpan(ctx, "scheduler.escalate")
	return ctx, sp.WithAttributes(map[string]string{
		"worker.name": workerName,
		"executor.id": formatID(executorID),
		"escalation":  kind,
	})
}

// EndSpan finalises a span, recording err's status if non-nil.
func EndSpan(sp *Span, err error) {
	if sp == nil {
		return
	}
	sp.SetStatus(err)
	sp.End()
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
