package deploy

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanAttributes(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	otel.SetTracerProvider(provider)
	defer func() {
		_ = provider.Shutdown(context.Background())
	}()

	env := Env{
		Context:       context.Background(),
		CorrelationID: "corr-123",
	}

	_, span := startSpan(env, "deploy.InstallPackage",
		attribute.String("serial", "emulator-5554"),
		attribute.String("package", "com.example.app"),
	)
	span.End()

	spans := spanRecorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	attrs := map[string]any{}
	for _, attr := range spans[0].Attributes() {
		attrs[string(attr.Key)] = attr.Value.AsInterface()
	}

	if attrs["correlation_id"] != "corr-123" {
		t.Fatalf("expected correlation_id to be corr-123, got %v", attrs["correlation_id"])
	}
	if attrs["serial"] != "emulator-5554" {
		t.Fatalf("expected serial to be emulator-5554, got %v", attrs["serial"])
	}
	if attrs["package"] != "com.example.app" {
		t.Fatalf("expected package attribute, got %v", attrs["package"])
	}
}

func TestRecordSpanError(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	otel.SetTracerProvider(provider)
	defer func() {
		_ = provider.Shutdown(context.Background())
	}()

	_, span := startSpan(Env{}, "deploy.Resolve")
	recordSpanError(span, errors.New("no compatible device online"))
	recordSpanError(span, nil)
	span.End()

	spans := spanRecorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if len(spans[0].Events()) != 1 {
		t.Fatalf("expected exactly one error event, got %d", len(spans[0].Events()))
	}
}
