package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})

	_, span := StartSpan(context.Background(), "engine.refined")
	if !span.SpanContext().HasTraceID() {
		t.Error("Expected span with a trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 exported span, got %d", len(spans))
	}
	if spans[0].Name != "engine.refined" {
		t.Errorf("Expected span name engine.refined, got %s", spans[0].Name)
	}
}

func TestInitTracing(t *testing.T) {
	orig := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	shutdown, err := InitTracing(false)
	if err != nil {
		t.Fatalf("InitTracing failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

func TestSessionMetrics(t *testing.T) {
	m := NewSessionMetrics("s-1")
	m.RecordSessionStart()
	m.RecordAudio(640)
	m.RecordAudio(320)
	m.RecordResult("online", false)
	m.RecordSessionEnd()
	m.RecordSessionEnd()

	audio, results := m.Totals()
	if audio != 960 {
		t.Errorf("Expected 960 audio bytes, got %d", audio)
	}
	if results != 1 {
		t.Errorf("Expected 1 result, got %d", results)
	}
	if m.SessionID() != "s-1" {
		t.Errorf("Expected session id s-1, got %s", m.SessionID())
	}
}
