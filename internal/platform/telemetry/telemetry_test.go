package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hospital/outpatient/internal/platform/apperr"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestSetup_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "registration"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestEnd_BusinessErrorTaggedNotFailed(t *testing.T) {
	rec := installRecorder(t)

	_, span := Start(context.Background(), "booking", "Book")
	End(span, apperr.SlotExhausted.With("full"))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "booking.Book" {
		t.Errorf("unexpected span name %s", spans[0].Name())
	}
	if spans[0].Status().Code == codes.Error {
		t.Error("business errors should not mark the span failed")
	}
	found := false
	for _, a := range spans[0].Attributes() {
		if string(a.Key) == "error.code" && a.Value.AsString() == "SlotExhausted" {
			found = true
		}
	}
	if !found {
		t.Error("expected error.code=SlotExhausted attribute")
	}
}

func TestEnd_InternalErrorFailsSpan(t *testing.T) {
	rec := installRecorder(t)

	_, span := Start(context.Background(), "queue", "CallNext")
	End(span, errors.New("connection reset"))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status().Code)
	}
}

func TestSampleRate(t *testing.T) {
	if sampleRate(0) != 1 || sampleRate(2) != 1 {
		t.Error("out of range rates should default to 1")
	}
	if sampleRate(0.25) != 0.25 {
		t.Error("expected rate to pass through")
	}
}
