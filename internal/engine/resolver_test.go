package engine

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/jmattila/procman/pkg/api"
)

func resolverEvent(payload map[string]any) api.EventEnvelope {
	return api.EventEnvelope{
		EventID:   "ev-1",
		EventType: "OrderPlaced",
		StreamID:  "order-42",
		Payload:   payload,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestResolveWithoutStrategyUsesStreamID(t *testing.T) {
	ev := resolverEvent(map[string]any{"orderId": "o-1"})

	got := ResolveInstanceID(ev, nil, discardLogger())
	if got != "order-42" {
		t.Fatalf("expected stream id, got %q", got)
	}
}

func TestResolveReturnsCorrelationPropertyVerbatim(t *testing.T) {
	ev := resolverEvent(map[string]any{"orderId": "o-1"})
	strategy := &api.CorrelationStrategy{CorrelationProperty: "orderId"}

	got := ResolveInstanceID(ev, strategy, discardLogger())
	if got != "o-1" {
		t.Fatalf("expected %q, got %q", "o-1", got)
	}
}

func TestResolveReturnsEmptyStringVerbatim(t *testing.T) {
	ev := resolverEvent(map[string]any{"orderId": ""})
	strategy := &api.CorrelationStrategy{CorrelationProperty: "orderId"}

	got := ResolveInstanceID(ev, strategy, discardLogger())
	if got != "" {
		t.Fatalf("expected empty string verbatim, got %q", got)
	}
}

func TestResolveFallsBackWhenPropertyMissing(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ev := resolverEvent(map[string]any{"other": "x"})
	strategy := &api.CorrelationStrategy{CorrelationProperty: "orderId"}

	got := ResolveInstanceID(ev, strategy, logger)
	if got != "order-42" {
		t.Fatalf("expected fallback to stream id, got %q", got)
	}

	logged := buf.String()
	if !strings.Contains(logged, "correlation_property_fallback") {
		t.Fatalf("expected fallback warning, got %q", logged)
	}
	for _, want := range []string{"orderId", "ev-1", "OrderPlaced", "order-42"} {
		if !strings.Contains(logged, want) {
			t.Fatalf("expected warning to mention %q, got %q", want, logged)
		}
	}
}

func TestResolveFallsBackForNonStringValues(t *testing.T) {
	for _, payload := range []map[string]any{
		{"orderId": 42},
		{"orderId": nil},
		{"orderId": map[string]any{"nested": true}},
		nil,
	} {
		ev := resolverEvent(payload)
		strategy := &api.CorrelationStrategy{CorrelationProperty: "orderId"}

		got := ResolveInstanceID(ev, strategy, discardLogger())
		if got != "order-42" {
			t.Fatalf("expected fallback for payload %v, got %q", payload, got)
		}
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	ev := resolverEvent(map[string]any{"orderId": "o-9"})
	strategy := &api.CorrelationStrategy{CorrelationProperty: "orderId"}

	first := ResolveInstanceID(ev, strategy, discardLogger())
	second := ResolveInstanceID(ev, strategy, discardLogger())
	if first != second {
		t.Fatalf("expected deterministic resolution, got %q then %q", first, second)
	}
}
