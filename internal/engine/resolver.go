package engine

import (
	"log/slog"

	"github.com/jmattila/procman/pkg/api"
)

// ResolveInstanceID derives the process-manager instance id for an event.
//
// With no correlation strategy, the event's stream id is the instance id.
// With a strategy, the configured property is looked up in the event payload:
// a string value (including the empty string) is returned verbatim; anything
// else (absent, nil, non-string) logs a warning and falls back to the stream
// id.
//
// The function is deterministic and, aside from the warning, side-effect
// free. Callers that need the value more than once for the same event should
// compute it once and thread it through.
func ResolveInstanceID(ev api.EventEnvelope, strategy *api.CorrelationStrategy, logger *slog.Logger) string {
	if strategy == nil || strategy.CorrelationProperty == "" {
		return ev.StreamID
	}

	if v, ok := ev.Payload[strategy.CorrelationProperty]; ok {
		if s, isString := v.(string); isString {
			return s
		}
	}

	logger.Warn("correlation_property_fallback",
		slog.String("property", strategy.CorrelationProperty),
		slog.String("event_id", ev.EventID),
		slog.String("event_type", ev.EventType),
		slog.String("fallback_stream_id", ev.StreamID),
	)

	return ev.StreamID
}
