package logging

import (
	"context"
	"log/slog"

	"voiceid/internal/services"
)

const (
	// FieldComponent is the structured logging key for component names.
	FieldComponent = "component"
	// FieldSpeakerID is the structured logging key for speaker identifiers.
	FieldSpeakerID = "speaker_id"
	// FieldBackendID is the structured logging key for embedding backend identifiers.
	FieldBackendID = "backend_id"
	// FieldLabel is the structured logging key for diarization labels (SPEAKER_00).
	FieldLabel = "label"
	// FieldEpisodeID is the structured logging key for episode identifiers.
	FieldEpisodeID = "episode_id"
	// FieldCorrelationID is the structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies warnings and errors for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint is the operator's next step for a warning or error.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldDecisionType names the kind of decision being logged.
	FieldDecisionType = "decision_type"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if v, ok := services.SpeakerFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSpeakerID, v))
	}
	if v, ok := services.BackendFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldBackendID, v))
	}
	if v, ok := services.LabelFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldLabel, v))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
