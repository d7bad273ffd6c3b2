package services

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	speakerKey   contextKey = "speaker_id"
	backendKey   contextKey = "backend_id"
	labelKey     contextKey = "label"
	requestIDKey contextKey = "request_id"
)

// WithSpeaker annotates context with the speaker being built or matched.
func WithSpeaker(ctx context.Context, speakerID string) context.Context {
	if speakerID == "" {
		return ctx
	}
	return context.WithValue(ctx, speakerKey, speakerID)
}

// SpeakerFromContext returns the speaker id if present.
func SpeakerFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, speakerKey)
}

// WithBackend annotates context with the embedding backend id.
func WithBackend(ctx context.Context, backendID string) context.Context {
	if backendID == "" {
		return ctx
	}
	return context.WithValue(ctx, backendKey, backendID)
}

// BackendFromContext returns the backend id if present.
func BackendFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, backendKey)
}

// WithLabel annotates context with a diarization label (SPEAKER_00 etc.).
func WithLabel(ctx context.Context, label string) context.Context {
	if label == "" {
		return ctx
	}
	return context.WithValue(ctx, labelKey, label)
}

// LabelFromContext returns the diarization label if present.
func LabelFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, labelKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// EnsureRequestID attaches a fresh correlation id unless one is already set.
func EnsureRequestID(ctx context.Context) context.Context {
	if _, ok := RequestIDFromContext(ctx); ok {
		return ctx
	}
	return WithRequestID(ctx, uuid.NewString())
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, requestIDKey)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
