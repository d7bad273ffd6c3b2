package logging

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

type Attr = slog.Attr

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Float64(key string, value float64) Attr { return slog.Float64(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

// Speaker, Backend and Label tag records with the identifiers every
// voice print operation is keyed by.
func Speaker(id string) Attr { return slog.String(FieldSpeakerID, id) }

func Backend(id string) Attr { return slog.String(FieldBackendID, id) }

func Label(label string) Attr { return slog.String(FieldLabel, label) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// Args converts attrs into the variadic form slog's level methods accept.
func Args(attrs ...Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}

func NewNop() *slog.Logger {
	return slog.New(NoopHandler{})
}

// NewComponentLogger tags logger with a component attribute. A nil logger
// yields a no-op base.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// ComponentLogger applies the per-component minimum level from overrides
// (component name to level name) on top of NewComponentLogger.
func ComponentLogger(logger *slog.Logger, component string, overrides map[string]string) *slog.Logger {
	componentLogger := NewComponentLogger(logger, component)
	if level, ok := overrides[component]; ok && strings.TrimSpace(level) != "" {
		return WithLevelOverride(componentLogger, parseLevel(level))
	}
	return componentLogger
}

// withDefault appends attr unless attrs already carries its key.
func withDefault(attrs []Attr, attr Attr) []Attr {
	for _, a := range attrs {
		if a.Key == attr.Key {
			return attrs
		}
	}
	return append(attrs, attr)
}

// WarnWithContext logs a warning that always carries event_type, error_hint
// and impact so the reader sees what broke and what still worked.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefault(attrs, String(FieldEventType, eventType))
	attrs = withDefault(attrs, String(FieldErrorHint, "check logs for details"))
	attrs = withDefault(attrs, String(FieldImpact, "operation completed with warnings"))
	logger.Warn(msg, Args(attrs...)...)
}

// ErrorWithContext is WarnWithContext at error level without the impact default.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefault(attrs, String(FieldEventType, eventType))
	attrs = withDefault(attrs, String(FieldErrorHint, "check logs for details"))
	logger.Error(msg, Args(attrs...)...)
}

// NoopHandler discards all log output.
type NoopHandler struct{}

func (NoopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (NoopHandler) Handle(context.Context, slog.Record) error { return nil }

func (NoopHandler) WithAttrs([]slog.Attr) slog.Handler { return NoopHandler{} }

func (NoopHandler) WithGroup(string) slog.Handler { return NoopHandler{} }

// DecisionAttrs labels an assignment or rebuild decision with its type,
// outcome and reason.
func DecisionAttrs(decisionType, result, reason string) []Attr {
	return []Attr{
		String(FieldDecisionType, decisionType),
		String("decision_result", result),
		String("decision_reason", reason),
	}
}
