package services

import (
	"errors"
	"fmt"
	"strings"
)

// Engine error markers. Match with errors.Is; the wrapped message carries the
// speaker/backend detail.
var (
	ErrInsufficientSamples = errors.New("insufficient samples")
	ErrDimensionMismatch   = errors.New("dimension mismatch")
	ErrBackendUnavailable  = errors.New("backend unavailable")
	ErrCorruptStore        = errors.New("corrupt voice print store")
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns a short stable classification for err, suitable for metric
// labels and table cells.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientSamples):
		return "insufficient_samples"
	case errors.Is(err, ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, ErrBackendUnavailable):
		return "unavailable"
	case errors.Is(err, ErrCorruptStore):
		return "corrupt_store"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrExternalTool):
		return "external_tool"
	default:
		return "transient"
	}
}

// Retryable reports whether repeating the operation without operator action
// could succeed. Sample, dimension and configuration problems need a human.
func Retryable(err error) bool {
	switch Kind(err) {
	case "unavailable", "timeout", "external_tool", "transient":
		return true
	default:
		return false
	}
}

// Escalates reports whether err must fail a whole backend rather than a
// single speaker within a batch.
func Escalates(err error) bool {
	return errors.Is(err, ErrCorruptStore) || errors.Is(err, ErrBackendUnavailable)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
