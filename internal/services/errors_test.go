package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"voiceid/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrBackendUnavailable, "embedding", "ecapa-tdnn", "model load failed", base)
	if !errors.Is(err, services.ErrBackendUnavailable) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"embedding", "ecapa-tdnn", "model load failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarkerAndDetail(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestKindAndRetryable(t *testing.T) {
	cases := []struct {
		err       error
		kind      string
		retryable bool
		escalates bool
	}{
		{nil, "ok", false, false},
		{services.Wrap(services.ErrInsufficientSamples, "voiceprint", "build", "", nil), "insufficient_samples", false, false},
		{services.Wrap(services.ErrDimensionMismatch, "matching", "match", "", nil), "dimension_mismatch", false, false},
		{services.Wrap(services.ErrBackendUnavailable, "embedding", "embed", "", nil), "unavailable", true, true},
		{services.Wrap(services.ErrCorruptStore, "voiceprint", "load", "", nil), "corrupt_store", false, true},
		{fmt.Errorf("plain: %w", errors.New("io")), "transient", true, false},
	}
	for _, tc := range cases {
		if got := services.Kind(tc.err); got != tc.kind {
			t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.kind)
		}
		if got := services.Retryable(tc.err); got != tc.retryable {
			t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.retryable)
		}
		if got := services.Escalates(tc.err); got != tc.escalates {
			t.Fatalf("Escalates(%v) = %v, want %v", tc.err, got, tc.escalates)
		}
	}
}
