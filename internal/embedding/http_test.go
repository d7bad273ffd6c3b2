package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"voiceid/internal/services"
)

func newTestHTTPBackend(url string, opts ...HTTPOption) *HTTPBackend {
	opts = append([]HTTPOption{WithSleeper(func(time.Duration) {})}, opts...)
	return NewHTTPBackend(HTTPConfig{ID: "ecapa-tdnn", Dim: 2, URL: url, APIKey: "k3y"}, opts...)
}

func TestHTTPBackendEmbedSendsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k3y" {
			t.Fatalf("authorization = %q", got)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Path != "/clips/ep.wav" || req.Start != 2 || req.End != 5 || req.Backend != "ecapa-tdnn" {
			t.Fatalf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"vector":[0.6,0.8]}`))
	}))
	defer srv.Close()

	vec, err := newTestHTTPBackend(srv.URL).Embed(context.Background(), Clip{Path: "/clips/ep.wav", Start: 2, End: 5})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.6 || vec[1] != 0.8 {
		t.Fatalf("unexpected vector %v", vec)
	}
}

func TestHTTPBackendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[1,0]`))
	}))
	defer srv.Close()

	var slept []time.Duration
	backend := newTestHTTPBackend(srv.URL, WithSleeper(func(d time.Duration) { slept = append(slept, d) }))
	if _, err := backend.Embed(context.Background(), Clip{Path: "a.wav"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
	if len(slept) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %v", slept)
	}
}

func TestHTTPBackendUnauthorizedIsUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestHTTPBackend(srv.URL).Embed(context.Background(), Clip{Path: "a.wav"})
	if !errors.Is(err, services.ErrBackendUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("auth failures should not retry, got %d calls", calls.Load())
	}
}

func TestHTTPBackendBadRequestIsValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "clip too short", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := newTestHTTPBackend(srv.URL).Embed(context.Background(), Clip{Path: "a.wav"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHTTPBackendDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[1,0,0]`))
	}))
	defer srv.Close()

	_, err := newTestHTTPBackend(srv.URL).Embed(context.Background(), Clip{Path: "a.wav"})
	if !errors.Is(err, services.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestHTTPBackendWithoutURLIsUnavailable(t *testing.T) {
	_, err := newTestHTTPBackend("").Embed(context.Background(), Clip{Path: "a.wav"})
	if !errors.Is(err, services.ErrBackendUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	d, ok := parseRetryAfter("3")
	if !ok || d != 3*time.Second {
		t.Fatalf("parseRetryAfter = %v %v", d, ok)
	}
	if _, ok := parseRetryAfter(""); ok {
		t.Fatal("empty header should not parse")
	}
}
