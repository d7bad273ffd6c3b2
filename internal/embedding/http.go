package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"voiceid/internal/services"
	"voiceid/internal/vecmath"
)

const (
	defaultHTTPTimeout    = 60 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryAttempts  = 3
)

// HTTPConfig captures the settings for an embedding service.
type HTTPConfig struct {
	ID      string
	Dim     int
	URL     string
	APIKey  string
	Timeout time.Duration
}

// HTTPBackend posts clips to an embedding service and reads back a vector.
type HTTPBackend struct {
	cfg        HTTPConfig
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// HTTPOption customizes the HTTP backend.
type HTTPOption func(*HTTPBackend)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(b *HTTPBackend) {
		if client != nil {
			b.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the default retry count (defaults to 3).
func WithRetryMaxAttempts(attempts int) HTTPOption {
	return func(b *HTTPBackend) {
		b.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) HTTPOption {
	return func(b *HTTPBackend) {
		b.retryBaseDelay = baseDelay
		b.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) HTTPOption {
	return func(b *HTTPBackend) {
		b.sleeper = sleeper
	}
}

// NewHTTPBackend constructs an HTTP embedding backend.
func NewHTTPBackend(cfg HTTPConfig, opts ...HTTPOption) *HTTPBackend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	backend := &HTTPBackend{
		cfg: HTTPConfig{
			ID:      strings.TrimSpace(cfg.ID),
			Dim:     cfg.Dim,
			URL:     strings.TrimSpace(cfg.URL),
			APIKey:  strings.TrimSpace(cfg.APIKey),
			Timeout: timeout,
		},
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(backend)
	}
	return backend
}

func (b *HTTPBackend) ID() string { return b.cfg.ID }

func (b *HTTPBackend) Dimension() int { return b.cfg.Dim }

// Prepare checks the endpoint is configured.
func (b *HTTPBackend) Prepare(context.Context) error {
	if b.cfg.URL == "" {
		return services.Wrap(services.ErrBackendUnavailable, "embedding", b.cfg.ID, "no service url configured", nil)
	}
	return nil
}

type embedRequest struct {
	Path    string  `json:"path"`
	Start   float64 `json:"start,omitempty"`
	End     float64 `json:"end,omitempty"`
	Backend string  `json:"backend"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("embedding service: http %d", e.StatusCode)
	}
	return fmt.Sprintf("embedding service: http %d: %s", e.StatusCode, e.Body)
}

// Embed posts the clip and retries transient failures with backoff.
func (b *HTTPBackend) Embed(ctx context.Context, clip Clip) (vecmath.Vector, error) {
	if err := b.Prepare(ctx); err != nil {
		return nil, err
	}
	body, err := json.Marshal(embedRequest{Path: clip.Path, Start: clip.Start, End: clip.End, Backend: b.cfg.ID})
	if err != nil {
		return nil, fmt.Errorf("embedding request: marshal: %w", err)
	}

	attempts := b.retryAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		vec, err := b.post(ctx, body)
		if err == nil {
			if err := checkVector(b.cfg.ID, b.cfg.Dim, vec); err != nil {
				return nil, err
			}
			return vec, nil
		}
		lastErr = err
		delay, retry := b.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			break
		}
		if err := b.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}
	return nil, b.classify(clip, lastErr)
}

func (b *HTTPBackend) post(ctx context.Context, body []byte) (vecmath.Vector, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding request: build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("embedding request: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(payload)),
			RetryAfter: retryAfter,
		}
	}
	vec, err := decodeVector(payload)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	return vec, nil
}

// classify maps the final failure onto the error taxonomy: auth, network and
// server failures mean the backend is unavailable; other 4xx reject the clip.
func (b *HTTPBackend) classify(clip Clip, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "embedding", b.cfg.ID, clip.Key(), err)
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusUnauthorized,
			statusErr.StatusCode == http.StatusForbidden,
			statusErr.StatusCode >= http.StatusInternalServerError,
			statusErr.StatusCode == http.StatusTooManyRequests:
			return services.Wrap(services.ErrBackendUnavailable, "embedding", b.cfg.ID, clip.Key(), err)
		default:
			return services.Wrap(services.ErrValidation, "embedding", b.cfg.ID, clip.Key(), err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return services.Wrap(services.ErrBackendUnavailable, "embedding", b.cfg.ID, clip.Key(), err)
	}
	return services.Wrap(services.ErrExternalTool, "embedding", b.cfg.ID, clip.Key(), err)
}

func (b *HTTPBackend) retryAttempts() int {
	if b.retryMaxAttempts <= 0 {
		return 1
	}
	return b.retryMaxAttempts
}

func (b *HTTPBackend) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || err == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return b.capDelay(statusErr.RetryAfter), true
			}
			return b.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return b.backoffDelay(attempt), true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return b.backoffDelay(attempt), true
	}
	return 0, false
}

// backoffDelay doubles from the base delay: attempt 1 -> base, 2 -> base*2, ...
func (b *HTTPBackend) backoffDelay(attempt int) time.Duration {
	base := b.retryBaseDelay
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.maxDelay() {
			break
		}
	}
	return b.capDelay(delay)
}

func (b *HTTPBackend) maxDelay() time.Duration {
	if b.retryMaxDelay > 0 {
		return b.retryMaxDelay
	}
	return defaultRetryMaxDelay
}

func (b *HTTPBackend) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if maxDelay := b.maxDelay(); delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (b *HTTPBackend) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if b.sleeper != nil {
		b.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay, true
		}
	}
	return 0, false
}
