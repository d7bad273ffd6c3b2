package embedding

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"voiceid/internal/config"
	"voiceid/internal/services"
)

// Registry maps backend ids to memoized backends.
type Registry struct {
	backends map[string]*Memo
	order    []string
}

// NewRegistry builds a registry from already constructed backends. Each is
// wrapped in a Memo bounded by the matching entry in concurrency (default 1).
func NewRegistry(logger *slog.Logger, concurrency map[string]int, backends ...Backend) (*Registry, error) {
	reg := &Registry{backends: make(map[string]*Memo, len(backends))}
	for _, backend := range backends {
		id := backend.ID()
		if id == "" {
			return nil, fmt.Errorf("embedding registry: backend with empty id")
		}
		if _, dup := reg.backends[id]; dup {
			return nil, fmt.Errorf("embedding registry: duplicate backend %q", id)
		}
		if backend.Dimension() <= 0 {
			return nil, fmt.Errorf("embedding registry: backend %q declares dimension %d", id, backend.Dimension())
		}
		reg.backends[id] = NewMemo(backend, concurrency[id], logger)
		reg.order = append(reg.order, id)
	}
	return reg, nil
}

// FromConfig constructs every configured backend.
func FromConfig(cfg *config.Config, logger *slog.Logger) (*Registry, error) {
	backends := make([]Backend, 0, len(cfg.Backends))
	concurrency := make(map[string]int, len(cfg.Backends))
	for _, b := range cfg.Backends {
		timeout := time.Duration(b.TimeoutSeconds) * time.Second
		switch b.Kind {
		case config.BackendKindHTTP:
			backends = append(backends, NewHTTPBackend(HTTPConfig{
				ID:      b.ID,
				Dim:     b.Dim,
				URL:     b.URL,
				APIKey:  b.APIKey,
				Timeout: timeout,
			}, WithRetryMaxAttempts(b.RetryAttempts)))
		default:
			backends = append(backends, NewCommandBackend(CommandConfig{
				ID:      b.ID,
				Dim:     b.Dim,
				Command: b.Command,
				Args:    b.Args,
				HFToken: b.HFToken,
				Timeout: timeout,
			}))
		}
		concurrency[b.ID] = b.MaxConcurrent
	}
	return NewRegistry(logger, concurrency, backends...)
}

// Source resolves backend ids to backends.
type Source interface {
	Get(id string) (Backend, error)
}

// Get returns the memoized backend registered under id. An unknown id is
// reported as an unavailable backend so callers treat it like a missing model.
func (r *Registry) Get(id string) (Backend, error) {
	if r != nil {
		if memo, ok := r.backends[id]; ok {
			return memo, nil
		}
	}
	return nil, services.Wrap(services.ErrBackendUnavailable, "embedding", id, "backend is not configured", nil)
}

// IDs lists backend ids in registration order.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// SortedIDs lists backend ids alphabetically.
func (r *Registry) SortedIDs() []string {
	ids := r.IDs()
	sort.Strings(ids)
	return ids
}
