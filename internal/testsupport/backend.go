package testsupport

import (
	"context"
	"sync"

	"voiceid/internal/embedding"
	"voiceid/internal/services"
	"voiceid/internal/vecmath"
)

// StubBackend is an embedding backend answering from a fixed table keyed by
// clip key, falling back to the clip path.
type StubBackend struct {
	BackendID string
	Dim       int

	mu      sync.Mutex
	vectors map[string]vecmath.Vector
	errs    map[string]error
	calls   map[string]int
	fail    error
}

// NewStubBackend returns an empty stub.
func NewStubBackend(id string, dim int) *StubBackend {
	return &StubBackend{
		BackendID: id,
		Dim:       dim,
		vectors:   map[string]vecmath.Vector{},
		errs:      map[string]error{},
		calls:     map[string]int{},
	}
}

// Set registers the vector returned for key (a clip path or Clip.Key()).
func (b *StubBackend) Set(key string, values ...float64) *StubBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vectors[key] = append(vecmath.Vector(nil), values...)
	return b
}

// SetError makes key fail with err.
func (b *StubBackend) SetError(key string, err error) *StubBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs[key] = err
	return b
}

// FailAll makes every call fail with err; nil restores normal behaviour.
func (b *StubBackend) FailAll(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = err
}

// Calls reports how many times key was embedded.
func (b *StubBackend) Calls(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[key]
}

func (b *StubBackend) ID() string { return b.BackendID }

func (b *StubBackend) Dimension() int { return b.Dim }

func (b *StubBackend) Embed(ctx context.Context, clip embedding.Clip) (vecmath.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := clip.Key()
	b.calls[key]++
	if b.fail != nil {
		return nil, b.fail
	}
	for _, candidate := range []string{key, clip.Path} {
		if err, ok := b.errs[candidate]; ok {
			return nil, err
		}
		if vec, ok := b.vectors[candidate]; ok {
			return vec.Clone(), nil
		}
	}
	return nil, services.Wrap(services.ErrExternalTool, "stub", b.BackendID, "no vector for "+key, nil)
}

// Backends is an embedding.Source over a fixed set of backends.
type Backends map[string]embedding.Backend

// NewBackends indexes backends by id.
func NewBackends(backends ...embedding.Backend) Backends {
	out := make(Backends, len(backends))
	for _, backend := range backends {
		out[backend.ID()] = backend
	}
	return out
}

func (b Backends) Get(id string) (embedding.Backend, error) {
	if backend, ok := b[id]; ok {
		return backend, nil
	}
	return nil, services.Wrap(services.ErrBackendUnavailable, "stub", id, "backend is not configured", nil)
}
