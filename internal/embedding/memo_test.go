package embedding

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voiceid/internal/config"
	"voiceid/internal/logging"
	"voiceid/internal/services"
	"voiceid/internal/vecmath"
)

type countingBackend struct {
	id         string
	dim        int
	calls      atomic.Int32
	prepares   atomic.Int32
	prepareErr error
	delay      time.Duration
}

func (b *countingBackend) ID() string     { return b.id }
func (b *countingBackend) Dimension() int { return b.dim }

func (b *countingBackend) Prepare(context.Context) error {
	b.prepares.Add(1)
	return b.prepareErr
}

func (b *countingBackend) Embed(ctx context.Context, clip Clip) (vecmath.Vector, error) {
	b.calls.Add(1)
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return vecmath.Vector{float64(len(clip.Path)), 1}, nil
}

func writeClip(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
}

func TestMemoCachesByClipKey(t *testing.T) {
	backend := &countingBackend{id: "pyannote", dim: 2}
	memo := NewMemo(backend, 2, logging.NewNop())

	path := filepath.Join(t.TempDir(), "a.wav")
	writeClip(t, path, "riff")
	clip := Clip{Path: path, Start: 1, End: 3}
	first, err := memo.Embed(context.Background(), clip)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	first[0] = -1
	second, err := memo.Embed(context.Background(), clip)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if second[0] == -1 {
		t.Fatal("cached vector was aliased to a caller copy")
	}
	if backend.calls.Load() != 1 {
		t.Fatalf("expected one extraction, got %d", backend.calls.Load())
	}

	if _, err := memo.Embed(context.Background(), Clip{Path: path, Start: 3, End: 6}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if backend.calls.Load() != 2 || memo.Len() != 2 {
		t.Fatalf("different span should extract again: calls=%d len=%d", backend.calls.Load(), memo.Len())
	}
}

func TestMemoCollapsesConcurrentRequests(t *testing.T) {
	backend := &countingBackend{id: "pyannote", dim: 2, delay: 20 * time.Millisecond}
	memo := NewMemo(backend, 4, logging.NewNop())
	path := filepath.Join(t.TempDir(), "same.wav")
	writeClip(t, path, "riff")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := memo.Embed(context.Background(), Clip{Path: path}); err != nil {
				t.Errorf("Embed: %v", err)
			}
		}()
	}
	wg.Wait()
	if backend.calls.Load() != 1 {
		t.Fatalf("expected one extraction, got %d", backend.calls.Load())
	}
}

// contentBackend embeds a clip as [1 0] when it reads "first", else [0 1].
type contentBackend struct{ calls atomic.Int32 }

func (*contentBackend) ID() string     { return "content" }
func (*contentBackend) Dimension() int { return 2 }

func (b *contentBackend) Embed(_ context.Context, clip Clip) (vecmath.Vector, error) {
	b.calls.Add(1)
	data, err := os.ReadFile(clip.Path)
	if err != nil {
		return nil, err
	}
	if string(data) == "first" {
		return vecmath.Vector{1, 0}, nil
	}
	return vecmath.Vector{0, 1}, nil
}

func TestMemoReextractsReplacedClip(t *testing.T) {
	backend := &contentBackend{}
	memo := NewMemo(backend, 1, logging.NewNop())
	path := filepath.Join(t.TempDir(), "sample.wav")
	writeClip(t, path, "first")

	before, err := memo.Embed(context.Background(), Clip{Path: path})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if before[0] != 1 || before[1] != 0 {
		t.Fatalf("before replace = %v", before)
	}

	writeClip(t, path, "replaced")
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	after, err := memo.Embed(context.Background(), Clip{Path: path})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if after[0] != 0 || after[1] != 1 {
		t.Fatalf("after replace = %v, want [0 1]", after)
	}
	if backend.calls.Load() != 2 || memo.Len() != 1 {
		t.Fatalf("calls=%d len=%d", backend.calls.Load(), memo.Len())
	}
}

func TestMemoDoesNotCacheMissingFiles(t *testing.T) {
	backend := &countingBackend{id: "remote", dim: 2}
	memo := NewMemo(backend, 1, logging.NewNop())
	clip := Clip{Path: filepath.Join(t.TempDir(), "remote-only.wav")}
	for i := 0; i < 2; i++ {
		if _, err := memo.Embed(context.Background(), clip); err != nil {
			t.Fatalf("Embed: %v", err)
		}
	}
	if backend.calls.Load() != 2 || memo.Len() != 0 {
		t.Fatalf("calls=%d len=%d", backend.calls.Load(), memo.Len())
	}
}

func TestMemoRemembersPrepareFailure(t *testing.T) {
	backend := &countingBackend{
		id:         "pyannote",
		dim:        2,
		prepareErr: services.Wrap(services.ErrBackendUnavailable, "embedding", "pyannote", "no model", nil),
	}
	memo := NewMemo(backend, 1, logging.NewNop())

	for i := 0; i < 3; i++ {
		_, err := memo.Embed(context.Background(), Clip{Path: "a.wav"})
		if !errors.Is(err, services.ErrBackendUnavailable) {
			t.Fatalf("expected unavailable, got %v", err)
		}
	}
	if backend.prepares.Load() != 1 {
		t.Fatalf("expected one prepare, got %d", backend.prepares.Load())
	}
	if backend.calls.Load() != 0 {
		t.Fatalf("embed should not run after failed prepare")
	}
}

func TestRegistryFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Backends = []config.Backend{
		{ID: "pyannote", Kind: config.BackendKindCommand, Dim: 512, Command: "voiceid-embed"},
		{ID: "remote", Kind: config.BackendKindHTTP, Dim: 192, URL: "http://127.0.0.1:9/embed", MaxConcurrent: 2},
	}
	reg, err := FromConfig(&cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if ids := reg.IDs(); len(ids) != 2 || ids[0] != "pyannote" || ids[1] != "remote" {
		t.Fatalf("IDs = %v", ids)
	}
	backend, err := reg.Get("remote")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if backend.Dimension() != 192 {
		t.Fatalf("dimension = %d", backend.Dimension())
	}
	if _, err := reg.Get("wav2vec"); !errors.Is(err, services.ErrBackendUnavailable) {
		t.Fatalf("expected unavailable for unknown backend, got %v", err)
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	a := &countingBackend{id: "pyannote", dim: 2}
	b := &countingBackend{id: "pyannote", dim: 2}
	if _, err := NewRegistry(logging.NewNop(), nil, a, b); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestRegistryHealth(t *testing.T) {
	ready := NewCommandBackend(CommandConfig{ID: "ready", Dim: 4, Command: "extract"})
	ready.SetCommandRunner(func(context.Context, string, []string, []string) ([]byte, error) { return []byte("[0,0,0,1]"), nil })
	missing := NewCommandBackend(CommandConfig{ID: "missing", Dim: 2})

	reg, err := NewRegistry(logging.NewNop(), nil, ready, missing)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	health := reg.Health(context.Background())
	if len(health) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(health))
	}
	if !health[0].Ready || health[0].Dim != 4 {
		t.Fatalf("ready backend = %+v", health[0])
	}
	if health[1].Ready || health[1].Detail == "" {
		t.Fatalf("missing backend = %+v", health[1])
	}
}
