package embedding

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"voiceid/internal/logging"
	"voiceid/internal/metrics"
	"voiceid/internal/services"
	"voiceid/internal/vecmath"
)

// maxCachedClips bounds the vector cache of a long-running worker.
const maxCachedClips = 4096

// Memo wraps a Backend for the lifetime of a process: it prepares the backend
// once, bounds in-flight extractions, collapses concurrent requests for the
// same clip, and caches successful vectors by clip key. Cached vectors are
// tied to the file's size and modification time, so a clip replaced on disk
// is extracted again. Clips that cannot be stat'ed are never cached.
type Memo struct {
	backend Backend
	sem     *semaphore.Weighted
	logger  *slog.Logger

	prepareMu  sync.Mutex
	prepared   bool
	prepareErr error

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cachedVector
}

type cachedVector struct {
	version string
	vec     vecmath.Vector
}

// NewMemo wraps backend. maxConcurrent <= 0 means one extraction at a time.
func NewMemo(backend Backend, maxConcurrent int, logger *slog.Logger) *Memo {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Memo{
		backend: backend,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		logger:  logging.NewComponentLogger(logger, "embedding"),
		cache:   make(map[string]cachedVector),
	}
}

func (m *Memo) ID() string { return m.backend.ID() }

func (m *Memo) Dimension() int { return m.backend.Dimension() }

// Prepare runs the wrapped backend's setup once. A failure is remembered so a
// missing model or credential fails fast instead of being retried per clip;
// cancellation is not remembered.
func (m *Memo) Prepare(ctx context.Context) error {
	m.prepareMu.Lock()
	defer m.prepareMu.Unlock()
	if m.prepared {
		return m.prepareErr
	}
	preparer, ok := m.backend.(Preparer)
	if !ok {
		m.prepared = true
		return nil
	}
	started := time.Now()
	err := preparer.Prepare(ctx)
	if err != nil && ctx.Err() != nil {
		return err
	}
	m.prepared = true
	m.prepareErr = err
	if err != nil {
		logging.ErrorWithContext(m.logger, "embedding backend unavailable", "backend_unavailable",
			logging.Backend(m.backend.ID()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the extractor install and HF_TOKEN"),
		)
		return err
	}
	m.logger.Info("embedding backend ready",
		logging.Backend(m.backend.ID()),
		logging.Int("dim", m.backend.Dimension()),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// Embed returns the cached vector for clip or extracts it.
func (m *Memo) Embed(ctx context.Context, clip Clip) (vecmath.Vector, error) {
	key := clip.Key()
	version, cacheable := fileVersion(clip.Path)
	if cacheable {
		if vec, ok := m.cached(key, version); ok {
			return vec, nil
		}
	}
	if err := m.Prepare(ctx); err != nil {
		return nil, err
	}

	result, err, _ := m.group.Do(key+"@"+version, func() (any, error) {
		if cacheable {
			if vec, ok := m.cached(key, version); ok {
				return vec, nil
			}
		}
		vec, err := m.extract(ctx, clip)
		if err != nil {
			return nil, err
		}
		if cacheable {
			m.store(key, version, vec)
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(vecmath.Vector).Clone(), nil
}

// Len reports how many clips are cached.
func (m *Memo) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

func (m *Memo) cached(key, version string) (vecmath.Vector, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.cache[key]
	if !ok || entry.version != version {
		return nil, false
	}
	return entry.vec.Clone(), true
}

func (m *Memo) store(key, version string, vec vecmath.Vector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cache[key]; !ok && len(m.cache) >= maxCachedClips {
		m.logger.Debug("embedding cache full, dropping cached vectors",
			logging.Backend(m.backend.ID()),
			logging.Int("entries", len(m.cache)),
		)
		m.cache = make(map[string]cachedVector)
	}
	m.cache[key] = cachedVector{version: version, vec: vec}
}

// fileVersion identifies the current contents of path by size and
// modification time.
func fileVersion(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return strconv.FormatInt(info.ModTime().UnixNano(), 10) + ":" + strconv.FormatInt(info.Size(), 10), true
}

func (m *Memo) extract(ctx context.Context, clip Clip) (vecmath.Vector, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, services.Wrap(services.ErrTimeout, "embedding", m.backend.ID(), "wait for extractor slot", err)
	}
	defer m.sem.Release(1)

	started := time.Now()
	vec, err := m.backend.Embed(ctx, clip)
	metrics.RecordEmbedding(m.backend.ID(), services.Kind(err), time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}
	m.logger.Debug("embedded clip",
		logging.Backend(m.backend.ID()),
		logging.String("clip", clip.Key()),
		logging.Duration("elapsed", time.Since(started)),
	)
	return vec, nil
}
