package voiceprint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"voiceid/internal/config"
	"voiceid/internal/embedding"
	"voiceid/internal/ledger"
	"voiceid/internal/logging"
	"voiceid/internal/metrics"
	"voiceid/internal/services"
	"voiceid/internal/vecmath"
)

// Options configures a Store.
type Options struct {
	// LockDir holds per-backend lock files. Empty disables cross-process
	// locking (tests).
	LockDir string
	// Now overrides the clock used for BuiltAt and SavedAt.
	Now    func() time.Time
	Logger *slog.Logger
}

// Store builds, persists and serves voice prints.
type Store struct {
	repo     Repository
	backends embedding.Source
	locks    *backendLocks
	now      func() time.Time
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]cachedSnapshot
}

type cachedSnapshot struct {
	stamp    Stamp
	snapshot Snapshot
}

// NewStore wraps repo. backends resolves the embedding backend for builds
// and for DimFor on backends with nothing persisted yet.
func NewStore(repo Repository, backends embedding.Source, opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		repo:     repo,
		backends: backends,
		locks:    newBackendLocks(opts.LockDir),
		now:      now,
		logger:   logging.NewComponentLogger(opts.Logger, "voiceprint"),
		cache:    make(map[string]cachedSnapshot),
	}
}

// Open opens the configured repository and wraps it in a Store.
func Open(cfg *config.Config, backends embedding.Source, logger *slog.Logger) (*Store, error) {
	repo, err := OpenRepository(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewStore(repo, backends, Options{LockDir: cfg.LockDir(), Logger: logger}), nil
}

// Close releases the repository.
func (s *Store) Close() error {
	return s.repo.Close()
}

// Build embeds samples with backendID's backend, averages them in canonical
// order and atomically replaces the speaker's print for that backend.
func (s *Store) Build(ctx context.Context, speakerID, backendID string, samples []ledger.SampleRecord) (vp VoicePrint, err error) {
	started := time.Now()
	defer func() {
		metrics.RecordBuild(backendID, services.Kind(err), time.Since(started).Seconds())
	}()

	speakerID = ledger.NormalizeName(speakerID)
	if speakerID == "" {
		return VoicePrint{}, services.Wrap(services.ErrValidation, "voiceprint", "build", "speaker id is empty", nil)
	}
	if len(samples) == 0 {
		return VoicePrint{}, services.Wrap(services.ErrInsufficientSamples, "voiceprint", speakerID, "no samples", nil)
	}
	backend, err := s.backends.Get(backendID)
	if err != nil {
		return VoicePrint{}, err
	}
	logger := s.logger.With(logging.Speaker(speakerID), logging.Backend(backendID))

	ordered := append([]ledger.SampleRecord(nil), samples...)
	ledger.SortCanonical(ordered)

	vectors := make([]vecmath.Vector, 0, len(ordered))
	dates := make([]time.Time, 0, len(ordered))
	for _, rec := range ordered {
		if err := ctx.Err(); err != nil {
			return VoicePrint{}, err
		}
		vec, err := backend.Embed(ctx, embedding.Clip{Path: rec.ClipPath})
		if err != nil {
			if ctx.Err() != nil || services.Escalates(err) || errors.Is(err, services.ErrDimensionMismatch) {
				return VoicePrint{}, err
			}
			logging.WarnWithContext(logger, "sample skipped: embedding failed", "sample_skipped",
				logging.String("clip", rec.ClipPath),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the clip decodes and is long enough"),
				logging.String(logging.FieldImpact, "sample excluded from the voice print"),
			)
			continue
		}
		if len(vec) != backend.Dimension() {
			return VoicePrint{}, services.Wrap(services.ErrDimensionMismatch, "voiceprint", speakerID,
				fmt.Sprintf("sample %s embedded to %d values, backend %s is %d-dim", rec.ClipPath, len(vec), backendID, backend.Dimension()), nil)
		}
		if err := vecmath.Validate(vec); err != nil {
			logging.WarnWithContext(logger, "sample skipped: invalid embedding", "sample_skipped",
				logging.String("clip", rec.ClipPath),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the clip may be silent or corrupt"),
				logging.String(logging.FieldImpact, "sample excluded from the voice print"),
			)
			continue
		}
		vectors = append(vectors, vec)
		dates = append(dates, rec.RecordedDate.UTC())
	}
	if len(vectors) == 0 {
		return VoicePrint{}, services.Wrap(services.ErrInsufficientSamples, "voiceprint", speakerID,
			fmt.Sprintf("none of %d samples produced a valid embedding", len(samples)), nil)
	}
	centroid, err := vecmath.Mean(vectors)
	if err != nil {
		return VoicePrint{}, services.Wrap(services.ErrDimensionMismatch, "voiceprint", speakerID, "average embeddings", err)
	}

	vp = VoicePrint{
		SpeakerID:         speakerID,
		BackendID:         backendID,
		Vector:            centroid,
		Dim:               len(centroid),
		SampleCount:       len(vectors),
		BuiltAt:           s.now().UTC(),
		SourceSampleDates: dates,
		ShortName:         ledger.ShortName(speakerID),
	}
	err = s.update(ctx, backendID, func(snapshot *Snapshot) (bool, error) {
		if snapshot.Dim > 0 && snapshot.Dim != vp.Dim {
			return false, services.Wrap(services.ErrDimensionMismatch, "voiceprint", speakerID,
				fmt.Sprintf("store for %s is %d-dim, print is %d-dim", backendID, snapshot.Dim, vp.Dim), nil)
		}
		if existing, ok := snapshot.Prints[speakerID]; ok && existing.ShortName != "" {
			vp.ShortName = existing.ShortName
		}
		snapshot.Dim = vp.Dim
		snapshot.Prints[speakerID] = vp
		return true, nil
	})
	if err != nil {
		return VoicePrint{}, err
	}
	logger.Info("voice print rebuilt",
		logging.Int("samples", vp.SampleCount),
		logging.Int("skipped", len(samples)-vp.SampleCount),
		logging.Int("dim", vp.Dim),
		logging.Duration("elapsed", time.Since(started)),
	)
	return vp.clone(), nil
}

// Load returns the backend's snapshot, served from cache while the
// repository's stamp is unchanged.
func (s *Store) Load(ctx context.Context, backendID string) (Snapshot, error) {
	stamp, err := s.repo.Stamp(ctx, backendID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	cached, ok := s.cache[backendID]
	s.mu.Unlock()
	if ok && cached.stamp == stamp {
		metrics.RecordStoreLoad(backendID, "cache")
		return cached.snapshot.Clone(), nil
	}

	snapshot, err := s.repo.Load(ctx, backendID)
	if err != nil {
		s.forget(backendID)
		if errors.Is(err, services.ErrCorruptStore) {
			logging.ErrorWithContext(s.logger, "voice print store is corrupt", "corrupt_store",
				logging.Backend(backendID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "restore the store from backup or rebuild every speaker"),
			)
		}
		return Snapshot{}, err
	}
	metrics.RecordStoreLoad(backendID, "disk")
	s.remember(backendID, stamp, snapshot)
	return snapshot.Clone(), nil
}

// Save persists snapshot as the backend's new contents, bumping its version.
func (s *Store) Save(ctx context.Context, snapshot Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}
	incoming := snapshot.Clone()
	inferDim(&incoming)
	return s.update(ctx, snapshot.BackendID, func(current *Snapshot) (bool, error) {
		version := current.Version
		if incoming.Version > version {
			version = incoming.Version
		}
		*current = incoming
		current.Version = version
		return true, nil
	})
}

// Remove deletes the speaker's print for backendID. It reports whether a
// print existed.
func (s *Store) Remove(ctx context.Context, speakerID, backendID string) (bool, error) {
	speakerID = ledger.NormalizeName(speakerID)
	removed := false
	err := s.update(ctx, backendID, func(snapshot *Snapshot) (bool, error) {
		if _, ok := snapshot.Prints[speakerID]; !ok {
			return false, nil
		}
		delete(snapshot.Prints, speakerID)
		removed = true
		return true, nil
	})
	if err != nil {
		return false, err
	}
	if removed {
		s.logger.Info("voice print removed", logging.Speaker(speakerID), logging.Backend(backendID))
	}
	return removed, nil
}

// DimFor returns the store dimension for backendID: the persisted dimension
// when prints exist, otherwise the backend's declared dimension.
func (s *Store) DimFor(ctx context.Context, backendID string) (int, error) {
	snapshot, err := s.Load(ctx, backendID)
	if err != nil {
		return 0, err
	}
	if snapshot.Dim > 0 {
		return snapshot.Dim, nil
	}
	backend, err := s.backends.Get(backendID)
	if err != nil {
		return 0, err
	}
	return backend.Dimension(), nil
}

// Backends lists backends with persisted prints.
func (s *Store) Backends(ctx context.Context) ([]string, error) {
	ids, err := s.repo.Backends(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// update runs mutate against the freshly loaded snapshot under the backend
// lock and saves the result when mutate reports a change.
func (s *Store) update(ctx context.Context, backendID string, mutate func(*Snapshot) (bool, error)) error {
	if strings.TrimSpace(backendID) == "" {
		return services.Wrap(services.ErrValidation, "voiceprint", "update", "backend id is empty", nil)
	}
	release, err := s.locks.acquire(ctx, backendID)
	if err != nil {
		return err
	}
	defer release()

	snapshot, err := s.repo.Load(ctx, backendID)
	if err != nil {
		s.forget(backendID)
		return err
	}
	if snapshot.Prints == nil {
		snapshot.Prints = map[string]VoicePrint{}
	}
	changed, err := mutate(&snapshot)
	if err != nil || !changed {
		return err
	}
	snapshot.BackendID = backendID
	snapshot.Legacy = false
	snapshot.Version++
	snapshot.SavedAt = s.now().UTC()
	if err := s.repo.Save(ctx, snapshot); err != nil {
		s.forget(backendID)
		return err
	}
	stamp, err := s.repo.Stamp(ctx, backendID)
	if err != nil {
		s.forget(backendID)
		return nil
	}
	s.remember(backendID, stamp, snapshot)
	return nil
}

func (s *Store) remember(backendID string, stamp Stamp, snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[backendID] = cachedSnapshot{stamp: stamp, snapshot: snapshot.Clone()}
}

func (s *Store) forget(backendID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, backendID)
}
