package voiceprint

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"voiceid/internal/config"
	"voiceid/internal/services"
)

// Store formats accepted by store.format.
const (
	FormatJSON   = "json"
	FormatSQLite = "sqlite"
	FormatBadger = "badger"
)

// Repository persists snapshots. Implementations read and write a whole
// backend at once; Save replaces the backend's snapshot atomically.
type Repository interface {
	// Load returns the backend's snapshot. A backend that was never saved
	// yields an empty snapshot with Dim 0.
	Load(ctx context.Context, backendID string) (Snapshot, error)
	Save(ctx context.Context, snapshot Snapshot) error
	// Stamp returns a cheap marker that changes whenever the backend's
	// persisted snapshot changes.
	Stamp(ctx context.Context, backendID string) (Stamp, error)
	// Backends lists backend ids with persisted data.
	Backends(ctx context.Context) ([]string, error)
	Close() error
}

// OpenRepository opens the repository selected by cfg.Store.Format.
func OpenRepository(cfg *config.Config, logger *slog.Logger) (Repository, error) {
	dir := cfg.Paths.StoreDir
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Format)) {
	case "", FormatJSON:
		return NewJSONRepository(dir, cfg.Identification.LegacyBackend, logger), nil
	case FormatSQLite:
		return OpenSQLiteRepository(filepath.Join(dir, "voiceprints.db"))
	case FormatBadger:
		return OpenBadgerRepository(BadgerOptions{Dir: filepath.Join(dir, "badger")})
	default:
		return nil, services.Wrap(services.ErrConfiguration, "voiceprint", "open",
			fmt.Sprintf("unknown store format %q", cfg.Store.Format), nil)
	}
}

func checkBackendID(backendID string) error {
	if backendID == "" || backendID == "." || backendID == ".." || strings.ContainsAny(backendID, `/\`) {
		return services.Wrap(services.ErrValidation, "voiceprint", "backend", fmt.Sprintf("invalid backend id %q", backendID), nil)
	}
	return nil
}

// inferDim fills a missing snapshot dimension from its prints.
func inferDim(snapshot *Snapshot) {
	if snapshot.Dim > 0 {
		return
	}
	for _, id := range snapshot.SpeakerIDs() {
		snapshot.Dim = snapshot.Prints[id].Dim
		return
	}
}
