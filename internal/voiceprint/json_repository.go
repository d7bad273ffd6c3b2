package voiceprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"voiceid/internal/fileutil"
	"voiceid/internal/ledger"
	"voiceid/internal/logging"
)

// LegacyFileName is the single-file store written before backend tagging.
const LegacyFileName = "embeddings.json"

type jsonFile struct {
	BackendID string               `json:"backend_id,omitempty"`
	Dim       int                  `json:"dim,omitempty"`
	Version   int64                `json:"version,omitempty"`
	SavedAt   time.Time            `json:"saved_at,omitzero"`
	Speakers  map[string]jsonPrint `json:"speakers"`
}

type jsonPrint struct {
	Vector            []float64   `json:"vector,omitempty"`
	Embedding         []float64   `json:"embedding,omitempty"`
	Dim               int         `json:"dim,omitempty"`
	SampleCount       int         `json:"sample_count"`
	BuiltAt           time.Time   `json:"built_at,omitzero"`
	SourceSampleDates []time.Time `json:"source_sample_dates,omitempty"`
	ShortName         string      `json:"short_name,omitempty"`
	SampleFile        string      `json:"sample_file,omitempty"`
}

// JSONRepository stores one file per backend: <dir>/<backend>.json.
type JSONRepository struct {
	dir           string
	legacyBackend string
	logger        *slog.Logger
}

// NewJSONRepository returns a repository rooted at dir. Untagged stores,
// including a legacy embeddings.json, are read as legacyBackend.
func NewJSONRepository(dir, legacyBackend string, logger *slog.Logger) *JSONRepository {
	return &JSONRepository{
		dir:           dir,
		legacyBackend: strings.TrimSpace(legacyBackend),
		logger:        logging.NewComponentLogger(logger, "voiceprint"),
	}
}

func (r *JSONRepository) path(backendID string) string {
	return filepath.Join(r.dir, backendID+".json")
}

func (r *JSONRepository) legacyPath() string {
	return filepath.Join(r.dir, LegacyFileName)
}

// resolve returns the file backing backendID and whether it exists.
func (r *JSONRepository) resolve(backendID string) (string, os.FileInfo, error) {
	primary := r.path(backendID)
	info, err := os.Stat(primary)
	if err == nil {
		return primary, info, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", nil, fmt.Errorf("stat store: %w", err)
	}
	if backendID != r.legacyBackend {
		return primary, nil, nil
	}
	legacy := r.legacyPath()
	info, err = os.Stat(legacy)
	if err == nil {
		return legacy, info, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", nil, fmt.Errorf("stat legacy store: %w", err)
	}
	return primary, nil, nil
}

func (r *JSONRepository) Load(ctx context.Context, backendID string) (Snapshot, error) {
	if err := checkBackendID(backendID); err != nil {
		return Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	path, info, err := r.resolve(backendID)
	if err != nil {
		return Snapshot{}, err
	}
	if info == nil {
		return NewSnapshot(backendID, 0), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read store: %w", err)
	}
	var file jsonFile
	if err := json.Unmarshal(data, &file); err != nil {
		return Snapshot{}, corrupt(backendID, filepath.Base(path), err)
	}
	if file.Speakers == nil {
		return Snapshot{}, corrupt(backendID, filepath.Base(path)+": missing speakers", nil)
	}

	snapshot := Snapshot{
		BackendID: backendID,
		Dim:       file.Dim,
		Version:   file.Version,
		SavedAt:   file.SavedAt,
		Prints:    make(map[string]VoicePrint, len(file.Speakers)),
	}
	switch {
	case file.BackendID == "":
		if backendID != r.legacyBackend {
			return Snapshot{}, corrupt(backendID, filepath.Base(path)+": untagged store for non-legacy backend", nil)
		}
		snapshot.Legacy = true
		logging.WarnWithContext(r.logger, "untagged voice print store read as legacy backend", "legacy_store_migrated",
			logging.Backend(backendID),
			logging.String("path", path),
			logging.Int("speakers", len(file.Speakers)),
			logging.String(logging.FieldErrorHint, "rebuild or save to write a tagged store"),
			logging.String(logging.FieldImpact, "prints assumed to come from the legacy backend"),
		)
	case file.BackendID != backendID:
		return Snapshot{}, corrupt(backendID, fmt.Sprintf("%s is tagged %q", filepath.Base(path), file.BackendID), nil)
	}

	for speakerID, entry := range file.Speakers {
		vector := entry.Vector
		if len(vector) == 0 {
			vector = entry.Embedding
		}
		vp := VoicePrint{
			SpeakerID:         speakerID,
			BackendID:         backendID,
			Vector:            vector,
			Dim:               entry.Dim,
			SampleCount:       entry.SampleCount,
			BuiltAt:           entry.BuiltAt,
			SourceSampleDates: entry.SourceSampleDates,
			ShortName:         entry.ShortName,
		}
		if vp.Dim == 0 {
			vp.Dim = len(vector)
		}
		if vp.SampleCount == 0 && snapshot.Legacy {
			vp.SampleCount = 1
		}
		if vp.BuiltAt.IsZero() {
			// Legacy prints carry no build time; the file's mtime is the
			// closest bound.
			vp.BuiltAt = info.ModTime().UTC()
		}
		if vp.ShortName == "" {
			vp.ShortName = ledger.ShortName(speakerID)
		}
		snapshot.Prints[speakerID] = vp
	}
	inferDim(&snapshot)
	if err := snapshot.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

func (r *JSONRepository) Save(ctx context.Context, snapshot Snapshot) error {
	if err := checkBackendID(snapshot.BackendID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := snapshot.Validate(); err != nil {
		return err
	}
	file := jsonFile{
		BackendID: snapshot.BackendID,
		Dim:       snapshot.Dim,
		Version:   snapshot.Version,
		SavedAt:   snapshot.SavedAt,
		Speakers:  make(map[string]jsonPrint, len(snapshot.Prints)),
	}
	for id, p := range snapshot.Prints {
		file.Speakers[id] = jsonPrint{
			Vector:            p.Vector,
			Dim:               p.Dim,
			SampleCount:       p.SampleCount,
			BuiltAt:           p.BuiltAt.UTC(),
			SourceSampleDates: p.SourceSampleDates,
			ShortName:         p.ShortName,
		}
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}
	if err := r.backupLegacy(snapshot.BackendID); err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(r.path(snapshot.BackendID), data, 0o644); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	return nil
}

// backupLegacy keeps a verified copy of embeddings.json the first time the
// legacy backend is written in the tagged format.
func (r *JSONRepository) backupLegacy(backendID string) error {
	if backendID != r.legacyBackend {
		return nil
	}
	if _, err := os.Stat(r.path(backendID)); err == nil {
		return nil
	}
	legacy := r.legacyPath()
	if _, err := os.Stat(legacy); err != nil {
		return nil
	}
	backup := legacy + ".bak"
	if _, err := os.Stat(backup); err == nil {
		return nil
	}
	if err := fileutil.CopyFileVerified(legacy, backup); err != nil {
		return fmt.Errorf("back up legacy store: %w", err)
	}
	r.logger.Info("legacy voice print store backed up",
		logging.Backend(backendID),
		logging.String("backup", backup),
	)
	return nil
}

func (r *JSONRepository) Stamp(_ context.Context, backendID string) (Stamp, error) {
	if err := checkBackendID(backendID); err != nil {
		return Stamp{}, err
	}
	path, info, err := r.resolve(backendID)
	if err != nil {
		return Stamp{}, err
	}
	if info == nil {
		return Stamp{Marker: "absent"}, nil
	}
	return Stamp{Marker: fmt.Sprintf("%s:%d:%d", filepath.Base(path), info.ModTime().UnixNano(), info.Size())}, nil
}

func (r *JSONRepository) Backends(context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read store dir: %w", err)
	}
	seen := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		if name == LegacyFileName {
			if r.legacyBackend != "" {
				seen[r.legacyBackend] = true
			}
			continue
		}
		seen[strings.TrimSuffix(name, ".json")] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *JSONRepository) Close() error { return nil }
