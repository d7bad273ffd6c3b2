package voiceprint

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current voice print schema version.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was written by a different schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// SQLiteRepository keeps all backends in one database: store_meta holds one
// row per backend and voice_prints one row per (backend, speaker).
type SQLiteRepository struct {
	db   *sql.DB
	path string
}

// OpenSQLiteRepository opens or creates the database at path.
func OpenSQLiteRepository(path string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	repo := &SQLiteRepository{db: db, path: path}
	if err := repo.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLiteRepository) initSchema(ctx context.Context) error {
	var tableExists int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return r.createSchema(ctx)
	}

	var version int
	if err := r.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return corrupt("", "read schema version", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (rebuild the voice print store)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (r *SQLiteRepository) createSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Load(ctx context.Context, backendID string) (Snapshot, error) {
	if err := checkBackendID(backendID); err != nil {
		return Snapshot{}, err
	}
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Snapshot{}, fmt.Errorf("begin read tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	snapshot := NewSnapshot(backendID, 0)
	var savedAt string
	err = tx.QueryRowContext(ctx,
		"SELECT dim, version, saved_at FROM store_meta WHERE backend_id = ?", backendID,
	).Scan(&snapshot.Dim, &snapshot.Version, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read store meta: %w", err)
	}
	if snapshot.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt); err != nil {
		return Snapshot{}, corrupt(backendID, "saved_at", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT speaker_id, vector_json, dim, sample_count, built_at, source_dates_json, COALESCE(short_name, '')
         FROM voice_prints WHERE backend_id = ?`, backendID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query voice prints: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			vp          = VoicePrint{BackendID: backendID}
			vectorJSON  string
			builtAt     string
			sourceDates string
		)
		if err := rows.Scan(&vp.SpeakerID, &vectorJSON, &vp.Dim, &vp.SampleCount, &builtAt, &sourceDates, &vp.ShortName); err != nil {
			return Snapshot{}, fmt.Errorf("scan voice print: %w", err)
		}
		if err := json.Unmarshal([]byte(vectorJSON), &vp.Vector); err != nil {
			return Snapshot{}, corrupt(backendID, "vector of "+strconv.Quote(vp.SpeakerID), err)
		}
		if err := json.Unmarshal([]byte(sourceDates), &vp.SourceSampleDates); err != nil {
			return Snapshot{}, corrupt(backendID, "source dates of "+strconv.Quote(vp.SpeakerID), err)
		}
		if vp.BuiltAt, err = time.Parse(time.RFC3339Nano, builtAt); err != nil {
			return Snapshot{}, corrupt(backendID, "built_at of "+strconv.Quote(vp.SpeakerID), err)
		}
		snapshot.Prints[vp.SpeakerID] = vp
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterate voice prints: %w", err)
	}
	if err := snapshot.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, snapshot Snapshot) error {
	if err := checkBackendID(snapshot.BackendID); err != nil {
		return err
	}
	if err := snapshot.Validate(); err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM voice_prints WHERE backend_id = ?", snapshot.BackendID); err != nil {
		return fmt.Errorf("clear voice prints: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO store_meta (backend_id, dim, version, saved_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(backend_id) DO UPDATE SET dim = excluded.dim, version = excluded.version, saved_at = excluded.saved_at`,
		snapshot.BackendID, snapshot.Dim, snapshot.Version, snapshot.SavedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("write store meta: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO voice_prints (backend_id, speaker_id, vector_json, dim, sample_count, built_at, source_dates_json, short_name)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, id := range snapshot.SpeakerIDs() {
		vp := snapshot.Prints[id]
		vectorJSON, err := json.Marshal(vp.Vector)
		if err != nil {
			return fmt.Errorf("marshal vector: %w", err)
		}
		dates := vp.SourceSampleDates
		if dates == nil {
			dates = []time.Time{}
		}
		datesJSON, err := json.Marshal(dates)
		if err != nil {
			return fmt.Errorf("marshal source dates: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			snapshot.BackendID, id, string(vectorJSON), vp.Dim, vp.SampleCount,
			vp.BuiltAt.UTC().Format(time.RFC3339Nano), string(datesJSON), vp.ShortName,
		); err != nil {
			return fmt.Errorf("insert voice print %q: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Stamp(ctx context.Context, backendID string) (Stamp, error) {
	var (
		version int64
		savedAt string
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT version, saved_at FROM store_meta WHERE backend_id = ?", backendID,
	).Scan(&version, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Stamp{Marker: "absent"}, nil
	}
	if err != nil {
		return Stamp{}, fmt.Errorf("read store stamp: %w", err)
	}
	return Stamp{Version: version, Marker: savedAt}, nil
}

func (r *SQLiteRepository) Backends(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT backend_id FROM store_meta ORDER BY backend_id")
	if err != nil {
		return nil, fmt.Errorf("list backends: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan backend: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database handle.
func (r *SQLiteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
