package rebuildqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"voiceid/internal/config"
	"voiceid/internal/ledger"
	"voiceid/internal/services"
)

const requestColumns = "id, speaker_id, backend_id, status, reason, attempts, last_error, requested_at, updated_at"

// timeLayout has a fixed-width fraction so timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists rebuild requests in SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens the queue database configured at paths.queue_db.
func Open(cfg *config.Config) (*Store, error) {
	if strings.TrimSpace(cfg.Paths.QueueDB) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "rebuildqueue", "open", "paths.queue_db is not set", nil)
	}
	return OpenPath(cfg.Paths.QueueDB)
}

// OpenPath opens or creates the queue database at path and applies migrations.
func OpenPath(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enqueue records a pending rebuild for (speakerID, backendID). When one is
// already pending it is returned unchanged and created is false.
func (s *Store) Enqueue(ctx context.Context, speakerID, backendID, reason string) (req *Request, created bool, err error) {
	speakerID = ledger.NormalizeName(speakerID)
	backendID = strings.TrimSpace(backendID)
	if speakerID == "" || backendID == "" {
		return nil, false, services.Wrap(services.ErrValidation, "rebuildqueue", "enqueue", "speaker and backend are required", nil)
	}
	ts := s.timestamp()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO rebuild_requests (speaker_id, backend_id, status, reason, attempts, requested_at, updated_at)
         VALUES (?, ?, ?, ?, 0, ?, ?)`,
		speakerID, backendID, StatusPending, nullableString(reason), ts, ts,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM rebuild_requests WHERE speaker_id = ? AND backend_id = ? AND status = ?`,
		speakerID, backendID, StatusPending,
	)
	req, err = scanRequest(row)
	if err != nil {
		return nil, false, fmt.Errorf("read pending request: %w", err)
	}
	return req, affected == 1, nil
}

// NextPending claims the oldest pending request by marking it running. It
// returns nil when the queue is empty.
func (s *Store) NextPending(ctx context.Context) (*Request, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM rebuild_requests WHERE status = ? ORDER BY requested_at, id LIMIT 1`,
		StatusPending,
	)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	ts := s.timestamp()
	if _, err := tx.ExecContext(ctx,
		`UPDATE rebuild_requests SET status = ?, attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		StatusRunning, ts, req.ID,
	); err != nil {
		return nil, fmt.Errorf("claim request: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	req.Status = StatusRunning
	req.Attempts++
	req.UpdatedAt, _ = parseTimeString(ts)
	return req, nil
}

// MarkDone completes a request.
func (s *Store) MarkDone(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rebuild_requests SET status = ?, last_error = NULL, updated_at = ? WHERE id = ?`,
		StatusDone, s.timestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	return nil
}

// MarkFailed records cause against a request. When retry is set and attempts
// remain below maxAttempts the request returns to pending, unless a newer
// pending request for the same speaker already supersedes it. The returned
// status is what was persisted.
func (s *Store) MarkFailed(ctx context.Context, id int64, cause error, retry bool, maxAttempts int) (Status, error) {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin fail tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	req, err := scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM rebuild_requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return "", services.Wrap(services.ErrNotFound, "rebuildqueue", "mark failed", fmt.Sprintf("request %d", id), nil)
	}
	if err != nil {
		return "", fmt.Errorf("load request: %w", err)
	}

	status := StatusFailed
	if retry && (maxAttempts <= 0 || req.Attempts < maxAttempts) {
		var superseded int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM rebuild_requests WHERE speaker_id = ? AND backend_id = ? AND status = ? AND id != ?`,
			req.SpeakerID, req.BackendID, StatusPending, id,
		).Scan(&superseded); err != nil {
			return "", fmt.Errorf("check superseding request: %w", err)
		}
		if superseded == 0 {
			status = StatusPending
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE rebuild_requests SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, nullableString(message), s.timestamp(), id,
	); err != nil {
		return "", fmt.Errorf("mark failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit fail: %w", err)
	}
	return status, nil
}

// ResetRunning returns requests left running by a crashed worker to pending.
// A running request whose speaker already has a pending one is dropped.
func (s *Store) ResetRunning(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reset tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rebuild_requests
         WHERE status = ? AND EXISTS (
             SELECT 1 FROM rebuild_requests p
             WHERE p.status = ? AND p.speaker_id = rebuild_requests.speaker_id AND p.backend_id = rebuild_requests.backend_id
         )`,
		StatusRunning, StatusPending,
	); err != nil {
		return 0, fmt.Errorf("drop superseded running requests: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE rebuild_requests SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPending, s.timestamp(), StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reset running requests: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reset: %w", err)
	}
	return res.RowsAffected()
}

// List returns requests in the given statuses (all when none), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM rebuild_requests`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		for _, status := range statuses {
			args = append(args, status)
		}
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY requested_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Clear deletes requests in the given statuses (all when none).
func (s *Store) Clear(ctx context.Context, statuses ...Status) (int64, error) {
	query := `DELETE FROM rebuild_requests`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		for _, status := range statuses {
			args = append(args, status)
		}
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear requests: %w", err)
	}
	return res.RowsAffected()
}

// Counts returns the number of requests per status.
func (s *Store) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM rebuild_requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count requests: %w", err)
	}
	defer rows.Close()
	counts := make(map[Status]int, len(allStatuses))
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

func scanRequest(scanner interface{ Scan(dest ...any) error }) (*Request, error) {
	var (
		req          Request
		status       string
		reason       sql.NullString
		lastError    sql.NullString
		requestedRaw string
		updatedRaw   string
	)
	if err := scanner.Scan(&req.ID, &req.SpeakerID, &req.BackendID, &status, &reason,
		&req.Attempts, &lastError, &requestedRaw, &updatedRaw); err != nil {
		return nil, err
	}
	req.Status = Status(status)
	req.Reason = reason.String
	req.LastError = lastError.String
	if ts, err := parseTimeString(requestedRaw); err == nil {
		req.RequestedAt = ts
	}
	if ts, err := parseTimeString(updatedRaw); err == nil {
		req.UpdatedAt = ts
	}
	return &req, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
