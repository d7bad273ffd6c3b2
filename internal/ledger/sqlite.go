package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"voiceid/internal/services"
)

const samplesQuery = `SELECT vs.id, vs.speaker_name, vs.episode_id, vs.start_time, vs.end_time,
        vs.file_path, vs.rating, vs.source, vs.created_at, e.published_date
    FROM voice_samples vs
    LEFT JOIN episodes e ON vs.episode_id = e.id`

// dateLayouts covers the formats the application has written for
// published_date and created_at over time.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// SQLite reads voice_samples from the application database. The database is
// opened query-only; voiceid never writes to it.
type SQLite struct {
	db     *sql.DB
	path   string
	filter Filter
}

// OpenSQLite opens the application database at path.
func OpenSQLite(path string, filter Filter) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "ledger", "open", "ledger database path is empty", nil)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA query_only = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	return &SQLite{db: db, path: path, filter: filter}, nil
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Speakers(ctx context.Context) ([]string, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(all), nil
}

func (s *SQLite) Samples(ctx context.Context, speaker string) ([]SampleRecord, error) {
	records, err := s.query(ctx, samplesQuery+" WHERE vs.speaker_name = ?", NormalizeName(speaker))
	if err != nil {
		return nil, err
	}
	return group(records, s.filter)[NormalizeName(speaker)], nil
}

func (s *SQLite) All(ctx context.Context) (map[string][]SampleRecord, error) {
	records, err := s.query(ctx, samplesQuery)
	if err != nil {
		return nil, err
	}
	return group(records, s.filter), nil
}

func (s *SQLite) query(ctx context.Context, query string, args ...any) ([]SampleRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query voice samples: %w", err)
	}
	defer rows.Close()

	var records []SampleRecord
	for rows.Next() {
		var (
			id        int64
			speaker   string
			episodeID sql.NullInt64
			start     sql.NullFloat64
			end       sql.NullFloat64
			filePath  sql.NullString
			rating    sql.NullInt64
			source    sql.NullString
			createdAt sql.NullString
			published sql.NullString
		)
		if err := rows.Scan(&id, &speaker, &episodeID, &start, &end, &filePath, &rating, &source, &createdAt, &published); err != nil {
			return nil, fmt.Errorf("scan voice sample: %w", err)
		}
		rec := SampleRecord{
			ID:            strconv.FormatInt(id, 10),
			SpeakerName:   speaker,
			ClipPath:      filePath.String,
			QualityRating: int(rating.Int64),
			Source:        source.String,
			Start:         start.Float64,
			End:           end.Float64,
		}
		if episodeID.Valid {
			rec.EpisodeID = strconv.FormatInt(episodeID.Int64, 10)
		}
		if rec.End > rec.Start {
			rec.DurationSeconds = rec.End - rec.Start
		}
		rec.RecordedDate = parseDate(published.String)
		if rec.RecordedDate.IsZero() {
			rec.RecordedDate = parseDate(createdAt.String)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voice samples: %w", err)
	}
	return records, nil
}

func parseDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
