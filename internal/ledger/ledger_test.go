package ledger

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"voiceid/internal/config"
)

func seedAppDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	stmts := []string{
		`CREATE TABLE episodes (id INTEGER PRIMARY KEY AUTOINCREMENT, title TEXT NOT NULL, published_date TEXT)`,
		`CREATE TABLE voice_samples (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            speaker_name TEXT NOT NULL,
            episode_id INTEGER,
            segment_idx INTEGER,
            start_time REAL NOT NULL,
            end_time REAL NOT NULL,
            transcript_text TEXT,
            file_path TEXT NOT NULL,
            rating INTEGER DEFAULT 0,
            source TEXT DEFAULT 'manual',
            created_at TEXT
        )`,
		`INSERT INTO episodes (id, title, published_date) VALUES (1, 'Ep 1', '2024-01-01T00:00:00Z'), (2, 'Ep 2', NULL)`,
		`INSERT INTO voice_samples (speaker_name, episode_id, start_time, end_time, file_path, rating, source, created_at) VALUES
            ('Matt  Donnelly', 1, 10, 20, '/clips/matt-1.wav', 5, 'manual', '2024-02-01 10:00:00'),
            ('Matt Donnelly', 2, 30, 36, '/clips/matt-2.wav', 0, 'harvest', '2024-03-05 08:30:00'),
            ('Matt Donnelly', 1, 40, 42, '/clips/matt-short.wav', 0, 'harvest', '2024-03-05 08:30:00'),
            ('SPEAKER_03', 1, 0, 30, '/clips/unknown.wav', 0, 'harvest', '2024-03-05 08:30:00'),
            ('Paul Mattingly', NULL, 0, 12, '/clips/paul.wav', 3, 'manual', '2023-12-24')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}
	return path
}

func TestSQLiteLedgerReadsAndFilters(t *testing.T) {
	ledger, err := OpenSQLite(seedAppDB(t), Filter{MinSampleSeconds: 4})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer ledger.Close()

	speakers, err := ledger.Speakers(context.Background())
	if err != nil {
		t.Fatalf("Speakers: %v", err)
	}
	if len(speakers) != 2 || speakers[0] != "Matt Donnelly" || speakers[1] != "Paul Mattingly" {
		t.Fatalf("speakers = %v", speakers)
	}

	matt, err := ledger.Samples(context.Background(), "Matt Donnelly")
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if len(matt) != 1 {
		// The normalized "Matt  Donnelly" row is only found via All.
		t.Fatalf("expected exact-name query to return 1 sample, got %d", len(matt))
	}

	all, err := ledger.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	matt = all["Matt Donnelly"]
	if len(matt) != 2 {
		t.Fatalf("expected 2 usable Matt samples, got %+v", matt)
	}
	first := matt[0]
	if first.ClipPath != "/clips/matt-1.wav" || first.EpisodeID != "1" || first.QualityRating != 5 {
		t.Fatalf("unexpected first sample %+v", first)
	}
	if !first.RecordedDate.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected published date, got %v", first.RecordedDate)
	}
	if first.DurationSeconds != 10 {
		t.Fatalf("duration = %v", first.DurationSeconds)
	}
	second := matt[1]
	if !second.RecordedDate.Equal(time.Date(2024, 3, 5, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected created_at fallback, got %v", second.RecordedDate)
	}

	paul := all["Paul Mattingly"]
	if len(paul) != 1 || !paul[0].RecordedDate.Equal(time.Date(2023, 12, 24, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected paul samples %+v", paul)
	}
}

func TestDirLedgerUsesDirectoryNamesAndMtime(t *testing.T) {
	root := t.TempDir()
	clip := filepath.Join(root, "matt_donnelly", "sample1.wav")
	if err := os.MkdirAll(filepath.Dir(clip), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(clip, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(filepath.Dir(clip), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	when := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(clip, when, when); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, ".cache"), 0o755); err != nil {
		t.Fatal(err)
	}
	placeholder := filepath.Join(root, "SPEAKER_02", "clip.wav")
	if err := os.MkdirAll(filepath.Dir(placeholder), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(placeholder, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	ledger := NewDir(root, Filter{MinSampleSeconds: 4})
	all, err := ledger.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	samples := all["Matt Donnelly"]
	if len(all) != 1 || len(samples) != 1 {
		t.Fatalf("unexpected ledger %+v", all)
	}
	if samples[0].ClipPath != clip || !samples[0].RecordedDate.Equal(when) {
		t.Fatalf("unexpected sample %+v", samples[0])
	}
}

func TestDirLedgerMissingRootIsEmpty(t *testing.T) {
	all, err := NewDir(filepath.Join(t.TempDir(), "missing"), Filter{}).All(context.Background())
	if err != nil || len(all) != 0 {
		t.Fatalf("expected empty ledger, got %v %v", all, err)
	}
}

func TestMemoryLedgerSortsCanonically(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	ledger := NewMemory(Filter{},
		SampleRecord{ID: "3", SpeakerName: "Matt", ClipPath: "b.wav", RecordedDate: day(2)},
		SampleRecord{ID: "2", SpeakerName: "Matt", ClipPath: "a.wav", RecordedDate: day(2)},
		SampleRecord{ID: "1", SpeakerName: "Matt", ClipPath: "z.wav", RecordedDate: day(1)},
		SampleRecord{ID: "4", SpeakerName: "UNKNOWN", ClipPath: "u.wav", RecordedDate: day(1)},
	)
	samples, err := ledger.Samples(context.Background(), "Matt")
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	got := []string{samples[0].ID, samples[1].ID, samples[2].ID}
	want := []string{"1", "2", "3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if !Latest(samples).Equal(day(2)) {
		t.Fatalf("latest = %v", Latest(samples))
	}
	speakers, _ := ledger.Speakers(context.Background())
	if len(speakers) != 1 {
		t.Fatalf("placeholder speaker should be skipped: %v", speakers)
	}
}

func TestNames(t *testing.T) {
	tests := []struct {
		in, normalized, short string
		placeholder           bool
	}{
		{in: "  Matt   Donnelly ", normalized: "Matt Donnelly", short: "Matt"},
		{in: "SPEAKER_07", normalized: "SPEAKER_07", short: "SPEAKER_07", placeholder: true},
		{in: "unknown", normalized: "unknown", short: "unknown", placeholder: true},
		{in: "Café Host", normalized: "Café Host", short: "Café"},
	}
	for _, tt := range tests {
		got := NormalizeName(tt.in)
		if got != tt.normalized {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.normalized)
		}
		if ShortName(got) != tt.short {
			t.Errorf("ShortName(%q) = %q", got, ShortName(got))
		}
		if IsPlaceholder(tt.in) != tt.placeholder {
			t.Errorf("IsPlaceholder(%q) = %v", tt.in, !tt.placeholder)
		}
	}
	if got := NameFromDir("paul_mattingly"); got != "Paul Mattingly" {
		t.Fatalf("NameFromDir = %q", got)
	}
}

func TestOpenSelectsConfiguredLedger(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LedgerDB = ""
	cfg.Paths.SamplesDir = ""
	if _, _, err := Open(&cfg); err == nil {
		t.Fatal("expected configuration error without a ledger")
	}

	cfg.Paths.SamplesDir = t.TempDir()
	l, closer, err := Open(&cfg)
	if err != nil {
		t.Fatalf("Open dir: %v", err)
	}
	defer closer.Close()
	if _, ok := l.(*Dir); !ok {
		t.Fatalf("expected directory ledger, got %T", l)
	}

	cfg.Paths.LedgerDB = seedAppDB(t)
	l, closer2, err := Open(&cfg)
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	defer closer2.Close()
	if _, ok := l.(*SQLite); !ok {
		t.Fatalf("expected sqlite ledger, got %T", l)
	}
}
