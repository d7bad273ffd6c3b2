package logging_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voiceid/internal/config"
	"voiceid/internal/logging"
	"voiceid/internal/services"
	"voiceid/internal/vecmath"
)

func newFileLogger(t *testing.T) (string, func() string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "voiceid.log")
	read := func() string {
		t.Helper()
		content, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatalf("read log file: %v", err)
		}
		return string(content)
	}
	return logPath, read
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("built voice print")

	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "voiceid.log")); err != nil {
		t.Fatalf("expected log file: %v", err)
	}
}

func TestConsoleLoggerPrefixesComponentAndSubject(t *testing.T) {
	logPath, read := newFileLogger(t)
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	component := logging.NewComponentLogger(logger, "voiceprint")
	component.Info("rebuilt", logging.Speaker("Matt"), logging.Backend("pyannote"), logging.Int("samples", 3))

	content := read()
	if !strings.Contains(content, "INFO voiceprint [Matt@pyannote]: rebuilt") {
		t.Fatalf("unexpected console line: %q", content)
	}
	if !strings.Contains(content, "samples=3") {
		t.Fatalf("expected attribute in output: %q", content)
	}
	if strings.Contains(content, ".go:") {
		t.Fatalf("expected no caller information at info level: %q", content)
	}
}

func TestConsoleLoggerFormatsEmbeddingValues(t *testing.T) {
	logPath, read := newFileLogger(t)
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("label embedded",
		logging.Label("SPEAKER_00"),
		slog.Any("vector", make(vecmath.Vector, 512)),
		logging.Float64("confidence", 0.68394),
		logging.Duration("elapsed", 1234567*time.Microsecond),
		logging.String("clip", "ep 7.wav"),
	)

	content := read()
	for _, want := range []string{"vector=<512-dim>", "confidence=0.6839", "elapsed=1.235s", `clip="ep 7.wav"`} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected %s in %q", want, content)
		}
	}
}

func TestJSONLoggerIncludesContextFields(t *testing.T) {
	logPath, read := newFileLogger(t)
	logger, err := logging.New(logging.Options{Format: "json", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithRequestID(services.WithLabel(context.Background(), "SPEAKER_02"), "req-9")
	logging.WithContext(ctx, logger).Debug("matched")

	content := read()
	for _, fragment := range []string{`"label":"SPEAKER_02"`, `"correlation_id":"req-9"`, `"ts":`, `"level":"debug"`} {
		if !strings.Contains(content, fragment) {
			t.Fatalf("expected %s in %q", fragment, content)
		}
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath, read := newFileLogger(t)
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.WarnWithContext(logger, "legacy store", "legacy_store_migrated",
		logging.String(logging.FieldImpact, "entries tagged as pyannote"))

	content := read()
	for _, fragment := range []string{"event_type=legacy_store_migrated", "error_hint=", `impact="entries tagged as pyannote"`} {
		if !strings.Contains(content, fragment) {
			t.Fatalf("expected %s in %q", fragment, content)
		}
	}
}

func TestComponentLoggerOverrideRaisesLevel(t *testing.T) {
	logPath, read := newFileLogger(t)
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	quiet := logging.ComponentLogger(logger, "embedding", map[string]string{"embedding": "warn"})
	quiet.Info("suppressed line")
	quiet.Warn("kept line")

	content := read()
	if strings.Contains(content, "suppressed line") {
		t.Fatalf("expected info to be dropped: %q", content)
	}
	if !strings.Contains(content, "kept line") {
		t.Fatalf("expected warn to be written: %q", content)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), 8) {
		t.Fatal("expected nop logger to be disabled")
	}
}
