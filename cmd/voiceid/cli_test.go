package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	samplesDir string
	audioPath  string
	diarPath   string
}

const extractorScript = "#!/bin/sh\n# Test extractor: each clip file holds its own embedding.\ncat \"$1\"\n"

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("HF_TOKEN", "")
	t.Setenv("HUGGINGFACE_TOKEN", "")

	extractor := filepath.Join(base, "bin", "embed.sh")
	writeFile(t, extractor, extractorScript, 0o755)

	env := &cliTestEnv{
		baseDir:    base,
		configPath: filepath.Join(base, "voiceid.toml"),
		samplesDir: filepath.Join(base, "samples"),
		audioPath:  filepath.Join(base, "episodes", "ep100.wav"),
		diarPath:   filepath.Join(base, "episodes", "ep100_with_speakers.json"),
	}
	dayAgo := time.Now().Add(-24 * time.Hour)
	env.writeSample(t, "Matt_Smith", "one.wav", "[1, 0]", dayAgo)
	env.writeSample(t, "Matt_Smith", "two.wav", "[1, 0]", dayAgo)
	env.writeSample(t, "Jane_Doe", "one.wav", "[0, 1]", dayAgo)
	env.writeSample(t, "SPEAKER_03", "one.wav", "[1, 1]", dayAgo)

	writeFile(t, env.audioPath, "[1, 0]", 0o644)
	writeFile(t, env.diarPath, `{"segments": [
		{"speaker": "SPEAKER_00", "start": 0.0, "end": 4.0, "text": "welcome back"},
		{"speaker": "SPEAKER_00", "start": 9.0, "end": 12.5},
		{"speaker": "UNKNOWN", "start": 13.0, "end": 20.0}
	]}`, 0o644)

	config := fmt.Sprintf(`[paths]
store_dir = %q
log_dir = %q
queue_db = %q
samples_dir = %q

[identification]
active_backend = "stub"
threshold = 0.75
decay_days = 365
legacy_backend = "stub"
workers = 2
min_sample_seconds = 0

[store]
format = "json"

[[backends]]
id = "stub"
kind = "command"
dim = 2
command = %q

[[backends]]
id = "missing"
kind = "command"
dim = 3
command = %q

[logging]
format = "json"
level = "error"
`,
		filepath.Join(base, "voiceprints"),
		filepath.Join(base, "logs"),
		filepath.Join(base, "queue.db"),
		env.samplesDir,
		extractor,
		filepath.Join(base, "bin", "does-not-exist"),
	)
	writeFile(t, env.configPath, config, 0o644)
	return env
}

func (e *cliTestEnv) writeSample(t *testing.T, speakerDir, name, vector string, modTime time.Time) {
	t.Helper()
	path := filepath.Join(e.samplesDir, speakerDir, name)
	writeFile(t, path, vector, 0o644)
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func (e *cliTestEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("voiceid %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestBuildListAndIdentify(t *testing.T) {
	env := setupCLITestEnv(t)

	out := env.mustRun(t, "build")
	requireContains(t, out, "Built 2 of 2 voice prints for stub")

	out = env.mustRun(t, "list", "--json")
	var rows []printRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if len(rows) != 2 || rows[1].SpeakerID != "Matt Smith" || rows[1].SampleCount != 2 || rows[1].ShortName != "Matt" {
		t.Fatalf("unexpected list rows: %+v", rows)
	}
	if rows[1].State != "fresh" {
		t.Fatalf("state = %q", rows[1].State)
	}

	out = env.mustRun(t, "identify", env.diarPath, "--audio", env.audioPath, "--json")
	var result struct {
		BackendID string `json:"backend_id"`
		Labels    []struct {
			Label    string  `json:"label"`
			Assigned *string `json:"assigned"`
			Decision string  `json:"decision"`
		} `json:"labels"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode identify: %v\n%s", err, out)
	}
	if len(result.Labels) != 1 || result.Labels[0].Assigned == nil || *result.Labels[0].Assigned != "Matt Smith" {
		t.Fatalf("unexpected identify output: %s", out)
	}

	out = env.mustRun(t, "match", env.diarPath, "--audio", env.audioPath)
	requireContains(t, out, "Matt Smith")
	requireContains(t, out, "assign")
}

func TestIdentifyDecaysOldPrints(t *testing.T) {
	env := setupCLITestEnv(t)
	env.mustRun(t, "build")

	future := time.Now().AddDate(2, 0, 1).Format("2006-01-02")
	out := env.mustRun(t, "identify", env.diarPath, "--audio", env.audioPath, "--date", future)
	requireContains(t, out, "abstain")

	out = env.mustRun(t, "identify", env.diarPath, "--audio", env.audioPath, "--date", future, "--threshold", "0.5")
	requireContains(t, out, "assign")

	if _, err := env.run(t, "identify", env.diarPath, "--audio", env.audioPath, "--date", "yesterday"); err == nil {
		t.Fatal("expected invalid date error")
	}
}

func TestCompareMarksUnavailableBackend(t *testing.T) {
	env := setupCLITestEnv(t)
	env.mustRun(t, "build")

	out := env.mustRun(t, "compare", env.diarPath, "--audio", env.audioPath, "--backends", "stub,missing", "--json")
	var summaries map[string]map[string]struct {
		Assigned   *string `json:"assigned"`
		Confidence float64 `json:"confidence"`
		Status     string  `json:"status"`
	}
	if err := json.Unmarshal([]byte(out), &summaries); err != nil {
		t.Fatalf("decode compare: %v\n%s", err, out)
	}
	row := summaries["SPEAKER_00"]
	if row["stub"].Assigned == nil || *row["stub"].Assigned != "Matt Smith" || row["stub"].Confidence < 0.99 {
		t.Fatalf("stub cell = %+v", row["stub"])
	}
	// "missing" has an empty store, so it abstains without touching the extractor.
	if row["missing"].Assigned != nil || row["missing"].Status != "ok" {
		t.Fatalf("missing cell = %+v", row["missing"])
	}

	out = env.mustRun(t, "compare", env.diarPath, "--audio", env.audioPath)
	requireContains(t, out, "SPEAKER_00")
	requireContains(t, out, "Matt Smith (1.000)")
}

func TestStaleEnqueueAndWork(t *testing.T) {
	env := setupCLITestEnv(t)
	env.mustRun(t, "build")

	env.writeSample(t, "Matt_Smith", "three.wav", "[1, 0]", time.Now().Add(time.Hour))
	out := env.mustRun(t, "stale", "--enqueue")
	requireContains(t, out, "1 of 2 speakers need a rebuild")
	requireContains(t, out, "Enqueued 1 rebuild requests")

	out = env.mustRun(t, "queue", "list", "--status", "pending")
	requireContains(t, out, "Matt Smith")

	out = env.mustRun(t, "queue", "enqueue", "Matt Smith")
	requireContains(t, out, "already pending")

	out = env.mustRun(t, "queue", "work", "--once")
	requireContains(t, out, "Processed 1 rebuild requests")

	out = env.mustRun(t, "info", "Matt Smith", "--json")
	requireContains(t, out, `"sample_count": 3`)

	out = env.mustRun(t, "queue", "clear", "--status", "done")
	requireContains(t, out, "Removed 1 rebuild requests")

	if _, err := env.run(t, "queue", "list", "--status", "bogus"); err == nil {
		t.Fatal("expected unknown status error")
	}
}

func TestRemoveAndBackends(t *testing.T) {
	env := setupCLITestEnv(t)
	env.mustRun(t, "build", "Jane Doe")

	out := env.mustRun(t, "backends", "--json")
	var backends []struct {
		Backend string `json:"backend"`
		Ready   bool   `json:"ready"`
		Prints  int    `json:"prints"`
	}
	if err := json.Unmarshal([]byte(out), &backends); err != nil {
		t.Fatalf("decode backends: %v\n%s", err, out)
	}
	if len(backends) != 2 || !backends[0].Ready || backends[0].Prints != 1 || backends[1].Ready {
		t.Fatalf("unexpected backends: %+v", backends)
	}

	out = env.mustRun(t, "remove", "Jane Doe")
	requireContains(t, out, "Removed Jane Doe from stub")
	if _, err := env.run(t, "remove", "Jane Doe"); err == nil {
		t.Fatal("expected error removing an absent print")
	}
	out = env.mustRun(t, "list")
	requireContains(t, out, "No voice prints stored for stub")
}

func TestBuildUnknownBackend(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "build", "--backend", "nope"); err == nil || !strings.Contains(err.Error(), "unknown backend") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}

func TestMetricsFileWritten(t *testing.T) {
	env := setupCLITestEnv(t)
	metricsPath := filepath.Join(env.baseDir, "textfile", "voiceid.prom")
	env.mustRun(t, "--metrics-file", metricsPath, "build")
	data, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("read metrics file: %v", err)
	}
	requireContains(t, string(data), "voiceid_builds_total")
}

func TestConfigInitValidateShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out := env.mustRun(t, "config", "validate")
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "stub, missing")

	target := filepath.Join(t.TempDir(), "config.toml")
	out = env.mustRun(t, "config", "init", "--path", target)
	requireContains(t, out, "Wrote sample configuration")
	if _, err := env.run(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected refusal to overwrite")
	}

	t.Setenv("VOICEID_EMBED_API_KEY", "")
	out = env.mustRun(t, "config", "show")
	requireContains(t, out, "active_backend")
	requireContains(t, out, "[[backends]]")
}
