package testsupport

import (
	"path/filepath"
	"testing"

	"voiceid/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Backends default to the shipped pyannote/ecapa-tdnn pair.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StoreDir = filepath.Join(base, "voiceprints")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.QueueDB = filepath.Join(base, "rebuild_queue.db")
	cfgVal.Paths.SamplesDir = filepath.Join(base, "samples")
	cfgVal.Backends = config.DefaultBackends()

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithStoreFormat selects the voice print repository.
func WithStoreFormat(format string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Store.Format = format
	}
}

// WithBackends replaces the configured backends.
func WithBackends(backends ...config.Backend) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backends = backends
	}
}

// WithThreshold overrides the assignment threshold.
func WithThreshold(threshold float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Identification.Threshold = threshold
	}
}

// WithLedgerDB points the ledger at an application database.
func WithLedgerDB(path string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.LedgerDB = path
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StoreDir)
}
