package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and database locations.
type Paths struct {
	StoreDir   string `toml:"store_dir"`
	LogDir     string `toml:"log_dir"`
	QueueDB    string `toml:"queue_db"`
	LedgerDB   string `toml:"ledger_db"`
	SamplesDir string `toml:"samples_dir"`
}

// Identification contains the matching and assignment knobs.
type Identification struct {
	ActiveBackend string  `toml:"active_backend"`
	Threshold     float64 `toml:"threshold"`
	DecayDays     float64 `toml:"decay_days"`
	// LegacyBackend tags persisted stores written before backend tagging existed.
	LegacyBackend       string  `toml:"legacy_backend"`
	Workers             int     `toml:"workers"`
	MinSampleSeconds    float64 `toml:"min_sample_seconds"`
	MaxSegmentsPerLabel int     `toml:"max_segments_per_label"`
	MinSegmentSeconds   float64 `toml:"min_segment_seconds"`
}

// Store selects the voice print persistence format.
type Store struct {
	Format string `toml:"format"` // json, sqlite, or badger
}

// Backend describes one embedding extractor.
type Backend struct {
	ID             string   `toml:"id"`
	Kind           string   `toml:"kind"` // command or http
	Dim            int      `toml:"dim"`
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	URL            string   `toml:"url"`
	APIKey         string   `toml:"api_key"`
	HFToken        string   `toml:"hf_token"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	MaxConcurrent  int      `toml:"max_concurrent"`
	RetryAttempts  int      `toml:"retry_attempts"`
}

// Queue contains rebuild queue worker settings.
type Queue struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	MaxAttempts         int `toml:"max_attempts"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format          string            `toml:"format"`
	Level           string            `toml:"level"`
	MaxSizeMB       int               `toml:"max_size_mb"`
	MaxBackups      int               `toml:"max_backups"`
	MaxAgeDays      int               `toml:"max_age_days"`
	Compress        bool              `toml:"compress"`
	ComponentLevels map[string]string `toml:"component_levels"`
}

// Config encapsulates all configuration values for voiceid.
//
// Configuration sections:
//   - Paths: voice print store, logs, rebuild queue and sample ledger locations
//   - Identification: active backend, threshold, decay and segment selection
//   - Store: persistence format for voice prints
//   - Backends: embedding extractors, one per backend id
//   - Queue: rebuild worker polling and retry limits
//   - Logging: log format, level and rotation
type Config struct {
	Paths          Paths          `toml:"paths"`
	Identification Identification `toml:"identification"`
	Store          Store          `toml:"store"`
	Backends       []Backend      `toml:"backends"`
	Queue          Queue          `toml:"queue"`
	Logging        Logging        `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("voiceid.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the store and log directories plus the parent of
// the rebuild queue database.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StoreDir, c.Paths.LogDir}
	if c.Paths.QueueDB != "" {
		dirs = append(dirs, filepath.Dir(c.Paths.QueueDB))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// Backend returns the backend configured under id.
func (c *Config) Backend(id string) (Backend, bool) {
	id = strings.TrimSpace(id)
	for _, backend := range c.Backends {
		if backend.ID == id {
			return backend, true
		}
	}
	return Backend{}, false
}

// BackendIDs lists configured backend ids in declaration order.
func (c *Config) BackendIDs() []string {
	ids := make([]string, 0, len(c.Backends))
	for _, backend := range c.Backends {
		ids = append(ids, backend.ID)
	}
	return ids
}

// LockDir holds the per-backend store lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.StoreDir, ".locks")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
