package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeIdentification()
	c.Store.Format = strings.ToLower(strings.TrimSpace(c.Store.Format))
	if c.Store.Format == "" {
		c.Store.Format = defaultStoreFormat
	}
	c.normalizeBackends()
	c.normalizeQueue()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"paths.store_dir", &c.Paths.StoreDir},
		{"paths.log_dir", &c.Paths.LogDir},
		{"paths.queue_db", &c.Paths.QueueDB},
		{"paths.ledger_db", &c.Paths.LedgerDB},
		{"paths.samples_dir", &c.Paths.SamplesDir},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeIdentification() {
	id := &c.Identification
	id.ActiveBackend = strings.TrimSpace(id.ActiveBackend)
	if id.ActiveBackend == "" {
		id.ActiveBackend = defaultActiveBackend
	}
	id.LegacyBackend = strings.TrimSpace(id.LegacyBackend)
	if id.LegacyBackend == "" {
		id.LegacyBackend = defaultLegacyBackend
	}
	if id.Workers <= 0 {
		id.Workers = defaultWorkers
	}
	if id.MaxSegmentsPerLabel <= 0 {
		id.MaxSegmentsPerLabel = defaultMaxSegmentsPerLabel
	}
}

func (c *Config) normalizeBackends() {
	if len(c.Backends) == 0 {
		c.Backends = DefaultBackends()
	}
	hfToken := lookupFirstEnv("HF_TOKEN", "HUGGINGFACE_TOKEN")
	apiKey := lookupFirstEnv("VOICEID_EMBED_API_KEY")
	for i := range c.Backends {
		b := &c.Backends[i]
		b.ID = strings.TrimSpace(b.ID)
		b.Kind = strings.ToLower(strings.TrimSpace(b.Kind))
		if b.Kind == "" {
			b.Kind = BackendKindCommand
		}
		b.Command = strings.TrimSpace(b.Command)
		if b.Kind == BackendKindCommand && b.Command == "" {
			b.Command = defaultEmbedCommand
		}
		b.URL = strings.TrimSpace(b.URL)
		if b.HFToken == "" {
			b.HFToken = hfToken
		}
		if b.APIKey == "" {
			b.APIKey = apiKey
		}
		if b.TimeoutSeconds <= 0 {
			b.TimeoutSeconds = defaultBackendTimeout
		}
		if b.MaxConcurrent <= 0 {
			b.MaxConcurrent = defaultBackendConcurrency
		}
		if b.RetryAttempts <= 0 {
			b.RetryAttempts = defaultBackendRetries
		}
	}
}

func (c *Config) normalizeQueue() {
	if c.Queue.PollIntervalSeconds <= 0 {
		c.Queue.PollIntervalSeconds = defaultQueuePollInterval
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = defaultQueueMaxAttempts
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if len(c.Logging.ComponentLevels) > 0 {
		normalized := make(map[string]string, len(c.Logging.ComponentLevels))
		for component, level := range c.Logging.ComponentLevels {
			normalized[strings.TrimSpace(component)] = strings.ToLower(strings.TrimSpace(level))
		}
		c.Logging.ComponentLevels = normalized
	}
}

func lookupFirstEnv(keys ...string) string {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
