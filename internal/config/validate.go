package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateIdentification(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateBackends(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StoreDir == "" {
		return errors.New("paths.store_dir must be set")
	}
	return nil
}

func (c *Config) validateIdentification() error {
	id := c.Identification
	if id.Threshold < 0 || id.Threshold > 1 {
		return errors.New("identification.threshold must be between 0 and 1")
	}
	if id.DecayDays <= 0 {
		return errors.New("identification.decay_days must be positive")
	}
	if id.MinSampleSeconds < 0 {
		return errors.New("identification.min_sample_seconds must be >= 0")
	}
	if id.MinSegmentSeconds < 0 {
		return errors.New("identification.min_segment_seconds must be >= 0")
	}
	if _, ok := c.Backend(id.ActiveBackend); !ok {
		return fmt.Errorf("identification.active_backend %q is not a configured backend", id.ActiveBackend)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Format {
	case "json", "sqlite", "badger":
		return nil
	default:
		return fmt.Errorf("store.format: unsupported value %q (want json, sqlite, or badger)", c.Store.Format)
	}
}

func (c *Config) validateBackends() error {
	seen := make(map[string]struct{}, len(c.Backends))
	for i, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("backends[%d].id must be set", i)
		}
		if _, dup := seen[b.ID]; dup {
			return fmt.Errorf("backends: duplicate id %q", b.ID)
		}
		seen[b.ID] = struct{}{}
		if b.Dim <= 0 {
			return fmt.Errorf("backends.%s.dim must be positive", b.ID)
		}
		switch b.Kind {
		case BackendKindCommand:
		case BackendKindHTTP:
			if b.URL == "" {
				return fmt.Errorf("backends.%s.url must be set for http backends", b.ID)
			}
		default:
			return fmt.Errorf("backends.%s.kind: unsupported value %q", b.ID, b.Kind)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
