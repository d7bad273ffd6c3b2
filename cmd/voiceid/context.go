package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"voiceid/internal/config"
	"voiceid/internal/embedding"
	"voiceid/internal/ledger"
	"voiceid/internal/logging"
	"voiceid/internal/services"
	"voiceid/internal/voiceprint"
)

// commandContext resolves configuration once and opens shared resources on
// first use. close releases whatever was opened.
type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error

	registry *embedding.Registry
	store    *voiceprint.Store
	ledger   ledger.Ledger
	closers  []io.Closer
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) ensureRegistry() (*embedding.Registry, error) {
	if c.registry != nil {
		return c.registry, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	registry, err := embedding.FromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	c.registry = registry
	return registry, nil
}

func (c *commandContext) ensureStore() (*voiceprint.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	registry, err := c.ensureRegistry()
	if err != nil {
		return nil, err
	}
	store, err := voiceprint.Open(c.config, registry, c.logger)
	if err != nil {
		return nil, err
	}
	c.store = store
	c.closers = append(c.closers, closerFunc(store.Close))
	return store, nil
}

func (c *commandContext) ensureLedger() (ledger.Ledger, error) {
	if c.ledger != nil {
		return c.ledger, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	led, closer, err := ledger.Open(cfg)
	if err != nil {
		return nil, err
	}
	c.ledger = led
	c.closers = append(c.closers, closer)
	return led, nil
}

// optionalLedger returns nil when no ledger is configured; other failures
// are still errors.
func (c *commandContext) optionalLedger() (ledger.Ledger, error) {
	led, err := c.ensureLedger()
	if errors.Is(err, services.ErrConfiguration) {
		return nil, nil
	}
	return led, err
}

func (c *commandContext) backendOrDefault(flag string) string {
	if id := strings.TrimSpace(flag); id != "" {
		return id
	}
	return c.config.Identification.ActiveBackend
}

func (c *commandContext) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i].Close()
	}
	c.closers = nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func requireKnownBackend(cfg *config.Config, id string) error {
	if _, ok := cfg.Backend(id); !ok {
		return fmt.Errorf("unknown backend %q (configured: %s)", id, strings.Join(cfg.BackendIDs(), ", "))
	}
	return nil
}
