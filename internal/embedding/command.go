package embedding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"voiceid/internal/services"
	"voiceid/internal/vecmath"
)

// CommandRunner executes an extractor and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args []string, env []string) ([]byte, error)

// CommandConfig describes an external extractor invocation.
type CommandConfig struct {
	ID      string
	Dim     int
	Command string
	Args    []string
	HFToken string
	Timeout time.Duration
}

// CommandBackend runs `command args... <clip> [--start s --end e]` and reads a
// JSON vector from stdout.
type CommandBackend struct {
	cfg    CommandConfig
	runner CommandRunner
	lookup func(string) (string, error)
}

// NewCommandBackend constructs a command backend.
func NewCommandBackend(cfg CommandConfig) *CommandBackend {
	cfg.ID = strings.TrimSpace(cfg.ID)
	cfg.Command = strings.TrimSpace(cfg.Command)
	return &CommandBackend{cfg: cfg, runner: runCommand, lookup: exec.LookPath}
}

// SetCommandRunner overrides command execution (used in tests).
func (b *CommandBackend) SetCommandRunner(runner CommandRunner) {
	if runner == nil {
		b.runner = runCommand
		b.lookup = exec.LookPath
		return
	}
	b.runner = runner
	b.lookup = func(name string) (string, error) { return name, nil }
}

func (b *CommandBackend) ID() string { return b.cfg.ID }

func (b *CommandBackend) Dimension() int { return b.cfg.Dim }

// Prepare verifies the extractor is installed.
func (b *CommandBackend) Prepare(context.Context) error {
	if b.cfg.Command == "" {
		return services.Wrap(services.ErrBackendUnavailable, "embedding", b.cfg.ID, "no extractor command configured", nil)
	}
	if _, err := b.lookup(b.cfg.Command); err != nil {
		return services.Wrap(services.ErrBackendUnavailable, "embedding", b.cfg.ID,
			fmt.Sprintf("extractor %q not found on PATH", b.cfg.Command), err)
	}
	return nil
}

// Embed runs the extractor for one clip.
func (b *CommandBackend) Embed(ctx context.Context, clip Clip) (vecmath.Vector, error) {
	if strings.TrimSpace(clip.Path) == "" {
		return nil, services.Wrap(services.ErrValidation, "embedding", b.cfg.ID, "clip path is empty", nil)
	}
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	args := append([]string(nil), b.cfg.Args...)
	args = append(args, clip.Path)
	if clip.End > 0 {
		args = append(args,
			"--start", strconv.FormatFloat(clip.Start, 'f', 3, 64),
			"--end", strconv.FormatFloat(clip.End, 'f', 3, 64),
		)
	}
	var env []string
	if b.cfg.HFToken != "" {
		env = append(env, "HF_TOKEN="+b.cfg.HFToken)
	}

	output, err := b.runner(ctx, b.cfg.Command, args, env)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTimeout, "embedding", b.cfg.ID, clip.Key(), err)
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, services.Wrap(services.ErrBackendUnavailable, "embedding", b.cfg.ID, "start extractor", err)
		}
		return nil, services.Wrap(services.ErrExternalTool, "embedding", b.cfg.ID, clip.Key(), err)
	}

	vec, err := decodeVector(output)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "embedding", b.cfg.ID, clip.Key(), err)
	}
	if err := checkVector(b.cfg.ID, b.cfg.Dim, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func runCommand(ctx context.Context, name string, args []string, env []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", name, ctxErr)
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return output, nil
}
