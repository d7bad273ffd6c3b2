package embedding

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"voiceid/internal/services"
)

func TestCommandBackendPassesClipSpanAndToken(t *testing.T) {
	backend := NewCommandBackend(CommandConfig{
		ID:      "pyannote",
		Dim:     3,
		Command: "voiceid-embed",
		Args:    []string{"--model", "pyannote/embedding"},
		HFToken: "hf_secret",
	})
	var gotArgs, gotEnv []string
	backend.SetCommandRunner(func(_ context.Context, name string, args, env []string) ([]byte, error) {
		if name != "voiceid-embed" {
			t.Fatalf("unexpected command %q", name)
		}
		gotArgs = args
		gotEnv = env
		return []byte("loading model\n[0.1, 0.2, 0.3]\n"), nil
	})

	vec, err := backend.Embed(context.Background(), Clip{Path: "/clips/ep1.wav", Start: 1.5, End: 4})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Fatalf("unexpected vector %v", vec)
	}
	joined := strings.Join(gotArgs, " ")
	want := "--model pyannote/embedding /clips/ep1.wav --start 1.500 --end 4.000"
	if joined != want {
		t.Fatalf("args = %q, want %q", joined, want)
	}
	if len(gotEnv) != 1 || gotEnv[0] != "HF_TOKEN=hf_secret" {
		t.Fatalf("env = %v", gotEnv)
	}
}

func TestCommandBackendWholeFileOmitsSpan(t *testing.T) {
	backend := NewCommandBackend(CommandConfig{ID: "ecapa-tdnn", Dim: 2, Command: "embed"})
	backend.SetCommandRunner(func(_ context.Context, _ string, args, env []string) ([]byte, error) {
		if len(args) != 1 || args[0] != "/clips/a.wav" {
			t.Fatalf("args = %v", args)
		}
		if len(env) != 0 {
			t.Fatalf("env = %v", env)
		}
		return []byte(`{"embedding":[1,0]}`), nil
	})
	if _, err := backend.Embed(context.Background(), Clip{Path: "/clips/a.wav"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
}

func TestCommandBackendDimensionMismatch(t *testing.T) {
	backend := NewCommandBackend(CommandConfig{ID: "pyannote", Dim: 512, Command: "embed"})
	backend.SetCommandRunner(func(context.Context, string, []string, []string) ([]byte, error) {
		return []byte("[1,2,3]"), nil
	})
	_, err := backend.Embed(context.Background(), Clip{Path: "a.wav"})
	if !errors.Is(err, services.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestCommandBackendErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		output string
		want   error
	}{
		{name: "missing binary", err: &exec.Error{Name: "embed", Err: exec.ErrNotFound}, want: services.ErrBackendUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, want: services.ErrTimeout},
		{name: "exit status", err: errors.New("exit status 1: CUDA error"), want: services.ErrExternalTool},
		{name: "extractor reported error", output: `{"error":"unreadable audio"}`, want: services.ErrExternalTool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := NewCommandBackend(CommandConfig{ID: "pyannote", Dim: 2, Command: "embed"})
			backend.SetCommandRunner(func(context.Context, string, []string, []string) ([]byte, error) {
				return []byte(tt.output), tt.err
			})
			_, err := backend.Embed(context.Background(), Clip{Path: "a.wav"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCommandBackendPrepare(t *testing.T) {
	backend := NewCommandBackend(CommandConfig{ID: "pyannote", Dim: 2})
	if err := backend.Prepare(context.Background()); !errors.Is(err, services.ErrBackendUnavailable) {
		t.Fatalf("expected unavailable without command, got %v", err)
	}

	backend = NewCommandBackend(CommandConfig{ID: "pyannote", Dim: 2, Command: "voiceid-embed-does-not-exist-xyz"})
	if err := backend.Prepare(context.Background()); !errors.Is(err, services.ErrBackendUnavailable) {
		t.Fatalf("expected unavailable for missing binary, got %v", err)
	}
}

func TestCommandBackendRejectsEmptyPath(t *testing.T) {
	backend := NewCommandBackend(CommandConfig{ID: "pyannote", Dim: 2, Command: "embed"})
	backend.SetCommandRunner(func(context.Context, string, []string, []string) ([]byte, error) {
		t.Fatal("runner should not be called")
		return nil, nil
	})
	if _, err := backend.Embed(context.Background(), Clip{Path: "  "}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
