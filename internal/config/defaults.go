package config

const (
	defaultConfigPath          = "~/.config/voiceid/config.toml"
	defaultStoreDir            = "~/.local/share/voiceid/voiceprints"
	defaultLogDir              = "~/.local/share/voiceid/logs"
	defaultQueueDB             = "~/.local/share/voiceid/rebuild_queue.db"
	defaultActiveBackend       = "pyannote"
	defaultLegacyBackend       = "pyannote"
	defaultThreshold           = 0.75
	defaultDecayDays           = 365.0
	defaultWorkers             = 4
	defaultMinSampleSeconds    = 4.0
	defaultMaxSegmentsPerLabel = 5
	defaultMinSegmentSeconds   = 1.0
	defaultStoreFormat         = "json"
	defaultBackendTimeout      = 120
	defaultBackendConcurrency  = 1
	defaultBackendRetries      = 3
	defaultEmbedCommand        = "voiceid-embed"
	defaultQueuePollInterval   = 30
	defaultQueueMaxAttempts    = 3
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogMaxSizeMB        = 50
	defaultLogMaxBackups       = 5
	defaultLogMaxAgeDays       = 60

	// BackendKindCommand runs an external embedding extractor per clip.
	BackendKindCommand = "command"
	// BackendKindHTTP posts clips to an embedding service.
	BackendKindHTTP = "http"
)

// Default returns a Config populated with repository defaults. Backends are
// filled in by normalize when the file declares none.
func Default() Config {
	return Config{
		Paths: Paths{
			StoreDir: defaultStoreDir,
			LogDir:   defaultLogDir,
			QueueDB:  defaultQueueDB,
		},
		Identification: Identification{
			ActiveBackend:       defaultActiveBackend,
			Threshold:           defaultThreshold,
			DecayDays:           defaultDecayDays,
			LegacyBackend:       defaultLegacyBackend,
			Workers:             defaultWorkers,
			MinSampleSeconds:    defaultMinSampleSeconds,
			MaxSegmentsPerLabel: defaultMaxSegmentsPerLabel,
			MinSegmentSeconds:   defaultMinSegmentSeconds,
		},
		Store: Store{Format: defaultStoreFormat},
		Queue: Queue{
			PollIntervalSeconds: defaultQueuePollInterval,
			MaxAttempts:         defaultQueueMaxAttempts,
		},
		Logging: Logging{
			Format:     defaultLogFormat,
			Level:      defaultLogLevel,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
		},
	}
}

// DefaultBackends returns the two extractors the library has shipped with:
// pyannote (512-dim, the legacy store) and ECAPA-TDNN (192-dim).
func DefaultBackends() []Backend {
	return []Backend{
		{
			ID:      "pyannote",
			Kind:    BackendKindCommand,
			Dim:     512,
			Command: defaultEmbedCommand,
			Args:    []string{"--model", "pyannote/embedding"},
		},
		{
			ID:      "ecapa-tdnn",
			Kind:    BackendKindCommand,
			Dim:     192,
			Command: defaultEmbedCommand,
			Args:    []string{"--model", "speechbrain/spkrec-ecapa-voxceleb"},
		},
	}
}
