package rebuildqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"voiceid/internal/drift"
	"voiceid/internal/ledger"
	"voiceid/internal/logging"
	"voiceid/internal/services"
	"voiceid/internal/voiceprint"
)

// ErrWorkerBusy reports that another worker holds the queue lock.
var ErrWorkerBusy = errors.New("rebuild worker already running")

// Builder is the synchronous voice print build the worker drives.
type Builder interface {
	Build(ctx context.Context, speakerID, backendID string, samples []ledger.SampleRecord) (voiceprint.VoicePrint, error)
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	// LockPath is the worker lock file. Empty disables cross-process locking.
	LockPath     string
	PollInterval time.Duration
	MaxAttempts  int
	Logger       *slog.Logger
}

// Worker drains the rebuild queue.
type Worker struct {
	queue   *Store
	builder Builder
	ledger  ledger.Ledger
	opts    WorkerOptions
	logger  *slog.Logger
}

// NewWorker returns a worker rebuilding from led through builder.
func NewWorker(queue *Store, builder Builder, led ledger.Ledger, opts WorkerOptions) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &Worker{
		queue:   queue,
		builder: builder,
		ledger:  led,
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "rebuild-worker"),
	}
}

// Run holds the worker lock and drains the queue until ctx is cancelled,
// polling when it is empty. Cancellation is a clean stop and returns nil.
func (w *Worker) Run(ctx context.Context) error {
	unlock, err := w.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if n, err := w.queue.ResetRunning(ctx); err != nil {
		return err
	} else if n > 0 {
		w.logger.Info("requeued interrupted rebuilds", logging.Int64("count", n))
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.drain(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			w.logger.Info("rebuild worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce holds the worker lock, drains every pending request and returns
// how many were processed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	unlock, err := w.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()
	if _, err := w.queue.ResetRunning(ctx); err != nil {
		return 0, err
	}
	return w.drain(ctx)
}

func (w *Worker) drain(ctx context.Context) (int, error) {
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		req, err := w.queue.NextPending(ctx)
		if err != nil {
			return processed, err
		}
		if req == nil {
			return processed, nil
		}
		if err := w.process(ctx, req); err != nil {
			return processed, err
		}
		processed++
	}
}

// process rebuilds one request. Only queue bookkeeping failures are returned;
// build failures are recorded on the request.
func (w *Worker) process(ctx context.Context, req *Request) error {
	logger := w.logger.With(logging.Speaker(req.SpeakerID), logging.Backend(req.BackendID), logging.Int64("request_id", req.ID))
	ctx = services.WithBackend(services.WithSpeaker(ctx, req.SpeakerID), req.BackendID)

	start := time.Now()
	samples, err := w.ledger.Samples(ctx, req.SpeakerID)
	if err == nil {
		_, err = w.builder.Build(ctx, req.SpeakerID, req.BackendID, samples)
	}
	if err == nil {
		logger.Info("voice print rebuilt",
			logging.String(logging.FieldEventType, "rebuild_done"),
			logging.Int("samples", len(samples)),
			logging.Duration("elapsed", time.Since(start)),
		)
		return w.queue.MarkDone(ctx, req.ID)
	}
	if ctx.Err() != nil {
		// Left running; ResetRunning picks it up on the next start.
		return ctx.Err()
	}

	status, markErr := w.queue.MarkFailed(ctx, req.ID, err, services.Retryable(err), w.opts.MaxAttempts)
	if markErr != nil {
		return markErr
	}
	logging.WarnWithContext(logger, "voice print rebuild failed", "rebuild_failed",
		logging.Error(err),
		logging.String("error_kind", services.Kind(err)),
		logging.Int("attempt", req.Attempts),
		logging.String("requeued_as", string(status)),
		logging.String(logging.FieldErrorHint, rebuildHint(err)),
		logging.String(logging.FieldImpact, "speaker keeps the previous voice print"),
	)
	return nil
}

func rebuildHint(err error) string {
	switch {
	case errors.Is(err, services.ErrInsufficientSamples):
		return "add samples for the speaker or remove the request"
	case errors.Is(err, services.ErrDimensionMismatch):
		return "the backend's configured dim disagrees with its output or the stored prints"
	case errors.Is(err, services.ErrCorruptStore):
		return "restore or delete the backend's voice print store"
	default:
		return "check the embedding backend and retry"
	}
}

func (w *Worker) lock() (func(), error) {
	if w.opts.LockPath == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(w.opts.LockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fileLock := flock.New(w.opts.LockPath)
	ok, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire worker lock: %w", err)
	}
	if !ok {
		return nil, ErrWorkerBusy
	}
	return func() { _ = fileLock.Unlock() }, nil
}

// EnqueueDrifted enqueues every speaker whose state needs a rebuild and
// returns how many new requests were created.
func EnqueueDrifted(ctx context.Context, queue *Store, backendID string, states map[string]drift.State) (int, error) {
	created := 0
	for _, speakerID := range drift.Set(states) {
		reason := ReasonStale
		if states[speakerID] == drift.StateNoPrint {
			reason = ReasonNoPrint
		}
		_, isNew, err := queue.Enqueue(ctx, speakerID, backendID, reason)
		if err != nil {
			return created, err
		}
		if isNew {
			created++
		}
	}
	return created, nil
}
