package rebuildqueue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"voiceid/internal/drift"
	"voiceid/internal/ledger"
	"voiceid/internal/logging"
	"voiceid/internal/services"
	"voiceid/internal/testsupport"
	"voiceid/internal/voiceprint"
)

type fakeBuilder struct {
	mu    sync.Mutex
	built map[string]int
	errs  map[string]error
}

func (b *fakeBuilder) Build(ctx context.Context, speakerID, backendID string, samples []ledger.SampleRecord) (voiceprint.VoicePrint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.errs[speakerID]; err != nil {
		return voiceprint.VoicePrint{}, err
	}
	if b.built == nil {
		b.built = map[string]int{}
	}
	b.built[speakerID] = len(samples)
	return voiceprint.VoicePrint{SpeakerID: speakerID, BackendID: backendID, SampleCount: len(samples)}, nil
}

func sampleLedger() *ledger.Memory {
	day := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	return ledger.NewMemory(ledger.Filter{},
		ledger.SampleRecord{ID: "1", SpeakerName: "Matt", ClipPath: "/s/m1.wav", RecordedDate: day},
		ledger.SampleRecord{ID: "2", SpeakerName: "Matt", ClipPath: "/s/m2.wav", RecordedDate: day.AddDate(0, 0, 7)},
		ledger.SampleRecord{ID: "3", SpeakerName: "Jane", ClipPath: "/s/j1.wav", RecordedDate: day},
	)
}

func TestWorkerRunOnceRebuildsAndRecordsFailures(t *testing.T) {
	queue := openTestStore(t)
	ctx := context.Background()
	queue.Enqueue(ctx, "Matt", "pyannote", ReasonSampleAdded)
	queue.Enqueue(ctx, "Jane", "pyannote", ReasonSampleAdded)

	builder := &fakeBuilder{errs: map[string]error{
		"Jane": services.Wrap(services.ErrDimensionMismatch, "test", "build", "wrong dim", nil),
	}}
	worker := NewWorker(queue, builder, sampleLedger(), WorkerOptions{
		LockPath:    filepath.Join(t.TempDir(), "worker.lock"),
		MaxAttempts: 3,
		Logger:      logging.NewNop(),
	})
	processed, err := worker.RunOnce(ctx)
	if err != nil || processed != 2 {
		t.Fatalf("RunOnce = %d, %v", processed, err)
	}
	if builder.built["Matt"] != 2 {
		t.Fatalf("Matt built from %d samples", builder.built["Matt"])
	}
	failed, _ := queue.List(ctx, StatusFailed)
	if len(failed) != 1 || failed[0].SpeakerID != "Jane" {
		t.Fatalf("failed = %+v", failed)
	}
}

func TestWorkerLockIsExclusive(t *testing.T) {
	queue := openTestStore(t)
	lockPath := filepath.Join(t.TempDir(), "worker.lock")
	opts := WorkerOptions{LockPath: lockPath, Logger: logging.NewNop()}
	first := NewWorker(queue, &fakeBuilder{}, sampleLedger(), opts)
	unlock, err := first.lock()
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	second := NewWorker(queue, &fakeBuilder{}, sampleLedger(), opts)
	if _, err := second.RunOnce(context.Background()); !errors.Is(err, ErrWorkerBusy) {
		t.Fatalf("expected ErrWorkerBusy, got %v", err)
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	queue := openTestStore(t)
	queue.Enqueue(context.Background(), "Matt", "pyannote", "")
	builder := &fakeBuilder{}
	worker := NewWorker(queue, builder, sampleLedger(), WorkerOptions{PollInterval: 10 * time.Millisecond, Logger: logging.NewNop()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		if pending, _ := queue.List(context.Background(), StatusDone); len(pending) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("request never processed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestWorkerDrivesRealStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	backend := testsupport.NewStubBackend("pyannote", 2)
	backend.Set("/s/m1.wav", 1, 0).Set("/s/m2.wav", 1, 0).Set("/s/j1.wav", 0, 1)
	store := voiceprint.NewStore(voiceprint.NewJSONRepository(cfg.Paths.StoreDir, "pyannote", logging.NewNop()),
		testsupport.NewBackends(backend), voiceprint.Options{Logger: logging.NewNop()})

	queue := openTestStore(t)
	ctx := context.Background()
	led := sampleLedger()
	samples, _ := led.All(ctx)
	snapshot, _ := store.Load(ctx, "pyannote")
	created, err := EnqueueDrifted(ctx, queue, "pyannote", drift.StaleSpeakers(samples, snapshot))
	if err != nil || created != 2 {
		t.Fatalf("EnqueueDrifted = %d, %v", created, err)
	}
	pending, _ := queue.List(ctx, StatusPending)
	if pending[0].Reason != ReasonNoPrint {
		t.Fatalf("reason = %q", pending[0].Reason)
	}

	worker := NewWorker(queue, store, led, WorkerOptions{Logger: logging.NewNop()})
	if _, err := worker.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	snapshot, err = store.Load(ctx, "pyannote")
	if err != nil || snapshot.Len() != 2 {
		t.Fatalf("snapshot = %d prints, %v", snapshot.Len(), err)
	}
	if stale := drift.Set(drift.StaleSpeakers(samples, snapshot)); len(stale) != 0 {
		t.Fatalf("still stale after rebuild: %v", stale)
	}
}
