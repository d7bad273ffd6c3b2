package voiceprint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"voiceid/internal/services"
)

const lockRetryDelay = 50 * time.Millisecond

// backendLocks serializes writers per backend: a mutex for goroutines in this
// process and a lock file for other processes sharing the store.
type backendLocks struct {
	dir string

	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

func newBackendLocks(dir string) *backendLocks {
	return &backendLocks{dir: dir, mutexes: make(map[string]*sync.Mutex)}
}

func (l *backendLocks) mutex(backendID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	mu, ok := l.mutexes[backendID]
	if !ok {
		mu = &sync.Mutex{}
		l.mutexes[backendID] = mu
	}
	return mu
}

// acquire blocks until backendID is exclusively held or ctx ends. The
// returned func releases both locks.
func (l *backendLocks) acquire(ctx context.Context, backendID string) (func(), error) {
	mu := l.mutex(backendID)
	mu.Lock()
	if l.dir == "" {
		return mu.Unlock, nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fileLock := flock.New(filepath.Join(l.dir, backendID+".lock"))
	ok, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !ok {
		mu.Unlock()
		if err == nil {
			err = ctx.Err()
		}
		return nil, services.Wrap(services.ErrTimeout, "voiceprint", backendID, "acquire store lock", err)
	}
	return func() {
		_ = fileLock.Unlock()
		mu.Unlock()
	}, nil
}
