package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WriteClip creates a placeholder audio file at path with the given
// modification time. The content is never decoded; stub backends key on the
// path.
func WriteClip(t testing.TB, path string, modTime time.Time) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte("RIFF\x00\x00\x00\x00WAVE"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if !modTime.IsZero() {
		if err := os.Chtimes(path, modTime, modTime); err != nil {
			t.Fatalf("chtimes %s: %v", path, err)
		}
	}
}
