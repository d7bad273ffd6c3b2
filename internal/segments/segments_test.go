package segments

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voiceid/internal/services"
)

const diarization = `{"segments": [
  {"speaker": "SPEAKER_00", "start": 0.0, "end": 2.0, "text": "hi"},
  {"speaker": "SPEAKER_00", "start": 10.0, "end": 16.0},
  {"speaker": "SPEAKER_00", "start": 20.0, "end": 20.5},
  {"speaker": "SPEAKER_01", "start": 3.0, "end": 7.0},
  {"speaker": "UNKNOWN", "start": 30.0, "end": 60.0},
  {"speaker": "", "start": 61.0, "end": 70.0}
]}`

func TestReadAcceptsBothLayouts(t *testing.T) {
	segs, err := Read(strings.NewReader(diarization))
	if err != nil || len(segs) != 6 {
		t.Fatalf("Read = %d segments, %v", len(segs), err)
	}
	nested := `{"transcript": "...", "diarization": {"segments": [{"speaker": "SPEAKER_02", "start": 1, "end": 3}]}}`
	segs, err = Read(strings.NewReader(nested))
	if err != nil || len(segs) != 1 || segs[0].Speaker != "SPEAKER_02" {
		t.Fatalf("nested Read = %+v, %v", segs, err)
	}
	if _, err := Read(strings.NewReader("{")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.json")); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ep1_with_speakers.json")
	if err := os.WriteFile(path, []byte(diarization), 0o644); err != nil {
		t.Fatal(err)
	}
	segs, err := ReadFile(path)
	if err != nil || len(segs) != 6 {
		t.Fatalf("ReadFile = %d, %v", len(segs), err)
	}
}

func TestSelectKeepsLongestQualifyingSpans(t *testing.T) {
	segs, _ := Read(strings.NewReader(diarization))
	selected := DefaultSelection().Select(segs)

	labels := Labels(selected)
	if len(labels) != 2 || labels[0] != "SPEAKER_00" || labels[1] != "SPEAKER_01" {
		t.Fatalf("labels = %v", labels)
	}
	spans := selected["SPEAKER_00"]
	if len(spans) != 2 || spans[0].Start != 10 || spans[1].Start != 0 {
		t.Fatalf("SPEAKER_00 spans = %+v", spans)
	}
}

func TestSelectCapsPerLabel(t *testing.T) {
	var segs []Segment
	for i := 0; i < 8; i++ {
		segs = append(segs, Segment{Speaker: "SPEAKER_00", Start: float64(i * 10), End: float64(i*10 + 1 + i)})
	}
	spans := Selection{MaxPerLabel: 5, MinSeconds: 1}.Select(segs)["SPEAKER_00"]
	if len(spans) != 5 {
		t.Fatalf("expected 5 spans, got %d", len(spans))
	}
	if spans[0].Duration() != 8 || spans[4].Duration() != 4 {
		t.Fatalf("not longest first: %+v", spans)
	}
}
