// Package segments reads diarization output and picks, per speaker label,
// the spans worth embedding.
package segments

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"voiceid/internal/services"
)

// Segment is one diarized span.
type Segment struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text,omitempty"`
}

// Duration returns the span length in seconds.
func (s Segment) Duration() float64 {
	if s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

type document struct {
	Segments    []Segment `json:"segments"`
	Diarization *struct {
		Segments []Segment `json:"segments"`
	} `json:"diarization"`
}

// Read decodes a diarization document. Both a top-level "segments" array and
// a transcript carrying "diarization": {"segments": [...]} are accepted.
func Read(r io.Reader) ([]Segment, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, services.Wrap(services.ErrValidation, "segments", "decode", "diarization json", err)
	}
	segs := doc.Segments
	if len(segs) == 0 && doc.Diarization != nil {
		segs = doc.Diarization.Segments
	}
	return segs, nil
}

// ReadFile reads a diarization document from path.
func ReadFile(path string) ([]Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "segments", "open", path, err)
	}
	defer f.Close()
	segs, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return segs, nil
}

// Selection picks the spans embedded for each label.
type Selection struct {
	// MaxPerLabel caps spans per label (longest first).
	MaxPerLabel int
	// MinSeconds drops spans shorter than this.
	MinSeconds float64
}

// DefaultSelection keeps up to five spans of at least one second.
func DefaultSelection() Selection {
	return Selection{MaxPerLabel: 5, MinSeconds: 1.0}
}

// IsUnknownLabel reports labels that never get identified.
func IsUnknownLabel(label string) bool {
	label = strings.TrimSpace(label)
	return label == "" || strings.EqualFold(label, "UNKNOWN")
}

// Select groups segments by label and keeps the longest qualifying spans,
// longest first (ties by start time). Labels left with no span are omitted.
func (s Selection) Select(segs []Segment) map[string][]Segment {
	if s.MaxPerLabel <= 0 {
		s.MaxPerLabel = DefaultSelection().MaxPerLabel
	}
	byLabel := make(map[string][]Segment)
	for _, seg := range segs {
		label := strings.TrimSpace(seg.Speaker)
		if IsUnknownLabel(label) || seg.Duration() < s.MinSeconds || seg.Duration() == 0 {
			continue
		}
		seg.Speaker = label
		byLabel[label] = append(byLabel[label], seg)
	}
	for label, spans := range byLabel {
		sort.SliceStable(spans, func(i, j int) bool {
			if spans[i].Duration() != spans[j].Duration() {
				return spans[i].Duration() > spans[j].Duration()
			}
			return spans[i].Start < spans[j].Start
		})
		if len(spans) > s.MaxPerLabel {
			spans = spans[:s.MaxPerLabel]
		}
		byLabel[label] = spans
	}
	return byLabel
}

// Labels returns the keys of a selection, sorted.
func Labels(selected map[string][]Segment) []string {
	labels := make([]string, 0, len(selected))
	for label := range selected {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}
