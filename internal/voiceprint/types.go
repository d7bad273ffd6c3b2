package voiceprint

import (
	"fmt"
	"sort"
	"time"

	"voiceid/internal/services"
	"voiceid/internal/vecmath"
)

// VoicePrint is the centroid of one speaker's sample embeddings under one
// backend.
type VoicePrint struct {
	SpeakerID         string         `json:"speaker_id" msgpack:"speaker_id"`
	BackendID         string         `json:"backend_id" msgpack:"backend_id"`
	Vector            vecmath.Vector `json:"vector" msgpack:"vector"`
	Dim               int            `json:"dim" msgpack:"dim"`
	SampleCount       int            `json:"sample_count" msgpack:"sample_count"`
	BuiltAt           time.Time      `json:"built_at" msgpack:"built_at"`
	SourceSampleDates []time.Time    `json:"source_sample_dates,omitempty" msgpack:"source_sample_dates"`
	ShortName         string         `json:"short_name,omitempty" msgpack:"short_name"`
}

// LatestSample returns the newest source sample date, or the zero time.
func (p VoicePrint) LatestSample() time.Time {
	var latest time.Time
	for _, ts := range p.SourceSampleDates {
		if ts.After(latest) {
			latest = ts
		}
	}
	return latest
}

func (p VoicePrint) clone() VoicePrint {
	p.Vector = p.Vector.Clone()
	p.SourceSampleDates = append([]time.Time(nil), p.SourceSampleDates...)
	return p
}

// Snapshot is everything persisted for one backend.
type Snapshot struct {
	BackendID string
	Dim       int
	Version   int64
	SavedAt   time.Time
	Prints    map[string]VoicePrint
	// Legacy marks a snapshot read from a store written before backend
	// tagging existed.
	Legacy bool
}

// NewSnapshot returns an empty snapshot for backendID.
func NewSnapshot(backendID string, dim int) Snapshot {
	return Snapshot{BackendID: backendID, Dim: dim, Prints: map[string]VoicePrint{}}
}

// Len reports the number of prints.
func (s Snapshot) Len() int { return len(s.Prints) }

// Get returns the print for speakerID.
func (s Snapshot) Get(speakerID string) (VoicePrint, bool) {
	p, ok := s.Prints[speakerID]
	return p, ok
}

// SpeakerIDs lists speakers with a print, sorted.
func (s Snapshot) SpeakerIDs() []string {
	ids := make([]string, 0, len(s.Prints))
	for id := range s.Prints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy so cached snapshots are never mutated by callers.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Prints = make(map[string]VoicePrint, len(s.Prints))
	for id, p := range s.Prints {
		out.Prints[id] = p.clone()
	}
	return out
}

// Validate checks the snapshot's structural invariants. Any violation is a
// corrupt store.
func (s Snapshot) Validate() error {
	if s.BackendID == "" {
		return corrupt(s.BackendID, "snapshot has no backend id", nil)
	}
	for id, p := range s.Prints {
		if id == "" {
			return corrupt(s.BackendID, "print with empty speaker id", nil)
		}
		if p.BackendID != s.BackendID {
			return corrupt(s.BackendID, fmt.Sprintf("print %q tagged with backend %q", id, p.BackendID), nil)
		}
		if len(p.Vector) == 0 || len(p.Vector) != p.Dim {
			return corrupt(s.BackendID, fmt.Sprintf("print %q has %d values, declares dim %d", id, len(p.Vector), p.Dim), nil)
		}
		if s.Dim > 0 && p.Dim != s.Dim {
			return corrupt(s.BackendID, fmt.Sprintf("print %q has dim %d, store dim %d", id, p.Dim, s.Dim), nil)
		}
	}
	return nil
}

// Stamp is a cheap change marker for a backend's persisted snapshot.
type Stamp struct {
	Version int64
	Marker  string
}

func corrupt(backendID, message string, err error) error {
	return services.Wrap(services.ErrCorruptStore, "voiceprint", backendID, message, err)
}
