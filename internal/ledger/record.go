package ledger

import (
	"context"
	"sort"
	"time"
)

// SampleRecord is one labelled clip of a known speaker.
type SampleRecord struct {
	ID              string    `json:"id"`
	SpeakerName     string    `json:"speaker_name"`
	ClipPath        string    `json:"clip_path"`
	RecordedDate    time.Time `json:"recorded_date"`
	DurationSeconds float64   `json:"duration_seconds"`
	QualityRating   int       `json:"quality_rating,omitempty"`
	EpisodeID       string    `json:"episode_id,omitempty"`
	Start           float64   `json:"start,omitempty"`
	End             float64   `json:"end,omitempty"`
	Source          string    `json:"source,omitempty"`
}

// Ledger is the read surface the engine needs from the sample store.
type Ledger interface {
	// Speakers lists speaker names with at least one usable sample, sorted.
	Speakers(ctx context.Context) ([]string, error)
	// Samples returns the usable samples of one speaker.
	Samples(ctx context.Context, speaker string) ([]SampleRecord, error)
	// All returns usable samples grouped by speaker.
	All(ctx context.Context) (map[string][]SampleRecord, error)
}

// Filter describes which records a reader drops.
type Filter struct {
	// MinSampleSeconds drops clips with a known duration below this length.
	// Records with unknown (zero) duration are kept.
	MinSampleSeconds float64
}

func (f Filter) keep(rec SampleRecord) bool {
	if IsPlaceholder(rec.SpeakerName) {
		return false
	}
	if rec.ClipPath == "" {
		return false
	}
	if rec.DurationSeconds > 0 && rec.DurationSeconds < f.MinSampleSeconds {
		return false
	}
	return true
}

// Latest returns the most recent RecordedDate in records, or the zero time.
func Latest(records []SampleRecord) time.Time {
	var latest time.Time
	for _, rec := range records {
		if rec.RecordedDate.After(latest) {
			latest = rec.RecordedDate
		}
	}
	return latest
}

// SortCanonical orders records by date, then clip path, then id. Centroids
// are computed in this order so rebuilds over the same samples agree bit for
// bit.
func SortCanonical(records []SampleRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.RecordedDate.Equal(b.RecordedDate) {
			return a.RecordedDate.Before(b.RecordedDate)
		}
		if a.ClipPath != b.ClipPath {
			return a.ClipPath < b.ClipPath
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.ID < b.ID
	})
}

func group(records []SampleRecord, filter Filter) map[string][]SampleRecord {
	out := make(map[string][]SampleRecord)
	for _, rec := range records {
		rec.SpeakerName = NormalizeName(rec.SpeakerName)
		if !filter.keep(rec) {
			continue
		}
		out[rec.SpeakerName] = append(out[rec.SpeakerName], rec)
	}
	for _, recs := range out {
		SortCanonical(recs)
	}
	return out
}

func sortedKeys(m map[string][]SampleRecord) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
