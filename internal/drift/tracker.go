// Package drift derives voice print staleness from the sample ledger and a
// backend snapshot. It is pure: it reads both sides and writes nothing.
//
// A speaker moves NoPrint → Fresh on build, Fresh → Stale when a sample newer
// than the build appears, and back to Fresh on rebuild.
package drift

import (
	"sort"
	"time"

	"voiceid/internal/ledger"
	"voiceid/internal/voiceprint"
)

// State is a speaker's print state for one backend.
type State string

const (
	StateNoPrint State = "no_print"
	StateFresh   State = "fresh"
	StateStale   State = "stale"
)

// NeedsRebuild reports whether the state calls for a rebuild.
func (s State) NeedsRebuild() bool { return s == StateNoPrint || s == StateStale }

// Entry describes one speaker.
type Entry struct {
	SpeakerID    string    `json:"speaker_id"`
	State        State     `json:"state"`
	SampleCount  int       `json:"sample_count"`
	LatestSample time.Time `json:"latest_sample,omitzero"`
	BuiltAt      time.Time `json:"built_at,omitzero"`
	PrintSamples int       `json:"print_samples"`
}

// StateOf computes one speaker's state.
func StateOf(samples []ledger.SampleRecord, vp voiceprint.VoicePrint, hasPrint bool) State {
	if !hasPrint {
		if len(samples) == 0 {
			// Nothing to build from; nothing to flag.
			return StateFresh
		}
		return StateNoPrint
	}
	if ledger.Latest(samples).After(vp.BuiltAt) {
		return StateStale
	}
	return StateFresh
}

// StaleSpeakers returns the state of every speaker with samples. Speakers
// with samples but no print are NoPrint, which also needs a rebuild.
func StaleSpeakers(samples map[string][]ledger.SampleRecord, snapshot voiceprint.Snapshot) map[string]State {
	states := make(map[string]State, len(samples))
	for speaker, recs := range samples {
		if len(recs) == 0 {
			continue
		}
		vp, ok := snapshot.Get(speaker)
		states[speaker] = StateOf(recs, vp, ok)
	}
	return states
}

// Set returns the speakers needing a rebuild, sorted.
func Set(states map[string]State) []string {
	var ids []string
	for speaker, state := range states {
		if state.NeedsRebuild() {
			ids = append(ids, speaker)
		}
	}
	sort.Strings(ids)
	return ids
}

// Lookup adapts states for assign.Decide: unknown speakers are not stale.
func Lookup(states map[string]State) func(string) bool {
	return func(speakerID string) bool {
		return states[speakerID].NeedsRebuild()
	}
}

// Report lists every speaker known to either the ledger or the snapshot,
// sorted by speaker id. Prints without samples are reported Fresh with zero
// samples.
func Report(samples map[string][]ledger.SampleRecord, snapshot voiceprint.Snapshot) []Entry {
	ids := make(map[string]bool, len(samples)+snapshot.Len())
	for speaker, recs := range samples {
		if len(recs) > 0 {
			ids[speaker] = true
		}
	}
	for _, speaker := range snapshot.SpeakerIDs() {
		ids[speaker] = true
	}
	entries := make([]Entry, 0, len(ids))
	for speaker := range ids {
		recs := samples[speaker]
		vp, ok := snapshot.Get(speaker)
		entry := Entry{
			SpeakerID:    speaker,
			State:        StateOf(recs, vp, ok),
			SampleCount:  len(recs),
			LatestSample: ledger.Latest(recs),
		}
		if ok {
			entry.BuiltAt = vp.BuiltAt
			entry.PrintSamples = vp.SampleCount
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SpeakerID < entries[j].SpeakerID })
	return entries
}
