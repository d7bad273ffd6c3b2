package drift

import (
	"testing"
	"time"

	"voiceid/internal/ledger"
	"voiceid/internal/vecmath"
	"voiceid/internal/voiceprint"
)

func at(month int) time.Time { return time.Date(2024, time.Month(month), 1, 0, 0, 0, 0, time.UTC) }

func rec(speaker string, month int) ledger.SampleRecord {
	return ledger.SampleRecord{SpeakerName: speaker, ClipPath: speaker + ".wav", RecordedDate: at(month)}
}

func snapshotWith(builtAt map[string]time.Time) voiceprint.Snapshot {
	snapshot := voiceprint.NewSnapshot("pyannote", 2)
	for id, ts := range builtAt {
		snapshot.Prints[id] = voiceprint.VoicePrint{SpeakerID: id, BackendID: "pyannote", Vector: vecmath.Vector{1, 0}, Dim: 2, SampleCount: 1, BuiltAt: ts}
	}
	return snapshot
}

func TestDriftLifecycle(t *testing.T) {
	samples := map[string][]ledger.SampleRecord{"Matt": {rec("Matt", 1)}}

	states := StaleSpeakers(samples, voiceprint.NewSnapshot("pyannote", 0))
	if states["Matt"] != StateNoPrint {
		t.Fatalf("before build: %s", states["Matt"])
	}

	built := snapshotWith(map[string]time.Time{"Matt": at(2)})
	if StaleSpeakers(samples, built)["Matt"] != StateFresh {
		t.Fatal("after build the print should be fresh")
	}

	samples["Matt"] = append(samples["Matt"], rec("Matt", 3))
	states = StaleSpeakers(samples, built)
	if states["Matt"] != StateStale {
		t.Fatalf("after a later sample: %s", states["Matt"])
	}
	if set := Set(states); len(set) != 1 || set[0] != "Matt" {
		t.Fatalf("stale set = %v", set)
	}
	if !Lookup(states)("Matt") || Lookup(states)("Paul") {
		t.Fatal("lookup disagrees with states")
	}

	rebuilt := snapshotWith(map[string]time.Time{"Matt": at(4)})
	if StaleSpeakers(samples, rebuilt)["Matt"] != StateFresh {
		t.Fatal("rebuild should clear staleness")
	}
}

func TestSampleDatedAtBuildTimeIsFresh(t *testing.T) {
	samples := map[string][]ledger.SampleRecord{"Matt": {rec("Matt", 2)}}
	if StaleSpeakers(samples, snapshotWith(map[string]time.Time{"Matt": at(2)}))["Matt"] != StateFresh {
		t.Fatal("a sample dated exactly at build time is not newer")
	}
}

func TestReportCoversBothSides(t *testing.T) {
	samples := map[string][]ledger.SampleRecord{
		"Alice": {rec("Alice", 1)},
		"Bob":   {rec("Bob", 5)},
		"Empty": nil,
	}
	snapshot := snapshotWith(map[string]time.Time{"Bob": at(3), "Orphan": at(1)})

	entries := Report(samples, snapshot)
	if len(entries) != 3 {
		t.Fatalf("entries = %+v", entries)
	}
	want := map[string]State{"Alice": StateNoPrint, "Bob": StateStale, "Orphan": StateFresh}
	for _, e := range entries {
		if e.State != want[e.SpeakerID] {
			t.Errorf("%s: state %s, want %s", e.SpeakerID, e.State, want[e.SpeakerID])
		}
	}
	if entries[0].SpeakerID != "Alice" || entries[2].SpeakerID != "Orphan" || entries[2].SampleCount != 0 {
		t.Fatalf("unexpected order or counts: %+v", entries)
	}
	if !entries[1].LatestSample.Equal(at(5)) || !entries[1].BuiltAt.Equal(at(3)) {
		t.Fatalf("unexpected bob entry %+v", entries[1])
	}
}
