package assign

import (
	"testing"

	"voiceid/internal/matching"
)

func ranked(scores map[string]float64, order ...string) []matching.Result {
	results := make([]matching.Result, 0, len(order))
	for _, id := range order {
		results = append(results, matching.Result{Label: "SPEAKER_00", SpeakerID: id, AdjustedScore: scores[id], BackendID: "pyannote"})
	}
	return results
}

func TestDecideThresholdIsInclusive(t *testing.T) {
	tests := []struct {
		score float64
		want  Kind
	}{
		{score: 0.749, want: KindAbstain},
		{score: 0.750, want: KindAssign},
		{score: 0.9, want: KindAssign},
	}
	for _, tt := range tests {
		d := Decide(ranked(map[string]float64{"Matt": tt.score}, "Matt"), 0.75, nil)
		if d.Kind != tt.want {
			t.Errorf("score %.3f: got %s, want %s", tt.score, d.Kind, tt.want)
		}
		if d.SpeakerID != "Matt" || d.Confidence != tt.score || d.Label != "SPEAKER_00" || d.BackendID != "pyannote" {
			t.Errorf("decision does not carry the top candidate: %+v", d)
		}
	}
}

func TestDecideUsesTopResultOnly(t *testing.T) {
	d := Decide(ranked(map[string]float64{"Matt": 0.8, "Paul": 0.79}, "Matt", "Paul"), 0.75, nil)
	if !d.Assigned() || d.SpeakerID != "Matt" {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestDecideEmptyResultsAbstain(t *testing.T) {
	d := Decide(nil, 0.75, nil)
	if d.Kind != KindAbstain || d.SpeakerID != "" || d.Reason == "" {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestStaleAdvisoryRidesAlong(t *testing.T) {
	stale := func(id string) bool { return id == "Matt" }

	assigned := Decide(ranked(map[string]float64{"Matt": 0.9}, "Matt"), 0.75, stale)
	if !assigned.Assigned() || !assigned.Stale || assigned.MetricLabel() != "assign_stale" {
		t.Fatalf("stale assign = %+v", assigned)
	}
	abstained := Decide(ranked(map[string]float64{"Matt": 0.5}, "Matt"), 0.75, stale)
	if abstained.Assigned() || !abstained.Stale || abstained.MetricLabel() != "abstain" {
		t.Fatalf("abstain must still report staleness: %+v", abstained)
	}
	fresh := Decide(ranked(map[string]float64{"Paul": 0.9}, "Paul"), 0.75, stale)
	if fresh.Stale || fresh.MetricLabel() != "assign" {
		t.Fatalf("fresh assign = %+v", fresh)
	}
}
