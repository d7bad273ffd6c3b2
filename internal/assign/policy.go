// Package assign turns ranked match results into an assign-or-abstain
// decision against an explicit confidence threshold.
package assign

import (
	"fmt"

	"voiceid/internal/matching"
)

// Kind is the outcome of a decision.
type Kind string

const (
	KindAssign  Kind = "assign"
	KindAbstain Kind = "abstain"
)

// DefaultThreshold is the configured default auto-assign threshold.
const DefaultThreshold = 0.75

// StaleLookup reports whether a speaker's print for the decision's backend is
// stale. A nil lookup means staleness is unknown and treated as fresh.
type StaleLookup func(speakerID string) bool

// Decision is the policy's verdict for one label.
type Decision struct {
	Kind       Kind    `json:"decision"`
	Label      string  `json:"label"`
	SpeakerID  string  `json:"speaker_id,omitempty"`
	Confidence float64 `json:"confidence"`
	BackendID  string  `json:"backend_id,omitempty"`
	// Stale flags a decision resting on a print that has newer samples than
	// its build (or no print at all). It is advisory and never changes Kind.
	Stale  bool   `json:"stale"`
	Reason string `json:"reason"`
}

// Assigned reports whether the decision names a speaker.
func (d Decision) Assigned() bool { return d.Kind == KindAssign }

// MetricLabel is the decision label used for metrics: assign, assign_stale
// or abstain.
func (d Decision) MetricLabel() string {
	if d.Kind == KindAssign && d.Stale {
		return "assign_stale"
	}
	return string(d.Kind)
}

// Decide assigns the top result when its adjusted score reaches threshold
// (inclusive) and abstains otherwise. results must already be ranked.
// Abstentions still carry the best candidate and its staleness so a reviewer
// sees what was considered.
func Decide(results []matching.Result, threshold float64, stale StaleLookup) Decision {
	if len(results) == 0 {
		return Decision{Kind: KindAbstain, Reason: "no voice prints to compare against"}
	}
	top := results[0]
	decision := Decision{
		Label:      top.Label,
		SpeakerID:  top.SpeakerID,
		Confidence: top.AdjustedScore,
		BackendID:  top.BackendID,
	}
	if stale != nil && top.SpeakerID != "" {
		decision.Stale = stale(top.SpeakerID)
	}
	if top.AdjustedScore >= threshold {
		decision.Kind = KindAssign
		decision.Reason = fmt.Sprintf("score %.4f >= threshold %.4f", top.AdjustedScore, threshold)
		return decision
	}
	decision.Kind = KindAbstain
	decision.Reason = fmt.Sprintf("score %.4f < threshold %.4f", top.AdjustedScore, threshold)
	return decision
}
