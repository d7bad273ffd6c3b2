package voiceprint

import (
	"context"
	"sort"

	"voiceid/internal/ledger"
	"voiceid/internal/logging"
	"voiceid/internal/services"
)

// BuildOutcome is the result of one speaker within a batch.
type BuildOutcome struct {
	SpeakerID   string
	SampleCount int
	Err         error
}

// Status is "ok" or the error kind.
func (o BuildOutcome) Status() string { return services.Kind(o.Err) }

// BatchReport summarizes BuildAll.
type BatchReport struct {
	BackendID string
	Outcomes  []BuildOutcome
	// Aborted is set when the batch stopped early: cancellation, a corrupt
	// store or an unavailable backend. Speakers after the failure are absent
	// from Outcomes.
	Aborted error
}

// Built counts speakers whose print was rebuilt.
func (r BatchReport) Built() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Failures returns the outcomes that carry an error.
func (r BatchReport) Failures() []BuildOutcome {
	var failed []BuildOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// BuildAll rebuilds every speaker in samplesBySpeaker, in name order. A
// speaker's failure is recorded and the batch moves on unless the failure
// concerns the whole backend. Cancellation is checked between speakers.
func (s *Store) BuildAll(ctx context.Context, backendID string, samplesBySpeaker map[string][]ledger.SampleRecord) BatchReport {
	report := BatchReport{BackendID: backendID}
	speakers := make([]string, 0, len(samplesBySpeaker))
	for speaker := range samplesBySpeaker {
		speakers = append(speakers, speaker)
	}
	sort.Strings(speakers)

	for _, speaker := range speakers {
		if err := ctx.Err(); err != nil {
			report.Aborted = err
			break
		}
		samples := samplesBySpeaker[speaker]
		vp, err := s.Build(services.WithSpeaker(ctx, speaker), speaker, backendID, samples)
		outcome := BuildOutcome{SpeakerID: ledger.NormalizeName(speaker), SampleCount: vp.SampleCount, Err: err}
		report.Outcomes = append(report.Outcomes, outcome)
		if err == nil {
			continue
		}
		if services.Escalates(err) || ctx.Err() != nil {
			report.Aborted = err
			logging.ErrorWithContext(s.logger, "batch build aborted", "batch_aborted",
				logging.Backend(backendID),
				logging.Speaker(speaker),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "fix the backend or store, then rerun the build"),
			)
			break
		}
		logging.WarnWithContext(s.logger, "speaker build failed", "speaker_build_failed",
			logging.Backend(backendID),
			logging.Speaker(speaker),
			logging.Int("samples", len(samples)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the speaker's samples"),
			logging.String(logging.FieldImpact, "previous voice print kept"),
		)
	}
	s.logger.Info("batch build finished",
		logging.Backend(backendID),
		logging.Int("speakers", len(speakers)),
		logging.Int("built", report.Built()),
		logging.Int("failed", len(report.Failures())),
		logging.Bool("aborted", report.Aborted != nil),
	)
	return report
}
