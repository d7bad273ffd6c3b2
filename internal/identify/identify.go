// Package identify names the diarized speakers of one episode against the
// stored voice prints of a single backend.
//
// Each label is embedded from its selected spans on a bounded worker pool,
// scored by the matching engine, and decided by the assignment policy.
// Failures are kept per label; only problems that make the whole backend
// unusable (corrupt store, unavailable backend) fail the call.
package identify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"voiceid/internal/assign"
	"voiceid/internal/drift"
	"voiceid/internal/embedding"
	"voiceid/internal/ledger"
	"voiceid/internal/logging"
	"voiceid/internal/matching"
	"voiceid/internal/metrics"
	"voiceid/internal/segments"
	"voiceid/internal/services"
	"voiceid/internal/vecmath"
	"voiceid/internal/voiceprint"
)

// Episode is the input to one identification run.
type Episode struct {
	AudioPath     string
	ReferenceDate time.Time
	Segments      []segments.Segment
}

// LabelOutcome is the verdict for one diarization label.
type LabelOutcome struct {
	Label    string            `json:"label"`
	Spans    int               `json:"spans"`
	Results  []matching.Result `json:"results"`
	Decision assign.Decision   `json:"decision"`
	Err      error             `json:"-"`
}

// Status is "ok" or the error kind of a failed label.
func (o LabelOutcome) Status() string { return services.Kind(o.Err) }

// SnapshotLoader is the read side of the voice print store.
type SnapshotLoader interface {
	Load(ctx context.Context, backendID string) (voiceprint.Snapshot, error)
}

// Options configures an Identifier.
type Options struct {
	Workers   int
	Selection segments.Selection
	// Ledger, when set, supplies drift staleness for decisions.
	Ledger ledger.Ledger
	Logger *slog.Logger
}

// Identifier runs the per-episode pipeline.
type Identifier struct {
	backends  embedding.Source
	store     SnapshotLoader
	engine    *matching.Engine
	ledger    ledger.Ledger
	workers   int
	selection segments.Selection
	logger    *slog.Logger
}

// New builds an Identifier.
func New(backends embedding.Source, store SnapshotLoader, engine *matching.Engine, opts Options) *Identifier {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	selection := opts.Selection
	if selection.MaxPerLabel <= 0 {
		selection = segments.DefaultSelection()
	}
	return &Identifier{
		backends:  backends,
		store:     store,
		engine:    engine,
		ledger:    opts.Ledger,
		workers:   workers,
		selection: selection,
		logger:    logging.NewComponentLogger(opts.Logger, "identify"),
	}
}

// Identify decides every label of ep against backendID's voice prints.
// Outcomes are sorted by label.
func (i *Identifier) Identify(ctx context.Context, ep Episode, backendID string, threshold float64) ([]LabelOutcome, error) {
	ctx = services.WithBackend(ctx, backendID)
	logger := i.logger.With(logging.Backend(backendID))

	backend, err := i.backends.Get(backendID)
	if err != nil {
		return nil, err
	}
	snapshot, err := i.store.Load(ctx, backendID)
	if err != nil {
		return nil, err
	}
	stale := i.staleLookup(ctx, snapshot, logger)

	selected := i.selection.Select(ep.Segments)
	labels := segments.Labels(selected)
	outcomes := make([]LabelOutcome, len(labels))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.workers)
	for idx, label := range labels {
		g.Go(func() error {
			outcome := i.identifyLabel(services.WithLabel(gctx, label), backend, snapshot, ep, label, selected[label], threshold, stale)
			outcomes[idx] = outcome
			if outcome.Err != nil && services.Escalates(outcome.Err) {
				return outcome.Err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(outcomes, func(a, b int) bool { return outcomes[a].Label < outcomes[b].Label })
	assigned := 0
	for _, o := range outcomes {
		if o.Decision.Assigned() {
			assigned++
		}
	}
	logger.Info("episode identified",
		logging.String(logging.FieldEventType, "identify_complete"),
		logging.Int("labels", len(outcomes)),
		logging.Int("assigned", assigned),
		logging.Int("voice_prints", snapshot.Len()),
	)
	return outcomes, nil
}

func (i *Identifier) identifyLabel(ctx context.Context, backend embedding.Backend, snapshot voiceprint.Snapshot, ep Episode, label string, spans []segments.Segment, threshold float64, stale assign.StaleLookup) LabelOutcome {
	outcome := LabelOutcome{Label: label, Spans: len(spans), Results: []matching.Result{}}
	if snapshot.Len() == 0 {
		outcome.Decision = assign.Decide(nil, threshold, stale)
		outcome.Decision.Label = label
		outcome.Decision.BackendID = snapshot.BackendID
		metrics.RecordDecision(snapshot.BackendID, outcome.Decision.MetricLabel())
		return outcome
	}

	vector, err := EmbedLabel(ctx, backend, ep.AudioPath, spans, i.logger)
	if err != nil {
		return i.failLabel(outcome, snapshot.BackendID, err)
	}
	results, err := i.engine.Match(ctx, matching.Query{
		Label:         label,
		Vector:        vector,
		BackendID:     backend.ID(),
		ReferenceDate: ep.ReferenceDate,
		StoreDim:      backend.Dimension(),
	}, snapshot)
	if err != nil {
		return i.failLabel(outcome, snapshot.BackendID, err)
	}
	outcome.Results = results
	outcome.Decision = assign.Decide(results, threshold, stale)
	outcome.Decision.Label = label
	outcome.Decision.BackendID = snapshot.BackendID
	metrics.RecordDecision(snapshot.BackendID, outcome.Decision.MetricLabel())

	attrs := append(logging.DecisionAttrs("speaker_assignment", string(outcome.Decision.Kind), outcome.Decision.Reason),
		logging.Label(label),
		logging.Backend(snapshot.BackendID),
		logging.Speaker(outcome.Decision.SpeakerID),
		logging.Float64("confidence", outcome.Decision.Confidence),
		logging.Bool("stale", outcome.Decision.Stale),
	)
	i.logger.Info("label decision", logging.Args(attrs...)...)
	return outcome
}

func (i *Identifier) failLabel(outcome LabelOutcome, backendID string, err error) LabelOutcome {
	outcome.Err = err
	outcome.Decision = assign.Decision{
		Kind:      assign.KindAbstain,
		Label:     outcome.Label,
		BackendID: backendID,
		Reason:    err.Error(),
	}
	logging.WarnWithContext(i.logger, "label not identified", "label_failed",
		logging.Label(outcome.Label),
		logging.Backend(backendID),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the label's audio spans and the backend"),
		logging.String(logging.FieldImpact, "label left unassigned"),
	)
	return outcome
}

func (i *Identifier) staleLookup(ctx context.Context, snapshot voiceprint.Snapshot, logger *slog.Logger) assign.StaleLookup {
	if i.ledger == nil {
		return nil
	}
	samples, err := i.ledger.All(ctx)
	if err != nil {
		logging.WarnWithContext(logger, "ledger unavailable, staleness unknown", "ledger_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.ledger_db or paths.samples_dir"),
			logging.String(logging.FieldImpact, "decisions carry no staleness advisory"),
		)
		return nil
	}
	return drift.Lookup(drift.StaleSpeakers(samples, snapshot))
}

// EmbedLabel embeds each span of audioPath in order and returns their mean.
// Spans that fail to embed or produce unusable vectors are skipped; a
// dimension mismatch or an unavailable backend fails the label outright.
func EmbedLabel(ctx context.Context, backend embedding.Backend, audioPath string, spans []segments.Segment, logger *slog.Logger) (vecmath.Vector, error) {
	if len(spans) == 0 {
		return nil, services.Wrap(services.ErrInsufficientSamples, "identify", "embed label", "no usable spans", nil)
	}
	vectors := make([]vecmath.Vector, 0, len(spans))
	var lastErr error
	for _, span := range spans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := backend.Embed(ctx, embedding.Clip{Path: audioPath, Start: span.Start, End: span.End})
		if err == nil && len(vec) != backend.Dimension() {
			err = services.Wrap(services.ErrDimensionMismatch, "identify", "embed label",
				fmt.Sprintf("backend %s returned %d values, want %d", backend.ID(), len(vec), backend.Dimension()), nil)
		}
		if err == nil {
			err = vecmath.Validate(vec)
		}
		if err != nil {
			if errors.Is(err, services.ErrDimensionMismatch) || services.Escalates(err) || ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			if logger != nil {
				logger.Debug("span skipped",
					logging.Float64("start", span.Start),
					logging.Float64("end", span.End),
					logging.Error(err),
				)
			}
			continue
		}
		vectors = append(vectors, vec)
	}
	if len(vectors) == 0 {
		return nil, services.Wrap(services.ErrInsufficientSamples, "identify", "embed label", "every span failed", lastErr)
	}
	return vecmath.Mean(vectors)
}

// Labels returns the labels Identify would decide for ep, sorted.
func (i *Identifier) Labels(ep Episode) []string {
	return segments.Labels(i.selection.Select(ep.Segments))
}
