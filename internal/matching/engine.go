package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"voiceid/internal/logging"
	"voiceid/internal/services"
	"voiceid/internal/vecmath"
	"voiceid/internal/voiceprint"
)

// Query is one unlabeled diarization speaker to identify.
type Query struct {
	Label         string
	Vector        vecmath.Vector
	BackendID     string
	ReferenceDate time.Time
	// StoreDim is the dimension the backend's store holds (Store.DimFor).
	// It stands in for the snapshot's dimension when nothing was built yet.
	StoreDim int
}

// Result scores one known speaker against a query.
type Result struct {
	Label         string  `json:"label"`
	SpeakerID     string  `json:"speaker_id,omitempty"`
	RawSimilarity float64 `json:"raw_similarity"`
	AdjustedScore float64 `json:"adjusted_score"`
	BackendID     string  `json:"backend_id"`
}

// Engine ranks voice prints for queries.
type Engine struct {
	decayDays float64
	logger    *slog.Logger
}

// NewEngine returns an engine using decayDays as the decay time constant.
func NewEngine(decayDays float64, logger *slog.Logger) *Engine {
	if decayDays <= 0 {
		decayDays = DefaultDecayDays
	}
	return &Engine{decayDays: decayDays, logger: logging.NewComponentLogger(logger, "matching")}
}

// DecayDays reports the engine's decay time constant.
func (e *Engine) DecayDays() float64 { return e.decayDays }

// Match scores query against every print in snapshot, best first. Ties on
// adjusted score are broken by speaker id. No threshold is applied.
//
// A query whose dimension differs from the store's, or that names another
// backend, fails with ErrDimensionMismatch whatever the similarity would have
// been. This holds for an empty store too whenever its dimension is known. An invalid query (NaN, zero norm) yields no results; invalid prints
// are left out. Both are logged.
func (e *Engine) Match(ctx context.Context, query Query, snapshot voiceprint.Snapshot) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if query.BackendID != "" && query.BackendID != snapshot.BackendID {
		return nil, services.Wrap(services.ErrDimensionMismatch, "matching", query.Label,
			fmt.Sprintf("query from backend %q against %q store", query.BackendID, snapshot.BackendID), nil)
	}
	storeDim := snapshot.Dim
	if storeDim == 0 {
		storeDim = query.StoreDim
	}
	if storeDim == 0 && snapshot.Len() == 0 {
		return []Result{}, nil
	}
	if len(query.Vector) != storeDim {
		return nil, services.Wrap(services.ErrDimensionMismatch, "matching", query.Label,
			fmt.Sprintf("query is %d-dim, %s store is %d-dim", len(query.Vector), snapshot.BackendID, storeDim), nil)
	}
	if snapshot.Len() == 0 {
		return []Result{}, nil
	}
	logger := e.logger.With(logging.Label(query.Label), logging.Backend(snapshot.BackendID))
	if err := vecmath.Validate(query.Vector); err != nil {
		logging.WarnWithContext(logger, "query embedding unusable", "invalid_query",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the label's audio may be silent or too short"),
			logging.String(logging.FieldImpact, "label left unidentified"),
		)
		return []Result{}, nil
	}

	results := make([]Result, 0, snapshot.Len())
	for _, speakerID := range snapshot.SpeakerIDs() {
		vp := snapshot.Prints[speakerID]
		if err := vecmath.Validate(vp.Vector); err != nil {
			logging.WarnWithContext(logger, "voice print excluded from matching", "invalid_print",
				logging.Speaker(speakerID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "rebuild the speaker's voice print"),
				logging.String(logging.FieldImpact, "speaker cannot be matched until rebuilt"),
			)
			continue
		}
		raw, err := vecmath.Cosine(query.Vector, vp.Vector)
		if err != nil {
			return nil, services.Wrap(services.ErrDimensionMismatch, "matching", speakerID, "score print", err)
		}
		results = append(results, Result{
			Label:         query.Label,
			SpeakerID:     speakerID,
			RawSimilarity: raw,
			AdjustedScore: raw * Decay(query.ReferenceDate.Sub(vp.BuiltAt), e.decayDays),
			BackendID:     snapshot.BackendID,
		})
	}
	Sort(results)
	return results, nil
}

// Sort orders results by adjusted score descending, then speaker id.
func Sort(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].AdjustedScore != results[j].AdjustedScore {
			return results[i].AdjustedScore > results[j].AdjustedScore
		}
		return results[i].SpeakerID < results[j].SpeakerID
	})
}
