// Package compare runs the same episode through several embedding backends
// side by side. Each backend is scored only against its own store; vectors
// from different backends never meet.
package compare

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"voiceid/internal/assign"
	"voiceid/internal/identify"
	"voiceid/internal/logging"
	"voiceid/internal/matching"
	"voiceid/internal/services"
)

// Cell statuses.
const (
	StatusOK          = "ok"
	StatusFailed      = "failed"
	StatusUnavailable = "unavailable"
)

// Cell is one label's verdict under one backend.
type Cell struct {
	Top      *matching.Result `json:"top,omitempty"`
	Decision assign.Decision  `json:"decision"`
	Status   string           `json:"status"`
	Error    string           `json:"error,omitempty"`
}

// AssignedName returns the assigned speaker, or nil on abstention.
func (c Cell) AssignedName() *string {
	if c.Status != StatusOK || !c.Decision.Assigned() {
		return nil
	}
	name := c.Decision.SpeakerID
	return &name
}

// Table holds label → backend → cell. Labels are sorted; backends keep the
// requested order.
type Table struct {
	Labels   []string                   `json:"labels"`
	Backends []string                   `json:"backends"`
	Cells    map[string]map[string]Cell `json:"cells"`
}

// Cell returns the cell for label under backendID.
func (t Table) Cell(label, backendID string) (Cell, bool) {
	row, ok := t.Cells[label]
	if !ok {
		return Cell{}, false
	}
	cell, ok := row[backendID]
	return cell, ok
}

// Summary is the compact per-cell form: assigned name (or null) and
// confidence. Stale marks a decision made against an outdated print.
type Summary struct {
	Assigned   *string `json:"assigned"`
	Confidence float64 `json:"confidence"`
	Stale      bool    `json:"stale"`
	Status     string  `json:"status"`
	Error      string  `json:"error,omitempty"`
}

// Summaries flattens the table for JSON output.
func (t Table) Summaries() map[string]map[string]Summary {
	out := make(map[string]map[string]Summary, len(t.Labels))
	for _, label := range t.Labels {
		row := make(map[string]Summary, len(t.Backends))
		for _, backendID := range t.Backends {
			cell, _ := t.Cell(label, backendID)
			row[backendID] = Summary{
				Assigned:   cell.AssignedName(),
				Confidence: cell.Decision.Confidence,
				Stale:      cell.Decision.Stale,
				Status:     cell.Status,
				Error:      cell.Error,
			}
		}
		out[label] = row
	}
	return out
}

// Identifier is the per-backend pipeline a Comparator fans out to.
type Identifier interface {
	Identify(ctx context.Context, ep identify.Episode, backendID string, threshold float64) ([]identify.LabelOutcome, error)
	Labels(ep identify.Episode) []string
}

// Comparator runs backends concurrently.
type Comparator struct {
	identifier Identifier
	workers    int
	logger     *slog.Logger
}

// New returns a Comparator running at most workers backends at once
// (0 means all of them).
func New(identifier Identifier, workers int, logger *slog.Logger) *Comparator {
	return &Comparator{
		identifier: identifier,
		workers:    workers,
		logger:     logging.NewComponentLogger(logger, "compare"),
	}
}

// Compare identifies ep under every backend in backendIDs. A backend that
// fails as a whole marks its column unavailable and leaves the others
// untouched. The only error returned is cancellation.
func (c *Comparator) Compare(ctx context.Context, ep identify.Episode, backendIDs []string, threshold float64) (Table, error) {
	labels := c.identifier.Labels(ep)
	columns := make([]map[string]Cell, len(backendIDs))

	var g errgroup.Group
	if c.workers > 0 {
		g.SetLimit(c.workers)
	}
	for idx, backendID := range backendIDs {
		g.Go(func() error {
			columns[idx] = c.column(ctx, ep, backendID, labels, threshold)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Table{}, err
	}

	table := Table{
		Labels:   labels,
		Backends: append([]string(nil), backendIDs...),
		Cells:    make(map[string]map[string]Cell, len(labels)),
	}
	for _, label := range labels {
		table.Cells[label] = make(map[string]Cell, len(backendIDs))
	}
	for idx, backendID := range backendIDs {
		for _, label := range labels {
			table.Cells[label][backendID] = columns[idx][label]
		}
	}
	return table, nil
}

func (c *Comparator) column(ctx context.Context, ep identify.Episode, backendID string, labels []string, threshold float64) map[string]Cell {
	cells := make(map[string]Cell, len(labels))
	outcomes, err := c.identifier.Identify(ctx, ep, backendID, threshold)
	if err != nil {
		logging.WarnWithContext(c.logger, "backend unavailable for comparison", "compare_backend_failed",
			logging.Backend(backendID),
			logging.String("error_kind", services.Kind(err)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the backend configuration and its voice print store"),
			logging.String(logging.FieldImpact, "column reported as unavailable"),
		)
		for _, label := range labels {
			cells[label] = Cell{
				Decision: assign.Decision{Kind: assign.KindAbstain, Label: label, BackendID: backendID, Reason: err.Error()},
				Status:   StatusUnavailable,
				Error:    err.Error(),
			}
		}
		return cells
	}
	for _, o := range outcomes {
		cell := Cell{Decision: o.Decision, Status: StatusOK}
		if len(o.Results) > 0 {
			top := o.Results[0]
			cell.Top = &top
		}
		if o.Err != nil {
			cell.Status = StatusFailed
			cell.Error = o.Err.Error()
		}
		cells[o.Label] = cell
	}
	return cells
}
