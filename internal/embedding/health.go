package embedding

import "context"

// Health summarizes whether a backend can embed.
type Health struct {
	Backend string `json:"backend"`
	Dim     int    `json:"dim"`
	Ready   bool   `json:"ready"`
	Detail  string `json:"detail,omitempty"`
}

// Health prepares every registered backend and reports the outcome, in
// registration order. Preparation is remembered, so this is cheap after the
// first call.
func (r *Registry) Health(ctx context.Context) []Health {
	ids := r.IDs()
	out := make([]Health, 0, len(ids))
	for _, id := range ids {
		memo := r.backends[id]
		h := Health{Backend: id, Dim: memo.Dimension(), Ready: true}
		if err := memo.Prepare(ctx); err != nil {
			h.Ready = false
			h.Detail = err.Error()
		}
		out = append(out, h)
	}
	return out
}
