package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"voiceid/internal/services"
	"voiceid/internal/vecmath"
)

// Clip is an embeddable audio span. A zero End means the whole file.
type Clip struct {
	Path  string  `json:"path"`
	Start float64 `json:"start,omitempty"`
	End   float64 `json:"end,omitempty"`
}

// Key identifies the clip for memoization.
func (c Clip) Key() string {
	if c.End <= 0 {
		return c.Path
	}
	return c.Path + "#" + strconv.FormatFloat(c.Start, 'f', 3, 64) + "-" + strconv.FormatFloat(c.End, 'f', 3, 64)
}

// Duration returns the span length in seconds, or 0 for a whole file.
func (c Clip) Duration() float64 {
	if c.End <= 0 || c.End < c.Start {
		return 0
	}
	return c.End - c.Start
}

// Backend extracts fixed-dimension speaker embeddings.
type Backend interface {
	ID() string
	Dimension() int
	Embed(ctx context.Context, clip Clip) (vecmath.Vector, error)
}

// Preparer is implemented by backends with a one-time setup step (model
// download, credential check). Memo calls it once per process.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// decodeVector accepts a bare JSON array or an object carrying the vector
// under "vector" or "embedding".
func decodeVector(data []byte) (vecmath.Vector, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("empty extractor output")
	}
	// Extractors may log before the payload; the vector is on the last line.
	if idx := strings.LastIndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = strings.TrimSpace(trimmed[idx+1:])
	}
	if strings.HasPrefix(trimmed, "[") {
		var values []float64
		if err := json.Unmarshal([]byte(trimmed), &values); err != nil {
			return nil, fmt.Errorf("decode vector: %w", err)
		}
		return values, nil
	}
	var payload struct {
		Vector    []float64 `json:"vector"`
		Embedding []float64 `json:"embedding"`
		Error     string    `json:"error"`
	}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("extractor error: %s", payload.Error)
	}
	if len(payload.Vector) > 0 {
		return payload.Vector, nil
	}
	return payload.Embedding, nil
}

// checkVector enforces the backend's declared dimension on extractor output.
func checkVector(backendID string, dim int, vec vecmath.Vector) error {
	if len(vec) != dim {
		return services.Wrap(services.ErrDimensionMismatch, "embedding", backendID,
			fmt.Sprintf("extractor returned %d values, backend declares %d", len(vec), dim), nil)
	}
	return nil
}
