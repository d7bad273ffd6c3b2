// Package vecmath holds the float64 vector helpers shared by the voice print
// store and the matching engine.
package vecmath

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Vector is a speaker embedding.
type Vector []float64

var (
	ErrEmpty     = errors.New("empty vector")
	ErrNaN       = errors.New("vector contains NaN or Inf")
	ErrZeroNorm  = errors.New("vector has zero norm")
	ErrDimension = errors.New("vector dimensions differ")
)

// FromFloat32 widens an extractor's float32 output.
func FromFloat32(values []float32) Vector {
	out := make(Vector, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

// Clone returns an independent copy.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	return append(Vector(nil), v...)
}

// Dim is the vector length.
func (v Vector) Dim() int { return len(v) }

// Norm returns the Euclidean norm.
func Norm(v Vector) float64 {
	return math.Sqrt(floats.Dot(v, v))
}

// Validate rejects vectors that cannot be scored: empty, NaN/Inf, or zero norm
// (silent or corrupt clips).
func Validate(v Vector) error {
	if len(v) == 0 {
		return ErrEmpty
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return ErrNaN
		}
	}
	if floats.Dot(v, v) == 0 {
		return ErrZeroNorm
	}
	return nil
}

// Cosine returns the cosine similarity of a and b clamped to [-1, 1].
// Identical vectors score exactly 1.
func Cosine(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimension, len(a), len(b))
	}
	if err := Validate(a); err != nil {
		return 0, err
	}
	if err := Validate(b); err != nil {
		return 0, err
	}
	denom := math.Sqrt(floats.Dot(a, a) * floats.Dot(b, b))
	if denom == 0 || math.IsInf(denom, 0) {
		return 0, ErrZeroNorm
	}
	sim := floats.Dot(a, b) / denom
	switch {
	case sim > 1:
		return 1, nil
	case sim < -1:
		return -1, nil
	}
	return sim, nil
}

// Mean returns the arithmetic mean of vectors, accumulated in slice order with
// a running mean so identical inputs reproduce the input exactly. Callers
// needing bit-identical rebuilds must pass vectors in a canonical order.
func Mean(vectors []Vector) (Vector, error) {
	if len(vectors) == 0 {
		return nil, ErrEmpty
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, ErrEmpty
	}
	mean := vectors[0].Clone()
	diff := make(Vector, dim)
	for i := 1; i < len(vectors); i++ {
		if len(vectors[i]) != dim {
			return nil, fmt.Errorf("%w: %d vs %d", ErrDimension, dim, len(vectors[i]))
		}
		floats.SubTo(diff, vectors[i], mean)
		floats.AddScaled(mean, 1/float64(i+1), diff)
	}
	return mean, nil
}
