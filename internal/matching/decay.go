package matching

import (
	"math"
	"time"
)

// DefaultDecayDays is the decay time constant used when none is configured.
const DefaultDecayDays = 365.0

// Decay returns the multiplier for a gap between reference date and print
// build time: 0.5 + 0.5·exp(-|days|/decayDays). It is 1 at zero gap and
// approaches 0.5 as the gap grows. Days are fractional.
func Decay(gap time.Duration, decayDays float64) float64 {
	if decayDays <= 0 {
		decayDays = DefaultDecayDays
	}
	days := math.Abs(gap.Hours() / 24)
	return 0.5 + 0.5*math.Exp(-days/decayDays)
}
