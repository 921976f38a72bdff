// Package pacing computes human-looking send timing: normally distributed
// inter-send delays and a bell-curve shaped hourly send volume. Everything in
// this package is pure and deterministic under an injected Rand.
package pacing

import (
	"math"
	"time"
)

// GaussianDelay draws a delay in milliseconds from a normal distribution
// clamped to [min, max]. Mean defaults to the interval midpoint and stddev to
// (max-min)/6 so roughly the whole bell fits inside the interval. A
// zero-width interval returns min unchanged.
func GaussianDelay(rng Rand, minMs, maxMs int, mean, stdDev float64) int {
	if maxMs <= minMs {
		return minMs
	}
	if mean == 0 {
		mean = float64(minMs+maxMs) / 2
	}
	if stdDev == 0 {
		stdDev = float64(maxMs-minMs) / 6
	}

	z := boxMuller(rng)
	delay := mean + z*stdDev

	if delay < float64(minMs) {
		return minMs
	}
	if delay > float64(maxMs) {
		return maxMs
	}
	return int(math.Round(delay))
}

// Delay is GaussianDelay as a duration, using a campaign's pacing numbers
func Delay(rng Rand, minMs, maxMs int, mean, stdDev float64) time.Duration {
	return time.Duration(GaussianDelay(rng, minMs, maxMs, mean, stdDev)) * time.Millisecond
}

// boxMuller converts two independent uniform draws into one standard-normal
// sample (Box-Muller transform)
func boxMuller(rng Rand) float64 {
	u1 := rng.Float64()
	u2 := rng.Float64()
	// u1 in (0,1) so the log is finite
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}
