package pacing

import (
	"sort"
	"time"
)

// Schedule produces absolute send offsets for a batch of recipients: one
// gaussian delay per recipient, sorted ascending and accumulated. Offsets
// never exceed maxDeferred (the host queue's deferred-delivery cap); when the
// cumulative delay would pass it, the remaining recipients are split into a
// further batch whose offsets restart from zero and which the caller submits
// in a later scheduling pass.
func Schedule(rng Rand, count int, minMs, maxMs int, mean, stdDev float64, maxDeferred time.Duration) [][]time.Duration {
	if count <= 0 {
		return nil
	}

	delays := make([]time.Duration, count)
	for i := range delays {
		delays[i] = Delay(rng, minMs, maxMs, mean, stdDev)
	}
	sort.Slice(delays, func(i, j int) bool { return delays[i] < delays[j] })

	var batches [][]time.Duration
	var current []time.Duration
	var offset time.Duration

	for _, d := range delays {
		offset += d
		if maxDeferred > 0 && offset > maxDeferred && len(current) > 0 {
			batches = append(batches, current)
			current = nil
			offset = d
		}
		current = append(current, offset)
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
