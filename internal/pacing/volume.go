package pacing

import (
	"math"
	"time"
)

// Hours configures the daily send window and its traffic peak. Hours are in
// the local time of the sending identity, 0-23; the window is [Start, End).
type Hours struct {
	Start     int `yaml:"start"`
	End       int `yaml:"end"`
	PeakStart int `yaml:"peak_start"`
	PeakEnd   int `yaml:"peak_end"`
}

// DefaultHours is a standard business-hours window peaking mid-morning
// through early afternoon
var DefaultHours = Hours{Start: 8, End: 18, PeakStart: 10, PeakEnd: 14}

// inWindow reports whether the hour falls inside the send window
func (h Hours) inWindow(hour int) bool {
	return hour >= h.Start && hour < h.End
}

// inPeak reports whether the hour falls inside the peak window
func (h Hours) inPeak(hour int) bool {
	return hour >= h.PeakStart && hour < h.PeakEnd
}

// SlotVolume computes how many sends to emit during the slot starting at now.
// Zero outside the send window. Inside, the slot's share of the remaining
// quota is weighted by a bell curve centered on the peak window: the distance
// from the peak center is mapped onto roughly 0-3 standard deviations across
// the half window and weighted by exp(-sigma^2/2). The exact curve shape is a
// tuning knob, not a contract; callers should rely only on it being zero
// outside the window, non-negative, peak-heavy and bounded by remainingQuota.
func SlotVolume(hours Hours, now time.Time, slot time.Duration, remainingQuota int) int {
	if remainingQuota <= 0 || slot <= 0 {
		return 0
	}

	hour := now.Hour()
	if !hours.inWindow(hour) {
		return 0
	}

	window := time.Duration(hours.End-hours.Start) * time.Hour
	if window <= 0 {
		return 0
	}

	peakCenter := float64(hours.PeakStart+hours.PeakEnd) / 2
	halfWindow := math.Max(peakCenter-float64(hours.Start), float64(hours.End)-peakCenter)
	if halfWindow <= 0 {
		halfWindow = 1
	}

	// Fractional hour keeps the curve smooth across slot boundaries
	h := float64(hour) + float64(now.Minute())/60
	sigma := 3 * math.Abs(h-peakCenter) / halfWindow
	weight := math.Exp(-0.5 * sigma * sigma)

	// The x2 roughly compensates for the bell's off-peak attenuation so a
	// full day still drains the quota
	volume := int(float64(remainingQuota) * (float64(slot) / float64(window)) * weight * 2)

	if volume > remainingQuota {
		volume = remainingQuota
	}
	if volume < 1 && hours.inPeak(hour) {
		// Never stall out completely at peak while quota remains
		volume = 1
	}
	return volume
}
