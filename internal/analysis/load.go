// Package analysis turns activity history into training load, fitness and
// related statistics. Everything here is pure and safe for concurrent use
// as long as callers do not mutate the activities they pass in.
package analysis

import (
	"math"

	"github.com/lildude/strautocoach/internal/model"
)

const (
	// maxSampleGap is the largest gap between stream samples, in seconds,
	// that still counts towards TRIMP. Longer gaps are pauses.
	maxSampleGap = 300

	simpleLoadCap = 500
)

// HRProfile holds the heart rate bounds used for heart-rate reserve.
// Nothing stores per-athlete values yet, so callers pass DefaultHRProfile
// unless they have better numbers.
type HRProfile struct {
	Resting float64
	Max     float64
}

// DefaultHRProfile returns the fixed 60/190 bpm profile.
func DefaultHRProfile() HRProfile {
	return HRProfile{Resting: 60, Max: 190}
}

// Method identifies how an activity's load was derived.
type Method int

const (
	MethodSimple Method = iota
	MethodTRIMP
)

func (m Method) String() string {
	if m == MethodTRIMP {
		return "trimp"
	}
	return "simple"
}

// TRIMP computes Banister's training impulse from aligned heart rate and
// time samples:
//
//	sum over samples of (dt/60) * hrr * 0.64 * e^(1.92 * hrr)
//
// Samples at or below resting heart rate, and gaps of 300s or more, are
// skipped. It reports false when the streams are unusable or the total is 0.
func (p HRProfile) TRIMP(hr []float64, t []int) (int, bool) {
	if len(hr) == 0 || len(hr) != len(t) {
		return 0, false
	}
	reserve := p.Max - p.Resting
	if reserve <= 0 {
		return 0, false
	}

	var total float64
	for i := 1; i < len(hr); i++ {
		dt := t[i] - t[i-1]
		if dt <= 0 || dt >= maxSampleGap || hr[i] <= p.Resting {
			continue
		}
		hrr := (hr[i] - p.Resting) / reserve
		total += float64(dt) / 60 * hrr * 0.64 * math.Exp(1.92*hrr)
	}

	if total <= 0 {
		return 0, false
	}
	return int(math.Round(total)), true
}

// SimpleLoad estimates load from duration, elevation and average heart
// rate when no heart rate stream exists. The result is clamped to [0, 500].
func SimpleLoad(a *model.Activity) int {
	seconds := float64(a.MovingTimeSeconds)
	if seconds > 500000 {
		// milliseconds
		seconds /= 1000
	}
	elevation := a.TotalElevationGain
	if elevation > 10000 {
		// centimetres
		elevation /= 100
	}

	intensity := 1.0
	if a.AverageHeartrate != nil && *a.AverageHeartrate > 0 {
		intensity = *a.AverageHeartrate / 140
	}

	load := math.Round(seconds/3600*intensity*80 + elevation*0.1)
	return int(math.Min(math.Max(load, 0), simpleLoadCap))
}

// ActivityLoad returns TRIMP from the stored streams when available and
// falls back to SimpleLoad otherwise.
func (p HRProfile) ActivityLoad(a *model.Activity) (int, Method) {
	if load, ok := p.TRIMP(a.Streams.HeartRate, a.Streams.Time); ok {
		return load, MethodTRIMP
	}
	return SimpleLoad(a), MethodSimple
}
