package analysis

import (
	"math"

	"github.com/lildude/strautocoach/internal/model"
)

// averagePace returns seconds per km over the splits. It is not available
// when the splits cover no distance.
func averagePace(splits []model.Split) (float64, bool) {
	var t, d float64
	for _, s := range splits {
		t += float64(s.MovingTime)
		d += s.Distance
	}
	if d <= 0 {
		return 0, false
	}
	return t / (d / 1000), true
}

// HasNegativeSplit reports whether the second half of the splits was run
// at a faster average pace than the first. An odd middle split belongs
// to the second half.
func HasNegativeSplit(splits []model.Split) bool {
	if len(splits) < 2 {
		return false
	}
	mid := len(splits) / 2
	first, ok := averagePace(splits[:mid])
	if !ok {
		return false
	}
	second, ok := averagePace(splits[mid:])
	if !ok {
		return false
	}
	return second < first
}

// SplitConsistency is the standard deviation of split paces as a
// percentage of their mean. Lower is steadier.
func SplitConsistency(splits []model.Split) float64 {
	paces := make([]float64, 0, len(splits))
	for _, s := range splits {
		if s.Distance > 0 {
			paces = append(paces, float64(s.MovingTime)/(s.Distance/1000))
		}
	}
	if len(paces) < 2 {
		return 0
	}

	var sum float64
	for _, p := range paces {
		sum += p
	}
	avg := sum / float64(len(paces))
	if avg <= 0 {
		return 0
	}

	var variance float64
	for _, p := range paces {
		variance += (p - avg) * (p - avg)
	}
	variance /= float64(len(paces))
	return math.Sqrt(variance) / avg * 100
}

// ConsistencyLabel describes a SplitConsistency value.
func ConsistencyLabel(pct float64) string {
	switch {
	case pct < 3:
		return "Very consistent"
	case pct < 5:
		return "Consistent"
	case pct < 10:
		return "Moderate"
	default:
		return "Variable"
	}
}

// CardiacDrift compares the mean of the first and last 20% of the heart
// rate samples and returns the rise as a percentage. At least 10 samples
// are needed.
func CardiacDrift(hr []float64) (float64, bool) {
	if len(hr) < 10 {
		return 0, false
	}
	n := int(math.Floor(float64(len(hr)) * 0.2))
	first := mean(hr[:n])
	last := mean(hr[len(hr)-n:])
	if first == 0 {
		return 0, false
	}
	return (last - first) / first * 100, true
}

func mean(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

// TrainingLoadScore is a TSS-like score from the session's average and
// maximum heart rate: hours * intensity² * 100 where intensity is the
// fraction of the reserve above the profile's resting rate. A max heart
// rate at or below resting is rejected.
func (p HRProfile) TrainingLoadScore(durationSeconds int, avgHR, maxHR *float64) (int, bool) {
	if avgHR == nil || maxHR == nil || *avgHR == 0 || *maxHR == 0 {
		return 0, false
	}
	if *maxHR <= p.Resting {
		return 0, false
	}
	intensity := (*avgHR - p.Resting) / (*maxHR - p.Resting)
	hours := float64(durationSeconds) / 3600
	return int(math.Round(hours * intensity * intensity * 100)), true
}

// Difficulty is the elevation gain per km, rounded.
func Difficulty(elevationGain, distanceMeters float64) int {
	if distanceMeters <= 0 {
		return 0
	}
	return int(math.Round(elevationGain / (distanceMeters / 1000)))
}

// DifficultyLabel describes a Difficulty score.
func DifficultyLabel(score int) string {
	switch {
	case score < 20:
		return "Easy"
	case score < 40:
		return "Moderate"
	case score < 60:
		return "Hard"
	default:
		return "Very hard"
	}
}

// Efficiency relates speed to heart rate; a faster pace at a lower heart
// rate scores higher.
func Efficiency(paceSecondsPerKm, avgHR float64) (int, bool) {
	if avgHR <= 0 || paceSecondsPerKm <= 0 {
		return 0, false
	}
	return int(math.Round(1000 / paceSecondsPerKm * (180 / avgHR) * 100)), true
}
