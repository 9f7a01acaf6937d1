package analysis

import (
	"sort"
	"time"

	"github.com/lildude/strautocoach/internal/model"
)

// DateLayout is the key format of DailyLoad.
const DateLayout = "2006-01-02"

const (
	ctlDays = 42
	atlDays = 7
)

// DailyLoad maps a local calendar date (DateLayout) to the summed load of
// the activities started that day.
type DailyLoad map[string]float64

// FitnessPoint is one day of the fitness/fatigue model.
type FitnessPoint struct {
	Date string  `json:"date"`
	Load float64 `json:"load"`
	CTL  float64 `json:"ctl"`
	ATL  float64 `json:"atl"`
	TSB  float64 `json:"tsb"`
}

// Bound is the rolling average band for one day.
type Bound struct {
	Date  string  `json:"date"`
	Avg   float64 `json:"avg"`
	Upper float64 `json:"upper"`
	Lower float64 `json:"lower"`
}

// DailyLoads sums the load of every activity started on or after since,
// bucketed by calendar day in now's location. Today is always present.
func DailyLoads(activities []model.Activity, since, now time.Time, p HRProfile) DailyLoad {
	loc := now.Location()
	out := DailyLoad{}
	for i := range activities {
		a := &activities[i]
		if a.StartDate.IsZero() || a.StartDate.Before(since) {
			continue
		}
		load, _ := p.ActivityLoad(a)
		out[a.StartDate.In(loc).Format(DateLayout)] += float64(load)
	}

	today := now.Format(DateLayout)
	if _, ok := out[today]; !ok {
		out[today] = 0
	}
	return out
}

// sortedDates returns the keys of d in chronological order.
func (d DailyLoad) sortedDates() []string {
	dates := make([]string, 0, len(d))
	for k := range d {
		dates = append(dates, k)
	}
	sort.Strings(dates)
	return dates
}

// walkDays calls fn for every calendar date from first to last inclusive.
func walkDays(first, last string, fn func(date string)) {
	start, err := time.Parse(DateLayout, first)
	if err != nil {
		return
	}
	end, err := time.Parse(DateLayout, last)
	if err != nil {
		return
	}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		fn(d.Format(DateLayout))
	}
}

// FitnessFatigue runs the 42/7 day exponentially weighted model over
// daily from its first date up to today, filling rest days with 0. TSB
// is yesterday's CTL minus yesterday's ATL.
func FitnessFatigue(daily DailyLoad, today time.Time) []FitnessPoint {
	dates := daily.sortedDates()
	if len(dates) == 0 {
		return nil
	}

	var (
		out      []FitnessPoint
		ctl, atl float64
	)
	walkDays(dates[0], today.Format(DateLayout), func(date string) {
		load := daily[date]
		point := FitnessPoint{
			Date: date,
			Load: load,
			CTL:  ctl + (load-ctl)/ctlDays,
			ATL:  atl + (load-atl)/atlDays,
			TSB:  ctl - atl,
		}
		out = append(out, point)
		ctl, atl = point.CTL, point.ATL
	})
	return out
}

// RollingBounds emits the average of the last window days for every day
// between the first and last date of daily, with a band of ±30%.
func RollingBounds(daily DailyLoad, window int) []Bound {
	dates := daily.sortedDates()
	if len(dates) == 0 || window <= 0 {
		return nil
	}

	var (
		out  []Bound
		fifo []float64
		sum  float64
	)
	walkDays(dates[0], dates[len(dates)-1], func(date string) {
		load := daily[date]
		fifo = append(fifo, load)
		sum += load
		if len(fifo) > window {
			sum -= fifo[0]
			fifo = fifo[1:]
		}
		avg := sum / float64(len(fifo))
		out = append(out, Bound{Date: date, Avg: avg, Upper: avg * 1.3, Lower: avg * 0.7})
	})
	return out
}

// FormDescription describes a TSB value in words.
func FormDescription(tsb float64) string {
	switch {
	case tsb > 25:
		return "Detraining"
	case tsb > 5:
		return "Fresh"
	case tsb >= -10:
		return "Neutral"
	case tsb >= -30:
		return "Productive"
	default:
		return "Overreaching"
	}
}
