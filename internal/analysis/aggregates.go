package analysis

import (
	"time"

	"github.com/lildude/strautocoach/internal/model"
)

// Totals sums the headline metrics of a set of activities.
type Totals struct {
	Distance   float64 `json:"distance"`
	MovingTime int     `json:"moving_time"`
	Elevation  float64 `json:"elevation"`
	Calories   int     `json:"calories"`
	Count      int     `json:"count"`
}

func (t *Totals) add(a *model.Activity) {
	t.Distance += a.DistanceMeters
	t.MovingTime += a.MovingTimeSeconds
	t.Elevation += a.TotalElevationGain
	if a.Calories != nil {
		t.Calories += *a.Calories
	}
	t.Count++
}

// SumTotals adds up every activity.
func SumTotals(activities []model.Activity) Totals {
	var t Totals
	for i := range activities {
		t.add(&activities[i])
	}
	return t
}

// Period is a Totals over a half-open time range [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Totals
}

func (p *Period) contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

func bucket(activities []model.Activity, periods []Period) []Period {
	for i := range activities {
		a := &activities[i]
		for j := range periods {
			if periods[j].contains(a.StartDate) {
				periods[j].add(a)
				break
			}
		}
	}
	return periods
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// WeeklyAggregates returns the last weeks Sunday-aligned weeks in now's
// location, oldest first. The last entry is the current week.
func WeeklyAggregates(activities []model.Activity, weeks int, now time.Time) []Period {
	if weeks <= 0 {
		return nil
	}
	today := startOfDay(now)
	sunday := today.AddDate(0, 0, -int(today.Weekday()))

	periods := make([]Period, weeks)
	for i := 0; i < weeks; i++ {
		start := sunday.AddDate(0, 0, -7*(weeks-1-i))
		periods[i] = Period{Start: start, End: start.AddDate(0, 0, 7)}
	}
	return bucket(activities, periods)
}

// MonthlyAggregates returns the last months calendar months in now's
// location, oldest first. The last entry is the current month.
func MonthlyAggregates(activities []model.Activity, months int, now time.Time) []Period {
	if months <= 0 {
		return nil
	}
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	periods := make([]Period, months)
	for i := 0; i < months; i++ {
		start := first.AddDate(0, -(months - 1 - i), 0)
		periods[i] = Period{Start: start, End: start.AddDate(0, 1, 0)}
	}
	return bucket(activities, periods)
}

// SportTypeDistribution counts activities per sport type. Activities
// without one count as "Other".
func SportTypeDistribution(activities []model.Activity) map[string]int {
	out := make(map[string]int)
	for i := range activities {
		sport := activities[i].SportType
		if sport == "" {
			sport = "Other"
		}
		out[sport]++
	}
	return out
}

// HeatmapDay is the load and number of activities for one day.
type HeatmapDay struct {
	Date  string  `json:"date"`
	Load  float64 `json:"load"`
	Count int     `json:"count"`
}

// Heatmap buckets the activities of the last days days, up to and
// including today, by local calendar day. Only days with activities are
// returned, in date order.
func Heatmap(activities []model.Activity, days int, now time.Time, p HRProfile) []HeatmapDay {
	loc := now.Location()
	today := startOfDay(now)
	from := today.AddDate(0, 0, -days)
	to := today.AddDate(0, 0, 1)

	byDate := make(map[string]*HeatmapDay)
	for i := range activities {
		a := &activities[i]
		if a.StartDate.Before(from) || !a.StartDate.Before(to) {
			continue
		}
		key := a.StartDate.In(loc).Format(DateLayout)
		d, ok := byDate[key]
		if !ok {
			d = &HeatmapDay{Date: key}
			byDate[key] = d
		}
		load, _ := p.ActivityLoad(a)
		d.Load += float64(load)
		d.Count++
	}

	out := make([]HeatmapDay, 0, len(byDate))
	walkDays(from.Format(DateLayout), today.Format(DateLayout), func(date string) {
		if d, ok := byDate[date]; ok {
			out = append(out, *d)
		}
	})
	return out
}

// YearToDate totals the activities of one sport type from the start of
// now's year up to now. An empty sport type matches everything.
func YearToDate(activities []model.Activity, sportType string, now time.Time) Totals {
	start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	var t Totals
	for i := range activities {
		a := &activities[i]
		if sportType != "" && a.SportType != sportType {
			continue
		}
		if a.StartDate.Before(start) || a.StartDate.After(now) {
			continue
		}
		t.add(a)
	}
	return t
}
