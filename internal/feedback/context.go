package feedback

import (
	"time"

	"github.com/lildude/strautocoach/internal/analysis"
	"github.com/lildude/strautocoach/internal/calendar"
	"github.com/lildude/strautocoach/internal/model"
)

const (
	recentDays  = 7
	recentLimit = 5
	historyDays = 90
)

// ActivitySummary is the per-activity part of the coaching context.
type ActivitySummary struct {
	ID               uint      `json:"id"`
	Name             string    `json:"name"`
	SportType        string    `json:"sport_type"`
	StartDate        time.Time `json:"start_date"`
	DistanceMeters   float64   `json:"distance_meters"`
	MovingTime       int       `json:"moving_time"`
	ElapsedTime      int       `json:"elapsed_time"`
	PaceSecondsPerKm float64   `json:"pace_seconds_per_km,omitempty"`
	AverageHeartrate *float64  `json:"average_heartrate,omitempty"`
	MaxHeartrate     *float64  `json:"max_heartrate,omitempty"`
	ElevationGain    float64   `json:"elevation_gain"`
	AverageCadence   *float64  `json:"average_cadence,omitempty"`
	Calories         *int      `json:"calories,omitempty"`
}

func summarize(a *model.Activity) ActivitySummary {
	s := ActivitySummary{
		ID:               a.ID,
		Name:             a.Name,
		SportType:        a.SportType,
		StartDate:        a.StartDate,
		DistanceMeters:   a.DistanceMeters,
		MovingTime:       a.MovingTimeSeconds,
		ElapsedTime:      a.ElapsedTimeSeconds,
		AverageHeartrate: a.AverageHeartrate,
		MaxHeartrate:     a.MaxHeartrate,
		ElevationGain:    a.TotalElevationGain,
		AverageCadence:   a.AverageCadence,
		Calories:         a.Calories,
	}
	if a.DistanceMeters > 0 {
		s.PaceSecondsPerKm = float64(a.MovingTimeSeconds) / (a.DistanceMeters / 1000)
	}
	return s
}

// Context is everything the coach is told about an activity.
type Context struct {
	Activity ActivitySummary   `json:"activity"`
	Recent   []ActivitySummary `json:"recent"`

	Load       int    `json:"load"`
	LoadMethod string `json:"load_method"`

	Fitness *analysis.FitnessPoint `json:"fitness,omitempty"`
	Form    string                 `json:"form,omitempty"`

	PersonalRecords map[string]*analysis.PersonalRecord `json:"personal_records"`

	Splits            []model.Split `json:"splits,omitempty"`
	SplitUnit         string        `json:"split_unit,omitempty"`
	NegativeSplit     bool          `json:"negative_split"`
	SplitConsistency  *float64      `json:"split_consistency,omitempty"`
	ConsistencyLabel  string        `json:"consistency_label,omitempty"`
	CardiacDrift      *float64      `json:"cardiac_drift,omitempty"`
	TrainingLoadScore *int          `json:"training_load_score,omitempty"`
	Difficulty        int           `json:"difficulty"`
	DifficultyLabel   string        `json:"difficulty_label"`
	Efficiency        *int          `json:"efficiency,omitempty"`

	Planned    *calendar.Workout `json:"planned_workout,omitempty"`
	YearToDate *analysis.Totals  `json:"year_to_date,omitempty"`
}

// BuildContext derives the coaching context for a from the user's recent
// history and, for personal records and year-to-date totals, from all of
// their activities. Both may include a itself.
func BuildContext(a *model.Activity, history, all []model.Activity, now time.Time, p analysis.HRProfile) Context {
	ytd := analysis.YearToDate(all, a.SportType, now)
	c := Context{
		Activity:        summarize(a),
		Recent:          []ActivitySummary{},
		PersonalRecords: analysis.PersonalRecords(all),
		YearToDate:      &ytd,
	}

	load, method := p.ActivityLoad(a)
	c.Load, c.LoadMethod = load, method.String()

	since := now.AddDate(0, 0, -recentDays)
	for i := range history {
		h := &history[i]
		if h.ID == a.ID || h.StartDate.Before(since) {
			continue
		}
		c.Recent = append(c.Recent, summarize(h))
		if len(c.Recent) == recentLimit {
			break
		}
	}

	daily := analysis.DailyLoads(history, now.AddDate(0, 0, -historyDays), now, p)
	if series := analysis.FitnessFatigue(daily, now); len(series) > 0 {
		last := series[len(series)-1]
		c.Fitness = &last
		c.Form = analysis.FormDescription(last.TSB)
	}

	if splits, ok := a.Detail.Splits(); ok {
		c.Splits = splits.Items
		c.SplitUnit = string(splits.Unit)
		c.NegativeSplit = analysis.HasNegativeSplit(splits.Items)
		if len(splits.Items) > 1 {
			pct := analysis.SplitConsistency(splits.Items)
			c.SplitConsistency = &pct
			c.ConsistencyLabel = analysis.ConsistencyLabel(pct)
		}
	}

	if drift, ok := analysis.CardiacDrift(a.Streams.HeartRate); ok {
		c.CardiacDrift = &drift
	}
	if tls, ok := p.TrainingLoadScore(a.MovingTimeSeconds, a.AverageHeartrate, a.MaxHeartrate); ok {
		c.TrainingLoadScore = &tls
	}

	c.Difficulty = analysis.Difficulty(a.TotalElevationGain, a.DistanceMeters)
	c.DifficultyLabel = analysis.DifficultyLabel(c.Difficulty)
	if a.AverageHeartrate != nil {
		if eff, ok := analysis.Efficiency(c.Activity.PaceSecondsPerKm, *a.AverageHeartrate); ok {
			c.Efficiency = &eff
		}
	}
	return c
}
