package ingest

import (
	"math"

	"github.com/lildude/strautocoach/internal/model"
	"github.com/lildude/strautocoach/internal/strava"
)

// toModel converts the remote detail and its secondary channels into the
// stored form. Channels that failed transiently keep whatever prev
// already holds; absent channels are cleared.
func toModel(userID uint, a *strava.Activity, streams Fetch[*strava.Streams], laps Fetch[[]model.Lap], prev *model.Activity) *model.Activity {
	sport := a.SportType
	if sport == "" {
		sport = a.Type
	}

	out := &model.Activity{
		UserID:             userID,
		StravaID:           a.ID,
		Name:               a.Name,
		SportType:          sport,
		StartDate:          a.StartDate.UTC(),
		DistanceMeters:     a.Distance,
		MovingTimeSeconds:  a.MovingTime,
		ElapsedTimeSeconds: a.ElapsedTime,
		AverageSpeed:       a.AverageSpeed,
		MaxSpeed:           a.MaxSpeed,
		HasHeartrate:       a.HasHeartrate,
		AverageHeartrate:   a.AverageHeartrate,
		MaxHeartrate:       a.MaxHeartrate,
		TotalElevationGain: a.TotalElevationGain,
		AverageCadence:     a.AverageCadence,
		Calories:           roundCalories(a.Calories),
		Detail: model.Detail{
			Description:    a.Description,
			DeviceName:     a.DeviceName,
			GearID:         a.GearID,
			WorkoutType:    a.WorkoutType,
			Trainer:        a.Trainer,
			Commute:        a.Commute,
			Manual:         a.Manual,
			AverageWatts:   a.AverageWatts,
			SplitsMetric:   a.SplitsMetric,
			SplitsStandard: a.SplitsStandard,
			BestEfforts:    a.BestEfforts,
		},
		Segments: model.SegmentEfforts(a.SegmentEfforts),
	}

	switch streams.Status {
	case Ok:
		out.Streams = streams.Value.StreamSet()
	case TransientError:
		if prev != nil {
			out.Streams = prev.Streams
		}
	}

	switch laps.Status {
	case Ok:
		out.Laps = model.Laps(laps.Value)
	case TransientError:
		if prev != nil {
			out.Laps = prev.Laps
		}
	}

	return out
}

func roundCalories(c *float64) *int {
	if c == nil {
		return nil
	}
	v := int(math.Round(*c))
	return &v
}
