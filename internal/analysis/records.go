package analysis

import (
	"strings"
	"time"

	"github.com/lildude/strautocoach/internal/model"
)

// RaceDistance is a canonical distance a record can be set over.
type RaceDistance struct {
	Name string
	Km   float64
}

// RaceDistances lists the record distances, shortest first.
var RaceDistances = []RaceDistance{
	{"1km", 1},
	{"5km", 5},
	{"10km", 10},
	{"halfMarathon", 21.0975},
	{"marathon", 42.195},
}

// PersonalRecord is the fastest average pace, in seconds per km, of any
// run at least as long as the distance.
type PersonalRecord struct {
	Pace       float64   `json:"pace"`
	Date       time.Time `json:"date"`
	ActivityID uint      `json:"activity_id"`
}

// IsRun reports whether the sport type is a kind of running.
func IsRun(sportType string) bool {
	return strings.Contains(strings.ToLower(sportType), "run")
}

// PersonalRecords returns a record per RaceDistances name; nil when no
// run qualifies. The pace is over the whole activity, so a fast 10 km
// run can hold the 5 km record.
func PersonalRecords(activities []model.Activity) map[string]*PersonalRecord {
	out := make(map[string]*PersonalRecord, len(RaceDistances))
	for _, rd := range RaceDistances {
		out[rd.Name] = nil
	}

	for i := range activities {
		a := &activities[i]
		if !IsRun(a.SportType) {
			continue
		}
		km := a.DistanceMeters / 1000
		if a.MovingTimeSeconds <= 0 || km <= 0 {
			continue
		}
		pace := float64(a.MovingTimeSeconds) / km

		for _, rd := range RaceDistances {
			if km < rd.Km {
				break
			}
			if cur := out[rd.Name]; cur == nil || pace < cur.Pace {
				out[rd.Name] = &PersonalRecord{Pace: pace, Date: a.StartDate, ActivityID: a.ID}
			}
		}
	}
	return out
}
