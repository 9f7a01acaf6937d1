package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Split is one per-kilometre (or per-mile) split as reported by Strava.
type Split struct {
	Split               int      `json:"split"`
	Distance            float64  `json:"distance"`
	ElapsedTime         int      `json:"elapsed_time"`
	MovingTime          int      `json:"moving_time"`
	ElevationDifference float64  `json:"elevation_difference"`
	AverageSpeed        float64  `json:"average_speed"`
	AverageHeartrate    *float64 `json:"average_heartrate,omitempty"`
	PaceZone            int      `json:"pace_zone"`
}

type SplitUnit string

const (
	SplitsMetric   SplitUnit = "metric"
	SplitsStandard SplitUnit = "standard"
)

// Splits carries the split list together with the unit it was measured in.
type Splits struct {
	Unit  SplitUnit
	Items []Split
}

// Effort is a best effort or segment effort within an activity.
type Effort struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	ElapsedTime int       `json:"elapsed_time"`
	MovingTime  int       `json:"moving_time"`
	Distance    float64   `json:"distance"`
	StartDate   time.Time `json:"start_date"`
	PRRank      *int      `json:"pr_rank,omitempty"`
	KOMRank     *int      `json:"kom_rank,omitempty"`
	Segment     *Segment  `json:"segment,omitempty"`
}

type Segment struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Lap is a device or manual lap.
type Lap struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	LapIndex           int       `json:"lap_index"`
	Distance           float64   `json:"distance"`
	MovingTime         int       `json:"moving_time"`
	ElapsedTime        int       `json:"elapsed_time"`
	StartDate          time.Time `json:"start_date"`
	AverageSpeed       float64   `json:"average_speed"`
	MaxSpeed           float64   `json:"max_speed"`
	AverageHeartrate   *float64  `json:"average_heartrate,omitempty"`
	MaxHeartrate       *float64  `json:"max_heartrate,omitempty"`
	AverageCadence     *float64  `json:"average_cadence,omitempty"`
	AverageWatts       *float64  `json:"average_watts,omitempty"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
}

// Detail keeps the parts of the raw activity payload that are not
// promoted to columns.
type Detail struct {
	Description    string   `json:"description,omitempty"`
	DeviceName     string   `json:"device_name,omitempty"`
	GearID         string   `json:"gear_id,omitempty"`
	WorkoutType    *int     `json:"workout_type,omitempty"`
	Trainer        bool     `json:"trainer,omitempty"`
	Commute        bool     `json:"commute,omitempty"`
	Manual         bool     `json:"manual,omitempty"`
	AverageWatts   *float64 `json:"average_watts,omitempty"`
	SplitsMetric   []Split  `json:"splits_metric,omitempty"`
	SplitsStandard []Split  `json:"splits_standard,omitempty"`
	BestEfforts    []Effort `json:"best_efforts,omitempty"`
}

// Splits returns the metric splits when present, otherwise the standard ones.
func (d Detail) Splits() (Splits, bool) {
	switch {
	case len(d.SplitsMetric) > 0:
		return Splits{Unit: SplitsMetric, Items: d.SplitsMetric}, true
	case len(d.SplitsStandard) > 0:
		return Splits{Unit: SplitsStandard, Items: d.SplitsStandard}, true
	}
	return Splits{}, false
}

// StreamSet holds the per-sample channels of an activity. Channels are
// aligned by index; a nil channel was not recorded.
type StreamSet struct {
	Time      []int        `json:"time,omitempty"`
	Distance  []float64    `json:"distance,omitempty"`
	LatLng    [][2]float64 `json:"latlng,omitempty"`
	Altitude  []float64    `json:"altitude,omitempty"`
	Velocity  []float64    `json:"velocity_smooth,omitempty"`
	HeartRate []float64    `json:"heartrate,omitempty"`
	Cadence   []float64    `json:"cadence,omitempty"`
	Watts     []float64    `json:"watts,omitempty"`
	Temp      []float64    `json:"temp,omitempty"`
	Moving    []bool       `json:"moving,omitempty"`
	Grade     []float64    `json:"grade_smooth,omitempty"`
}

// Empty reports whether no channel was recorded.
func (s StreamSet) Empty() bool {
	return s.Time == nil && s.Distance == nil && s.LatLng == nil && s.Altitude == nil &&
		s.Velocity == nil && s.HeartRate == nil && s.Cadence == nil && s.Watts == nil &&
		s.Temp == nil && s.Moving == nil && s.Grade == nil
}

type Laps []Lap

type SegmentEfforts []Effort

type StringList []string

func (d Detail) Value() (driver.Value, error) { return jsonValue(d) }
func (d *Detail) Scan(src any) error         { return jsonScan(src, d) }

func (s StreamSet) Value() (driver.Value, error) {
	if s.Empty() {
		return nil, nil
	}
	return jsonValue(s)
}
func (s *StreamSet) Scan(src any) error { return jsonScan(src, s) }

func (l Laps) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return jsonValue(l)
}
func (l *Laps) Scan(src any) error { return jsonScan(src, l) }

func (e SegmentEfforts) Value() (driver.Value, error) {
	if e == nil {
		return nil, nil
	}
	return jsonValue(e)
}
func (e *SegmentEfforts) Scan(src any) error { return jsonScan(src, e) }

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return jsonValue(l)
}
func (l *StringList) Scan(src any) error { return jsonScan(src, l) }

func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// jsonScan decodes a JSON column. NULL leaves dst untouched.
func jsonScan(src, dst any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}
