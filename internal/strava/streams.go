package strava

import "github.com/lildude/strautocoach/internal/model"

// StreamData is one channel of a key_by_type streams response.
type StreamData[T any] struct {
	Data         []T    `json:"data"`
	SeriesType   string `json:"series_type"`
	OriginalSize int    `json:"original_size"`
	Resolution   string `json:"resolution"`
}

// Streams is the key_by_type streams response. Missing channels are nil.
type Streams struct {
	Time           *StreamData[int]        `json:"time,omitempty"`
	Distance       *StreamData[float64]    `json:"distance,omitempty"`
	LatLng         *StreamData[[2]float64] `json:"latlng,omitempty"`
	Altitude       *StreamData[float64]    `json:"altitude,omitempty"`
	VelocitySmooth *StreamData[float64]    `json:"velocity_smooth,omitempty"`
	Heartrate      *StreamData[float64]    `json:"heartrate,omitempty"`
	Cadence        *StreamData[float64]    `json:"cadence,omitempty"`
	Watts          *StreamData[float64]    `json:"watts,omitempty"`
	Temp           *StreamData[float64]    `json:"temp,omitempty"`
	Moving         *StreamData[bool]       `json:"moving,omitempty"`
	GradeSmooth    *StreamData[float64]    `json:"grade_smooth,omitempty"`
}

func data[T any](s *StreamData[T]) []T {
	if s == nil {
		return nil
	}
	return s.Data
}

// StreamSet flattens the response into the stored channel set.
func (s *Streams) StreamSet() model.StreamSet {
	if s == nil {
		return model.StreamSet{}
	}
	return model.StreamSet{
		Time:      data(s.Time),
		Distance:  data(s.Distance),
		LatLng:    data(s.LatLng),
		Altitude:  data(s.Altitude),
		Velocity:  data(s.VelocitySmooth),
		HeartRate: data(s.Heartrate),
		Cadence:   data(s.Cadence),
		Watts:     data(s.Watts),
		Temp:      data(s.Temp),
		Moving:    data(s.Moving),
		Grade:     data(s.GradeSmooth),
	}
}
