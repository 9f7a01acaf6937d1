package testutil

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/lildude/strautocoach/internal/client"
	"github.com/lildude/strautocoach/internal/model"
	"github.com/lildude/strautocoach/internal/strava"
)

// APIError builds the error the REST client returns for status.
func APIError(status int) error {
	return &client.ErrorResponse{Response: &http.Response{
		StatusCode: status,
		Request:    &http.Request{Method: http.MethodGet, URL: &url.URL{Path: "/api/v3/test"}},
	}}
}

// FakeFetcher serves activities from memory. Streams and laps missing
// from their maps answer 404.
type FakeFetcher struct {
	mu sync.Mutex

	Activities map[int64]*strava.Activity
	Streams    map[int64]*strava.Streams
	Laps       map[int64][]model.Lap

	// DetailErrs are returned, in order, by the first GetActivity calls.
	DetailErrs []error
	StreamsErr error
	LapsErr    error
	ListErr    error

	Calls map[string]int
}

func NewFakeFetcher() *FakeFetcher {
	return &FakeFetcher{
		Activities: map[int64]*strava.Activity{},
		Streams:    map[int64]*strava.Streams{},
		Laps:       map[int64][]model.Lap{},
		Calls:      map[string]int{},
	}
}

// Add registers an activity owned by athlete.
func (f *FakeFetcher) Add(id, athlete int64, start time.Time) *strava.Activity {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &strava.Activity{
		ID:                 id,
		Athlete:            strava.Athlete{ID: athlete},
		Name:               "Run",
		SportType:          "Run",
		StartDate:          start,
		Distance:           10000,
		MovingTime:         3000,
		ElapsedTime:        3100,
		TotalElevationGain: 50,
	}
	f.Activities[id] = a
	return a
}

func (f *FakeFetcher) Count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[call]
}

func (f *FakeFetcher) GetActivity(ctx context.Context, id int64) (*strava.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["detail"]++
	if len(f.DetailErrs) > 0 {
		err := f.DetailErrs[0]
		f.DetailErrs = f.DetailErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	a, ok := f.Activities[id]
	if !ok {
		return nil, APIError(http.StatusNotFound)
	}
	cp := *a
	return &cp, nil
}

func (f *FakeFetcher) GetActivityStreams(ctx context.Context, id int64, keys []string) (*strava.Streams, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["streams"]++
	if f.StreamsErr != nil {
		return nil, f.StreamsErr
	}
	s, ok := f.Streams[id]
	if !ok {
		return nil, APIError(http.StatusNotFound)
	}
	return s, nil
}

func (f *FakeFetcher) GetActivityLaps(ctx context.Context, id int64) ([]model.Lap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["laps"]++
	if f.LapsErr != nil {
		return nil, f.LapsErr
	}
	l, ok := f.Laps[id]
	if !ok {
		return nil, APIError(http.StatusNotFound)
	}
	return l, nil
}

// ListActivities pages through the activities started after the given
// time, oldest first.
func (f *FakeFetcher) ListActivities(ctx context.Context, after time.Time, page, perPage int) ([]strava.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["list"]++
	if f.ListErr != nil {
		return nil, f.ListErr
	}

	var all []strava.Activity
	for _, a := range f.Activities {
		if a.StartDate.After(after) {
			all = append(all, *a)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartDate.Before(all[j].StartDate) })

	from := (page - 1) * perPage
	if from >= len(all) {
		return []strava.Activity{}, nil
	}
	to := from + perPage
	if to > len(all) {
		to = len(all)
	}
	return all[from:to], nil
}
