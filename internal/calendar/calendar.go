// Package calendar reads planned workouts from iCal training calendars
// such as the feeds TrainerRoad publishes.
package calendar

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apognu/gocal"
)

type Workout struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Service struct {
	client HTTPClient
}

// NewService returns a calendar reader. A nil client uses
// http.DefaultClient.
func NewService(client HTTPClient) *Service {
	if client == nil {
		client = http.DefaultClient
	}
	return &Service{client: client}
}

// NormalizeURL checks a feed URL and rewrites webcal:// links to https.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parsing calendar URL: %w", err)
	}
	switch u.Scheme {
	case "webcal":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported calendar URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("calendar URL %q has no host", raw)
	}
	return u.String(), nil
}

// PlannedWorkout returns the first event in the feed on the same day as
// day, in day's location, or nil when nothing is planned.
func (s *Service) PlannedWorkout(ctx context.Context, feedURL string, day time.Time) (*Workout, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching calendar: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching calendar: unexpected status %d", resp.StatusCode)
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1).Add(-time.Second)

	c := gocal.NewParser(resp.Body)
	c.Start, c.End = &start, &end
	if err := c.Parse(); err != nil {
		return nil, fmt.Errorf("parsing calendar: %w", err)
	}

	for _, e := range c.Events {
		if e.Start == nil {
			continue
		}
		w := &Workout{
			Name:        workoutName(e.Summary),
			Description: e.Description,
			Start:       *e.Start,
			End:         *e.Start,
		}
		if e.End != nil {
			w.End = *e.End
		}
		return w, nil
	}
	return nil, nil
}

// workoutName strips the duration TrainerRoad puts before the workout
// name, as in "1:00 - Truchas -3".
func workoutName(summary string) string {
	summary = strings.TrimSpace(summary)
	if i := strings.Index(summary, " - "); i >= 0 {
		return strings.TrimSpace(summary[i+3:])
	}
	return summary
}
