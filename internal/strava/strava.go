// Package strava implements the Strava API calls used to ingest activities.
package strava

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lildude/strautocoach/internal/client"
	"github.com/lildude/strautocoach/internal/model"
	"golang.org/x/oauth2"
)

// BaseURL is the root of the v3 API. Paths below are relative to it.
var BaseURL = "https://www.strava.com/api/v3/"

// DefaultStreamKeys is the channel set requested for every activity.
var DefaultStreamKeys = []string{
	"time", "distance", "latlng", "altitude", "velocity_smooth",
	"heartrate", "cadence", "watts", "temp", "moving", "grade_smooth",
}

// OAuthConfig returns the OAuth2 configuration for the Strava app.
func OAuthConfig(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://www.strava.com/oauth/authorize",
			TokenURL:  "https://www.strava.com/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
		Scopes:      []string{"read,activity:read_all"},
	}
}

type Athlete struct {
	ID int64 `json:"id"`
}

// Activity holds the data we want from the Strava API for an activity.
// List endpoints return the summary subset of these fields.
type Activity struct {
	ID                 int64     `json:"id"`
	Athlete            Athlete   `json:"athlete"`
	Name               string    `json:"name"`
	Type               string    `json:"type"`
	SportType          string    `json:"sport_type"`
	StartDate          time.Time `json:"start_date"`
	StartDateLocal     time.Time `json:"start_date_local"`
	Timezone           string    `json:"timezone"`
	Distance           float64   `json:"distance"`
	MovingTime         int       `json:"moving_time"`
	ElapsedTime        int       `json:"elapsed_time"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	AverageSpeed       float64   `json:"average_speed"`
	MaxSpeed           float64   `json:"max_speed"`
	HasHeartrate       bool      `json:"has_heartrate"`
	AverageHeartrate   *float64  `json:"average_heartrate"`
	MaxHeartrate       *float64  `json:"max_heartrate"`
	AverageCadence     *float64  `json:"average_cadence"`
	AverageWatts       *float64  `json:"average_watts"`
	Calories           *float64  `json:"calories"`
	Description        string    `json:"description"`
	DeviceName         string    `json:"device_name"`
	GearID             string    `json:"gear_id"`
	WorkoutType        *int      `json:"workout_type"`
	Trainer            bool      `json:"trainer"`
	Commute            bool      `json:"commute"`
	Manual             bool      `json:"manual"`

	SplitsMetric   []model.Split  `json:"splits_metric"`
	SplitsStandard []model.Split  `json:"splits_standard"`
	BestEfforts    []model.Effort `json:"best_efforts"`
	SegmentEfforts []model.Effort `json:"segment_efforts"`
}

// WebhookPayload is the body of a push subscription event.
type WebhookPayload struct {
	AspectType     string            `json:"aspect_type"`
	EventTime      int64             `json:"event_time"`
	ObjectID       int64             `json:"object_id"`
	ObjectType     string            `json:"object_type"`
	OwnerID        int64             `json:"owner_id"`
	SubscriptionID int64             `json:"subscription_id"`
	Updates        map[string]string `json:"updates"`
}

// Client calls the Strava API on behalf of one athlete. Every request
// first waits on the limiter under the client's budget key.
type Client struct {
	rc      *client.Client
	limiter Limiter
	key     string

	// OnUsage, when set, receives the rate limit usage reported by each response.
	OnUsage func(RateUsage)
}

// NewClient wraps a REST client. A nil limiter disables rate limiting.
func NewClient(rc *client.Client, limiter Limiter, key string) *Client {
	return &Client{rc: rc, limiter: limiter, key: key}
}

// NewClientFor builds a client for BaseURL using the given HTTP client.
func NewClientFor(hc *http.Client, limiter Limiter, key string) (*Client, error) {
	u, err := url.Parse(BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	return NewClient(client.NewClient(u, hc), limiter, key), nil
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.key); err != nil {
			return fmt.Errorf("waiting for rate limit: %w", err)
		}
	}

	req, err := c.rc.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.rc.Do(req, v)
	if resp != nil && c.OnUsage != nil {
		if u, ok := ParseRateUsage(resp.Header); ok {
			c.OnUsage(u)
		}
	}
	return err
}

// GetActivity fetches the detailed representation of an activity.
func (c *Client) GetActivity(ctx context.Context, id int64) (*Activity, error) {
	var a Activity
	if err := c.get(ctx, fmt.Sprintf("activities/%d?include_all_efforts=true", id), &a); err != nil {
		return nil, fmt.Errorf("getting activity %d: %w", id, err)
	}
	return &a, nil
}

// GetActivityStreams fetches the requested channels keyed by type.
func (c *Client) GetActivityStreams(ctx context.Context, id int64, keys []string) (*Streams, error) {
	if len(keys) == 0 {
		keys = DefaultStreamKeys
	}
	var s Streams
	path := fmt.Sprintf("activities/%d/streams?keys=%s&key_by_type=true", id, url.QueryEscape(strings.Join(keys, ",")))
	if err := c.get(ctx, path, &s); err != nil {
		return nil, fmt.Errorf("getting streams for activity %d: %w", id, err)
	}
	return &s, nil
}

// GetActivityLaps fetches the laps of an activity.
func (c *Client) GetActivityLaps(ctx context.Context, id int64) ([]model.Lap, error) {
	var laps []model.Lap
	if err := c.get(ctx, fmt.Sprintf("activities/%d/laps", id), &laps); err != nil {
		return nil, fmt.Errorf("getting laps for activity %d: %w", id, err)
	}
	return laps, nil
}

// ListActivities returns one page of the athlete's activities started after the given time.
func (c *Client) ListActivities(ctx context.Context, after time.Time, page, perPage int) ([]Activity, error) {
	var out []Activity
	path := fmt.Sprintf("athlete/activities?after=%d&page=%d&per_page=%d", after.Unix(), page, perPage)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("listing activities page %d: %w", page, err)
	}
	return out, nil
}

// StatusCode extracts the HTTP status from an API error, or 0.
func StatusCode(err error) int {
	var er *client.ErrorResponse
	if errors.As(err, &er) {
		return er.StatusCode()
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}
