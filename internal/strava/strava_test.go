package strava

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/go-redis/redis/v8"
	"github.com/jarcoal/httpmock"
	"github.com/lildude/strautocoach/internal/client"
	"github.com/lildude/strautocoach/internal/model"
	"golang.org/x/oauth2"
)

const activityJSON = `{
	"id": 123,
	"athlete": {"id": 42},
	"name": "Lunch Run",
	"sport_type": "Run",
	"type": "Run",
	"start_date": "2026-10-01T12:00:00Z",
	"distance": 10000,
	"moving_time": 3000,
	"elapsed_time": 3100,
	"total_elevation_gain": 55.5,
	"average_speed": 3.33,
	"max_speed": 5.1,
	"has_heartrate": true,
	"average_heartrate": 151.2,
	"max_heartrate": 178,
	"calories": 700.5,
	"splits_metric": [{"split": 1, "distance": 1000, "moving_time": 300}],
	"segment_efforts": [{"id": 9, "name": "Hill", "elapsed_time": 90, "segment": {"id": 1, "name": "Hill"}}]
}`

type countingLimiter struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (l *countingLimiter) Wait(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return l.err
}

func TestGetActivity(t *testing.T) {
	c, mux, teardown := setup(nil)
	defer teardown()

	mux.HandleFunc("/api/v3/activities/123", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("include_all_efforts") != "true" {
			t.Errorf("expected include_all_efforts=true, got %q", r.URL.RawQuery)
		}
		fmt.Fprint(w, activityJSON)
	})

	got, err := c.GetActivity(context.Background(), 123)
	if err != nil {
		t.Fatalf("expected nil error, got %q", err)
	}
	if got.Athlete.ID != 42 || got.SportType != "Run" || got.Distance != 10000 {
		t.Errorf("unexpected activity %+v", got)
	}
	if got.AverageHeartrate == nil || *got.AverageHeartrate != 151.2 {
		t.Errorf("expected average heart rate 151.2, got %v", got.AverageHeartrate)
	}
	if len(got.SplitsMetric) != 1 || len(got.SegmentEfforts) != 1 || got.SegmentEfforts[0].Segment.Name != "Hill" {
		t.Errorf("expected splits and segment efforts, got %+v %+v", got.SplitsMetric, got.SegmentEfforts)
	}
}

func TestGetActivityErrors(t *testing.T) {
	c, mux, teardown := setup(nil)
	defer teardown()

	mux.HandleFunc("/api/v3/activities/1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/api/v3/activities/2", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.GetActivity(context.Background(), 1)
	if !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	_, err = c.GetActivity(context.Background(), 2)
	if StatusCode(err) != http.StatusTooManyRequests || IsNotFound(err) {
		t.Errorf("expected 429, got %v", err)
	}
	if StatusCode(errors.New("boom")) != 0 {
		t.Error("expected 0 for a non API error")
	}
}

func TestGetActivityStreams(t *testing.T) {
	c, mux, teardown := setup(nil)
	defer teardown()

	mux.HandleFunc("/api/v3/activities/123/streams", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key_by_type") != "true" {
			t.Errorf("expected key_by_type=true, got %q", r.URL.RawQuery)
		}
		if q.Get("keys") != "time,distance,latlng,altitude,velocity_smooth,heartrate,cadence,watts,temp,moving,grade_smooth" {
			t.Errorf("unexpected keys %q", q.Get("keys"))
		}
		fmt.Fprint(w, `{
			"time": {"data": [0, 1, 2], "series_type": "distance", "original_size": 3, "resolution": "high"},
			"heartrate": {"data": [120, 125, 130]},
			"latlng": {"data": [[51.5, -0.1], [51.6, -0.1], [51.7, -0.1]]},
			"moving": {"data": [true, true, false]}
		}`)
	})

	got, err := c.GetActivityStreams(context.Background(), 123, nil)
	if err != nil {
		t.Fatalf("expected nil error, got %q", err)
	}
	set := got.StreamSet()
	if len(set.Time) != 3 || set.HeartRate[2] != 130 || set.LatLng[1][0] != 51.6 || set.Moving[2] {
		t.Errorf("unexpected stream set %+v", set)
	}
	if set.Watts != nil || set.Velocity != nil {
		t.Errorf("expected absent channels to stay nil, got %+v", set)
	}

	var none *Streams
	if !none.StreamSet().Empty() {
		t.Error("expected nil streams to convert to an empty set")
	}
}

func TestGetActivityLaps(t *testing.T) {
	c, mux, teardown := setup(nil)
	defer teardown()

	mux.HandleFunc("/api/v3/activities/123/laps", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id": 1, "lap_index": 1, "distance": 1000, "moving_time": 290}, {"id": 2, "lap_index": 2, "distance": 1000, "moving_time": 285}]`)
	})

	got, err := c.GetActivityLaps(context.Background(), 123)
	if err != nil {
		t.Fatalf("expected nil error, got %q", err)
	}
	want := []model.Lap{{ID: 1, LapIndex: 1, Distance: 1000, MovingTime: 290}, {ID: 2, LapIndex: 2, Distance: 1000, MovingTime: 285}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestListActivities(t *testing.T) {
	limiter := &countingLimiter{}
	c, mux, teardown := setup(limiter)
	defer teardown()

	after := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	mux.HandleFunc("/api/v3/athlete/activities", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("after") != fmt.Sprint(after.Unix()) || q.Get("page") != "2" || q.Get("per_page") != "100" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		w.Header().Set("X-RateLimit-Limit", "200,2000")
		w.Header().Set("X-RateLimit-Usage", "17,340")
		fmt.Fprint(w, `[{"id": 1, "athlete": {"id": 42}}, {"id": 2, "athlete": {"id": 42}}]`)
	})

	var usage RateUsage
	c.OnUsage = func(u RateUsage) { usage = u }

	got, err := c.ListActivities(context.Background(), after, 2, 100)
	if err != nil {
		t.Fatalf("expected nil error, got %q", err)
	}
	if len(got) != 2 || got[1].ID != 2 {
		t.Errorf("unexpected activities %+v", got)
	}
	if usage != (RateUsage{ShortLimit: 200, DailyLimit: 2000, ShortUsage: 17, DailyUsage: 340}) {
		t.Errorf("unexpected usage %+v", usage)
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != "42" {
		t.Errorf("expected one limiter wait for key 42, got %v", limiter.keys)
	}
}

func TestLimiterErrorStopsRequest(t *testing.T) {
	limiter := &countingLimiter{err: context.DeadlineExceeded}
	c, mux, teardown := setup(limiter)
	defer teardown()

	called := false
	mux.HandleFunc("/api/v3/activities/5", func(w http.ResponseWriter, r *http.Request) { called = true })

	if _, err := c.GetActivity(context.Background(), 5); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if called {
		t.Error("expected no request once the limiter failed")
	}
}

func TestParseRateUsage(t *testing.T) {
	tests := []struct {
		name   string
		limit  string
		usage  string
		wantOK bool
	}{
		{"valid", "200,2000", "1,2", true},
		{"spaces", "200, 2000", " 1,2", true},
		{"missing", "", "", false},
		{"single value", "200", "1", false},
		{"not numbers", "a,b", "1,2", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			h.Set("X-RateLimit-Limit", tc.limit)
			h.Set("X-RateLimit-Usage", tc.usage)
			if _, ok := ParseRateUsage(h); ok != tc.wantOK {
				t.Errorf("expected ok %v, got %v", tc.wantOK, ok)
			}
		})
	}
}

type recordingSaver struct {
	tokens []*oauth2.Token
}

func (s *recordingSaver) UpdateUserToken(_ context.Context, _ uint, tok *oauth2.Token) error {
	s.tokens = append(s.tokens, tok)
	return nil
}

func TestClientSourceRefreshesAndSaves(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"fresh","token_type":"Bearer","refresh_token":"r2","expires_in":21600}`)
	})
	mux.HandleFunc("/api/v3/activities/7", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer fresh" {
			t.Errorf("expected refreshed bearer token, got %q", got)
		}
		fmt.Fprint(w, `{"id": 7, "athlete": {"id": 42}}`)
	})

	orig := BaseURL
	BaseURL = server.URL + "/api/v3/"
	defer func() { BaseURL = orig }()

	cfg := OAuthConfig("id", "secret", "")
	cfg.Endpoint.TokenURL = server.URL + "/oauth/token"
	saver := &recordingSaver{}
	limiter := &countingLimiter{}
	src := &ClientSource{OAuth: cfg, Tokens: saver, Limiter: limiter}

	u := &model.User{StravaID: 42}
	u.ID = 1
	if err := u.SetToken(&oauth2.Token{AccessToken: "stale", RefreshToken: "r1", Expiry: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}

	c, err := src.ClientFor(context.Background(), u)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetActivity(context.Background(), 7); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(saver.tokens) != 1 || saver.tokens[0].AccessToken != "fresh" {
		t.Errorf("expected refreshed token to be saved once, got %+v", saver.tokens)
	}

	other := &model.User{StravaID: 43}
	other.ID = 2
	if err := other.SetToken(&oauth2.Token{AccessToken: "fresh", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	oc, err := src.ClientFor(context.Background(), other)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := oc.GetActivity(context.Background(), 7); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(limiter.keys) != 2 || limiter.keys[0] != "app:id" || limiter.keys[1] != "app:id" {
		t.Errorf("expected both athletes to share the app budget, got %v", limiter.keys)
	}

	if _, err := src.ClientFor(context.Background(), &model.User{StravaID: 9}); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
}

func TestEnsureSubscription(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	base, _ := url.Parse("https://www.strava.com/api/v3/")
	rc := client.NewClient(base, nil)
	cfg := SubscriptionConfig{ClientID: "1", ClientSecret: "s", CallbackURL: "https://example.com/webhook", VerifyToken: "v"}

	t.Run("already subscribed", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder(http.MethodGet, `=~^https://www\.strava\.com/api/v3/push_subscriptions`,
			httpmock.NewStringResponder(200, `[{"id": 1, "callback_url": "https://example.com/webhook"}]`))

		created, err := EnsureSubscription(context.Background(), rc, cfg)
		if err != nil || created {
			t.Errorf("expected existing subscription to be kept, got %v, %v", created, err)
		}
		if n := httpmock.GetCallCountInfo()["POST https://www.strava.com/api/v3/push_subscriptions"]; n != 0 {
			t.Errorf("expected no POST, got %d", n)
		}
	})

	t.Run("creates subscription", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder(http.MethodGet, `=~^https://www\.strava\.com/api/v3/push_subscriptions`,
			httpmock.NewStringResponder(200, `[]`))
		httpmock.RegisterResponder(http.MethodPost, "https://www.strava.com/api/v3/push_subscriptions",
			httpmock.NewStringResponder(201, `{"id": 2}`))

		created, err := EnsureSubscription(context.Background(), rc, cfg)
		if err != nil || !created {
			t.Errorf("expected a new subscription, got %v, %v", created, err)
		}
	})

	t.Run("listing fails", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder(http.MethodGet, `=~^https://www\.strava\.com/api/v3/push_subscriptions`,
			httpmock.NewStringResponder(500, ``))

		if _, err := EnsureSubscription(context.Background(), rc, cfg); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

// setup starts a test API server and returns a Strava client for athlete 42.
func setup(limiter Limiter) (c *Client, mux *http.ServeMux, teardown func()) {
	mux = http.NewServeMux()
	server := httptest.NewServer(mux)

	surl, _ := url.Parse(server.URL + "/api/v3/")
	return NewClient(client.NewClient(surl, nil), limiter, "42"), mux, server.Close
}

func waitFor(l *RedisLimiter, key string, timeout time.Duration) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	start := time.Now()
	err := l.Wait(ctx, key)
	return time.Since(start), err
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewRedisLimiter(rdb, 2, 2*time.Second)

	for i := 0; i < 2; i++ {
		took, err := waitFor(l, "app:1", time.Second)
		if err != nil {
			t.Fatalf("wait %d: expected nil error, got %v", i, err)
		}
		if took > 200*time.Millisecond {
			t.Errorf("wait %d: expected to pass at once, took %v", i, took)
		}
	}

	took, err := waitFor(l, "app:1", 300*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the spent budget to block until the deadline, got %v", err)
	}
	if took < 250*time.Millisecond {
		t.Errorf("expected to block for the whole deadline, returned after %v", took)
	}

	if _, err := waitFor(l, "app:2", 100*time.Millisecond); err != nil {
		t.Errorf("expected another key to have its own budget, got %v", err)
	}
}

func TestRedisLimiterRefills(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewRedisLimiter(rdb, 1, 200*time.Millisecond)
	if _, err := waitFor(l, "app:1", time.Second); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	took, err := waitFor(l, "app:1", 2*time.Second)
	if err != nil {
		t.Fatalf("expected the wait to end once the budget refills, got %v", err)
	}
	if took < 100*time.Millisecond {
		t.Errorf("expected to wait for the budget, returned after %v", took)
	}
}
