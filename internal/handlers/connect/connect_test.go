package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/lildude/strautocoach/internal/cache"
	"github.com/lildude/strautocoach/internal/logger"
	"github.com/lildude/strautocoach/internal/store"
	"github.com/lildude/strautocoach/internal/strava"
	"github.com/lildude/strautocoach/internal/testutil"
)

const tokenResponse = `{
	"token_type": "Bearer",
	"expires_at": 4102444800,
	"expires_in": 21600,
	"refresh_token": "refresh",
	"access_token": "access",
	"athlete": {"id": 1234, "firstname": "Jo", "lastname": "Runner"}
}`

type fakeImporter struct{ started []uint }

func (f *fakeImporter) StartIfNeeded(_ context.Context, userID uint) (bool, error) {
	f.started = append(f.started, userID)
	return true, nil
}

type fixture struct {
	router   *mux.Router
	store    *store.Store
	redis    *miniredis.Miniredis
	importer *fakeImporter
}

func setup(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	f := &fixture{router: mux.NewRouter(), store: store.New(testutil.NewDB(t)), redis: mr, importer: &fakeImporter{}}
	oc := strava.OAuthConfig("client", "secret", "https://coach.example.com/connect/callback")
	NewHandler(oc, rc, f.store, f.importer, logger.Discard()).SetupRoutes(f.router)
	return f
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	return w
}

// start begins the flow and returns the state handed to Strava.
func (f *fixture) start(t *testing.T, query string) string {
	t.Helper()
	w := f.get("/connect" + query)
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "www.strava.com", loc.Host)
	require.Equal(t, "client", loc.Query().Get("client_id"))
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestConnect(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodPost, "https://www.strava.com/oauth/token",
		httpmock.NewStringResponder(200, tokenResponse))

	f := setup(t)
	state := f.start(t, "?chat_id=42&calendar_url="+url.QueryEscape("webcal://api.trainerroad.com/v1/calendar/ics/abc"))
	require.True(t, f.redis.Exists("connect:state:"+state))

	w := f.get("/connect/callback?state=" + state + "&code=abc&scope=read,activity:read_all")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), "Jo Runner")
	require.False(t, f.redis.Exists("connect:state:"+state), "state must be single use")

	u, err := f.store.FindUserByStravaID(context.Background(), 1234)
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, "Jo Runner", u.Name)
	require.Equal(t, int64(42), u.TelegramChatID)
	require.Equal(t, "https://api.trainerroad.com/v1/calendar/ics/abc", u.CalendarURL)
	tok, err := u.Token()
	require.NoError(t, err)
	require.Equal(t, "access", tok.AccessToken)
	require.Equal(t, "refresh", tok.RefreshToken)
	require.Equal(t, []uint{u.ID}, f.importer.started)

	// Reconnecting without a chat keeps the one on file.
	state = f.start(t, "")
	w = f.get("/connect/callback?state=" + state + "&code=def&scope=read,activity:read_all")
	require.Equal(t, http.StatusOK, w.Code)
	u, err = f.store.FindUserByStravaID(context.Background(), 1234)
	require.NoError(t, err)
	require.Equal(t, int64(42), u.TelegramChatID)
	require.NotEmpty(t, u.CalendarURL)
	require.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestCallbackErrors(t *testing.T) {
	tests := []struct {
		name       string
		query      func(state string) string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "denied",
			query:      func(string) string { return "?error=access_denied" },
			wantStatus: http.StatusBadRequest,
			wantBody:   "authorization failed",
		},
		{
			name:       "missing activity scope",
			query:      func(s string) string { return "?state=" + s + "&code=abc&scope=read" },
			wantStatus: http.StatusBadRequest,
			wantBody:   "activity access was not granted",
		},
		{
			name:       "unknown state",
			query:      func(string) string { return "?state=nope&code=abc&scope=activity:read" },
			wantStatus: http.StatusBadRequest,
			wantBody:   "state invalid",
		},
		{
			name:       "missing code",
			query:      func(s string) string { return "?state=" + s + "&scope=activity:read" },
			wantStatus: http.StatusBadRequest,
			wantBody:   "code not found",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := setup(t)
			state := f.start(t, "")

			w := f.get("/connect/callback" + tc.query(state))
			if w.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d", tc.wantStatus, w.Code)
			}
			if !strings.Contains(w.Body.String(), tc.wantBody) {
				t.Errorf("expected body to contain %q, got %q", tc.wantBody, w.Body.String())
			}
			if len(f.importer.started) != 0 {
				t.Error("expected no import")
			}
		})
	}
}

func TestStartRejectsBadParams(t *testing.T) {
	f := setup(t)
	for _, q := range []string{"?chat_id=abc", "?calendar_url=ftp%3A%2F%2Fexample.com%2Fcal.ics"} {
		if w := f.get("/connect" + q); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestCallbackTokenFailure(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodPost, "https://www.strava.com/oauth/token",
		httpmock.NewStringResponder(400, `{"message":"Bad Request"}`))

	f := setup(t)
	state := f.start(t, "")
	w := f.get("/connect/callback?state=" + state + "&code=abc&scope=activity:read_all")
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}

	u, err := f.store.FindUserByStravaID(context.Background(), 1234)
	require.NoError(t, err)
	require.Nil(t, u)
}
