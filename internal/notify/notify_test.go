package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/lildude/strautocoach/internal/logger"
	"github.com/lildude/strautocoach/internal/model"
	"github.com/lildude/strautocoach/internal/store"
	"github.com/lildude/strautocoach/internal/testutil"
)

const sendURL = "https://api.telegram.org/botTOKEN/sendMessage"

func floatPtr(f float64) *float64 { return &f }

func intPtr(i int) *int { return &i }

func TestSportName(t *testing.T) {
	tests := map[string]string{
		"Run":         "Run",
		"TrailRun":    "Trail Run",
		"VirtualRide": "Virtual Ride",
		"":            "Workout",
	}
	for in, want := range tests {
		if got := sportName(in); got != want {
			t.Errorf("sportName(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestBuildMessage(t *testing.T) {
	a := &model.Activity{
		Name:               "Sunday <Long> Run",
		SportType:          "Run",
		StartDate:          time.Date(2026, 10, 11, 7, 30, 0, 0, time.UTC),
		DistanceMeters:     21097.5,
		MovingTimeSeconds:  6300,
		AverageSpeed:       3.35,
		HasHeartrate:       true,
		AverageHeartrate:   floatPtr(151.4),
		TotalElevationGain: 120,
		Calories:           intPtr(1450),
	}

	msg := BuildMessage(a, nil, language.English)
	for _, want := range []string{
		"🏃 <b>Sunday &lt;Long&gt; Run</b>",
		"📅 Sun 11 Oct 2026, 07:30",
		"📏 Distance: <b>21.10 km</b>",
		"⏱ Duration: <b>1h 45m</b>",
		"🏃 Pace: <b>4:59 /km</b>",
		"❤️ Heart rate: <b>151 bpm</b>",
		"⛰ Elevation: <b>120 m</b>",
		"🔥 Calories: <b>1,450 kcal</b>",
		"Feedback is still being generated",
	} {
		assert.Contains(t, msg, want)
	}

	fb := &model.Feedback{
		Summary:         "Great long run.",
		Positives:       model.StringList{"Steady pace"},
		Recommendations: model.StringList{"Rest tomorrow"},
	}
	msg = BuildMessage(a, fb, language.English)
	assert.Contains(t, msg, "💬 <b>Summary</b>\nGreat long run.")
	assert.Contains(t, msg, "✅ <b>Positives</b>\n• Steady pace")
	assert.Contains(t, msg, "🎯 <b>Recommendations</b>\n• Rest tomorrow")
	assert.NotContains(t, msg, "To improve")
	assert.NotContains(t, msg, "still being generated")
}

func TestBuildMessageRide(t *testing.T) {
	a := &model.Activity{SportType: "Ride", DistanceMeters: 40000, MovingTimeSeconds: 4800, AverageSpeed: 8.333}
	msg := BuildMessage(a, nil, language.English)
	assert.Contains(t, msg, "🚴 <b>Ride</b>")
	assert.Contains(t, msg, "⚡ Speed: <b>30.0 km/h</b>")
	assert.NotContains(t, msg, "Pace")
	assert.NotContains(t, msg, "Heart rate")
}

func setup(t *testing.T, chatID int64) (*Telegram, *model.Activity) {
	t.Helper()
	ctx := context.Background()
	st := store.New(testutil.NewDB(t))

	u := &model.User{StravaID: 1001, TelegramChatID: chatID}
	require.NoError(t, st.UpsertUser(ctx, u))
	a := &model.Activity{StravaID: 555, Name: "Easy", SportType: "Run", DistanceMeters: 5000, MovingTimeSeconds: 1800}
	_, err := st.UpsertActivity(ctx, u.ID, a)
	require.NoError(t, err)
	_, err = st.SaveFeedback(ctx, &model.Feedback{ActivityID: a.ID, UserID: u.ID, Summary: "Nice and easy."})
	require.NoError(t, err)

	tg, err := NewTelegram("TOKEN", st, nil, logger.Discard())
	require.NoError(t, err)
	return tg, a
}

func TestNotify(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	tg, a := setup(t, 4242)

	var sent sendMessage
	httpmock.RegisterResponder("POST", sendURL, func(req *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(req.Body).Decode(&sent); err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, `{"ok":false}`), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, `{"ok":true}`), nil
	})

	require.NoError(t, tg.Notify(context.Background(), a.ID, a.UserID))
	assert.Equal(t, int64(4242), sent.ChatID)
	assert.Equal(t, "HTML", sent.ParseMode)
	assert.True(t, strings.Contains(sent.Text, "Nice and easy."))
}

func TestNotifySkipsWithoutChat(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	tg, a := setup(t, 0)
	require.NoError(t, tg.Notify(context.Background(), a.ID, a.UserID))
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestNotifyErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{"bad request", http.StatusBadRequest, `{"ok":false,"description":"chat not found"}`, true},
		{"rate limited", http.StatusTooManyRequests, `{"ok":false}`, false},
		{"server error", http.StatusInternalServerError, ``, false},
		{"not ok", http.StatusOK, `{"ok":false,"description":"weird"}`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			httpmock.Activate()
			defer httpmock.DeactivateAndReset()

			tg, a := setup(t, 4242)
			httpmock.RegisterResponder("POST", sendURL, httpmock.NewStringResponder(tc.status, tc.body))

			err := tg.Notify(context.Background(), a.ID, a.UserID)
			require.Error(t, err)
			var perm *backoff.PermanentError
			assert.Equal(t, tc.permanent, errors.As(err, &perm))
		})
	}
}

func TestNotifyUnknownActivity(t *testing.T) {
	tg, a := setup(t, 4242)
	err := tg.Notify(context.Background(), a.ID+1, a.UserID)
	assert.ErrorIs(t, err, ErrActivityNotFound)
}
