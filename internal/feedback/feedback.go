// Package feedback generates and stores coaching feedback for activities.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/lildude/strautocoach/internal/analysis"
	"github.com/lildude/strautocoach/internal/calendar"
	"github.com/lildude/strautocoach/internal/model"
	"github.com/lildude/strautocoach/internal/store"
)

var ErrActivityNotFound = errors.New("activity not found")

type Store interface {
	FindUserByID(ctx context.Context, id uint) (*model.User, error)
	FindActivity(ctx context.Context, userID, id uint) (*model.Activity, error)
	ListActivitiesForUser(ctx context.Context, userID uint, f store.ActivityFilter) ([]model.Activity, error)
	FindFeedbackForActivity(ctx context.Context, activityID uint) (*model.Feedback, error)
	SaveFeedback(ctx context.Context, f *model.Feedback) (uint, error)
}

// Advisor turns a coaching context into feedback.
type Advisor interface {
	Advise(ctx context.Context, fc Context) (*Advice, error)
}

// Planner looks up the workout a user planned for a day.
type Planner interface {
	PlannedWorkout(ctx context.Context, feedURL string, day time.Time) (*calendar.Workout, error)
}

type Generator struct {
	store   Store
	advisor Advisor
	profile analysis.HRProfile
	log     logrus.FieldLogger
	now     func() time.Time

	// Planner, when set, adds the planned workout of users with a
	// calendar to the context.
	Planner Planner
}

func NewGenerator(st Store, a Advisor, p analysis.HRProfile, log logrus.FieldLogger) *Generator {
	return &Generator{store: st, advisor: a, profile: p, log: log, now: time.Now}
}

// Generate produces feedback for the user's activity and returns its id.
// Activities that already have feedback are left alone.
func (g *Generator) Generate(ctx context.Context, activityID, userID uint) (uint, error) {
	a, err := g.store.FindActivity(ctx, userID, activityID)
	if err != nil {
		return 0, err
	}
	if a == nil {
		return 0, backoff.Permanent(fmt.Errorf("activity %d for user %d: %w", activityID, userID, ErrActivityNotFound))
	}

	existing, err := g.store.FindFeedbackForActivity(ctx, activityID)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.ID, nil
	}

	now := g.now()
	history, err := g.store.ListActivitiesForUser(ctx, userID, store.ActivityFilter{Since: now.AddDate(0, 0, -historyDays)})
	if err != nil {
		return 0, err
	}

	// Records and yearly totals look past the recent window; payload
	// columns are not needed for them.
	all, err := g.store.ListActivitiesForUser(ctx, userID, store.ActivityFilter{SummaryOnly: true})
	if err != nil {
		return 0, err
	}

	fc := BuildContext(a, history, all, now, g.profile)
	fc.Planned = g.planned(ctx, a)

	advice, err := g.advisor.Advise(ctx, fc)
	if err != nil {
		return 0, err
	}

	id, err := g.store.SaveFeedback(ctx, &model.Feedback{
		ActivityID:      activityID,
		UserID:          userID,
		Summary:         advice.Summary,
		Positives:       advice.Positives,
		Improvements:    advice.Improvements,
		Recommendations: advice.Recommendations,
		ModelUsed:       advice.Model,
	})
	if err != nil {
		return 0, err
	}
	g.log.WithFields(logrus.Fields{"activity_id": activityID, "user_id": userID, "feedback_id": id}).Info("feedback stored")
	return id, nil
}

// planned returns the workout planned for the activity's day. A calendar
// that cannot be read only costs the comparison.
func (g *Generator) planned(ctx context.Context, a *model.Activity) *calendar.Workout {
	if g.Planner == nil {
		return nil
	}
	u, err := g.store.FindUserByID(ctx, a.UserID)
	if err != nil || u == nil || u.CalendarURL == "" {
		return nil
	}
	w, err := g.Planner.PlannedWorkout(ctx, u.CalendarURL, a.StartDate)
	if err != nil {
		g.log.WithError(err).WithField("user_id", u.ID).Warn("unable to read training calendar")
		return nil
	}
	return w
}
