// Package store implements the canonical activity store on top of gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgtype"
	"github.com/lildude/strautocoach/internal/model"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrActivityOwnedByOther is returned when an upsert targets an external
// activity id that is already stored for a different user.
var ErrActivityOwnedByOther = errors.New("activity belongs to another user")

// Store is the repository over users, activities and feedback.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ActivityFilter narrows ListActivitiesForUser. Zero fields do not filter.
type ActivityFilter struct {
	Since     time.Time
	Until     time.Time
	SportType string
	ExcludeID uint
	Limit     int
	// SummaryOnly leaves out the detail, stream, lap and segment payloads.
	SummaryOnly bool
}

// FindUserByID returns the user or nil when it does not exist.
func (s *Store) FindUserByID(ctx context.Context, id uint) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding user %d: %w", id, err)
	}
	return &u, nil
}

// FindUserByStravaID returns the user owning the Strava athlete id or nil.
func (s *Store) FindUserByStravaID(ctx context.Context, stravaID int64) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where("strava_id = ?", stravaID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding user for athlete %d: %w", stravaID, err)
	}
	return &u, nil
}

// UpsertUser creates the user or updates its profile and token in place.
func (s *Store) UpsertUser(ctx context.Context, u *model.User) error {
	if u.StravaAuthToken.Status == pgtype.Undefined {
		u.StravaAuthToken = pgtype.JSONB{Bytes: []byte("{}"), Status: pgtype.Present}
	}
	if u.ID != 0 {
		return s.updateUser(ctx, u)
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "strava_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "telegram_chat_id", "strava_auth_token", "calendar_url", "updated_at"}),
	}).Create(u).Error
	if err != nil {
		return fmt.Errorf("upserting user for athlete %d: %w", u.StravaID, err)
	}
	// The conflict path does not report the row id on every driver.
	existing, err := s.FindUserByStravaID(ctx, u.StravaID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("user for athlete %d missing after upsert", u.StravaID)
	}
	u.ID = existing.ID
	return nil
}

func (s *Store) updateUser(ctx context.Context, u *model.User) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", u.ID).Updates(map[string]any{
		"strava_id":         u.StravaID,
		"name":              u.Name,
		"telegram_chat_id":  u.TelegramChatID,
		"strava_auth_token": u.StravaAuthToken,
		"calendar_url":      u.CalendarURL,
	})
	if res.Error != nil {
		return fmt.Errorf("updating user %d: %w", u.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("updating user %d: %w", u.ID, gorm.ErrRecordNotFound)
	}
	return nil
}

// UpdateUserToken persists a refreshed OAuth token.
func (s *Store) UpdateUserToken(ctx context.Context, userID uint, tok *oauth2.Token) error {
	u := model.User{}
	u.ID = userID
	if err := u.SetToken(tok); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Model(&u).Update("strava_auth_token", u.StravaAuthToken).Error
	if err != nil {
		return fmt.Errorf("updating token for user %d: %w", userID, err)
	}
	return nil
}

// FindActivityByExternalID returns the activity with the Strava id or nil.
func (s *Store) FindActivityByExternalID(ctx context.Context, stravaID int64) (*model.Activity, error) {
	var a model.Activity
	err := s.db.WithContext(ctx).Where("strava_id = ?", stravaID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding activity %d: %w", stravaID, err)
	}
	return &a, nil
}

// FindActivity returns the user's activity by internal id or nil.
func (s *Store) FindActivity(ctx context.Context, userID, id uint) (*model.Activity, error) {
	var a model.Activity
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding activity %d for user %d: %w", id, userID, err)
	}
	return &a, nil
}

// UpsertActivity stores a by its Strava id for userID and returns the
// internal id. A second call for the same Strava id replaces metrics and
// payloads in place.
func (s *Store) UpsertActivity(ctx context.Context, userID uint, a *model.Activity) (uint, error) {
	a.UserID = userID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Activity
		err := tx.Where("strava_id = ?", a.StravaID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(a).Error
		case err != nil:
			return err
		case existing.UserID != userID:
			return ErrActivityOwnedByOther
		}

		a.ID = existing.ID
		a.CreatedAt = existing.CreatedAt
		return tx.Save(a).Error
	})
	if err != nil {
		return 0, fmt.Errorf("upserting activity %d: %w", a.StravaID, err)
	}
	return a.ID, nil
}

// ListActivitiesForUser returns the user's activities, newest first.
func (s *Store) ListActivitiesForUser(ctx context.Context, userID uint, f ActivityFilter) ([]model.Activity, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if !f.Since.IsZero() {
		q = q.Where("start_date >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("start_date < ?", f.Until)
	}
	if f.SportType != "" {
		q = q.Where("sport_type = ?", f.SportType)
	}
	if f.ExcludeID != 0 {
		q = q.Where("id <> ?", f.ExcludeID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.SummaryOnly {
		q = q.Omit("detail", "streams", "laps", "segments")
	}

	var out []model.Activity
	if err := q.Order("start_date desc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing activities for user %d: %w", userID, err)
	}
	return out, nil
}

// CountActivitiesForUser returns how many activities the user has stored.
func (s *Store) CountActivitiesForUser(ctx context.Context, userID uint) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Activity{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting activities for user %d: %w", userID, err)
	}
	return n, nil
}

// SaveFeedback stores feedback for an activity, replacing any earlier one.
func (s *Store) SaveFeedback(ctx context.Context, f *model.Feedback) (uint, error) {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "activity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"summary", "positives", "improvements", "recommendations", "model_used", "updated_at"}),
	}).Create(f).Error
	if err != nil {
		return 0, fmt.Errorf("saving feedback for activity %d: %w", f.ActivityID, err)
	}
	got, err := s.FindFeedbackForActivity(ctx, f.ActivityID)
	if err != nil {
		return 0, err
	}
	if got == nil {
		return 0, fmt.Errorf("feedback for activity %d missing after save", f.ActivityID)
	}
	f.ID = got.ID
	return f.ID, nil
}

// FindFeedbackForActivity returns the activity's feedback or nil.
func (s *Store) FindFeedbackForActivity(ctx context.Context, activityID uint) (*model.Feedback, error) {
	var f model.Feedback
	err := s.db.WithContext(ctx).Where("activity_id = ?", activityID).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding feedback for activity %d: %w", activityID, err)
	}
	return &f, nil
}
