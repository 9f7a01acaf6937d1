package model

import (
	"time"

	"github.com/jackc/pgtype"
	"gorm.io/gorm"
)

// User is an athlete known to the service. StravaID is the owner id the
// remote API attaches to every activity.
type User struct {
	gorm.Model
	StravaID        int64 `gorm:"uniqueIndex;not null"`
	Name            string
	TelegramChatID  int64
	StravaAuthToken pgtype.JSONB `gorm:"type:jsonb"`
	// CalendarURL is an optional iCal feed of planned workouts.
	CalendarURL string
}

// Activity is one exercise session in canonical form.
type Activity struct {
	gorm.Model
	UserID   uint  `gorm:"index;not null"`
	StravaID int64 `gorm:"uniqueIndex;not null"`

	Name      string
	SportType string    `gorm:"size:50"`
	StartDate time.Time `gorm:"index"`

	DistanceMeters     float64
	MovingTimeSeconds  int
	ElapsedTimeSeconds int
	AverageSpeed       float64
	MaxSpeed           float64
	HasHeartrate       bool
	AverageHeartrate   *float64
	MaxHeartrate       *float64
	TotalElevationGain float64
	AverageCadence     *float64
	Calories           *int

	Detail   Detail         `gorm:"type:jsonb"`
	Streams  StreamSet      `gorm:"type:jsonb"`
	Laps     Laps           `gorm:"type:jsonb"`
	Segments SegmentEfforts `gorm:"type:jsonb"`
}

// Feedback is the structured coaching text generated for an activity.
type Feedback struct {
	gorm.Model
	ActivityID      uint `gorm:"uniqueIndex;not null"`
	UserID          uint `gorm:"index;not null"`
	Summary         string
	Positives       StringList `gorm:"type:jsonb"`
	Improvements    StringList `gorm:"type:jsonb"`
	Recommendations StringList `gorm:"type:jsonb"`
	ModelUsed       string     `gorm:"size:100"`
}

// All lists every model for migration.
func All() []any {
	return []any{&User{}, &Activity{}, &Feedback{}}
}
