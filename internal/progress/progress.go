// Package progress keeps the state of historical imports in Redis so that
// it survives restarts and is shared between processes.
package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lildude/strautocoach/internal/cache"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// ClaimTTL bounds how long a crashed import can hold a user's claim and
// how long an in progress entry is kept without updates.
const ClaimTTL = 6 * time.Hour

// Progress is the state of one user's import.
type Progress struct {
	Status    Status    `json:"status"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the import has finished, successfully or not.
func (p *Progress) Terminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusError
}

type Store struct {
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewStore keeps terminal entries for ttl.
func NewStore(c cache.Cache, ttl time.Duration) *Store {
	return &Store{cache: c, ttl: ttl, now: time.Now}
}

func progressKey(userID uint) string {
	return fmt.Sprintf("import:progress:%d", userID)
}

func lockKey(userID uint) string {
	return fmt.Sprintf("import:lock:%d", userID)
}

// Get returns the user's progress, or nil when there is none.
func (s *Store) Get(ctx context.Context, userID uint) (*Progress, error) {
	var p Progress
	err := s.cache.GetJSON(ctx, progressKey(userID), &p)
	if errors.Is(err, cache.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting import progress for user %d: %w", userID, err)
	}
	return &p, nil
}

// Put stores p, stamping UpdatedAt.
func (s *Store) Put(ctx context.Context, userID uint, p *Progress) error {
	p.UpdatedAt = s.now().UTC()
	if p.StartedAt.IsZero() {
		p.StartedAt = p.UpdatedAt
	}

	ttl := ClaimTTL
	if p.Terminal() {
		ttl = s.ttl
	}
	if err := s.cache.SetJSON(ctx, progressKey(userID), p, ttl); err != nil {
		return fmt.Errorf("storing import progress for user %d: %w", userID, err)
	}
	return nil
}

// Claim takes the user's import lock. It returns false when another
// import already holds it.
func (s *Store) Claim(ctx context.Context, userID uint) (bool, error) {
	ok, err := s.cache.SetNX(ctx, lockKey(userID), s.now().UTC().Format(time.RFC3339), ClaimTTL)
	if err != nil {
		return false, fmt.Errorf("claiming import for user %d: %w", userID, err)
	}
	return ok, nil
}

// Release gives up the user's import lock.
func (s *Store) Release(ctx context.Context, userID uint) error {
	if err := s.cache.Del(ctx, lockKey(userID)); err != nil {
		return fmt.Errorf("releasing import for user %d: %w", userID, err)
	}
	return nil
}
