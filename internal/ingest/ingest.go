// Package ingest turns a remote activity into a stored canonical activity
// and queues the follow-up work.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lildude/strautocoach/internal/jobs"
	"github.com/lildude/strautocoach/internal/metrics"
	"github.com/lildude/strautocoach/internal/model"
	"github.com/lildude/strautocoach/internal/store"
	"github.com/lildude/strautocoach/internal/strava"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrOwnershipMismatch = errors.New("activity ownership mismatch")
)

// Fetcher reads activities from the remote API on behalf of one athlete.
type Fetcher interface {
	GetActivity(ctx context.Context, id int64) (*strava.Activity, error)
	GetActivityStreams(ctx context.Context, id int64, keys []string) (*strava.Streams, error)
	GetActivityLaps(ctx context.Context, id int64) ([]model.Lap, error)
	ListActivities(ctx context.Context, after time.Time, page, perPage int) ([]strava.Activity, error)
}

// FetcherSource hands out a Fetcher authorised as the given user.
type FetcherSource interface {
	FetcherFor(ctx context.Context, u *model.User) (Fetcher, error)
}

// FetcherSourceFunc adapts a function to FetcherSource.
type FetcherSourceFunc func(ctx context.Context, u *model.User) (Fetcher, error)

func (f FetcherSourceFunc) FetcherFor(ctx context.Context, u *model.User) (Fetcher, error) {
	return f(ctx, u)
}

// Store is the part of the activity store the pipeline writes through.
type Store interface {
	FindUserByID(ctx context.Context, id uint) (*model.User, error)
	FindActivityByExternalID(ctx context.Context, stravaID int64) (*model.Activity, error)
	UpsertActivity(ctx context.Context, userID uint, a *model.Activity) (uint, error)
}

// FeedbackGenerator produces coaching feedback for a stored activity.
type FeedbackGenerator interface {
	Generate(ctx context.Context, activityID, userID uint) (uint, error)
}

// Notifier tells the user about a stored activity.
type Notifier interface {
	Notify(ctx context.Context, activityID, userID uint) error
}

// Submitter queues background jobs.
type Submitter interface {
	Submit(j jobs.Job) (uuid.UUID, error)
}

// Hooks are the optional follow-ups run after a successful upsert.
type Hooks struct {
	Feedback FeedbackGenerator
	Notifier Notifier
}

// Options selects which hooks an ingestion requests.
type Options struct {
	Feedback bool
	Notify   bool
}

// Result describes a successful ingestion.
type Result struct {
	ActivityID uint
	StravaID   int64
	Created    bool
	Streams    FetchStatus
	Laps       FetchStatus
}

type Service struct {
	store    Store
	fetchers FetcherSource
	jobs     Submitter
	hooks    Hooks
	log      logrus.FieldLogger
	metrics  *metrics.Manager

	// Policy is used by ProcessWithRetry and RetryJob.
	Policy jobs.RetryPolicy
	// StreamKeys are the channels requested for every activity.
	StreamKeys []string
}

// NewService builds the pipeline. m may be nil.
func NewService(st Store, fs FetcherSource, j Submitter, h Hooks, log logrus.FieldLogger, m *metrics.Manager) *Service {
	return &Service{
		store:      st,
		fetchers:   fs,
		jobs:       j,
		hooks:      h,
		log:        log,
		metrics:    m,
		Policy:     jobs.IngestPolicy,
		StreamKeys: strava.DefaultStreamKeys,
	}
}

// Retryable reports whether a failed ingestion may succeed if attempted
// again. Ownership and missing user errors never will, nor will an
// activity the remote says does not exist or that we may not read.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrOwnershipMismatch),
		errors.Is(err, store.ErrActivityOwnedByOther),
		errors.Is(err, strava.ErrNoToken):
		return false
	}
	switch strava.StatusCode(err) {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return false
	}
	return true
}

// Process runs one ingestion attempt for the remote activity stravaID on
// behalf of userID.
func (s *Service) Process(ctx context.Context, userID uint, stravaID int64, opts Options) (*Result, error) {
	start := time.Now()
	res, err := s.process(ctx, userID, stravaID, opts)

	if s.metrics != nil {
		s.metrics.HistIngestionDuration.Observe(time.Since(start).Seconds())
		outcome := "success"
		switch {
		case err != nil && Retryable(err):
			outcome = "failed"
		case err != nil:
			outcome = "rejected"
		}
		s.metrics.CounterIngestions.WithLabelValues(outcome).Inc()
	}
	return res, err
}

func (s *Service) process(ctx context.Context, userID uint, stravaID int64, opts Options) (*Result, error) {
	log := s.log.WithFields(logrus.Fields{"user_id": userID, "strava_id": stravaID})

	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user %d: %w", userID, err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
	}

	fetcher, err := s.fetchers.FetcherFor(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("building fetcher for user %d: %w", userID, err)
	}

	detail, err := fetcher.GetActivity(ctx, stravaID)
	if err != nil {
		return nil, fmt.Errorf("fetching activity %d: %w", stravaID, err)
	}
	if detail.Athlete.ID != user.StravaID {
		log.WithField("owner_id", detail.Athlete.ID).Warn("refusing to store activity owned by another athlete")
		return nil, fmt.Errorf("activity %d belongs to athlete %d, not %d: %w", stravaID, detail.Athlete.ID, user.StravaID, ErrOwnershipMismatch)
	}

	streams := fetchBestEffort(ctx, func(ctx context.Context) (*strava.Streams, error) {
		return fetcher.GetActivityStreams(ctx, stravaID, s.StreamKeys)
	})
	laps := fetchBestEffort(ctx, func(ctx context.Context) ([]model.Lap, error) {
		return fetcher.GetActivityLaps(ctx, stravaID)
	})
	s.observeFetch(log, "streams", streams.Status, streams.Err)
	s.observeFetch(log, "laps", laps.Status, laps.Err)

	prev, err := s.store.FindActivityByExternalID(ctx, stravaID)
	if err != nil {
		return nil, fmt.Errorf("looking up activity %d: %w", stravaID, err)
	}
	if prev != nil && prev.UserID != userID {
		return nil, fmt.Errorf("activity %d: %w", stravaID, store.ErrActivityOwnedByOther)
	}

	id, err := s.store.UpsertActivity(ctx, userID, toModel(userID, detail, streams, laps, prev))
	if err != nil {
		return nil, fmt.Errorf("storing activity %d: %w", stravaID, err)
	}
	log.WithField("activity_id", id).Info("activity stored")

	s.submitHooks(id, userID, opts)

	return &Result{
		ActivityID: id,
		StravaID:   stravaID,
		Created:    prev == nil,
		Streams:    streams.Status,
		Laps:       laps.Status,
	}, nil
}

func (s *Service) observeFetch(log logrus.FieldLogger, channel string, status FetchStatus, err error) {
	if s.metrics != nil {
		s.metrics.CounterFetches.WithLabelValues(channel, status.String()).Inc()
	}
	switch status {
	case Absent:
		log.WithError(err).Debugf("no %s for activity", channel)
	case TransientError:
		log.WithError(err).Warnf("could not fetch %s, keeping previous data", channel)
	}
}

// attempt wraps Process for the retry loop.
func (s *Service) attempt(userID uint, stravaID int64, opts Options, res **Result) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		r, err := s.Process(ctx, userID, stravaID, opts)
		if err != nil {
			if !Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if res != nil {
			*res = r
		}
		return nil
	}
}

// ProcessWithRetry runs Process under the service's retry policy. Errors
// that cannot succeed on a later attempt stop the loop at once.
func (s *Service) ProcessWithRetry(ctx context.Context, userID uint, stravaID int64, opts Options) (*Result, error) {
	var res *Result
	log := s.log.WithFields(logrus.Fields{"user_id": userID, "strava_id": stravaID})
	err := s.Policy.Retry(ctx, s.attempt(userID, stravaID, opts, &res), func(err error, wait time.Duration) {
		log.WithError(err).Warnf("ingestion failed, retrying in %s", wait)
	})
	return res, err
}

// RetryJob returns a background job that retries the ingestion under the
// service's policy.
func (s *Service) RetryJob(userID uint, stravaID int64, opts Options) jobs.Job {
	return jobs.Job{
		Name:   "ingest",
		Run:    s.attempt(userID, stravaID, opts, nil),
		Policy: s.Policy,
	}
}

// submitHooks queues feedback and notification. Notification follows
// feedback so the message can include it, and is sent even when feedback
// fails.
func (s *Service) submitHooks(activityID, userID uint, opts Options) {
	notify := opts.Notify && s.hooks.Notifier != nil
	feedback := opts.Feedback && s.hooks.Feedback != nil

	switch {
	case feedback:
		j := s.feedbackJob(activityID, userID)
		if notify {
			j.Done = func(error) { s.submit(s.notifyJob(activityID, userID)) }
		}
		if !s.submit(j) && notify {
			s.submit(s.notifyJob(activityID, userID))
		}
	case notify:
		s.submit(s.notifyJob(activityID, userID))
	}
}

func (s *Service) feedbackJob(activityID, userID uint) jobs.Job {
	return jobs.Job{
		Name:   "feedback",
		Policy: jobs.FeedbackPolicy,
		Run: func(ctx context.Context) error {
			_, err := s.hooks.Feedback.Generate(ctx, activityID, userID)
			return err
		},
	}
}

func (s *Service) notifyJob(activityID, userID uint) jobs.Job {
	return jobs.Job{
		Name:   "notify",
		Policy: jobs.NotifyPolicy,
		Run: func(ctx context.Context) error {
			return s.hooks.Notifier.Notify(ctx, activityID, userID)
		},
	}
}

func (s *Service) submit(j jobs.Job) bool {
	if s.jobs == nil {
		return false
	}
	if _, err := s.jobs.Submit(j); err != nil {
		s.log.WithError(err).WithField("job", j.Name).Error("could not queue job")
		return false
	}
	return true
}
