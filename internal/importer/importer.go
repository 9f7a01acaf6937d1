// Package importer bulk-loads a user's recent history through the
// ingestion pipeline.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/lildude/strautocoach/internal/ingest"
	"github.com/lildude/strautocoach/internal/jobs"
	"github.com/lildude/strautocoach/internal/metrics"
	"github.com/lildude/strautocoach/internal/model"
	"github.com/lildude/strautocoach/internal/progress"
	"github.com/lildude/strautocoach/internal/strava"
)

var (
	ErrImportInProgress = errors.New("import already in progress")
	ErrStopped          = errors.New("importer stopped")
)

// Store is the part of the activity store the importer reads.
type Store interface {
	FindUserByID(ctx context.Context, id uint) (*model.User, error)
	FindActivityByExternalID(ctx context.Context, stravaID int64) (*model.Activity, error)
	CountActivitiesForUser(ctx context.Context, userID uint) (int64, error)
}

// Ingester runs the ingestion pipeline for one activity.
type Ingester interface {
	ProcessWithRetry(ctx context.Context, userID uint, stravaID int64, opts ingest.Options) (*ingest.Result, error)
}

// Config sizes the import window and paces requests against the remote
// rate limit.
type Config struct {
	Days      int
	PageSize  int
	ListDelay time.Duration
	ItemDelay time.Duration

	BackfillDays  int
	BackfillDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Days:          60,
		PageSize:      100,
		ListDelay:     time.Second,
		ItemDelay:     5 * time.Second,
		BackfillDays:  7,
		BackfillDelay: 3 * time.Second,
	}
}

// Summary counts what a backfill did. Processed is the number of newly
// ingested activities.
type Summary struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type Importer struct {
	store    Store
	fetchers ingest.FetcherSource
	ingester Ingester
	progress *progress.Store
	log      logrus.FieldLogger
	metrics  *metrics.Manager
	cfg      Config

	// ListPolicy retries a failed list page before the import gives up.
	ListPolicy jobs.RetryPolicy

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	wg    sync.WaitGroup

	// done is cancelled by Stop to abort background imports.
	done   context.Context
	cancel context.CancelFunc
}

// New builds an importer. m may be nil.
func New(st Store, fs ingest.FetcherSource, in Ingester, ps *progress.Store, cfg Config, log logrus.FieldLogger, m *metrics.Manager) *Importer {
	done, cancel := context.WithCancel(context.Background())
	return &Importer{
		done:       done,
		cancel:     cancel,
		store:      st,
		fetchers:   fs,
		ingester:   in,
		progress:   ps,
		log:        log,
		metrics:    m,
		cfg:        cfg,
		ListPolicy: jobs.IngestPolicy,
		sleep:      sleep,
		now:        time.Now,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NeedsHistoricalImport reports whether the user has no stored activities.
func (im *Importer) NeedsHistoricalImport(ctx context.Context, userID uint) (bool, error) {
	n, err := im.store.CountActivitiesForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Progress returns the user's latest import progress, or nil.
func (im *Importer) Progress(ctx context.Context, userID uint) (*progress.Progress, error) {
	return im.progress.Get(ctx, userID)
}

// Run imports the user's history and blocks until it is done. Failed
// items do not stop the import; they are returned combined once it has
// completed.
func (im *Importer) Run(ctx context.Context, userID uint) error {
	if err := im.claim(ctx, userID); err != nil {
		return err
	}
	defer im.release(userID)
	return im.run(ctx, userID)
}

// Start claims the user's import and runs it in the background, detached
// from ctx's cancellation. Only Stop aborts it.
func (im *Importer) Start(ctx context.Context, userID uint) error {
	if im.done.Err() != nil {
		return ErrStopped
	}
	if err := im.claim(ctx, userID); err != nil {
		return err
	}

	// Show the import as started before returning so pollers never see
	// the previous terminal state.
	im.put(ctx, userID, &progress.Progress{Status: progress.StatusInProgress})

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(im.done, cancel)
	im.wg.Add(1)
	go func() {
		defer im.wg.Done()
		defer cancel()
		defer stop()
		defer im.release(userID)
		if err := im.run(bg, userID); err != nil {
			im.log.WithError(err).WithField("user_id", userID).Error("historical import finished with errors")
		}
	}()
	return nil
}

// StartIfNeeded starts an import for a user with no stored activities and
// reports whether it did. An import already running is not an error.
func (im *Importer) StartIfNeeded(ctx context.Context, userID uint) (bool, error) {
	needed, err := im.NeedsHistoricalImport(ctx, userID)
	if err != nil || !needed {
		return false, err
	}
	err = im.Start(ctx, userID)
	if errors.Is(err, ErrImportInProgress) {
		return false, nil
	}
	return err == nil, err
}

// Wait blocks until every import started with Start has returned.
func (im *Importer) Wait() {
	im.wg.Wait()
}

// Stop cancels the background imports and waits for them to record their
// progress, or until ctx is done. Imports cut short are left in the error
// state with their claims released, ready to be started again.
func (im *Importer) Stop(ctx context.Context) error {
	im.cancel()

	waited := make(chan struct{})
	go func() {
		im.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (im *Importer) claim(ctx context.Context, userID uint) error {
	ok, err := im.progress.Claim(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %d: %w", userID, ErrImportInProgress)
	}
	return nil
}

func (im *Importer) release(userID uint) {
	if err := im.progress.Release(context.Background(), userID); err != nil {
		im.log.WithError(err).WithField("user_id", userID).Error("could not release import claim")
	}
}

func (im *Importer) put(ctx context.Context, userID uint, p *progress.Progress) {
	if err := im.progress.Put(ctx, userID, p); err != nil {
		im.log.WithError(err).WithField("user_id", userID).Warn("could not store import progress")
	}
}

func (im *Importer) fail(ctx context.Context, userID uint, p *progress.Progress, err error) error {
	p.Status = progress.StatusError
	p.Error = err.Error()
	im.put(context.WithoutCancel(ctx), userID, p)
	return err
}

func (im *Importer) run(ctx context.Context, userID uint) error {
	log := im.log.WithField("user_id", userID)
	p := &progress.Progress{Status: progress.StatusInProgress, StartedAt: im.now().UTC()}
	im.put(ctx, userID, p)

	fetcher, err := im.fetcher(ctx, userID)
	if err != nil {
		return im.fail(ctx, userID, p, err)
	}

	after := im.now().AddDate(0, 0, -im.cfg.Days)
	log.Infof("starting historical import since %s", after.Format(time.RFC3339))

	list, err := im.list(ctx, fetcher, after)
	if err != nil {
		return im.fail(ctx, userID, p, err)
	}
	p.Total = len(list)
	im.put(ctx, userID, p)
	log.Infof("found %d activities to import", len(list))

	var errs error
	for i, a := range list {
		if err := ctx.Err(); err != nil {
			return im.fail(ctx, userID, p, fmt.Errorf("import cancelled after %d of %d activities: %w", p.Processed, p.Total, err))
		}

		skipped, err := im.ingestOne(ctx, userID, a.ID)
		switch {
		case err != nil:
			p.Failed++
			errs = multierr.Append(errs, err)
			log.WithError(err).WithField("strava_id", a.ID).Error("could not import activity")
		case skipped:
			p.Skipped++
		}
		p.Processed++
		im.put(ctx, userID, p)

		// Stored activities cost no API call.
		if skipped {
			continue
		}
		if i < len(list)-1 {
			if err := im.sleep(ctx, im.cfg.ItemDelay); err != nil {
				return im.fail(ctx, userID, p, fmt.Errorf("import cancelled after %d of %d activities: %w", p.Processed, p.Total, err))
			}
		}
	}

	p.Status = progress.StatusCompleted
	im.put(ctx, userID, p)
	log.WithFields(logrus.Fields{"total": p.Total, "skipped": p.Skipped, "failed": p.Failed}).Info("historical import completed")
	return errs
}

// Backfill ingests activities since after that are missing from the
// store, such as ones a dropped webhook never delivered. A zero after
// means the configured number of days ago.
func (im *Importer) Backfill(ctx context.Context, userID uint, after time.Time) (Summary, error) {
	var sum Summary
	if err := im.claim(ctx, userID); err != nil {
		return sum, err
	}
	defer im.release(userID)

	if after.IsZero() {
		after = im.now().AddDate(0, 0, -im.cfg.BackfillDays)
	}
	log := im.log.WithField("user_id", userID)

	fetcher, err := im.fetcher(ctx, userID)
	if err != nil {
		return sum, err
	}
	list, err := im.list(ctx, fetcher, after)
	if err != nil {
		return sum, err
	}
	sum.Total = len(list)

	var errs error
	for i, a := range list {
		if err := ctx.Err(); err != nil {
			return sum, multierr.Append(errs, err)
		}

		skipped, err := im.ingestOne(ctx, userID, a.ID)
		switch {
		case skipped:
			sum.Skipped++
			continue
		case err != nil:
			sum.Failed++
			errs = multierr.Append(errs, err)
			log.WithError(err).WithField("strava_id", a.ID).Error("could not backfill activity")
		default:
			sum.Processed++
		}

		if i < len(list)-1 {
			if err := im.sleep(ctx, im.cfg.BackfillDelay); err != nil {
				return sum, multierr.Append(errs, err)
			}
		}
	}

	log.WithFields(logrus.Fields{"total": sum.Total, "processed": sum.Processed, "skipped": sum.Skipped, "failed": sum.Failed}).Info("backfill completed")
	return sum, errs
}

func (im *Importer) fetcher(ctx context.Context, userID uint) (ingest.Fetcher, error) {
	u, err := im.store.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %d: %w", userID, ingest.ErrUserNotFound)
	}
	return im.fetchers.FetcherFor(ctx, u)
}

// list pages through the remote activities started after the given time
// until a short page, pausing between pages.
func (im *Importer) list(ctx context.Context, f ingest.Fetcher, after time.Time) ([]strava.Activity, error) {
	var all []strava.Activity
	for page := 1; ; page++ {
		var batch []strava.Activity
		err := im.ListPolicy.Retry(ctx, func(ctx context.Context) error {
			var err error
			batch, err = f.ListActivities(ctx, after, page, im.cfg.PageSize)
			return err
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("listing activities: %w", err)
		}

		all = append(all, batch...)
		if len(batch) < im.cfg.PageSize {
			return all, nil
		}
		if err := im.sleep(ctx, im.cfg.ListDelay); err != nil {
			return nil, err
		}
	}
}

// ingestOne runs the pipeline for an activity not yet stored. It reports
// whether the activity was skipped because it already exists.
func (im *Importer) ingestOne(ctx context.Context, userID uint, stravaID int64) (bool, error) {
	existing, err := im.store.FindActivityByExternalID(ctx, stravaID)
	if err != nil {
		im.count("failed")
		return false, err
	}
	if existing != nil {
		im.count("skipped")
		return true, nil
	}

	if _, err := im.ingester.ProcessWithRetry(ctx, userID, stravaID, ingest.Options{Feedback: true, Notify: true}); err != nil {
		im.count("failed")
		return false, fmt.Errorf("activity %d: %w", stravaID, err)
	}
	im.count("ingested")
	return false, nil
}

func (im *Importer) count(outcome string) {
	if im.metrics != nil {
		im.metrics.CounterImportItems.WithLabelValues(outcome).Inc()
	}
}
