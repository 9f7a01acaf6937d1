package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lildude/strautocoach/internal/metrics"
)

var (
	ErrQueueFull         = errors.New("job queue is full")
	ErrDispatcherStopped = errors.New("job dispatcher is stopped")
)

// Job is a unit of background work. Run is retried according to Policy.
// Done, when set, is called once with the final error after the last
// attempt.
type Job struct {
	ID     uuid.UUID
	Name   string
	Run    func(ctx context.Context) error
	Done   func(err error)
	Policy RetryPolicy
}

// Dispatcher runs submitted jobs on a fixed pool of workers.
type Dispatcher struct {
	log     logrus.FieldLogger
	metrics *metrics.Manager
	queue   chan Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher starts workers goroutines reading from a queue of size
// jobs. m may be nil.
func NewDispatcher(workers, size int, log logrus.FieldLogger, m *metrics.Manager) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		log:     log,
		metrics: m,
		queue:   make(chan Job, size),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Submit queues j without blocking and returns its id.
func (d *Dispatcher) Submit(j Job) (uuid.UUID, error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return uuid.Nil, ErrDispatcherStopped
	}

	select {
	case d.queue <- j:
		return j.ID, nil
	default:
		return uuid.Nil, ErrQueueFull
	}
}

// Stop refuses new jobs and waits for queued ones to finish. When ctx is
// done first, running jobs are cancelled and ctx's error is returned once
// the workers have exited.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		d.run(j)
	}
}

func (d *Dispatcher) run(j Job) {
	log := d.log.WithFields(logrus.Fields{"job": j.Name, "job_id": j.ID.String()})
	start := time.Now()
	attempt := 0

	err := j.Policy.Retry(d.ctx, func(ctx context.Context) error {
		attempt++
		err := j.Run(ctx)
		d.count(j.Name, err)
		return err
	}, func(err error, wait time.Duration) {
		log.WithError(err).WithField("attempt", attempt).Warnf("job failed, retrying in %s", wait)
	})
	if j.Done != nil {
		defer j.Done(err)
	}
	if err != nil {
		log.WithError(err).WithField("attempt", attempt).Error("job failed")
		return
	}
	log.WithField("attempt", attempt).Debugf("job completed in %s", time.Since(start))
}

func (d *Dispatcher) count(name string, err error) {
	if d.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	d.metrics.CounterJobAttempts.WithLabelValues(name, outcome).Inc()
}
