package payment

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Upgrader performs the follow-up subscription write for a background retry.
type Upgrader interface {
	Upgrade(ctx context.Context, userID string, tier Tier) error
}

// UpgraderFunc adapts a function to the Upgrader interface.
type UpgraderFunc func(ctx context.Context, userID string, tier Tier) error

// Upgrade calls f.
func (f UpgraderFunc) Upgrade(ctx context.Context, userID string, tier Tier) error {
	return f(ctx, userID, tier)
}

// UpdaterUpgrader runs background retries in-process through an Updater.
func UpdaterUpgrader(u *Updater) Upgrader {
	return UpgraderFunc(u.Set)
}

// DispatcherConfig configures the background retry Dispatcher.
type DispatcherConfig struct {
	// Workers is the fixed number of worker goroutines (default: 4)
	Workers int

	// QueueSize caps pending retries; Schedule drops beyond it (default: 256)
	QueueSize int

	// JobTimeout bounds a single retry (default: 2m)
	JobTimeout time.Duration

	Logger  Logger
	Metrics Metrics
}

type retryJob struct {
	userID string
	tier   Tier
}

// Dispatcher runs fire-and-forget subscription retries on a bounded queue.
// Schedule never blocks; failures are only logged.
type Dispatcher struct {
	upgrader   Upgrader
	workers    int
	jobTimeout time.Duration
	logger     Logger
	metrics    Metrics

	jobs  chan retryJob
	group singleflight.Group
	wg    sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	started bool
}

// NewDispatcher creates a dispatcher. Call Start to launch the workers.
func NewDispatcher(upgrader Upgrader, config DispatcherConfig) (*Dispatcher, error) {
	if upgrader == nil {
		return nil, ErrStoreUnavailable
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 2 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	return &Dispatcher{
		upgrader:   upgrader,
		workers:    config.Workers,
		jobTimeout: config.JobTimeout,
		logger:     config.Logger,
		metrics:    config.Metrics,
		jobs:       make(chan retryJob, config.QueueSize),
	}, nil
}

// Start launches the workers. Cancelling ctx aborts in-flight retries and
// makes the workers discard whatever is still queued.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	d.logger.Info("retry dispatcher starting", F("workers", d.workers), F("queue_size", cap(d.jobs)))
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

// Schedule queues a retry for (userID, tier) without blocking.
func (d *Dispatcher) Schedule(userID string, tier Tier) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.RecordBackgroundRetry("dropped")
		return ErrDispatcherClosed
	}
	select {
	case d.jobs <- retryJob{userID: userID, tier: tier}:
		d.metrics.RecordBackgroundRetry("scheduled")
		return nil
	default:
		d.logger.Error("retry queue full, dropping background retry",
			F("user_id", userID), F("tier", tier), F("queue_size", cap(d.jobs)))
		d.metrics.RecordBackgroundRetry("dropped")
		return ErrQueueFull
	}
}

// Pending returns the number of queued retries.
func (d *Dispatcher) Pending() int {
	return len(d.jobs)
}

// Close stops accepting retries and waits for the workers to drain the queue.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("retry dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	for job := range d.jobs {
		if ctx.Err() != nil {
			d.logger.Warn("discarding background retry on shutdown",
				F("worker", id), F("user_id", job.userID), F("tier", job.tier))
			d.metrics.RecordBackgroundRetry("dropped")
			continue
		}
		d.run(ctx, id, job)
	}
}

func (d *Dispatcher) run(ctx context.Context, id int, job retryJob) {
	key := job.userID + "\x00" + string(job.tier)
	_, err, shared := d.group.Do(key, func() (interface{}, error) {
		jobCtx, cancel := context.WithTimeout(ctx, d.jobTimeout)
		defer cancel()
		return nil, d.upgrader.Upgrade(jobCtx, job.userID, job.tier)
	})
	if shared {
		d.metrics.RecordBackgroundRetry("deduplicated")
	}
	if err != nil {
		d.logger.Error("background subscription retry failed",
			F("worker", id), F("user_id", job.userID), F("tier", job.tier), F("error", err.Error()))
		d.metrics.RecordBackgroundRetry("error")
		return
	}
	d.logger.Info("background subscription retry succeeded",
		F("worker", id), F("user_id", job.userID), F("tier", job.tier))
	d.metrics.RecordBackgroundRetry("success")
}
