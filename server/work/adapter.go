package work

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Daskott/deadman/server/cron"
	"github.com/Daskott/deadman/server/models"
	"github.com/go-co-op/gocron"
)

// WorkerPoolAdapter pairs the worker pool with a cron scheduler for jobs
// that must be enqueued periodically.
type WorkerPoolAdapter struct {
	cronScheduler *gocron.Scheduler
	pool          *WorkerPool
}

func NewWorkerAdapter(store Store, timeZone string, concurrency int) *WorkerPoolAdapter {
	return &WorkerPoolAdapter{
		cronScheduler: cron.NewCronScheduler(timeZone),
		pool:          NewWorkerPool(store, concurrency),
	}
}

// Start starts the cron scheduler & worker pool
func (adapter *WorkerPoolAdapter) Start() error {
	logg.Info("Starting cron scheduler & worker pool")
	adapter.cronScheduler.StartAsync()
	adapter.pool.Start()

	return nil
}

// Stop stops the cron scheduler & worker pool
func (adapter *WorkerPoolAdapter) Stop() error {
	logg.Info("Stopping cron scheduler & worker pool")
	adapter.cronScheduler.Stop()
	adapter.pool.Stop()

	return nil
}

// Register binds a name to a handler.
func (adapter *WorkerPoolAdapter) Register(name string, handler Handler) error {
	return adapter.pool.RegisterHandler(name, handler)
}

// Perform sends a new job to the queue, now - to be executed as soon as a worker is available
func (adapter *WorkerPoolAdapter) Perform(ctx context.Context, job JobParams) error {
	return adapter.PerformIn(ctx, 0, job)
}

// PerformIn sends a new job to the queue, to be executed once 'delay' has elapsed.
// Enqueueing a job whose unique key is taken is not an error.
func (adapter *WorkerPoolAdapter) PerformIn(ctx context.Context, delay time.Duration, job JobParams) error {
	logg.Debugf("Enqueuing job: %v", job.Name)

	err := adapter.pool.EnqueueIn(ctx, delay, job)
	if errors.Is(err, models.ErrDuplicateJob) {
		logg.Debugf("Duplicate job already in queue for: %v", job.UniqueKey)
		return nil
	}

	if err != nil {
		return fmt.Errorf("error enqueuing job: %v, %w", job.Name, err)
	}

	return nil
}

// PeriodicallyPerform adds a job to the queue (to be executed)
// periodically, based on the 'cronExpression' expression provided
func (adapter *WorkerPoolAdapter) PeriodicallyPerform(cronExpression string, job JobParams) error {
	_, err := adapter.cronScheduler.Cron(cronExpression).Tag(job.Name).
		Do(
			func(job JobParams) {
				err := adapter.Perform(context.Background(), job)
				if err != nil {
					logg.Error(err)
				}
			},
			job,
		)
	return err
}

func (adapter *WorkerPoolAdapter) RemovePeriodicJob(jobName string) error {
	return adapter.cronScheduler.RemoveByTag(jobName)
}
