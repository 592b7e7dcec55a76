package work

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Daskott/deadman/server/logger"
	"github.com/Daskott/deadman/server/models"
	"github.com/google/uuid"
)

const MAX_FAILS = 4

var (
	DefaultTickerDuration = 5 * time.Millisecond
	TickerDurationOnError = 10 * time.Millisecond

	// DefaultSleepBackoffs is how long an idle worker waits before polling
	// again, indexed by the number of consecutive empty polls.
	DefaultSleepBackoffs = []time.Duration{0, 500 * time.Millisecond, time.Second, 2 * time.Second}

	ErrDuplicateHandler = errors.New("handler with provided name already mapped")
	ErrNoHandler        = errors.New("no handler registered for job")

	logg = logger.NewLogger()
)

// Store is the durable queue the workers pull from.
type Store interface {
	CreateJob(ctx context.Context, job *models.Job) error
	NextEnqueuedJob(ctx context.Context, now time.Time) (*models.Job, error)
	ClaimJob(ctx context.Context, id uint) (bool, error)
	UpdateJob(ctx context.Context, id uint, fields map[string]interface{}) error
	NextStuckJob(ctx context.Context, updatedBefore time.Time) (*models.Job, error)
}

type JobParams struct {
	Name    string
	Handler string
	// UniqueKey, when set, makes enqueueing the same work twice a no-op
	// for as long as the first job is not dead.
	UniqueKey string
	Args      map[string]interface{}
}

// Handler runs a job. The context is cancelled when the pool stops; a
// handler that returns because of that is requeued without counting a fail.
type Handler func(ctx context.Context, args map[string]interface{}) error

type worker struct {
	id            string
	store         Store
	handlers      map[string]Handler
	stopChan      chan struct{}
	sleepBackoffs []time.Duration
	log           *logger.PrefixLogger
}

func newWorker(store Store, sleepBackoffs []time.Duration) *worker {
	id := uuid.NewString()
	return &worker{
		id:            id,
		store:         store,
		handlers:      make(map[string]Handler),
		stopChan:      make(chan struct{}),
		sleepBackoffs: sleepBackoffs,
		log:           logger.Prefixed(logg, fmt.Sprintf("worker %v", id)),
	}
}

// registerHandler binds a name to a job handler.
func (w *worker) registerHandler(name string, handler Handler) error {
	if _, ok := w.handlers[name]; ok {
		return ErrDuplicateHandler
	}

	w.handlers[name] = handler

	return nil
}

// start starts the worker loop that pulls jobs from the queue & process them
func (w *worker) start(ctx context.Context) {
	go w.loop(ctx)
}

// stop blocks until the worker has finished its current job.
func (w *worker) stop() {
	w.stopChan <- struct{}{}
}

func (w *worker) loop(ctx context.Context) {
	var consecutiveNoJobs int

	rateLimiter := time.NewTicker(DefaultTickerDuration)
	defer rateLimiter.Stop()

	w.log.Debugf("starting")
	for {
		select {
		case <-w.stopChan:
			w.log.Debugf("stopping")
			return
		case <-rateLimiter.C:
			if ctx.Err() != nil {
				continue
			}

			currentJob, err := w.store.NextEnqueuedJob(ctx, time.Now().UTC())
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					// If no job found, slowly increase the wait time between each job fetch
					// using 'sleepBackoffs', to reduce db hits when it's not necessary.
					consecutiveNoJobs++
					idx := consecutiveNoJobs
					if idx >= len(w.sleepBackoffs) {
						idx = len(w.sleepBackoffs) - 1
					}
					rateLimiter.Reset(w.sleepBackoffs[idx] + DefaultTickerDuration)
					continue
				}

				w.log.Errorf("%v", err)
				rateLimiter.Reset(TickerDurationOnError)
				continue
			}

			claimed, err := w.store.ClaimJob(ctx, currentJob.ID)
			if err != nil {
				w.log.Errorf("%v", err)
				rateLimiter.Reset(TickerDurationOnError)
				continue
			}

			if !claimed {
				continue
			}

			w.log.Debugf("claimed job with id=%v, handler=%v", currentJob.ID, currentJob.Handler)

			w.processJob(ctx, currentJob)
			rateLimiter.Reset(DefaultTickerDuration)
			consecutiveNoJobs = 0
		}
	}
}

func (w *worker) processJob(ctx context.Context, job *models.Job) {
	args := make(map[string]interface{})

	decoder := json.NewDecoder(bytes.NewBufferString(job.Args))
	decoder.UseNumber()
	if err := decoder.Decode(&args); err != nil {
		w.determineFailedJobFate(ctx, job, err)
		return
	}

	handler, ok := w.handlers[job.Handler]
	if !ok {
		w.determineFailedJobFate(ctx, job, fmt.Errorf("%w: %q", ErrNoHandler, job.Handler))
		return
	}

	err := handler(ctx, args)
	if err != nil && ctx.Err() != nil {
		w.release(job)
		return
	}

	if err != nil {
		w.determineFailedJobFate(ctx, job, err)
		return
	}
	w.markJobAsSuccessful(ctx, job)
}

func (w *worker) determineFailedJobFate(ctx context.Context, job *models.Job, runError error) {
	w.log.Errorf("job with id=%v failed: %v", job.ID, runError)

	job.Fails++

	update := map[string]interface{}{
		"claimed":    false,
		"status":     models.ENQUEUED_JOB,
		"fails":      job.Fails,
		"last_error": runError.Error(),
	}

	// For job with Fails >= MAX_FAILS mark as DEAD else requeue the job to be retried.
	// A dead job gives up its unique key so the same work can be enqueued again.
	if job.Fails >= MAX_FAILS {
		update["status"] = models.DEAD_JOB
		update["unique_key"] = nil
	}

	if err := w.store.UpdateJob(context.WithoutCancel(ctx), job.ID, update); err != nil {
		w.log.Errorf("%v", err)
	}
	w.log.Infof("job with id=%v completed with status=%v", job.ID, update["status"])
}

func (w *worker) markJobAsSuccessful(ctx context.Context, job *models.Job) {
	update := map[string]interface{}{
		"claimed": false,
		"status":  models.SUCCESSFUL_JOB,
	}

	if err := w.store.UpdateJob(context.WithoutCancel(ctx), job.ID, update); err != nil {
		w.log.Errorf("%v", err)
	}
	w.log.Debugf("job with id=%v completed with status=%v", job.ID, models.SUCCESSFUL_JOB)
}

// release puts a job interrupted by shutdown back in the queue as is.
func (w *worker) release(job *models.Job) {
	update := map[string]interface{}{
		"claimed": false,
		"status":  models.ENQUEUED_JOB,
	}

	if err := w.store.UpdateJob(context.Background(), job.ID, update); err != nil {
		w.log.Errorf("%v", err)
	}
	w.log.Infof("job with id=%v released on shutdown", job.ID)
}
