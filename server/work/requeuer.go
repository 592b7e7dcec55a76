package work

import (
	"context"
	"errors"
	"time"

	"github.com/Daskott/deadman/server/logger"
	"github.com/Daskott/deadman/server/models"
)

var (
	// DefaultStuckAfter is how long a job may stay in-progress before it is
	// assumed its worker died.
	DefaultStuckAfter = 10 * time.Minute

	requeuerSleepBackOff = 5 * time.Second
)

type requeuer struct {
	store      Store
	stuckAfter time.Duration
	stopChan   chan struct{}
	log        *logger.PrefixLogger
}

func newRequeuer(store Store, stuckAfter time.Duration) *requeuer {
	return &requeuer{
		store:      store,
		stuckAfter: stuckAfter,
		stopChan:   make(chan struct{}),
		log:        logger.Prefixed(logg, "in-progress job requeuer"),
	}
}

// start starts the requeuer loop that pulls jobs from 'in-progress'
// that are stuck(i.e stayed too long in-progress) and requeue them
func (r *requeuer) start(ctx context.Context) {
	go r.loop(ctx)
}

func (r *requeuer) stop() {
	r.stopChan <- struct{}{}
}

func (r *requeuer) loop(ctx context.Context) {
	rateLimiter := time.NewTicker(DefaultTickerDuration)
	defer rateLimiter.Stop()

	r.log.Debugf("starting")
	for {
		select {
		case <-r.stopChan:
			r.log.Debugf("stopping")
			return
		case <-rateLimiter.C:
			if ctx.Err() != nil {
				continue
			}

			job, err := r.store.NextStuckJob(ctx, time.Now().UTC().Add(-r.stuckAfter))

			// If no job found, sleep for 'requeuerSleepBackOff'
			if errors.Is(err, models.ErrNotFound) {
				rateLimiter.Reset(requeuerSleepBackOff)
				continue
			}

			if err != nil {
				r.log.Errorf("%v", err)
				rateLimiter.Reset(requeuerSleepBackOff)
				continue
			}

			r.requeue(ctx, job)
			rateLimiter.Reset(DefaultTickerDuration)
		}
	}
}

func (r *requeuer) requeue(ctx context.Context, job *models.Job) {
	update := map[string]interface{}{
		"claimed": false,
		"status":  models.ENQUEUED_JOB,
	}

	if err := r.store.UpdateJob(ctx, job.ID, update); err != nil {
		r.log.Errorf("%v", err)
		return
	}

	r.log.Warnf("job with id=%v requeued", job.ID)
}
