package work

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Daskott/deadman/server/models"
	"github.com/pkg/errors"
)

type WorkerPool struct {
	store    Store
	handlers map[string]Handler
	workers  []*worker
	requeuer *requeuer

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

func NewWorkerPool(store Store, concurrency int) *WorkerPool {
	if concurrency < 1 {
		concurrency = 1
	}

	wp := WorkerPool{
		store:    store,
		handlers: make(map[string]Handler),
		requeuer: newRequeuer(store, DefaultStuckAfter),
	}

	for i := 0; i < concurrency; i++ {
		wp.workers = append(wp.workers, newWorker(store, DefaultSleepBackoffs))
	}

	return &wp
}

// RegisterHandler binds a name to a job handler for all workers in pool
func (wp *WorkerPool) RegisterHandler(name string, handler Handler) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if _, ok := wp.handlers[name]; ok {
		return ErrDuplicateHandler
	}
	wp.handlers[name] = handler

	for _, worker := range wp.workers {
		err := worker.registerHandler(name, handler)

		// Only panic if we get an error that is unexpected i.e !ErrDuplicateHandler
		if err != nil && !errors.Is(err, ErrDuplicateHandler) {
			logg.Panic(err)
		}
	}
	return nil
}

// Enqueue adds a job to the queue(to be executed) by creating a DB record based on 'JobParams' provided
func (wp *WorkerPool) Enqueue(ctx context.Context, job JobParams) error {
	return wp.EnqueueIn(ctx, 0, job)
}

// EnqueueIn adds a job to the queue, to be executed once 'delay' has elapsed
func (wp *WorkerPool) EnqueueIn(ctx context.Context, delay time.Duration, job JobParams) error {
	if strings.TrimSpace(job.Name) == "" || strings.TrimSpace(job.Handler) == "" {
		return fmt.Errorf("both a name & handler is required for a job")
	}

	if job.Args == nil {
		job.Args = map[string]interface{}{}
	}

	argsAsJson, err := json.Marshal(job.Args)
	if err != nil {
		return err
	}

	record := &models.Job{
		Name:    job.Name,
		Handler: job.Handler,
		Args:    string(argsAsJson),
		Status:  models.ENQUEUED_JOB,
		RunAt:   time.Now().UTC().Add(delay),
	}
	if job.UniqueKey != "" {
		key := job.UniqueKey
		record.UniqueKey = &key
	}

	return wp.store.CreateJob(ctx, record)
}

// Start starts all workers in pool i.e the workers can start processing jobs
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return
	}
	wp.started = true

	var ctx context.Context
	ctx, wp.cancel = context.WithCancel(context.Background())

	for _, worker := range wp.workers {
		worker.start(ctx)
	}
	wp.requeuer.start(ctx)
}

// Stop stops all workers in pool i.e jobs will stop being processed.
// It returns once every in-flight job has returned.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.started {
		return
	}
	wp.cancel()

	wg := sync.WaitGroup{}
	for _, w := range wp.workers {
		wg.Add(1)
		go func(w *worker) {
			w.stop()
			wg.Done()
		}(w)
	}
	wg.Wait()
	wp.requeuer.stop()

	wp.started = false
}
