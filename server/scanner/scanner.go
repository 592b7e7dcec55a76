// Package scanner periodically looks for overdue switches, triggers them
// and hands the trigger events to the dispatcher.
package scanner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Daskott/deadman/server/clock"
	"github.com/Daskott/deadman/server/cron"
	"github.com/Daskott/deadman/server/engine"
	"github.com/Daskott/deadman/server/gateway"
	"github.com/Daskott/deadman/server/logger"
	"github.com/Daskott/deadman/server/metrics"
	"github.com/Daskott/deadman/server/models"
	"github.com/go-co-op/gocron"
	"github.com/pkg/errors"
)

const SCAN_JOB_TAG = "overdue-scan"

var logg = logger.NewLogger()

// TriggerQueue receives one event per triggered switch. Enqueueing the same
// (switchID, triggeredAt) twice must be harmless.
type TriggerQueue interface {
	EnqueueTrigger(ctx context.Context, switchID uint, triggeredAt time.Time) error
}

// ErrLeaseLost stops a cycle whose lease expired or was taken over.
var ErrLeaseLost = errors.New("scan lease lost")

// Lease keeps a cycle from running on more than one replica at a time.
// Acquire by the current holder extends the lease.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type Options struct {
	Interval time.Duration
	PageSize int
	TimeZone string
	// Lease is optional, a single process needs none.
	Lease Lease
}

type CycleResult struct {
	Scanned   int
	Triggered int
	Skipped   int
	Failed    int
	Redriven  int
}

type Scanner struct {
	engine    *engine.Engine
	switches  gateway.Switches
	queue     TriggerQueue
	clock     clock.Clock
	lease     Lease
	interval  time.Duration
	pageSize  int
	scheduler *gocron.Scheduler

	cycleMu sync.Mutex
	stopped atomic.Bool
	log     *logger.PrefixLogger
}

func New(eng *engine.Engine, switches gateway.Switches, queue TriggerQueue, clk clock.Clock, opts Options) *Scanner {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}

	return &Scanner{
		engine:    eng,
		switches:  switches,
		queue:     queue,
		clock:     clk,
		lease:     opts.Lease,
		interval:  opts.Interval,
		pageSize:  models.PageSize(opts.PageSize),
		scheduler: cron.NewCronScheduler(opts.TimeZone),
		log:       logger.Prefixed(logg, "scanner"),
	}
}

// Start runs a cycle every interval. A cycle still running when the next
// one is due causes that one to be skipped.
func (s *Scanner) Start() error {
	_, err := s.scheduler.Every(s.interval).Tag(SCAN_JOB_TAG).SingletonMode().Do(s.scheduledCycle)
	if err != nil {
		return fmt.Errorf("unable to schedule overdue scan: %v", err)
	}

	s.log.Infof("scanning every %v", s.interval)
	s.scheduler.StartAsync()
	return nil
}

// Stop prevents new cycles and waits for the in-flight one to finish.
func (s *Scanner) Stop() {
	s.stopped.Store(true)
	s.scheduler.Stop()

	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	s.log.Infof("stopped")
}

func (s *Scanner) scheduledCycle() {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	if s.stopped.Load() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			metrics.ScanCycles.WithLabelValues("panic").Inc()
			s.log.Errorf("scan cycle panicked: %v", r)
		}
	}()

	result, err := s.runCycle(context.Background())
	if err != nil {
		s.log.Errorf("scan cycle failed: %v", err)
		return
	}

	if result.Triggered > 0 || result.Failed > 0 {
		s.log.Infof("scanned=%v triggered=%v skipped=%v failed=%v redriven=%v",
			result.Scanned, result.Triggered, result.Skipped, result.Failed, result.Redriven)
	}
}

// RunCycle evaluates every enabled active switch once, triggers the overdue
// ones and re-enqueues events for switches that are still triggered.
func (s *Scanner) RunCycle(ctx context.Context) (CycleResult, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.runCycle(ctx)
}

func (s *Scanner) runCycle(ctx context.Context) (CycleResult, error) {
	result := CycleResult{}
	started := time.Now()

	if s.lease != nil {
		acquired, err := s.lease.Acquire(ctx)
		if err != nil {
			metrics.ScanCycles.WithLabelValues("error").Inc()
			return result, errors.Wrap(err, "acquire scan lease")
		}

		if !acquired {
			s.log.Debugf("another replica holds the scan lease")
			metrics.ScanCycles.WithLabelValues("skipped").Inc()
			return result, nil
		}

		defer func() {
			if err := s.lease.Release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warnf("unable to release scan lease: %v", err)
			}
		}()
	}

	if err := s.scanActive(ctx, &result); err != nil {
		metrics.ScanCycles.WithLabelValues("error").Inc()
		return result, err
	}

	if err := s.redrive(ctx, &result); err != nil {
		metrics.ScanCycles.WithLabelValues("error").Inc()
		return result, err
	}

	metrics.ScanCycles.WithLabelValues("ok").Inc()
	metrics.ScanDuration.Observe(time.Since(started).Seconds())
	return result, nil
}

func (s *Scanner) scanActive(ctx context.Context, result *CycleResult) error {
	var afterID uint

	for {
		page, err := s.switches.ListEnabledActiveSwitches(ctx, afterID, s.pageSize)
		if err != nil {
			return errors.Wrap(err, "list active switches")
		}

		now := s.clock.Now()
		for i := range page {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			result.Scanned++
			s.evaluate(ctx, &page[i], now, result)
		}

		if len(page) < s.pageSize {
			return nil
		}
		afterID = page[len(page)-1].ID

		if err := s.refreshLease(ctx); err != nil {
			return err
		}
	}
}

// refreshLease extends the lease between pages so a long cycle keeps it.
func (s *Scanner) refreshLease(ctx context.Context) error {
	if s.lease == nil {
		return nil
	}

	held, err := s.lease.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "refresh scan lease")
	}
	if !held {
		return ErrLeaseLost
	}
	return nil
}

func (s *Scanner) evaluate(ctx context.Context, sw *models.Switch, now time.Time, result *CycleResult) {
	if !engine.Evaluate(sw, now).IsOverdue {
		return
	}

	triggered, err := s.engine.TriggerOverdue(ctx, sw)
	if errors.Is(err, models.ErrInvalidState) || errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrNotFound) {
		result.Skipped++
		metrics.TriggerConflicts.Inc()
		s.log.Debugf("switch id=%v left alone: %v", sw.ID, err)
		return
	}

	if err != nil {
		result.Failed++
		s.log.Errorf("unable to trigger switch id=%v: %v", sw.ID, err)
		return
	}

	result.Triggered++
	metrics.SwitchesTriggered.Inc()
	s.log.Infof("switch id=%v triggered at %v", triggered.ID, triggered.TriggeredAt.Format(time.RFC3339))

	// A lost event is recovered by the redrive pass of a later cycle
	if err := s.queue.EnqueueTrigger(ctx, triggered.ID, *triggered.TriggeredAt); err != nil {
		s.log.Errorf("unable to enqueue trigger for switch id=%v: %v", triggered.ID, err)
	}
}

// redrive re-enqueues the trigger event of every triggered switch. The
// queue drops events it has already seen, so this only matters when the
// process died between a trigger and its enqueue.
func (s *Scanner) redrive(ctx context.Context, result *CycleResult) error {
	var afterID uint

	for {
		page, err := s.switches.ListTriggeredSwitches(ctx, afterID, s.pageSize)
		if err != nil {
			return errors.Wrap(err, "list triggered switches")
		}

		for _, sw := range page {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if sw.TriggeredAt == nil {
				continue
			}

			if err := s.queue.EnqueueTrigger(ctx, sw.ID, *sw.TriggeredAt); err != nil {
				s.log.Errorf("unable to re-enqueue trigger for switch id=%v: %v", sw.ID, err)
				continue
			}
			result.Redriven++
		}

		if len(page) < s.pageSize {
			return nil
		}
		afterID = page[len(page)-1].ID

		if err := s.refreshLease(ctx); err != nil {
			return err
		}
	}
}
