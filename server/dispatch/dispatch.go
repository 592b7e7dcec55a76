// Package dispatch turns trigger events into notification records and
// delivers them with bounded retries.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/Daskott/deadman/server/clock"
	"github.com/Daskott/deadman/server/engine"
	"github.com/Daskott/deadman/server/gateway"
	"github.com/Daskott/deadman/server/logger"
	"github.com/Daskott/deadman/server/metrics"
	"github.com/Daskott/deadman/server/models"
	"github.com/Daskott/deadman/server/notify"
	"github.com/Daskott/deadman/server/work"
	"github.com/pkg/errors"
)

const (
	DISPATCH_TRIGGER_JOB     = "dispatch_trigger"
	DELIVER_NOTIFICATION_JOB = "deliver_notification"
)

var logg = logger.NewLogger()

type Sender interface {
	Send(ctx context.Context, msg notify.Message) error
}

// Queue is where dispatch jobs are enqueued.
type Queue interface {
	Perform(ctx context.Context, job work.JobParams) error
}

// Registrar binds job handlers, see work.WorkerPoolAdapter.
type Registrar interface {
	Register(name string, handler work.Handler) error
}

type Options struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	BackoffMin     time.Duration
	BackoffMax     time.Duration
}

type Dispatcher struct {
	gateway gateway.Gateway
	queue   Queue
	sender  Sender
	clock   clock.Clock
	opts    Options
	log     *logger.PrefixLogger
}

func New(gw gateway.Gateway, queue Queue, sender Sender, clk clock.Clock, opts Options) *Dispatcher {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 10 * time.Second
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = 2 * time.Second
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = opts.BackoffMin
	}

	return &Dispatcher{
		gateway: gw,
		queue:   queue,
		sender:  sender,
		clock:   clk,
		opts:    opts,
		log:     logger.Prefixed(logg, "dispatcher"),
	}
}

// Register binds the dispatcher's job handlers.
func (d *Dispatcher) Register(registrar Registrar) error {
	if err := registrar.Register(DISPATCH_TRIGGER_JOB, d.handleTrigger); err != nil {
		return err
	}
	return registrar.Register(DELIVER_NOTIFICATION_JOB, d.handleDelivery)
}

// EnqueueTrigger queues the fan-out of one trigger episode. Repeated calls
// for the same episode are dropped by the queue.
func (d *Dispatcher) EnqueueTrigger(ctx context.Context, switchID uint, triggeredAt time.Time) error {
	episode := models.EpisodeKey(triggeredAt)

	return d.queue.Perform(ctx, work.JobParams{
		Name:      DISPATCH_TRIGGER_JOB,
		Handler:   DISPATCH_TRIGGER_JOB,
		UniqueKey: fmt.Sprintf("trigger:%d:%d", switchID, episode),
		Args: map[string]interface{}{
			"switch_id": switchID,
			"episode":   episode,
		},
	})
}

func (d *Dispatcher) enqueueDelivery(ctx context.Context, notificationID uint) error {
	return d.queue.Perform(ctx, work.JobParams{
		Name:      DELIVER_NOTIFICATION_JOB,
		Handler:   DELIVER_NOTIFICATION_JOB,
		UniqueKey: fmt.Sprintf("deliver:%d", notificationID),
		Args:      map[string]interface{}{"notification_id": notificationID},
	})
}

func (d *Dispatcher) handleTrigger(ctx context.Context, args map[string]interface{}) error {
	switchID, err := uintArg(args, "switch_id")
	if err != nil {
		return err
	}

	episode, err := int64Arg(args, "episode")
	if err != nil {
		return err
	}

	_, err = d.DispatchTrigger(ctx, switchID, time.UnixMicro(episode).UTC())
	return err
}

func (d *Dispatcher) handleDelivery(ctx context.Context, args map[string]interface{}) error {
	notificationID, err := uintArg(args, "notification_id")
	if err != nil {
		return err
	}
	return d.Deliver(ctx, notificationID)
}

// DispatchTrigger creates one pending trigger notification per active
// contact, in priority order, then queues their delivery. Replaying an
// episode creates nothing new: contacts with a pending or sent record for
// (switch, triggeredAt) are skipped, pending ones are queued again.
// It returns the number of notifications created.
func (d *Dispatcher) DispatchTrigger(ctx context.Context, switchID uint, triggeredAt time.Time) (int, error) {
	sw, err := d.gateway.GetSwitch(ctx, switchID)
	if errors.Is(err, models.ErrNotFound) {
		d.log.Infof("switch id=%v no longer exists, nothing to dispatch", switchID)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	// The owner checked in (or paused) before the event was processed
	if sw.Status != models.SWITCH_TRIGGERED || sw.TriggeredAt == nil || !sw.TriggeredAt.Equal(triggeredAt) {
		metrics.TriggersSuperseded.Inc()
		d.log.Warnf("trigger of switch id=%v at %v was superseded by status=%v before dispatch, no contact was notified",
			switchID, triggeredAt.Format(time.RFC3339), sw.Status)
		return 0, nil
	}

	contacts, err := d.gateway.ListActiveContacts(ctx, switchID)
	if err != nil {
		return 0, err
	}

	if len(contacts) == 0 {
		d.log.Warnf("switch id=%v triggered but has no active emergency contacts", switchID)
		return 0, nil
	}

	created := 0
	pending := []uint{}
	status := engine.Evaluate(sw, d.clock.Now())

	for _, contact := range contacts {
		existing, err := d.gateway.FindNotification(ctx, switchID, triggeredAt, contact.ID)
		if err == nil {
			if existing.Status == models.PENDING_NOTIFICATION {
				pending = append(pending, existing.ID)
			}
			continue
		}
		if !errors.Is(err, models.ErrNotFound) {
			return created, err
		}

		notification := d.newNotification(sw, contact, models.TRIGGER_NOTIFICATION)
		notification.Episode = models.EpisodeKey(triggeredAt)
		notification.TriggeredAt = &triggeredAt
		notification.Subject, notification.Message = renderTrigger(sw, contact, status)

		if err := d.gateway.CreateNotification(ctx, notification); err != nil {
			return created, err
		}

		created++
		pending = append(pending, notification.ID)
		metrics.NotificationsCreated.WithLabelValues(string(models.TRIGGER_NOTIFICATION)).Inc()
	}

	d.log.Infof("switch id=%v: %v notification(s) created, %v pending delivery", switchID, created, len(pending))

	return created, d.enqueueDeliveries(ctx, pending)
}

// RequestTest queues a test notification to every active contact of the
// switch. Switch state is not read beyond its name.
func (d *Dispatcher) RequestTest(ctx context.Context, switchID uint) (int, error) {
	sw, err := d.gateway.GetSwitch(ctx, switchID)
	if err != nil {
		return 0, err
	}

	contacts, err := d.gateway.ListActiveContacts(ctx, switchID)
	if err != nil {
		return 0, err
	}

	pending := []uint{}
	for _, contact := range contacts {
		notification := d.newNotification(sw, contact, models.TEST_NOTIFICATION)
		notification.Subject, notification.Message = renderTest(sw, contact)

		if err := d.gateway.CreateNotification(ctx, notification); err != nil {
			return len(pending), err
		}

		pending = append(pending, notification.ID)
		metrics.NotificationsCreated.WithLabelValues(string(models.TEST_NOTIFICATION)).Inc()
	}

	return len(pending), d.enqueueDeliveries(ctx, pending)
}

func (d *Dispatcher) newNotification(sw *models.Switch, contact models.EmergencyContact, kind models.NotificationType) *models.Notification {
	return &models.Notification{
		SwitchID:       sw.ID,
		ContactID:      contact.ID,
		RecipientName:  contact.Name,
		RecipientEmail: contact.Email,
		RecipientPhone: contact.Phone,
		Type:           kind,
		Status:         models.PENDING_NOTIFICATION,
		ScheduledFor:   d.clock.Now(),
	}
}

func (d *Dispatcher) enqueueDeliveries(ctx context.Context, notificationIDs []uint) error {
	for _, id := range notificationIDs {
		if err := d.enqueueDelivery(ctx, id); err != nil {
			return errors.Wrapf(err, "enqueue delivery of notification %d", id)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func uintArg(args map[string]interface{}, key string) (uint, error) {
	value, err := int64Arg(args, key)
	if err != nil {
		return 0, err
	}

	if value < 0 {
		return 0, fmt.Errorf("job arg %q must not be negative", key)
	}
	return uint(value), nil
}

func int64Arg(args map[string]interface{}, key string) (int64, error) {
	switch value := args[key].(type) {
	case interface{ Int64() (int64, error) }:
		return value.Int64()
	case float64:
		return int64(value), nil
	case int64:
		return value, nil
	case int:
		return int64(value), nil
	case uint:
		return int64(value), nil
	case nil:
		return 0, fmt.Errorf("job arg %q is missing", key)
	default:
		return 0, fmt.Errorf("job arg %q has unexpected type %T", key, value)
	}
}
