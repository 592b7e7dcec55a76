package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Daskott/deadman/server/engine"
	"github.com/Daskott/deadman/server/metrics"
	"github.com/Daskott/deadman/server/models"
	"github.com/Daskott/deadman/server/notify"
	"github.com/lestrrat-go/backoff/v2"
	"github.com/pkg/errors"
)

// Deliver sends a pending notification, retrying with exponential backoff
// until it is sent or the attempt budget is spent. Attempts already made by
// an earlier run count against the budget. Delivery failures end up on the
// record and are never returned; persistence errors and shutdown are, so
// the job runs again.
func (d *Dispatcher) Deliver(ctx context.Context, notificationID uint) error {
	notification, err := d.gateway.GetNotification(ctx, notificationID)
	if errors.Is(err, models.ErrNotFound) {
		d.log.Infof("notification id=%v no longer exists, skipping delivery", notificationID)
		return nil
	}
	if err != nil {
		return err
	}

	if notification.Status != models.PENDING_NOTIFICATION {
		return nil
	}

	attempts := notification.Attempts
	lastError := notification.ErrorMessage
	msg := notify.MessageFor(notification)

	policy := backoff.Exponential(
		backoff.WithMinInterval(d.opts.BackoffMin),
		backoff.WithMaxInterval(d.opts.BackoffMax),
		backoff.WithJitterFactor(0.05),
		backoff.WithMaxRetries(d.opts.MaxAttempts),
	)
	b := policy.Start(ctx)

	for attempts < d.opts.MaxAttempts && backoff.Continue(b) {
		attempts++

		// An attempt in flight is allowed to finish during shutdown
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.AttemptTimeout)
		err := d.sender.Send(attemptCtx, msg)
		cancel()

		if err == nil {
			metrics.DeliveryAttempts.WithLabelValues("success").Inc()
			return d.markSent(ctx, notification, attempts)
		}

		metrics.DeliveryAttempts.WithLabelValues("failure").Inc()
		lastError = err.Error()
		d.log.Warnf("attempt %v/%v to deliver notification id=%v failed: %v",
			attempts, d.opts.MaxAttempts, notificationID, err)

		update := models.NotificationUpdate{
			Status:       models.PENDING_NOTIFICATION,
			Attempts:     attempts,
			ErrorMessage: lastError,
		}
		if err := d.gateway.UpdateNotificationStatus(context.WithoutCancel(ctx), notificationID, update); err != nil {
			return err
		}
	}

	if attempts < d.opts.MaxAttempts {
		if ctx.Err() != nil {
			d.log.Infof("delivery of notification id=%v interrupted after %v attempt(s)", notificationID, attempts)
			return ctx.Err()
		}
		return fmt.Errorf("backoff stopped after %d of %d attempts", attempts, d.opts.MaxAttempts)
	}

	return d.markFailed(ctx, notification, attempts, lastError)
}

func (d *Dispatcher) markSent(ctx context.Context, notification *models.Notification, attempts int) error {
	sentAt := d.clock.Now()

	err := d.gateway.UpdateNotificationStatus(context.WithoutCancel(ctx), notification.ID, models.NotificationUpdate{
		Status:   models.SENT_NOTIFICATION,
		Attempts: attempts,
		SentAt:   &sentAt,
	})
	if err != nil {
		return errors.Wrapf(err, "notification id=%v was delivered but could not be marked sent", notification.ID)
	}

	metrics.Deliveries.WithLabelValues(string(models.SENT_NOTIFICATION)).Inc()
	d.log.Infof("notification id=%v sent to %v", notification.ID, notification.RecipientName)
	return nil
}

func (d *Dispatcher) markFailed(ctx context.Context, notification *models.Notification, attempts int, lastError string) error {
	err := d.gateway.UpdateNotificationStatus(context.WithoutCancel(ctx), notification.ID, models.NotificationUpdate{
		Status:       models.FAILED_NOTIFICATION,
		Attempts:     attempts,
		ErrorMessage: lastError,
	})
	if err != nil {
		return err
	}

	metrics.Deliveries.WithLabelValues(string(models.FAILED_NOTIFICATION)).Inc()
	d.log.Errorf("giving up on notification id=%v to %v after %v attempt(s): %v",
		notification.ID, notification.RecipientName, attempts, lastError)
	return nil
}

// ---------------------------------------------------------------------------------//
// Message templates
// --------------------------------------------------------------------------------//

func renderTrigger(sw *models.Switch, contact models.EmergencyContact, status engine.Status) (subject, body string) {
	subject = fmt.Sprintf("Deadman switch %q has been triggered", sw.Name)

	lastSeen := "has never checked in"
	if sw.LastCheckIn != nil {
		lastSeen = "last checked in on " + formatTime(*sw.LastCheckIn)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", contact.Name)
	fmt.Fprintf(&b, "You are listed as an emergency contact for the deadman switch %q.\n", sw.Name)
	fmt.Fprintf(&b, "Its owner %s and missed the deadline of %s.\n", lastSeen, formatTime(status.DeadlineAt))
	if sw.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", sw.Description)
	}
	b.WriteString("\nPlease try to get in touch with them.")

	return subject, b.String()
}

func renderTest(sw *models.Switch, contact models.EmergencyContact) (subject, body string) {
	subject = fmt.Sprintf("Test notification for deadman switch %q", sw.Name)
	body = fmt.Sprintf("Hi %s,\n\nThis is a test of the deadman switch %q. No action is needed.",
		contact.Name, sw.Name)
	return subject, body
}

func formatTime(t time.Time) string {
	return t.UTC().Format("Mon, 02 Jan 2006 15:04 MST")
}
