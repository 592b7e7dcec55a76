// Package notify delivers rendered notifications over SMS, email and
// webhooks.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/Daskott/deadman/server/logger"
	"github.com/Daskott/deadman/server/models"
	"github.com/pkg/errors"
)

var logg = logger.NewLogger()

type Message struct {
	NotificationID uint                    `json:"notification_id"`
	SwitchID       uint                    `json:"switch_id"`
	Type           models.NotificationType `json:"type"`
	RecipientName  string                  `json:"recipient_name"`
	RecipientEmail string                  `json:"recipient_email,omitempty"`
	RecipientPhone string                  `json:"recipient_phone,omitempty"`
	Subject        string                  `json:"subject"`
	Body           string                  `json:"message"`
}

// MessageFor builds the outgoing message of a stored notification.
func MessageFor(n *models.Notification) Message {
	return Message{
		NotificationID: n.ID,
		SwitchID:       n.SwitchID,
		Type:           n.Type,
		RecipientName:  n.RecipientName,
		RecipientEmail: n.RecipientEmail,
		RecipientPhone: n.RecipientPhone,
		Subject:        n.Subject,
		Body:           n.Message,
	}
}

type Channel interface {
	Name() string
	// Accepts reports whether the channel can reach the message's recipient.
	Accepts(msg Message) bool
	Send(ctx context.Context, msg Message) error
}

// Router tries each accepting channel in order until one succeeds.
type Router struct {
	channels []Channel
}

func NewRouter(channels ...Channel) *Router {
	return &Router{channels: channels}
}

func (r *Router) Channels() []string {
	names := make([]string, 0, len(r.channels))
	for _, channel := range r.channels {
		names = append(names, channel.Name())
	}
	return names
}

// Send returns nil on the first successful channel. When every channel
// fails, or none accepts the recipient, the error wraps models.ErrDelivery.
func (r *Router) Send(ctx context.Context, msg Message) error {
	var failures []string

	for _, channel := range r.channels {
		if !channel.Accepts(msg) {
			continue
		}

		err := channel.Send(ctx, msg)
		if err == nil {
			logg.Debugf("notification id=%v delivered via %v", msg.NotificationID, channel.Name())
			return nil
		}

		failures = append(failures, fmt.Sprintf("%s: %v", channel.Name(), err))
	}

	if len(failures) == 0 {
		return errors.Wrapf(models.ErrDelivery, "no channel can reach %q", msg.RecipientName)
	}
	return errors.Wrap(models.ErrDelivery, strings.Join(failures, "; "))
}

// LogChannel writes messages to the log. It accepts every recipient and is
// meant for development.
type LogChannel struct{}

func (LogChannel) Name() string { return "log" }

func (LogChannel) Accepts(msg Message) bool { return true }

func (LogChannel) Send(ctx context.Context, msg Message) error {
	logg.Infof("[dev] %v notification to %v <%v%v>: %v",
		msg.Type, msg.RecipientName, msg.RecipientEmail, msg.RecipientPhone, msg.Body)
	return nil
}
