package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/Daskott/deadman/shared"
	"github.com/go-resty/resty/v2"
	"github.com/wneessen/go-mail"
)

// ---------------------------------------------------------------------------------//
// SMS
// --------------------------------------------------------------------------------//

type SMSSender interface {
	SendMessage(ctx context.Context, to, msg string) error
}

type SMSChannel struct {
	sender SMSSender
}

func NewSMSChannel(sender SMSSender) *SMSChannel {
	return &SMSChannel{sender: sender}
}

func (c *SMSChannel) Name() string { return "sms" }

func (c *SMSChannel) Accepts(msg Message) bool {
	return msg.RecipientPhone != ""
}

func (c *SMSChannel) Send(ctx context.Context, msg Message) error {
	return c.sender.SendMessage(ctx, msg.RecipientPhone, msg.Body)
}

// ---------------------------------------------------------------------------------//
// Email
// --------------------------------------------------------------------------------//

const DEFAULT_EMAIL_TIMEOUT = 30 * time.Second

type sendMailFunc func(ctx context.Context, client *mail.Client, msg *mail.Msg) error

func dialAndSend(ctx context.Context, client *mail.Client, msg *mail.Msg) error {
	return client.DialAndSendWithContext(ctx, msg)
}

type EmailChannel struct {
	config   shared.SmtpConfig
	sendMail sendMailFunc
}

func NewEmailChannel(config shared.SmtpConfig) *EmailChannel {
	return &EmailChannel{config: config, sendMail: dialAndSend}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Accepts(msg Message) bool {
	return msg.RecipientEmail != ""
}

// Send hands the message to the SMTP relay. The connection is bounded by
// the deadline of 'ctx' and the send returns only once it is closed.
func (c *EmailChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := DEFAULT_EMAIL_TIMEOUT
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	client, err := c.client(timeout)
	if err != nil {
		return fmt.Errorf("unable to configure smtp client: %w", err)
	}

	m, err := c.render(msg)
	if err != nil {
		return err
	}

	return c.sendMail(ctx, client, m)
}

func (c *EmailChannel) client(timeout time.Duration) (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(c.config.Port),
		mail.WithTimeout(timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}

	if c.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(c.config.Username),
			mail.WithPassword(c.config.Password),
		)
	}

	return mail.NewClient(c.config.Host, opts...)
}

func (c *EmailChannel) render(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(c.config.From); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := m.To(msg.RecipientEmail); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}

	m.Subject(msg.Subject)
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	return m, nil
}

// ---------------------------------------------------------------------------------//
// Webhook
// --------------------------------------------------------------------------------//

// WebhookChannel posts every message as JSON to a configured URL. Retries
// are left to the dispatcher.
type WebhookChannel struct {
	client *resty.Client
	url    string
}

func NewWebhookChannel(config shared.WebhookConfig) *WebhookChannel {
	client := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if config.Token != "" {
		client.SetAuthToken(config.Token)
	}

	return &WebhookChannel{client: client, url: config.URL}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Accepts(msg Message) bool { return true }

func (c *WebhookChannel) Send(ctx context.Context, msg Message) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(msg).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("webhook responded with %v", resp.Status())
	}
	return nil
}
