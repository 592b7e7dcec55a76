package twilio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Daskott/deadman/shared"
	"github.com/stretchr/testify/assert"
)

func TestSendMessageInDevModeDoesNotCallTwilio(t *testing.T) {
	client := NewClient(shared.TwilioConfig{}, time.Second, true)

	err := client.SendMessage(context.Background(), "+14165550100", "hello")
	assert.NoError(t, err)
}

func TestNewClientBoundsRequests(t *testing.T) {
	client := NewClient(shared.TwilioConfig{AccountSid: "AC123", AuthToken: "secret"}, 7*time.Second, false)
	assert.Equal(t, 7*time.Second, client.httpClient.Timeout)

	client = NewClient(shared.TwilioConfig{}, 0, false)
	assert.Equal(t, DEFAULT_TIMEOUT, client.httpClient.Timeout)
}

func TestSendMessageSkipsCancelledAttempt(t *testing.T) {
	client := NewClient(shared.TwilioConfig{AccountSid: "AC123", AuthToken: "secret"}, time.Second, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.SendMessage(ctx, "+14165550100", "hello")
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}
