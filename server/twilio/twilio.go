package twilio

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Daskott/deadman/server/logger"
	"github.com/Daskott/deadman/shared"
	"github.com/twilio/twilio-go"
	twilioClient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

var logg = logger.NewLogger()

const DEFAULT_TIMEOUT = 10 * time.Second

type ClientWrapper struct {
	client     *twilio.RestClient
	httpClient *http.Client
	config     shared.TwilioConfig
	devMode    bool
}

// NewClient returns a Twilio client whose requests give up after 'timeout'.
// In dev mode messages are logged instead of sent.
func NewClient(config shared.TwilioConfig, timeout time.Duration, devMode bool) *ClientWrapper {
	if timeout <= 0 {
		timeout = DEFAULT_TIMEOUT
	}

	httpClient := &http.Client{Timeout: timeout}
	baseClient := &twilioClient.Client{
		Credentials: twilioClient.NewCredentials(config.AccountSid, config.AuthToken),
		HTTPClient:  httpClient,
	}
	baseClient.SetAccountSid(config.AccountSid)

	return &ClientWrapper{
		client:     twilio.NewRestClientWithParams(twilio.RestClientParams{Client: baseClient}),
		httpClient: httpClient,
		config:     config,
		devMode:    devMode,
	}
}

// SendMessage sends 'msg' to the phone number 'to'. The Twilio client takes
// no context, so the request is bounded by the client timeout instead.
func (cw *ClientWrapper) SendMessage(ctx context.Context, to, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if cw.devMode {
		logg.Infof("[dev] SMS to %v: %v", to, msg)
		return nil
	}

	params := &openapi.CreateMessageParams{}
	params.SetMessagingServiceSid(cw.config.MessagingServiceSid)
	params.SetTo(to)
	params.SetBody(msg)

	return cw.createMessage(params)
}

func (cw *ClientWrapper) createMessage(params *openapi.CreateMessageParams) error {
	resp, err := cw.client.ApiV2010.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio: %v", err)
	}

	if resp.ErrorMessage != nil && *resp.ErrorMessage != "" {
		return fmt.Errorf("twilio: %v", *resp.ErrorMessage)
	}

	if resp.Sid != nil {
		logg.Debugf("SMS queued by twilio with sid=%v", *resp.Sid)
	}
	return nil
}
