package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type TwilioConfig struct {
	AccountSID          string
	AuthToken           string
	MessagingServiceSID string
	CodeTTL             time.Duration
}

// messageCreator is the part of the Twilio REST API the gateway uses.
// *twilioApi.ApiService implements it.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Twilio sends passcodes through the Twilio Messages API. North American
// numbers get an SMS; everything else goes out on the WhatsApp channel.
type Twilio struct {
	cfg TwilioConfig
	api messageCreator
}

func NewTwilio(cfg TwilioConfig) (*Twilio, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.MessagingServiceSID == "" {
		return nil, fmt.Errorf("twilio: account SID, auth token and messaging service SID are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Twilio{cfg: cfg, api: client.Api}, nil
}

// twilioChannel returns the Twilio "To" address for an E.164 number.
func twilioChannel(to string) string {
	if strings.HasPrefix(to, "+1") {
		return to
	}
	return "whatsapp:" + to
}

// Send creates the message. The SDK call takes no context, so Send returns
// as soon as ctx is done; the request itself is left to finish.
func (t *Twilio) Send(ctx context.Context, to, code string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetMessagingServiceSid(t.cfg.MessagingServiceSID)
	params.SetTo(twilioChannel(to))
	params.SetBody(FormatMessage(code, t.cfg.CodeTTL))

	done := make(chan error, 1)
	go func() {
		_, err := t.api.CreateMessage(params)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("twilio: failed to send message: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			return nil
		}
		var apiErr *twilioclient.TwilioRestError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("twilio: status %d: %s (code %d)", apiErr.Status, apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("twilio: failed to send message: %w", err)
	}
}
