package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioSender delivers notifications as SMS through the Twilio API. The
// subject and HTML body are dropped; SMS carries the text body only.
type TwilioSender struct {
	client *twilio.RestClient
	from   string
}

// Compile-time check that TwilioSender implements Sender.
var _ Sender = (*TwilioSender)(nil)

// NewTwilioSender creates an SMS sender. Account SID, auth token, and the
// sending number are all required.
func NewTwilioSender(opts ...Option) (*TwilioSender, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
		return nil, fmt.Errorf("Twilio credentials are required")
	}
	if cfg.TwilioFromNumber == "" {
		return nil, fmt.Errorf("Twilio from number is required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
	})
	return &TwilioSender{client: client, from: cfg.TwilioFromNumber}, nil
}

func (t *TwilioSender) Deliver(ctx context.Context, to, subject, text, html string) error {
	if to == "" {
		return fmt.Errorf("recipient number is empty")
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetBody(text)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send SMS to %s: %w", to, err)
	}
	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Info("TwilioSender.Deliver: SMS sent", "to", to, "sid", sid)
	return nil
}
