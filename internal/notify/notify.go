// Package notify provides the delivery abstraction for reminder notifications.
//
// A Sender delivers a single rendered notification; the due-reminder handler
// does not care whether it goes out as email or SMS. Failures are returned to
// the caller so the job runner's retry path applies.
package notify

import (
	"context"
	"log/slog"
)

// Sender defines a pluggable notification delivery abstraction.
type Sender interface {
	// Deliver sends a notification to a recipient address. The html body may
	// be empty; transports that cannot render HTML use the text body.
	Deliver(ctx context.Context, to, subject, text, html string) error
}

// Opts holds configuration options for sender construction.
type Opts struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
}

// Option defines a configuration option for sender construction.
type Option func(*Opts)

func WithSMTPHost(host string) Option     { return func(o *Opts) { o.SMTPHost = host } }
func WithSMTPPort(port int) Option        { return func(o *Opts) { o.SMTPPort = port } }
func WithSMTPUsername(user string) Option { return func(o *Opts) { o.SMTPUsername = user } }
func WithSMTPPassword(pass string) Option { return func(o *Opts) { o.SMTPPassword = pass } }
func WithSMTPFrom(from string) Option     { return func(o *Opts) { o.SMTPFrom = from } }

func WithTwilioAccountSID(sid string) Option  { return func(o *Opts) { o.TwilioAccountSID = sid } }
func WithTwilioAuthToken(token string) Option { return func(o *Opts) { o.TwilioAuthToken = token } }
func WithTwilioFromNumber(from string) Option { return func(o *Opts) { o.TwilioFromNumber = from } }

// NewSender creates a sender based on the configured transport. SMTP wins
// when both are configured; with neither, notifications are logged only.
func NewSender(opts ...Option) (Sender, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SMTPHost != "" {
		slog.Debug("notify.NewSender: using SMTP transport", "host", cfg.SMTPHost)
		return NewSMTPSender(opts...)
	}
	if cfg.TwilioAccountSID != "" {
		slog.Debug("notify.NewSender: using Twilio SMS transport")
		return NewTwilioSender(opts...)
	}
	slog.Warn("notify.NewSender: no transport configured, notifications will only be logged")
	return &LogSender{}, nil
}

// LogSender writes notifications to the log instead of delivering them.
// Used in development and as the fallback when no transport is configured.
type LogSender struct{}

// Compile-time check that LogSender implements Sender.
var _ Sender = (*LogSender)(nil)

func (l *LogSender) Deliver(ctx context.Context, to, subject, text, html string) error {
	slog.Info("LogSender.Deliver", "to", to, "subject", subject, "body", text)
	return nil
}
