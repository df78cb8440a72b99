// Package twiliosms wraps the Twilio REST API for delivering study
// invitations. SMS is the primary channel; Twilio-hosted WhatsApp is
// available for deployments without a linked WhatsApp device.
package twiliosms

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
	// FromNumber is the sending number for SMS, in E.164 form.
	FromNumber string
	// FromWhatsApp is the sending identity for Twilio-hosted WhatsApp,
	// in "whatsapp:+15550100" form. Optional.
	FromWhatsApp string
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the SMS sending number.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// WithFromWhatsApp sets the Twilio-hosted WhatsApp sending identity.
func WithFromWhatsApp(from string) Option {
	return func(o *Opts) { o.FromWhatsApp = from }
}

// Client wraps the Twilio REST API.
type Client struct {
	client       *twilio.RestClient
	fromNumber   string
	fromWhatsApp string
}

// NewClient builds a Twilio client. Credentials fall back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_FROM_NUMBER, and
// TWILIO_WHATSAPP_FROM environment variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.FromWhatsApp == "" {
		cfg.FromWhatsApp = os.Getenv("TWILIO_WHATSAPP_FROM")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "",
		"FromWhatsApp_set", cfg.FromWhatsApp != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" && cfg.FromWhatsApp == "" {
		return nil, fmt.Errorf("at least one sending identity must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{
		client:       client,
		fromNumber:   cfg.FromNumber,
		fromWhatsApp: cfg.FromWhatsApp,
	}, nil
}

// SendMessage sends an SMS. to is a canonical digit string; the E.164
// prefix is added here.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.fromNumber == "" {
		return fmt.Errorf("SMS sending number not configured")
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(FormatSMSTo(to))
	params.SetFrom(c.fromNumber)
	params.SetBody(body)

	_, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	slog.Debug("Twilio message sent", "to", to)
	return nil
}

// SendWhatsApp sends a message over Twilio-hosted WhatsApp.
func (c *Client) SendWhatsApp(ctx context.Context, to string, body string) error {
	if c.fromWhatsApp == "" {
		return fmt.Errorf("WhatsApp sending identity not configured")
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(FormatWhatsAppTo(to))
	params.SetFrom(c.fromWhatsApp)
	params.SetBody(body)

	_, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendWhatsApp failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	slog.Debug("Twilio WhatsApp message sent", "to", to)
	return nil
}

// WhatsAppSender exposes the client's WhatsApp path under the messaging
// Sender shape, so both channels of one Twilio account can be wired
// independently.
type WhatsAppSender struct {
	c *Client
}

// WhatsApp returns a sender that delivers over Twilio-hosted WhatsApp.
func (c *Client) WhatsApp() *WhatsAppSender {
	return &WhatsAppSender{c: c}
}

func (s *WhatsAppSender) SendMessage(ctx context.Context, to string, body string) error {
	return s.c.SendWhatsApp(ctx, to, body)
}

// FormatSMSTo turns a canonical digit string into an E.164 destination.
func FormatSMSTo(to string) string {
	if strings.HasPrefix(to, "+") {
		return to
	}
	return "+" + to
}

// FormatWhatsAppTo turns a canonical digit string into a Twilio WhatsApp
// destination.
func FormatWhatsAppTo(to string) string {
	return "whatsapp:" + FormatSMSTo(to)
}

// MockClient records sends instead of calling the API.
type MockClient struct {
	SentMessages     []SentMessage
	WhatsAppMessages []SentMessage
	Err              error
}

// SentMessage is one recorded outbound message.
type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) SendWhatsApp(ctx context.Context, to string, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.WhatsAppMessages = append(m.WhatsAppMessages, SentMessage{To: to, Body: body})
	return nil
}
