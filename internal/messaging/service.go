// Package messaging delivers study invitations over SMS and WhatsApp.
//
// Delivery is outbound-only: the instrument runs in the browser and has
// no inbound message channel. Each send is recorded in the invitation
// audit log.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ModalMetrics/GiftFlow/internal/models"
	"github.com/ModalMetrics/GiftFlow/internal/store"
	"github.com/ModalMetrics/GiftFlow/internal/util"
)

// DefaultBaseURL is the study link base when none is configured.
const DefaultBaseURL = "http://localhost:8080"

// invitationBody is the recruitment message template. The only variable
// part is the study link.
const invitationBody = "You're invited to take part in a short research study: a simulated gift card checkout followed by a brief questionnaire (about 10 minutes). Open this link on your device to begin: %s"

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]+`)

// Sentinel errors for invitation delivery.
var (
	// ErrChannelNotConfigured indicates no sender is wired for the requested
	// delivery channel.
	ErrChannelNotConfigured = errors.New("no sender configured for channel")
	// ErrDeliveryFailed wraps carrier-side send failures.
	ErrDeliveryFailed = errors.New("failed to send invitation")
)

// Sender delivers one message to a canonical recipient.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the messaging service.
type Opts struct {
	// BaseURL is the public study URL invitations link to.
	BaseURL string
	// SMS handles ChannelSMS sends.
	SMS Sender
	// WhatsApp handles ChannelWhatsApp sends.
	WhatsApp Sender
}

// Option configures the messaging service.
type Option func(*Opts)

// WithBaseURL sets the public study URL.
func WithBaseURL(baseURL string) Option {
	return func(o *Opts) { o.BaseURL = baseURL }
}

// WithSMSSender wires the SMS channel.
func WithSMSSender(s Sender) Option {
	return func(o *Opts) { o.SMS = s }
}

// WithWhatsAppSender wires the WhatsApp channel.
func WithWhatsAppSender(s Sender) Option {
	return func(o *Opts) { o.WhatsApp = s }
}

// Service composes and delivers study invitations, recording each send.
type Service struct {
	st      store.Store
	baseURL string
	senders map[models.InvitationChannel]Sender
}

// NewService creates the messaging service. Channels without a configured
// sender reject sends with ErrChannelNotConfigured.
func NewService(st store.Store, opts ...Option) *Service {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	senders := make(map[models.InvitationChannel]Sender)
	if cfg.SMS != nil {
		senders[models.ChannelSMS] = cfg.SMS
	}
	if cfg.WhatsApp != nil {
		senders[models.ChannelWhatsApp] = cfg.WhatsApp
	}
	slog.Debug("MessagingService created", "baseURL", baseURL, "sms_configured", cfg.SMS != nil, "whatsapp_configured", cfg.WhatsApp != nil)

	return &Service{st: st, baseURL: baseURL, senders: senders}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone
// number by stripping everything but digits. The result must have at
// least 6 digits.
func (s *Service) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	wasModified := recipient != canonical

	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}

	if wasModified {
		slog.Debug("MessagingService canonicalized recipient", "original", recipient, "canonical", canonical)
	}

	return canonical, nil
}

// ComposeInvitationLink builds the study link, pinning a condition via the
// cond query parameter when one is given.
func (s *Service) ComposeInvitationLink(condition string) string {
	if condition == "" {
		return s.baseURL
	}
	sep := "?"
	if strings.Contains(s.baseURL, "?") {
		sep = "&"
	}
	return s.baseURL + sep + "cond=" + condition
}

// SendInvitation validates the request, delivers the invitation over the
// requested channel, and records it in the audit log. The audit write is
// best-effort: a delivered invitation is returned even if recording it
// fails.
func (s *Service) SendInvitation(ctx context.Context, req models.InvitationRequest) (*models.Invitation, error) {
	if err := req.Validate(); err != nil {
		slog.Warn("MessagingService SendInvitation validation failed", "error", err)
		return nil, err
	}

	canonical, err := s.ValidateAndCanonicalizeRecipient(req.Phone)
	if err != nil {
		slog.Warn("MessagingService SendInvitation invalid recipient", "error", err)
		return nil, err
	}

	sender, ok := s.senders[req.Channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotConfigured, req.Channel)
	}

	condition := ""
	if req.Condition != "" {
		cond, err := models.ParseCondition(req.Condition)
		if err != nil {
			return nil, err
		}
		condition = string(cond)
	}

	link := s.ComposeInvitationLink(condition)
	body := fmt.Sprintf(invitationBody, link)

	if err := sender.SendMessage(ctx, canonical, body); err != nil {
		slog.Error("MessagingService SendInvitation delivery failed", "channel", req.Channel, "to", canonical, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	inv := models.Invitation{
		ID:        util.GenerateInvitationID(),
		Phone:     canonical,
		Channel:   req.Channel,
		Condition: condition,
		Link:      link,
		SentAt:    time.Now(),
	}
	if err := s.st.AddInvitation(inv); err != nil {
		slog.Warn("MessagingService SendInvitation failed to record invitation", "id", inv.ID, "error", err)
	}

	slog.Info("MessagingService invitation sent", "id", inv.ID, "channel", req.Channel, "condition", condition)
	return &inv, nil
}

// Invitations returns the invitation audit log.
func (s *Service) Invitations() ([]models.Invitation, error) {
	return s.st.GetInvitations()
}

// MockSender records sends for tests.
type MockSender struct {
	Sent []SentMessage
	Err  error
}

// SentMessage is one recorded outbound message.
type SentMessage struct {
	To   string
	Body string
}

func NewMockSender() *MockSender {
	return &MockSender{}
}

func (m *MockSender) SendMessage(ctx context.Context, to string, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}
