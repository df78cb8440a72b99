// Package models defines the core data structures for GiftFlow.
//
// It includes the experimental condition and modality enums, checkout step
// descriptors, and request/response types shared across modules.
package models

import (
	"errors"
	"strings"
)

// Condition identifies the experimental arm a participant is assigned to.
type Condition string

const (
	// ConditionA uses standard input on every step with no modality surface.
	ConditionA Condition = "A"
	// ConditionB lets the participant pick a modality and switch at any time.
	ConditionB Condition = "B"
	// ConditionC assigns a fixed modality per step from a planner table.
	ConditionC Condition = "C"
)

// DefaultCondition is assigned when no override token or cached assignment exists.
const DefaultCondition = ConditionA

// Modality defines how the participant supplies an answer on a step.
type Modality string

const (
	// ModalityStandard is conventional pointer/keyboard form input.
	ModalityStandard Modality = "standard"
	// ModalityVoice captures a spoken utterance and parses it against the step.
	ModalityVoice Modality = "voice"
	// ModalityChat captures a typed freeform message and parses it against the step.
	ModalityChat Modality = "chat"
)

// StepKind defines the input shape of a checkout step.
type StepKind string

const (
	// StepKindChoice presents a small closed option list.
	StepKindChoice StepKind = "choice"
	// StepKindDesign presents a large visual option grid.
	StepKindDesign StepKind = "design"
	// StepKindNumeric accepts an integer quantity.
	StepKindNumeric StepKind = "numeric"
	// StepKindAmount accepts a currency amount.
	StepKindAmount StepKind = "amount"
	// StepKindText accepts freeform text.
	StepKindText StepKind = "text"
	// StepKindInfo displays derived information and takes no input.
	StepKindInfo StepKind = "info"
)

// NavAction identifies the direction of a navigation event.
type NavAction string

const (
	// NavForward advances to the next step or completes checkout.
	NavForward NavAction = "forward"
	// NavBackward returns to the previous step.
	NavBackward NavAction = "backward"
)

// SessionPhase tracks which stage of the study a session is in.
type SessionPhase string

const (
	// PhaseCheckout means the participant is inside the checkout wizard.
	PhaseCheckout SessionPhase = "checkout"
	// PhaseSurvey means checkout completed and the post-task survey is pending.
	PhaseSurvey SessionPhase = "survey"
	// PhaseDone means the survey was submitted and the completion record written.
	PhaseDone SessionPhase = "done"
)

// InvitationChannel identifies the delivery channel for a study invitation.
type InvitationChannel string

const (
	// ChannelSMS delivers the study link over Twilio SMS.
	ChannelSMS InvitationChannel = "sms"
	// ChannelWhatsApp delivers the study link over WhatsApp.
	ChannelWhatsApp InvitationChannel = "whatsapp"
)

// Validation constants for input validation
const (
	// MaxAnswerValueLength defines the maximum allowed length for a stored answer value
	MaxAnswerValueLength = 500
	// MaxUtteranceLength defines the maximum allowed length for a freeform utterance
	MaxUtteranceLength = 2000
)

// Error variables for better error handling and testability
var (
	ErrInvalidCondition   = errors.New("invalid condition token")
	ErrInvalidModality    = errors.New("invalid modality")
	ErrUnknownStep        = errors.New("unknown step id")
	ErrNotCurrentStep     = errors.New("step is not the current step")
	ErrStepIncomplete     = errors.New("current step is incomplete")
	ErrAtFirstStep        = errors.New("already at the first step")
	ErrCheckoutComplete   = errors.New("checkout already completed")
	ErrCheckoutIncomplete = errors.New("checkout not completed yet")
	ErrManualInputLocked  = errors.New("manual input is locked while a non-standard modality is active")
	ErrModalityMismatch   = errors.New("input source does not match the active modality")
	ErrModalityFixed      = errors.New("modality selection is not available in this condition")
	ErrAlreadySubmitted   = errors.New("survey already submitted")
	ErrSessionNotFound    = errors.New("session not found")
	ErrMissingStepID      = errors.New("step_id is required")
	ErrMissingAnswerValue = errors.New("value is required for standard input")
	ErrMissingUtterance   = errors.New("utterance is required for voice and chat input")
	ErrAnswerTooLong      = errors.New("answer value exceeds maximum length")
	ErrUtteranceTooLong   = errors.New("utterance exceeds maximum length")
	ErrEmptyPhone         = errors.New("phone cannot be empty")
	ErrInvalidChannel     = errors.New("invalid invitation channel")
)

// ParseCondition parses a request-supplied condition token.
// Tokens are matched case-insensitively; anything but A, B, or C is rejected.
func ParseCondition(token string) (Condition, error) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "A":
		return ConditionA, nil
	case "B":
		return ConditionB, nil
	case "C":
		return ConditionC, nil
	default:
		return "", ErrInvalidCondition
	}
}

// IsValidCondition checks if the given condition is supported.
func IsValidCondition(c Condition) bool {
	switch c {
	case ConditionA, ConditionB, ConditionC:
		return true
	default:
		return false
	}
}

// IsValidModality checks if the given modality is supported.
func IsValidModality(m Modality) bool {
	switch m {
	case ModalityStandard, ModalityVoice, ModalityChat:
		return true
	default:
		return false
	}
}

// IsValidChannel checks if the given invitation channel is supported.
func IsValidChannel(c InvitationChannel) bool {
	switch c {
	case ChannelSMS, ChannelWhatsApp:
		return true
	default:
		return false
	}
}

// Step describes one page of the checkout wizard.
type Step struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Kind     StepKind `json:"kind"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"` // choice/design option labels
	Presets  []string `json:"presets,omitempty"` // numeric/amount quick picks
	Detail   string   `json:"detail,omitempty"`  // display payload for info steps
}

// TransitionRecord captures one navigation event in the append-only transition log.
// ToStepID is empty and ToStepIndex is -1 when the event completed checkout.
type TransitionRecord struct {
	Action        NavAction `json:"action"`
	FromStepID    string    `json:"from_step_id"`
	FromStepIndex int       `json:"from_step_index"`
	ToStepID      string    `json:"to_step_id,omitempty"`
	ToStepIndex   int       `json:"to_step_index"`
	StepCount     int       `json:"step_count"`
	EnteredAt     int64     `json:"enteredAt"` // unix milliseconds
	ExitedAt      int64     `json:"exitedAt"`  // unix milliseconds
	DwellMS       int64     `json:"dwellMs"`
}

// Request payloads for the session API

// StartSessionRequest starts (or restarts) a study session for a device.
type StartSessionRequest struct {
	PageURL        string `json:"page_url,omitempty"`
	VoiceSupported *bool  `json:"voice_supported,omitempty"`
}

// AnswerRequest records an answer event for the current step.
// Standard input carries Value; voice and chat carry Utterance.
type AnswerRequest struct {
	StepID    string   `json:"step_id,omitempty"`
	Value     string   `json:"value,omitempty"`
	Utterance string   `json:"utterance,omitempty"`
	Source    Modality `json:"source"`
}

// Validate performs validation on an AnswerRequest structure.
func (r *AnswerRequest) Validate() error {
	if !IsValidModality(r.Source) {
		return ErrInvalidModality
	}
	switch r.Source {
	case ModalityStandard:
		if r.StepID == "" {
			return ErrMissingStepID
		}
		if r.Value == "" {
			return ErrMissingAnswerValue
		}
		if len(r.Value) > MaxAnswerValueLength {
			return ErrAnswerTooLong
		}
	case ModalityVoice, ModalityChat:
		if r.Utterance == "" {
			return ErrMissingUtterance
		}
		if len(r.Utterance) > MaxUtteranceLength {
			return ErrUtteranceTooLong
		}
	}
	return nil
}

// ModalityRequest switches the session modality (Condition B only).
type ModalityRequest struct {
	Modality Modality `json:"modality"`
}

// CapabilityRequest reports a client capability change, e.g. speech
// recognition turning out to be unavailable after session start.
type CapabilityRequest struct {
	VoiceSupported *bool `json:"voice_supported"`
}

// InvitationRequest asks the server to send a study invitation.
type InvitationRequest struct {
	Phone     string            `json:"phone"`
	Channel   InvitationChannel `json:"channel,omitempty"`
	Condition string            `json:"condition,omitempty"` // optional condition pin for the link
}

// Validate performs validation on an InvitationRequest structure.
func (r *InvitationRequest) Validate() error {
	if r.Phone == "" {
		return ErrEmptyPhone
	}
	if r.Channel == "" {
		r.Channel = ChannelSMS
	}
	if !IsValidChannel(r.Channel) {
		return ErrInvalidChannel
	}
	if r.Condition != "" {
		if _, err := ParseCondition(r.Condition); err != nil {
			return err
		}
	}
	return nil
}

// API Response types for consistent JSON responses

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusRecorded indicates data was successfully recorded via API.
	APIStatusRecorded APIStatus = "recorded"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Convenience functions for common response patterns

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Recorded creates a recorded API response.
func Recorded() APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusRecorded).
		Build()
}

// RecordedWithMessage creates a recorded API response with a message.
func RecordedWithMessage(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusRecorded).
		WithMessage(message).
		Build()
}
