// Package models defines the core data structures for GiftFlow.
//
// This file holds the persisted record shapes: the single study completion
// record, per-device condition assignments, and the invitation audit log.
package models

import "time"

// RecordTypeStudyCompleted is the type tag of the completion record.
const RecordTypeStudyCompleted = "study_completed"

// StudyPayload is the payload of the completion record. Field names are part
// of the datastore contract consumed by the analysis pipeline and must not
// change.
type StudyPayload struct {
	Condition           Condition           `json:"condition"`
	StartedAt           int64               `json:"startedAt"`
	CheckoutCompletedAt int64               `json:"checkoutCompletedAt"`
	SurveySubmittedAt   int64               `json:"surveySubmittedAt"`
	TaskDurationMS      int64               `json:"taskDurationMs"`
	ConversionCompleted bool                `json:"conversion_completed"`
	Transitions         []TransitionRecord  `json:"transitions"`
	Answers             map[string]string   `json:"answers"`
	InputMethodByStep   map[string]Modality `json:"input_method_by_step"`
	Survey              SurveyAnswers       `json:"survey"`
}

// StudyRecord is the single document written to the remote datastore when a
// session finishes the survey. Exactly one record is written per completed
// session.
type StudyRecord struct {
	Type    string       `json:"type"`
	Payload StudyPayload `json:"payload"`
	TS      string       `json:"ts"` // RFC3339 write timestamp
}

// ConditionAssignment caches a device's experimental condition so repeat
// visits land in the same arm.
type ConditionAssignment struct {
	DeviceID  string    `json:"device_id"`
	Condition Condition `json:"condition"`
	Source    string    `json:"source"` // query, fragment, cached, or default
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Invitation records one recruitment message sent to a prospective participant.
type Invitation struct {
	ID        string            `json:"id"`
	Phone     string            `json:"phone"`
	Channel   InvitationChannel `json:"channel"`
	Condition string            `json:"condition,omitempty"` // pinned condition, if any
	Link      string            `json:"link"`
	SentAt    time.Time         `json:"sent_at"`
}

// Render snapshot types returned to the browser front-end

// StepView is the render description of the current step.
type StepView struct {
	Step
	Index    int    `json:"index"`
	Progress string `json:"progress"` // e.g. "Step 3 of 12: Expiry & Pricing"
	Answer   string `json:"answer,omitempty"`
	Complete bool   `json:"complete"`
}

// PriceUnknownDisplay is shown when the price is not yet determinable.
// The price indicator never renders a fabricated zero.
const PriceUnknownDisplay = "—"

// SessionSnapshot is the full render state pushed to the client after every
// successful mutation and returned by session endpoints.
type SessionSnapshot struct {
	SessionID        string            `json:"session_id"`
	Condition        Condition         `json:"condition"`
	Phase            SessionPhase      `json:"phase"`
	Step             *StepView         `json:"step,omitempty"`
	StepCount        int               `json:"step_count"`
	Modality         Modality          `json:"modality"`
	ModalitySwitch   bool              `json:"modality_switch"` // switcher surface shown (Condition B)
	ManualAllowed    bool              `json:"manual_allowed"`
	VoiceUnavailable bool              `json:"voice_unavailable,omitempty"`
	Price            string            `json:"price"`
	PriceKnown       bool              `json:"price_known"`
	Answers          map[string]string `json:"answers"`
	CanGoBack        bool              `json:"can_go_back"`
	Submitted        bool              `json:"submitted"`
}
