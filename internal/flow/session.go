package flow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ModalMetrics/GiftFlow/internal/models"
	"github.com/ModalMetrics/GiftFlow/internal/store"
)

// Session is the state of one participant's run through the study: the
// checkout wizard, then the post-task survey, then the single study record
// write. Methods are not safe for concurrent use; the API layer serializes
// calls per session.
type Session struct {
	ID        string
	DeviceID  string
	Condition models.Condition

	startedAt           time.Time
	checkoutCompletedAt time.Time
	surveySubmittedAt   time.Time

	answers   *Answers
	idx       int
	enteredAt time.Time

	transitions       []models.TransitionRecord
	inputMethodByStep map[string]models.Modality

	modalityChoice   models.Modality
	voiceUnavailable bool
	tables           *ModeTables

	survey    *models.SurveyAnswers
	submitted bool
	phase     models.SessionPhase
}

// NewSession starts a study session: answers seeded with defaults, the
// first step entered, and the start time stamped for task duration.
func NewSession(id, deviceID string, cond models.Condition, tables *ModeTables) *Session {
	if tables == nil {
		tables = DefaultModeTables
	}
	now := time.Now()
	s := &Session{
		ID:                id,
		DeviceID:          deviceID,
		Condition:         cond,
		startedAt:         now,
		answers:           NewAnswers(),
		enteredAt:         now,
		inputMethodByStep: make(map[string]models.Modality),
		tables:            tables,
		phase:             models.PhaseCheckout,
	}
	s.recordInputMethod()
	slog.Info("Session started", "sessionID", id, "deviceID", deviceID, "condition", cond)
	return s
}

// Phase returns the lifecycle stage the session is in.
func (s *Session) Phase() models.SessionPhase {
	return s.phase
}

// activeModality resolves the input surface for the current step.
func (s *Session) activeModality() models.Modality {
	flowIDs := ComputeFlow(s.answers)
	if s.idx >= len(flowIDs) {
		return models.ModalityStandard
	}
	return ResolveModality(s.Condition, s.modalityChoice, flowIDs[s.idx], s.answers, s.tables)
}

// recordInputMethod stamps the current step's entry in the per-step
// modality map. Called on every step entry and modality switch; the last
// value wins.
func (s *Session) recordInputMethod() {
	flowIDs := ComputeFlow(s.answers)
	if s.idx >= len(flowIDs) {
		return
	}
	s.inputMethodByStep[flowIDs[s.idx]] = s.activeModality()
}

// Answer stores a manually entered value for the current step. The step
// must be the one currently shown, and manual input must be permitted for
// the active modality.
func (s *Session) Answer(stepID, value string) error {
	if s.phase != models.PhaseCheckout {
		return models.ErrCheckoutComplete
	}
	if _, ok := LookupStep(stepID); !ok {
		slog.Warn("Session.Answer: unknown step", "sessionID", s.ID, "step", stepID)
		return models.ErrUnknownStep
	}
	flowIDs := ComputeFlow(s.answers)
	if s.idx >= len(flowIDs) || flowIDs[s.idx] != stepID {
		slog.Warn("Session.Answer: step is not current", "sessionID", s.ID, "step", stepID, "index", s.idx)
		return models.ErrNotCurrentStep
	}
	if !ManualInputAllowed(s.Condition, s.activeModality()) {
		slog.Warn("Session.Answer: manual input locked", "sessionID", s.ID, "step", stepID, "modality", s.activeModality())
		return models.ErrManualInputLocked
	}
	s.answers.Set(stepID, value)
	slog.Debug("Session.Answer: answer stored", "sessionID", s.ID, "step", stepID)
	return nil
}

// Freeform applies a voice or chat utterance to the current step. Choice
// and design steps resolve through the option matcher, quantity and amount
// through the numeric parser, and the free-text step stores the utterance
// verbatim. A parse miss records nothing and returns matched=false with no
// error; the participant simply retries.
func (s *Session) Freeform(utterance string, source models.Modality) (string, bool, error) {
	if s.phase != models.PhaseCheckout {
		return "", false, models.ErrCheckoutComplete
	}
	if source != models.ModalityVoice && source != models.ModalityChat {
		return "", false, models.ErrModalityMismatch
	}
	if s.activeModality() != source {
		slog.Warn("Session.Freeform: source does not match active modality", "sessionID", s.ID, "source", source, "active", s.activeModality())
		return "", false, models.ErrModalityMismatch
	}
	flowIDs := ComputeFlow(s.answers)
	step, ok := StepAt(flowIDs, s.idx)
	if !ok {
		return "", false, models.ErrCheckoutComplete
	}
	switch step.Kind {
	case models.StepKindChoice, models.StepKindDesign:
		if v, hit := BestMatch(utterance, step.Options); hit {
			s.answers.Set(step.ID, v)
			slog.Debug("Session.Freeform: option matched", "sessionID", s.ID, "step", step.ID, "value", v, "source", source)
			return v, true, nil
		}
	case models.StepKindNumeric, models.StepKindAmount:
		if v, hit := ParseNumericUtterance(utterance); hit {
			s.answers.Set(step.ID, v)
			slog.Debug("Session.Freeform: number parsed", "sessionID", s.ID, "step", step.ID, "value", v, "source", source)
			return v, true, nil
		}
	case models.StepKindText:
		s.answers.Set(step.ID, utterance)
		slog.Debug("Session.Freeform: text stored", "sessionID", s.ID, "step", step.ID, "source", source)
		return utterance, true, nil
	}
	slog.Debug("Session.Freeform: no match", "sessionID", s.ID, "step", step.ID, "source", source)
	return "", false, nil
}

// Next advances past the current step once its completion gate passes,
// appending the forward transition. Advancing off the last step completes
// checkout and moves the session to the survey phase; done reports that.
func (s *Session) Next() (bool, error) {
	if s.phase != models.PhaseCheckout {
		return false, models.ErrCheckoutComplete
	}
	flowIDs := ComputeFlow(s.answers)
	step, ok := StepAt(flowIDs, s.idx)
	if !ok {
		return false, models.ErrCheckoutComplete
	}
	if !IsStepComplete(step, s.answers) {
		slog.Debug("Session.Next: step incomplete", "sessionID", s.ID, "step", step.ID)
		return false, models.ErrStepIncomplete
	}

	now := time.Now()
	if s.idx == len(flowIDs)-1 {
		s.recordTransition(models.NavForward, flowIDs, s.idx, -1, now)
		s.checkoutCompletedAt = now
		s.phase = models.PhaseSurvey
		slog.Info("Session.Next: checkout completed", "sessionID", s.ID, "stepCount", len(flowIDs))
		return true, nil
	}
	s.recordTransition(models.NavForward, flowIDs, s.idx, s.idx+1, now)
	s.idx++
	s.enteredAt = now
	s.recordInputMethod()
	slog.Debug("Session.Next: advanced", "sessionID", s.ID, "step", flowIDs[s.idx], "index", s.idx)
	return false, nil
}

// Back returns to the previous step, appending the backward transition.
// No completion gate applies to backward navigation.
func (s *Session) Back() error {
	if s.phase != models.PhaseCheckout {
		return models.ErrCheckoutComplete
	}
	if s.idx == 0 {
		return models.ErrAtFirstStep
	}
	flowIDs := ComputeFlow(s.answers)
	now := time.Now()
	s.recordTransition(models.NavBackward, flowIDs, s.idx, s.idx-1, now)
	s.idx--
	s.enteredAt = now
	s.recordInputMethod()
	slog.Debug("Session.Back: went back", "sessionID", s.ID, "step", flowIDs[s.idx], "index", s.idx)
	return nil
}

// recordTransition appends one entry to the transition log. toIdx is -1
// when the forward move completes checkout. Dwell is measured from the
// current step's entry time and clamped non-negative.
func (s *Session) recordTransition(action models.NavAction, flowIDs []string, fromIdx, toIdx int, now time.Time) {
	dwell := now.Sub(s.enteredAt).Milliseconds()
	if dwell < 0 {
		dwell = 0
	}
	rec := models.TransitionRecord{
		Action:        action,
		FromStepID:    flowIDs[fromIdx],
		FromStepIndex: fromIdx,
		ToStepIndex:   toIdx,
		StepCount:     len(flowIDs),
		EnteredAt:     s.enteredAt.UnixMilli(),
		ExitedAt:      now.UnixMilli(),
		DwellMS:       dwell,
	}
	if toIdx >= 0 && toIdx < len(flowIDs) {
		rec.ToStepID = flowIDs[toIdx]
	}
	s.transitions = append(s.transitions, rec)
}

// SwitchModality changes the session-level modality choice. Only Condition
// B exposes the switcher; the per-step record for the current step is
// overwritten to the new choice.
func (s *Session) SwitchModality(m models.Modality) error {
	if s.phase != models.PhaseCheckout {
		return models.ErrCheckoutComplete
	}
	if s.Condition != models.ConditionB {
		slog.Warn("Session.SwitchModality: not available", "sessionID", s.ID, "condition", s.Condition)
		return models.ErrModalityFixed
	}
	if !models.IsValidModality(m) {
		return models.ErrInvalidModality
	}
	s.modalityChoice = m
	s.recordInputMethod()
	slog.Debug("Session.SwitchModality: modality switched", "sessionID", s.ID, "modality", m)
	return nil
}

// SetVoiceSupported records whether the participant's browser can capture
// speech. An unsupported voice surface is disabled in place; no automatic
// reroute to another modality happens.
func (s *Session) SetVoiceSupported(supported bool) {
	s.voiceUnavailable = !supported
	slog.Debug("Session.SetVoiceSupported", "sessionID", s.ID, "supported", supported)
}

// SubmitSurvey validates the survey, writes the single study completion
// record, and freezes the session. On a failed write the survey answers
// are retained so the participant can retry; nothing else changes. A
// successful write disables further submission.
func (s *Session) SubmitSurvey(sv models.SurveyAnswers, st store.Store) error {
	if s.submitted {
		return models.ErrAlreadySubmitted
	}
	if s.phase == models.PhaseCheckout {
		return models.ErrCheckoutIncomplete
	}
	if err := sv.Validate(); err != nil {
		slog.Warn("Session.SubmitSurvey: validation failed", "sessionID", s.ID, "error", err)
		return err
	}

	s.survey = &sv
	now := time.Now()
	payload := models.StudyPayload{
		Condition:           s.Condition,
		StartedAt:           s.startedAt.UnixMilli(),
		CheckoutCompletedAt: s.checkoutCompletedAt.UnixMilli(),
		SurveySubmittedAt:   now.UnixMilli(),
		TaskDurationMS:      now.Sub(s.startedAt).Milliseconds(),
		ConversionCompleted: true,
		Transitions:         append([]models.TransitionRecord(nil), s.transitions...),
		Answers:             s.answers.Snapshot(),
		InputMethodByStep:   s.InputMethods(),
		Survey:              sv,
	}
	rec := models.StudyRecord{
		Type:    models.RecordTypeStudyCompleted,
		Payload: payload,
		TS:      now.UTC().Format(time.RFC3339),
	}
	if err := st.AddStudyRecord(rec); err != nil {
		slog.Error("Session.SubmitSurvey: study record write failed", "sessionID", s.ID, "error", err)
		return fmt.Errorf("failed to write study record: %w", err)
	}

	s.surveySubmittedAt = now
	s.submitted = true
	s.phase = models.PhaseDone
	slog.Info("Session.SubmitSurvey: study completed", "sessionID", s.ID, "condition", s.Condition, "taskDurationMs", payload.TaskDurationMS)
	return nil
}

// Transitions returns a copy of the append-only transition log.
func (s *Session) Transitions() []models.TransitionRecord {
	return append([]models.TransitionRecord(nil), s.transitions...)
}

// InputMethods returns a copy of the per-step modality map.
func (s *Session) InputMethods() map[string]models.Modality {
	out := make(map[string]models.Modality, len(s.inputMethodByStep))
	for k, v := range s.inputMethodByStep {
		out[k] = v
	}
	return out
}

// Snapshot builds the full render state for the client.
func (s *Session) Snapshot() models.SessionSnapshot {
	flowIDs := ComputeFlow(s.answers)
	snap := models.SessionSnapshot{
		SessionID:        s.ID,
		Condition:        s.Condition,
		Phase:            s.phase,
		StepCount:        len(flowIDs),
		ModalitySwitch:   s.Condition == models.ConditionB,
		VoiceUnavailable: s.voiceUnavailable,
		Price:            models.PriceUnknownDisplay,
		Answers:          s.answers.Snapshot(),
		Submitted:        s.submitted,
	}
	if CanShowPrice(s.answers) {
		snap.Price = FormatPrice(ComputePrice(s.answers))
		snap.PriceKnown = true
	}
	if s.phase == models.PhaseCheckout {
		active := s.activeModality()
		snap.Modality = active
		snap.ManualAllowed = ManualInputAllowed(s.Condition, active)
		snap.CanGoBack = s.idx > 0
		snap.Step = s.stepView(flowIDs)
	}
	return snap
}

// stepView renders the current step, filling the answer-dependent info
// detail: the delivery identifier tracks the chosen delivery method, the
// shipping address is a study fixture.
func (s *Session) stepView(flowIDs []string) *models.StepView {
	step, ok := StepAt(flowIDs, s.idx)
	if !ok {
		return nil
	}
	switch step.ID {
	case StepDigitalIdentifier:
		if s.answers.Get(StepDigitalDelivery) == DeliveryText {
			step.Detail = studyDeliveryPhone
		} else {
			step.Detail = studyDeliveryEmail
		}
	case StepShippingAddress:
		step.Detail = studyShippingAddress
	}
	return &models.StepView{
		Step:     step,
		Index:    s.idx,
		Progress: fmt.Sprintf("Step %d of %d: %s", s.idx+1, len(flowIDs), step.Title),
		Answer:   s.answers.Get(step.ID),
		Complete: IsStepComplete(step, s.answers),
	}
}
