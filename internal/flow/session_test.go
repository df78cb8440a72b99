package flow

import (
	"errors"
	"strings"
	"testing"

	"github.com/ModalMetrics/GiftFlow/internal/models"
	"github.com/ModalMetrics/GiftFlow/internal/store"
)

func intPtr(v int) *int { return &v }

func validSurvey() models.SurveyAnswers {
	return models.SurveyAnswers{
		TLXMental:      intPtr(10),
		TLXPhysical:    intPtr(2),
		TLXTemporal:    intPtr(8),
		TLXPerformance: intPtr(15),
		TLXEffort:      intPtr(11),
		TLXFrustration: intPtr(4),
		UMUXReq:        intPtr(6),
		UMUXEasy:       intPtr(5),
		PerceivedEff:   intPtr(3),
		Trust:          intPtr(6),
		Control:        intPtr(5),
		Satisfaction:   intPtr(7),
	}
}

// failingStore rejects every write so submission failure paths can be
// exercised.
type failingStore struct{}

func (f *failingStore) SaveConditionAssignment(models.ConditionAssignment) error { return nil }
func (f *failingStore) GetConditionAssignment(string) (*models.ConditionAssignment, error) {
	return nil, nil
}
func (f *failingStore) AddStudyRecord(models.StudyRecord) error {
	return errors.New("datastore unavailable")
}
func (f *failingStore) GetStudyRecords() ([]models.StudyRecord, error) { return nil, nil }
func (f *failingStore) AddInvitation(models.Invitation) error          { return nil }
func (f *failingStore) GetInvitations() ([]models.Invitation, error)   { return nil, nil }
func (f *failingStore) Close() error                                   { return nil }

// driveCheckout answers every remaining step with its first option (or the
// guardrail minimum) and advances until the survey phase.
func driveCheckout(t *testing.T, s *Session) {
	t.Helper()
	for i := 0; i < 32; i++ {
		snap := s.Snapshot()
		if snap.Phase != models.PhaseCheckout {
			return
		}
		step := snap.Step
		if step == nil {
			t.Fatal("checkout phase without a current step")
		}
		if !step.Complete {
			var value string
			switch step.Kind {
			case models.StepKindChoice, models.StepKindDesign:
				value = step.Options[0]
			case models.StepKindNumeric:
				value = "1"
			case models.StepKindAmount:
				value = "50"
			}
			if err := s.Answer(step.ID, value); err != nil {
				t.Fatalf("answer %s: %v", step.ID, err)
			}
		}
		if _, err := s.Next(); err != nil {
			t.Fatalf("next from %s: %v", step.ID, err)
		}
	}
	t.Fatal("checkout did not finish within the step budget")
}

func TestSessionWalkthroughDigital(t *testing.T) {
	s := NewSession("s_test", "d_test", models.ConditionA, nil)
	if err := s.Answer(StepCardType, CardTypeDigital); err != nil {
		t.Fatalf("answer card_type: %v", err)
	}
	driveCheckout(t, s)

	if s.Phase() != models.PhaseSurvey {
		t.Fatalf("expected survey phase, got %s", s.Phase())
	}
	transitions := s.Transitions()
	if len(transitions) != 11 {
		t.Fatalf("expected 11 forward transitions, got %d", len(transitions))
	}
	last := transitions[len(transitions)-1]
	if last.ToStepID != "" || last.ToStepIndex != -1 {
		t.Errorf("expected completing transition to have no destination, got %+v", last)
	}
	for i, tr := range transitions {
		if tr.Action != models.NavForward {
			t.Errorf("transition %d: expected forward, got %s", i, tr.Action)
		}
		if tr.StepCount != 11 {
			t.Errorf("transition %d: expected step count 11, got %d", i, tr.StepCount)
		}
		if tr.DwellMS < 0 {
			t.Errorf("transition %d: negative dwell %d", i, tr.DwellMS)
		}
		if tr.ExitedAt < tr.EnteredAt {
			t.Errorf("transition %d: exited before entered", i)
		}
	}

	methods := s.InputMethods()
	for stepID, m := range methods {
		if m != models.ModalityStandard {
			t.Errorf("step %s: expected standard input method under Condition A, got %s", stepID, m)
		}
	}
}

func TestSessionNextBlocksIncompleteStep(t *testing.T) {
	s := NewSession("s_test", "d_test", models.ConditionA, nil)
	if _, err := s.Next(); !errors.Is(err, models.ErrStepIncomplete) {
		t.Fatalf("expected ErrStepIncomplete, got %v", err)
	}
	if len(s.Transitions()) != 0 {
		t.Error("expected no transition recorded on a blocked advance")
	}
}

func TestSessionAnswerValidation(t *testing.T) {
	s := NewSession("s_test", "d_test", models.ConditionA, nil)

	if err := s.Answer("bogus_step", "x"); !errors.Is(err, models.ErrUnknownStep) {
		t.Errorf("expected ErrUnknownStep, got %v", err)
	}
	if err := s.Answer(StepVariant, "Classic"); !errors.Is(err, models.ErrNotCurrentStep) {
		t.Errorf("expected ErrNotCurrentStep, got %v", err)
	}
}

func TestSessionBack(t *testing.T) {
	s := NewSession("s_test", "d_test", models.ConditionA, nil)
	if err := s.Back(); !errors.Is(err, models.ErrAtFirstStep) {
		t.Fatalf("expected ErrAtFirstStep, got %v", err)
	}

	if err := s.Answer(StepCardType, CardTypePhysical); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Next(); err != nil {
		t.Fatal(err)
	}
	if err := s.Back(); err != nil {
		t.Fatalf("back failed: %v", err)
	}

	transitions := s.Transitions()
	if len(transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(transitions))
	}
	back := transitions[1]
	if back.Action != models.NavBackward || back.ToStepID != StepCardType {
		t.Errorf("unexpected backward record: %+v", back)
	}

	snap := s.Snapshot()
	if snap.Step == nil || snap.Step.ID != StepCardType {
		t.Error("expected to be back on the card type step")
	}
	if snap.CanGoBack {
		t.Error("expected CanGoBack false on the first step")
	}
}

func TestSessionManualInputLockedConditionC(t *testing.T) {
	s := NewSession("s_test", "d_test", models.ConditionC, nil)

	// The digital table puts card_type on voice, so manual input is inert.
	if err := s.Answer(StepCardType, CardTypeDigital); !errors.Is(err, models.ErrManualInputLocked) {
		t.Fatalf("expected ErrManualInputLocked, got %v", err)
	}

	value, matched, err := s.Freeform("digital", models.ModalityVoice)
	if err != nil || !matched {
		t.Fatalf("expected voice utterance to resolve, got value=%q matched=%v err=%v", value, matched, err)
	}
	if value != CardTypeDigital {
		t.Errorf("expected %q, got %q", CardTypeDigital, value)
	}
}

func TestSessionFreeformModalityMismatch(t *testing.T) {
	s := NewSession("s_test", "d_test", models.ConditionC, nil)

	// Voice is the tabled modality for card_type; chat input is rejected.
	if _, _, err := s.Freeform("digital", models.ModalityChat); !errors.Is(err, models.ErrModalityMismatch) {
		t.Errorf("expected ErrModalityMismatch for chat, got %v", err)
	}

	a := NewSession("s_test2", "d_test2", models.ConditionA, nil)
	if _, _, err := a.Freeform("digital", models.ModalityVoice); !errors.Is(err, models.ErrModalityMismatch) {
		t.Errorf("expected ErrModalityMismatch under Condition A, got %v", err)
	}
}

func TestSessionFreeformDesignMatch(t *testing.T) {
	s := NewSession("s_test", "d_test", models.ConditionB, nil)

	for _, setup := range []struct {
		stepID string
		value  string
	}{
		{StepCardType, CardTypeDigital},
		{StepVariant, "Classic"},
		{StepExpiry, ExpirySixMonth},
	} {
		if err := s.Answer(setup.stepID, setup.value); err != nil {
			t.Fatalf("answer %s: %v", setup.stepID, err)
		}
		if _, err := s.Next(); err != nil {
			t.Fatalf("next past %s: %v", setup.stepID, err)
		}
	}

	if err := s.SwitchModality(models.ModalityVoice); err != nil {
		t.Fatalf("switch to voice: %v", err)
	}
	if err := s.Answer(StepDesign, "Confetti Pop"); !errors.Is(err, models.ErrManualInputLocked) {
		t.Fatalf("expected manual input locked while voice is active, got %v", err)
	}

	value, matched, err := s.Freeform("confetti pop", models.ModalityVoice)
	if err != nil || !matched {
		t.Fatalf("expected match, got value=%q matched=%v err=%v", value, matched, err)
	}
	if value != "Confetti Pop" {
		t.Errorf("expected Confetti Pop, got %q", value)
	}
	if got := s.InputMethods()[StepDesign]; got != models.ModalityVoice {
		t.Errorf("expected design recorded as voice, got %s", got)
	}
}

func TestSessionFreeformMissRecordsNothing(t *testing.T) {
	s := NewSession("s_test", "d_test", models.ConditionC, nil)
	value, matched, err := s.Freeform("mumble mumble", models.ModalityVoice)
	if err != nil {
		t.Fatalf("a parse miss must not error: %v", err)
	}
	if matched || value != "" {
		t.Errorf("expected miss, got value=%q matched=%v", value, matched)
	}
	if s.Snapshot().Answers[StepCardType] != "" {
		t.Error("expected no answer recorded on a miss")
	}
}

func TestSessionSwitchModalityFixedConditions(t *testing.T) {
	a := NewSession("s_a", "d_a", models.ConditionA, nil)
	if err := a.SwitchModality(models.ModalityChat); !errors.Is(err, models.ErrModalityFixed) {
		t.Errorf("expected ErrModalityFixed under A, got %v", err)
	}
	c := NewSession("s_c", "d_c", models.ConditionC, nil)
	if err := c.SwitchModality(models.ModalityChat); !errors.Is(err, models.ErrModalityFixed) {
		t.Errorf("expected ErrModalityFixed under C, got %v", err)
	}
}

func TestSessionInputMethodLastSwitchWins(t *testing.T) {
	s := NewSession("s_test", "d_test", models.ConditionB, nil)
	if got := s.InputMethods()[StepCardType]; got != models.ModalityStandard {
		t.Fatalf("expected standard on entry, got %s", got)
	}
	if err := s.SwitchModality(models.ModalityVoice); err != nil {
		t.Fatal(err)
	}
	if err := s.SwitchModality(models.ModalityChat); err != nil {
		t.Fatal(err)
	}
	if got := s.InputMethods()[StepCardType]; got != models.ModalityChat {
		t.Errorf("expected the latest switch to win, got %s", got)
	}
}

func TestSessionSubmitSurvey(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewSession("s_test", "d_test", models.ConditionA, nil)

	if err := s.SubmitSurvey(validSurvey(), st); !errors.Is(err, models.ErrCheckoutIncomplete) {
		t.Fatalf("expected ErrCheckoutIncomplete before checkout ends, got %v", err)
	}

	if err := s.Answer(StepCardType, CardTypeDigital); err != nil {
		t.Fatal(err)
	}
	driveCheckout(t, s)

	if err := s.SubmitSurvey(validSurvey(), st); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if s.Phase() != models.PhaseDone {
		t.Errorf("expected done phase, got %s", s.Phase())
	}

	records, err := st.GetStudyRecords()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly one study record, got %d", len(records))
	}
	rec := records[0]
	if rec.Type != models.RecordTypeStudyCompleted {
		t.Errorf("expected record type %q, got %q", models.RecordTypeStudyCompleted, rec.Type)
	}
	if !rec.Payload.ConversionCompleted {
		t.Error("expected conversion_completed true")
	}
	if rec.Payload.Condition != models.ConditionA {
		t.Errorf("expected condition A, got %s", rec.Payload.Condition)
	}
	if got := rec.Payload.Answers[StepCardType]; got != CardTypeDigital {
		t.Errorf("expected card_type answer in payload, got %q", got)
	}
	if len(rec.Payload.Transitions) != 11 {
		t.Errorf("expected 11 transitions in payload, got %d", len(rec.Payload.Transitions))
	}
	if rec.Payload.TaskDurationMS != rec.Payload.SurveySubmittedAt-rec.Payload.StartedAt {
		t.Error("expected task duration to equal submission minus start")
	}
	if rec.Payload.CheckoutCompletedAt < rec.Payload.StartedAt {
		t.Error("expected checkout completion not before start")
	}
	if !strings.Contains(rec.TS, "T") {
		t.Errorf("expected RFC3339 write timestamp, got %q", rec.TS)
	}

	// A second submission is disabled and writes nothing.
	if err := s.SubmitSurvey(validSurvey(), st); !errors.Is(err, models.ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
	records, _ = st.GetStudyRecords()
	if len(records) != 1 {
		t.Errorf("expected still one record, got %d", len(records))
	}
}

func TestSessionSubmitSurveyInvalidWritesNothing(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewSession("s_test", "d_test", models.ConditionA, nil)
	if err := s.Answer(StepCardType, CardTypeDigital); err != nil {
		t.Fatal(err)
	}
	driveCheckout(t, s)

	sv := validSurvey()
	sv.Trust = nil
	if err := s.SubmitSurvey(sv, st); !errors.Is(err, models.ErrSurveyFieldMissing) {
		t.Fatalf("expected ErrSurveyFieldMissing, got %v", err)
	}
	if records, _ := st.GetStudyRecords(); len(records) != 0 {
		t.Fatalf("expected no record written, got %d", len(records))
	}

	// The session is still submittable once the survey is completed.
	if err := s.SubmitSurvey(validSurvey(), st); err != nil {
		t.Fatalf("retry after validation failure should succeed: %v", err)
	}
}

func TestSessionSubmitSurveyStoreFailureAllowsRetry(t *testing.T) {
	s := NewSession("s_test", "d_test", models.ConditionA, nil)
	if err := s.Answer(StepCardType, CardTypeDigital); err != nil {
		t.Fatal(err)
	}
	driveCheckout(t, s)

	if err := s.SubmitSurvey(validSurvey(), &failingStore{}); err == nil {
		t.Fatal("expected write failure to surface")
	}
	if s.Snapshot().Submitted {
		t.Fatal("expected session not marked submitted after a failed write")
	}

	st := store.NewInMemoryStore()
	if err := s.SubmitSurvey(validSurvey(), st); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if records, _ := st.GetStudyRecords(); len(records) != 1 {
		t.Fatalf("expected one record after retry, got %d", len(records))
	}
}

func TestSessionSnapshot(t *testing.T) {
	s := NewSession("s_snap", "d_snap", models.ConditionB, nil)
	snap := s.Snapshot()

	if snap.SessionID != "s_snap" || snap.Condition != models.ConditionB {
		t.Errorf("unexpected identity fields: %+v", snap)
	}
	if snap.StepCount != 12 {
		t.Errorf("expected 12 steps before card type is chosen, got %d", snap.StepCount)
	}
	if snap.Step == nil || snap.Step.Progress != "Step 1 of 12: Select Card Type" {
		t.Errorf("unexpected progress text: %+v", snap.Step)
	}
	if snap.Price != models.PriceUnknownDisplay || snap.PriceKnown {
		t.Errorf("expected unknown price placeholder, got %q known=%v", snap.Price, snap.PriceKnown)
	}
	if !snap.ModalitySwitch {
		t.Error("expected the modality switcher under Condition B")
	}
	if !snap.ManualAllowed {
		t.Error("expected manual input allowed while standard is active")
	}

	a := NewSession("s_a", "d_a", models.ConditionA, nil)
	if a.Snapshot().ModalitySwitch {
		t.Error("expected no modality switcher under Condition A")
	}
}

func TestSessionSnapshotPriceAppears(t *testing.T) {
	s := NewSession("s_price", "d_price", models.ConditionA, nil)
	if err := s.Answer(StepCardType, CardTypeDigital); err != nil {
		t.Fatal(err)
	}
	for _, step := range []struct{ id, value string }{
		{StepVariant, "Classic"},
		{StepExpiry, ExpirySixMonth},
		{StepDesign, "Aurora Glow"},
		{StepActivation, "Instant activation"},
	} {
		if _, err := s.Next(); err != nil {
			t.Fatal(err)
		}
		if err := s.Answer(step.id, step.value); err != nil {
			t.Fatalf("answer %s: %v", step.id, err)
		}
	}
	// quantity, amount, message, then delivery method
	for i := 0; i < 3; i++ {
		if _, err := s.Next(); err != nil {
			t.Fatal(err)
		}
	}
	if s.Snapshot().PriceKnown {
		t.Error("expected price still hidden before delivery method")
	}
	if _, err := s.Next(); err != nil {
		t.Fatal(err)
	}
	if err := s.Answer(StepDigitalDelivery, DeliveryEmail); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if !snap.PriceKnown {
		t.Fatal("expected price known once delivery method is set")
	}
	if snap.Price != "$50.00" {
		t.Errorf("expected $50.00 for the default quantity and amount, got %q", snap.Price)
	}
}

func TestSessionInfoStepDetail(t *testing.T) {
	s := NewSession("s_info", "d_info", models.ConditionA, nil)
	if err := s.Answer(StepCardType, CardTypeDigital); err != nil {
		t.Fatal(err)
	}
	// Advance to the identifier display step.
	for {
		snap := s.Snapshot()
		if snap.Step.ID == StepDigitalDelivery {
			break
		}
		if !snap.Step.Complete {
			var value string
			switch snap.Step.Kind {
			case models.StepKindChoice, models.StepKindDesign:
				value = snap.Step.Options[0]
			}
			if err := s.Answer(snap.Step.ID, value); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := s.Next(); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Answer(StepDigitalDelivery, DeliveryText); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Next(); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if snap.Step.ID != StepDigitalIdentifier {
		t.Fatalf("expected identifier step, got %s", snap.Step.ID)
	}
	if !strings.Contains(snap.Step.Detail, "555") {
		t.Errorf("expected a phone identifier for text delivery, got %q", snap.Step.Detail)
	}
}
