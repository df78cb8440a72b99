package flow

import (
	"strconv"
	"strings"

	"github.com/ModalMetrics/GiftFlow/internal/models"
)

// Quantity and amount guardrails. The gate only enforces the lower bounds;
// the pricing engine clamps to the upper ones.
const (
	MinQuantity = 1
	MaxQuantity = 10
	MinAmount   = 5
	MaxAmount   = 2000
)

// IsStepComplete reports whether the stored answers satisfy a step, which
// is what forward navigation is gated on. Non-required steps are always
// complete. Choice and design steps need any non-empty answer, quantity
// needs an integer of at least 1, and amount a number of at least 5.
func IsStepComplete(step models.Step, answers *Answers) bool {
	if !step.Required {
		return true
	}
	raw := strings.TrimSpace(answers.Get(step.ID))
	switch step.Kind {
	case models.StepKindChoice, models.StepKindDesign:
		return raw != ""
	case models.StepKindNumeric:
		n, err := strconv.Atoi(raw)
		return err == nil && n >= MinQuantity
	case models.StepKindAmount:
		f, err := strconv.ParseFloat(raw, 64)
		return err == nil && f >= MinAmount
	default:
		return raw != ""
	}
}

// ManualInputAllowed reports whether the step's pointer and keyboard
// controls are interactive. Condition A always allows them; under B and C
// they are inert whenever a non-standard modality is active, so the
// assigned modality is what produces the recorded answer.
func ManualInputAllowed(cond models.Condition, active models.Modality) bool {
	if cond == models.ConditionA {
		return true
	}
	return active == models.ModalityStandard
}
