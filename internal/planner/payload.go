// Package planner derives the per-step input mode tables served to the
// agent-selected arm of the study. A single flow-level model call assigns
// one mode per step; the result is written once and served statically, so
// every participant in the arm sees the same assignment.
package planner

import (
	"fmt"

	"github.com/ModalMetrics/GiftFlow/internal/flow"
	"github.com/ModalMetrics/GiftFlow/internal/models"
)

// StepPayload is the minimal step descriptor sent to the model. It carries
// interaction-relevant structure only, never option labels or copy, so the
// decision rests on form factor rather than content.
type StepPayload struct {
	StepID                  string `json:"step_id"`
	StepTitle               string `json:"step_title"`
	StepKind                string `json:"step_kind"`
	InputStructure          string `json:"input_structure"`
	ValueType               string `json:"value_type"`
	OptionsCount            int    `json:"options_count"`
	PriceSensitive          bool   `json:"price_sensitive"`
	HasValidationGuardrails bool   `json:"has_validation_guardrails"`
	HasPresets              bool   `json:"has_presets"`
	PresetCount             int    `json:"preset_count"`
	ParitySupported         bool   `json:"parity_supported"`
}

// priceSensitiveSteps mark the steps whose choice moves the order total.
var priceSensitiveSteps = map[string]bool{
	flow.StepExpiry:         true,
	flow.StepPackaging:      true,
	flow.StepAmount:         true,
	flow.StepShippingMethod: true,
}

// BuildPayloads produces the payload list for one card-type branch, in
// wizard order. cardType must be one of the card type option labels.
func BuildPayloads(cardType string) ([]StepPayload, error) {
	if cardType != flow.CardTypeDigital && cardType != flow.CardTypePhysical {
		return nil, fmt.Errorf("unknown card type %q", cardType)
	}

	answers := flow.NewAnswers()
	answers.Set(flow.StepCardType, cardType)

	var payloads []StepPayload
	for _, stepID := range flow.ComputeFlow(answers) {
		step, ok := flow.LookupStep(stepID)
		if !ok {
			return nil, fmt.Errorf("step %q missing from catalog", stepID)
		}
		payloads = append(payloads, payloadFor(step))
	}
	return payloads, nil
}

func payloadFor(step models.Step) StepPayload {
	p := StepPayload{
		StepID:          step.ID,
		StepTitle:       step.Title,
		StepKind:        payloadKind(step.Kind),
		InputStructure:  inputStructure(step.Kind),
		ValueType:       valueType(step.Kind),
		OptionsCount:    len(step.Options),
		PriceSensitive:  priceSensitiveSteps[step.ID],
		HasPresets:      len(step.Presets) > 0,
		PresetCount:     len(step.Presets),
		ParitySupported: true,
	}
	// Quantity and amount are range-clamped; those are the only guardrails.
	if step.Kind == models.StepKindNumeric || step.Kind == models.StepKindAmount {
		p.HasValidationGuardrails = true
	}
	return p
}

// payloadKind maps the catalog kind onto the wire vocabulary, which calls
// the integer-quantity kind "number".
func payloadKind(kind models.StepKind) string {
	if kind == models.StepKindNumeric {
		return "number"
	}
	return string(kind)
}

func inputStructure(kind models.StepKind) string {
	switch kind {
	case models.StepKindChoice, models.StepKindDesign:
		return "select"
	case models.StepKindNumeric, models.StepKindAmount:
		return "numeric"
	case models.StepKindText:
		return "text"
	case models.StepKindInfo:
		return "info"
	default:
		return "info"
	}
}

func valueType(kind models.StepKind) string {
	switch kind {
	case models.StepKindNumeric:
		return "integer"
	case models.StepKindAmount:
		return "currency"
	default:
		return "none"
	}
}
