package flow

import "github.com/ModalMetrics/GiftFlow/internal/models"

// digitalFlow and physicalFlow are the two step orderings the wizard can
// take: a shared prefix through the recipient block, the branch segment
// selected by the card type, and the payment step.
var (
	digitalFlow = []string{
		StepCardType,
		StepVariant,
		StepExpiry,
		StepDesign,
		StepActivation,
		StepQuantity,
		StepAmount,
		StepMessage,
		StepDigitalDelivery,
		StepDigitalIdentifier,
		StepPayment,
	}

	physicalFlow = []string{
		StepCardType,
		StepVariant,
		StepExpiry,
		StepDesign,
		StepActivation,
		StepQuantity,
		StepAmount,
		StepMessage,
		StepPackaging,
		StepShippingMethod,
		StepShippingAddress,
		StepPayment,
	}
)

// ComputeFlow derives the ordered step list for the current answers. The
// only branching input is the card type: an exact "Digital" answer selects
// the digital flow, anything else (including no answer yet) the physical
// one. The result is a fresh slice; callers may not mutate the backing
// arrays.
func ComputeFlow(answers *Answers) []string {
	src := physicalFlow
	if answers.Get(StepCardType) == CardTypeDigital {
		src = digitalFlow
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// StepAt resolves the catalog entry at a flow position.
func StepAt(flow []string, idx int) (models.Step, bool) {
	if idx < 0 || idx >= len(flow) {
		return models.Step{}, false
	}
	return LookupStep(flow[idx])
}

// IndexOf returns the position of a step ID within a flow, or -1.
func IndexOf(flow []string, stepID string) int {
	for i, id := range flow {
		if id == stepID {
			return i
		}
	}
	return -1
}
