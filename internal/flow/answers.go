package flow

import "log/slog"

// Answers holds the participant's stored answer per step ID. It is a plain
// value store; gating and validation live in the step gate, and callers
// re-run ComputeFlow after every mutation. Answers is not safe for
// concurrent use; Session serializes access to it.
type Answers struct {
	values map[string]string
}

// NewAnswers returns an answer store seeded with the instrument defaults:
// quantity 1 and gift amount 50, so the recipient steps open pre-completed
// the way the original instrument does.
func NewAnswers() *Answers {
	return &Answers{values: map[string]string{
		StepQuantity: DefaultQuantity,
		StepAmount:   DefaultAmount,
	}}
}

// Get returns the stored answer for a step, or "" when unset.
func (a *Answers) Get(stepID string) string {
	return a.values[stepID]
}

// Has reports whether a non-empty answer is stored for the step.
func (a *Answers) Has(stepID string) bool {
	return a.values[stepID] != ""
}

// Set stores an answer. Changing the card type purges the answers that
// belong exclusively to the branch being left, so a participant who flips
// Digital→Physical (or back) cannot carry a stale delivery or shipping
// choice into the submitted record.
func (a *Answers) Set(stepID, value string) {
	if stepID == StepCardType && a.values[StepCardType] != value {
		a.purgeBranch(value)
	}
	a.values[stepID] = value
}

// Delete removes a stored answer.
func (a *Answers) Delete(stepID string) {
	delete(a.values, stepID)
}

// purgeBranch drops the branch-exclusive answers invalidated by a card
// type change. newCardType is the value about to be stored.
func (a *Answers) purgeBranch(newCardType string) {
	var stale []string
	if newCardType == CardTypeDigital {
		stale = physicalOnlySteps
	} else {
		stale = digitalOnlySteps
	}
	for _, id := range stale {
		if _, ok := a.values[id]; ok {
			slog.Debug("Answers.purgeBranch: dropping stale branch answer", "step", id, "newCardType", newCardType)
			delete(a.values, id)
		}
	}
}

// Snapshot returns a copy of the stored answers for serialization.
func (a *Answers) Snapshot() map[string]string {
	out := make(map[string]string, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}
