package flow

import "github.com/ModalMetrics/GiftFlow/internal/models"

// ModeTables fixes the per-step input modality for Condition C, one table
// per branch. Tables are produced offline by the planner and committed;
// DefaultModeTables is the plan currently in use for the study.
type ModeTables struct {
	Digital  map[string]models.Modality `json:"digital"`
	Physical map[string]models.Modality `json:"physical"`
}

// DefaultModeTables is the committed planner output. Every price-relevant
// step stays on standard input so guardrail behavior is comparable across
// branches; the two tables deliberately disagree on the design step so the
// grid is exercised under both voice and chat.
var DefaultModeTables = &ModeTables{
	Digital: map[string]models.Modality{
		StepCardType:          models.ModalityVoice,
		StepVariant:           models.ModalityStandard,
		StepExpiry:            models.ModalityChat,
		StepDesign:            models.ModalityChat,
		StepActivation:        models.ModalityStandard,
		StepQuantity:          models.ModalityVoice,
		StepAmount:            models.ModalityStandard,
		StepMessage:           models.ModalityChat,
		StepDigitalDelivery:   models.ModalityVoice,
		StepDigitalIdentifier: models.ModalityStandard,
		StepPayment:           models.ModalityStandard,
	},
	Physical: map[string]models.Modality{
		StepCardType:        models.ModalityVoice,
		StepVariant:         models.ModalityChat,
		StepExpiry:          models.ModalityStandard,
		StepDesign:          models.ModalityVoice,
		StepActivation:      models.ModalityChat,
		StepPackaging:       models.ModalityVoice,
		StepQuantity:        models.ModalityVoice,
		StepAmount:          models.ModalityStandard,
		StepMessage:         models.ModalityChat,
		StepShippingMethod:  models.ModalityStandard,
		StepShippingAddress: models.ModalityStandard,
		StepPayment:         models.ModalityStandard,
	},
}

// ResolveModality decides which input surface a step presents.
//
// Condition A is always standard. Condition B returns the session-level
// choice the participant last made (standard until they pick one).
// Condition C looks the step up in the branch's fixed table: the physical
// table applies only once card_type is answered "Physical" exactly, so the
// undecided state resolves against the digital table; a step missing from
// its table falls back to standard.
func ResolveModality(cond models.Condition, sessionChoice models.Modality, stepID string, answers *Answers, tables *ModeTables) models.Modality {
	switch cond {
	case models.ConditionA:
		return models.ModalityStandard
	case models.ConditionB:
		if sessionChoice == "" {
			return models.ModalityStandard
		}
		return sessionChoice
	case models.ConditionC:
		if tables == nil {
			return models.ModalityStandard
		}
		table := tables.Digital
		if answers.Get(StepCardType) == CardTypePhysical {
			table = tables.Physical
		}
		if m, ok := table[stepID]; ok {
			return m
		}
		return models.ModalityStandard
	default:
		return models.ModalityStandard
	}
}
