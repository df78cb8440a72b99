// Package flow implements the checkout wizard state machine for GiftFlow.
//
// It owns the step catalog, flow derivation, answer storage, modality
// resolution, step gating, pricing, freeform matching, and the per-session
// controller that ties them together.
package flow

import "github.com/ModalMetrics/GiftFlow/internal/models"

// Step IDs are stable identifiers shared with the browser front-end and the
// analysis pipeline; they must not be renamed.
const (
	StepCardType          = "card_type"
	StepVariant           = "variant"
	StepExpiry            = "expiry"
	StepDesign            = "design"
	StepActivation        = "activation"
	StepQuantity          = "r1_qty"
	StepAmount            = "r1_amt"
	StepMessage           = "r1_msg"
	StepDigitalDelivery   = "digital_delivery"
	StepDigitalIdentifier = "digital_identifier"
	StepPackaging         = "packaging"
	StepShippingMethod    = "shipping_method"
	StepShippingAddress   = "shipping_address"
	StepPayment           = "payment"
)

// Canonical option labels referenced by flow derivation and pricing.
const (
	CardTypeDigital  = "Digital"
	CardTypePhysical = "Physical"

	ExpirySixMonth    = "6-month expiry"
	ExpiryTwelveMonth = "12-month expiry"
	ExpiryNone        = "No expiry (higher price)"

	PackagingGreetingCard = "Greeting card"
	PackagingTrifold      = "Trifold packaging"
	PackagingBox          = "Box packaging"

	ShippingStandard  = "Standard shipping"
	ShippingExpedited = "Expedited shipping"

	DeliveryEmail = "Email"
	DeliveryText  = "Text message"
)

// Seeded answer defaults applied when checkout starts.
const (
	DefaultQuantity = "1"
	DefaultAmount   = "50"
)

// Fixed display payloads for the info steps. The instrument simulates
// checkout, so the delivery target and ship-to address are study fixtures.
const (
	studyDeliveryEmail   = "participant@study.example"
	studyDeliveryPhone   = "(555) 014-2368"
	studyShippingAddress = "210 Study Lane, Apt 4\nSpringfield, IL 62704"
)

// designNames lists the 20 selectable card designs shown on the design grid.
var designNames = []string{
	"Confetti Pop",
	"Golden Ribbon",
	"Midnight Marble",
	"Aurora Glow",
	"Birthday Balloons",
	"Spring Blossom",
	"Ocean Breeze",
	"City Lights",
	"Classic Kraft",
	"Rose Quartz",
	"Emerald Wave",
	"Sunset Stripes",
	"Starry Night",
	"Peppermint Twist",
	"Autumn Leaves",
	"Neon Pulse",
	"Vintage Postcard",
	"Polar Frost",
	"Terracotta Sun",
	"Silver Lining",
}

// stepCatalog defines every step the wizard can show, keyed by step ID.
// Flow order is decided by ComputeFlow, not by this map.
var stepCatalog = map[string]models.Step{
	StepCardType: {
		ID:       StepCardType,
		Title:    "Select Card Type",
		Kind:     models.StepKindChoice,
		Required: true,
		Options:  []string{CardTypeDigital, CardTypePhysical},
	},
	StepVariant: {
		ID:       StepVariant,
		Title:    "Card Variant",
		Kind:     models.StepKindChoice,
		Required: true,
		Options:  []string{"Classic", "Premium"},
	},
	StepExpiry: {
		ID:       StepExpiry,
		Title:    "Expiry & Pricing",
		Kind:     models.StepKindChoice,
		Required: true,
		Options:  []string{ExpirySixMonth, ExpiryTwelveMonth, ExpiryNone},
	},
	StepDesign: {
		ID:       StepDesign,
		Title:    "Choose a Design",
		Kind:     models.StepKindDesign,
		Required: true,
		Options:  designNames,
	},
	StepActivation: {
		ID:       StepActivation,
		Title:    "Delivery & Activation",
		Kind:     models.StepKindChoice,
		Required: true,
		Options: []string{
			"Instant activation",
			"Activate on delivery",
			"Activate on a chosen date",
			"Recipient activates manually",
		},
	},
	StepQuantity: {
		ID:       StepQuantity,
		Title:    "Recipient: Quantity",
		Kind:     models.StepKindNumeric,
		Required: true,
		Presets:  []string{"1", "2", "3", "4", "5"},
	},
	StepAmount: {
		ID:       StepAmount,
		Title:    "Recipient: Gift amount",
		Kind:     models.StepKindAmount,
		Required: true,
		Presets:  []string{"5", "10", "25", "50", "100", "200"},
	},
	StepMessage: {
		ID:       StepMessage,
		Title:    "Recipient: Gift message (optional)",
		Kind:     models.StepKindText,
		Required: false,
	},
	StepDigitalDelivery: {
		ID:       StepDigitalDelivery,
		Title:    "Digital Delivery Method",
		Kind:     models.StepKindChoice,
		Required: true,
		Options:  []string{DeliveryEmail, DeliveryText},
	},
	StepDigitalIdentifier: {
		ID:       StepDigitalIdentifier,
		Title:    "Delivery Identifier",
		Kind:     models.StepKindInfo,
		Required: false,
	},
	StepPackaging: {
		ID:       StepPackaging,
		Title:    "Packaging",
		Kind:     models.StepKindChoice,
		Required: true,
		Options:  []string{PackagingGreetingCard, PackagingTrifold, PackagingBox},
	},
	StepShippingMethod: {
		ID:       StepShippingMethod,
		Title:    "Shipping Method",
		Kind:     models.StepKindChoice,
		Required: true,
		Options:  []string{ShippingStandard, ShippingExpedited},
	},
	StepShippingAddress: {
		ID:       StepShippingAddress,
		Title:    "Shipping Address",
		Kind:     models.StepKindInfo,
		Required: false,
	},
	StepPayment: {
		ID:       StepPayment,
		Title:    "Payment Method",
		Kind:     models.StepKindChoice,
		Required: true,
		Options:  []string{"Credit card", "PayPal"},
	},
}

// digitalOnlySteps are the steps exclusive to the digital branch. Answers for
// these are purged when the card type switches to physical.
var digitalOnlySteps = []string{StepDigitalDelivery, StepDigitalIdentifier}

// physicalOnlySteps are the steps exclusive to the physical branch. Answers
// for these are purged when the card type switches to digital.
var physicalOnlySteps = []string{StepPackaging, StepShippingMethod, StepShippingAddress}

// LookupStep returns the catalog entry for a step ID.
func LookupStep(id string) (models.Step, bool) {
	step, ok := stepCatalog[id]
	return step, ok
}
