package flow

import (
	"fmt"
	"strconv"
	"strings"
)

// Surcharges are additive only, so the displayed price is monotone
// non-decreasing as answers accumulate. MinOrderTotal floors the result.
const (
	MinOrderTotal = 10.00

	SurchargeNoExpiry    = 6.00
	Surcharge12Month     = 3.00
	SurchargeTrifold     = 2.00
	SurchargeBox         = 4.00
	SurchargeExpedited   = 12.00
	SurchargeStandardShp = 5.00
)

// ComputePrice prices the current answer state: quantity times per-unit
// amount, both clamped to their guardrail ranges, plus the expiry
// surcharge and, on the physical branch, packaging and shipping
// surcharges. Callers should consult CanShowPrice before displaying the
// result.
func ComputePrice(answers *Answers) float64 {
	qty := clampInt(answers.Get(StepQuantity), MinQuantity, MaxQuantity)
	amt := clampFloat(answers.Get(StepAmount), MinAmount, MaxAmount)
	total := float64(qty) * amt

	switch answers.Get(StepExpiry) {
	case ExpiryNone:
		total += SurchargeNoExpiry
	case ExpiryTwelveMonth:
		total += Surcharge12Month
	}

	if answers.Get(StepCardType) != CardTypeDigital {
		switch answers.Get(StepPackaging) {
		case PackagingTrifold:
			total += SurchargeTrifold
		case PackagingBox:
			total += SurchargeBox
		}
		switch answers.Get(StepShippingMethod) {
		case ShippingExpedited:
			total += SurchargeExpedited
		case ShippingStandard:
			total += SurchargeStandardShp
		}
	}

	if total < MinOrderTotal {
		total = MinOrderTotal
	}
	return total
}

// CanShowPrice reports whether enough answers exist for an honest price:
// card type, expiry, quantity and amount, plus the branch's own
// price-relevant steps. Until then the UI shows an unknown placeholder
// rather than a partial figure.
func CanShowPrice(answers *Answers) bool {
	if !answers.Has(StepCardType) || !answers.Has(StepExpiry) ||
		!answers.Has(StepQuantity) || !answers.Has(StepAmount) {
		return false
	}
	if answers.Get(StepCardType) == CardTypeDigital {
		return answers.Has(StepDigitalDelivery)
	}
	return answers.Has(StepPackaging) && answers.Has(StepShippingMethod)
}

// FormatPrice renders a computed price for display.
func FormatPrice(total float64) string {
	return fmt.Sprintf("$%.2f", total)
}

// clampInt parses a stored quantity and clamps it into [lo, hi];
// unparseable input clamps to lo.
func clampInt(raw string, lo, hi int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// clampFloat parses a stored amount and clamps it into [lo, hi];
// unparseable input clamps to lo.
func clampFloat(raw string, lo, hi float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}
