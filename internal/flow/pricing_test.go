package flow

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestComputePriceDigitalNoSurcharges(t *testing.T) {
	answers := NewAnswers()
	answers.Set(StepCardType, CardTypeDigital)
	answers.Set(StepQuantity, "3")
	answers.Set(StepAmount, "75")
	answers.Set(StepExpiry, ExpirySixMonth)
	answers.Set(StepDigitalDelivery, DeliveryEmail)

	if !CanShowPrice(answers) {
		t.Fatal("expected price to be showable")
	}
	if got := ComputePrice(answers); !almostEqual(got, 225.00) {
		t.Errorf("expected 225.00, got %.2f", got)
	}
}

func TestComputePricePhysicalAllSurcharges(t *testing.T) {
	answers := NewAnswers()
	answers.Set(StepCardType, CardTypePhysical)
	answers.Set(StepQuantity, "1")
	answers.Set(StepAmount, "50")
	answers.Set(StepExpiry, ExpiryNone)
	answers.Set(StepPackaging, PackagingBox)
	answers.Set(StepShippingMethod, ShippingExpedited)

	if !CanShowPrice(answers) {
		t.Fatal("expected price to be showable")
	}
	// 50 + 6 (no expiry) + 4 (box) + 12 (expedited)
	if got := ComputePrice(answers); !almostEqual(got, 72.00) {
		t.Errorf("expected 72.00, got %.2f", got)
	}
}

func TestComputePriceIgnoresPhysicalSurchargesOnDigital(t *testing.T) {
	answers := NewAnswers()
	answers.Set(StepCardType, CardTypePhysical)
	answers.Set(StepQuantity, "1")
	answers.Set(StepAmount, "50")
	answers.Set(StepExpiry, ExpirySixMonth)
	answers.Set(StepPackaging, PackagingBox)
	answers.Set(StepShippingMethod, ShippingStandard)
	withPhysical := ComputePrice(answers)

	answers.Set(StepCardType, CardTypeDigital) // purges packaging and shipping
	answers.Set(StepDigitalDelivery, DeliveryEmail)
	withDigital := ComputePrice(answers)

	if !almostEqual(withPhysical, 59.00) {
		t.Errorf("physical: expected 59.00, got %.2f", withPhysical)
	}
	if !almostEqual(withDigital, 50.00) {
		t.Errorf("digital: expected 50.00, got %.2f", withDigital)
	}
}

func TestComputePriceClampsInputs(t *testing.T) {
	tests := []struct {
		name string
		qty  string
		amt  string
		want float64
	}{
		{name: "quantity above cap", qty: "99", amt: "10", want: 100.00},
		{name: "amount above cap", qty: "1", amt: "9999", want: 2000.00},
		{name: "amount below floor clamps up", qty: "1", amt: "1", want: 10.00},
		{name: "unparseable quantity clamps to minimum", qty: "lots", amt: "50", want: 50.00},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answers := NewAnswers()
			answers.Set(StepCardType, CardTypeDigital)
			answers.Set(StepExpiry, ExpirySixMonth)
			answers.Set(StepQuantity, tt.qty)
			answers.Set(StepAmount, tt.amt)
			if got := ComputePrice(answers); !almostEqual(got, tt.want) {
				t.Errorf("expected %.2f, got %.2f", tt.want, got)
			}
		})
	}
}

func TestComputePriceFloor(t *testing.T) {
	answers := NewAnswers()
	answers.Set(StepCardType, CardTypeDigital)
	answers.Set(StepQuantity, "1")
	answers.Set(StepAmount, "5")
	answers.Set(StepExpiry, ExpirySixMonth)
	if got := ComputePrice(answers); !almostEqual(got, MinOrderTotal) {
		t.Errorf("expected floor %.2f, got %.2f", MinOrderTotal, got)
	}
}

// Adding qualifying answers must never lower the displayed price.
func TestComputePriceMonotone(t *testing.T) {
	answers := NewAnswers()
	answers.Set(StepCardType, CardTypePhysical)
	prev := ComputePrice(answers)

	mutations := []struct {
		stepID string
		value  string
	}{
		{StepExpiry, ExpiryTwelveMonth},
		{StepPackaging, PackagingTrifold},
		{StepShippingMethod, ShippingStandard},
		{StepQuantity, "2"},
		{StepAmount, "100"},
	}
	for _, m := range mutations {
		answers.Set(m.stepID, m.value)
		cur := ComputePrice(answers)
		if cur < prev {
			t.Errorf("price decreased after setting %s=%q: %.2f -> %.2f", m.stepID, m.value, prev, cur)
		}
		prev = cur
	}
}

func TestCanShowPrice(t *testing.T) {
	answers := NewAnswers()
	answers.Set(StepCardType, CardTypePhysical)
	answers.Set(StepExpiry, ExpirySixMonth)
	if CanShowPrice(answers) {
		t.Error("expected price hidden before packaging and shipping are set")
	}
	answers.Set(StepPackaging, PackagingGreetingCard)
	if CanShowPrice(answers) {
		t.Error("expected price hidden with shipping method still unset")
	}
	answers.Set(StepShippingMethod, ShippingStandard)
	if !CanShowPrice(answers) {
		t.Error("expected price showable once the physical inputs are set")
	}

	// Visibility does not revert while the qualifying answers remain.
	answers.Set(StepVariant, "Premium")
	if !CanShowPrice(answers) {
		t.Error("expected price to stay visible after unrelated answers")
	}
}

func TestCanShowPriceDigitalNeedsDelivery(t *testing.T) {
	answers := NewAnswers()
	answers.Set(StepCardType, CardTypeDigital)
	answers.Set(StepExpiry, ExpirySixMonth)
	if CanShowPrice(answers) {
		t.Error("expected price hidden before delivery method is set")
	}
	answers.Set(StepDigitalDelivery, DeliveryText)
	if !CanShowPrice(answers) {
		t.Error("expected price showable once delivery method is set")
	}
}

func TestFormatPrice(t *testing.T) {
	if got := FormatPrice(72.0); got != "$72.00" {
		t.Errorf("expected $72.00, got %q", got)
	}
	if got := FormatPrice(225.5); got != "$225.50" {
		t.Errorf("expected $225.50, got %q", got)
	}
}
