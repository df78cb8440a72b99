package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ModalMetrics/GiftFlow/internal/flow"
	"github.com/ModalMetrics/GiftFlow/internal/models"
)

type stubModeClient struct {
	reply     string
	err       error
	gotSystem string
	gotUser   string
}

func (s *stubModeClient) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.gotSystem = systemPrompt
	s.gotUser = userPrompt
	return s.reply, s.err
}

// planReply builds a full FlowPlan JSON assigning mode to every step of the
// branch except the listed omissions.
func planReply(t *testing.T, cardType, mode string, omit ...string) string {
	t.Helper()
	payloads, err := BuildPayloads(cardType)
	if err != nil {
		t.Fatalf("BuildPayloads(%q) error = %v", cardType, err)
	}
	omitted := make(map[string]bool, len(omit))
	for _, id := range omit {
		omitted[id] = true
	}
	var plan FlowPlan
	for _, p := range payloads {
		if omitted[p.StepID] {
			continue
		}
		plan.Plan = append(plan.Plan, Decision{StepID: p.StepID, PreferredMode: mode, Rationale: "fits the step"})
	}
	data, err := json.Marshal(plan)
	if err != nil {
		t.Fatalf("marshal plan: %v", err)
	}
	return string(data)
}

func payloadByID(t *testing.T, payloads []StepPayload, stepID string) StepPayload {
	t.Helper()
	for _, p := range payloads {
		if p.StepID == stepID {
			return p
		}
	}
	t.Fatalf("step %q not found in payloads", stepID)
	return StepPayload{}
}

func TestBuildPayloadsDigital(t *testing.T) {
	payloads, err := BuildPayloads(flow.CardTypeDigital)
	if err != nil {
		t.Fatalf("BuildPayloads() error = %v", err)
	}
	if len(payloads) != 11 {
		t.Fatalf("digital branch has %d payloads, want 11", len(payloads))
	}
	if payloads[0].StepID != flow.StepCardType {
		t.Errorf("first step = %q, want card_type", payloads[0].StepID)
	}

	design := payloadByID(t, payloads, flow.StepDesign)
	if design.StepKind != "design" || design.OptionsCount != 20 || design.InputStructure != "select" {
		t.Errorf("design payload = %+v", design)
	}

	qty := payloadByID(t, payloads, flow.StepQuantity)
	if qty.StepKind != "number" || qty.ValueType != "integer" || !qty.HasValidationGuardrails {
		t.Errorf("quantity payload = %+v", qty)
	}
	if !qty.HasPresets || qty.PresetCount != 5 {
		t.Errorf("quantity presets = %+v", qty)
	}

	amt := payloadByID(t, payloads, flow.StepAmount)
	if amt.StepKind != "amount" || amt.ValueType != "currency" || !amt.PriceSensitive {
		t.Errorf("amount payload = %+v", amt)
	}
	if amt.PresetCount != 6 {
		t.Errorf("amount preset count = %d, want 6", amt.PresetCount)
	}

	ident := payloadByID(t, payloads, flow.StepDigitalIdentifier)
	if ident.InputStructure != "info" || ident.ValueType != "none" {
		t.Errorf("identifier payload = %+v", ident)
	}

	for _, p := range payloads {
		if p.StepID == flow.StepPackaging || p.StepID == flow.StepShippingMethod || p.StepID == flow.StepShippingAddress {
			t.Errorf("digital branch contains physical step %q", p.StepID)
		}
		if !p.ParitySupported {
			t.Errorf("step %q not marked parity supported", p.StepID)
		}
	}
}

func TestBuildPayloadsPhysical(t *testing.T) {
	payloads, err := BuildPayloads(flow.CardTypePhysical)
	if err != nil {
		t.Fatalf("BuildPayloads() error = %v", err)
	}
	if len(payloads) != 12 {
		t.Fatalf("physical branch has %d payloads, want 12", len(payloads))
	}

	packaging := payloadByID(t, payloads, flow.StepPackaging)
	if !packaging.PriceSensitive || packaging.OptionsCount != 3 {
		t.Errorf("packaging payload = %+v", packaging)
	}
	shipping := payloadByID(t, payloads, flow.StepShippingMethod)
	if !shipping.PriceSensitive || shipping.OptionsCount != 2 {
		t.Errorf("shipping method payload = %+v", shipping)
	}
	address := payloadByID(t, payloads, flow.StepShippingAddress)
	if address.InputStructure != "info" {
		t.Errorf("shipping address payload = %+v", address)
	}

	for _, p := range payloads {
		if p.StepID == flow.StepDigitalDelivery || p.StepID == flow.StepDigitalIdentifier {
			t.Errorf("physical branch contains digital step %q", p.StepID)
		}
	}
}

func TestBuildPayloadsUnknownCardType(t *testing.T) {
	if _, err := BuildPayloads("Plastic"); err == nil {
		t.Error("expected error for unknown card type")
	}
}

func TestPlanBranchFullDecision(t *testing.T) {
	stub := &stubModeClient{reply: planReply(t, flow.CardTypeDigital, "voice")}
	p := NewPlanner(stub)

	lines, err := p.PlanBranch(context.Background(), flow.CardTypeDigital)
	if err != nil {
		t.Fatalf("PlanBranch() error = %v", err)
	}
	if len(lines) != 11 {
		t.Fatalf("got %d lines, want 11", len(lines))
	}
	if lines[0].StepID != flow.StepCardType || lines[len(lines)-1].StepID != flow.StepPayment {
		t.Errorf("lines out of flow order: first %q last %q", lines[0].StepID, lines[len(lines)-1].StepID)
	}
	for _, line := range lines {
		if line.LLMMode != "voice" {
			t.Errorf("step %q mode = %q, want voice", line.StepID, line.LLMMode)
		}
		if line.Rationale != "" {
			t.Errorf("decided line %q carries rationale %q", line.StepID, line.Rationale)
		}
	}

	if !strings.Contains(stub.gotSystem, "modality planner") {
		t.Error("system prompt not forwarded")
	}
	if !strings.Contains(stub.gotUser, `"steps"`) {
		t.Error("user payload missing steps envelope")
	}
}

func TestPlanBranchMissingStepFallsBack(t *testing.T) {
	stub := &stubModeClient{reply: planReply(t, flow.CardTypeDigital, "chat", flow.StepMessage)}
	p := NewPlanner(stub)

	lines, err := p.PlanBranch(context.Background(), flow.CardTypeDigital)
	if err != nil {
		t.Fatalf("PlanBranch() error = %v", err)
	}
	for _, line := range lines {
		if line.StepID == flow.StepMessage {
			if line.LLMMode != string(models.ModalityStandard) {
				t.Errorf("skipped step mode = %q, want standard", line.LLMMode)
			}
			if line.Rationale != "No decision returned for this step." {
				t.Errorf("skipped step rationale = %q", line.Rationale)
			}
			continue
		}
		if line.LLMMode != "chat" {
			t.Errorf("step %q mode = %q, want chat", line.StepID, line.LLMMode)
		}
	}
}

func TestPlanBranchInvalidModeFails(t *testing.T) {
	reply := `{"plan":[{"step_id":"card_type","preferred_mode":"telepathy","rationale":"x"}]}`
	p := NewPlanner(&stubModeClient{reply: reply})
	if _, err := p.PlanBranch(context.Background(), flow.CardTypeDigital); err == nil {
		t.Error("expected error for invalid mode")
	}
}

func TestPlanBranchUnparseableReply(t *testing.T) {
	p := NewPlanner(&stubModeClient{reply: "modes incoming"})
	if _, err := p.PlanBranch(context.Background(), flow.CardTypeDigital); err == nil {
		t.Error("expected error for unparseable reply")
	}
}

func TestPlanBranchModelError(t *testing.T) {
	p := NewPlanner(&stubModeClient{err: errors.New("rate limited")})
	_, err := p.PlanBranch(context.Background(), flow.CardTypeDigital)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("expected wrapped model error, got %v", err)
	}
}

func TestPlanBranchIgnoresUnknownSteps(t *testing.T) {
	payloads, err := BuildPayloads(flow.CardTypeDigital)
	if err != nil {
		t.Fatalf("BuildPayloads() error = %v", err)
	}
	var plan FlowPlan
	plan.Plan = append(plan.Plan, Decision{StepID: "bogus_step", PreferredMode: "voice"})
	for _, p := range payloads {
		plan.Plan = append(plan.Plan, Decision{StepID: p.StepID, PreferredMode: "standard"})
	}
	data, _ := json.Marshal(plan)

	lines, err := NewPlanner(&stubModeClient{reply: string(data)}).PlanBranch(context.Background(), flow.CardTypeDigital)
	if err != nil {
		t.Fatalf("PlanBranch() error = %v", err)
	}
	if len(lines) != len(payloads) {
		t.Errorf("got %d lines, want %d; extra decisions must be dropped", len(lines), len(payloads))
	}
}

func TestPlanBranchDuplicateDecisionLastWins(t *testing.T) {
	payloads, err := BuildPayloads(flow.CardTypeDigital)
	if err != nil {
		t.Fatalf("BuildPayloads() error = %v", err)
	}
	var plan FlowPlan
	plan.Plan = append(plan.Plan, Decision{StepID: flow.StepCardType, PreferredMode: "voice"})
	for _, p := range payloads {
		plan.Plan = append(plan.Plan, Decision{StepID: p.StepID, PreferredMode: "chat"})
	}
	data, _ := json.Marshal(plan)

	lines, err := NewPlanner(&stubModeClient{reply: string(data)}).PlanBranch(context.Background(), flow.CardTypeDigital)
	if err != nil {
		t.Fatalf("PlanBranch() error = %v", err)
	}
	if lines[0].StepID != flow.StepCardType || lines[0].LLMMode != "chat" {
		t.Errorf("duplicate decision: got %+v, want later chat decision", lines[0])
	}
}

func TestWriteJSONL(t *testing.T) {
	lines := []PlanLine{
		{StepID: "card_type", LLMMode: "voice"},
		{StepID: "variant", LLMMode: "standard", Rationale: "No decision returned for this step."},
	}
	var buf bytes.Buffer
	if err := WriteJSONL(&buf, lines); err != nil {
		t.Fatalf("WriteJSONL() error = %v", err)
	}

	out := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(out) != 2 {
		t.Fatalf("got %d lines, want 2", len(out))
	}
	var first map[string]string
	if err := json.Unmarshal([]byte(out[0]), &first); err != nil {
		t.Fatalf("first line not JSON: %v", err)
	}
	if first["step_id"] != "card_type" || first["llm_mode"] != "voice" {
		t.Errorf("first line = %v", first)
	}
	if _, ok := first["rationale"]; ok {
		t.Error("decided line must omit rationale")
	}
	var second map[string]string
	if err := json.Unmarshal([]byte(out[1]), &second); err != nil {
		t.Fatalf("second line not JSON: %v", err)
	}
	if second["rationale"] == "" {
		t.Error("fallback line must carry rationale")
	}
}

func TestBuildModeTables(t *testing.T) {
	digital := []PlanLine{{StepID: "card_type", LLMMode: "voice"}, {StepID: "payment", LLMMode: "standard"}}
	physical := []PlanLine{{StepID: "packaging", LLMMode: "chat"}}

	tables := BuildModeTables(digital, physical)
	if tables.Digital["card_type"] != models.ModalityVoice {
		t.Errorf("digital card_type = %v", tables.Digital["card_type"])
	}
	if tables.Physical["packaging"] != models.ModalityChat {
		t.Errorf("physical packaging = %v", tables.Physical["packaging"])
	}
	if len(tables.Digital) != 2 || len(tables.Physical) != 1 {
		t.Errorf("table sizes = %d/%d", len(tables.Digital), len(tables.Physical))
	}
}

func TestLoadModeTables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modes.json")
	content := `{"digital":{"card_type":"voice","r1_amt":"standard"},"physical":{"packaging":"chat"}}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	tables, err := LoadModeTables(path)
	if err != nil {
		t.Fatalf("LoadModeTables() error = %v", err)
	}
	if tables.Digital["card_type"] != models.ModalityVoice {
		t.Errorf("digital card_type = %v", tables.Digital["card_type"])
	}
	if tables.Physical["packaging"] != models.ModalityChat {
		t.Errorf("physical packaging = %v", tables.Physical["packaging"])
	}
}

func TestLoadModeTablesRejectsBadContent(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{name: "invalid mode", content: `{"digital":{"card_type":"telepathy"},"physical":{}}`},
		{name: "unknown step", content: `{"digital":{"warp_drive":"voice"},"physical":{}}`},
		{name: "not json", content: `modes: all voice`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".json")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("write fixture: %v", err)
			}
			if _, err := LoadModeTables(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadModeTablesMissingFile(t *testing.T) {
	if _, err := LoadModeTables(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
