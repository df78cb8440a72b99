package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ModalMetrics/GiftFlow/internal/flow"
	"github.com/ModalMetrics/GiftFlow/internal/models"
)

// plannerSystemPrompt instructs the model to assign one mode per step
// without treating any mode as a safe default. The parity invariants
// restate what the wizard actually guarantees.
const plannerSystemPrompt = `You are an interaction modality planner for a checkout flow.

Assign exactly ONE modality to each step:
- standard
- voice
- chat

Critical constraint:
- Do NOT treat any modality as a default or fallback.
- In particular, do NOT choose "standard" simply because it feels safer.
- All three modalities are equally supported and equally safe in this interface.

Interface invariants (parity across modalities):
- Voice and chat inputs are parsed into the same structured fields as standard input.
- The system shows a confirmation preview before continuing for voice/chat.
- Validation is enforced when applicable; invalid values block progress until corrected.
- Users can easily edit/correct the value before proceeding.
- If a step has presets, the user can pick a preset using any modality.

Output requirements:
- Return valid JSON only matching the schema.
- Provide a brief plain-English rationale per step (1-2 sentences).
- Do NOT include the full step payload in the rationale.
- Do NOT ask follow-up questions.`

// ModeClient is the slice of the GenAI client the planner needs.
type ModeClient interface {
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Decision is one per-step assignment in the model's reply.
type Decision struct {
	StepID        string `json:"step_id"`
	PreferredMode string `json:"preferred_mode"`
	Rationale     string `json:"rationale"`
}

// FlowPlan is the reply schema: one decision per step.
type FlowPlan struct {
	Plan []Decision `json:"plan"`
}

// PlanLine is one line of the emitted JSONL plan. Rationale is only
// populated on the fallback line for a step the model skipped.
type PlanLine struct {
	StepID    string `json:"step_id"`
	LLMMode   string `json:"llm_mode"`
	Rationale string `json:"rationale,omitempty"`
}

// Planner runs flow-level mode planning against a model client.
type Planner struct {
	client ModeClient
}

func NewPlanner(client ModeClient) *Planner {
	return &Planner{client: client}
}

// PlanBranch plans one card-type branch with a single stateless call and
// returns one line per step in wizard order. A step the model left
// undecided falls back to standard; an invalid mode anywhere fails the
// whole run so a bad plan is never half-applied.
func (p *Planner) PlanBranch(ctx context.Context, cardType string) ([]PlanLine, error) {
	payloads, err := BuildPayloads(cardType)
	if err != nil {
		return nil, err
	}

	userPayload, err := json.Marshal(struct {
		Steps []StepPayload `json:"steps"`
	}{Steps: payloads})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step payloads: %w", err)
	}

	slog.Debug("Planner.PlanBranch: requesting flow plan", "cardType", cardType, "steps", len(payloads))
	raw, err := p.client.GenerateJSON(ctx, plannerSystemPrompt, string(userPayload))
	if err != nil {
		slog.Error("Planner.PlanBranch: model call failed", "cardType", cardType, "error", err)
		return nil, fmt.Errorf("failed to plan modes for %s branch: %w", cardType, err)
	}

	var plan FlowPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		slog.Error("Planner.PlanBranch: unparseable flow plan", "cardType", cardType, "error", err)
		return nil, fmt.Errorf("failed to parse flow plan: %w", err)
	}
	for _, d := range plan.Plan {
		if !models.IsValidModality(models.Modality(d.PreferredMode)) {
			return nil, fmt.Errorf("invalid mode %q for step %q", d.PreferredMode, d.StepID)
		}
	}

	decided := make(map[string]Decision, len(plan.Plan))
	for _, d := range plan.Plan {
		decided[d.StepID] = d
	}

	lines := make([]PlanLine, 0, len(payloads))
	for _, payload := range payloads {
		d, ok := decided[payload.StepID]
		if !ok {
			slog.Warn("Planner.PlanBranch: no decision returned for step", "stepID", payload.StepID)
			lines = append(lines, PlanLine{
				StepID:    payload.StepID,
				LLMMode:   string(models.ModalityStandard),
				Rationale: "No decision returned for this step.",
			})
			continue
		}
		lines = append(lines, PlanLine{StepID: d.StepID, LLMMode: d.PreferredMode})
	}
	slog.Info("Planner.PlanBranch: plan complete", "cardType", cardType, "steps", len(lines))
	return lines, nil
}

// WriteJSONL emits the plan, one JSON object per line, in flow order.
func WriteJSONL(w io.Writer, lines []PlanLine) error {
	for _, line := range lines {
		data, err := json.Marshal(line)
		if err != nil {
			return fmt.Errorf("failed to marshal plan line: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return err
		}
	}
	return nil
}

// BuildModeTables merges the two branch plans into the lookup tables the
// wizard serves.
func BuildModeTables(digital, physical []PlanLine) *flow.ModeTables {
	tables := &flow.ModeTables{
		Digital:  make(map[string]models.Modality, len(digital)),
		Physical: make(map[string]models.Modality, len(physical)),
	}
	for _, line := range digital {
		tables.Digital[line.StepID] = models.Modality(line.LLMMode)
	}
	for _, line := range physical {
		tables.Physical[line.StepID] = models.Modality(line.LLMMode)
	}
	return tables
}

// LoadModeTables reads a saved mode table file and validates it against
// the step catalog. The server loads this at boot, so errors here are
// startup failures rather than silent per-step fallbacks.
func LoadModeTables(path string) (*flow.ModeTables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mode plan %s: %w", path, err)
	}
	var tables flow.ModeTables
	if err := json.Unmarshal(data, &tables); err != nil {
		return nil, fmt.Errorf("failed to parse mode plan %s: %w", path, err)
	}
	for branch, table := range map[string]map[string]models.Modality{"digital": tables.Digital, "physical": tables.Physical} {
		for stepID, mode := range table {
			if _, ok := flow.LookupStep(stepID); !ok {
				return nil, fmt.Errorf("mode plan %s: unknown step %q in %s table", path, stepID, branch)
			}
			if !models.IsValidModality(mode) {
				return nil, fmt.Errorf("mode plan %s: invalid mode %q for step %q", path, mode, stepID)
			}
		}
	}
	slog.Info("LoadModeTables: mode plan loaded", "path", path, "digitalSteps", len(tables.Digital), "physicalSteps", len(tables.Physical))
	return &tables, nil
}
