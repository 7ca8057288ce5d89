package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"treta/internal/integrations"
	"treta/internal/logging"
)

const PlannerJSONFailure = "STRATEGIC_PLANNER_JSON_FAILURE"

const defaultObjective = "Define the next best strategic action"

// Step kinds of a strategic plan.
const (
	StepAnalysis   = "analysis"
	StepAction     = "action"
	StepValidation = "validation"
)

// Chatter is the slice of the LLM client the planner needs.
type Chatter interface {
	Chat(ctx context.Context, messages []integrations.Message, taskType, model string) (string, error)
	Model(taskType string) string
}

type PlanStep struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Type        string `json:"type"`
	RequiresLLM bool   `json:"requires_llm"`
}

type StrategicPlan struct {
	Objective string     `json:"objective"`
	Steps     []PlanStep `json:"steps"`
}

// PlannerAttempt records one model call.
type PlannerAttempt struct {
	Attempt int    `json:"attempt"`
	Raw     string `json:"raw"`
	Error   string `json:"error"`
}

// PlannerError is returned when the model never produced a valid plan.
type PlannerError struct {
	Code     string           `json:"code"`
	Model    string           `json:"model"`
	Attempts []PlannerAttempt `json:"attempts"`
}

func (e *PlannerError) Error() string {
	last := ""
	if n := len(e.Attempts); n > 0 {
		last = e.Attempts[n-1].Error
	}
	return fmt.Sprintf("%s after %d attempts: %s", e.Code, len(e.Attempts), last)
}

// Planner asks the model for a strict JSON plan. Without a model it returns
// a fixed three-step plan.
type Planner struct {
	LLM Chatter
	Log *zap.Logger
}

const plannerSystemPrompt = "Return ONLY valid JSON (no markdown) matching the requested schema exactly. " +
	"Do not add fields. Set requires_llm=true only when a language model is needed."

const plannerSchema = `{"objective":"string","steps":[{"id":"string","description":"string","type":"analysis | action | validation","requires_llm":"boolean"}]}`

// Create builds a plan for objective given a free-form state snapshot. A
// response that fails validation is retried once with a repair prompt.
func (p Planner) Create(ctx context.Context, objective, snapshot string) (StrategicPlan, error) {
	log := logging.OrNop(p.Log)
	objective = strings.TrimSpace(objective)
	if objective == "" {
		objective = defaultObjective
	}
	if p.LLM == nil {
		log.Info("strategic planner fallback used", zap.String("objective", objective))
		return FallbackPlan(objective), nil
	}

	model := p.LLM.Model(integrations.TaskPlanning)
	messages := []integrations.Message{
		{Role: "system", Content: plannerSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("objective: %s\nstate_snapshot: %s\nschema: %s", objective, strings.TrimSpace(snapshot), plannerSchema)},
	}
	perr := &PlannerError{Code: PlannerJSONFailure, Model: model}
	for attempt := 1; attempt <= 2; attempt++ {
		started := time.Now()
		raw, err := p.LLM.Chat(ctx, messages, integrations.TaskPlanning, model)
		if err == nil {
			var plan StrategicPlan
			plan, err = parsePlan(raw)
			if err == nil {
				log.Info("strategic plan generated", zap.String("model", model), zap.Int("attempt", attempt),
					zap.Int("steps", len(plan.Steps)), zap.Duration("elapsed", time.Since(started)))
				return plan, nil
			}
		}
		perr.Attempts = append(perr.Attempts, PlannerAttempt{Attempt: attempt, Raw: raw, Error: err.Error()})
		log.Warn("strategic plan rejected", zap.String("model", model), zap.Int("attempt", attempt), zap.Error(err))
		messages = append(messages,
			integrations.Message{Role: "assistant", Content: raw},
			integrations.Message{Role: "user", Content: "The previous answer was invalid (" + err.Error() + "). Reply again with only the JSON object for the schema."},
		)
	}
	return StrategicPlan{}, perr
}

// FallbackPlan is the plan used when no model is configured.
func FallbackPlan(objective string) StrategicPlan {
	return StrategicPlan{
		Objective: objective,
		Steps: []PlanStep{
			{ID: "step-1", Description: "Analyze the current state and set immediate priorities.", Type: StepAnalysis},
			{ID: "step-2", Description: "Execute the priority action with the lowest operational risk.", Type: StepAction, RequiresLLM: true},
			{ID: "step-3", Description: "Validate the outcome and record the next adjustments.", Type: StepValidation},
		},
	}
}

func parsePlan(raw string) (StrategicPlan, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	var plan StrategicPlan
	if err := dec.Decode(&plan); err != nil {
		return plan, fmt.Errorf("invalid plan json: %w", err)
	}
	return plan, validatePlan(plan)
}

func validatePlan(plan StrategicPlan) error {
	if strings.TrimSpace(plan.Objective) == "" {
		return errors.New("plan objective must be a non-empty string")
	}
	if len(plan.Steps) == 0 {
		return errors.New("plan must have at least one step")
	}
	for i, s := range plan.Steps {
		if strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.Description) == "" {
			return fmt.Errorf("step %d needs an id and a description", i)
		}
		switch s.Type {
		case StepAnalysis, StepAction, StepValidation:
		default:
			return fmt.Errorf("step %d type must be analysis, action or validation", i)
		}
	}
	return nil
}
