package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"treta/internal/domain"
	"treta/internal/integrations"
)

// DraftAsset writes a short text draft for the action's target.
type DraftAsset struct{}

func (DraftAsset) Name() string    { return "draft_asset_executor" }
func (DraftAsset) Types() []string { return []string{domain.ActionDraftAsset} }

func (DraftAsset) Execute(_ context.Context, a domain.StrategyAction, p Params) (map[string]any, error) {
	target := strings.TrimSpace(a.TargetID)
	if target == "" {
		target = "audience"
	}
	goal := strings.TrimSpace(a.Reasoning)
	if goal == "" {
		goal = "Produce a useful first draft"
	}
	prompt := strings.TrimSpace(p.Prompt)
	if prompt == "" {
		prompt = "no additional context"
	}
	body := strings.Join([]string{
		"Goal: " + strings.TrimSuffix(goal, ".") + ".",
		"Context: " + prompt + ".",
		"Checklist:",
		"1. One clear core message.",
		"2. A tangible benefit for the buyer.",
		"3. A measurable call to action.",
	}, "\n")
	return map[string]any{
		"artifact_type": "text_draft",
		"title":         "Draft for " + target,
		"content":       body,
	}, nil
}

// TaskQueuer is the slice of the external task client the executor needs.
type TaskQueuer interface {
	Queue(ctx context.Context, req integrations.TaskRequest) (integrations.TaskReceipt, error)
}

// ExternalTask hands non-destructive work to the external task runner.
type ExternalTask struct {
	Tasks TaskQueuer
	Now   func() time.Time
}

// NewExternalTask wraps t; a nil client yields an executor that fails every call.
func NewExternalTask(t *integrations.Tasks) ExternalTask {
	if t == nil {
		return ExternalTask{}
	}
	return ExternalTask{Tasks: t}
}

func (ExternalTask) Name() string { return "external_task_executor" }

func (ExternalTask) Types() []string {
	return []string{domain.ActionQueueExternalTask, domain.ActionExternalPublish, domain.ActionExternalPriceSet}
}

var errNoTaskRunner = errors.New("external task runner not configured")

func (e ExternalTask) Execute(ctx context.Context, a domain.StrategyAction, p Params) (map[string]any, error) {
	if e.Tasks == nil {
		return nil, errNoTaskRunner
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	receipt, err := e.Tasks.Queue(ctx, integrations.TaskRequest{
		TaskType:      a.Type,
		ActionID:      a.ID,
		CorrelationID: p.CorrelationID,
		Metadata:      map[string]any{"target_id": a.TargetID, "reasoning": a.Reasoning},
		RequestedAt:   now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "queued", "task_id": receipt.TaskID}, nil
}

// Playbook returns the deterministic operating steps for a strategy action.
type Playbook struct{}

func (Playbook) Name() string { return "playbook_executor" }

func (Playbook) Types() []string {
	return []string{domain.ActionScale, domain.ActionReview, domain.ActionPriceTest, domain.ActionNewProduct, domain.ActionArchive}
}

var playbooks = map[string][]string{
	domain.ActionScale: {
		"Double down on the channel that produced the last sales.",
		"Publish two new posts reusing the best performing hook.",
		"Add a bundle or upsell at a higher price point.",
	},
	domain.ActionReview: {
		"Re-read the listing as a first-time buyer and list objections.",
		"Rewrite the headline around the core problem.",
		"Share the listing in one community where the problem is discussed.",
	},
	domain.ActionPriceTest: {
		"Lower the price by 30% for seven days.",
		"Track conversion against the previous week.",
		"Keep the price that yields more revenue per visit.",
	},
	domain.ActionNewProduct: {
		"Pick the highest scoring open opportunity.",
		"Generate a proposal and approve it once it fits the focus rule.",
		"Ship the smallest sellable version within a week.",
	},
	domain.ActionArchive: {
		"Unpublish the listing.",
		"Record what did not work in the launch notes.",
		"Free the focus slot for the next proposal.",
	},
}

func (Playbook) Execute(_ context.Context, a domain.StrategyAction, _ Params) (map[string]any, error) {
	steps, ok := playbooks[a.Type]
	if !ok {
		return nil, fmt.Errorf("no playbook for %s", a.Type)
	}
	return map[string]any{
		"artifact_type": "playbook",
		"action_type":   a.Type,
		"target_id":     a.TargetID,
		"steps":         append([]string(nil), steps...),
	}, nil
}

// DefaultRegistry wires the built-in executors.
func DefaultRegistry(tasks *integrations.Tasks) *Registry {
	return NewRegistry(DraftAsset{}, NewExternalTask(tasks), Playbook{})
}
