package control

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"treta/internal/events"
	"treta/internal/integrations"
	"treta/internal/statemachine"
	"treta/internal/store"
)

const conversationSystemPrompt = "You are Treta, the operator of a small digital-product business. " +
	"Answer briefly and end with one concrete next step."

// userMessage answers a chat message. The reply comes from the model when
// one is configured and falls back to a fixed summary of the loop otherwise.
func (c *Control) userMessage(ctx context.Context, e events.Event) ([]Action, error) {
	text := e.String("text")
	if text == "" {
		return nil, nil
	}
	fields := events.TraceFields(ctx)
	mem := c.Stores.Memory
	if err := mem.Append("user", text); err != nil {
		c.log().Warn("store user message", append(fields, zap.Error(err))...)
	}

	reply := c.reply(ctx, text)

	if err := mem.Append("assistant", reply); err != nil {
		c.log().Warn("store assistant message", append(fields, zap.Error(err))...)
	}
	if c.Machine != nil {
		c.Machine.Transition(statemachine.Speaking)
		c.Machine.Transition(statemachine.Idle)
	}
	c.log().Info("assistant reply generated", append(fields, zap.Int("chars", len(reply)))...)
	return []Action{{Type: events.AssistantMessageGenerated, Payload: map[string]any{"text": reply}}}, nil
}

func (c *Control) reply(ctx context.Context, text string) string {
	snap := c.Stores.Memory.Snapshot()
	if c.LLM != nil {
		msgs := []integrations.Message{{
			Role:    "system",
			Content: conversationSystemPrompt + " Operator: " + snap.Profile.Name + ". Objective: " + snap.Profile.Objective,
		}}
		for _, m := range snap.ChatHistory {
			msgs = append(msgs, integrations.Message{Role: m.Role, Content: m.Text})
		}
		if len(snap.ChatHistory) == 0 {
			msgs = append(msgs, integrations.Message{Role: "user", Content: text})
		}
		out, err := c.LLM.Chat(ctx, msgs, integrations.TaskChat, c.LLM.Model(integrations.TaskChat))
		if err == nil && strings.TrimSpace(out) != "" {
			return strings.TrimSpace(out)
		}
		c.log().Warn("model reply failed; using summary", append(events.TraceFields(ctx), zap.Error(err))...)
	}
	return stubReply(snap.Profile, c.DailyLoop(ctx).Phase, text)
}

func stubReply(p store.Profile, phase, text string) string {
	return fmt.Sprintf("%s, I got your message: '%s'. Current loop phase is %s. Objective: %s. "+
		"Suggested next steps: 1) run an opportunity scan, 2) review top proposal, 3) execute one concrete launch task today.",
		p.Name, strings.TrimSpace(text), phase, p.Objective)
}

// heartbeat persists the conversation state.
func (c *Control) heartbeat(ctx context.Context, _ events.Event) ([]Action, error) {
	if c.Machine == nil {
		return nil, nil
	}
	if err := c.Repo.SetState(ctx, statemachine.StateKey, string(c.Machine.State())); err != nil {
		return nil, fmt.Errorf("persist state: %w", err)
	}
	return nil, nil
}
