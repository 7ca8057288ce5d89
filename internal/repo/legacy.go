package repo

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/jsonstore"
)

// Flags in runtime_overrides that guard one-shot imports of legacy JSON files.
const (
	FlagActionsImported   = "migrated_from_json.strategy_actions"
	FlagAdaptiveImported  = "migrated_from_json.adaptive_policy_state"
	FlagSchedulerImported = "migrated_from_json.scheduler_state"
)

// ImportOnce runs fn unless flag is already set, then sets flag.
func (r Repo) ImportOnce(ctx context.Context, flag string, fn func() error) (bool, error) {
	var done bool
	ok, err := r.GetOverride(ctx, flag, &done)
	if err != nil {
		return false, err
	}
	if ok && done {
		return false, nil
	}
	if err := fn(); err != nil {
		return false, err
	}
	return true, r.SetOverride(ctx, flag, true)
}

// ImportLegacyActions copies strategy_actions.json into the table once.
func (r Repo) ImportLegacyActions(ctx context.Context, path string, log *zap.Logger) (int, error) {
	imported := 0
	_, err := r.ImportOnce(ctx, FlagActionsImported, func() error {
		var items []domain.StrategyAction
		found, err := jsonstore.Read(path, &items, log)
		if err != nil || !found {
			return err
		}
		for _, a := range items {
			if a.ID == "" || a.Type == "" {
				continue
			}
			if _, err := r.GetStrategyAction(ctx, a.ID); err == nil {
				continue
			}
			if a.Status == "" {
				a.Status = domain.ActionPendingConfirmation
			}
			if a.RiskLevel == "" {
				a.RiskLevel = domain.RiskMedium
			}
			if a.ExpectedImpactScore == 0 {
				a.ExpectedImpactScore = 5
			}
			if err := r.UpsertStrategyAction(ctx, a); err != nil {
				return fmt.Errorf("import action %s: %w", a.ID, err)
			}
			imported++
		}
		return nil
	})
	return imported, err
}
