package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"treta/internal/domain"
)

const GlobalScope = "global"

// LoadAdaptiveState returns the stored state for scope and its version.
func (r Repo) LoadAdaptiveState(ctx context.Context, scope string) (domain.AdaptivePolicyState, int, error) {
	var (
		st      domain.AdaptivePolicyState
		payload string
		version int
	)
	err := r.DB.QueryRowContext(ctx, `SELECT state_json, version FROM adaptive_policy_state WHERE scope=?`, scope).Scan(&payload, &version)
	if err == sql.ErrNoRows {
		return st, 0, ErrNotFound
	}
	if err != nil {
		return st, 0, err
	}
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return st, version, fmt.Errorf("decode adaptive state: %w", err)
	}
	return st, version, nil
}

// SaveAdaptiveState upserts the state for scope, bumping its version.
func (r Repo) SaveAdaptiveState(ctx context.Context, scope string, st domain.AdaptivePolicyState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO adaptive_policy_state(scope,state_json,version,updated_at) VALUES (?,?,1,?)
ON CONFLICT(scope) DO UPDATE SET state_json=excluded.state_json, version=adaptive_policy_state.version+1, updated_at=excluded.updated_at`,
		scope, string(payload), r.now())
	return err
}
