package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"treta/internal/domain"
)

const redacted = "***REDACTED***"

var redactKeys = map[string]struct{}{
	"token":         {},
	"secret":        {},
	"api_key":       {},
	"authorization": {},
}

// DecisionLogInput is the writable part of a decision log row.
type DecisionLogInput struct {
	DecisionType   string
	EntityType     string
	EntityID       string
	ActionType     string
	Decision       string
	RiskScore      *float64
	AutonomyScore  *float64
	PolicyName     string
	PolicySnapshot map[string]any
	Inputs         map[string]any
	Outputs        map[string]any
	Reason         string
	CorrelationID  string
	Status         string
	Error          string
}

// Redact replaces the values of sensitive keys at any depth, keeping structure.
func Redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			if _, ok := redactKeys[strings.ToLower(k)]; ok {
				out[k] = redacted
				continue
			}
			out[k] = Redact(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Redact(item)
		}
		return out
	default:
		return v
	}
}

func redactedJSON(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	// Round-trip through JSON so typed values (structs, []string) are
	// redacted as plain maps and slices.
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return "", err
	}
	out, err := json.Marshal(Redact(generic))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (r Repo) CreateDecisionLog(ctx context.Context, in DecisionLogInput) (int64, error) {
	if in.DecisionType == "" || in.Decision == "" || in.PolicyName == "" {
		return 0, fmt.Errorf("decision log requires decision_type, decision and policy_name")
	}
	if in.Status == "" {
		in.Status = domain.LogRecorded
	}
	snapshot, err := redactedJSON(in.PolicySnapshot)
	if err != nil {
		return 0, fmt.Errorf("encode policy snapshot: %w", err)
	}
	inputs, err := redactedJSON(in.Inputs)
	if err != nil {
		return 0, fmt.Errorf("encode inputs: %w", err)
	}
	outputs, err := redactedJSON(in.Outputs)
	if err != nil {
		return 0, fmt.Errorf("encode outputs: %w", err)
	}
	now := r.now()
	res, err := r.DB.ExecContext(ctx, `INSERT INTO decision_logs(
created_at,decision_type,entity_type,entity_id,action_type,decision,risk_score,autonomy_score,policy_name,
policy_snapshot_json,inputs_json,outputs_json,reason,correlation_id,status,error,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		now, in.DecisionType, nullable(in.EntityType), nullable(in.EntityID), nullable(in.ActionType), in.Decision,
		nullableFloatPtr(in.RiskScore), nullableFloatPtr(in.AutonomyScore), in.PolicyName,
		snapshot, inputs, outputs, in.Reason, in.CorrelationID, in.Status, nullable(in.Error), now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateDecisionLogStatus is the only mutation allowed on an existing row.
func (r Repo) UpdateDecisionLogStatus(ctx context.Context, id int64, status, errMsg string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE decision_logs SET status=?, error=?, updated_at=? WHERE id=?`,
		status, nullable(errMsg), r.now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const decisionLogColumns = `id,created_at,decision_type,entity_type,entity_id,action_type,decision,risk_score,autonomy_score,
policy_name,policy_snapshot_json,inputs_json,outputs_json,reason,correlation_id,status,error,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecisionLog(row rowScanner) (domain.DecisionLog, error) {
	var (
		d                                domain.DecisionLog
		entityType, entityID, actionType sql.NullString
		errMsg                           sql.NullString
		risk, autonomy                   sql.NullFloat64
	)
	var snapshotJSON, inputsJSON, outputsJSON string
	err := row.Scan(&d.ID, &d.CreatedAt, &d.DecisionType, &entityType, &entityID, &actionType, &d.Decision, &risk, &autonomy,
		&d.PolicyName, &snapshotJSON, &inputsJSON, &outputsJSON, &d.Reason, &d.CorrelationID, &d.Status, &errMsg, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.EntityType = stringPtr(entityType)
	d.EntityID = stringPtr(entityID)
	d.ActionType = stringPtr(actionType)
	d.Error = stringPtr(errMsg)
	if risk.Valid {
		d.RiskScore = &risk.Float64
	}
	if autonomy.Valid {
		d.AutonomyScore = &autonomy.Float64
	}
	for _, f := range []struct {
		raw string
		dst *map[string]any
	}{{snapshotJSON, &d.PolicySnapshot}, {inputsJSON, &d.Inputs}, {outputsJSON, &d.Outputs}} {
		m := map[string]any{}
		if f.raw != "" {
			if err := json.Unmarshal([]byte(f.raw), &m); err != nil {
				return d, fmt.Errorf("decode decision log %d: %w", d.ID, err)
			}
		}
		*f.dst = m
	}
	return d, nil
}

func (r Repo) GetDecisionLog(ctx context.Context, id int64) (domain.DecisionLog, error) {
	return scanDecisionLog(r.DB.QueryRowContext(ctx, `SELECT `+decisionLogColumns+` FROM decision_logs WHERE id=?`, id))
}

// ListDecisionLogs returns the newest rows first, optionally filtered by type.
func (r Repo) ListDecisionLogs(ctx context.Context, limit int, decisionType string) ([]domain.DecisionLog, error) {
	query := `SELECT ` + decisionLogColumns + ` FROM decision_logs`
	var args []any
	if decisionType != "" {
		query += ` WHERE decision_type=?`
		args = append(args, decisionType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, clampLimit(limit))
	return r.queryDecisionLogs(ctx, query, args...)
}

func (r Repo) DecisionLogsForEntity(ctx context.Context, entityType, entityID string, limit int) ([]domain.DecisionLog, error) {
	return r.queryDecisionLogs(ctx, `SELECT `+decisionLogColumns+` FROM decision_logs WHERE entity_type=? AND entity_id=? ORDER BY id DESC LIMIT ?`,
		entityType, entityID, clampLimit(limit))
}

func (r Repo) DecisionLogsByCorrelation(ctx context.Context, correlationID string) ([]domain.DecisionLog, error) {
	return r.queryDecisionLogs(ctx, `SELECT `+decisionLogColumns+` FROM decision_logs WHERE correlation_id=? ORDER BY id`, correlationID)
}

// LatestDecisionLog returns the newest row for a decision type and policy.
func (r Repo) LatestDecisionLog(ctx context.Context, decisionType, policyName string) (domain.DecisionLog, error) {
	return scanDecisionLog(r.DB.QueryRowContext(ctx, `SELECT `+decisionLogColumns+` FROM decision_logs
WHERE decision_type=? AND policy_name=? ORDER BY id DESC LIMIT 1`, decisionType, policyName))
}

func (r Repo) queryDecisionLogs(ctx context.Context, query string, args ...any) ([]domain.DecisionLog, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.DecisionLog{}
	for rows.Next() {
		d, err := scanDecisionLog(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
