package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"treta/internal/domain"
)

// ErrExecutionInFlight is returned when an action already has a queued or running execution.
var ErrExecutionInFlight = errors.New("execution already in flight")

const maxPayloadChars = 5000

// ExecutionInput seeds a queued execution row.
type ExecutionInput struct {
	ActionID      string
	ActionType    string
	Executor      string
	RequestID     string
	TraceID       string
	CorrelationID string
	Input         any
}

func compactJSON(v any) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(map[string]any{"unencodable": err.Error()})
	}
	s := string(data)
	if len(s) > maxPayloadChars {
		s = s[:maxPayloadChars] + "...<trimmed>"
	}
	return s
}

func decodePayload(raw string) map[string]any {
	m := map[string]any{}
	if raw == "" {
		return m
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return map[string]any{"raw": raw}
	}
	return m
}

const executionColumns = `id,action_id,action_type,status,executor,started_at,finished_at,request_id,trace_id,correlation_id,
input_payload,output_payload,error`

func scanExecution(row rowScanner) (domain.ActionExecution, error) {
	var (
		e                                 domain.ActionExecution
		finishedAt, errMsg                sql.NullString
		requestID, traceID, correlationID sql.NullString
		input, output                     string
	)
	err := row.Scan(&e.ID, &e.ActionID, &e.ActionType, &e.Status, &e.Executor, &e.StartedAt, &finishedAt, &requestID, &traceID,
		&correlationID, &input, &output, &errMsg)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.FinishedAt = stringPtr(finishedAt)
	e.Error = stringPtr(errMsg)
	e.RequestID = requestID.String
	e.TraceID = traceID.String
	e.CorrelationID = correlationID.String
	e.InputPayload = decodePayload(input)
	e.OutputPayload = decodePayload(output)
	return e, nil
}

// CreateQueuedExecution inserts a queued row. The partial unique index on
// action_id keeps at most one non-terminal row per action.
func (r Repo) CreateQueuedExecution(ctx context.Context, in ExecutionInput) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO action_executions(action_id,action_type,status,executor,started_at,request_id,trace_id,correlation_id,input_payload,output_payload)
VALUES (?,?,?,?,?,?,?,?,?,'{}')`,
		in.ActionID, in.ActionType, domain.ExecutionQueued, in.Executor, r.now(), nullable(in.RequestID), nullable(in.TraceID),
		nullable(in.CorrelationID), compactJSON(in.Input))
	if isUniqueViolation(err) {
		return 0, ErrExecutionInFlight
	}
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) MarkExecutionRunning(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE action_executions SET status=? WHERE id=? AND status=?`,
		domain.ExecutionRunning, id, domain.ExecutionQueued)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteExecution moves a non-terminal row to a terminal status.
func (r Repo) CompleteExecution(ctx context.Context, id int64, status string, output any, errMsg string) error {
	if !domain.IsTerminalExecution(status) {
		return errors.New("complete execution requires a terminal status")
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE action_executions SET status=?, output_payload=?, error=?, finished_at=?
WHERE id=? AND status IN (?,?)`,
		status, compactJSON(output), nullable(errMsg), r.now(), id, domain.ExecutionQueued, domain.ExecutionRunning)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReapStaleExecutions marks running or queued rows started before cutoff as failed_timeout.
func (r Repo) ReapStaleExecutions(ctx context.Context, actionID, cutoff string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE action_executions SET status=?, error=?, finished_at=?
WHERE action_id=? AND status IN (?,?) AND started_at < ?`,
		domain.ExecutionFailedTimeout, "stale execution reaped", r.now(), actionID, domain.ExecutionQueued, domain.ExecutionRunning, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) GetExecution(ctx context.Context, id int64) (domain.ActionExecution, error) {
	return scanExecution(r.DB.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM action_executions WHERE id=?`, id))
}

func (r Repo) LatestExecution(ctx context.Context, actionID string) (domain.ActionExecution, error) {
	return scanExecution(r.DB.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM action_executions WHERE action_id=? ORDER BY id DESC LIMIT 1`, actionID))
}

func (r Repo) ListExecutions(ctx context.Context, actionID string, limit int) ([]domain.ActionExecution, error) {
	return r.queryExecutions(ctx, `SELECT `+executionColumns+` FROM action_executions WHERE action_id=? ORDER BY id DESC LIMIT ?`, actionID, clampLimit(limit))
}

func (r Repo) ListRecentExecutions(ctx context.Context, limit int) ([]domain.ActionExecution, error) {
	return r.queryExecutions(ctx, `SELECT `+executionColumns+` FROM action_executions ORDER BY id DESC LIMIT ?`, clampLimit(limit))
}

// CountRecentFailures counts failed or timed-out executions of an action started at or after since.
func (r Repo) CountRecentFailures(ctx context.Context, actionID, since string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM action_executions WHERE action_id=? AND status IN (?,?) AND started_at >= ?`,
		actionID, domain.ExecutionFailed, domain.ExecutionFailedTimeout, since).Scan(&n)
	return n, err
}

// CountInFlight returns the number of queued or running rows for an action.
func (r Repo) CountInFlight(ctx context.Context, actionID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM action_executions WHERE action_id=? AND status IN (?,?)`,
		actionID, domain.ExecutionQueued, domain.ExecutionRunning).Scan(&n)
	return n, err
}

func (r Repo) queryExecutions(ctx context.Context, query string, args ...any) ([]domain.ActionExecution, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ActionExecution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
