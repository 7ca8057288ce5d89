package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

func (r Repo) now() string {
	if r.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return r.Now().UTC().Format(time.RFC3339)
}

// GetState returns a key-value state entry.
func (r Repo) GetState(ctx context.Context, key string) (string, error) {
	var v string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM state WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return v, err
}

func (r Repo) SetState(ctx context.Context, key, value string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO state(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, value, r.now())
	return err
}

// ListState returns every key-value state entry.
func (r Repo) ListState(ctx context.Context) (map[string]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT key,value FROM state ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		res[k] = v
	}
	return res, rows.Err()
}

func (r Repo) GetSchedulerState(ctx context.Context, key string) (string, error) {
	var v string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM scheduler_state WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return v, err
}

// SetSchedulerState writes every entry of values in one transaction.
func (r Repo) SetSchedulerState(ctx context.Context, values map[string]string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := r.now()
	for k, v := range values {
		if _, err := tx.ExecContext(ctx, `INSERT INTO scheduler_state(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, k, v, now); err != nil {
			return fmt.Errorf("set scheduler state %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// GetOverride decodes a runtime override into out. It reports false when unset.
func (r Repo) GetOverride(ctx context.Context, key string, out any) (bool, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT value_json FROM runtime_overrides WHERE key=?`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return false, fmt.Errorf("decode override %s: %w", key, err)
	}
	return true, nil
}

func (r Repo) SetOverride(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO runtime_overrides(key,value_json,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`, key, string(payload), r.now())
	return err
}

// ListOverrides returns the raw JSON of every runtime override.
func (r Repo) ListOverrides(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT key,value_json FROM runtime_overrides ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]json.RawMessage{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		res[k] = json.RawMessage(v)
	}
	return res, rows.Err()
}

func (r Repo) IsDecisionProcessed(ctx context.Context, decisionID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM processed_decisions WHERE decision_id=?`, decisionID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) MarkDecisionProcessed(ctx context.Context, decisionID, kind, payloadHash, status string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO processed_decisions(decision_id,kind,payload_hash,status,created_at) VALUES (?,?,?,?,?)`,
		decisionID, kind, payloadHash, status, r.now())
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// Accepted timestamp forms; inputs without an offset are taken as UTC.
var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05Z07:00", "2006-01-02 15:04:05"}

// CanonicalTime rewrites a timestamp as UTC RFC3339 with second precision, the
// form every stored timestamp is compared in. Unparseable input is returned
// unchanged.
func CanonicalTime(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return s
}

func canonicalTimePtr(v *string) *string {
	if v == nil {
		return nil
	}
	c := CanonicalTime(*v)
	return &c
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > 500 {
		return 500
	}
	return limit
}
