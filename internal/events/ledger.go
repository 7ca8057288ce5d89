package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Ledger records which event ids have been handled successfully.
type Ledger struct {
	DB  *sql.DB
	Now func() time.Time
}

func (l Ledger) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	var n int
	err := l.DB.QueryRowContext(ctx, `SELECT 1 FROM processed_events WHERE event_id=?`, eventID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup processed event: %w", err)
	}
	return true, nil
}

func (l Ledger) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	if l.Now == nil {
		l.Now = time.Now
	}
	if eventID == "" {
		return nil
	}
	ts := l.Now().UTC().Format(time.RFC3339)
	_, err := l.DB.ExecContext(ctx, `INSERT OR IGNORE INTO processed_events(event_id, event_type, processed_at) VALUES (?,?,?)`,
		eventID, eventType, ts)
	return err
}

// Count returns the number of rows recorded for eventID.
func (l Ledger) Count(ctx context.Context, eventID string) (int, error) {
	var n int
	err := l.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_events WHERE event_id=?`, eventID).Scan(&n)
	return n, err
}
