package migrate

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treta/internal/db"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrateAppliesAllVersionsOnce(t *testing.T) {
	conn := openDB(t)
	require.NoError(t, Migrate(conn))

	latest, err := Latest()
	require.NoError(t, err)
	current, err := CurrentVersion(conn)
	require.NoError(t, err)
	assert.Equal(t, latest, current)

	var rows int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&rows))
	assert.Equal(t, latest, rows)

	require.NoError(t, Migrate(conn))
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&rows))
	assert.Equal(t, latest, rows, "second run must not append versions")

	for _, table := range []string{"state", "decision_logs", "processed_events", "strategy_actions", "action_executions", "adaptive_policy_state", "processed_decisions"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestApplySkipsOlderAndStopsOnFailure(t *testing.T) {
	conn := openDB(t)
	now := func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	first := []Migration{{Version: 1, Name: "001_a.sql", UpSQL: `CREATE TABLE a(id INTEGER);`}}
	require.NoError(t, apply(conn, first, now))

	next := []Migration{
		{Version: 1, Name: "001_a.sql", UpSQL: `CREATE TABLE a(id INTEGER);`},
		{Version: 2, Name: "002_b.sql", UpSQL: `CREATE TABLE b(id INTEGER);`},
		{Version: 3, Name: "003_bad.sql", UpSQL: `CREATE TABLE b(id INTEGER);`},
	}
	err := apply(conn, next, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "003_bad.sql")

	current, err := CurrentVersion(conn)
	require.NoError(t, err)
	assert.Equal(t, 2, current)

	var appliedAt string
	require.NoError(t, conn.QueryRow(`SELECT applied_at FROM schema_version WHERE version=2`).Scan(&appliedAt))
	assert.Equal(t, "2026-01-02T03:04:05Z", appliedAt)
}
