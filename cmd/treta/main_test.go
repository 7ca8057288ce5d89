package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treta/internal/app"
)

func TestMain(m *testing.M) {
	addPersistentFlags()
	registerCommands()
	os.Exit(m.Run())
}

func run(t *testing.T, args ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	prev := out
	out = &buf
	defer func() { out = prev }()
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return buf.Bytes()
}

func TestMigrateReportsVersion(t *testing.T) {
	dir := t.TempDir()
	var got map[string]int
	require.NoError(t, json.Unmarshal(run(t, "--data-dir", dir, "--json", "migrate"), &got))
	assert.Positive(t, got["latest"])
	assert.Equal(t, got["latest"], got["version"])
}

func TestActionsListReadsLocalStore(t *testing.T) {
	dir := t.TempDir()
	legacy := `[{"id":"A-7","type":"review","target_id":"launch-b","reasoning":"No sales after launch.","status":"pending_confirmation","created_at":"2026-04-30T10:00:00Z"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, app.LegacyActionsFile), []byte(legacy), 0o644))

	var items []map[string]any
	require.NoError(t, json.Unmarshal(run(t, "--data-dir", dir, "--json", "actions", "list"), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "A-7", items[0]["id"])

	var status map[string]any
	require.NoError(t, json.Unmarshal(run(t, "--data-dir", dir, "--json", "status"), &status))
	assert.EqualValues(t, 1, status["pending_actions"])
	assert.Equal(t, "IDLE", status["state"])
}

func TestAPIBase(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8080", apiBase(":8080"))
	assert.Equal(t, "http://127.0.0.1:9000", apiBase("0.0.0.0:9000"))
	assert.Equal(t, "http://localhost:7000", apiBase("localhost:7000"))
	assert.Equal(t, "https://treta.example", apiBase("https://treta.example/"))
}
