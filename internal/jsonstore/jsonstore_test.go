package jsonstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type item struct {
	ID    string   `json:"id"`
	Tags  []string `json:"tags"`
	Price float64  `json:"price"`
}

func TestWriteAtomicFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "items.json")
	require.NoError(t, WriteAtomic(path, []item{{ID: "a", Tags: []string{"x"}, Price: 9.5}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "]\n"))
	assert.Contains(t, string(data), "\n  {\n    \"id\": \"a\"")
	assert.NoFileExists(t, path+".tmp")
}

func TestListSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.json")
	l, err := OpenList[item](path, 0, zap.NewNop())
	require.NoError(t, err)
	l.Append(item{ID: "a", Tags: []string{"one"}, Price: 1})
	l.Append(item{ID: "b", Price: 2.25})
	require.NoError(t, l.Save())

	reloaded, err := OpenList[item](path, 0, zap.NewNop())
	require.NoError(t, err)
	if diff := cmp.Diff(l.Items(), reloaded.Items()); diff != "" {
		t.Fatalf("reloaded items differ (-want +got):\n%s", diff)
	}
}

func TestListCapacityEvictsOldest(t *testing.T) {
	l, err := OpenList[item](filepath.Join(t.TempDir(), "items.json"), 2, nil)
	require.NoError(t, err)
	l.Append(item{ID: "a"})
	l.Append(item{ID: "b"})
	l.Append(item{ID: "c"})
	ids := []string{}
	for _, it := range l.Items() {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"b", "c"}, ids)
}

func TestListUpdateDeleteFind(t *testing.T) {
	l, err := OpenList[item](filepath.Join(t.TempDir(), "items.json"), 0, nil)
	require.NoError(t, err)
	l.Replace([]item{{ID: "a"}, {ID: "b"}})

	found, err := l.Update(func(it item) bool { return it.ID == "b" }, func(it *item) error {
		it.Price = 7
		return nil
	})
	require.NoError(t, err)
	assert.True(t, found)
	got, ok := l.Find(func(it item) bool { return it.ID == "b" })
	require.True(t, ok)
	assert.Equal(t, 7.0, got.Price)

	assert.Equal(t, 1, l.Delete(func(it item) bool { return it.ID == "a" }))
	assert.Equal(t, 1, l.Len())
}

func TestCrashBeforeRenameKeepsCommittedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.json")
	require.NoError(t, WriteAtomic(path, []item{{ID: "committed"}}))
	require.NoError(t, os.WriteFile(path+".tmp", []byte(`[{"id": "half`), 0o644))

	l, err := OpenList[item](path, 0, nil)
	require.NoError(t, err)
	require.Len(t, l.Items(), 1)
	assert.Equal(t, "committed", l.Items()[0].ID)
}

func TestCorruptFileIsQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "items.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	core, logs := observer.New(zapcore.WarnLevel)
	l, err := OpenList[item](path, 0, zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, 0, l.Len())
	assert.NoFileExists(t, path)
	assert.Equal(t, 1, logs.Len())

	matches, err := filepath.Glob(filepath.Join(dir, "items.json.*.corrupt"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	// The quarantine is not retried on the next load.
	require.NoError(t, l.Load())
	matches, _ = filepath.Glob(filepath.Join(dir, "*.corrupt"))
	assert.Len(t, matches, 1)
}

func TestQuarantineFallsBackWhenNameTaken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	now := time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)
	require.NoError(t, os.WriteFile(path+".20260301120000123456.corrupt", []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("bad"), 0o644))

	dest, err := Quarantine(path, now)
	require.NoError(t, err)
	assert.Equal(t, path+".corrupt", dest)
}
