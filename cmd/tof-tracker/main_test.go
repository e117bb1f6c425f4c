package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/tof/l5tracks"
	"github.com/banshee-data/presence.report/internal/tof/storage/sqlite"
)

func TestRunRequiresFrames(t *testing.T) {
	err := run(context.Background(), options{})
	assert.Error(t, err)
}

func TestRunBadConfigPath(t *testing.T) {
	err := run(context.Background(), options{
		framesDir:  t.TempDir(),
		configPath: filepath.Join(t.TempDir(), "missing.json"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

// A database that cannot be opened is reported as an error rather than
// exiting, so the CSV log opened before it is still closed with its header.
func TestRunDatabaseFailureReturnsError(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "records.csv")

	err := run(context.Background(), options{
		framesDir: dir,
		csvPath:   csvPath,
		dbPath:    filepath.Join(dir, "missing", "records.db"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open record database")

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(l5tracks.CSVHeader(), ",")+"\n", string(data))
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	dir := t.TempDir()
	frames := filepath.Join(dir, "frames")
	require.NoError(t, os.Mkdir(frames, 0755))
	dbPath := filepath.Join(dir, "records.db")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := run(ctx, options{
		framesDir: frames,
		csvPath:   filepath.Join(dir, "records.csv"),
		dbPath:    dbPath,
		runID:     "cmd-test",
	})
	require.NoError(t, err)

	store, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	info, err := store.Run(context.Background(), "cmd-test")
	require.NoError(t, err)
	assert.Equal(t, frames, info.SourceDir)
	assert.NotNil(t, info.EndedAt, "run should be closed on shutdown")

	n, err := store.CountRecords(context.Background(), "cmd-test")
	require.NoError(t, err)
	assert.Zero(t, n)
}
