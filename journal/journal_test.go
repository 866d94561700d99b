package journal_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/pumpprobe/journal"
	"github.com/nasa-jpl/pumpprobe/sweep"
)

func open(t *testing.T) *journal.DB {
	t.Helper()
	db, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	db := open(t)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.BeginRun("r1", "run", "/data", 3, start))
	for i, d := range []float64{0, 1} {
		pt := sweep.Point{Power: 5, DelayIndex: i, Delay: d}
		require.NoError(t, db.RecordPoint("r1", i+1, pt, 0.1*float64(i+1)))
	}

	runs, err := db.Runs(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Points)
	assert.True(t, runs[0].Finished.IsZero(), "run in progress has no finish time")

	require.NoError(t, db.FinishRun("r1", 2, true, errors.New("capture error"), start.Add(time.Minute)))
	runs, err = db.Runs(10)
	require.NoError(t, err)
	r := runs[0]
	assert.Equal(t, "r1", r.ID)
	assert.True(t, r.Started.Equal(start))
	assert.True(t, r.Finished.Equal(start.Add(time.Minute)))
	assert.True(t, r.Stopped)
	assert.Equal(t, "capture error", r.Error)
	assert.Equal(t, 3, r.Total)

	pts, err := db.Points("r1")
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, 2, pts[1].Step)
	assert.Equal(t, 1., pts[1].Delay)
	assert.InDelta(t, 0.2, pts[1].Signal, 1e-12)
}

func TestRunsNewestFirstWithLimit(t *testing.T) {
	db := open(t)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.BeginRun(id, id, "/data", 1, t0.Add(time.Duration(i)*time.Hour)))
	}
	runs, err := db.Runs(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}

func TestFinishUnknownRun(t *testing.T) {
	db := open(t)
	assert.Error(t, db.FinishRun("nope", 0, false, nil, time.Now()))
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	db, err := journal.Open(path)
	require.NoError(t, err)
	require.NoError(t, db.BeginRun("r1", "run", "/data", 1, time.Now()))
	require.NoError(t, db.Close())

	db, err = journal.Open(path)
	require.NoError(t, err)
	defer db.Close()
	runs, err := db.Runs(0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
