package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/customer-etl/internal/types"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "warn", false)
	require.NoError(t, err)

	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	l, err = newLogger(&buf, "error", true)
	require.NoError(t, err)
	l.Debug().Msg("verbose wins")
	assert.Contains(t, buf.String(), "verbose wins")

	_, err = newLogger(&buf, "loud", false)
	assert.Error(t, err)
}

func TestRunIDsFromArgs(t *testing.T) {
	ids, err := runIDsFromArgs(nil)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	_, err = uuid.Parse(ids[0])
	assert.NoError(t, err)

	ids, err = runIDsFromArgs([]string{"2024-05-01", "2024-05-02"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-01", "2024-05-02"}, ids)

	_, err = runIDsFromArgs([]string{"a", "b", "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"a" given more than once`)

	_, err = runIDsFromArgs([]string{""})
	assert.Error(t, err)

	for _, id := range []string{"../../x", "a/b", `a\b`, ".."} {
		_, err = runIDsFromArgs([]string{"ok", id})
		assert.Error(t, err, "run id %q", id)
	}
}

func TestRunCommandHelp_FailedRunNeedsNewID(t *testing.T) {
	assert.Contains(t, runCommand.Long, "A run id that failed is not retried")
	assert.Contains(t, runCommand.Long, "start a new run id")
}

type fakeRunner struct {
	mu       sync.Mutex
	seen     []string
	inFlight atomic.Int32
	peak     atomic.Int32
	fail     map[string]error
}

func (f *fakeRunner) Run(_ context.Context, runID string) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.seen = append(f.seen, runID)
	f.mu.Unlock()
	return f.fail[runID]
}

func TestExecuteRuns_IndependentAndLimited(t *testing.T) {
	boom := errors.New("boom")
	r := &fakeRunner{fail: map[string]error{"b": boom}}

	errs := executeRuns(context.Background(), r, []string{"a", "b", "c", "d"}, 2)

	require.Len(t, errs, 4)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], boom)
	assert.Contains(t, errs[1].Error(), "run b")
	assert.NoError(t, errs[2])
	assert.NoError(t, errs[3])

	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, r.seen)
	assert.LessOrEqual(t, r.peak.Load(), int32(2))
}

func TestDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://fallback")
	t.Setenv("ETL_DATABASE_URL", "")

	url, err := databaseURL("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://fallback", url)

	t.Setenv("ETL_DATABASE_URL", "postgres://etl")
	url, err = databaseURL("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://etl", url)

	url, err = databaseURL("postgres://flag")
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag", url)

	t.Setenv("DATABASE_URL", "")
	t.Setenv("ETL_DATABASE_URL", "")
	_, err = databaseURL("")
	assert.Error(t, err)
}

func TestResolveConfig_Precedence(t *testing.T) {
	for _, name := range []string{
		"DATABASE_URL", "ETL_DATABASE_URL", "ETL_SOURCE_URL", "ETL_STAGING_DIR",
		"ETL_CHUNK_SIZE", "ETL_REQUEST_TIMEOUT", "ETL_METRICS_ADDR",
	} {
		t.Setenv(name, "")
	}

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"database_url": "postgres://file",
		"source_url": "https://example.com/file.zip",
		"chunk_size": 10
	}`), 0644))

	t.Setenv("ETL_SOURCE_URL", "https://example.com/env.zip")
	t.Setenv("ETL_CHUNK_SIZE", "20")

	runConfigPath = path
	t.Cleanup(func() { runConfigPath = "" })
	require.NoError(t, runCommand.Flags().Set("chunk-size", "30"))

	cfg, err := resolveConfig(runCommand)
	require.NoError(t, err)

	assert.Equal(t, "postgres://file", cfg.DatabaseURL)
	assert.Equal(t, "https://example.com/env.zip", cfg.SourceURL)
	assert.Equal(t, 30, cfg.ChunkSize)
	assert.Equal(t, "/tmp/etl", cfg.StagingDir)
	assert.Equal(t, 60*time.Second, cfg.Timeout())
}

func TestPrintStatus(t *testing.T) {
	msg := "parse error on stream line 2: invalid record"
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	run := &types.Run{
		RunID:        "run-1",
		Status:       types.RunStatusFailed,
		CurrentPhase: types.PhaseTransform,
		ErrorMessage: &msg,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	checkpoints := []types.Checkpoint{
		{RunID: "run-1", Phase: types.PhaseExtract, Cursor: "part-001.jsonl", UpdatedAt: ts},
		{RunID: "run-1", Phase: types.PhaseLoad, Cursor: "c-0042", UpdatedAt: ts},
	}

	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, runStatusReport{Run: run, Checkpoints: checkpoints, Customers: 1042}))

	out := buf.String()
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "TRANSFORM")
	assert.Contains(t, out, msg)
	assert.Contains(t, out, "part-001.jsonl")
	assert.Contains(t, out, "c-0042")
	assert.Regexp(t, `Customers:\s+1042`, out)
}
