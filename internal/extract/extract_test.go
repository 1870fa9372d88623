package extract

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/customer-etl/internal/store"
	"github.com/jonathan/customer-etl/internal/types"
)

type entry struct {
	name    string
	content string
}

func writeZip(t *testing.T, entries ...entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.zip")
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(e.content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func collect(t *testing.T, ex *Extractor, runID, path string) ([]string, error) {
	t.Helper()
	var lines []string
	for line, err := range ex.Extract(context.Background(), runID, path) {
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func extractCursor(t *testing.T, cps store.CheckpointStore, runID string) (string, bool) {
	t.Helper()
	cursor, ok, err := cps.Get(context.Background(), runID, types.PhaseExtract)
	require.NoError(t, err)
	return cursor, ok
}

func TestExtract_AllEntriesInArchiveOrder(t *testing.T) {
	path := writeZip(t,
		entry{"part-001.jsonl", "a1\na2\n"},
		entry{"part-002.jsonl", "b1\r\n\nb2"},
	)
	mem := store.NewMemory()
	ex := New(mem, zerolog.Nop())

	lines, err := collect(t, ex, "run-1", path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2", "b1", "b2"}, lines)

	cursor, ok := extractCursor(t, mem, "run-1")
	assert.True(t, ok)
	assert.Equal(t, "part-002.jsonl", cursor)
}

func TestExtract_SkipsEntriesAtOrBelowCursor(t *testing.T) {
	path := writeZip(t,
		entry{"a.jsonl", "a\n"},
		entry{"b.jsonl", "b\n"},
		entry{"c.jsonl", "c\n"},
	)
	mem := store.NewMemory()
	require.NoError(t, mem.Set(context.Background(), "run-1", types.PhaseExtract, "b.jsonl"))

	lines, err := collect(t, New(mem, zerolog.Nop()), "run-1", path)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, lines)
}

func TestExtract_SkipsDirectories(t *testing.T) {
	path := writeZip(t,
		entry{"data/", ""},
		entry{"data/part-1.jsonl", "x\n"},
	)
	mem := store.NewMemory()

	lines, err := collect(t, New(mem, zerolog.Nop()), "run-1", path)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, lines)

	cursor, _ := extractCursor(t, mem, "run-1")
	assert.Equal(t, "data/part-1.jsonl", cursor)
}

func TestExtract_EarlyStopDoesNotCheckpointEntry(t *testing.T) {
	path := writeZip(t,
		entry{"a.jsonl", "a1\na2\n"},
		entry{"b.jsonl", "b1\n"},
	)
	mem := store.NewMemory()
	ex := New(mem, zerolog.Nop())

	for line, err := range ex.Extract(context.Background(), "run-1", path) {
		require.NoError(t, err)
		assert.Equal(t, "a1", line)
		break
	}

	_, ok := extractCursor(t, mem, "run-1")
	assert.False(t, ok)

	// A later run re-emits the whole interrupted entry.
	lines, err := collect(t, ex, "run-1", path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2", "b1"}, lines)
}

func TestExtract_InvalidUTF8IsDecodeError(t *testing.T) {
	path := writeZip(t,
		entry{"a.jsonl", "ok\n"},
		entry{"b.jsonl", "fine\n\xff\xfe\n"},
	)
	mem := store.NewMemory()

	lines, err := collect(t, New(mem, zerolog.Nop()), "run-1", path)
	require.Error(t, err)
	assert.Equal(t, []string{"ok", "fine"}, lines)

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, "b.jsonl", decodeErr.Entry)
	assert.Equal(t, 2, decodeErr.Line)

	// Only the fully consumed entry is checkpointed.
	cursor, _ := extractCursor(t, mem, "run-1")
	assert.Equal(t, "a.jsonl", cursor)
}

func TestExtract_MissingArchive(t *testing.T) {
	_, err := collect(t, New(store.NewMemory(), zerolog.Nop()), "run-1", filepath.Join(t.TempDir(), "missing.zip"))
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
	assert.Contains(t, err.Error(), "failed to open archive")
}

func TestExtract_NotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.zip")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a zip"), 0o644))

	_, err := collect(t, New(store.NewMemory(), zerolog.Nop()), "run-1", path)
	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestDecodeError_Message(t *testing.T) {
	err := &DecodeError{Archive: "x.zip", Entry: "a.jsonl", Line: 3, Message: "invalid UTF-8"}
	assert.Equal(t, "decode error in x.zip:a.jsonl line 3: invalid UTF-8", err.Error())
}

func TestExtractCommitted_BarrierRunsBeforeCheckpoint(t *testing.T) {
	path := writeZip(t,
		entry{"a.jsonl", "a1\n"},
		entry{"b.jsonl", "b1\n"},
	)
	mem := store.NewMemory()
	ex := New(mem, zerolog.Nop())

	var seen []string
	barrier := func(ctx context.Context, name string) error {
		// The entry being closed must not be checkpointed yet.
		cursor, _, err := mem.Get(ctx, "run-1", types.PhaseExtract)
		require.NoError(t, err)
		assert.Less(t, cursor, name)
		seen = append(seen, name)
		return nil
	}

	for _, err := range ex.ExtractCommitted(context.Background(), "run-1", path, barrier) {
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a.jsonl", "b.jsonl"}, seen)
}

func TestExtractCommitted_BarrierErrorStopsWithoutCheckpoint(t *testing.T) {
	path := writeZip(t,
		entry{"a.jsonl", "a1\n"},
		entry{"b.jsonl", "b1\n"},
	)
	mem := store.NewMemory()
	boom := errors.New("flush failed")

	var gotErr error
	for _, err := range New(mem, zerolog.Nop()).ExtractCommitted(context.Background(), "run-1", path,
		func(context.Context, string) error { return boom }) {
		if err != nil {
			gotErr = err
		}
	}

	assert.ErrorIs(t, gotErr, boom)
	_, ok := extractCursor(t, mem, "run-1")
	assert.False(t, ok)
}
