// Package extract streams decoded text lines out of a staged zip archive,
// resuming after the last fully consumed entry of a run.
package extract

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"iter"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/jonathan/customer-etl/internal/store"
	"github.com/jonathan/customer-etl/internal/types"
)

// MaxLineBytes bounds a single line of an archive entry.
const MaxLineBytes = 4 * 1024 * 1024

// Extractor reads archive entries and advances the EXTRACT checkpoint after
// each entry has been fully consumed.
type Extractor struct {
	checkpoints store.CheckpointStore
	logger      zerolog.Logger
}

// New creates an Extractor.
func New(checkpoints store.CheckpointStore, logger zerolog.Logger) *Extractor {
	return &Extractor{checkpoints: checkpoints, logger: logger}
}

// Extract returns the lines of every entry whose name sorts after the run's
// EXTRACT cursor, in the archive's own entry order. The sequence is single
// use. It stops at the first error, which is yielded as the final element.
//
// The cursor is advanced only once the consumer has pulled every line of an
// entry, so a consumer that stops early leaves that entry to be re-emitted on
// the next run.
func (e *Extractor) Extract(ctx context.Context, runID, archivePath string) iter.Seq2[string, error] {
	return e.ExtractCommitted(ctx, runID, archivePath, nil)
}

// EntryBarrier is called after an entry's last line has been consumed and
// before the EXTRACT cursor moves past it. A consumer that buffers lines uses
// it to commit them first.
type EntryBarrier func(ctx context.Context, entry string) error

// ExtractCommitted is Extract with a barrier run at every entry boundary. A
// barrier error is yielded and ends the sequence without checkpointing.
func (e *Extractor) ExtractCommitted(ctx context.Context, runID, archivePath string, barrier EntryBarrier) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		cursor, _, err := e.checkpoints.Get(ctx, runID, types.PhaseExtract)
		if err != nil {
			yield("", err)
			return
		}

		zr, err := zip.OpenReader(archivePath)
		if err != nil {
			yield("", &DecodeError{Archive: archivePath, Message: "failed to open archive", Cause: err})
			return
		}
		defer func() {
			_ = zr.Close()
		}()

		for _, f := range zr.File {
			if f.FileInfo().IsDir() {
				continue
			}
			if cursor != "" && f.Name <= cursor {
				e.logger.Debug().Str("run_id", runID).Str("entry", f.Name).Msg("Skipping already extracted entry")
				continue
			}
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}

			lines, ok := e.emitEntry(archivePath, f, yield)
			if !ok {
				return
			}

			if barrier != nil {
				if err := barrier(ctx, f.Name); err != nil {
					yield("", err)
					return
				}
			}
			if err := e.checkpoints.Set(ctx, runID, types.PhaseExtract, f.Name); err != nil {
				yield("", err)
				return
			}
			e.logger.Info().Str("run_id", runID).Str("entry", f.Name).Int("lines", lines).Msg("Entry extracted")
		}
	}
}

// emitEntry yields every non-blank line of f. ok is false when iteration must
// stop, either because the consumer stopped or because an error was yielded.
func (e *Extractor) emitEntry(archivePath string, f *zip.File, yield func(string, error) bool) (lines int, ok bool) {
	rc, err := f.Open()
	if err != nil {
		yield("", &DecodeError{Archive: archivePath, Entry: f.Name, Message: "failed to open entry", Cause: err})
		return 0, false
	}
	defer func() {
		_ = rc.Close()
	}()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), MaxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if !utf8.Valid(raw) {
			yield("", &DecodeError{Archive: archivePath, Entry: f.Name, Line: lineNo, Message: "invalid UTF-8"})
			return lines, false
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		lines++
		if !yield(string(raw), nil) {
			return lines, false
		}
	}
	if err := scanner.Err(); err != nil {
		yield("", &DecodeError{Archive: archivePath, Entry: f.Name, Line: lineNo + 1, Message: "failed to read entry", Cause: err})
		return lines, false
	}
	return lines, true
}
