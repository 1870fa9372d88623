// Package load batches canonical records into idempotent upserts and
// advances the LOAD checkpoint after each committed batch.
package load

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonathan/customer-etl/internal/metrics"
	"github.com/jonathan/customer-etl/internal/store"
	"github.com/jonathan/customer-etl/internal/types"
)

// DefaultChunkSize is used when Options.ChunkSize is not positive.
const DefaultChunkSize = 1000

// Options configures a Loader.
type Options struct {
	ChunkSize int
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

// Loader writes records to a CustomerSink in chunks.
//
// Records must arrive in non-decreasing external_id order. Resume skips every
// record whose external_id is <= the LOAD cursor, so out-of-order input loses
// records on resume. The order is not checked.
type Loader struct {
	sink        store.CustomerSink
	checkpoints store.CheckpointStore
	chunkSize   int
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// New creates a Loader.
func New(sink store.CustomerSink, checkpoints store.CheckpointStore, opts Options) *Loader {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Loader{
		sink:        sink,
		checkpoints: checkpoints,
		chunkSize:   chunkSize,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
}

// Load consumes records until the sequence ends or yields an error. Each full
// chunk, and the trailing partial chunk, is upserted and committed before the
// LOAD cursor moves to its last external_id.
func (l *Loader) Load(ctx context.Context, runID string, records iter.Seq2[types.Customer, error]) error {
	s, err := l.Begin(ctx, runID)
	if err != nil {
		return err
	}
	for rec, err := range records {
		if err != nil {
			s.Abort()
			return err
		}
		if err := s.Add(rec); err != nil {
			s.Abort()
			return err
		}
	}
	return s.Close()
}

// Session is the buffered state of one Load. It is not safe for concurrent use.
type Session struct {
	l         *Loader
	ctx       context.Context
	runID     string
	cursor    string
	hasCursor bool
	buffer    []types.Customer
	skipped   int
	loaded    int
}

// Begin reads the LOAD cursor of runID and returns an empty session.
func (l *Loader) Begin(ctx context.Context, runID string) (*Session, error) {
	cursor, ok, err := l.checkpoints.Get(ctx, runID, types.PhaseLoad)
	if err != nil {
		return nil, err
	}
	return &Session{
		l:         l,
		ctx:       ctx,
		runID:     runID,
		cursor:    cursor,
		hasCursor: ok,
		buffer:    make([]types.Customer, 0, l.chunkSize),
	}, nil
}

// Add buffers rec, flushing when the buffer reaches the chunk size. Records at
// or below the resume cursor are dropped.
func (s *Session) Add(rec types.Customer) error {
	if s.hasCursor && rec.ExternalID <= s.cursor {
		s.skipped++
		return nil
	}
	s.buffer = append(s.buffer, rec)
	if len(s.buffer) >= s.l.chunkSize {
		return s.Flush()
	}
	return nil
}

// Flush commits the buffered records, if any, and advances the cursor.
func (s *Session) Flush() error {
	if len(s.buffer) == 0 {
		return nil
	}
	if err := s.l.flush(s.ctx, s.runID, s.buffer); err != nil {
		return err
	}
	s.loaded += len(s.buffer)
	s.buffer = s.buffer[:0]
	return nil
}

// Close flushes the trailing partial chunk.
func (s *Session) Close() error {
	if err := s.Flush(); err != nil {
		s.Abort()
		return err
	}
	s.l.metrics.ObserveSkip(s.skipped)
	s.l.logger.Info().
		Str("run_id", s.runID).
		Int("loaded", s.loaded).
		Int("skipped", s.skipped).
		Msg("Load finished")
	return nil
}

// Abort drops the buffered records without committing them.
func (s *Session) Abort() {
	s.l.metrics.ObserveSkip(s.skipped)
	s.skipped = 0
	if n := len(s.buffer); n > 0 {
		s.l.logger.Debug().Str("run_id", s.runID).Int("dropped", n).Msg("Discarding uncommitted records")
	}
	s.buffer = s.buffer[:0]
}

// flush commits batch and only then records its last key as the cursor.
func (l *Loader) flush(ctx context.Context, runID string, batch []types.Customer) error {
	start := time.Now()
	if err := l.sink.UpsertCustomers(ctx, batch); err != nil {
		return fmt.Errorf("failed to flush batch of %d: %w", len(batch), err)
	}
	elapsed := time.Since(start)

	last := batch[len(batch)-1].ExternalID
	if err := l.checkpoints.Set(ctx, runID, types.PhaseLoad, last); err != nil {
		return err
	}

	l.metrics.ObserveFlush(len(batch), elapsed)
	l.logger.Debug().
		Str("run_id", runID).
		Int("size", len(batch)).
		Str("cursor", last).
		Dur("duration", elapsed).
		Msg("Batch committed")
	return nil
}
