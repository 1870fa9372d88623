package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/jonathan/customer-etl/internal/load"
	"github.com/jonathan/customer-etl/internal/types"
)

// PhaseError attributes a stage failure to the phase that produced it.
type PhaseError struct {
	Phase types.Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// tagPhase wraps err in a PhaseError unless it already carries one.
func tagPhase(phase types.Phase, err error) error {
	if err == nil {
		return nil
	}
	var pe *PhaseError
	if errors.As(err, &pe) {
		return err
	}
	return &PhaseError{Phase: phase, Err: err}
}

// tagSeq attributes errors yielded by seq to phase. Stages are lazy, so an
// extract or transform error only surfaces while LOAD is pulling records.
func tagSeq[T any](phase types.Phase, seq iter.Seq2[T, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for v, err := range seq {
			if !yield(v, tagPhase(phase, err)) {
				return
			}
		}
	}
}

// runState carries stage outputs from one phase step to the next.
type runState struct {
	runID       string
	archivePath string
	lines       iter.Seq2[string, error]
	records     iter.Seq2[types.Customer, error]
	session     *load.Session
}

// commitEntry flushes records buffered by the loader before the extractor
// checkpoints the entry they came from.
func (st *runState) commitEntry(context.Context, string) error {
	if st.session == nil {
		return nil
	}
	return tagPhase(types.PhaseLoad, st.session.Flush())
}

// phaseStep is one entry of the ordered phase list. The orchestrator records
// Phase as the run's current phase before calling run.
type phaseStep struct {
	Phase types.Phase
	run   func(ctx context.Context, o *Orchestrator, st *runState) error
}

// phaseSteps lists the stages in execution order.
var phaseSteps = []phaseStep{
	{
		Phase: types.PhaseDownload,
		run: func(ctx context.Context, o *Orchestrator, st *runState) error {
			path, err := o.fetcher.Download(ctx, st.runID)
			if err != nil {
				return err
			}
			st.archivePath = path
			return nil
		},
	},
	{
		Phase: types.PhaseExtract,
		run: func(ctx context.Context, o *Orchestrator, st *runState) error {
			lines := o.extractor.ExtractCommitted(ctx, st.runID, st.archivePath, st.commitEntry)
			st.lines = tagSeq(types.PhaseExtract, lines)
			return nil
		},
	},
	{
		Phase: types.PhaseTransform,
		run: func(_ context.Context, o *Orchestrator, st *runState) error {
			st.records = tagSeq(types.PhaseTransform, o.transformer.Records(st.lines))
			return nil
		},
	},
	{
		Phase: types.PhaseLoad,
		run: func(ctx context.Context, o *Orchestrator, st *runState) error {
			session, err := o.loader.Begin(ctx, st.runID)
			if err != nil {
				return err
			}
			st.session = session
			for rec, err := range st.records {
				if err != nil {
					session.Abort()
					return err
				}
				if err := session.Add(rec); err != nil {
					session.Abort()
					return err
				}
			}
			return session.Close()
		},
	},
}
