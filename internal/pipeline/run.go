// Package pipeline drives one ETL run through its phases and records the run's
// lifecycle in the run store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonathan/customer-etl/internal/extract"
	"github.com/jonathan/customer-etl/internal/load"
	"github.com/jonathan/customer-etl/internal/metrics"
	"github.com/jonathan/customer-etl/internal/store"
	"github.com/jonathan/customer-etl/internal/transform"
	"github.com/jonathan/customer-etl/internal/types"
)

// ErrRunFailed is returned when a run that already ended in FAILED is invoked
// again. A failed run is never restarted under the same run_id.
var ErrRunFailed = errors.New("run previously failed")

// Downloader stages the archive of a run and returns its local path.
type Downloader interface {
	Download(ctx context.Context, runID string) (string, error)
}

// Deps holds the collaborators of an Orchestrator.
type Deps struct {
	Runs        store.RunStore
	Fetcher     Downloader
	Extractor   *extract.Extractor
	Transformer *transform.Transformer
	Loader      *load.Loader
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// Orchestrator runs the DOWNLOAD, EXTRACT, TRANSFORM and LOAD phases of a run
// in order. One Orchestrator may serve several distinct run ids concurrently;
// callers must not run the same run id twice at once.
type Orchestrator struct {
	runs        store.RunStore
	fetcher     Downloader
	extractor   *extract.Extractor
	transformer *transform.Transformer
	loader      *load.Loader
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// New creates an Orchestrator.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		runs:        deps.Runs,
		fetcher:     deps.Fetcher,
		extractor:   deps.Extractor,
		transformer: deps.Transformer,
		loader:      deps.Loader,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
	}
}

// Run executes runID to completion, resuming from its checkpoints.
//
// A failing phase marks the run FAILED with the phase that produced the error
// as its current phase, and the error is returned. Run store errors while
// starting the run, or while recording a failure, are logged rather than
// returned. Invoking a COMPLETED run is a no-op; invoking a FAILED run returns
// ErrRunFailed.
func (o *Orchestrator) Run(ctx context.Context, runID string) error {
	logger := o.logger.With().Str("run_id", runID).Logger()

	if err := o.runs.Start(ctx, runID); err != nil {
		logger.Error().Err(err).Msg("Failed to start run, skipping")
		return nil
	}
	run, err := o.runs.GetRun(ctx, runID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read run state, skipping")
		return nil
	}
	if run == nil {
		logger.Error().Msg("Run missing after start, skipping")
		return nil
	}

	if run.Status.Terminal() {
		if run.Status == types.RunStatusCompleted {
			logger.Info().Msg("Run already completed")
			return nil
		}
		msg := ""
		if run.ErrorMessage != nil {
			msg = *run.ErrorMessage
		}
		return fmt.Errorf("%w: %s", ErrRunFailed, msg)
	}

	if run.CurrentPhase != types.PhaseInit {
		logger.Info().Str("phase", string(run.CurrentPhase)).Msg("Resuming run")
	}

	st := &runState{runID: runID}
	recorded := run.CurrentPhase
	for _, step := range phaseSteps {
		if err := o.runs.SetPhase(ctx, runID, step.Phase); err != nil {
			return o.fail(ctx, logger, runID, recorded, &PhaseError{Phase: step.Phase, Err: err})
		}
		recorded = step.Phase
		logger.Info().Str("phase", string(step.Phase)).Msg("Phase started")

		start := time.Now()
		err := step.run(ctx, o, st)
		o.metrics.ObservePhase(string(step.Phase), time.Since(start))
		if err != nil {
			return o.fail(ctx, logger, runID, recorded, tagPhase(step.Phase, err))
		}
	}

	if err := o.runs.Complete(ctx, runID); err != nil {
		return o.fail(ctx, logger, runID, recorded, tagPhase(recorded, err))
	}
	o.metrics.ObserveRun(string(types.RunStatusCompleted))
	logger.Info().Msg("Run completed")
	return nil
}

// fail records err against the run and returns it. recorded is the phase last
// written to the run store; when the error originates in an earlier lazy
// stage, that stage is written back first. That write-back is the only place
// current_phase moves backward, and it happens only on the way to FAILED.
func (o *Orchestrator) fail(ctx context.Context, logger zerolog.Logger, runID string, recorded types.Phase, err error) error {
	// Record the failure even when ctx is what failed the run.
	ctx = context.WithoutCancel(ctx)

	phase := recorded
	message := err.Error()
	var pe *PhaseError
	if errors.As(err, &pe) {
		phase = pe.Phase
		message = pe.Err.Error()
	}
	if phase != recorded {
		if serr := o.runs.SetPhase(ctx, runID, phase); serr != nil {
			logger.Warn().Err(serr).Str("phase", string(phase)).Msg("Failed to record failing phase")
		}
	}
	if ferr := o.runs.Fail(ctx, runID, message); ferr != nil {
		logger.Error().Err(ferr).Msg("Failed to record run failure")
	} else {
		o.metrics.ObserveRun(string(types.RunStatusFailed))
	}

	logger.Error().Err(err).Str("phase", string(phase)).Msg("Run failed")
	return err
}
