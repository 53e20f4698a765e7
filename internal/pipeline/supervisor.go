package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"voiceproc/internal/domain"
)

type Hooks struct {
	// Started runs for every new Process before it starts.
	Started func(p *Process)
	// Reinitialized runs after a fatal event, before the replacement is built.
	Reinitialized func(cause error)
}

// Supervise runs processes back to back, building a fresh one after each
// fatal invalidation, up to maxReinitializations times. Each replacement
// starts in the voice-processing mode its predecessor ended in. It returns nil
// when ctx is cancelled.
func Supervise(ctx context.Context, opts Options, maxReinitializations int, hooks Hooks, logger *slog.Logger) error {
	for attempt := 0; ; attempt++ {
		proc, err := New(opts, logger)
		if err != nil {
			return fmt.Errorf("building pipeline: %w", err)
		}
		if hooks.Started != nil {
			hooks.Started(proc)
		}

		err = proc.Run(ctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled), ctx.Err() != nil:
			return nil
		case !domain.IsFatal(err):
			return err
		case attempt >= maxReinitializations:
			return fmt.Errorf("giving up after %d reinitializations: %w", attempt, err)
		}

		// The replacement keeps the mode last committed at runtime.
		opts.VoiceProcessing = proc.Coordinator().VoiceProcessingEnabled()

		logger.Warn("rebuilding pipeline",
			"cause", err,
			"attempt", attempt+1,
			"voice_processing", opts.VoiceProcessing,
		)
		if hooks.Reinitialized != nil {
			hooks.Reinitialized(err)
		}
	}
}
