package application

import (
	"context"

	"voiceproc/internal/domain"
)

type SessionController interface {
	Activate(cfg domain.SessionConfiguration) error
	Deactivate() error
	Active() bool
}

type PipelineGraph interface {
	ID() string
	Build(voiceProcessingEnabled bool) error
	Start() error
	Stop()
	SetVoiceProcessingEnabled(enabled bool) error
	Rendering() bool
}

type PlaybackSource interface {
	ScheduleLoop(asset *domain.AudioAsset, completion func()) error
	Play() error
	Stop()
	Playing() bool
}

// RetryFunc runs fn until it succeeds or the policy gives up.
type RetryFunc func(ctx context.Context, fn func() error) error

func runOnce(_ context.Context, fn func() error) error {
	return fn()
}

// Notifier delivers operator alerts about stalls and fatal invalidations.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, string) error { return nil }
