package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"voiceproc/internal/domain"
)

var (
	ErrEventQueueFull     = errors.New("event queue full")
	ErrCoordinatorStopped = errors.New("coordinator stopped")
)

const (
	DefaultQueueSize = 64
	notifyTimeout    = 10 * time.Second
)

type CoordinatorConfig struct {
	Session         domain.SessionConfiguration
	VoiceProcessing bool
	QueueSize       int
	// Retry wraps session activation. Nil means a single attempt.
	Retry RetryFunc
}

// Status is a point-in-time snapshot for diagnostics.
type Status struct {
	State                domain.State `json:"state"`
	VoiceProcessing      bool         `json:"voice_processing"`
	ConfigurationChanges int64        `json:"configuration_changes"`
	SessionActive        bool         `json:"session_active"`
	Rendering            bool         `json:"rendering"`
	Playing              bool         `json:"playing"`
	GraphID              string       `json:"graph_id"`
	LastError            string       `json:"last_error,omitempty"`
}

// command is a user request serialized through the event queue.
type command struct {
	name string
	run  func(ctx context.Context) error
	done chan error
}

func (c *command) Name() string { return c.name }

// Coordinator is the only writer of session, graph and playback state. Every
// event and command is handled on the goroutine running Run, in arrival
// order, and each transition finishes before the next one starts.
type Coordinator struct {
	session  SessionController
	graph    PipelineGraph
	player   PlaybackSource
	asset    *domain.AudioAsset
	notifier Notifier
	metrics  Metrics
	logger   *slog.Logger

	sessionCfg domain.SessionConfiguration
	retry      RetryFunc

	events   chan domain.Event
	stopped  chan struct{}
	stopOnce sync.Once

	mu              sync.RWMutex
	state           domain.State
	voiceProcessing bool
	lastErr         string

	configChanges atomic.Int64
}

func NewCoordinator(
	session SessionController,
	graph PipelineGraph,
	player PlaybackSource,
	asset *domain.AudioAsset,
	notifier Notifier,
	metrics Metrics,
	logger *slog.Logger,
	cfg CoordinatorConfig,
) *Coordinator {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Retry == nil {
		cfg.Retry = runOnce
	}

	return &Coordinator{
		session:         session,
		graph:           graph,
		player:          player,
		asset:           asset,
		notifier:        notifier,
		metrics:         metrics,
		logger:          logger.With("component", "coordinator"),
		sessionCfg:      cfg.Session,
		retry:           cfg.Retry,
		events:          make(chan domain.Event, cfg.QueueSize),
		stopped:         make(chan struct{}),
		state:           domain.StateIdle,
		voiceProcessing: cfg.VoiceProcessing,
	}
}

// Run executes the startup sequence and then handles events until ctx is
// cancelled or a fatal event arrives. A fatal event is returned as a
// *domain.FatalError. Run must be called at most once.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.stopOnce.Do(func() { close(c.stopped) })

	c.startup(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			if err := c.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// Dispatch queues an event without blocking the caller.
func (c *Coordinator) Dispatch(ev domain.Event) error {
	if ev == nil {
		return fmt.Errorf("dispatching nil event")
	}

	select {
	case <-c.stopped:
		return ErrCoordinatorStopped
	default:
	}

	select {
	case c.events <- ev:
		return nil
	default:
		c.logger.Warn("dropping event, queue full", "event", ev.Name())
		return ErrEventQueueFull
	}
}

func (c *Coordinator) EnableVoiceProcessing(ctx context.Context) error {
	return c.submit(ctx, "enable_voice_processing", func(ctx context.Context) error {
		return c.switchVoiceProcessing(ctx, true)
	})
}

func (c *Coordinator) DisableVoiceProcessing(ctx context.Context) error {
	return c.submit(ctx, "disable_voice_processing", func(ctx context.Context) error {
		return c.switchVoiceProcessing(ctx, false)
	})
}

// Flush returns once every event queued before it has been handled.
func (c *Coordinator) Flush(ctx context.Context) error {
	return c.submit(ctx, "flush", nil)
}

func (c *Coordinator) State() domain.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) VoiceProcessingEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voiceProcessing
}

// ConfigurationChangeCount is the number of accepted configuration changes.
func (c *Coordinator) ConfigurationChangeCount() int64 {
	return c.configChanges.Load()
}

func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Status{
		State:                c.state,
		VoiceProcessing:      c.voiceProcessing,
		ConfigurationChanges: c.configChanges.Load(),
		SessionActive:        c.session.Active(),
		Rendering:            c.graph.Rendering(),
		Playing:              c.player.Playing(),
		GraphID:              c.graph.ID(),
		LastError:            c.lastErr,
	}
}

func (c *Coordinator) submit(ctx context.Context, name string, run func(ctx context.Context) error) error {
	cmd := &command{name: name, run: run, done: make(chan error, 1)}

	select {
	case c.events <- cmd:
	case <-c.stopped:
		return ErrCoordinatorStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.done:
		return err
	case <-c.stopped:
		select {
		case err := <-cmd.done:
			return err
		default:
			return ErrCoordinatorStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) startup(ctx context.Context) {
	vp := c.VoiceProcessingEnabled()
	c.logger.Info("starting pipeline",
		"graph_id", c.graph.ID(),
		"voice_processing", vp,
		"category", c.sessionCfg.Category,
	)
	c.metrics.VoiceProcessing(vp)

	if vp {
		if err := c.graph.SetVoiceProcessingEnabled(true); err != nil {
			c.stall("voice_processing", err)
			return
		}
	}

	_ = c.bringUp(ctx, "startup complete", true)
}

func (c *Coordinator) handle(ctx context.Context, ev domain.Event) error {
	switch ev := ev.(type) {
	case domain.Interruption:
		return c.handleInterruption(ctx, ev)
	case domain.ConfigurationChanged:
		c.handleConfigurationChange(ctx, ev)
	case domain.RouteChanged:
		c.metrics.RouteChanged(ev.Reason)
		c.logger.Info("route changed",
			"reason", ev.Reason.String(),
			"description", ev.Description,
			"state", c.State().String(),
		)
	case domain.MediaServicesReset:
		return c.fail(ev, "media services were reset")
	case *command:
		var err error
		if ev.run != nil {
			err = ev.run(ctx)
		}
		ev.done <- err
	default:
		return c.fail(ev, fmt.Sprintf("unhandled event type %T", ev))
	}
	return nil
}

func (c *Coordinator) handleInterruption(ctx context.Context, ev domain.Interruption) error {
	switch ev.Type {
	case domain.InterruptionBegan:
		c.metrics.Interruption(ev.Type)
		if c.State() == domain.StateInterrupted {
			c.logger.Debug("interruption already in progress")
			return nil
		}
		c.logger.Info("interruption began")

		c.player.Stop()
		c.graph.Stop()
		if err := c.session.Deactivate(); err != nil {
			c.logger.Error("deactivating session", "error", err)
			c.metrics.RecoveryFailed("session_deactivation")
		}
		c.changeState(domain.StateInterrupted, "interruption began")

	case domain.InterruptionEnded:
		c.metrics.Interruption(ev.Type)
		if c.State() == domain.StateRunning {
			c.logger.Debug("interruption ended while running, nothing to resume")
			return nil
		}
		c.logger.Info("interruption ended")
		_ = c.bringUp(ctx, "interruption ended", true)

	default:
		return c.fail(ev, fmt.Sprintf("unknown interruption type %s", ev.Type))
	}
	return nil
}

func (c *Coordinator) handleConfigurationChange(ctx context.Context, ev domain.ConfigurationChanged) {
	if ev.Source != c.graph.ID() {
		c.logger.Debug("ignoring configuration change for another graph", "source", ev.Source)
		return
	}

	count := c.configChanges.Add(1)
	c.metrics.ConfigurationChanged()

	state := c.State()
	c.logger.Info("engine configuration changed", "count", count, "state", state.String())

	if state != domain.StateRunning {
		c.logger.Info("rebuild deferred until recovery", "state", state.String())
		return
	}

	_ = c.bringUp(ctx, "configuration changed", false)
}

// switchVoiceProcessing runs the mode switch. Only enabling renegotiates the
// session: the voice-processing output needs a fresh session, plain output
// keeps the current one.
func (c *Coordinator) switchVoiceProcessing(ctx context.Context, enabled bool) (err error) {
	c.logger.Info("switching voice processing", "enabled", enabled, "state", c.State().String())
	defer func() { c.metrics.ModeSwitched(enabled, err == nil) }()

	c.player.Stop()
	c.graph.Stop()

	if enabled {
		if err := c.session.Deactivate(); err != nil {
			c.logger.Error("deactivating session before voice processing", "error", err)
			c.metrics.RecoveryFailed("session_deactivation")
		}
	}

	if err := c.graph.SetVoiceProcessingEnabled(enabled); err != nil {
		c.stall("voice_processing", err)
		return fmt.Errorf("setting voice processing: %w", err)
	}

	c.mu.Lock()
	c.voiceProcessing = enabled
	c.mu.Unlock()
	c.metrics.VoiceProcessing(enabled)

	activate := enabled || !c.session.Active()
	return c.bringUp(ctx, fmt.Sprintf("voice processing %s", onOff(enabled)), activate)
}

// bringUp runs the restart sequence and moves to Running, or stalls on the
// first failing step.
func (c *Coordinator) bringUp(ctx context.Context, reason string, activate bool) error {
	if activate {
		err := c.retry(ctx, func() error {
			return c.session.Activate(c.sessionCfg)
		})
		if err != nil {
			c.stall("session_activation", err)
			return err
		}
	}

	if err := c.restartGraph(); err != nil {
		c.stall("graph_start", err)
		return err
	}

	if err := c.restartPlayback(); err != nil {
		c.stall("playback", err)
		return err
	}

	c.mu.Lock()
	c.lastErr = ""
	c.mu.Unlock()
	c.changeState(domain.StateRunning, reason)
	return nil
}

// restartGraph always rebuilds: formats are pinned when the graph is wired,
// so a plain restart would keep stale connections.
func (c *Coordinator) restartGraph() error {
	c.graph.Stop()

	if err := c.graph.Build(c.VoiceProcessingEnabled()); err != nil {
		return fmt.Errorf("building graph: %w", err)
	}
	if err := c.graph.Start(); err != nil {
		return fmt.Errorf("starting graph: %w", err)
	}
	return nil
}

func (c *Coordinator) restartPlayback() error {
	c.player.Stop()

	if err := c.player.ScheduleLoop(c.asset, c.loopCompleted); err != nil {
		return fmt.Errorf("scheduling loop: %w", err)
	}
	if err := c.player.Play(); err != nil {
		return fmt.Errorf("starting playback: %w", err)
	}
	return nil
}

func (c *Coordinator) loopCompleted() {
	c.logger.Debug("scheduled loop completed")
}

// stall leaves everything stopped and the session released.
func (c *Coordinator) stall(stage string, err error) {
	c.logger.Error("recovery step failed", "stage", stage, "error", err)
	c.metrics.RecoveryFailed(stage)

	c.player.Stop()
	c.graph.Stop()
	if derr := c.session.Deactivate(); derr != nil {
		c.logger.Error("deactivating session after failure", "error", derr)
	}

	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()

	c.changeState(domain.StateStalled, stage+" failed")
	c.notify(fmt.Sprintf("audio pipeline stalled: %s: %v", stage, err))
}

func (c *Coordinator) fail(ev domain.Event, cause string) error {
	c.logger.Error("pipeline invalidated", "cause", cause, "event", ev.Name())
	c.metrics.Fatal()

	c.mu.Lock()
	c.lastErr = cause
	c.mu.Unlock()

	c.changeState(domain.StateFailed, cause)
	c.notify(fmt.Sprintf("audio pipeline invalidated: %s", cause))

	return &domain.FatalError{Cause: cause, Event: ev.Name()}
}

func (c *Coordinator) changeState(to domain.State, reason string) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	if from == to {
		c.logger.Debug("pipeline state unchanged", "state", to.String(), "reason", reason)
		return
	}

	c.logger.Info("pipeline state changed",
		"from", from.String(),
		"to", to.String(),
		"reason", reason,
	)
	c.metrics.StateChanged(to)
}

func (c *Coordinator) notify(message string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := c.notifier.Notify(ctx, message); err != nil {
			c.logger.Error("sending alert", "error", err)
		}
	}()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
