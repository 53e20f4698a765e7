package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voiceproc/internal/application"
	"voiceproc/internal/domain"
	"voiceproc/internal/infra/device"
	"voiceproc/internal/infra/engine"
	"voiceproc/internal/infra/session"
)

type Options struct {
	Asset           *domain.AudioAsset
	Host            device.Host
	Session         domain.SessionConfiguration
	VoiceProcessing bool
	QueueSize       int
	// PollInterval is the route watcher period. Zero disables the watcher.
	PollInterval time.Duration
	Retry        application.RetryFunc
	Notifier     application.Notifier
	Metrics      application.Metrics
}

// Process is one generation of the audio pipeline: a session, a graph with
// its player, the coordinator that owns them and the route watcher feeding
// it. A fatal event ends a Process; a new one must be built.
type Process struct {
	host        device.Host
	session     *session.Controller
	graph       *engine.Graph
	coordinator *application.Coordinator
	watcher     *device.Watcher
	logger      *slog.Logger
}

func New(opts Options, logger *slog.Logger) (*Process, error) {
	if opts.Asset == nil {
		return nil, fmt.Errorf("pipeline needs an audio asset")
	}
	if opts.Host == nil {
		return nil, fmt.Errorf("pipeline needs a device host")
	}

	sess := session.NewController(opts.Host, logger)
	graph := engine.NewGraph(opts.Host, logger)

	coordinator := application.NewCoordinator(
		sess,
		graph,
		graph.Player(),
		opts.Asset,
		opts.Notifier,
		opts.Metrics,
		logger,
		application.CoordinatorConfig{
			Session:         opts.Session,
			VoiceProcessing: opts.VoiceProcessing,
			QueueSize:       opts.QueueSize,
			Retry:           opts.Retry,
		},
	)

	p := &Process{
		host:        opts.Host,
		session:     sess,
		graph:       graph,
		coordinator: coordinator,
		logger:      logger.With("component", "pipeline", "graph_id", graph.ID()),
	}
	if opts.PollInterval > 0 {
		p.watcher = device.NewWatcher(opts.Host, coordinator, graph.ID, opts.PollInterval, logger)
	}
	return p, nil
}

func (p *Process) Coordinator() *application.Coordinator { return p.coordinator }

func (p *Process) Graph() *engine.Graph { return p.graph }

// Run blocks until ctx is cancelled or the pipeline is invalidated, then
// releases everything the process holds.
func (p *Process) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if p.watcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error("route watcher stopped", "error", err)
			}
		}()
	}

	err := p.coordinator.Run(ctx)

	cancel()
	wg.Wait()
	p.teardown()

	return err
}

func (p *Process) teardown() {
	p.graph.Player().Stop()
	p.graph.Stop()
	if err := p.session.Deactivate(); err != nil {
		p.logger.Warn("releasing session", "error", err)
	}
	p.logger.Info("pipeline torn down")
}
