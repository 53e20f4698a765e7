package device

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"voiceproc/internal/domain"
)

type EventSink interface {
	Dispatch(ev domain.Event) error
}

// Watcher polls the host route. Endpoint changes become RouteChanged events.
// Sample rate or channel changes invalidate the running graph and become
// ConfigurationChanged events tagged with the graph identity.
type Watcher struct {
	host     Host
	sink     EventSink
	identity func() string
	interval time.Duration
	logger   *slog.Logger

	prev  Route
	known bool
}

func NewWatcher(host Host, sink EventSink, identity func() string, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Watcher{
		host:     host,
		sink:     sink,
		identity: identity,
		interval: interval,
		logger:   logger.With("component", "route_watcher"),
	}
}

func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Poll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Poll()
		}
	}
}

// Poll compares the current route with the last one seen. The first
// successful read only records a baseline.
func (w *Watcher) Poll() {
	cur, err := w.host.CurrentRoute()
	if err != nil {
		w.logger.Debug("route unavailable", "error", err)
		return
	}

	if !w.known {
		w.prev, w.known = cur, true
		return
	}
	prev := w.prev
	w.prev = cur

	if prev.Output != cur.Output || prev.Input != cur.Input {
		w.dispatch(domain.RouteChanged{
			Reason:      routeChangeReason(prev, cur),
			Description: describeRoute(prev, cur),
		})
	}

	if prev.SampleRate != cur.SampleRate || prev.Channels != cur.Channels {
		w.logger.Info("hardware format changed",
			"from", domain.Format{SampleRate: prev.SampleRate, Channels: prev.Channels}.String(),
			"to", domain.Format{SampleRate: cur.SampleRate, Channels: cur.Channels}.String(),
		)
		w.dispatch(domain.ConfigurationChanged{Source: w.identity()})
	}
}

func (w *Watcher) dispatch(ev domain.Event) {
	if err := w.sink.Dispatch(ev); err != nil {
		w.logger.Warn("dispatching event", "event", ev.Name(), "error", err)
	}
}

func routeChangeReason(prev, cur Route) domain.RouteChangeReason {
	switch {
	case cur.Output == "" || (prev.Input != "" && cur.Input == ""):
		return domain.RouteChangeOldDeviceUnavailable
	case prev.Output == "" || prev.Input == "":
		return domain.RouteChangeNewDeviceAvailable
	default:
		return domain.RouteChangeOverride
	}
}

func describeRoute(prev, cur Route) string {
	return fmt.Sprintf("output %q -> %q, input %q -> %q", prev.Output, cur.Output, prev.Input, cur.Input)
}
