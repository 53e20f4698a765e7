package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voiceproc/internal/domain"
)

const namespace = "voiceproc"

var allStates = []domain.State{
	domain.StateIdle,
	domain.StateRunning,
	domain.StateInterrupted,
	domain.StateStalled,
	domain.StateFailed,
}

// Recorder holds the pipeline's Prometheus metrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	state                *prometheus.GaugeVec
	interruptions        *prometheus.CounterVec
	configurationChanges prometheus.Counter
	routeChanges         *prometheus.CounterVec
	modeSwitches         *prometheus.CounterVec
	voiceProcessing      prometheus.Gauge
	recoveryFailures     *prometheus.CounterVec
	fatalEvents          prometheus.Counter
	reinitializations    prometheus.Counter
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	r := &Recorder{
		registry: registry,

		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_state",
			Help:      "1 for the pipeline's current state, 0 otherwise",
		}, []string{"state"}),

		interruptions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Interruption notifications by type",
		}, []string{"type"}),

		configurationChanges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "configuration_changes_total",
			Help:      "Configuration changes accepted for the owned graph",
		}),

		routeChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_changes_total",
			Help:      "Route change notifications by reason",
		}, []string{"reason"}),

		modeSwitches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_processing_switches_total",
			Help:      "Voice processing mode switch attempts by target mode and outcome",
		}, []string{"enabled", "result"}),

		voiceProcessing: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voice_processing_enabled",
			Help:      "1 when the output runs through voice processing",
		}),

		recoveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_failures_total",
			Help:      "Failed recovery steps by stage",
		}, []string{"stage"}),

		fatalEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fatal_events_total",
			Help:      "Events that invalidated the pipeline",
		}),

		reinitializations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reinitializations_total",
			Help:      "Pipelines rebuilt after a fatal event",
		}),
	}

	r.StateChanged(domain.StateIdle)
	return r
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) StateChanged(state domain.State) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.state.WithLabelValues(s.String()).Set(v)
	}
}

func (r *Recorder) Interruption(t domain.InterruptionType) {
	r.interruptions.WithLabelValues(t.String()).Inc()
}

func (r *Recorder) ConfigurationChanged() {
	r.configurationChanges.Inc()
}

func (r *Recorder) RouteChanged(reason domain.RouteChangeReason) {
	r.routeChanges.WithLabelValues(reason.String()).Inc()
}

func (r *Recorder) ModeSwitched(target bool, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.modeSwitches.WithLabelValues(strconv.FormatBool(target), result).Inc()
}

func (r *Recorder) VoiceProcessing(enabled bool) {
	v := 0.0
	if enabled {
		v = 1
	}
	r.voiceProcessing.Set(v)
}

func (r *Recorder) RecoveryFailed(stage string) {
	r.recoveryFailures.WithLabelValues(stage).Inc()
}

func (r *Recorder) Fatal() {
	r.fatalEvents.Inc()
}

func (r *Recorder) Reinitialized() {
	r.reinitializations.Inc()
}
