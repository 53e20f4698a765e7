package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceproc/internal/domain"
	"voiceproc/internal/infra/device"
	"voiceproc/internal/infra/engine"
	"voiceproc/internal/infra/metrics"
	"voiceproc/internal/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(t *testing.T) (pipeline.Options, *device.NullHost) {
	t.Helper()

	frames := make([][2]float64, 256)
	for i := range frames {
		frames[i] = [2]float64{0.3, 0.3}
	}
	asset, err := domain.NewAudioAsset(48000, 2, frames)
	require.NoError(t, err)

	host := device.NewNullHost(device.NullHostConfig{SampleRate: 48000, Channels: 2, FramesPerBuffer: 64}, testLogger())
	return pipeline.Options{
		Asset:   asset,
		Host:    host,
		Session: domain.DefaultSessionConfiguration(),
	}, host
}

type running struct {
	proc   *pipeline.Process
	cancel context.CancelFunc
	errCh  chan error
}

func start(t *testing.T, opts pipeline.Options) *running {
	t.Helper()

	proc, err := pipeline.New(opts, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{proc: proc, cancel: cancel, errCh: make(chan error, 1)}
	go func() { r.errCh <- proc.Run(ctx) }()
	t.Cleanup(cancel)

	r.flush(t)
	return r
}

func (r *running) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.proc.Coordinator().Flush(ctx))
}

func (r *running) send(t *testing.T, ev domain.Event) {
	t.Helper()
	require.NoError(t, r.proc.Coordinator().Dispatch(ev))
	r.flush(t)
}

func assertAudible(t *testing.T, host *device.NullHost) {
	t.Helper()
	require.Equal(t, 64, host.Tick(), "output is not rendering")
	assert.InDelta(t, 0.3, host.LastPeak(), 1e-9, "player is not feeding the output")
}

func TestProcess_PlaysAfterStartup(t *testing.T) {
	opts, host := testOptions(t)
	r := start(t, opts)

	st := r.proc.Coordinator().Status()
	assert.Equal(t, domain.StateRunning, st.State)
	assert.True(t, host.Acquired())
	assertAudible(t, host)
}

func TestProcess_InterruptionSilencesAndResumes(t *testing.T) {
	opts, host := testOptions(t)
	r := start(t, opts)

	r.send(t, domain.Interruption{Type: domain.InterruptionBegan})
	assert.False(t, host.Acquired())
	assert.Equal(t, 0, host.Tick())

	r.send(t, domain.Interruption{Type: domain.InterruptionEnded})
	assertAudible(t, host)
}

func TestProcess_BusyDeviceStallsUntilReleased(t *testing.T) {
	opts, host := testOptions(t)
	r := start(t, opts)

	r.send(t, domain.Interruption{Type: domain.InterruptionBegan})
	host.SetBusy(true)
	r.send(t, domain.Interruption{Type: domain.InterruptionEnded})

	assert.Equal(t, domain.StateStalled, r.proc.Coordinator().State())
	assert.Equal(t, 0, host.Tick())

	host.SetBusy(false)
	r.send(t, domain.Interruption{Type: domain.InterruptionEnded})
	assert.Equal(t, domain.StateRunning, r.proc.Coordinator().State())
	assertAudible(t, host)
}

func TestProcess_VoiceProcessingRoundTrip(t *testing.T) {
	opts, host := testOptions(t)
	r := start(t, opts)
	coord := r.proc.Coordinator()
	graph := r.proc.Graph()

	require.NoError(t, coord.EnableVoiceProcessing(context.Background()))
	format, _ := graph.OutputFormat()
	assert.True(t, format.IsZero(), "voice processing output must use the hardware format")
	assert.True(t, host.VoiceProcessing())
	assertAudible(t, host)

	require.NoError(t, coord.DisableVoiceProcessing(context.Background()))
	format, _ = graph.OutputFormat()
	assert.Equal(t, domain.StereoFormat(48000), format)
	assert.False(t, host.VoiceProcessing())
	assertAudible(t, host)

	assert.Equal(t, 1, graph.ConnectionCount(engine.NodePlayer, engine.NodeMixer))
}

func TestProcess_ConfigurationChangeRewiresAtNewRate(t *testing.T) {
	opts, host := testOptions(t)
	r := start(t, opts)
	graph := r.proc.Graph()

	host.SetRoute(device.Route{Output: "usb-dac", Input: "null-microphone", SampleRate: 44100, Channels: 2})
	r.send(t, domain.ConfigurationChanged{Source: graph.ID()})
	r.send(t, domain.ConfigurationChanged{Source: "another-graph"})

	assert.Equal(t, int64(1), r.proc.Coordinator().ConfigurationChangeCount())
	format, _ := graph.OutputFormat()
	assert.Equal(t, domain.StereoFormat(44100), format)
	assert.Equal(t, 64, host.Tick())
	assert.Greater(t, host.LastPeak(), 0.0)
}

func TestProcess_WatcherFeedsConfigurationChanges(t *testing.T) {
	opts, host := testOptions(t)
	opts.PollInterval = 5 * time.Millisecond
	r := start(t, opts)

	// Keep flipping the rate so a change lands after the watcher's baseline.
	rates := []float64{44100, 48000}
	flips := 0
	require.Eventually(t, func() bool {
		host.SetRoute(device.Route{Output: "null-speaker", Input: "null-microphone", SampleRate: rates[flips%2], Channels: 2})
		flips++
		return r.proc.Coordinator().ConfigurationChangeCount() >= 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestProcess_MediaServicesResetTearsDown(t *testing.T) {
	opts, host := testOptions(t)
	r := start(t, opts)

	require.NoError(t, r.proc.Coordinator().Dispatch(domain.MediaServicesReset{}))

	select {
	case err := <-r.errCh:
		assert.True(t, domain.IsFatal(err))
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.False(t, host.Acquired())
	assert.False(t, r.proc.Graph().Rendering())
}

func TestNew_RequiresAssetAndHost(t *testing.T) {
	opts, _ := testOptions(t)

	noAsset := opts
	noAsset.Asset = nil
	_, err := pipeline.New(noAsset, testLogger())
	assert.Error(t, err)

	noHost := opts
	noHost.Host = nil
	_, err = pipeline.New(noHost, testLogger())
	assert.Error(t, err)
}

func TestSupervise_RebuildsAfterFatalEvent(t *testing.T) {
	opts, _ := testOptions(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var graphIDs []string
	reinits := 0

	started := make(chan *pipeline.Process, 4)
	hooks := pipeline.Hooks{
		Started: func(p *pipeline.Process) {
			mu.Lock()
			graphIDs = append(graphIDs, p.Graph().ID())
			mu.Unlock()
			started <- p
		},
		Reinitialized: func(error) {
			mu.Lock()
			reinits++
			mu.Unlock()
		},
	}

	done := make(chan error, 1)
	go func() { done <- pipeline.Supervise(ctx, opts, 2, hooks, testLogger()) }()

	first := <-started
	require.Eventually(t, func() bool {
		return first.Coordinator().Dispatch(domain.MediaServicesReset{}) == nil
	}, time.Second, 5*time.Millisecond)

	second := <-started
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer flushCancel()
	require.NoError(t, second.Coordinator().Flush(flushCtx))
	assert.Equal(t, domain.StateRunning, second.Coordinator().State())

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, reinits)
	require.Len(t, graphIDs, 2)
	assert.NotEqual(t, graphIDs[0], graphIDs[1])
}

func TestSupervise_CarriesVoiceProcessingMode(t *testing.T) {
	opts, host := testOptions(t)
	recorder := metrics.NewRecorder()
	opts.Metrics = recorder

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan *pipeline.Process, 4)
	hooks := pipeline.Hooks{Started: func(p *pipeline.Process) { started <- p }}

	done := make(chan error, 1)
	go func() { done <- pipeline.Supervise(ctx, opts, 2, hooks, testLogger()) }()

	first := <-started
	require.Eventually(t, func() bool {
		return first.Coordinator().EnableVoiceProcessing(context.Background()) == nil
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, first.Coordinator().Dispatch(domain.MediaServicesReset{}))

	second := <-started
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer flushCancel()
	require.NoError(t, second.Coordinator().Flush(flushCtx))

	assert.Equal(t, domain.StateRunning, second.Coordinator().State())
	assert.True(t, second.Coordinator().VoiceProcessingEnabled())
	assert.True(t, host.VoiceProcessing())

	expected := `
# HELP voiceproc_voice_processing_enabled 1 when the output runs through voice processing
# TYPE voiceproc_voice_processing_enabled gauge
voiceproc_voice_processing_enabled 1
`
	assert.NoError(t, testutil.GatherAndCompare(recorder.Registry(), strings.NewReader(expected), "voiceproc_voice_processing_enabled"))

	cancel()
	require.NoError(t, <-done)
}

func TestProcess_VoiceProcessingGaugeAtStartup(t *testing.T) {
	opts, _ := testOptions(t)
	recorder := metrics.NewRecorder()
	opts.Metrics = recorder
	opts.VoiceProcessing = true

	r := start(t, opts)
	require.Equal(t, domain.StateRunning, r.proc.Coordinator().State())

	expected := `
# HELP voiceproc_voice_processing_enabled 1 when the output runs through voice processing
# TYPE voiceproc_voice_processing_enabled gauge
voiceproc_voice_processing_enabled 1
`
	assert.NoError(t, testutil.GatherAndCompare(recorder.Registry(), strings.NewReader(expected), "voiceproc_voice_processing_enabled"))
}

func TestSupervise_GivesUp(t *testing.T) {
	opts, _ := testOptions(t)

	hooks := pipeline.Hooks{
		Started: func(p *pipeline.Process) {
			_ = p.Coordinator().Dispatch(domain.MediaServicesReset{})
		},
	}

	err := pipeline.Supervise(context.Background(), opts, 1, hooks, testLogger())
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
	assert.False(t, errors.Is(err, context.Canceled))
}
