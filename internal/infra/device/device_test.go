package device_test

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceproc/internal/domain"
	"voiceproc/internal/infra/device"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHost() *device.NullHost {
	return device.NewNullHost(device.NullHostConfig{SampleRate: 48000, Channels: 2, FramesPerBuffer: 64}, newTestLogger())
}

func constantRender(v float64) device.RenderFunc {
	return func(out [][2]float64) {
		for i := range out {
			out[i] = [2]float64{v, -v}
		}
	}
}

func TestNullHost_OpenRequiresAcquire(t *testing.T) {
	host := newHost()

	_, err := host.OpenOutput(domain.Format{}, constantRender(0))
	assert.ErrorIs(t, err, device.ErrSessionInactive)
}

func TestNullHost_BusyRejectsAcquire(t *testing.T) {
	host := newHost()
	host.SetBusy(true)

	err := host.Acquire(domain.DefaultSessionConfiguration())
	assert.ErrorIs(t, err, device.ErrDeviceBusy)
	assert.False(t, host.Acquired())

	host.SetBusy(false)
	require.NoError(t, host.Acquire(domain.DefaultSessionConfiguration()))
	assert.True(t, host.Acquired())
}

func TestNullHost_RendersWhileStarted(t *testing.T) {
	host := newHost()
	require.NoError(t, host.Acquire(domain.DefaultSessionConfiguration()))

	stream, err := host.OpenOutput(domain.StereoFormat(48000), constantRender(0.5))
	require.NoError(t, err)
	assert.Equal(t, domain.StereoFormat(48000), stream.Format())

	assert.Equal(t, 0, host.Tick(), "stopped stream must not render")

	require.NoError(t, stream.Start())
	assert.Equal(t, 64, host.Tick())
	assert.InDelta(t, 0.5, host.LastPeak(), 1e-9)

	require.NoError(t, stream.Stop())
	assert.Equal(t, 0, host.Tick())
	assert.Equal(t, int64(64), host.FramesRendered())

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
}

func TestNullHost_ReleaseStopsStreams(t *testing.T) {
	host := newHost()
	require.NoError(t, host.Acquire(domain.DefaultSessionConfiguration()))

	stream, err := host.OpenOutput(domain.Format{}, constantRender(0.1))
	require.NoError(t, err)
	require.NoError(t, stream.Start())

	require.NoError(t, host.Release(true))
	assert.Equal(t, 0, host.Tick())
	assert.ErrorIs(t, stream.Start(), device.ErrSessionInactive)
}

func TestNullHost_VoiceProcessingRejectsExplicitFormat(t *testing.T) {
	host := newHost()
	require.NoError(t, host.Acquire(domain.DefaultSessionConfiguration()))
	require.NoError(t, host.SetVoiceProcessing(true))

	_, err := host.OpenOutput(domain.StereoFormat(44100), constantRender(0))
	assert.ErrorIs(t, err, device.ErrFormatConflict)

	stream, err := host.OpenOutput(domain.Format{}, constantRender(0))
	require.NoError(t, err)
	assert.Equal(t, 48000.0, stream.Format().SampleRate)
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Dispatch(ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func TestWatcher_EmitsRouteAndConfigurationChanges(t *testing.T) {
	host := newHost()
	sink := &recordingSink{}
	w := device.NewWatcher(host, sink, func() string { return "graph-42" }, 0, newTestLogger())

	w.Poll()
	assert.Empty(t, sink.events, "baseline poll must not emit")

	host.SetRoute(device.Route{Output: "headphones", Input: "null-microphone", SampleRate: 48000, Channels: 2})
	w.Poll()
	require.Len(t, sink.events, 1)
	route, ok := sink.events[0].(domain.RouteChanged)
	require.True(t, ok)
	assert.Equal(t, domain.RouteChangeOverride, route.Reason)

	host.SetRoute(device.Route{Output: "headphones", Input: "null-microphone", SampleRate: 44100, Channels: 2})
	w.Poll()
	require.Len(t, sink.events, 2)
	assert.Equal(t, domain.ConfigurationChanged{Source: "graph-42"}, sink.events[1])

	w.Poll()
	assert.Len(t, sink.events, 2, "unchanged route must not emit")
}

func TestWatcher_DeviceRemoval(t *testing.T) {
	host := newHost()
	sink := &recordingSink{}
	w := device.NewWatcher(host, sink, func() string { return "g" }, 0, newTestLogger())

	w.Poll()
	host.SetRoute(device.Route{Output: "null-speaker", SampleRate: 48000, Channels: 2})
	w.Poll()

	require.Len(t, sink.events, 1)
	assert.Equal(t, domain.RouteChangeOldDeviceUnavailable, sink.events[0].(domain.RouteChanged).Reason)
}
