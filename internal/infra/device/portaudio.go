//go:build portaudio
// +build portaudio

package device

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"voiceproc/internal/domain"
)

// PortAudioHost drives the default output device. Acquire initializes the
// library and Release terminates it, so while released no other call works.
type PortAudioHost struct {
	framesPerBuffer int
	logger          *slog.Logger

	mu       sync.Mutex
	acquired bool
	vp       bool
}

func NewPortAudioHost(framesPerBuffer int, logger *slog.Logger) *PortAudioHost {
	if framesPerBuffer <= 0 {
		framesPerBuffer = 512
	}
	return &PortAudioHost{framesPerBuffer: framesPerBuffer, logger: logger}
}

func (h *PortAudioHost) Name() string { return "portaudio" }

func (h *PortAudioHost) Acquire(cfg domain.SessionConfiguration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.acquired {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initializing portaudio: %w", err)
	}
	h.acquired = true
	h.logger.Info("portaudio initialized", "category", cfg.Category, "version", portaudio.VersionText())
	return nil
}

func (h *PortAudioHost) Release(notifyOthers bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.acquired {
		return nil
	}
	h.acquired = false
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("terminating portaudio: %w", err)
	}
	h.logger.Debug("portaudio terminated", "notify_others", notifyOthers)
	return nil
}

func (h *PortAudioHost) Acquired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acquired
}

func (h *PortAudioHost) HardwareFormat() (domain.Format, error) {
	out, err := h.outputDevice()
	if err != nil {
		return domain.Format{}, err
	}
	return domain.Format{SampleRate: out.DefaultSampleRate, Channels: clampChannels(out.MaxOutputChannels)}, nil
}

// CurrentRoute reports the default devices. PortAudio enumerates devices
// once at Initialize, so the route cannot change while the host is acquired.
func (h *PortAudioHost) CurrentRoute() (Route, error) {
	out, err := h.outputDevice()
	if err != nil {
		return Route{}, err
	}

	route := Route{
		Output:     out.Name,
		SampleRate: out.DefaultSampleRate,
		Channels:   clampChannels(out.MaxOutputChannels),
	}
	if in, err := portaudio.DefaultInputDevice(); err == nil {
		route.Input = in.Name
	}
	return route, nil
}

func (h *PortAudioHost) SetVoiceProcessing(enabled bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.vp = enabled
	return nil
}

// OpenOutput opens an output stream. With voice processing on it opens a
// duplex stream on the default devices at the hardware rate; captured input
// is discarded since PortAudio offers no echo canceller.
func (h *PortAudioHost) OpenOutput(format domain.Format, render RenderFunc) (Stream, error) {
	h.mu.Lock()
	vp := h.vp
	h.mu.Unlock()

	out, err := h.outputDevice()
	if err != nil {
		return nil, err
	}
	if vp && !format.IsZero() {
		return nil, fmt.Errorf("%w: requested %s", ErrFormatConflict, format)
	}
	if format.IsZero() {
		format = domain.Format{SampleRate: out.DefaultSampleRate, Channels: clampChannels(out.MaxOutputChannels)}
	}

	s := &paStream{
		format: format,
		render: render,
		buf:    make([][2]float64, h.framesPerBuffer),
	}

	var params portaudio.StreamParameters
	if vp {
		in, inErr := portaudio.DefaultInputDevice()
		if inErr != nil {
			return nil, fmt.Errorf("voice processing input: %w", inErr)
		}
		params = portaudio.LowLatencyParameters(in, out)
		params.Input.Channels = 1
		params.Output.Channels = format.Channels
		params.SampleRate = format.SampleRate
		params.FramesPerBuffer = h.framesPerBuffer
		s.stream, err = portaudio.OpenStream(params, s.processDuplex)
	} else {
		params = portaudio.HighLatencyParameters(nil, out)
		params.Output.Channels = format.Channels
		params.SampleRate = format.SampleRate
		params.FramesPerBuffer = h.framesPerBuffer
		s.stream, err = portaudio.OpenStream(params, s.process)
	}
	if err != nil {
		return nil, fmt.Errorf("opening stream at %s: %w", format, err)
	}
	return s, nil
}

func (h *PortAudioHost) outputDevice() (*portaudio.DeviceInfo, error) {
	if !h.Acquired() {
		return nil, ErrSessionInactive
	}
	out, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("default output device: %w", err)
	}
	return out, nil
}

func clampChannels(n int) int {
	if n > 2 {
		return 2
	}
	return n
}

type paStream struct {
	stream *portaudio.Stream
	format domain.Format
	render RenderFunc
	buf    [][2]float64
}

func (s *paStream) Format() domain.Format { return s.format }
func (s *paStream) Start() error          { return s.stream.Start() }
func (s *paStream) Stop() error           { return s.stream.Stop() }
func (s *paStream) Close() error          { return s.stream.Close() }

func (s *paStream) processDuplex(_, out []float32) {
	s.process(out)
}

// HOTPATH
func (s *paStream) process(out []float32) {
	channels := s.format.Channels
	frames := len(out) / channels
	if frames > len(s.buf) {
		s.buf = make([][2]float64, frames)
	}
	buf := s.buf[:frames]
	s.render(buf)

	for i, frame := range buf {
		if channels == 1 {
			out[i] = float32((frame[0] + frame[1]) / 2)
			continue
		}
		out[2*i] = float32(frame[0])
		out[2*i+1] = float32(frame[1])
	}
}
