package device

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"voiceproc/internal/domain"
)

type NullHostConfig struct {
	SampleRate      float64
	Channels        int
	FramesPerBuffer int
	// Realtime drives started streams from a ticker. When false, streams only
	// render on Tick.
	Realtime bool
}

// NullHost is a device-free Host. It renders into a discarded buffer and
// lets callers simulate competing clients and route changes.
type NullHost struct {
	cfg    NullHostConfig
	logger *slog.Logger

	mu       sync.Mutex
	acquired bool
	busy     bool
	vp       bool
	route    Route
	streams  map[*nullStream]struct{}

	framesRendered atomic.Int64
	lastPeak       atomic.Uint64
}

func NewNullHost(cfg NullHostConfig, logger *slog.Logger) *NullHost {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = 512
	}

	return &NullHost{
		cfg:    cfg,
		logger: logger,
		route: Route{
			Output:     "null-speaker",
			Input:      "null-microphone",
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
		},
		streams: make(map[*nullStream]struct{}),
	}
}

func (h *NullHost) Name() string { return "null" }

func (h *NullHost) Acquire(cfg domain.SessionConfiguration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.busy {
		return ErrDeviceBusy
	}
	if !h.acquired {
		h.logger.Debug("device acquired", "category", cfg.Category)
	}
	h.acquired = true
	return nil
}

// Release drops device access. Open streams stop rendering, as they would
// when the hardware is taken away.
func (h *NullHost) Release(notifyOthers bool) error {
	h.mu.Lock()
	streams := make([]*nullStream, 0, len(h.streams))
	for s := range h.streams {
		streams = append(streams, s)
	}
	wasAcquired := h.acquired
	h.acquired = false
	h.mu.Unlock()

	for _, s := range streams {
		_ = s.Stop()
	}
	if wasAcquired {
		h.logger.Debug("device released", "notify_others", notifyOthers)
	}
	return nil
}

func (h *NullHost) Acquired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acquired
}

func (h *NullHost) HardwareFormat() (domain.Format, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return domain.Format{SampleRate: h.route.SampleRate, Channels: h.route.Channels}, nil
}

func (h *NullHost) CurrentRoute() (Route, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.route, nil
}

func (h *NullHost) SetVoiceProcessing(enabled bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.streams {
		if s.running.Load() {
			return fmt.Errorf("changing voice processing with a running stream")
		}
	}
	h.vp = enabled
	return nil
}

func (h *NullHost) VoiceProcessing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vp
}

func (h *NullHost) OpenOutput(format domain.Format, render RenderFunc) (Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.acquired {
		return nil, ErrSessionInactive
	}
	hw := domain.Format{SampleRate: h.route.SampleRate, Channels: h.route.Channels}
	if format.IsZero() {
		format = hw
	} else if h.vp {
		return nil, fmt.Errorf("%w: requested %s", ErrFormatConflict, format)
	}
	if format.Channels < 1 || format.Channels > 2 {
		return nil, fmt.Errorf("unsupported channel count %d", format.Channels)
	}

	s := &nullStream{
		host:   h,
		format: format,
		render: render,
		buf:    make([][2]float64, h.cfg.FramesPerBuffer),
	}
	h.streams[s] = struct{}{}
	return s, nil
}

// SetBusy simulates another client holding the device.
func (h *NullHost) SetBusy(busy bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.busy = busy
}

// SetRoute simulates the user or the system selecting new hardware.
func (h *NullHost) SetRoute(route Route) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.route = route
}

// Tick renders one buffer on every running stream and returns the number of
// frames produced.
func (h *NullHost) Tick() int {
	h.mu.Lock()
	streams := make([]*nullStream, 0, len(h.streams))
	for s := range h.streams {
		streams = append(streams, s)
	}
	h.mu.Unlock()

	total := 0
	for _, s := range streams {
		total += s.renderOnce()
	}
	return total
}

func (h *NullHost) FramesRendered() int64 {
	return h.framesRendered.Load()
}

// LastPeak is the absolute peak sample of the most recent rendered buffer.
func (h *NullHost) LastPeak() float64 {
	return math.Float64frombits(h.lastPeak.Load())
}

func (h *NullHost) bufferPeriod() time.Duration {
	return time.Duration(float64(h.cfg.FramesPerBuffer) / h.cfg.SampleRate * float64(time.Second))
}

type nullStream struct {
	host   *NullHost
	format domain.Format
	render RenderFunc

	renderMu sync.Mutex
	buf      [][2]float64

	ctl     sync.Mutex
	running atomic.Bool
	closed  atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func (s *nullStream) Format() domain.Format { return s.format }

func (s *nullStream) Start() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}
	if !s.host.Acquired() {
		return ErrSessionInactive
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}

	if s.host.cfg.Realtime {
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go s.loop(s.stopCh)
	}
	return nil
}

func (s *nullStream) loop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.host.bufferPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.renderOnce()
		}
	}
}

func (s *nullStream) renderOnce() int {
	if !s.running.Load() {
		return 0
	}

	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	s.render(s.buf)

	var peak float64
	for _, frame := range s.buf {
		peak = math.Max(peak, math.Max(math.Abs(frame[0]), math.Abs(frame[1])))
	}
	s.host.lastPeak.Store(math.Float64bits(peak))
	s.host.framesRendered.Add(int64(len(s.buf)))
	return len(s.buf)
}

// Stop waits for an in-flight render to finish.
func (s *nullStream) Stop() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.stopCh != nil {
		close(s.stopCh)
		s.wg.Wait()
		s.stopCh = nil
	}
	s.renderMu.Lock()
	s.renderMu.Unlock()
	return nil
}

func (s *nullStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = s.Stop()

	s.host.mu.Lock()
	delete(s.host.streams, s)
	s.host.mu.Unlock()
	return nil
}
