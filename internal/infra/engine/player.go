package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gopxl/beep/v2"

	"voiceproc/internal/domain"
)

var (
	ErrGraphNotRunning  = errors.New("graph is not rendering")
	ErrNothingScheduled = errors.New("no buffer scheduled")
)

const resampleQuality = 4

// Player loops one asset into the graph's mixer. It stays in the mixer for
// the graph's lifetime and renders silence when nothing is playing.
type Player struct {
	graph  *Graph
	logger *slog.Logger

	mu         sync.Mutex
	ctrl       *beep.Ctrl
	completion func()
	outputRate float64
}

func newPlayer(g *Graph, logger *slog.Logger) *Player {
	return &Player{
		graph:  g,
		logger: logger,
		ctrl:   &beep.Ctrl{Paused: true},
	}
}

// ScheduleLoop replaces any scheduled loop with asset repeated indefinitely.
// The previous loop's completion runs when it is replaced or stopped.
func (p *Player) ScheduleLoop(asset *domain.AudioAsset, completion func()) error {
	if asset == nil {
		return fmt.Errorf("scheduling nil asset")
	}
	if !p.graph.Rendering() {
		return ErrGraphNotRunning
	}

	p.mu.Lock()
	prev := p.completion
	var s beep.Streamer = beep.Loop(-1, &assetStreamer{asset: asset})
	if p.outputRate > 0 && asset.SampleRate() != p.outputRate {
		s = beep.Resample(resampleQuality, beep.SampleRate(asset.SampleRate()), beep.SampleRate(p.outputRate), s)
	}
	p.ctrl.Streamer = s
	p.ctrl.Paused = true
	p.completion = completion
	p.mu.Unlock()

	if prev != nil {
		prev()
	}
	p.logger.Debug("loop scheduled", "frames", asset.FrameCount(), "duration", asset.Duration())
	return nil
}

func (p *Player) Play() error {
	if !p.graph.Rendering() {
		return ErrGraphNotRunning
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctrl.Streamer == nil {
		return ErrNothingScheduled
	}
	p.ctrl.Paused = false
	return nil
}

// Stop silences the player and drops the scheduled loop.
func (p *Player) Stop() {
	p.mu.Lock()
	p.ctrl.Paused = true
	p.ctrl.Streamer = nil
	done := p.completion
	p.completion = nil
	p.mu.Unlock()

	if done != nil {
		done()
	}
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctrl.Streamer != nil && !p.ctrl.Paused
}

// Stream always fills samples so the mixer keeps the player attached.
func (p *Player) Stream(samples [][2]float64) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	if p.ctrl.Streamer != nil {
		n, _ = p.ctrl.Stream(samples)
	}
	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	return len(samples), true
}

func (p *Player) Err() error { return nil }

func (p *Player) setOutputRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outputRate = rate
}

// assetStreamer reads an asset as a beep.StreamSeeker.
type assetStreamer struct {
	asset *domain.AudioAsset
	pos   int
}

func (s *assetStreamer) Stream(samples [][2]float64) (int, bool) {
	n := s.asset.ReadFrames(samples, s.pos)
	s.pos += n
	return n, n > 0
}

func (s *assetStreamer) Err() error    { return nil }
func (s *assetStreamer) Len() int      { return s.asset.FrameCount() }
func (s *assetStreamer) Position() int { return s.pos }

func (s *assetStreamer) Seek(p int) error {
	if p < 0 || p > s.asset.FrameCount() {
		return fmt.Errorf("seek position %d out of range [0, %d]", p, s.asset.FrameCount())
	}
	s.pos = p
	return nil
}
