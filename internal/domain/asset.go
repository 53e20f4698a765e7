package domain

import (
	"fmt"
	"time"
)

// AudioAsset is a decoded PCM buffer. It is built once and never mutated, so
// it can be read concurrently by any number of playback nodes.
type AudioAsset struct {
	sampleRate float64
	channels   int
	frames     [][2]float64
}

// NewAudioAsset copies frames into a new asset.
func NewAudioAsset(sampleRate float64, channels int, frames [][2]float64) (*AudioAsset, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %g", sampleRate)
	}
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("asset has no frames")
	}

	owned := make([][2]float64, len(frames))
	copy(owned, frames)

	return &AudioAsset{
		sampleRate: sampleRate,
		channels:   channels,
		frames:     owned,
	}, nil
}

func (a *AudioAsset) SampleRate() float64 { return a.sampleRate }
func (a *AudioAsset) Channels() int       { return a.channels }
func (a *AudioAsset) FrameCount() int     { return len(a.frames) }

func (a *AudioAsset) Duration() time.Duration {
	return time.Duration(float64(len(a.frames)) / a.sampleRate * float64(time.Second))
}

// ReadFrames copies frames starting at offset into dst and returns how many
// were copied.
func (a *AudioAsset) ReadFrames(dst [][2]float64, offset int) int {
	if offset < 0 || offset >= len(a.frames) {
		return 0
	}
	return copy(dst, a.frames[offset:])
}
