//go:build !portaudio
// +build !portaudio

package device

import (
	"fmt"
	"log/slog"

	"voiceproc/internal/domain"
)

// PortAudioHost stub when portaudio is not available
type PortAudioHost struct {
	logger *slog.Logger
}

func NewPortAudioHost(_ int, logger *slog.Logger) *PortAudioHost {
	return &PortAudioHost{logger: logger}
}

var errNoPortAudio = fmt.Errorf("portaudio host not available: rebuild with -tags portaudio")

func (h *PortAudioHost) Name() string { return "portaudio" }

func (h *PortAudioHost) Acquire(_ domain.SessionConfiguration) error { return errNoPortAudio }
func (h *PortAudioHost) Release(_ bool) error                        { return nil }
func (h *PortAudioHost) Acquired() bool                              { return false }
func (h *PortAudioHost) SetVoiceProcessing(_ bool) error             { return nil }

func (h *PortAudioHost) HardwareFormat() (domain.Format, error) {
	return domain.Format{}, errNoPortAudio
}

func (h *PortAudioHost) CurrentRoute() (Route, error) {
	return Route{}, errNoPortAudio
}

func (h *PortAudioHost) OpenOutput(_ domain.Format, _ RenderFunc) (Stream, error) {
	return nil, errNoPortAudio
}
