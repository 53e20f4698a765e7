package device

import (
	"errors"

	"voiceproc/internal/domain"
)

var (
	ErrDeviceBusy      = errors.New("device held by another client")
	ErrSessionInactive = errors.New("session not active")
	ErrFormatConflict  = errors.New("voice processing requires the hardware format")
)

// RenderFunc fills out with stereo frames. It runs on the device's render
// thread and must not block.
type RenderFunc func(out [][2]float64)

type Stream interface {
	Start() error
	Stop() error
	Close() error
	Format() domain.Format
}

// Route describes the currently selected hardware endpoints.
type Route struct {
	Output     string
	Input      string
	SampleRate float64
	Channels   int
}

// Host is the platform audio service: exclusive device access plus output
// streams. A zero Format passed to OpenOutput means the hardware default.
type Host interface {
	Name() string
	Acquire(cfg domain.SessionConfiguration) error
	Release(notifyOthers bool) error
	Acquired() bool
	HardwareFormat() (domain.Format, error)
	CurrentRoute() (Route, error)
	SetVoiceProcessing(enabled bool) error
	OpenOutput(format domain.Format, render RenderFunc) (Stream, error)
}
