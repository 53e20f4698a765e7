package domain

import "fmt"

// Format describes a connection's PCM layout. The zero Format means "let the
// hardware decide", which is what a voice-processing output requires.
type Format struct {
	SampleRate float64
	Channels   int
}

func StereoFormat(sampleRate float64) Format {
	return Format{SampleRate: sampleRate, Channels: 2}
}

func (f Format) IsZero() bool {
	return f.SampleRate == 0 && f.Channels == 0
}

func (f Format) String() string {
	if f.IsZero() {
		return "hardware-default"
	}
	return fmt.Sprintf("%gHz/%dch", f.SampleRate, f.Channels)
}
