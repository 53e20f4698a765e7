package audio

import (
	"fmt"
	"io"
	"os"

	"github.com/gopxl/beep/v2/wav"

	"voiceproc/internal/domain"
)

const decodeChunk = 4096

// LoadAsset decodes the WAV file at path into memory.
func LoadAsset(path string) (*domain.AudioAsset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.AssetLoadError{Path: path, Err: err}
	}
	defer f.Close()

	asset, err := DecodeAsset(f)
	if err != nil {
		return nil, &domain.AssetLoadError{Path: path, Err: err}
	}
	return asset, nil
}

// DecodeAsset reads a whole WAV stream. Mono input is duplicated onto both
// channels by the decoder.
func DecodeAsset(r io.Reader) (*domain.AudioAsset, error) {
	streamer, format, err := wav.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decoding wav: %w", err)
	}
	defer streamer.Close()

	frames := make([][2]float64, 0, max(streamer.Len(), 0))
	buf := make([][2]float64, decodeChunk)
	for {
		n, ok := streamer.Stream(buf)
		frames = append(frames, buf[:n]...)
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("reading samples: %w", err)
	}

	return domain.NewAudioAsset(float64(format.SampleRate), format.NumChannels, frames)
}
