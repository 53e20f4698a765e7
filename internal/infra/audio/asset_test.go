package audio_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceproc/internal/domain"
	"voiceproc/internal/infra/audio"
)

func writeWAV(t *testing.T, rate beep.SampleRate, channels, frames int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	remaining := frames
	src := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if remaining == 0 {
			return 0, false
		}
		n := min(len(samples), remaining)
		for i := 0; i < n; i++ {
			samples[i] = [2]float64{0.5, -0.5}
		}
		remaining -= n
		return n, true
	})

	format := beep.Format{SampleRate: rate, NumChannels: channels, Precision: 2}
	require.NoError(t, wav.Encode(f, src, format))
	return path
}

func TestLoadAsset_Stereo(t *testing.T) {
	path := writeWAV(t, 44100, 2, 1000)

	asset, err := audio.LoadAsset(path)
	require.NoError(t, err)

	assert.Equal(t, 44100.0, asset.SampleRate())
	assert.Equal(t, 2, asset.Channels())
	assert.Equal(t, 1000, asset.FrameCount())

	dst := make([][2]float64, 1)
	asset.ReadFrames(dst, 500)
	assert.InDelta(t, 0.5, dst[0][0], 1e-3)
	assert.InDelta(t, -0.5, dst[0][1], 1e-3)
}

func TestLoadAsset_Mono(t *testing.T) {
	path := writeWAV(t, 22050, 1, 300)

	asset, err := audio.LoadAsset(path)
	require.NoError(t, err)
	assert.Equal(t, 1, asset.Channels())
	assert.Equal(t, 300, asset.FrameCount())
}

func TestLoadAsset_Missing(t *testing.T) {
	_, err := audio.LoadAsset(filepath.Join(t.TempDir(), "nope.wav"))

	var loadErr *domain.AssetLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDecodeAsset_RejectsGarbage(t *testing.T) {
	_, err := audio.DecodeAsset(bytes.NewReader([]byte("definitely not a wav file")))
	assert.Error(t, err)
}
