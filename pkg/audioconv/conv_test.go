package audioconv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSniff(t *testing.T) {
	assert.Equal(t, FormatWAV, sniff([]byte("RIFFxxxxWAVE")))
	assert.Equal(t, FormatOgg, sniff([]byte("OggS\x00\x02")))
	assert.Equal(t, FormatMP3, sniff([]byte("ID3\x04\x00")))
	assert.Equal(t, FormatMP3, sniff([]byte{0xFF, 0xFB, 0x90, 0x00}))
	assert.Equal(t, FormatAuto, sniff([]byte("??")))
	assert.Equal(t, FormatAuto, sniff([]byte("text file here")))
}

func TestDecodeUnknownFormat(t *testing.T) {
	_, err := Decode([]byte("definitely not audio"), FormatAuto)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestDownmixStereo(t *testing.T) {
	in := []float32{1, 0, 0.5, 0.5, -1, 1}
	out := Downmix(in, 2)
	require.Len(t, out, 3)
	assert.InDelta(t, 0.5, out[0], 1e-6)
	assert.InDelta(t, 0.5, out[1], 1e-6)
	assert.InDelta(t, 0.0, out[2], 1e-6)
}

func TestDownmixMonoPassthrough(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	assert.Equal(t, in, Downmix(in, 1))
	assert.Equal(t, in, Downmix(in, 0))
}

func TestResampleSameRatePassthrough(t *testing.T) {
	in := []float32{0.1, 0.2}
	assert.Equal(t, in, Resample(in, 16000, 16000))
}

func TestResampleHalvesLength(t *testing.T) {
	in := make([]float32, 32000)
	out := Resample(in, 32000, 16000)
	assert.Len(t, out, 16000)
}

func TestResampleInterpolates(t *testing.T) {
	// Upsampling 2x a ramp should stay monotone and hit the midpoints.
	in := []float32{0, 1}
	out := Resample(in, 8000, 16000)
	require.Len(t, out, 4)
	assert.InDelta(t, 0.0, out[0], 1e-6)
	assert.InDelta(t, 0.5, out[1], 1e-6)
	assert.InDelta(t, 1.0, out[2], 1e-6)
}

func TestResampleEmpty(t *testing.T) {
	assert.Empty(t, Resample(nil, 44100, 16000))
}
