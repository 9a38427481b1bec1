package audio

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTurnOptionDefaults(t *testing.T) {
	var o TurnOptions
	o.defaults()
	assert.Equal(t, 0.015, o.SilenceRMS)
	assert.Equal(t, 600*time.Millisecond, o.SilenceAfter)
	assert.Equal(t, 10*time.Second, o.MaxLength)

	o = TurnOptions{SilenceRMS: 0.1, MaxLength: time.Second}
	o.defaults()
	assert.Equal(t, 0.1, o.SilenceRMS)
	assert.Equal(t, time.Second, o.MaxLength)
}

func TestFrameRMS(t *testing.T) {
	assert.Zero(t, frameRMS(nil))
	assert.Zero(t, frameRMS([]float32{0, 0, 0, 0}))

	got := frameRMS([]float32{0.5, -0.5, 0.5, -0.5})
	assert.InDelta(t, 0.5, got, 1e-6)

	got = frameRMS([]float32{1, 0})
	assert.InDelta(t, 1/math.Sqrt2, got, 1e-6)
}

func TestLevelClamps(t *testing.T) {
	loud := make([]float32, 100)
	for i := range loud {
		loud[i] = 1
	}
	assert.Equal(t, 1.0, level(loud), "scaled RMS never exceeds 1")
	assert.Zero(t, level(nil))
}

func TestRecordTurnWithoutAcquire(t *testing.T) {
	r := NewRecorder()
	_, err := r.RecordTurn(t.Context(), TurnOptions{})
	assert.ErrorIs(t, err, ErrMicDenied)
}
