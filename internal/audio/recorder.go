package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	sampleRate = 16000
	frameSize  = 320 // 20ms at 16 kHz
)

// ErrMicDenied wraps portaudio failures that mean the microphone cannot be
// opened at all. The controller turns this into a Failed session.
var ErrMicDenied = errors.New("microphone unavailable")

// Recorder owns the capture side of the session. Acquire once per session,
// release on every exit path.
type Recorder struct {
	initialized bool
}

func NewRecorder() *Recorder { return &Recorder{} }

// Acquire initializes the audio subsystem. Idempotent.
func (r *Recorder) Acquire() error {
	if r.initialized {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %v", ErrMicDenied, err)
	}
	r.initialized = true
	return nil
}

// Release tears down the audio subsystem. Idempotent, safe on every exit
// path including errors.
func (r *Recorder) Release() {
	if !r.initialized {
		return
	}
	portaudio.Terminate()
	r.initialized = false
}

// TurnOptions tunes end-of-utterance detection for one listening turn.
type TurnOptions struct {
	SilenceRMS   float64          // below this a frame counts as silence
	SilenceAfter time.Duration    // this much trailing silence ends the turn
	MaxLength    time.Duration    // hard cap on the turn
	Feedback     chan<- []float32 // optional copy for the preview stream
}

func (o *TurnOptions) defaults() {
	if o.SilenceRMS <= 0 {
		o.SilenceRMS = 0.015
	}
	if o.SilenceAfter <= 0 {
		o.SilenceAfter = 600 * time.Millisecond
	}
	if o.MaxLength <= 0 {
		o.MaxLength = 10 * time.Second
	}
}

// RecordTurn captures one user utterance: waits for speech, then stops after
// trailing silence, the max length, or ctx cancellation. Returns mono 16 kHz
// float32 samples. Capture frames are mirrored into opt.Feedback when set;
// a full feedback channel is skipped, never blocked on.
func (r *Recorder) RecordTurn(ctx context.Context, opt TurnOptions) ([]float32, error) {
	if !r.initialized {
		return nil, ErrMicDenied
	}
	opt.defaults()

	buf := make([]float32, frameSize)
	out := make([]float32, 0, sampleRate*3)

	stream, err := portaudio.OpenDefaultStream(1, 0, sampleRate, len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMicDenied, err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMicDenied, err)
	}
	defer stream.Stop()

	var (
		speaking      bool
		silenceFrames int
	)

	const frameMs = 1000 * frameSize / sampleRate
	maxFrames := int(opt.MaxLength.Milliseconds()) / frameMs
	silenceLimit := int(opt.SilenceAfter.Milliseconds()) / frameMs

	for i := 0; i < maxFrames; i++ {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}

		if err := stream.Read(); err != nil {
			return nil, fmt.Errorf("read stream: %w", err)
		}

		if opt.Feedback != nil {
			chunk := append([]float32(nil), buf...)
			select {
			case opt.Feedback <- chunk:
			default:
			}
		}

		if frameRMS(buf) > opt.SilenceRMS {
			speaking = true
			silenceFrames = 0
			out = append(out, buf...)
			continue
		}
		if speaking {
			silenceFrames++
			if silenceFrames >= silenceLimit {
				break
			}
			out = append(out, buf...)
		}
	}

	return out, nil
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
