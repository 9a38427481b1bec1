package audio

import (
	"context"
	"math"
	"sync"
	"time"

	log "log/slog"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

// Player renders assistant replies. Playback is strictly sequential with
// capture: the pipeline never records while Play is running.
type Player struct {
	initOnce sync.Once
	initErr  error

	// Duck, when set, lowers foreign audio streams for the duration of
	// each Play call.
	Duck *Ducker
}

func NewPlayer() *Player { return &Player{} }

func (p *Player) init() error {
	p.initOnce.Do(func() {
		sr := beep.SampleRate(sampleRate)
		p.initErr = speaker.Init(sr, sr.N(time.Second/10))
	})
	return p.initErr
}

// Play streams mono 16 kHz PCM to the speaker, invoking onLevel with a 0..1
// amplitude scalar as it goes (the avatar's lipsync input). Blocks until
// playback finishes or ctx is cancelled.
func (p *Player) Play(ctx context.Context, pcm []float32, onLevel func(float64)) error {
	if len(pcm) == 0 {
		return nil
	}
	if err := p.init(); err != nil {
		return err
	}

	if p.Duck != nil {
		if err := p.Duck.Engage(ctx); err != nil {
			log.Debug("Ducking unavailable", "err", err)
		}
		defer func() {
			if err := p.Duck.Disengage(context.Background()); err != nil {
				log.Debug("Unducking failed", "err", err)
			}
		}()
	}

	done := make(chan struct{})
	ps := &pcmStreamer{pcm: pcm, onLevel: onLevel}
	speaker.Play(beep.Seq(ps, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		if onLevel != nil {
			onLevel(0)
		}
		return nil
	case <-ctx.Done():
		speaker.Clear()
		if onLevel != nil {
			onLevel(0)
		}
		return ctx.Err()
	}
}

// Chime plays a short attention tone before listening starts.
func (p *Player) Chime(ctx context.Context) error {
	const (
		freq = 880.0
		dur  = 150 * time.Millisecond
	)
	n := int(float64(sampleRate) * dur.Seconds())
	pcm := make([]float32, n)
	for i := range pcm {
		// Fade out linearly so the tone does not click.
		env := 1 - float64(i)/float64(n)
		pcm[i] = float32(0.2 * env * math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
	}
	return p.Play(ctx, pcm, nil)
}

type pcmStreamer struct {
	pcm     []float32
	pos     int
	onLevel func(float64)
}

func (s *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= len(s.pcm) {
		return 0, false
	}
	n := 0
	for i := range samples {
		if s.pos >= len(s.pcm) {
			break
		}
		v := float64(s.pcm[s.pos])
		samples[i][0] = v
		samples[i][1] = v
		s.pos++
		n++
	}
	if s.onLevel != nil && n > 0 {
		s.onLevel(level(s.pcm[s.pos-n : s.pos]))
	}
	return n, true
}

func (s *pcmStreamer) Err() error { return nil }

// level maps chunk RMS onto 0..1. Speech RMS tops out well below full
// scale, so a gain of 4 gives the avatar a usable range.
func level(f []float32) float64 {
	v := frameRMS(f) * 4
	if v > 1 {
		v = 1
	}
	return v
}
