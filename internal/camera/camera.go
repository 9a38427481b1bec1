package camera

import (
	"context"
	"errors"
	"sync"
	"time"

	log "log/slog"
)

// Frames are downsampled to a fixed low-res grid before they reach the
// detector; motion diffing never needs more than this.
const (
	FrameW = 64
	FrameH = 48
)

// ErrUnavailable means the feed is denied or gone. The kiosk degrades to
// manual start; nothing else should treat this as fatal.
var ErrUnavailable = errors.New("camera feed unavailable")

// Frame is interleaved RGBA at FrameW x FrameH.
type Frame []byte

func (f Frame) Valid() bool {
	return len(f) == FrameW*FrameH*4
}

// Source yields the most recent frame of the feed.
type Source interface {
	Grab(ctx context.Context) (Frame, error)
}

// PushSource is fed by whoever owns the physical camera (the presentation
// layer streams low-res frames over the bridge). Grab returns the latest
// pushed frame, or ErrUnavailable once the feed is marked lost.
type PushSource struct {
	mu     sync.Mutex
	latest Frame
	lost   bool
}

func NewPushSource() *PushSource { return &PushSource{} }

func (p *PushSource) Push(f Frame) {
	if !f.Valid() {
		return
	}
	p.mu.Lock()
	p.latest = append(Frame(nil), f...)
	p.lost = false
	p.mu.Unlock()
}

// MarkLost flags the feed as gone until the next Push.
func (p *PushSource) MarkLost() {
	p.mu.Lock()
	p.lost = true
	p.latest = nil
	p.mu.Unlock()
}

func (p *PushSource) Grab(ctx context.Context) (Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lost || p.latest == nil {
		return nil, ErrUnavailable
	}
	return p.latest, nil
}

// Sink receives consecutive frame pairs. prev is nil on the first sample.
type Sink func(cur, prev Frame)

// Sampler pulls frames from a Source on a fixed cadence and hands
// (current, previous) pairs to its sink. It keeps ticking while the feed is
// unavailable so detection resumes as soon as frames come back.
type Sampler struct {
	src    Source
	period time.Duration
	sink   Sink

	prev Frame
}

func NewSampler(src Source, period time.Duration, sink Sink) *Sampler {
	if period <= 0 {
		period = 500 * time.Millisecond
	}
	return &Sampler{src: src, period: period, sink: sink}
}

// Run blocks until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	tick := time.NewTicker(s.period)
	defer tick.Stop()

	warned := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		cur, err := s.src.Grab(ctx)
		if err != nil {
			if !warned {
				log.Warn("Presence feed unavailable, manual start only", "err", err)
				warned = true
			}
			s.prev = nil
			continue
		}
		warned = false

		s.sink(cur, s.prev)
		s.prev = cur
	}
}
