package presence

import (
	"sync"
	"time"

	log "log/slog"

	"github.com/k4ssym/persona/internal/camera"
	"github.com/k4ssym/persona/internal/config"
)

// thresholdK is tuned so that sensitivity 20 needs roughly 8% of the ROI
// cells to change before a raw hit registers.
const thresholdK = 0.0016

// perCellNoiseFloor is the summed per-channel absolute difference a cell
// must exceed to count as changed. Filters sensor noise and slow light drift.
const perCellNoiseFloor = 100

// Signal is the outcome of evaluating one frame pair. Diff and Threshold are
// exposed for the debug overlay regardless of whether anything fired.
type Signal struct {
	Diff      int
	Threshold float64
	Hit       bool
	Fired     bool
}

type Config struct {
	Sensitivity int // 0..100
	Region      *config.Region
	Cooldown    time.Duration
	HitStreak   int
}

// Detector debounces raw motion hits into presence events. It is safe for
// the sampler goroutine and the controller to use concurrently.
type Detector struct {
	cfg    Config
	onFire func()

	mu         sync.Mutex
	suppressed bool
	streak     int
	lastFired  time.Time

	now func() time.Time // stubbed in tests
}

func NewDetector(cfg Config, onFire func()) *Detector {
	if cfg.HitStreak < 2 {
		cfg.HitStreak = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 3 * time.Second
	}
	return &Detector{cfg: cfg, onFire: onFire, now: time.Now}
}

// Suppress pauses firing while a session is live. Evaluation keeps running
// so the debug feed stays alive.
func (d *Detector) Suppress(on bool) {
	d.mu.Lock()
	d.suppressed = on
	if on {
		d.streak = 0
	}
	d.mu.Unlock()
}

// Threshold converts sensitivity into the raw cell count a frame pair must
// exceed. Higher sensitivity always means a lower (or equal) bar.
func Threshold(sensitivity int, regionCells int) float64 {
	if sensitivity < 0 {
		sensitivity = 0
	}
	if sensitivity > 100 {
		sensitivity = 100
	}
	return float64(100-sensitivity) * float64(regionCells) * thresholdK
}

// Evaluate diffs cur against prev inside the configured region and updates
// the debounce state. prev may be nil (first sample after feed loss).
func (d *Detector) Evaluate(cur, prev camera.Frame) Signal {
	if prev == nil || !cur.Valid() || !prev.Valid() {
		return Signal{}
	}

	x0, y0, x1, y1 := d.bounds()
	area := (x1 - x0) * (y1 - y0)
	if area < 1 {
		area = 1
	}

	diff := 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			i := (y*camera.FrameW + x) * 4
			dr := absDiff(cur[i], prev[i])
			dg := absDiff(cur[i+1], prev[i+1])
			db := absDiff(cur[i+2], prev[i+2])
			if dr+dg+db > perCellNoiseFloor {
				diff++
			}
		}
	}

	thr := Threshold(d.cfg.Sensitivity, area)
	sig := Signal{Diff: diff, Threshold: thr, Hit: float64(diff) > thr}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !sig.Hit || d.suppressed {
		d.streak = 0
		return sig
	}

	d.streak++
	now := d.now()
	if d.streak >= d.cfg.HitStreak && now.Sub(d.lastFired) > d.cfg.Cooldown {
		d.lastFired = now
		d.streak = 0
		sig.Fired = true
		log.Info("Presence detected", "diff", diff, "threshold", thr)
		if d.onFire != nil {
			go d.onFire()
		}
	}
	return sig
}

// bounds maps the percent region onto detector cells, clamped to the frame.
// A nil region means the full frame.
func (d *Detector) bounds() (x0, y0, x1, y1 int) {
	if d.cfg.Region == nil {
		return 0, 0, camera.FrameW, camera.FrameH
	}
	r := d.cfg.Region
	x0 = clampInt(int(r.X/100*camera.FrameW), 0, camera.FrameW-1)
	y0 = clampInt(int(r.Y/100*camera.FrameH), 0, camera.FrameH-1)
	x1 = clampInt(ceilInt((r.X+r.W)/100*camera.FrameW), x0+1, camera.FrameW)
	y1 = clampInt(ceilInt((r.Y+r.H)/100*camera.FrameH), y0+1, camera.FrameH)
	return
}

func absDiff(a, b byte) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ceilInt(f float64) int {
	i := int(f)
	if f > float64(i) {
		return i + 1
	}
	return i
}
