package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k4ssym/persona/internal/camera"
	"github.com/k4ssym/persona/internal/config"
)

func flatFrame(v byte) camera.Frame {
	f := make(camera.Frame, camera.FrameW*camera.FrameH*4)
	for i := range f {
		f[i] = v
	}
	return f
}

// perturb flips n cells hard enough to clear the per-cell noise floor.
func perturb(f camera.Frame, n int) camera.Frame {
	out := make(camera.Frame, len(f))
	copy(out, f)
	for c := 0; c < n; c++ {
		i := c * 4
		out[i] += 200
		out[i+1] += 200
	}
	return out
}

func TestThresholdMonotonic(t *testing.T) {
	cells := camera.FrameW * camera.FrameH
	prev := Threshold(0, cells)
	for s := 1; s <= 100; s++ {
		cur := Threshold(s, cells)
		assert.LessOrEqual(t, cur, prev, "sensitivity %d must not raise the bar", s)
		prev = cur
	}
	assert.Zero(t, Threshold(100, cells))
}

func TestThresholdClamps(t *testing.T) {
	cells := 100
	assert.Equal(t, Threshold(0, cells), Threshold(-5, cells))
	assert.Equal(t, Threshold(100, cells), Threshold(250, cells))
}

func TestEvaluateNilPrev(t *testing.T) {
	d := NewDetector(Config{Sensitivity: 50}, nil)
	sig := d.Evaluate(flatFrame(10), nil)
	assert.False(t, sig.Hit)
	assert.False(t, sig.Fired)
}

func TestFiresAfterStreak(t *testing.T) {
	d := NewDetector(Config{Sensitivity: 80, HitStreak: 2}, nil)

	base := flatFrame(10)
	moved := perturb(base, 2000)

	sig := d.Evaluate(moved, base)
	require.True(t, sig.Hit)
	assert.False(t, sig.Fired, "one hit is not presence yet")

	sig = d.Evaluate(moved, base)
	require.True(t, sig.Hit)
	assert.True(t, sig.Fired, "second consecutive hit fires")
}

func TestMissResetsStreak(t *testing.T) {
	d := NewDetector(Config{Sensitivity: 80, HitStreak: 2}, nil)

	base := flatFrame(10)
	moved := perturb(base, 2000)

	require.True(t, d.Evaluate(moved, base).Hit)
	assert.False(t, d.Evaluate(base, base).Hit, "identical frames never hit")

	// Streak restarted: one more hit must not fire.
	assert.False(t, d.Evaluate(moved, base).Fired)
}

func TestCooldownBlocksRefire(t *testing.T) {
	d := NewDetector(Config{Sensitivity: 80, HitStreak: 2, Cooldown: 3 * time.Second}, nil)
	clock := time.Unix(1000, 0)
	d.now = func() time.Time { return clock }

	base := flatFrame(10)
	moved := perturb(base, 2000)

	d.Evaluate(moved, base)
	require.True(t, d.Evaluate(moved, base).Fired)

	// Inside cooldown: streak builds but firing is held.
	clock = clock.Add(time.Second)
	d.Evaluate(moved, base)
	assert.False(t, d.Evaluate(moved, base).Fired)

	// Past cooldown.
	clock = clock.Add(3 * time.Second)
	assert.True(t, d.Evaluate(moved, base).Fired)
}

func TestSuppressGatesFiring(t *testing.T) {
	d := NewDetector(Config{Sensitivity: 80, HitStreak: 2}, nil)

	base := flatFrame(10)
	moved := perturb(base, 2000)

	d.Suppress(true)
	for i := 0; i < 5; i++ {
		sig := d.Evaluate(moved, base)
		assert.True(t, sig.Hit, "evaluation keeps running while suppressed")
		assert.False(t, sig.Fired)
	}

	// Unsuppressing must not fire on stale streak.
	d.Suppress(false)
	assert.False(t, d.Evaluate(moved, base).Fired)
	assert.True(t, d.Evaluate(moved, base).Fired)
}

func TestRegionLimitsDiff(t *testing.T) {
	// Motion confined to the top-left corner, region over the bottom-right.
	region := &config.Region{X: 50, Y: 50, W: 50, H: 50}
	d := NewDetector(Config{Sensitivity: 80, HitStreak: 2, Region: region}, nil)

	base := flatFrame(10)
	moved := perturb(base, 200) // first 200 cells are rows 0..3

	sig := d.Evaluate(moved, base)
	assert.Zero(t, sig.Diff)
	assert.False(t, sig.Hit)
}
