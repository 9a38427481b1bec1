package journal

import (
	"math"
	"math/rand"
	"time"
)

// EstimatorConfig holds the linear models used when the upstream never
// reports usage. The defaults are placeholders, not metering ground truth;
// deployments should calibrate them.
type EstimatorConfig struct {
	TokensPerSec    float64
	TokenOverhead   int
	LatencyBaseMs   int
	LatencyJitterMs int // jitter is uniform in [0, LatencyJitterMs)
	CostPerMinute   float64
	UnresolvedFloor time.Duration
}

func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		TokensPerSec:    2.5,
		TokenOverhead:   60,
		LatencyBaseMs:   800,
		LatencyJitterMs: 400,
		CostPerMinute:   0.06,
		UnresolvedFloor: 10 * time.Second,
	}
}

type Estimator struct {
	cfg EstimatorConfig
	rng *rand.Rand
}

func NewEstimator(cfg EstimatorConfig) *Estimator {
	if cfg.TokensPerSec <= 0 {
		cfg.TokensPerSec = 2.5
	}
	if cfg.UnresolvedFloor <= 0 {
		cfg.UnresolvedFloor = 10 * time.Second
	}
	return &Estimator{cfg: cfg, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Fill populates metrics and the outcome classification on a finalized
// session. Reported figures win; only the gaps are estimated, and the
// session is flagged Estimated whenever any gap was filled.
func (e *Estimator) Fill(s *Session, rep *Report) {
	dur := float64(s.DurationSeconds)

	if rep != nil && rep.Tokens > 0 {
		s.TokensUsed = rep.Tokens
	} else {
		s.TokensUsed = int(dur*e.cfg.TokensPerSec) + e.cfg.TokenOverhead
		s.Estimated = true
	}

	if rep != nil && rep.LatencyMs > 0 {
		s.LatencyMs = rep.LatencyMs
	} else {
		jitter := 0
		if e.cfg.LatencyJitterMs > 0 {
			jitter = e.rng.Intn(e.cfg.LatencyJitterMs)
		}
		s.LatencyMs = e.cfg.LatencyBaseMs + jitter
		s.Estimated = true
	}

	if rep != nil && rep.Cost > 0 {
		s.Cost = rep.Cost
	} else {
		s.Cost = math.Round(dur/60*e.cfg.CostPerMinute*10000) / 10000
		s.Estimated = true
	}

	// Short sessions mean the visitor gave up or got nothing useful.
	switch {
	case rep != nil && rep.Status != "":
		s.Status = rep.Status
	case time.Duration(s.DurationSeconds)*time.Second < e.cfg.UnresolvedFloor:
		s.Status = StatusUnresolved
	default:
		s.Status = StatusResolved
	}
}
