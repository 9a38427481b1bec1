package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every tunable the daemon reads from the environment.
// Estimator rates are placeholders, not metering ground truth; override
// them per deployment.
type Config struct {
	// Presence detection
	Sensitivity  int // 0..100, higher fires easier
	Region       *Region
	CooldownMs   int
	HitStreak    int
	SamplePeriod time.Duration

	// Session
	MaxSessionDur time.Duration
	StopTimeout   time.Duration

	// Directive board
	DirectiveTTL time.Duration

	// Upstream call
	UpstreamURL  string // websocket voice service; empty => local pipeline
	OpenAIKey    string
	ProxyAddr    string // optional SOCKS address
	Language     string // "ru" or "en"
	ChatModel    string
	WhisperModel string // path to ggml model for the preview stream

	// Journal
	StoreDriver     string // "memory" or "redis"
	RedisAddr       string
	UnresolvedFloor time.Duration
	TokensPerSec    float64
	TokenOverhead   int
	LatencyBaseMs   int
	LatencyJitterMs int
	CostPerMinute   float64

	// Control and UI surfaces
	SocketPath string
	BridgeAddr string
}

// Region is the camera zone motion is evaluated in, in percent of the frame.
type Region struct {
	X, Y, W, H float64
}

func (r Region) Validate() error {
	if r.X < 0 || r.Y < 0 || r.W <= 0 || r.H <= 0 {
		return fmt.Errorf("region origin/size out of range: %+v", r)
	}
	if r.X+r.W > 100 || r.Y+r.H > 100 {
		return fmt.Errorf("region exceeds frame: %+v", r)
	}
	return nil
}

// Load reads settings from the environment. godotenv is expected to have
// populated it already (main loads the --env file first).
func Load() (Config, error) {
	cfg := Config{
		Sensitivity:     envInt("PERSONA_SENSITIVITY", 20),
		CooldownMs:      envInt("PERSONA_COOLDOWN_MS", 3000),
		HitStreak:       envInt("PERSONA_HIT_STREAK", 2),
		SamplePeriod:    envDur("PERSONA_SAMPLE_PERIOD", 500*time.Millisecond),
		MaxSessionDur:   envDur("PERSONA_MAX_SESSION", time.Hour),
		StopTimeout:     envDur("PERSONA_STOP_TIMEOUT", 5*time.Second),
		DirectiveTTL:    envDur("PERSONA_DIRECTIVE_TTL", 30*time.Second),
		UpstreamURL:     os.Getenv("PERSONA_UPSTREAM_URL"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		ProxyAddr:       os.Getenv("PERSONA_PROXY"),
		Language:        envStr("PERSONA_LANGUAGE", "ru"),
		ChatModel:       envStr("PERSONA_CHAT_MODEL", "gpt-4o-mini"),
		WhisperModel:    os.Getenv("PERSONA_WHISPER_MODEL"),
		StoreDriver:     envStr("PERSONA_STORE", "memory"),
		RedisAddr:       envStr("PERSONA_REDIS_ADDR", "127.0.0.1:6379"),
		UnresolvedFloor: envDur("PERSONA_UNRESOLVED_FLOOR", 10*time.Second),
		TokensPerSec:    envFloat("PERSONA_EST_TOKENS_PER_SEC", 2.5),
		TokenOverhead:   envInt("PERSONA_EST_TOKEN_OVERHEAD", 60),
		LatencyBaseMs:   envInt("PERSONA_EST_LATENCY_BASE_MS", 800),
		LatencyJitterMs: envInt("PERSONA_EST_LATENCY_JITTER_MS", 400),
		CostPerMinute:   envFloat("PERSONA_EST_COST_PER_MIN", 0.06),
		SocketPath:      envStr("PERSONA_SOCKET", "/tmp/persona.sock"),
		BridgeAddr:      envStr("PERSONA_BRIDGE_ADDR", "127.0.0.1:8093"),
	}

	if cfg.Sensitivity < 0 || cfg.Sensitivity > 100 {
		return cfg, fmt.Errorf("sensitivity out of range: %d", cfg.Sensitivity)
	}

	if zone := os.Getenv("PERSONA_REGION"); zone != "" {
		r, err := parseRegion(zone)
		if err != nil {
			return cfg, err
		}
		cfg.Region = &r
	}

	return cfg, nil
}

// parseRegion accepts "x,y,w,h" in percent, e.g. "25,20,50,60".
func parseRegion(s string) (Region, error) {
	var r Region
	n, err := fmt.Sscanf(s, "%f,%f,%f,%f", &r.X, &r.Y, &r.W, &r.H)
	if err != nil || n != 4 {
		return r, fmt.Errorf("bad region %q, want x,y,w,h", s)
	}
	if err := r.Validate(); err != nil {
		return r, err
	}
	return r, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
