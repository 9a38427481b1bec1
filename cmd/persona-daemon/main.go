package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/redis/go-redis/v9"

	"github.com/k4ssym/persona/internal/audio"
	"github.com/k4ssym/persona/internal/call"
	"github.com/k4ssym/persona/internal/camera"
	"github.com/k4ssym/persona/internal/config"
	"github.com/k4ssym/persona/internal/directive"
	"github.com/k4ssym/persona/internal/ipc"
	"github.com/k4ssym/persona/internal/journal"
	"github.com/k4ssym/persona/internal/presence"
	"github.com/k4ssym/persona/internal/proxy"
	"github.com/k4ssym/persona/internal/session"
	"github.com/k4ssym/persona/internal/ui"
	"github.com/k4ssym/persona/pkg/stt"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up")

	godotenv.Load(*envFile)
	cfg, err := config.Load()
	if err != nil {
		log.Error("Bad configuration", "err", err)
		os.Exit(1)
	}

	store := newStore(cfg)
	defer store.Close()

	est := journal.NewEstimator(journal.EstimatorConfig{
		TokensPerSec:    cfg.TokensPerSec,
		TokenOverhead:   cfg.TokenOverhead,
		LatencyBaseMs:   cfg.LatencyBaseMs,
		LatencyJitterMs: cfg.LatencyJitterMs,
		CostPerMinute:   cfg.CostPerMinute,
		UnresolvedFloor: cfg.UnresolvedFloor,
	})
	logger := journal.NewLogger(store, est)

	log.Debug("Loaded journal", "driver", cfg.StoreDriver)

	source := camera.NewPushSource()
	bridge := ui.NewBridge(source)

	board := directive.NewBoard(cfg.DirectiveTTL, bridge.PushDirective)
	defer board.Close()

	rec := audio.NewRecorder()
	svc, preview := newService(cfg, rec)

	ctl := session.NewController(svc, rec, logger, board, session.Config{
		Language:    cfg.Language,
		MaxDuration: cfg.MaxSessionDur,
		StopTimeout: cfg.StopTimeout,
	})
	if preview != nil {
		ctl.SetPreview(preview)
	}

	detector := presence.NewDetector(presence.Config{
		Sensitivity: cfg.Sensitivity,
		Region:      cfg.Region,
		Cooldown:    time.Duration(cfg.CooldownMs) * time.Millisecond,
		HitStreak:   cfg.HitStreak,
	}, func() {
		log.Info("Presence detected, starting session")
		ctl.Start()
	})
	ctl.SetSuppressor(detector)

	sampler := camera.NewSampler(source, cfg.SamplePeriod, func(cur, prev camera.Frame) {
		detector.Evaluate(cur, prev)
	})
	go sampler.Run(context.Background())

	bridge.OnStart = ctl.Start
	bridge.OnStop = ctl.Stop
	go forwardUpdates(ctl, bridge)
	go func() {
		if err := bridge.Serve(cfg.BridgeAddr); err != nil {
			log.Error("UI bridge failed", "err", err)
			os.Exit(1)
		}
	}()

	if err := ipc.StartServer(cfg.SocketPath, controlHandler(ctl, logger)); err != nil {
		log.Error("Failed ipc server", "err", err)
		os.Exit(1)
	}

	log.Info("Boot up - successful")

	select {}
}

func newStore(cfg config.Config) journal.Store {
	switch cfg.StoreDriver {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store, err := journal.NewStore(journal.DriverRedis, journal.WithRedisClient(client))
		if err != nil {
			log.Error("Failed to open redis journal", "err", err)
			os.Exit(1)
		}
		return store
	default:
		store, err := journal.NewStore(journal.DriverMemory)
		if err != nil {
			log.Error("Failed to open journal", "err", err)
			os.Exit(1)
		}
		return store
	}
}

// newService picks the call driver: a remote websocket voice service when
// PERSONA_UPSTREAM_URL is set, otherwise the local capture/chat/speak
// pipeline.
func newService(cfg config.Config, rec *audio.Recorder) (call.Service, session.Preview) {
	if cfg.UpstreamURL != "" {
		log.Debug("Using upstream voice service", "url", cfg.UpstreamURL)
		return call.NewWireService(cfg.UpstreamURL), nil
	}

	if cfg.OpenAIKey == "" {
		log.Error("OPENAI_API_KEY not set and no upstream configured")
		os.Exit(1)
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIKey)}
	httpClient, err := proxy.NewSocksClient(cfg.ProxyAddr)
	if err != nil {
		log.Error("Failed to dial socks proxy", "proxy", cfg.ProxyAddr, "err", err)
		os.Exit(1)
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	client := openai.NewClient(opts...)

	player := audio.NewPlayer()
	player.Duck = audio.NewDucker("persona", 0.3, 10)
	pipe := call.NewPipeline(rec, player, mustTranscriber(cfg), client, cfg.ChatModel)

	var preview session.Preview
	if cfg.WhisperModel != "" {
		fp := call.NewFeedbackPreview(mustTranscriber(cfg), cfg.Language)
		pipe.Feedback = fp.Chunks()
		preview = fp
	}
	return pipe, preview
}

var sharedTr *stt.Transcriber

func mustTranscriber(cfg config.Config) *stt.Transcriber {
	if sharedTr != nil {
		return sharedTr
	}
	path := cfg.WhisperModel
	if path == "" {
		path = "third_party/whisper.cpp/models/ggml-base.bin"
	}
	tr, err := stt.NewTranscriber(path)
	if err != nil {
		log.Error("Failed to init whisper", "model", path, "err", err)
		os.Exit(1)
	}
	sharedTr = tr
	return tr
}

func forwardUpdates(ctl *session.Controller, bridge *ui.Bridge) {
	updates, cancel := ctl.Subscribe()
	defer cancel()
	lastText := ""
	for u := range updates {
		bridge.PushState(u)
		if text := ctl.LastText(); text != lastText {
			lastText = text
			bridge.PushPreview(text)
		}
	}
}

func controlHandler(ctl *session.Controller, logger *journal.Logger) ipc.Handler {
	return func(req ipc.Request) ipc.Response {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		switch req.Cmd {
		case "start":
			ctl.Start()
			return ipc.Response{OK: true, State: string(ctl.State())}

		case "stop":
			ctl.Stop()
			return ipc.Response{OK: true, State: string(ctl.State())}

		case "status":
			count, err := logger.Count(ctx)
			if err != nil {
				return ipc.Response{Error: err.Error()}
			}
			return ipc.Response{
				OK:      true,
				State:   string(ctl.State()),
				Session: ctl.SessionID(),
				Count:   count,
			}

		case "export":
			f, err := parseRange(req.From, req.To)
			if err != nil {
				return ipc.Response{Error: err.Error()}
			}
			sessions, err := logger.List(ctx, f)
			if err != nil {
				return ipc.Response{Error: err.Error()}
			}
			var sb strings.Builder
			if err := journal.Export(&sb, sessions); err != nil {
				return ipc.Response{Error: err.Error()}
			}
			return ipc.Response{OK: true, Count: len(sessions), Payload: sb.String()}

		case "purge":
			if !req.Confirm {
				return ipc.Response{Error: "purge requires confirmation"}
			}
			if err := logger.PurgeAll(ctx); err != nil {
				return ipc.Response{Error: err.Error()}
			}
			return ipc.Response{OK: true}

		default:
			log.Warn("Unknown command", "cmd", req.Cmd)
			return ipc.Response{Error: "unknown command: " + req.Cmd}
		}
	}
}

func parseRange(from, to string) (journal.Filter, error) {
	var f journal.Filter
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return f, err
		}
		f.From = &t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return f, err
		}
		f.To = &t
	}
	return f, nil
}
