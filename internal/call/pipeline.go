package call

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	log "log/slog"

	openai "github.com/openai/openai-go/v3"

	"github.com/k4ssym/persona/internal/audio"
	"github.com/k4ssym/persona/internal/tts"
	"github.com/k4ssym/persona/pkg/audioconv"
	"github.com/k4ssym/persona/pkg/stt"
)

// Pipeline is the self-hosted driver: capture a turn, recognize it, ask the
// model, synthesize the reply, play it. Strict request/response turn-taking;
// the mic is never open while the speaker is.
type Pipeline struct {
	rec    *audio.Recorder
	player *audio.Player
	tr     *stt.Transcriber
	api    openai.Client
	model  string

	// Feedback mirrors captured audio chunks to the preview stream.
	Feedback chan<- []float32
}

func NewPipeline(rec *audio.Recorder, player *audio.Player, tr *stt.Transcriber, api openai.Client, model string) *Pipeline {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Pipeline{rec: rec, player: player, tr: tr, api: api, model: model}
}

func (p *Pipeline) Start(ctx context.Context, cfg Config) (Handle, error) {
	if p.tr == nil {
		return nil, fmt.Errorf("pipeline requires a transcriber")
	}

	h := &pipeHandle{
		events: make(chan Event, 32),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run(ctx, cfg, h)
	return h, nil
}

type pipeHandle struct {
	events chan Event
	stop   chan struct{}
	done   chan struct{}

	stopOnce sync.Once
	mu       sync.Mutex
	metrics  *Metrics
}

func (h *pipeHandle) Events() <-chan Event { return h.events }

func (h *pipeHandle) Metrics() *Metrics {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.metrics
}

func (h *pipeHandle) Stop(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.stop) })
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *pipeHandle) emit(ev Event) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

func (p *Pipeline) run(ctx context.Context, cfg Config, h *pipeHandle) {
	defer func() {
		h.events <- Event{Kind: CallEnd}
		close(h.events)
		close(h.done)
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-h.stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	h.emit(Event{Kind: CallStart})

	history := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(cfg.SystemPrompt),
	}

	var (
		totalTokens  int64
		turnCount    int
		totalLatency time.Duration
	)
	defer func() {
		m := &Metrics{Tokens: int(totalTokens)}
		if turnCount > 0 {
			m.LatencyMs = int(totalLatency.Milliseconds()) / turnCount
		}
		h.mu.Lock()
		h.metrics = m
		h.mu.Unlock()
	}()

	if cfg.FirstMessage != "" {
		h.emit(Event{Kind: Transcript, Role: RoleAssistant, Text: cfg.FirstMessage})
		if err := p.speak(runCtx, h, cfg.FirstMessage); err != nil {
			log.Warn("Greeting playback failed", "err", err)
		}
		history = append(history, openai.AssistantMessage(cfg.FirstMessage))
	}

	for {
		select {
		case <-runCtx.Done():
			return
		default:
		}

		pcm, err := p.rec.RecordTurn(runCtx, audio.TurnOptions{Feedback: p.Feedback})
		if err != nil {
			if runCtx.Err() != nil {
				return
			}
			h.emit(Event{Kind: CallError, Err: fmt.Errorf("capture: %w", err)})
			return
		}
		if len(pcm) == 0 {
			continue
		}

		res, err := p.tr.TranscribePCM(runCtx, pcm, stt.Options{Language: cfg.Language})
		if err != nil {
			log.Warn("Transcription failed, dropping turn", "err", err)
			continue
		}
		if res.Text == "" {
			continue
		}
		h.emit(Event{Kind: Transcript, Role: RoleUser, Text: res.Text})
		history = append(history, openai.UserMessage(res.Text))

		turnStart := time.Now()
		resp, err := p.api.Chat.Completions.New(runCtx, openai.ChatCompletionNewParams{
			Messages: history,
			Model:    openai.ChatModel(p.model),
		})
		if err != nil {
			if runCtx.Err() != nil {
				return
			}
			h.emit(Event{Kind: CallError, Err: fmt.Errorf("chat completion: %w", err)})
			return
		}
		totalLatency += time.Since(turnStart)
		turnCount++
		totalTokens += resp.Usage.TotalTokens

		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			log.Warn("Empty completion, dropping turn")
			continue
		}
		reply := resp.Choices[0].Message.Content
		history = append(history, openai.AssistantMessage(reply))

		h.emit(Event{Kind: Transcript, Role: RoleAssistant, Text: reply})
		if err := p.speak(runCtx, h, reply); err != nil {
			if runCtx.Err() != nil {
				return
			}
			log.Warn("Cloud synthesis failed, falling back to espeak", "err", err)
			h.emit(Event{Kind: SpeechStart})
			if err := tts.Speak(reply, cfg.Language); err != nil {
				log.Warn("Fallback playback failed", "err", err)
			}
			h.emit(Event{Kind: SpeechEnd})
		}
	}
}

// speak synthesizes text and plays it, bracketed by speech-start/speech-end
// with volume events in between.
func (p *Pipeline) speak(ctx context.Context, h *pipeHandle, text string) error {
	resp, err := p.api.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModelGPT4oMiniTTS,
		Voice:          openai.AudioSpeechNewParamsVoiceAlloy,
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return fmt.Errorf("tts: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("tts body: %w", err)
	}

	pcm, err := audioconv.Decode(data, audioconv.FormatMP3)
	if err != nil {
		return fmt.Errorf("decode tts: %w", err)
	}

	h.emit(Event{Kind: SpeechStart})
	defer h.emit(Event{Kind: SpeechEnd})

	return p.player.Play(ctx, pcm, func(lvl float64) {
		h.emit(Event{Kind: VolumeLevel, Volume: lvl})
	})
}
