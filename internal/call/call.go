package call

import (
	"context"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind values mirror the upstream service's event vocabulary. The engine
// depends only on these, not on any particular transport.
type Kind string

const (
	CallStart   Kind = "call-start"
	CallEnd     Kind = "call-end"
	SpeechStart Kind = "speech-start"
	SpeechEnd   Kind = "speech-end"
	VolumeLevel Kind = "volume-level"
	Transcript  Kind = "transcript"
	CallError   Kind = "error"
)

type Event struct {
	Kind    Kind
	Role    Role    // transcript only
	Text    string  // transcript only
	Partial bool    // transcript only
	Volume  float64 // volume-level only, 0..1
	Err     error   // error only
}

// Metrics is the upstream end-of-call report. Nil when the service never
// sent one; the journal then falls back to estimation.
type Metrics struct {
	Tokens    int
	LatencyMs int
	Cost      float64
}

type Config struct {
	Language     string // "ru" or "en"
	SystemPrompt string
	FirstMessage string
	MaxDuration  time.Duration
}

// Handle is one live call. Events closes after the final CallEnd.
type Handle interface {
	Events() <-chan Event
	// Stop asks the upstream to end the call. It must respect ctx: a
	// hanging teardown is the caller's problem to time out, not ours to
	// block on.
	Stop(ctx context.Context) error
	// Metrics reports end-of-call figures once the call ended, nil if the
	// upstream never supplied them.
	Metrics() *Metrics
}

type Service interface {
	Start(ctx context.Context, cfg Config) (Handle, error)
}

// DefaultSystemPrompt tells the assistant to answer as a receptionist and
// to keep wayfinding replies in plain speech so the directive parser can
// work on them.
func DefaultSystemPrompt(language string) string {
	if language == "en" {
		return "You are a voice receptionist. Be concise (1-2 sentences). If unsure, ask a clarifying question.\n\n" +
			"IMPORTANT: Respond in English.\n\n" +
			"When you give directions inside the building, speak naturally (as normal conversation). " +
			"Include concrete details where possible: department name, room number, floor number, contact (phone/email), " +
			"and direction words (left/right/straight/up/down, elevator/stairs). " +
			"Do NOT output JSON, XML, or any special markup."
	}
	return "Ты голосовой ресепшионист. Отвечай кратко (1-2 предложения). Если не уверен — задай уточняющий вопрос.\n\n" +
		"ВАЖНО: Отвечай на русском языке.\n\n" +
		"Когда даёшь навигацию по зданию, говори естественно (как в обычной беседе). " +
		"По возможности называй конкретику: отдел, кабинет/комната, этаж, контакты (телефон/почта) " +
		"и направления (налево/направо/прямо/вверх/вниз, лифт/лестница). " +
		"НЕ выводи JSON, XML или любую разметку."
}

func DefaultFirstMessage(language string) string {
	if language == "en" {
		return "Hello! How can I help you?"
	}
	return "Здравствуйте! Чем могу помочь?"
}

// ClampVolume normalizes upstream volume reports: some services send 0..1,
// some 0..100.
func ClampVolume(v float64) float64 {
	if v != v || v < 0 { // NaN guard
		return 0
	}
	if v > 1 {
		v = v / 100
	}
	if v > 1 {
		return 1
	}
	return v
}
