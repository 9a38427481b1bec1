package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	log "log/slog"

	ws "github.com/gorilla/websocket"
)

// WireService talks to a managed voice service over a websocket. The service
// owns the audio path end to end; we only exchange control and transcript
// frames.
type WireService struct {
	url string
}

func NewWireService(url string) *WireService {
	return &WireService{url: url}
}

// frame is the JSON wire format, both directions.
type frame struct {
	Type      string  `json:"type"`
	Role      string  `json:"role,omitempty"`
	Text      string  `json:"text,omitempty"`
	Partial   bool    `json:"partial,omitempty"`
	Level     float64 `json:"level,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Tokens    int     `json:"tokens,omitempty"`
	LatencyMs int     `json:"latencyMs,omitempty"`
	Cost      float64 `json:"cost,omitempty"`

	// start frame only
	Language           string `json:"language,omitempty"`
	SystemPrompt       string `json:"systemPrompt,omitempty"`
	FirstMessage       string `json:"firstMessage,omitempty"`
	MaxDurationSeconds int    `json:"maxDurationSeconds,omitempty"`
}

func (s *WireService) Start(ctx context.Context, cfg Config) (Handle, error) {
	log.Debug("Dialing voice service", "url", s.url)

	conn, _, err := ws.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial voice service: %w", err)
	}

	start := frame{
		Type:               "start",
		Language:           cfg.Language,
		SystemPrompt:       cfg.SystemPrompt,
		FirstMessage:       cfg.FirstMessage,
		MaxDurationSeconds: int(cfg.MaxDuration.Seconds()),
	}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send start: %w", err)
	}

	h := &wireHandle{
		conn:   conn,
		events: make(chan Event, 32),
		done:   make(chan struct{}),
	}
	go h.readLoop()
	return h, nil
}

type wireHandle struct {
	conn   *ws.Conn
	events chan Event
	done   chan struct{}

	mu      sync.Mutex
	metrics *Metrics
	stopped bool
}

func (h *wireHandle) Events() <-chan Event { return h.events }

func (h *wireHandle) Metrics() *Metrics {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.metrics
}

type incomeKind uint

const (
	connClosed incomeKind = iota
	readFailed
	readOK
)

type income struct {
	kind incomeKind
	msg  []byte
	err  error
}

func (h *wireHandle) read() income {
	_, msg, err := h.conn.ReadMessage()
	if err != nil {
		if ws.IsCloseError(err,
			ws.CloseNormalClosure,
			ws.CloseGoingAway,
			ws.CloseAbnormalClosure) {
			return income{kind: connClosed, err: err}
		}
		return income{kind: readFailed, err: err}
	}
	return income{kind: readOK, msg: msg}
}

// finish emits the terminal event and releases everything the handle owns.
// The send must not block: a consumer that walked away mid-call leaves the
// buffer full, and the teardown has to complete regardless.
func (h *wireHandle) finish() {
	select {
	case h.events <- Event{Kind: CallEnd}:
	default:
	}
	close(h.events)
	close(h.done)
	if h.conn != nil {
		h.conn.Close()
	}
}

func (h *wireHandle) readLoop() {
	defer h.finish()

	for {
		in := h.read()
		switch in.kind {
		case connClosed:
			log.Debug("Voice service closed connection")
			return

		case readFailed:
			// A dead transport means a dead call, not something to retry
			// mid-session.
			log.Error("Voice service read failed", "err", in.err)
			h.events <- Event{Kind: CallError, Err: in.err}
			return

		case readOK:
			ev, end, ok := h.parse(in.msg)
			if !ok {
				continue
			}
			if ev != nil {
				h.events <- *ev
			}
			if end {
				return
			}
		}
	}
}

// parse maps one wire frame onto the event vocabulary. Unknown frame types
// are skipped, not errors; the service may speak a newer dialect.
func (h *wireHandle) parse(msg []byte) (ev *Event, end, ok bool) {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		log.Warn("Unparseable frame from voice service", "err", err)
		return nil, false, false
	}

	switch f.Type {
	case "call-start":
		return &Event{Kind: CallStart}, false, true
	case "call-end":
		return nil, true, true
	case "speech-start":
		return &Event{Kind: SpeechStart}, false, true
	case "speech-end":
		return &Event{Kind: SpeechEnd}, false, true
	case "volume-level":
		return &Event{Kind: VolumeLevel, Volume: ClampVolume(f.Level)}, false, true
	case "transcript":
		role := RoleAssistant
		if f.Role == "user" {
			role = RoleUser
		}
		return &Event{Kind: Transcript, Role: role, Text: f.Text, Partial: f.Partial}, false, true
	case "report":
		h.mu.Lock()
		h.metrics = &Metrics{Tokens: f.Tokens, LatencyMs: f.LatencyMs, Cost: f.Cost}
		h.mu.Unlock()
		return nil, false, true
	case "error":
		return &Event{Kind: CallError, Err: fmt.Errorf("upstream: %s", f.Reason)}, false, true
	default:
		log.Debug("Skipping unknown frame", "type", f.Type)
		return nil, false, false
	}
}

// Stop sends the stop frame and waits for the service to close the call.
// If ctx expires first the connection is torn down locally so the engine
// still converges.
func (h *wireHandle) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.mu.Unlock()

	if err := h.conn.WriteJSON(frame{Type: "stop"}); err != nil {
		h.conn.Close()
		return nil
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		h.conn.Close()
		return ctx.Err()
	}
}
