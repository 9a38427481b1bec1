package ui

import (
	"encoding/json"
	log "log/slog"
	"net/http"
	"sync"

	ws "github.com/gorilla/websocket"

	"github.com/k4ssym/persona/internal/camera"
	"github.com/k4ssym/persona/internal/directive"
	"github.com/k4ssym/persona/internal/session"
)

// Bridge serves the kiosk front-end over a websocket. The front-end
// pushes raw camera frames as binary messages and control commands as
// JSON; the daemon pushes state changes, preview text and directive
// snapshots back.
type Bridge struct {
	source *camera.PushSource

	OnStart func()
	OnStop  func()

	upgrader ws.Upgrader

	mu    sync.Mutex
	conns map[*ws.Conn]struct{}
}

type inbound struct {
	Type string `json:"type"`
}

type outbound struct {
	Type      string            `json:"type"`
	State     string            `json:"state,omitempty"`
	Speaking  bool              `json:"speaking,omitempty"`
	Level     float64           `json:"level,omitempty"`
	Error     string            `json:"error,omitempty"`
	Text      string            `json:"text,omitempty"`
	Directive *directive.Record `json:"directive,omitempty"`
}

func NewBridge(source *camera.PushSource) *Bridge {
	return &Bridge{
		source: source,
		upgrader: ws.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*ws.Conn]struct{}),
	}
}

// Serve starts the HTTP listener. Blocks, so run it in a goroutine.
func (b *Bridge) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleWS)
	log.Info("ui bridge listening", "addr", addr)
	return http.ListenAndServe(addr, mux)
}

func (b *Bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("ws upgrade failed", "err", err)
		return
	}

	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()

	log.Info("ui client connected", "remote", r.RemoteAddr)
	b.readLoop(conn)
}

func (b *Bridge) readLoop(conn *ws.Conn) {
	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		conn.Close()
		b.source.MarkLost()
		log.Info("ui client disconnected")
	}()

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if !ws.IsCloseError(err,
				ws.CloseNormalClosure,
				ws.CloseGoingAway,
				ws.CloseAbnormalClosure) {
				log.Warn("ui read failed", "err", err)
			}
			return
		}

		switch kind {
		case ws.BinaryMessage:
			b.source.Push(camera.Frame(msg))
		case ws.TextMessage:
			b.handleCommand(msg)
		}
	}
}

func (b *Bridge) handleCommand(msg []byte) {
	var in inbound
	if err := json.Unmarshal(msg, &in); err != nil {
		log.Warn("ui command unreadable", "err", err)
		return
	}

	switch in.Type {
	case "start":
		if b.OnStart != nil {
			b.OnStart()
		}
	case "stop":
		if b.OnStop != nil {
			b.OnStop()
		}
	case "camera-lost":
		b.source.MarkLost()
	default:
		log.Warn("ui command unknown", "type", in.Type)
	}
}

// PushState forwards a session update to every connected client.
func (b *Bridge) PushState(u session.Update) {
	b.broadcast(outbound{
		Type:     "state",
		State:    string(u.State),
		Speaking: u.Speaking,
		Level:    u.Level,
		Error:    u.Err,
	})
}

// PushPreview forwards rolling transcription text.
func (b *Bridge) PushPreview(text string) {
	b.broadcast(outbound{Type: "preview", Text: text})
}

// PushDirective forwards the current directive snapshot; nil means the
// board expired or was cleared.
func (b *Bridge) PushDirective(rec *directive.Record) {
	b.broadcast(outbound{Type: "directive", Directive: rec})
}

func (b *Bridge) broadcast(out outbound) {
	data, err := json.Marshal(out)
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.conns {
		if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
			log.Warn("ui write failed", "err", err)
		}
	}
}
