package session

import (
	"context"
	"sync"
	"time"

	log "log/slog"

	"github.com/k4ssym/persona/internal/call"
	"github.com/k4ssym/persona/internal/directive"
	"github.com/k4ssym/persona/internal/journal"
)

// Media is the scoped microphone resource. Acquired once per session,
// released on every exit path.
type Media interface {
	Acquire() error
	Release()
}

// Preview is the optional local transcription stream used purely for
// on-screen feedback. Its failure must never abort the primary call.
type Preview interface {
	Run(ctx context.Context, onText func(string)) error
}

// Suppressor pauses presence firing while a session is live.
type Suppressor interface {
	Suppress(bool)
}

type Config struct {
	Language    string
	MaxDuration time.Duration
	StopTimeout time.Duration
}

// Controller is the sole arbiter of the session lifecycle. It owns the
// "current session" state; everything else queries or subscribes.
type Controller struct {
	svc      call.Service
	media    Media
	logger   *journal.Logger
	board    *directive.Board
	preview  Preview    // optional
	suppress Suppressor // optional
	cfg      Config

	mu        sync.Mutex
	state     State
	sessionID string
	handle    call.Handle
	force     chan struct{}
	forceOnce *sync.Once
	finalized bool
	subs      map[int]chan Update
	nextSub   int
	lastText  string
}

func NewController(svc call.Service, media Media, logger *journal.Logger, board *directive.Board, cfg Config) *Controller {
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = time.Hour
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	return &Controller{
		svc:    svc,
		media:  media,
		logger: logger,
		board:  board,
		cfg:    cfg,
		state:  StateIdle,
		subs:   make(map[int]chan Update),
	}
}

// SetPreview attaches the optional feedback transcription stream.
func (c *Controller) SetPreview(p Preview) { c.preview = p }

// SetSuppressor attaches the presence detector's firing gate.
func (c *Controller) SetSuppressor(s Suppressor) { c.suppress = s }

// State returns the current lifecycle position.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the journal id of the live session, empty when Idle.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Subscribe returns a state update channel and a cancel func. Slow
// subscribers lose intermediate updates, never block the engine.
func (c *Controller) Subscribe() (<-chan Update, func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan Update, 16)
	c.subs[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Controller) publish(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishLocked(u)
}

func (c *Controller) publishLocked(u Update) {
	for _, ch := range c.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// Start begins a session. Re-entrant calls while not Idle are no-ops; the
// presence detector and the manual button can both fire without risk.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		log.Debug("Start ignored, session already live", "state", c.state)
		return
	}
	c.state = StateConnecting
	c.finalized = false
	c.force = make(chan struct{})
	c.forceOnce = new(sync.Once)
	c.publishLocked(Update{State: StateConnecting})
	c.mu.Unlock()

	if c.suppress != nil {
		c.suppress.Suppress(true)
	}

	go c.runSession()
}

// Stop manually ends the live session. Safe from any Active substate; even
// if the upstream teardown hangs, the local stop timeout forces the engine
// back to Idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	h := c.handle
	force := c.force
	once := c.forceOnce
	active := c.state.Active()
	c.mu.Unlock()

	if !active {
		return
	}
	if h == nil {
		// Still connecting; the run loop notices the force flag.
		once.Do(func() { close(force) })
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StopTimeout)
	defer cancel()
	if err := h.Stop(ctx); err != nil {
		log.Warn("Upstream stop timed out, forcing local teardown", "err", err)
		once.Do(func() { close(force) })
	}
}

func (c *Controller) runSession() {
	// Scoped acquisition: every exit path below funnels through this one
	// release.
	if err := c.media.Acquire(); err != nil {
		c.fail(err)
		return
	}
	defer c.media.Release()

	id := c.logger.Open(context.Background())
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()

	callCfg := call.Config{
		Language:     c.cfg.Language,
		SystemPrompt: call.DefaultSystemPrompt(c.cfg.Language),
		FirstMessage: call.DefaultFirstMessage(c.cfg.Language),
		MaxDuration:  c.cfg.MaxDuration,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := c.svc.Start(ctx, callCfg)
	if err != nil {
		log.Error("Upstream start failed", "err", err)
		c.finalize(h, true)
		return
	}

	c.mu.Lock()
	c.handle = h
	force := c.force
	c.mu.Unlock()

	if c.preview != nil {
		go func() {
			if err := c.preview.Run(ctx, c.setFeedbackText); err != nil {
				log.Warn("Preview stream failed, continuing without it", "err", err)
			}
		}()
	}

	// Hard cap: force-end the call no matter what state it is in.
	maxTimer := time.AfterFunc(c.cfg.MaxDuration, func() {
		log.Warn("Max session duration reached, ending call")
		c.Stop()
	})
	defer maxTimer.Stop()

	callFailed := false
	for {
		select {
		case <-force:
			// A Stop that landed while still Connecting only flagged the
			// force channel; the upstream has to be told explicitly or the
			// call keeps running after the kiosk goes Idle.
			stopCtx, stopCancel := context.WithTimeout(context.Background(), c.cfg.StopTimeout)
			if err := h.Stop(stopCtx); err != nil {
				log.Warn("Forced teardown, upstream stop failed", "err", err)
			}
			stopCancel()
			c.finalize(h, callFailed)
			return

		case ev, ok := <-h.Events():
			if !ok {
				c.finalize(h, callFailed)
				return
			}
			if c.handleEvent(ev) {
				callFailed = true
			}
		}
	}
}

// handleEvent is the synchronous transition function. It returns true when
// the event was an unrecoverable upstream error.
func (c *Controller) handleEvent(ev call.Event) bool {
	switch ev.Kind {
	case call.CallStart:
		c.setState(StateListening)

	case call.SpeechStart:
		c.setState(StateSpeaking)

	case call.SpeechEnd:
		// Listening resumes automatically once playback completes.
		c.setState(StateListening)

	case call.VolumeLevel:
		c.mu.Lock()
		if c.state == StateSpeaking {
			c.publishLocked(Update{State: StateSpeaking, Speaking: true, Level: ev.Volume})
		}
		c.mu.Unlock()

	case call.Transcript:
		c.onTranscript(ev)

	case call.CallEnd:
		// finalization happens when the event channel closes

	case call.CallError:
		log.Error("Upstream call error, ending session", "err", ev.Err)
		return true
	}
	return false
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.state == s || !c.state.Active() {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.publishLocked(Update{State: s, Speaking: s == StateSpeaking})
	c.mu.Unlock()
}

func (c *Controller) onTranscript(ev call.Event) {
	// Keep the latest assistant text around for the on-screen card even
	// when partial; persist and parse only finals.
	if ev.Role != call.RoleUser {
		c.mu.Lock()
		c.lastText = ev.Text
		c.mu.Unlock()
	}
	if ev.Partial || ev.Text == "" {
		return
	}

	c.mu.Lock()
	id := c.sessionID
	c.mu.Unlock()

	role := journal.RoleAssistant
	if ev.Role == call.RoleUser {
		role = journal.RoleUser
	}
	c.logger.Append(context.Background(), id, role, ev.Text)

	if role == journal.RoleAssistant && c.board != nil {
		c.board.Observe(ev.Text)
	}
}

// finalize drives the Ended -> Idle path exactly once per session: metrics
// to the journal, then cleanup. Errors upstream still come through here so
// the session is recorded rather than left half-open.
func (c *Controller) finalize(h call.Handle, failed bool) {
	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		return
	}
	c.finalized = true
	id := c.sessionID
	c.state = StateEnded
	c.publishLocked(Update{State: StateEnded})
	c.mu.Unlock()

	var rep *journal.Report
	if h != nil {
		if m := h.Metrics(); m != nil {
			rep = &journal.Report{Tokens: m.Tokens, LatencyMs: m.LatencyMs, Cost: m.Cost}
		}
	}
	if failed {
		// Distinguish error-terminated sessions from classified ones.
		if rep == nil {
			rep = &journal.Report{}
		}
		rep.Status = journal.StatusNeutral
	}
	if id != "" {
		c.logger.Close(context.Background(), id, rep)
	}

	c.mu.Lock()
	c.sessionID = ""
	c.handle = nil
	c.state = StateIdle
	c.publishLocked(Update{State: StateIdle})
	c.mu.Unlock()

	if c.suppress != nil {
		c.suppress.Suppress(false)
	}
}

// fail handles unrecoverable resource errors (microphone denied). The only
// exit from Failed is back to Idle once the error is surfaced.
func (c *Controller) fail(err error) {
	log.Error("Session failed", "err", err)

	c.mu.Lock()
	c.state = StateFailed
	c.publishLocked(Update{State: StateFailed, Err: err.Error()})
	c.state = StateIdle
	c.publishLocked(Update{State: StateIdle})
	c.mu.Unlock()

	if c.suppress != nil {
		c.suppress.Suppress(false)
	}
}

func (c *Controller) setFeedbackText(text string) {
	c.mu.Lock()
	c.lastText = text
	c.mu.Unlock()
}

// LastText returns the newest assistant-side text, partials included. The
// subtitle overlay reads this.
func (c *Controller) LastText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastText
}
