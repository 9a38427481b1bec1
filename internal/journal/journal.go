package journal

import (
	"context"
	"sync"
	"time"

	log "log/slog"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Status string

const (
	StatusResolved   Status = "resolved"
	StatusUnresolved Status = "unresolved"
	StatusNeutral    Status = "neutral"
)

// Message is one finalized transcript line. Append-only within a session.
type Message struct {
	Role        Role   `json:"role"`
	Text        string `json:"text"`
	TimestampMs int64  `json:"timestamp"`
}

// Session is the persisted conversation record. Immutable once Ended.
type Session struct {
	ID              string     `json:"id"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds int        `json:"duration"`
	Messages        []Message  `json:"messages"`
	TokensUsed      int        `json:"tokens_used"`
	LatencyMs       int        `json:"latency"`
	Cost            float64    `json:"cost"`
	Status          Status     `json:"resolution_status"`
	// Estimated marks tokens/latency/cost as derived from duration, not
	// reported by the upstream service.
	Estimated bool `json:"estimated"`
	Ended     bool `json:"ended"`
}

// Report carries whatever end-of-call figures the upstream actually sent.
// Zero fields are filled by the estimator.
type Report struct {
	Tokens    int
	LatencyMs int
	Cost      float64
	Status    Status // optional explicit resolution signal
}

// Logger owns every ConversationSession from Open to Close. Persistence
// failures are logged and absorbed; they never interrupt the live session.
type Logger struct {
	store Store
	est   *Estimator

	mu   sync.Mutex
	open map[string]*Session

	now func() time.Time
}

func NewLogger(store Store, est *Estimator) *Logger {
	return &Logger{
		store: store,
		est:   est,
		open:  make(map[string]*Session),
		now:   time.Now,
	}
}

// Open starts a new session record and returns its id. The id is handed out
// even when the initial write fails, so late-arriving metrics can still be
// attributed once the store recovers.
func (l *Logger) Open(ctx context.Context) string {
	s := &Session{
		ID:        uuid.NewString(),
		StartTime: l.now(),
		Status:    StatusNeutral,
	}

	l.mu.Lock()
	l.open[s.ID] = s
	l.mu.Unlock()

	if err := l.store.Create(ctx, s); err != nil {
		log.Warn("Session create failed, continuing without persistence", "id", s.ID, "err", err)
	}
	log.Info("Session opened", "id", s.ID)
	return s.ID
}

// Append records one finalized transcript line. Timestamps are forced
// monotonic per session. Unknown ids are dropped with a warning.
func (l *Logger) Append(ctx context.Context, id string, role Role, text string) {
	l.mu.Lock()
	s, ok := l.open[id]
	if !ok {
		l.mu.Unlock()
		log.Warn("Append to unknown session", "id", id)
		return
	}

	ts := l.now().UnixMilli()
	if n := len(s.Messages); n > 0 && ts <= s.Messages[n-1].TimestampMs {
		ts = s.Messages[n-1].TimestampMs + 1
	}
	s.Messages = append(s.Messages, Message{Role: role, Text: text, TimestampMs: ts})
	snap := *s
	l.mu.Unlock()

	if err := l.store.Update(ctx, &snap); err != nil {
		log.Warn("Message write failed, transcript line lost", "id", id, "err", err)
	}
}

// Close finalizes the session: duration, metrics (estimated where the
// report is silent), and outcome classification. Idempotent; a second close
// is a no-op and never emits a second row.
func (l *Logger) Close(ctx context.Context, id string, rep *Report) {
	l.mu.Lock()
	s, ok := l.open[id]
	if !ok {
		l.mu.Unlock()
		return
	}
	delete(l.open, id)

	end := l.now()
	s.EndTime = &end
	s.DurationSeconds = int(end.Sub(s.StartTime).Seconds())
	s.Ended = true
	l.est.Fill(s, rep)
	snap := *s
	l.mu.Unlock()

	if err := l.store.Update(ctx, &snap); err != nil {
		log.Warn("Session close write failed", "id", id, "err", err)
	}
	log.Info("Session closed", "id", id,
		"duration_s", snap.DurationSeconds,
		"status", snap.Status,
		"tokens", snap.TokensUsed,
		"estimated", snap.Estimated)
}

// List returns persisted sessions matching the filter.
func (l *Logger) List(ctx context.Context, f Filter) ([]*Session, error) {
	return l.store.List(ctx, f)
}

// Count returns the aggregate number of persisted sessions.
func (l *Logger) Count(ctx context.Context) (int, error) {
	return l.store.Count(ctx)
}

// PurgeAll irreversibly deletes every persisted session. Confirmation is
// the caller's job; this call never asks twice.
func (l *Logger) PurgeAll(ctx context.Context) error {
	return l.store.PurgeAll(ctx)
}
