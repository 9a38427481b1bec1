package directive

import (
	"strings"
	"sync"
	"time"
)

// DefaultTTL matches how long the original kiosk kept the card on screen.
const DefaultTTL = 30 * time.Second

// Board holds the directive currently shown to the visitor. Every observed
// utterance is parsed and folded in with a sticky merge; the whole record
// expires after the visibility TTL.
type Board struct {
	ttl      time.Duration
	onChange func(*Record) // nil record means cleared

	mu    sync.Mutex
	cur   *Record
	timer *time.Timer
}

func NewBoard(ttl time.Duration, onChange func(*Record)) *Board {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Board{ttl: ttl, onChange: onChange}
}

// Observe parses one finalized assistant utterance and merges it into the
// displayed record. Empty input is ignored. Returns a snapshot of the
// record now displayed.
func (b *Board) Observe(utterance string) *Record {
	parsed := Parse(utterance)
	if parsed == nil {
		return b.Current()
	}

	b.mu.Lock()
	b.cur = mergeSticky(b.cur, parsed)
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.ttl, b.expire)
	snap := *b.cur
	b.mu.Unlock()

	if b.onChange != nil {
		b.onChange(&snap)
	}
	return &snap
}

// Current returns a copy of the displayed record, or nil when expired.
func (b *Board) Current() *Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cur == nil {
		return nil
	}
	snap := *b.cur
	return &snap
}

// Close stops the expiry timer. The board is unusable afterwards.
func (b *Board) Close() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.cur = nil
	b.mu.Unlock()
}

func (b *Board) expire() {
	b.mu.Lock()
	b.cur = nil
	b.timer = nil
	b.mu.Unlock()

	if b.onChange != nil {
		b.onChange(nil)
	}
}

// mergeSticky keeps previously recovered fields when the new parse omits
// them; a later utterance that never mentions the room must not erase it.
// Raw always follows the newest utterance.
func mergeSticky(prev, next *Record) *Record {
	if prev == nil {
		return next
	}
	return &Record{
		Department: preferNonEmpty(next.Department, prev.Department),
		Room:       preferNonEmpty(next.Room, prev.Room),
		Floor:      preferNonEmpty(next.Floor, prev.Floor),
		Contacts:   preferNonEmpty(next.Contacts, prev.Contacts),
		Direction:  preferNonEmpty(next.Direction, prev.Direction),
		Raw:        next.Raw,
	}
}

func preferNonEmpty(next, prev string) string {
	if t := strings.TrimSpace(next); t != "" {
		return t
	}
	return prev
}
