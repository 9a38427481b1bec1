package session

// State is the controller's lifecycle position. Listening and Speaking are
// the two Active substates; exactly one logical session is live at a time.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateListening  State = "listening"
	StateSpeaking   State = "speaking"
	StateEnded      State = "ended"
	StateFailed     State = "failed"
)

// Active reports whether a session is live (or being established), which is
// when presence firing must stay suppressed and new starts are no-ops.
func (s State) Active() bool {
	switch s {
	case StateConnecting, StateListening, StateSpeaking:
		return true
	}
	return false
}

// Update is what subscribers (the avatar, the bridge) receive. Level is the
// assistant's speech amplitude, zero unless Speaking.
type Update struct {
	State    State
	Speaking bool
	Level    float64
	Err      string // set on failed updates only
}
