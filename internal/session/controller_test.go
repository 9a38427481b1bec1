package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k4ssym/persona/internal/call"
	"github.com/k4ssym/persona/internal/directive"
	"github.com/k4ssym/persona/internal/journal"
)

type fakeHandle struct {
	events  chan call.Event
	metrics *call.Metrics
	hang    bool // Stop blocks until its ctx expires

	mu        sync.Mutex
	stops     int
	closeOnce sync.Once
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{events: make(chan call.Event, 16)}
}

func (h *fakeHandle) Events() <-chan call.Event { return h.events }
func (h *fakeHandle) Metrics() *call.Metrics    { return h.metrics }

func (h *fakeHandle) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.stops++
	h.mu.Unlock()
	if h.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	h.closeOnce.Do(func() { close(h.events) })
	return nil
}

func (h *fakeHandle) stopCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}

func (h *fakeHandle) end() {
	h.closeOnce.Do(func() { close(h.events) })
}

type fakeService struct {
	mu       sync.Mutex
	handle   *fakeHandle
	startErr error
	starts   int
	gate     chan struct{} // when set, Start blocks here until closed
}

func (s *fakeService) Start(ctx context.Context, cfg call.Config) (call.Handle, error) {
	s.mu.Lock()
	s.starts++
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}
	return s.handle, nil
}

func (s *fakeService) started() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

type fakeMedia struct {
	mu         sync.Mutex
	acquireErr error
	acquired   int
	released   int
}

func (m *fakeMedia) Acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquired++
	return m.acquireErr
}

func (m *fakeMedia) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
}

func (m *fakeMedia) balanced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired > 0 && m.acquired == m.released
}

type fakeSuppressor struct {
	mu   sync.Mutex
	last []bool
}

func (f *fakeSuppressor) Suppress(on bool) {
	f.mu.Lock()
	f.last = append(f.last, on)
	f.mu.Unlock()
}

func (f *fakeSuppressor) calls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.last...)
}

func newTestController(t *testing.T, svc call.Service, media Media) (*Controller, journal.Store) {
	t.Helper()
	store, err := journal.NewStore(journal.DriverMemory)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := journal.NewLogger(store, journal.NewEstimator(journal.DefaultEstimatorConfig()))
	board := directive.NewBoard(time.Minute, nil)
	t.Cleanup(board.Close)

	return NewController(svc, media, logger, board, Config{
		Language:    "ru",
		StopTimeout: 50 * time.Millisecond,
	}), store
}

func collectStates(t *testing.T, updates <-chan Update, n int) []State {
	t.Helper()
	var states []State
	for len(states) < n {
		select {
		case u := <-updates:
			states = append(states, u.State)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %v of %d states", states, n)
		}
	}
	return states
}

func TestLifecycle(t *testing.T) {
	h := newFakeHandle()
	svc := &fakeService{handle: h}
	media := &fakeMedia{}
	ctl, store := newTestController(t, svc, media)

	updates, cancel := ctl.Subscribe()
	defer cancel()

	ctl.Start()

	h.events <- call.Event{Kind: call.CallStart}
	h.events <- call.Event{Kind: call.SpeechStart}
	h.events <- call.Event{Kind: call.VolumeLevel, Volume: 0.5}
	h.events <- call.Event{Kind: call.SpeechEnd}
	h.metrics = &call.Metrics{Tokens: 777, LatencyMs: 500, Cost: 0.25}
	h.end()

	states := collectStates(t, updates, 7)
	assert.Equal(t, []State{
		StateConnecting,
		StateListening,
		StateSpeaking,
		StateSpeaking, // volume tick
		StateListening,
		StateEnded,
		StateIdle,
	}, states)

	require.Eventually(t, media.balanced, time.Second, 10*time.Millisecond)

	sessions, err := store.List(context.Background(), journal.Filter{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 777, sessions[0].TokensUsed)
	assert.True(t, sessions[0].Ended)
	assert.False(t, sessions[0].Estimated)
}

func TestStartIsIdempotent(t *testing.T) {
	h := newFakeHandle()
	svc := &fakeService{handle: h}
	ctl, _ := newTestController(t, svc, &fakeMedia{})

	ctl.Start()
	require.Eventually(t, func() bool { return svc.started() == 1 }, time.Second, 5*time.Millisecond)

	ctl.Start()
	ctl.Start()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, svc.started(), "re-entrant starts are no-ops")

	h.end()
	require.Eventually(t, func() bool { return ctl.State() == StateIdle }, time.Second, 5*time.Millisecond)
}

func TestMicDeniedFails(t *testing.T) {
	svc := &fakeService{handle: newFakeHandle()}
	media := &fakeMedia{acquireErr: errors.New("mic denied")}
	sup := &fakeSuppressor{}
	ctl, store := newTestController(t, svc, media)
	ctl.SetSuppressor(sup)

	updates, cancel := ctl.Subscribe()
	defer cancel()

	ctl.Start()

	states := collectStates(t, updates, 3)
	assert.Equal(t, []State{StateConnecting, StateFailed, StateIdle}, states)
	assert.Zero(t, svc.started(), "upstream never dialed without a mic")

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "nothing to record")

	assert.Equal(t, []bool{true, false}, sup.calls(), "presence firing resumes")
}

func TestUpstreamStartFailure(t *testing.T) {
	svc := &fakeService{handle: newFakeHandle(), startErr: errors.New("refused")}
	media := &fakeMedia{}
	ctl, store := newTestController(t, svc, media)

	ctl.Start()
	require.Eventually(t, func() bool { return ctl.State() == StateIdle }, time.Second, 5*time.Millisecond)
	require.Eventually(t, media.balanced, time.Second, 10*time.Millisecond)

	sessions, err := store.List(context.Background(), journal.Filter{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, journal.StatusNeutral, sessions[0].Status)
	assert.True(t, sessions[0].Ended)
}

func TestErrorEventEndsSessionNeutral(t *testing.T) {
	h := newFakeHandle()
	svc := &fakeService{handle: h}
	ctl, store := newTestController(t, svc, &fakeMedia{})

	ctl.Start()
	h.events <- call.Event{Kind: call.CallStart}
	h.events <- call.Event{Kind: call.CallError, Err: errors.New("ws dropped")}
	h.end()

	require.Eventually(t, func() bool { return ctl.State() == StateIdle }, time.Second, 5*time.Millisecond)

	sessions, err := store.List(context.Background(), journal.Filter{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, journal.StatusNeutral, sessions[0].Status)
}

func TestStopForcesTeardownWhenUpstreamHangs(t *testing.T) {
	h := newFakeHandle()
	h.hang = true
	svc := &fakeService{handle: h}
	media := &fakeMedia{}
	ctl, _ := newTestController(t, svc, media)

	ctl.Start()
	h.events <- call.Event{Kind: call.CallStart}
	require.Eventually(t, func() bool { return ctl.State() == StateListening }, time.Second, 5*time.Millisecond)

	ctl.Stop()
	require.Eventually(t, func() bool { return ctl.State() == StateIdle }, time.Second, 5*time.Millisecond)
	require.Eventually(t, media.balanced, time.Second, 10*time.Millisecond)
}

func TestStopWhileConnectingTearsDownUpstream(t *testing.T) {
	h := newFakeHandle()
	gate := make(chan struct{})
	svc := &fakeService{handle: h, gate: gate}
	media := &fakeMedia{}
	ctl, store := newTestController(t, svc, media)

	ctl.Start()
	require.Eventually(t, func() bool { return svc.started() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, StateConnecting, ctl.State())

	// The stop lands while the dial is still in flight, then the dial
	// completes anyway.
	ctl.Stop()
	close(gate)

	require.Eventually(t, func() bool { return ctl.State() == StateIdle }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.stopCalls(), "late dial must still be hung up")
	require.Eventually(t, media.balanced, time.Second, 10*time.Millisecond)

	sessions, err := store.List(context.Background(), journal.Filter{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Ended)
}

func TestTranscriptsReachJournalAndBoard(t *testing.T) {
	h := newFakeHandle()
	svc := &fakeService{handle: h}
	ctl, store := newTestController(t, svc, &fakeMedia{})

	ctl.Start()
	h.events <- call.Event{Kind: call.CallStart}
	h.events <- call.Event{Kind: call.Transcript, Role: call.RoleUser, Text: "Где бухгалтерия?"}
	h.events <- call.Event{Kind: call.Transcript, Role: call.RoleAssistant, Text: "Кабинет 214, второй этаж", Partial: true}
	h.events <- call.Event{Kind: call.Transcript, Role: call.RoleAssistant, Text: "Кабинет 214, второй этаж"}
	h.end()

	require.Eventually(t, func() bool { return ctl.State() == StateIdle }, time.Second, 5*time.Millisecond)

	sessions, err := store.List(context.Background(), journal.Filter{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Len(t, sessions[0].Messages, 2, "partials are never persisted")
	assert.Equal(t, journal.RoleUser, sessions[0].Messages[0].Role)

	assert.Equal(t, "Кабинет 214, второй этаж", ctl.LastText())
}
