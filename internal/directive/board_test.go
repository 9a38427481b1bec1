package directive

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoardStickyMerge(t *testing.T) {
	b := NewBoard(time.Minute, nil)
	defer b.Close()

	b.Observe("Вам нужен кабинет 214")
	rec := b.Observe("Это на втором этаже")
	require.NotNil(t, rec)

	assert.Equal(t, "214", rec.Room, "room survives an utterance that never mentions it")
	assert.Equal(t, "2", rec.Floor)
	assert.Equal(t, "Это на втором этаже", rec.Raw, "raw always follows the newest utterance")
}

func TestBoardNewerFieldWins(t *testing.T) {
	b := NewBoard(time.Minute, nil)
	defer b.Close()

	b.Observe("кабинет 101")
	rec := b.Observe("извините, кабинет 214")
	require.NotNil(t, rec)
	assert.Equal(t, "214", rec.Room)
}

func TestBoardEmptyUtteranceIgnored(t *testing.T) {
	b := NewBoard(time.Minute, nil)
	defer b.Close()

	b.Observe("кабинет 101")
	rec := b.Observe("   ")
	require.NotNil(t, rec)
	assert.Equal(t, "101", rec.Room)
}

func TestBoardExpiry(t *testing.T) {
	var mu sync.Mutex
	var cleared bool
	b := NewBoard(30*time.Millisecond, func(r *Record) {
		if r == nil {
			mu.Lock()
			cleared = true
			mu.Unlock()
		}
	})
	defer b.Close()

	b.Observe("кабинет 101")
	require.NotNil(t, b.Current())

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return cleared && b.Current() == nil
	}, time.Second, 10*time.Millisecond)
}

func TestBoardObserveResetsTTL(t *testing.T) {
	b := NewBoard(60*time.Millisecond, nil)
	defer b.Close()

	b.Observe("кабинет 101")
	time.Sleep(40 * time.Millisecond)
	b.Observe("второй этаж")
	time.Sleep(40 * time.Millisecond)

	// 80ms after the first observe, but only 40ms after the refresh.
	rec := b.Current()
	require.NotNil(t, rec)
	assert.Equal(t, "101", rec.Room)
}

func TestBoardCurrentIsACopy(t *testing.T) {
	b := NewBoard(time.Minute, nil)
	defer b.Close()

	b.Observe("кабинет 101")
	snap := b.Current()
	snap.Room = "tampered"

	assert.Equal(t, "101", b.Current().Room)
}
