package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIDIsMonotonicAcrossGoroutines(t *testing.T) {
	const n = 64
	ids := make(chan uint64, n*10)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				ids <- NextID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uint64]bool{}
	for id := range ids {
		require.False(t, seen[id], "identifier %d issued twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, n*10)
}

func TestSeedIdentifiersNeverLowers(t *testing.T) {
	SeedIdentifiers(LastID() + 1000)
	high := LastID()
	SeedIdentifiers(5)
	assert.Equal(t, high, LastID())
	assert.Greater(t, NextID(), high)
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err         error
		kind        string
		recoverable bool
	}{
		{fmt.Errorf("acquire: %w", ErrSwapchainOutOfDate), "SwapchainOutOfDate", true},
		{fmt.Errorf("wait: %w", ErrFenceTimeout), "FenceTimeout", true},
		{fmt.Errorf("read: %w", ErrIO), "IOError", false},
		{ErrInvalidState, "InvalidState", false},
		{errors.New("other"), "Unknown", false},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			assert.Equal(t, tt.kind, ErrorKind(tt.err))
			assert.Equal(t, tt.recoverable, IsRecoverable(tt.err))
		})
	}
}

func TestEventBusStopsOnHandled(t *testing.T) {
	bus := NewEventBus()
	var calls []string
	first, second := "first", "second"
	require.True(t, bus.Register(EventResize, first, func(e Event, l interface{}) bool {
		calls = append(calls, l.(string))
		return e.Width > 100
	}))
	require.True(t, bus.Register(EventResize, second, func(e Event, l interface{}) bool {
		calls = append(calls, l.(string))
		return false
	}))
	assert.False(t, bus.Register(EventResize, first, nil))

	assert.False(t, bus.Fire(Event{Kind: EventResize, Width: 10}))
	assert.Equal(t, []string{"first", "second"}, calls)

	calls = nil
	assert.True(t, bus.Fire(Event{Kind: EventResize, Width: 640}))
	assert.Equal(t, []string{"first"}, calls)

	assert.True(t, bus.Unregister(EventResize, first))
	assert.False(t, bus.Unregister(EventResize, first))
	calls = nil
	bus.Fire(Event{Kind: EventResize, Width: 640})
	assert.Equal(t, []string{"second"}, calls)
}

func TestInputStateTracksPreviousFrame(t *testing.T) {
	s := NewInputState()
	assert.True(t, s.Apply(Event{Kind: EventKeyPress, Key: KEY_W}))
	assert.False(t, s.Apply(Event{Kind: EventKeyPress, Key: KEY_W}))
	assert.True(t, s.IsKeyDown(KEY_W))
	assert.False(t, s.WasKeyDown(KEY_W))

	s.Update()
	assert.True(t, s.WasKeyDown(KEY_W))
	s.Apply(Event{Kind: EventKeyRelease, Key: KEY_W})
	assert.True(t, s.IsKeyUp(KEY_W))

	s.Apply(Event{Kind: EventMouseMove, X: 12, Y: 34})
	x, y := s.MousePosition()
	assert.Equal(t, float32(12), x)
	assert.Equal(t, float32(34), y)

	assert.True(t, s.Apply(Event{Kind: EventMouseButton, Button: BUTTON_RIGHT, Pressed: true}))
	assert.True(t, s.IsButtonDown(BUTTON_RIGHT))
	assert.False(t, s.Apply(Event{Kind: EventMouseButton, Button: BUTTON_MAX_BUTTONS, Pressed: true}))
}

func TestGestureRecognizerTransitions(t *testing.T) {
	r := NewGestureRecognizer(GestureDrag)
	assert.Equal(t, GestureCanceled, r.State())
	assert.Nil(t, r.Move([2][2]float32{{1, 1}}))
	assert.Nil(t, r.End([2][2]float32{{1, 1}}))

	e := r.Begin([2][2]float32{{10, 10}})
	require.NotNil(t, e)
	assert.Equal(t, GestureStarted, e.State)

	e = r.Move([2][2]float32{{15, 7}})
	require.NotNil(t, e)
	assert.Equal(t, GestureInMiddle, e.State)
	assert.Equal(t, [2]float32{5, -3}, e.Deltas[0])

	e = r.End([2][2]float32{{16, 7}})
	require.NotNil(t, e)
	assert.Equal(t, GestureEnded, e.State)
	assert.Nil(t, r.Cancel())

	r.Begin([2][2]float32{{0, 0}})
	e = r.Cancel()
	require.NotNil(t, e)
	assert.Equal(t, GestureCanceled, e.State)
}

func TestPinchScale(t *testing.T) {
	r := NewGestureRecognizer(GesturePinch)
	r.Begin([2][2]float32{{0, 0}, {10, 0}})
	e := r.Move([2][2]float32{{0, 0}, {20, 0}})
	require.NotNil(t, e)
	assert.InDelta(t, 2.0, e.Scale(), 1e-5)
}

func TestDragFromMouse(t *testing.T) {
	r := NewGestureRecognizer(GestureDrag)
	ev := DragFromMouse(r, Event{Kind: EventMouseButton, Button: BUTTON_LEFT, Pressed: true}, 3, 4)
	require.NotNil(t, ev)
	assert.Equal(t, EventTouchGesture, ev.Kind)
	assert.Equal(t, GestureStarted, ev.Gesture.State)

	assert.Nil(t, DragFromMouse(r, Event{Kind: EventMouseButton, Button: BUTTON_RIGHT, Pressed: true}, 3, 4))

	ev = DragFromMouse(r, Event{Kind: EventMouseMove, X: 8, Y: 4}, 8, 4)
	require.NotNil(t, ev)
	assert.Equal(t, [2]float32{5, 0}, ev.Gesture.Deltas[0])

	ev = DragFromMouse(r, Event{Kind: EventMouseButton, Button: BUTTON_LEFT}, 8, 4)
	require.NotNil(t, ev)
	assert.Equal(t, GestureEnded, ev.Gesture.State)
}

func TestClock(t *testing.T) {
	base := time.Unix(100, 0)
	now := base
	c := &Clock{now: func() time.Time { return now }}
	c.Update()
	assert.Zero(t, c.Elapsed())
	c.Start()
	now = base.Add(250 * time.Millisecond)
	c.Update()
	assert.Equal(t, 250*time.Millisecond, c.Elapsed())
	c.Stop()
	now = base.Add(time.Second)
	c.Update()
	assert.Equal(t, 250*time.Millisecond, c.Elapsed())
}

func TestMetricsAverages(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.05)
	}
	assert.InDelta(t, 50.0, m.FrameTime(), 1e-9)
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.05)
	}
	// a second window must not accumulate onto the first
	assert.InDelta(t, 50.0, m.FrameTime(), 1e-9)
	assert.Greater(t, m.FPS(), 0.0)
}

func TestLogFatalErrorReachesFileBeforeExit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prism.log")
	require.NoError(t, LogConfigure(LogConfig{File: path}))

	code := -1
	osExit = func(c int) { code = c }
	t.Cleanup(func() { osExit = os.Exit })

	LogFatalError(fmt.Errorf("open data.gx3d: %w", ErrIO), 0)
	assert.Equal(t, 1, code)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, "open data.gx3d")
	assert.Contains(t, line, "kind=")
	assert.Contains(t, line, "core/core_test.go:")
	assert.Nil(t, getLogger().rotating, "the file is closed after the fatal line")
}
