package core

import "github.com/chewxy/math32"

type GestureState uint8

const (
	GestureCanceled GestureState = iota
	GestureStarted
	GestureInMiddle
	GestureEnded
)

func (s GestureState) String() string {
	switch s {
	case GestureStarted:
		return "Started"
	case GestureInMiddle:
		return "InMiddle"
	case GestureEnded:
		return "Ended"
	default:
		return "Canceled"
	}
}

type GestureKind uint8

const (
	GestureDrag GestureKind = iota + 1
	GesturePinch
)

// GestureEvent is carried by TouchGesture events. Pinch uses both points,
// drag only the first.
type GestureEvent struct {
	State     GestureState
	Kind      GestureKind
	Positions [2][2]float32
	Deltas    [2][2]float32
}

// Scale is the ratio between the current and previous pinch span. Returns 1
// for drags or degenerate spans.
func (g *GestureEvent) Scale() float32 {
	if g.Kind != GesturePinch {
		return 1
	}
	prev := span(
		[2]float32{g.Positions[0][0] - g.Deltas[0][0], g.Positions[0][1] - g.Deltas[0][1]},
		[2]float32{g.Positions[1][0] - g.Deltas[1][0], g.Positions[1][1] - g.Deltas[1][1]},
	)
	if prev == 0 {
		return 1
	}
	return span(g.Positions[0], g.Positions[1]) / prev
}

func span(a, b [2]float32) float32 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	return math32.Sqrt(dx*dx + dy*dy)
}

// GestureRecognizer is the explicit per-kind state machine. Input feeds
// Begin, Move, End and Cancel; each call that changes the state returns
// the event to dispatch.
type GestureRecognizer struct {
	kind      GestureKind
	state     GestureState
	positions [2][2]float32
}

func NewGestureRecognizer(kind GestureKind) *GestureRecognizer {
	return &GestureRecognizer{kind: kind, state: GestureCanceled}
}

func (r *GestureRecognizer) Kind() GestureKind   { return r.kind }
func (r *GestureRecognizer) State() GestureState { return r.state }

func (r *GestureRecognizer) active() bool {
	return r.state == GestureStarted || r.state == GestureInMiddle
}

// Begin starts a gesture, replacing any active one.
func (r *GestureRecognizer) Begin(points [2][2]float32) *GestureEvent {
	r.state = GestureStarted
	r.positions = points
	return r.event([2][2]float32{})
}

// Move advances a started gesture to InMiddle. Ignored when not active.
func (r *GestureRecognizer) Move(points [2][2]float32) *GestureEvent {
	if !r.active() {
		return nil
	}
	var deltas [2][2]float32
	for i := range points {
		deltas[i][0] = points[i][0] - r.positions[i][0]
		deltas[i][1] = points[i][1] - r.positions[i][1]
	}
	r.positions = points
	r.state = GestureInMiddle
	return r.event(deltas)
}

func (r *GestureRecognizer) End(points [2][2]float32) *GestureEvent {
	if !r.active() {
		return nil
	}
	var deltas [2][2]float32
	for i := range points {
		deltas[i][0] = points[i][0] - r.positions[i][0]
		deltas[i][1] = points[i][1] - r.positions[i][1]
	}
	r.positions = points
	r.state = GestureEnded
	return r.event(deltas)
}

func (r *GestureRecognizer) Cancel() *GestureEvent {
	if !r.active() {
		return nil
	}
	r.state = GestureCanceled
	return r.event([2][2]float32{})
}

func (r *GestureRecognizer) event(deltas [2][2]float32) *GestureEvent {
	return &GestureEvent{
		State:     r.state,
		Kind:      r.kind,
		Positions: r.positions,
		Deltas:    deltas,
	}
}

// DragFromMouse drives a drag recognizer with desktop mouse input, the left
// button acting as the touch. Returns a TouchGesture event or nil.
func DragFromMouse(r *GestureRecognizer, e Event, x, y float32) *Event {
	var g *GestureEvent
	pt := [2][2]float32{{x, y}}
	switch e.Kind {
	case EventMouseButton:
		if e.Button != BUTTON_LEFT {
			return nil
		}
		if e.Pressed {
			g = r.Begin(pt)
		} else {
			g = r.End(pt)
		}
	case EventMouseMove:
		g = r.Move([2][2]float32{{e.X, e.Y}})
	}
	if g == nil {
		return nil
	}
	return &Event{Kind: EventTouchGesture, Gesture: g}
}
