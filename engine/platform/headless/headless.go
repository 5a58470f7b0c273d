// Package headless is a windowless core.SurfaceProvider. Resizes, input
// and quit requests are scripted by the caller, which makes it the
// provider used with the stub backend and in renderer tests.
package headless

import (
	"sync"

	"github.com/spaghettifunk/prism/engine/containers"
	"github.com/spaghettifunk/prism/engine/core"
)

const queueSize = 256

// Provider implements core.SurfaceProvider without a window.
type Provider struct {
	mu      sync.Mutex
	width   uint32
	height  uint32
	events  *containers.RingQueue[core.Event]
	quit    bool
	polls   int
	actions map[int][]func(p *Provider)
}

func New(width, height uint32) *Provider {
	return &Provider{
		width:   width,
		height:  height,
		events:  containers.NewRingQueue[core.Event](queueSize),
		actions: make(map[int][]func(p *Provider)),
	}
}

// At schedules fn to run at the start of the n-th PollEvents call,
// counting from 1.
func (p *Provider) At(poll int, fn func(p *Provider)) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions[poll] = append(p.actions[poll], fn)
	return p
}

// Resize changes the extent and queues the matching resize event.
func (p *Provider) Resize(width, height uint32) {
	p.mu.Lock()
	p.width, p.height = width, height
	p.mu.Unlock()
	p.Push(core.Event{Kind: core.EventResize, Width: width, Height: height})
}

// Push queues an event for the next PollEvents. Returns false when the
// queue is full and the event was dropped.
func (p *Provider) Push(e core.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events.Enqueue(e) == nil
}

// Polls reports how many times PollEvents has run.
func (p *Provider) Polls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

func (p *Provider) CreateSurface(any) (uintptr, error)   { return 1, nil }
func (p *Provider) RequiredInstanceExtensions() []string { return nil }

func (p *Provider) CurrentExtent() (uint32, uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

func (p *Provider) PollEvents() []core.Event {
	p.mu.Lock()
	p.polls++
	due := p.actions[p.polls]
	delete(p.actions, p.polls)
	p.mu.Unlock()

	for _, fn := range due {
		fn(p)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events.Drain()
}

func (p *Provider) RequestQuit() {
	p.mu.Lock()
	if p.quit {
		p.mu.Unlock()
		return
	}
	p.quit = true
	p.mu.Unlock()
	p.Push(core.Event{Kind: core.EventQuit})
}

func (p *Provider) ShouldQuit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quit
}
