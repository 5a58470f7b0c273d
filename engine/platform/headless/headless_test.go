package headless

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/core"
)

var _ core.SurfaceProvider = (*Provider)(nil)

func TestScriptedResizeAndQuit(t *testing.T) {
	p := New(800, 600).
		At(2, func(p *Provider) { p.Resize(1024, 768) }).
		At(3, func(p *Provider) { p.RequestQuit() })

	assert.Empty(t, p.PollEvents())
	w, h := p.CurrentExtent()
	assert.Equal(t, uint32(800), w)
	assert.Equal(t, uint32(600), h)

	events := p.PollEvents()
	require.Len(t, events, 1)
	assert.Equal(t, core.EventResize, events[0].Kind)
	assert.Equal(t, uint32(1024), events[0].Width)
	w, h = p.CurrentExtent()
	assert.Equal(t, uint32(1024), w)
	assert.Equal(t, uint32(768), h)

	assert.False(t, p.ShouldQuit())
	events = p.PollEvents()
	require.Len(t, events, 1)
	assert.Equal(t, core.EventQuit, events[0].Kind)
	assert.True(t, p.ShouldQuit())
	assert.Equal(t, 3, p.Polls())
}

func TestRequestQuitOnce(t *testing.T) {
	p := New(1, 1)
	p.RequestQuit()
	p.RequestQuit()
	assert.Len(t, p.PollEvents(), 1)
	assert.Empty(t, p.PollEvents())
}

func TestPushDropsWhenFull(t *testing.T) {
	p := New(1, 1)
	for i := 0; i < queueSize; i++ {
		require.True(t, p.Push(core.Event{Kind: core.EventMouseMove, X: float32(i)}))
	}
	assert.False(t, p.Push(core.Event{Kind: core.EventMouseMove}))

	events := p.PollEvents()
	require.Len(t, events, queueSize)
	assert.Equal(t, float32(0), events[0].X)
	assert.Equal(t, float32(queueSize-1), events[queueSize-1].X)
}

func TestMinimizedExtent(t *testing.T) {
	p := New(640, 480)
	p.Resize(0, 0)
	w, h := p.CurrentExtent()
	assert.Zero(t, w)
	assert.Zero(t, h)
	events := p.PollEvents()
	require.Len(t, events, 1)
	assert.Zero(t, events[0].Width)
}
