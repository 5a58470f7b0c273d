package memory

import (
	"errors"
	"runtime"
	"testing"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunk struct {
	size      uint64
	alignment uint64
	offset    uint64
	moves     int
}

func (c *chunk) AllocationSize() uint64      { return c.size }
func (c *chunk) AllocationAlignment() uint64 { return c.alignment }
func (c *chunk) Place(offset uint64) {
	if c.offset != 0 || c.moves > 0 {
		c.moves++
	}
	c.offset = offset
}

func init() {
	Debug = true
}

func TestAlign(t *testing.T) {
	tests := []struct {
		size, alignment, want uint64
	}{
		{0, 16, 0},
		{1, 16, 16},
		{16, 16, 16},
		{17, 256, 256},
		{300, 256, 512},
		{5, 1, 5},
	}
	for _, tt := range tests {
		mask := tt.alignment - 1
		assert.Equal(t, tt.want, Align(tt.size, tt.alignment, mask, ^mask))
	}
}

func TestAlignPanicsOnBadMasksInDebug(t *testing.T) {
	assert.Error(t, ValidateAlignment(12, 11, ^uint64(11)))
	assert.Error(t, ValidateAlignment(16, 7, ^uint64(7)))
	assert.Panics(t, func() { Align(10, 16, 15, 0) })
}

func TestBlockFits(t *testing.T) {
	parent := NewBlock(0, 1024, 256)
	child := NewBlock(10, 100, 64)
	assert.Equal(t, uint64(64), child.Offset)
	assert.Equal(t, uint64(164), child.End)
	assert.True(t, child.Fits(parent))
	assert.False(t, NewBlock(1000, 100, 8).Fits(parent))
}

func TestAllocatorRespectsAlignmentAndBounds(t *testing.T) {
	region := NewBlock(256, 1024, 256)
	a := NewAllocator[chunk](region)
	held := []*chunk{}
	for _, c := range []*chunk{{size: 10, alignment: 4}, {size: 100, alignment: 64}, {size: 7, alignment: 256}} {
		off, err := a.Allocate(c)
		require.NoError(t, err)
		assert.Zero(t, off%c.alignment)
		assert.Equal(t, off, c.offset)
		held = append(held, c)
	}
	for _, b := range a.Blocks() {
		assert.True(t, b.Fits(region), "%+v", b)
	}

	_, err := a.Allocate(&chunk{size: 2048, alignment: 4})
	assert.True(t, errors.Is(err, core.ErrOutOfMemory))
	runtime.KeepAlive(held)
}

func TestCleanCompactsAndIsIdempotent(t *testing.T) {
	a := NewAllocator[chunk](NewBlock(0, 512, 16))
	first := &chunk{size: 100, alignment: 16}
	_, err := a.Allocate(first)
	require.NoError(t, err)
	func() {
		dropped := &chunk{size: 200, alignment: 16}
		_, err := a.Allocate(dropped)
		require.NoError(t, err)
	}()
	last := &chunk{size: 50, alignment: 16}
	_, err = a.Allocate(last)
	require.NoError(t, err)

	_, err = a.Allocate(&chunk{size: 300, alignment: 16})
	require.ErrorIs(t, err, core.ErrOutOfMemory)

	// let the dropped chunks be collected
	runtime.GC()
	runtime.GC()

	moves := a.Clean()
	require.Len(t, moves, 1)
	assert.Equal(t, Relocation{From: 320, To: 112, Size: 50}, moves[0])
	assert.Equal(t, uint64(112), last.offset)
	assert.Equal(t, 1, last.moves)
	assert.Equal(t, 2, a.Live())
	assert.Equal(t, uint64(162), a.Used())

	before := a.Blocks()
	assert.Empty(t, a.Clean())
	assert.Equal(t, before, a.Blocks())
	assert.Equal(t, uint64(162), a.Used())

	_, err = a.Allocate(&chunk{size: 300, alignment: 16})
	assert.NoError(t, err)
	runtime.KeepAlive(first)
	runtime.KeepAlive(last)
}

func TestRelease(t *testing.T) {
	a := NewAllocator[chunk](NewBlock(0, 64, 1))
	c := &chunk{size: 64, alignment: 1}
	_, err := a.Allocate(c)
	require.NoError(t, err)
	assert.True(t, a.Release(c))
	assert.False(t, a.Release(c))
	a.Clean()
	assert.Zero(t, a.Used())
	runtime.KeepAlive(c)
}
