package memory

import (
	"fmt"
	"sync"
	"weak"

	"github.com/spaghettifunk/prism/engine/core"
)

// Placeable is implemented by sub-allocated objects. Place is called with the
// absolute offset every time the allocator moves the object.
type Placeable interface {
	AllocationSize() uint64
	AllocationAlignment() uint64
	Place(offset uint64)
}

// Relocation describes one object moved by Clean. Callers copy Size bytes
// from From to To in the order returned; To never exceeds From.
type Relocation struct {
	From uint64
	To   uint64
	Size uint64
}

type placement[T any] struct {
	ref       weak.Pointer[T]
	offset    uint64
	size      uint64
	alignment uint64
}

// Allocator bump-allocates objects inside a base region and tracks them
// through weak references, so that dropped objects are reclaimed by Clean.
type Allocator[T any, P interface {
	*T
	Placeable
}] struct {
	mu      sync.Mutex
	region  Block
	next    uint64
	objects []placement[T]
}

func NewAllocator[T any, P interface {
	*T
	Placeable
}](region Block) *Allocator[T, P] {
	return &Allocator[T, P]{region: region}
}

func (a *Allocator[T, P]) Region() Block {
	return a.region
}

// Allocate places obj after the last placed object. Returns ErrOutOfMemory
// when the region is exhausted; the caller then has to Clean and retry.
func (a *Allocator[T, P]) Allocate(obj P) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := obj.AllocationSize()
	alignment := obj.AllocationAlignment()
	if alignment == 0 {
		alignment = 1
	}
	rel := AlignTo(a.region.Offset+a.next, alignment) - a.region.Offset
	if rel+size > a.region.Size {
		return 0, fmt.Errorf("allocate %d bytes (used %d of %d): %w", size, a.next, a.region.Size, core.ErrOutOfMemory)
	}
	a.objects = append(a.objects, placement[T]{
		ref:       weak.Make((*T)(obj)),
		offset:    rel,
		size:      size,
		alignment: alignment,
	})
	a.next = rel + size
	abs := a.region.Offset + rel
	obj.Place(abs)
	return abs, nil
}

// Release forgets obj without waiting for it to be collected. The space is
// reclaimed by the next Clean.
func (a *Allocator[T, P]) Release(obj P) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	ref := weak.Make((*T)(obj))
	for i := range a.objects {
		if a.objects[i].ref == ref {
			a.objects = append(a.objects[:i], a.objects[i+1:]...)
			return true
		}
	}
	return false
}

// Clean drops dead references and compacts live objects toward the start of
// the region, preserving their order. Calling it twice moves nothing the
// second time.
func (a *Allocator[T, P]) Clean() []Relocation {
	a.mu.Lock()
	defer a.mu.Unlock()

	var moves []Relocation
	live := a.objects[:0]
	next := uint64(0)
	for _, o := range a.objects {
		obj := o.ref.Value()
		if obj == nil {
			continue
		}
		to := AlignTo(a.region.Offset+next, o.alignment) - a.region.Offset
		if to != o.offset {
			moves = append(moves, Relocation{
				From: a.region.Offset + o.offset,
				To:   a.region.Offset + to,
				Size: o.size,
			})
			o.offset = to
			P(obj).Place(a.region.Offset + to)
		}
		next = to + o.size
		live = append(live, o)
	}
	for i := len(live); i < len(a.objects); i++ {
		a.objects[i] = placement[T]{}
	}
	a.objects = live
	a.next = next
	return moves
}

// Used is the bump pointer, relative to the region start.
func (a *Allocator[T, P]) Used() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

func (a *Allocator[T, P]) Free() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.region.Size - a.next
}

// Live counts placed objects that are still reachable.
func (a *Allocator[T, P]) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, o := range a.objects {
		if o.ref.Value() != nil {
			n++
		}
	}
	return n
}

// Blocks returns the current placements of live objects.
func (a *Allocator[T, P]) Blocks() []Block {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Block, 0, len(a.objects))
	for _, o := range a.objects {
		if o.ref.Value() == nil {
			continue
		}
		b := NewBlock(a.region.Offset+o.offset, o.size, o.alignment)
		out = append(out, b)
	}
	return out
}
