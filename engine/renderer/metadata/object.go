// Package metadata holds the GPU-backed resources shared by scenes:
// textures, materials, meshes, fonts and skyboxes.
package metadata

import (
	"sync/atomic"

	"github.com/spaghettifunk/prism/engine/core"
)

/** @brief The identifier used for objects that were never initialized. */
const InvalidID uint64 = 0

// Object is the base embedded by every renderable and resource.
type Object struct {
	id         uint64
	name       string
	hidden     atomic.Bool
	generation atomic.Uint32
}

// InitObject assigns the identifier. A zero id mints a fresh one.
func (o *Object) InitObject(id uint64, name string) {
	if id == InvalidID {
		id = core.NextID()
	}
	o.id = id
	o.name = name
}

func (o *Object) ID() uint64   { return o.id }
func (o *Object) Name() string { return o.name }

/** @brief Renderable objects are recorded every frame. True by default. */
func (o *Object) IsRenderable() bool { return !o.hidden.Load() }

func (o *Object) SetRenderable(renderable bool) {
	if o.hidden.Swap(!renderable) == renderable {
		o.Invalidate()
	}
}

/** @brief The generation is incremented every time the object changes. */
func (o *Object) Generation() uint32 { return o.generation.Load() }

func (o *Object) Invalidate() { o.generation.Add(1) }

// Identified is implemented by everything embedding Object.
type Identified interface {
	ID() uint64
	Name() string
	IsRenderable() bool
}
