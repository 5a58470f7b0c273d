package components

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// MeshFilter selects the meshes a pass draws.
type MeshFilter uint8

const (
	// DrawOpaque draws every mesh with an opaque material.
	DrawOpaque MeshFilter = iota
	DrawTransparent
	DrawUnlit
	// DrawShadowCasters draws opaque meshes without binding materials.
	DrawShadowCasters
)

func (f MeshFilter) accepts(mesh *metadata.Mesh) bool {
	switch f {
	case DrawTransparent:
		return mesh.Material.IsTransparent()
	case DrawUnlit:
		return mesh.Material.IsUnlit()
	default:
		return !mesh.Material.IsTransparent() && !mesh.Material.IsUnlit()
	}
}

/**
 * @brief A model is a transform plus the meshes drawn with it. Children
 * are owned by their parent and inherit its transform; the parent is only
 * weakly referenced. A model can sit in several scenes at once: everything
 * that depends on the viewing camera lives in a ModelBinding owned by each
 * scene.
 */
type Model struct {
	metadata.Object

	mu           sync.RWMutex
	transform    *math.Transform
	meshes       []*metadata.Mesh
	children     []*Model
	parent       weak.Pointer[Model]
	castsShadows bool

	world  math.Mat4
	center math.Vec3
	radius float32
	bounds math.AABB
}

func NewModel(id uint64, name string, transform *math.Transform, meshes []*metadata.Mesh) *Model {
	if transform == nil {
		transform = math.TransformCreate()
	}
	m := &Model{
		transform:    transform,
		meshes:       slices.Clone(meshes),
		castsShadows: true,
		world:        math.NewMat4Identity(),
		bounds:       math.EmptyAABB(),
	}
	m.InitObject(id, name)
	m.refreshBounds()
	return m
}

// ModelBinding is the per-scene GPU state of one model: the model uniform
// slices and the cull flag of the last update.
type ModelBinding struct {
	ctx  *gpu.Context
	name string

	mu      sync.Mutex
	set     gpu.DescriptorSet
	uniform *gpu.DynamicBuffer

	culled    atomic.Bool
	destroyed atomic.Bool
}

func NewModelBinding(ctx *gpu.Context, name string) (*ModelBinding, error) {
	uniform, err := ctx.Buffers.NewDynamic(gpu.UniformSize[gpu.ModelUniform]())
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", name, err)
	}
	set, err := ctx.Device.CreateDescriptorSet(gpu.ModelSetLayout(), []gpu.DescriptorWrite{uniform.Descriptor(0)})
	if err != nil {
		uniform.Free(ctx.Buffers)
		return nil, fmt.Errorf("model %q descriptor set: %w", name, err)
	}
	return &ModelBinding{ctx: ctx, name: name, set: set, uniform: uniform}, nil
}

// IsCulled is true when the last update found the bounding sphere outside
// the camera frustum.
func (b *ModelBinding) IsCulled() bool { return b.culled.Load() }

// Destroy releases the set and the uniform once no frame in flight uses
// them. Calling it twice is a no-op.
func (b *ModelBinding) Destroy() {
	if !b.destroyed.CompareAndSwap(false, true) {
		return
	}
	b.ctx.Release("model "+b.name, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.set == nil {
			return
		}
		b.set.Destroy()
		b.uniform.Free(b.ctx.Buffers)
		b.set, b.uniform = nil, nil
	})
}

// BoundModel pairs a model with the binding of the scene drawing it.
type BoundModel struct {
	*Model
	binding *ModelBinding
}

func (m *Model) Bind(b *ModelBinding) *BoundModel {
	return &BoundModel{Model: m, binding: b}
}

func (bm *BoundModel) Binding() *ModelBinding { return bm.binding }

func (bm *BoundModel) IsCulled() bool { return bm.binding.IsCulled() }

func (m *Model) Meshes() []*metadata.Mesh {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.meshes)
}

func (m *Model) AddMesh(mesh *metadata.Mesh) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meshes = append(m.meshes, mesh)
	m.refreshBounds()
	m.Invalidate()
}

func (m *Model) Children() []*Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.children)
}

// AddChild takes ownership of child and chains its transform to m.
func (m *Model) AddChild(child *Model) {
	if child == nil || child == m {
		return
	}
	if p := child.Parent(); p != nil {
		p.RemoveChild(child.ID())
	}
	m.mu.Lock()
	m.children = append(m.children, child)
	m.mu.Unlock()

	child.mu.Lock()
	child.parent = weak.Make(m)
	child.transform.Parent = m.transform
	child.mu.Unlock()
	m.Invalidate()
}

func (m *Model) RemoveChild(id uint64) *Model {
	m.mu.Lock()
	var removed *Model
	m.children = slices.DeleteFunc(m.children, func(c *Model) bool {
		if c.ID() == id {
			removed = c
			return true
		}
		return false
	})
	m.mu.Unlock()
	if removed != nil {
		removed.mu.Lock()
		removed.parent = weak.Pointer[Model]{}
		removed.transform.Parent = nil
		removed.mu.Unlock()
		m.Invalidate()
	}
	return removed
}

// Parent is nil for top-level models and when the parent is gone.
func (m *Model) Parent() *Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.parent.Value()
}

// Walk visits m and then every descendant depth first.
func (m *Model) Walk(fn func(*Model)) {
	fn(m)
	for _, c := range m.Children() {
		c.Walk(fn)
	}
}

func (m *Model) Transform() *math.Transform {
	return m.transform
}

func (m *Model) SetPosition(p math.Vec3) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transform.SetPosition(p)
	m.Invalidate()
}

func (m *Model) SetRotation(q math.Quaternion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transform.SetRotation(q)
	m.Invalidate()
}

func (m *Model) SetScale(s math.Vec3) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transform.SetScale(s)
	m.Invalidate()
}

func (m *Model) CastsShadows() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.castsShadows
}

func (m *Model) SetCastsShadows(casts bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.castsShadows = casts
}

func (m *Model) refreshBounds() {
	m.radius = 0
	local := math.EmptyAABB()
	for _, mesh := range m.meshes {
		m.radius = max(m.radius, mesh.CullingRadius)
		local = local.Union(mesh.Bounds)
	}
	m.bounds = local
}

// Update recomputes the world matrix from the parent chain and writes the
// model uniform of frame into the binding. Materials of the meshes refresh
// their slice too.
func (bm *BoundModel) Update(frame uint32, cam *CameraState) error {
	m, b := bm.Model, bm.binding
	m.mu.Lock()
	defer m.mu.Unlock()
	m.world = m.transform.GetWorld()
	m.center = m.world.Translation()
	u := gpu.ModelUniform{
		Model:  m.world,
		MVP:    cam.ViewProjection.Mul(m.world),
		Normal: m.world.NormalMatrix(),
	}
	b.mu.Lock()
	if b.destroyed.Load() || b.uniform == nil {
		b.mu.Unlock()
		return fmt.Errorf("model %q binding destroyed: %w", m.Name(), core.ErrInvalidState)
	}
	err := b.uniform.Write(frame, 0, gpu.UniformBytes(&u))
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("model %q uniform: %w", m.Name(), err)
	}
	for _, mesh := range m.meshes {
		if err := mesh.Material.Update(frame); err != nil {
			return err
		}
	}
	b.culled.Store(!cam.Visible(m.center, m.worldRadius()))
	return nil
}

// worldRadius scales the culling radius by the largest axis scale of the
// world matrix.
func (m *Model) worldRadius() float32 {
	d := m.world.Data
	var scale float32
	for c := 0; c < 3; c++ {
		col := math.NewVec3(d[c*4], d[c*4+1], d[c*4+2])
		scale = max(scale, col.Length())
	}
	return m.radius * scale
}

// BoundingSphere is the world-space sphere of the last Update.
func (m *Model) BoundingSphere() (math.Vec3, float32) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.center, m.worldRadius()
}

// WorldBounds transforms the mesh bounds by the last world matrix.
func (m *Model) WorldBounds() math.AABB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.bounds.IsEmpty() {
		return m.bounds
	}
	out := math.EmptyAABB()
	for _, p := range aabbCorners(m.bounds) {
		out = out.Expand(p.Transform(m.world))
	}
	return out
}

// HasMeshes reports whether any mesh passes filter.
func (m *Model) HasMeshes(filter MeshFilter) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mesh := range m.meshes {
		if filter.accepts(mesh) {
			return true
		}
	}
	return false
}

// Render records the draws of the meshes passing filter. The pipeline and
// frame set must already be bound.
func (bm *BoundModel) Render(cmd gpu.CommandBuffer, p gpu.Pipeline, frame uint32, filter MeshFilter) int {
	m := bm.Model
	m.mu.RLock()
	defer m.mu.RUnlock()
	bm.binding.mu.Lock()
	set, uniform := bm.binding.set, bm.binding.uniform
	bm.binding.mu.Unlock()
	if set == nil {
		return 0
	}

	draws := 0
	for _, mesh := range m.meshes {
		if !filter.accepts(mesh) {
			continue
		}
		if draws == 0 {
			cmd.BindDescriptorSet(p, gpu.SetModel, set, []uint32{uniform.DynamicOffset(frame)})
		}
		if filter != DrawShadowCasters {
			mesh.Material.Bind(cmd, p, frame)
		}
		mesh.Draw(cmd)
		draws++
	}
	return draws
}
