package metadata

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
)

/** @brief The name of the default material. */
const DefaultMaterialName string = "default"

// Texture slots of a material, in descriptor binding order.
type TextureSlot uint8

const (
	SlotBaseColor TextureSlot = iota
	SlotNormal
	SlotMetallicRoughness
	SlotEmissive
	SlotOcclusion

	TextureSlotCount
)

func (s TextureSlot) binding() uint32 {
	return gpu.BindingBaseColor + uint32(s)
}

// materialGPU is what a material owns on the device. It is kept apart from
// the material so the cleanup can release it.
type materialGPU struct {
	mu      sync.Mutex
	set     gpu.DescriptorSet
	uniform *gpu.DynamicBuffer
}

/**
 * @brief A material, which represents the properties of a surface: fixed
 * texture slots plus the per-frame uniform block.
 */
type Material struct {
	Object
	kind uint32
	// factors is swapped whole so writers never block the frame.
	factors atomic.Pointer[gpu.MaterialUniform]

	mu       sync.RWMutex
	textures [TextureSlotCount]*Texture
	gpu      *materialGPU
	ctx      *gpu.Context
}

// NewMaterial creates the uniform buffer and descriptor set. Every texture
// slot must be filled; callers substitute defaults for absent maps.
func NewMaterial(ctx *gpu.Context, id uint64, name string, u gpu.MaterialUniform, textures [TextureSlotCount]*Texture) (*Material, error) {
	for s, t := range textures {
		if t == nil {
			return nil, fmt.Errorf("material %q: texture slot %d empty: %w", name, s, core.ErrInvalidState)
		}
	}
	if u.Flags[0] == 0 {
		u.Flags[0] = gpu.MaterialKindOpaque
	}
	uniform, err := ctx.Buffers.NewDynamic(gpu.UniformSize[gpu.MaterialUniform]())
	if err != nil {
		return nil, fmt.Errorf("material %q: %w", name, err)
	}
	m := &Material{
		kind:     u.Flags[0],
		textures: textures,
		gpu:      &materialGPU{uniform: uniform},
		ctx:      ctx,
	}
	m.InitObject(id, name)
	m.SetUniform(u)
	if err := m.rebuild(); err != nil {
		uniform.Free(ctx.Buffers)
		return nil, err
	}
	for f := uint32(0); f < ctx.FramesInFlight(); f++ {
		if err := m.Update(f); err != nil {
			m.gpu.set.Destroy()
			uniform.Free(ctx.Buffers)
			return nil, err
		}
	}
	runtime.AddCleanup(m, func(g *materialGPU) {
		ctx.Release("material "+name, func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			g.set.Destroy()
			g.uniform.Free(ctx.Buffers)
		})
	}, m.gpu)
	return m, nil
}

func (m *Material) rebuild() error {
	writes := []gpu.DescriptorWrite{m.gpu.uniform.Descriptor(gpu.BindingMaterial)}
	for s, t := range m.textures {
		writes = append(writes, gpu.DescriptorWrite{
			Binding: TextureSlot(s).binding(),
			View:    t.View,
			Sampler: t.Sampler,
		})
	}
	set, err := m.ctx.Device.CreateDescriptorSet(gpu.MaterialSetLayout(), writes)
	if err != nil {
		return fmt.Errorf("material %q descriptor set: %w", m.Name(), err)
	}
	m.gpu.mu.Lock()
	old := m.gpu.set
	m.gpu.set = set
	m.gpu.mu.Unlock()
	if old != nil {
		// frames still in flight may have the old set bound
		m.ctx.Release("material set "+m.Name(), old.Destroy)
	}
	return nil
}

func (m *Material) Kind() uint32 { return m.kind }

func (m *Material) IsTransparent() bool {
	return m.kind == gpu.MaterialKindTransparent
}

func (m *Material) IsUnlit() bool {
	return m.kind == gpu.MaterialKindUnlit
}

func (m *Material) Uniform() gpu.MaterialUniform {
	return *m.factors.Load()
}

// SetUniform replaces the factors. The next Update of each frame slot picks
// them up.
func (m *Material) SetUniform(u gpu.MaterialUniform) {
	u.Flags[0] = m.kind
	m.factors.Store(&u)
	m.Invalidate()
}

func (m *Material) Texture(slot TextureSlot) *Texture {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.textures[slot]
}

// SetTexture swaps a texture slot and rebuilds the descriptor set. The old
// set is destroyed once no frame in flight can use it.
func (m *Material) SetTexture(slot TextureSlot, t *Texture) error {
	if slot >= TextureSlotCount || t == nil {
		return fmt.Errorf("material %q: set texture slot %d: %w", m.Name(), slot, core.ErrInvalidState)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.textures[slot]
	m.textures[slot] = t
	if err := m.rebuild(); err != nil {
		m.textures[slot] = prev
		return err
	}
	m.Invalidate()
	return nil
}

// Update writes the current factors into the slice of frame.
func (m *Material) Update(frame uint32) error {
	u := m.factors.Load()
	return m.gpu.uniform.Write(frame, 0, gpu.UniformBytes(u))
}

// Bind binds set 2 for the given frame slot.
func (m *Material) Bind(cmd gpu.CommandBuffer, p gpu.Pipeline, frame uint32) {
	m.gpu.mu.Lock()
	set := m.gpu.set
	m.gpu.mu.Unlock()
	cmd.BindDescriptorSet(p, gpu.SetMaterial, set, []uint32{m.gpu.uniform.DynamicOffset(frame)})
}
