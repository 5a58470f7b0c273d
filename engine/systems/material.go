package systems

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/gx3d"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// slotDefaults fills absent texture maps so that the shading math is a no-op
// for them.
var slotDefaults = [metadata.TextureSlotCount]DefaultTexture{
	metadata.SlotBaseColor:         DefaultTextureWhite,
	metadata.SlotNormal:            DefaultTextureNormal,
	metadata.SlotMetallicRoughness: DefaultTextureWhite,
	metadata.SlotEmissive:          DefaultTextureBlack,
	metadata.SlotOcclusion:         DefaultTextureWhite,
}

// MaterialSystem builds materials from mesh records and at runtime. Materials
// have no table of their own in the container; they are cached by the
// identifier they are created with.
type MaterialSystem struct {
	cache    *Cache[metadata.Material]
	textures *TextureSystem
	ctx      *gpu.Context

	mu              sync.Mutex
	defaultMaterial *metadata.Material
}

func NewMaterialSystem(ts *TextureSystem, ctx *gpu.Context) *MaterialSystem {
	return &MaterialSystem{
		cache:    NewCache[metadata.Material]("material"),
		textures: ts,
		ctx:      ctx,
	}
}

func materialKind(t gx3d.MaterialType) uint32 {
	switch t {
	case gx3d.MaterialTransparent:
		return gpu.MaterialKindTransparent
	case gx3d.MaterialUnlit:
		return gpu.MaterialKindUnlit
	}
	return gpu.MaterialKindOpaque
}

// Uniform converts record factors to the shader block.
func Uniform(rec *gx3d.MaterialRecord) gpu.MaterialUniform {
	u := gpu.MaterialUniform{
		BaseColor: rec.BaseColor,
		Emissive:  rec.Emissive.ToVec4(rec.AlphaCutoff),
		Factors:   math.NewVec4(rec.Metallic, rec.Roughness, rec.NormalScale, rec.OcclusionStrength),
	}
	u.Flags[0] = materialKind(rec.Type)
	if rec.Textures[gx3d.SlotNormal].Present {
		u.Flags[1] = 1
	}
	return u
}

// FromRecord creates the material of a mesh record. Absent texture slots get
// the default maps.
func (ms *MaterialSystem) FromRecord(name string, rec *gx3d.MaterialRecord) (*metadata.Material, error) {
	var textures [metadata.TextureSlotCount]*metadata.Texture
	for slot := range textures {
		var err error
		if ts := rec.Textures[slot]; ts.Present {
			textures[slot], err = ms.textures.Get(ts.ID)
		} else {
			textures[slot], err = ms.textures.Default(slotDefaults[slot])
		}
		if err != nil {
			return nil, fmt.Errorf("material %q slot %d: %w", name, slot, err)
		}
		if textures[slot].Type != metadata.TextureType2D {
			return nil, fmt.Errorf("material %q slot %d holds a %s texture: %w", name, slot, textures[slot].Type, core.ErrMalformedAsset)
		}
	}
	return ms.Create(name, Uniform(rec), textures)
}

// Create builds a runtime material; nil texture slots get the default maps.
func (ms *MaterialSystem) Create(name string, u gpu.MaterialUniform, textures [metadata.TextureSlotCount]*metadata.Texture) (*metadata.Material, error) {
	for slot, t := range textures {
		if t != nil {
			continue
		}
		d, err := ms.textures.Default(slotDefaults[slot])
		if err != nil {
			return nil, err
		}
		textures[slot] = d
	}
	m, err := metadata.NewMaterial(ms.ctx, 0, name, u, textures)
	if err != nil {
		return nil, err
	}
	if err := ms.cache.Add(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Default is a white opaque material kept alive by the system.
func (ms *MaterialSystem) Default() (*metadata.Material, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.defaultMaterial != nil {
		return ms.defaultMaterial, nil
	}
	m, err := ms.Create(metadata.DefaultMaterialName, gpu.MaterialUniform{
		BaseColor: math.NewVec4(1, 1, 1, 1),
		Factors:   math.NewVec4(0, 1, 1, 1),
	}, [metadata.TextureSlotCount]*metadata.Texture{})
	if err != nil {
		return nil, err
	}
	ms.defaultMaterial = m
	return m, nil
}

// ByName finds a live material.
func (ms *MaterialSystem) ByName(name string) *metadata.Material {
	return ms.cache.ByName(name)
}

func (ms *MaterialSystem) Cache() *Cache[metadata.Material] {
	return ms.cache
}

func (ms *MaterialSystem) Shutdown() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.defaultMaterial = nil
	return nil
}
