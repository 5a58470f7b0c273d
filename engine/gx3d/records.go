package gx3d

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	m "github.com/spaghettifunk/prism/engine/math"
)

type TextureType uint8

const (
	Texture2D   TextureType = 1
	TextureCube TextureType = 2
)

// TextureRecord holds an encoded PNG or JPEG. Cube maps are a single image
// whose six faces are stacked vertically (+X, -X, +Y, -Y, +Z, -Z).
type TextureRecord struct {
	Type TextureType
	Data []byte
}

func (*TextureRecord) Kind() Kind { return KindTexture }

func (r *TextureRecord) Encode(e *Encoder) {
	e.U8(uint8(r.Type))
	e.Bytes(r.Data)
}

func (r *TextureRecord) Decode(c *Cursor) {
	r.Type = TextureType(c.U8())
	r.Data = c.Bytes()
	if c.Err() == nil && r.Type != Texture2D && r.Type != TextureCube {
		c.Fail(fmt.Errorf("texture type %d: %w", r.Type, core.ErrMalformedAsset))
	}
}

type MaterialType uint8

const (
	MaterialOpaque      MaterialType = 1
	MaterialTransparent MaterialType = 2
	MaterialUnlit       MaterialType = 3
)

// Texture slot order in material records.
const (
	SlotBaseColor = iota
	SlotNormal
	SlotMetallicRoughness
	SlotEmissive
	SlotOcclusion

	SlotCount
)

type TextureSlot struct {
	Present bool
	ID      uint64
}

type MaterialRecord struct {
	Type              MaterialType
	BaseColor         m.Vec4
	Emissive          m.Vec3
	Metallic          float32
	Roughness         float32
	NormalScale       float32
	OcclusionStrength float32
	AlphaCutoff       float32
	Textures          [SlotCount]TextureSlot
}

func (r *MaterialRecord) Encode(e *Encoder) {
	e.U8(uint8(r.Type))
	e.Vec4(r.BaseColor)
	e.Vec3(r.Emissive)
	e.F32(r.Metallic)
	e.F32(r.Roughness)
	e.F32(r.NormalScale)
	e.F32(r.OcclusionStrength)
	e.F32(r.AlphaCutoff)
	for _, t := range r.Textures {
		e.Bool(t.Present)
		e.U64(t.ID)
	}
}

func (r *MaterialRecord) Decode(c *Cursor) {
	r.Type = MaterialType(c.U8())
	r.BaseColor = c.Vec4()
	r.Emissive = c.Vec3()
	r.Metallic = c.F32()
	r.Roughness = c.F32()
	r.NormalScale = c.F32()
	r.OcclusionStrength = c.F32()
	r.AlphaCutoff = c.F32()
	for i := range r.Textures {
		r.Textures[i].Present = c.Bool()
		r.Textures[i].ID = c.U64()
	}
	if c.Err() == nil && (r.Type < MaterialOpaque || r.Type > MaterialUnlit) {
		c.Fail(fmt.Errorf("material type %d: %w", r.Type, core.ErrMalformedAsset))
	}
}

// MeshAttributeCount is the number of floats per vertex in mesh records.
const MeshAttributeCount = m.VertexFloatCount

type MeshRecord struct {
	Vertices      []m.Vertex3D
	Indices       []uint32
	CullingRadius float32
	Material      MaterialRecord
}

func (*MeshRecord) Kind() Kind { return KindMesh }

func (r *MeshRecord) Encode(e *Encoder) {
	e.U8(MeshAttributeCount)
	e.U64(uint64(len(r.Vertices)))
	for _, v := range r.Vertices {
		for _, f := range v.Floats() {
			e.F32(f)
		}
	}
	e.U32s(r.Indices)
	e.F32(r.CullingRadius)
	r.Material.Encode(e)
}

func (r *MeshRecord) Decode(c *Cursor) {
	if n := c.U8(); c.Err() == nil && n != MeshAttributeCount {
		c.Fail(fmt.Errorf("mesh attribute count %d, want %d: %w", n, MeshAttributeCount, core.ErrMalformedAsset))
		return
	}
	n := c.count(MeshAttributeCount * 4)
	r.Vertices = make([]m.Vertex3D, 0, n)
	var f [MeshAttributeCount]float32
	for i := uint64(0); i < n && c.Err() == nil; i++ {
		for j := range f {
			f[j] = c.F32()
		}
		r.Vertices = append(r.Vertices, m.VertexFromFloats(f[:]))
	}
	r.Indices = c.U32s()
	r.CullingRadius = c.F32()
	r.Material.Decode(c)
	if c.Err() != nil {
		return
	}
	for _, idx := range r.Indices {
		if uint64(idx) >= n {
			c.Fail(fmt.Errorf("mesh index %d out of %d vertices: %w", idx, n, core.ErrMalformedAsset))
			return
		}
	}
}

type CameraType uint8

const (
	CameraPerspective  CameraType = 1
	CameraOrthographic CameraType = 2
)

// CameraRecord: perspective cameras use FovY and Aspect, orthographic ones
// Width and Height.
type CameraRecord struct {
	Type     CameraType
	Name     string
	Position m.Vec3
	Rotation m.Quaternion
	Near     float32
	Far      float32
	FovY     float32
	Aspect   float32
	Width    float32
	Height   float32
}

func (*CameraRecord) Kind() Kind { return KindCamera }

func (r *CameraRecord) Encode(e *Encoder) {
	e.U8(uint8(r.Type))
	e.String(r.Name)
	e.Vec3(r.Position)
	e.Quat(r.Rotation)
	e.F32(r.Near)
	e.F32(r.Far)
	if r.Type == CameraOrthographic {
		e.F32(r.Width)
		e.F32(r.Height)
		return
	}
	e.F32(r.FovY)
	e.F32(r.Aspect)
}

func (r *CameraRecord) Decode(c *Cursor) {
	r.Type = CameraType(c.U8())
	r.Name = c.String()
	r.Position = c.Vec3()
	r.Rotation = c.Quat()
	r.Near = c.F32()
	r.Far = c.F32()
	switch r.Type {
	case CameraPerspective:
		r.FovY = c.F32()
		r.Aspect = c.F32()
	case CameraOrthographic:
		r.Width = c.F32()
		r.Height = c.F32()
	default:
		c.Fail(fmt.Errorf("camera type %d: %w", r.Type, core.ErrMalformedAsset))
	}
}

type LightType uint8

const (
	LightDirectional LightType = 1
	LightPoint       LightType = 2
)

type LightRecord struct {
	Type         LightType
	Name         string
	Color        m.Vec3
	Intensity    float32
	CastsShadows bool
	// Directional
	Direction    m.Vec3
	CascadeCount uint32
	// Point
	Position m.Vec3
	Radius   float32
}

func (*LightRecord) Kind() Kind { return KindLight }

func (r *LightRecord) Encode(e *Encoder) {
	e.U8(uint8(r.Type))
	e.String(r.Name)
	e.Vec3(r.Color)
	e.F32(r.Intensity)
	e.Bool(r.CastsShadows)
	if r.Type == LightPoint {
		e.Vec3(r.Position)
		e.F32(r.Radius)
		return
	}
	e.Vec3(r.Direction)
	e.U32(r.CascadeCount)
}

func (r *LightRecord) Decode(c *Cursor) {
	r.Type = LightType(c.U8())
	r.Name = c.String()
	r.Color = c.Vec3()
	r.Intensity = c.F32()
	r.CastsShadows = c.Bool()
	switch r.Type {
	case LightDirectional:
		r.Direction = c.Vec3()
		r.CascadeCount = c.U32()
	case LightPoint:
		r.Position = c.Vec3()
		r.Radius = c.F32()
	default:
		c.Fail(fmt.Errorf("light type %d: %w", r.Type, core.ErrMalformedAsset))
	}
}

type ModelRecord struct {
	Name     string
	Position m.Vec3
	Rotation m.Quaternion
	Scale    m.Vec3
	Meshes   []uint64
	Children []uint64
}

func (*ModelRecord) Kind() Kind { return KindModel }

func (r *ModelRecord) Encode(e *Encoder) {
	e.String(r.Name)
	e.Vec3(r.Position)
	e.Quat(r.Rotation)
	e.Vec3(r.Scale)
	e.IDs(r.Meshes)
	e.IDs(r.Children)
}

func (r *ModelRecord) Decode(c *Cursor) {
	r.Name = c.String()
	r.Position = c.Vec3()
	r.Rotation = c.Quat()
	r.Scale = c.Vec3()
	r.Meshes = c.IDs()
	r.Children = c.IDs()
}

type FontType uint8

const (
	FontBitmap   FontType = 1
	FontTrueType FontType = 2
)

// FontRecord: bitmap fonts reference a BMFont descriptor by Path (relative
// to the container), TrueType fonts embed the font file in Data.
type FontRecord struct {
	Type FontType
	Name string
	Size float32
	Path string
	Data []byte
}

func (*FontRecord) Kind() Kind { return KindFont }

func (r *FontRecord) Encode(e *Encoder) {
	e.U8(uint8(r.Type))
	e.String(r.Name)
	e.F32(r.Size)
	if r.Type == FontBitmap {
		e.String(r.Path)
		return
	}
	e.Bytes(r.Data)
}

func (r *FontRecord) Decode(c *Cursor) {
	r.Type = FontType(c.U8())
	r.Name = c.String()
	r.Size = c.F32()
	switch r.Type {
	case FontBitmap:
		r.Path = c.String()
	case FontTrueType:
		r.Data = c.Bytes()
	default:
		c.Fail(fmt.Errorf("font type %d: %w", r.Type, core.ErrMalformedAsset))
	}
}

type SkyboxRecord struct {
	Type    uint8
	Texture uint64
}

func (*SkyboxRecord) Kind() Kind { return KindSkybox }

func (r *SkyboxRecord) Encode(e *Encoder) {
	e.U8(r.Type)
	e.U64(r.Texture)
}

func (r *SkyboxRecord) Decode(c *Cursor) {
	r.Type = c.U8()
	r.Texture = c.U64()
}

type SceneType uint8

const (
	SceneGame SceneType = 1
	SceneUI   SceneType = 2
)

type PostFX struct {
	Exposure     float32
	Gamma        float32
	SSAORadius   float32
	SSAOBias     float32
	SSAOStrength float32
}

func DefaultPostFX() PostFX {
	return PostFX{Exposure: 1, Gamma: 2.2, SSAORadius: 0.5, SSAOBias: 0.025, SSAOStrength: 1}
}

// SceneRecord keeps audio and constraint identifiers only to round-trip
// them; the renderer ignores both.
type SceneRecord struct {
	Type        SceneType
	Cameras     []uint64
	Audios      []uint64
	Lights      []uint64
	Models      []uint64
	HasSkybox   bool
	Skybox      uint64
	Constraints []uint64
	HasPostFX   bool
	PostFX      PostFX
}

func (*SceneRecord) Kind() Kind { return KindScene }

func (r *SceneRecord) Encode(e *Encoder) {
	e.U8(uint8(r.Type))
	e.IDs(r.Cameras)
	e.IDs(r.Audios)
	e.IDs(r.Lights)
	e.IDs(r.Models)
	e.Bool(r.HasSkybox)
	if r.HasSkybox {
		e.U64(r.Skybox)
	}
	e.IDs(r.Constraints)
	e.Bool(r.HasPostFX)
	if r.HasPostFX {
		e.F32(r.PostFX.Exposure)
		e.F32(r.PostFX.Gamma)
		e.F32(r.PostFX.SSAORadius)
		e.F32(r.PostFX.SSAOBias)
		e.F32(r.PostFX.SSAOStrength)
	}
}

func (r *SceneRecord) Decode(c *Cursor) {
	r.Type = SceneType(c.U8())
	r.Cameras = c.IDs()
	r.Audios = c.IDs()
	r.Lights = c.IDs()
	r.Models = c.IDs()
	r.HasSkybox = c.Bool()
	if r.HasSkybox {
		r.Skybox = c.U64()
	}
	r.Constraints = c.IDs()
	r.HasPostFX = c.Bool()
	if r.HasPostFX {
		r.PostFX.Exposure = c.F32()
		r.PostFX.Gamma = c.F32()
		r.PostFX.SSAORadius = c.F32()
		r.PostFX.SSAOBias = c.F32()
		r.PostFX.SSAOStrength = c.F32()
	} else {
		r.PostFX = DefaultPostFX()
	}
	if c.Err() == nil && r.Type != SceneGame && r.Type != SceneUI {
		c.Fail(fmt.Errorf("scene type %d: %w", r.Type, core.ErrMalformedAsset))
	}
}
