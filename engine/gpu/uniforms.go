package gpu

import (
	"unsafe"

	"github.com/spaghettifunk/prism/engine/math"
)

// Limits baked into the shader interface blocks.
const (
	MaxDirectionalLights = 8
	MaxPointLights       = 32
	MaxShadowLights      = 8
	MaxCascades          = 4
	SSAOKernelSize       = 16
)

// Descriptor set numbers.
const (
	SetFrame    = 0
	SetModel    = 1
	SetMaterial = 2
	// SetInputs holds the attachments sampled by full-screen passes.
	SetInputs = 1
)

// Frame set bindings. All four are dynamic uniform buffers.
const (
	BindingCamera = iota
	BindingLights
	BindingPostFX
	BindingShadows
)

// Material set bindings.
const (
	BindingMaterial = iota
	BindingBaseColor
	BindingNormal
	BindingMetallicRoughness
	BindingEmissive
	BindingOcclusion
)

// Input bindings of the deferred pass.
const (
	InputAlbedo = iota
	InputNormal
	InputPosition
	InputEmissive
	InputSSAO
	InputShadow
	InputSkybox
)

// Input bindings of the ssao and shadow accumulator passes.
const (
	InputGBufferNormal = iota
	InputGBufferPosition
	InputShadowMap
)

// InputSceneColor is the only input of the tone-map pass.
const InputSceneColor = 0

// std140 blocks. Every member is a multiple of 16 bytes so the Go layout is
// the GLSL layout.

type ModelUniform struct {
	Model  math.Mat4
	MVP    math.Mat4
	Normal math.Mat4
}

type CameraUniform struct {
	View              math.Mat4
	Projection        math.Mat4
	ViewProjection    math.Mat4
	InverseView       math.Mat4
	InverseProjection math.Mat4
	Position          math.Vec4
	// near, far, viewport width, viewport height
	NearFar math.Vec4
}

const (
	MaterialKindOpaque uint32 = iota + 1
	MaterialKindTransparent
	MaterialKindUnlit
)

type MaterialUniform struct {
	BaseColor math.Vec4
	// rgb emissive, w alpha cutoff
	Emissive math.Vec4
	// metallic, roughness, normal scale, occlusion strength
	Factors math.Vec4
	// kind, has normal map, unused, unused
	Flags [4]uint32
}

type DirectionalLightData struct {
	// xyz direction the light travels, w shadow slot or -1
	Direction math.Vec4
	// rgb color, w intensity
	Color math.Vec4
}

type PointLightData struct {
	// xyz position, w radius
	Position math.Vec4
	Color    math.Vec4
}

type LightUniform struct {
	Directional [MaxDirectionalLights]DirectionalLightData
	Point       [MaxPointLights]PointLightData
	// directional count, point count, shadow-maker count, unused
	Counts  [4]uint32
	Ambient math.Vec4
}

type ShadowUniform struct {
	// indexed slot*MaxCascades + cascade
	CascadeViewProjection [MaxShadowLights * MaxCascades]math.Mat4
	// view-space far distance of each cascade
	Splits [MaxShadowLights]math.Vec4
	// cascade count, directional light index, unused, unused
	Info [MaxShadowLights][4]uint32
}

type PostFXUniform struct {
	// exposure, gamma, ssao radius, ssao bias
	Params math.Vec4
	// ssao strength, ssao enabled, width, height
	SSAO   math.Vec4
	Kernel [SSAOKernelSize]math.Vec4
}

// ShadowMapperPush is the push constant block of the shadow mapper.
type ShadowMapperPush struct {
	ViewProjection math.Mat4
}

// AccumulatorPush selects the shadow slot the accumulator resolves.
type AccumulatorPush struct {
	Slot uint32
	_    [3]uint32
}

// UniformBytes views a uniform block as bytes without copying.
func UniformBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

// UniformFrom is the inverse of UniformBytes. b must hold a whole block.
func UniformFrom[T any](b []byte) *T {
	var v T
	copy(UniformBytes(&v), b)
	return &v
}

func UniformSize[T any]() uint64 {
	var v T
	return uint64(unsafe.Sizeof(v))
}

var (
	frameSetLayout = DescriptorSetLayoutDesc{Bindings: []DescriptorBinding{
		{Binding: BindingCamera, Type: DescriptorUniformBufferDynamic, Count: 1, Stages: StageAllGraphics},
		{Binding: BindingLights, Type: DescriptorUniformBufferDynamic, Count: 1, Stages: StageAllGraphics},
		{Binding: BindingPostFX, Type: DescriptorUniformBufferDynamic, Count: 1, Stages: StageAllGraphics},
		{Binding: BindingShadows, Type: DescriptorUniformBufferDynamic, Count: 1, Stages: StageAllGraphics},
	}}
	modelSetLayout = DescriptorSetLayoutDesc{Bindings: []DescriptorBinding{
		{Binding: 0, Type: DescriptorUniformBufferDynamic, Count: 1, Stages: StageVertex},
	}}
	materialSetLayout = DescriptorSetLayoutDesc{Bindings: []DescriptorBinding{
		{Binding: BindingMaterial, Type: DescriptorUniformBufferDynamic, Count: 1, Stages: StageAllGraphics},
		{Binding: BindingBaseColor, Type: DescriptorCombinedImageSampler, Count: 1, Stages: StageFragment},
		{Binding: BindingNormal, Type: DescriptorCombinedImageSampler, Count: 1, Stages: StageFragment},
		{Binding: BindingMetallicRoughness, Type: DescriptorCombinedImageSampler, Count: 1, Stages: StageFragment},
		{Binding: BindingEmissive, Type: DescriptorCombinedImageSampler, Count: 1, Stages: StageFragment},
		{Binding: BindingOcclusion, Type: DescriptorCombinedImageSampler, Count: 1, Stages: StageFragment},
	}}
)

func samplerSet(n int) DescriptorSetLayoutDesc {
	d := DescriptorSetLayoutDesc{}
	for i := 0; i < n; i++ {
		d.Bindings = append(d.Bindings, DescriptorBinding{
			Binding: uint32(i), Type: DescriptorCombinedImageSampler, Count: 1, Stages: StageFragment,
		})
	}
	return d
}

func FrameSetLayout() DescriptorSetLayoutDesc    { return frameSetLayout }
func ModelSetLayout() DescriptorSetLayoutDesc    { return modelSetLayout }
func MaterialSetLayout() DescriptorSetLayoutDesc { return materialSetLayout }

// InputSetLayout is set 1 of a full-screen pipeline.
func InputSetLayout(kind PipelineType) DescriptorSetLayoutDesc {
	switch kind {
	case PipelineDeferred:
		return samplerSet(InputSkybox + 1)
	case PipelineSSAO:
		return samplerSet(InputGBufferPosition + 1)
	case PipelineShadowAccumulatorDirectional:
		return samplerSet(InputShadowMap + 1)
	default:
		return samplerSet(InputSceneColor + 1)
	}
}

// NewPipelineDesc returns the fixed state of a pipeline type.
func NewPipelineDesc(kind PipelineType, pass RenderPass) PipelineDesc {
	desc := PipelineDesc{Type: kind, RenderPass: pass}
	switch kind {
	case PipelineGBuffer:
		desc.VertexInput = true
		desc.Cull = CullBack
		desc.DepthTest, desc.DepthWrite = true, true
		desc.SetLayouts = []DescriptorSetLayoutDesc{frameSetLayout, modelSetLayout, materialSetLayout}
	case PipelineShadowMapper:
		desc.VertexInput = true
		desc.Cull = CullBack
		desc.DepthTest, desc.DepthWrite = true, true
		desc.SetLayouts = []DescriptorSetLayoutDesc{frameSetLayout, modelSetLayout}
		desc.PushConstantSize = uint32(UniformSize[ShadowMapperPush]())
	case PipelineTransparentPBR:
		desc.VertexInput = true
		desc.Cull = CullBack
		desc.DepthTest = true
		desc.Blend = BlendAlpha
		desc.SetLayouts = []DescriptorSetLayoutDesc{frameSetLayout, modelSetLayout, materialSetLayout}
	case PipelineUnlit:
		desc.VertexInput = true
		desc.Cull = CullNone
		desc.Blend = BlendAlpha
		desc.SetLayouts = []DescriptorSetLayoutDesc{frameSetLayout, modelSetLayout, materialSetLayout}
	case PipelineShadowAccumulatorDirectional:
		desc.Blend = BlendAdditive
		desc.SetLayouts = []DescriptorSetLayoutDesc{frameSetLayout, InputSetLayout(kind)}
		desc.PushConstantSize = uint32(UniformSize[AccumulatorPush]())
	default:
		desc.SetLayouts = []DescriptorSetLayoutDesc{frameSetLayout, InputSetLayout(kind)}
	}
	return desc
}

// VertexBytes views interleaved vertices as the bytes of a vertex buffer.
func VertexBytes(vertices []math.Vertex3D) []byte {
	if len(vertices) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&vertices[0])), len(vertices)*math.VertexSize)
}

func IndexBytes(indices []uint32) []byte {
	if len(indices) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&indices[0])), len(indices)*4)
}
