// Package gpu is the backend-neutral abstraction over an explicit graphics
// API. The Vulkan backend and the headless stub implement it.
package gpu

import "fmt"

type Format uint8

const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
	FormatBGRA8Unorm
	FormatRGBA8Srgb
	FormatRGBA16F
	FormatRGBA32F
	FormatR8Unorm
	FormatR16F
	FormatR32F
	FormatD32
	FormatD32S8
	FormatD24S8
	FormatD16S8
	FormatD16
)

// DepthFormatPreference is the order in which backends try depth formats.
var DepthFormatPreference = []Format{FormatD32, FormatD32S8, FormatD24S8, FormatD16S8, FormatD16}

func (f Format) IsDepth() bool {
	return f >= FormatD32
}

// IsNormalized reports formats whose stored values are clamped to [0, 1].
func (f Format) IsNormalized() bool {
	switch f {
	case FormatRGBA8Unorm, FormatBGRA8Unorm, FormatRGBA8Srgb, FormatR8Unorm, FormatD24S8, FormatD16S8, FormatD16:
		return true
	}
	return false
}

func (f Format) HasStencil() bool {
	return f == FormatD32S8 || f == FormatD24S8 || f == FormatD16S8
}

// Channels is the number of color components, 1 for depth formats.
func (f Format) Channels() int {
	switch f {
	case FormatR8Unorm, FormatR16F, FormatR32F:
		return 1
	case FormatUndefined:
		return 0
	}
	if f.IsDepth() {
		return 1
	}
	return 4
}

// BytesPerPixel is the packed size used for buffer <-> image copies.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGBA8Unorm, FormatBGRA8Unorm, FormatRGBA8Srgb, FormatR32F, FormatD32, FormatD24S8:
		return 4
	case FormatRGBA16F:
		return 8
	case FormatRGBA32F:
		return 16
	case FormatR8Unorm:
		return 1
	case FormatR16F, FormatD16:
		return 2
	case FormatD32S8:
		return 8
	case FormatD16S8:
		return 4
	}
	return 0
}

func (f Format) String() string {
	names := [...]string{"Undefined", "RGBA8Unorm", "BGRA8Unorm", "RGBA8Srgb", "RGBA16F", "RGBA32F",
		"R8Unorm", "R16F", "R32F", "D32", "D32S8", "D24S8", "D16S8", "D16"}
	if int(f) < len(names) {
		return names[f]
	}
	return fmt.Sprintf("Format(%d)", f)
}

type Extent struct {
	Width  uint32
	Height uint32
}

func (e Extent) Aspect() float32 {
	if e.Height == 0 {
		return 1
	}
	return float32(e.Width) / float32(e.Height)
}

func (e Extent) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

type QueueKind uint8

const (
	QueueGraphics QueueKind = iota
	QueueCompute
	QueueTransfer
)

type MemoryClass uint8

const (
	MemoryDeviceLocal MemoryClass = iota
	MemoryHostCoherent
	MemoryHostCached

	memoryClassCount
)

func (c MemoryClass) String() string {
	switch c {
	case MemoryDeviceLocal:
		return "device-local"
	case MemoryHostCoherent:
		return "host-coherent"
	default:
		return "host-cached"
	}
}

func (c MemoryClass) HostVisible() bool {
	return c != MemoryDeviceLocal
}

type BufferUsage uint32

const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageTransferSrc
	BufferUsageTransferDst
)

type BufferDesc struct {
	Name   string
	Size   uint64
	Usage  BufferUsage
	Memory MemoryClass
}

type ImageUsage uint32

const (
	ImageUsageSampled ImageUsage = 1 << iota
	ImageUsageColorAttachment
	ImageUsageDepthAttachment
	ImageUsageTransferSrc
	ImageUsageTransferDst
	ImageUsageStorage
)

type ImageLayout uint8

const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthAttachment
	LayoutDepthReadOnly
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresentSrc
)

type ImageDesc struct {
	Name      string
	Extent    Extent
	Format    Format
	Usage     ImageUsage
	MipLevels uint32
	Layers    uint32
	Cube      bool
}

type ViewType uint8

const (
	View2D ViewType = iota
	View2DArray
	ViewCube
)

type ImageViewDesc struct {
	Type       ViewType
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}

type Filter uint8

const (
	FilterNearest Filter = iota
	FilterLinear
)

type AddressMode uint8

const (
	AddressRepeat AddressMode = iota
	AddressClampToEdge
)

type SamplerDesc struct {
	Filter     Filter
	Address    AddressMode
	Anisotropy float32
	MipLevels  uint32
}

type LoadOp uint8

const (
	LoadOpClear LoadOp = iota
	LoadOpLoad
	LoadOpDontCare
)

type StoreOp uint8

const (
	StoreOpStore StoreOp = iota
	StoreOpDontCare
)

type AttachmentDesc struct {
	Format  Format
	Load    LoadOp
	Store   StoreOp
	Initial ImageLayout
	Final   ImageLayout
}

// RenderPassDesc describes a single-subpass render pass. DepthReadOnly binds
// the depth attachment for testing only.
type RenderPassDesc struct {
	Name          string
	Colors        []AttachmentDesc
	Depth         *AttachmentDesc
	DepthReadOnly bool
}

type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

func ClearColor(r, g, b, a float32) ClearValue {
	return ClearValue{Color: [4]float32{r, g, b, a}}
}

func ClearDepth(depth float32) ClearValue {
	return ClearValue{Depth: depth}
}

type ShaderStage uint32

const (
	StageVertex ShaderStage = 1 << iota
	StageFragment
	StageAllGraphics = StageVertex | StageFragment
)

type DescriptorType uint8

const (
	DescriptorUniformBuffer DescriptorType = iota
	DescriptorUniformBufferDynamic
	DescriptorCombinedImageSampler
)

type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

type DescriptorSetLayoutDesc struct {
	Bindings []DescriptorBinding
}

// Signature is a stable key for caching backend layouts.
func (d DescriptorSetLayoutDesc) Signature() string {
	s := ""
	for _, b := range d.Bindings {
		s += fmt.Sprintf("%d:%d:%d:%d;", b.Binding, b.Type, b.Count, b.Stages)
	}
	return s
}

// DescriptorWrite fills one binding. Buffer bindings use Buffer, Offset and
// Range; image bindings use View and Sampler.
type DescriptorWrite struct {
	Binding      uint32
	ArrayElement uint32
	Buffer       Buffer
	Offset       uint64
	Range        uint64
	View         ImageView
	Sampler      Sampler
}

type BlendMode uint8

const (
	BlendNone BlendMode = iota
	// BlendAlpha is src*a + dst*(1-a).
	BlendAlpha
	// BlendAdditive is src + dst.
	BlendAdditive
)

type CullMode uint8

const (
	CullNone CullMode = iota
	CullBack
	CullFront
)

type PipelineType uint8

const (
	PipelineGBuffer PipelineType = iota
	PipelineDeferred
	PipelineShadowMapper
	PipelineShadowAccumulatorDirectional
	PipelineTransparentPBR
	PipelineUnlit
	PipelineSSAO
	PipelineToneMap

	PipelineTypeCount
)

func (t PipelineType) String() string {
	switch t {
	case PipelineGBuffer:
		return "g-buffer-filler"
	case PipelineDeferred:
		return "deferred"
	case PipelineShadowMapper:
		return "shadow-mapper"
	case PipelineShadowAccumulatorDirectional:
		return "shadow-accumulator-directional"
	case PipelineTransparentPBR:
		return "transparent-pbr"
	case PipelineUnlit:
		return "unlit"
	case PipelineSSAO:
		return "ssao"
	case PipelineToneMap:
		return "tone-map"
	default:
		return "unknown"
	}
}

// PipelineDesc configures a graphics pipeline. Shaders are chosen by Type.
// Pipelines without vertex input draw a full-screen triangle.
type PipelineDesc struct {
	Type             PipelineType
	RenderPass       RenderPass
	VertexInput      bool
	Cull             CullMode
	DepthTest        bool
	DepthWrite       bool
	Blend            BlendMode
	SetLayouts       []DescriptorSetLayoutDesc
	PushConstantSize uint32
}

type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// FlippedViewport maps NDC +Y to the top of the framebuffer.
func FlippedViewport(e Extent) Viewport {
	return Viewport{
		X:        0,
		Y:        float32(e.Height),
		Width:    float32(e.Width),
		Height:   -float32(e.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}
}

type Rect struct {
	X, Y          int32
	Width, Height uint32
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// ImageCopy addresses one mip level of one layer.
type ImageCopy struct {
	BufferOffset uint64
	MipLevel     uint32
	Layer        uint32
	Extent       Extent
}

type ImageBarrier struct {
	Image      Image
	From       ImageLayout
	To         ImageLayout
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}

type PipelineStage uint32

const (
	PipelineStageTopOfPipe PipelineStage = 1 << iota
	PipelineStageEarlyFragmentTests
	PipelineStageFragmentShader
	PipelineStageColorAttachmentOutput
	PipelineStageTransfer
)

type SemaphoreWait struct {
	Semaphore Semaphore
	Stage     PipelineStage
}

type SubmitInfo struct {
	CommandBuffers []CommandBuffer
	Waits          []SemaphoreWait
	Signals        []Semaphore
}

type CommandBufferLevel uint8

const (
	LevelPrimary CommandBufferLevel = iota
	LevelSecondary
)

// Inheritance is given to secondary command buffers recorded inside a
// render pass.
type Inheritance struct {
	RenderPass  RenderPass
	Framebuffer Framebuffer
}

type Limits struct {
	MinUniformBufferOffsetAlignment uint64
	MaxSamplerAnisotropy            float32
	DepthFormat                     Format
	MaxImageDimension2D             uint32
}

type DeviceConfig struct {
	ApplicationName  string
	Validation       bool
	FramesInFlight   uint32
	EnableAnisotropy bool
	// PipelineCache seeds the backend pipeline cache. May be nil.
	PipelineCache []byte
	// ShaderDir, when set, overrides the SPIR-V modules built into the backend.
	ShaderDir string
}

type SwapchainDesc struct {
	Extent     Extent
	ImageCount uint32
}
