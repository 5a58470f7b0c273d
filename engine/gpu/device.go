package gpu

import "time"

// Infinite is the timeout meaning "wait forever".
const Infinite time.Duration = -1

type Device interface {
	Backend() string
	Name() string
	Limits() Limits

	CreateSwapchain(desc SwapchainDesc) (Swapchain, error)
	CreateCommandPool(queue QueueKind) (CommandPool, error)
	CreateBuffer(desc BufferDesc) (Buffer, error)
	CreateImage(desc ImageDesc) (Image, error)
	CreateImageView(image Image, desc ImageViewDesc) (ImageView, error)
	CreateSampler(desc SamplerDesc) (Sampler, error)
	CreateRenderPass(desc RenderPassDesc) (RenderPass, error)
	CreateFramebuffer(pass RenderPass, attachments []ImageView, extent Extent) (Framebuffer, error)
	CreateDescriptorSet(layout DescriptorSetLayoutDesc, writes []DescriptorWrite) (DescriptorSet, error)
	CreatePipeline(desc PipelineDesc) (Pipeline, error)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)

	// Submit queues the batches in order. The fence, if not nil, signals when
	// every batch has completed.
	Submit(queue QueueKind, submits []SubmitInfo, fence Fence) error
	WaitIdle() error

	// PipelineCacheData returns the backend's serialized pipeline cache.
	PipelineCacheData() ([]byte, error)

	Destroy()
}

type Swapchain interface {
	Extent() Extent
	Format() Format
	ImageCount() uint32
	Views() []ImageView
	// Acquire returns the next image index and signals sem. It reports
	// ErrSwapchainOutOfDate when the surface changed and ErrFenceTimeout when
	// no image became available in time.
	Acquire(timeout time.Duration, sem Semaphore) (uint32, error)
	Present(index uint32, wait []Semaphore) error
	Recreate(extent Extent) error
	Destroy()
}

type CommandPool interface {
	Allocate(level CommandBufferLevel) (CommandBuffer, error)
	// Reset returns every buffer allocated from the pool to the initial state.
	// Callers guarantee none is still executing.
	Reset() error
	Destroy()
}

type CommandBuffer interface {
	Level() CommandBufferLevel
	State() CommandState
	// Begin starts recording. Secondary buffers recorded inside a render pass
	// pass their inheritance, primaries pass nil.
	Begin(inheritance *Inheritance) error
	// End finishes recording. Misuse recorded since Begin is reported here.
	End() error

	BeginRenderPass(fb Framebuffer, clears []ClearValue, secondaries bool)
	EndRenderPass()
	ExecuteCommands(secondaries []CommandBuffer)

	BindPipeline(p Pipeline)
	BindDescriptorSet(p Pipeline, set uint32, ds DescriptorSet, dynamicOffsets []uint32)
	BindVertexBuffer(buf Buffer, offset uint64)
	BindIndexBuffer(buf Buffer, offset uint64)
	PushConstants(p Pipeline, data []byte)
	SetViewport(v Viewport)
	SetScissor(r Rect)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)

	CopyBuffer(src, dst Buffer, regions []BufferCopy)
	CopyBufferToImage(src Buffer, dst Image, regions []ImageCopy)
	CopyImageToBuffer(src Image, dst Buffer, regions []ImageCopy)
	PipelineBarrier(barriers []ImageBarrier)
}

type Buffer interface {
	Desc() BufferDesc
	// Mapped is the persistent host mapping, nil for device-local memory.
	Mapped() []byte
	Destroy()
}

type Image interface {
	Desc() ImageDesc
	// View is the default view covering every mip and layer.
	View() ImageView
	Destroy()
}

type ImageView interface {
	Image() Image
	Desc() ImageViewDesc
	Destroy()
}

type Sampler interface {
	Desc() SamplerDesc
	Destroy()
}

type RenderPass interface {
	ID() uint64
	Desc() RenderPassDesc
	Destroy()
}

type Framebuffer interface {
	RenderPass() RenderPass
	Attachments() []ImageView
	Extent() Extent
	Destroy()
}

type DescriptorSet interface {
	Layout() DescriptorSetLayoutDesc
	Destroy()
}

type Pipeline interface {
	Type() PipelineType
	RenderPassID() uint64
	Destroy()
}

type Fence interface {
	// Wait blocks until the fence signals; Infinite never times out.
	Wait(timeout time.Duration) error
	Reset() error
	Signaled() bool
	Destroy()
}

type Semaphore interface {
	Destroy()
}
