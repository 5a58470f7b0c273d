package stub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	m "github.com/spaghettifunk/prism/engine/math"
)

type fakeSurface struct {
	w, h uint32
}

func (f *fakeSurface) CreateSurface(any) (uintptr, error)   { return 1, nil }
func (f *fakeSurface) RequiredInstanceExtensions() []string { return nil }
func (f *fakeSurface) CurrentExtent() (uint32, uint32)      { return f.w, f.h }
func (f *fakeSurface) PollEvents() []core.Event             { return nil }
func (f *fakeSurface) RequestQuit()                         {}
func (f *fakeSurface) ShouldQuit() bool                     { return false }

type fixture struct {
	t     *testing.T
	dev   *Device
	pool  gpu.CommandPool
	fence gpu.Fence
	pass  gpu.RenderPass
	color gpu.Image
	depth gpu.Image
	fb    gpu.Framebuffer
	white gpu.Image
	samp  gpu.Sampler
}

func newFixture(t *testing.T, w, h uint32, withDepth bool) *fixture {
	dev, err := NewDevice(gpu.DeviceConfig{FramesInFlight: 3}, nil)
	require.NoError(t, err)
	f := &fixture{t: t, dev: dev}
	f.pool, err = dev.CreateCommandPool(gpu.QueueGraphics)
	require.NoError(t, err)
	f.fence, err = dev.CreateFence(false)
	require.NoError(t, err)

	desc := gpu.RenderPassDesc{
		Name:   "test",
		Colors: []gpu.AttachmentDesc{{Format: gpu.FormatRGBA8Unorm, Load: gpu.LoadOpClear, Store: gpu.StoreOpStore, Final: gpu.LayoutTransferSrc}},
	}
	extent := gpu.Extent{Width: w, Height: h}
	f.color, err = dev.CreateImage(gpu.ImageDesc{Name: "color", Extent: extent, Format: gpu.FormatRGBA8Unorm})
	require.NoError(t, err)
	views := []gpu.ImageView{f.color.View()}
	if withDepth {
		desc.Depth = &gpu.AttachmentDesc{Format: gpu.FormatD32, Load: gpu.LoadOpClear, Store: gpu.StoreOpStore}
		f.depth, err = dev.CreateImage(gpu.ImageDesc{Name: "depth", Extent: extent, Format: gpu.FormatD32})
		require.NoError(t, err)
		views = append(views, f.depth.View())
	}
	f.pass, err = dev.CreateRenderPass(desc)
	require.NoError(t, err)
	f.fb, err = dev.CreateFramebuffer(f.pass, views, extent)
	require.NoError(t, err)

	f.samp, err = dev.CreateSampler(gpu.SamplerDesc{Filter: gpu.FilterNearest, Address: gpu.AddressRepeat})
	require.NoError(t, err)
	f.white = f.texture([4]byte{255, 255, 255, 255})
	return f
}

func (f *fixture) submit(record func(cmd gpu.CommandBuffer)) error {
	cmd, err := f.pool.Allocate(gpu.LevelPrimary)
	require.NoError(f.t, err)
	require.NoError(f.t, cmd.Begin(nil))
	record(cmd)
	if err := cmd.End(); err != nil {
		return err
	}
	require.NoError(f.t, f.fence.Reset())
	return f.dev.Submit(gpu.QueueGraphics, []gpu.SubmitInfo{{CommandBuffers: []gpu.CommandBuffer{cmd}}}, f.fence)
}

func (f *fixture) hostBuffer(data []byte, usage gpu.BufferUsage) gpu.Buffer {
	size := uint64(len(data))
	if size < 256 {
		size = 256
	}
	b, err := f.dev.CreateBuffer(gpu.BufferDesc{Name: "host", Size: size, Usage: usage, Memory: gpu.MemoryHostCoherent})
	require.NoError(f.t, err)
	copy(b.Mapped(), data)
	return b
}

func (f *fixture) texture(px [4]byte) gpu.Image {
	img, err := f.dev.CreateImage(gpu.ImageDesc{Name: "tex", Extent: gpu.Extent{Width: 1, Height: 1}, Format: gpu.FormatRGBA8Unorm})
	require.NoError(f.t, err)
	staging := f.hostBuffer(px[:], gpu.BufferUsageTransferSrc)
	require.NoError(f.t, f.submit(func(cmd gpu.CommandBuffer) {
		cmd.CopyBufferToImage(staging, img, []gpu.ImageCopy{{}})
	}))
	return img
}

func (f *fixture) readRGBA8(img gpu.Image, x, y int) [4]byte {
	e := img.Desc().Extent
	buf, err := f.dev.CreateBuffer(gpu.BufferDesc{Name: "readback", Size: uint64(e.Width * e.Height * 4), Memory: gpu.MemoryHostCached})
	require.NoError(f.t, err)
	require.NoError(f.t, f.submit(func(cmd gpu.CommandBuffer) {
		cmd.CopyImageToBuffer(img, buf, []gpu.ImageCopy{{}})
	}))
	i := (y*int(e.Width) + x) * 4
	var px [4]byte
	copy(px[:], buf.Mapped()[i:i+4])
	return px
}

func (f *fixture) modelSet(mvp m.Mat4) gpu.DescriptorSet {
	u := gpu.ModelUniform{Model: m.NewMat4Identity(), MVP: mvp, Normal: m.NewMat4Identity()}
	buf := f.hostBuffer(gpu.UniformBytes(&u), gpu.BufferUsageUniform)
	ds, err := f.dev.CreateDescriptorSet(gpu.ModelSetLayout(), []gpu.DescriptorWrite{
		{Binding: 0, Buffer: buf, Range: gpu.UniformSize[gpu.ModelUniform]()},
	})
	require.NoError(f.t, err)
	return ds
}

func (f *fixture) materialSet(color m.Vec4) gpu.DescriptorSet {
	u := gpu.MaterialUniform{BaseColor: color, Factors: m.NewVec4(1, 1, 1, 1), Flags: [4]uint32{gpu.MaterialKindUnlit}}
	buf := f.hostBuffer(gpu.UniformBytes(&u), gpu.BufferUsageUniform)
	writes := []gpu.DescriptorWrite{{Binding: gpu.BindingMaterial, Buffer: buf, Range: gpu.UniformSize[gpu.MaterialUniform]()}}
	for b := uint32(gpu.BindingBaseColor); b <= gpu.BindingOcclusion; b++ {
		writes = append(writes, gpu.DescriptorWrite{Binding: b, View: f.white.View(), Sampler: f.samp})
	}
	ds, err := f.dev.CreateDescriptorSet(gpu.MaterialSetLayout(), writes)
	require.NoError(f.t, err)
	return ds
}

func (f *fixture) pipeline(kind gpu.PipelineType, mutate func(*gpu.PipelineDesc)) gpu.Pipeline {
	desc := gpu.NewPipelineDesc(kind, f.pass)
	if mutate != nil {
		mutate(&desc)
	}
	p, err := f.dev.CreatePipeline(desc)
	require.NoError(f.t, err)
	return p
}

func tri(z float32, a, b, c m.Vec2) []m.Vertex3D {
	return []m.Vertex3D{
		{Position: m.NewVec3(a.X, a.Y, z)},
		{Position: m.NewVec3(b.X, b.Y, z)},
		{Position: m.NewVec3(c.X, c.Y, z)},
	}
}

// drawUnlit draws vertices in NDC with a flat color.
func (f *fixture) drawUnlit(p gpu.Pipeline, vertices []m.Vertex3D, color m.Vec4) func(cmd gpu.CommandBuffer) {
	vb := f.hostBuffer(gpu.VertexBytes(vertices), gpu.BufferUsageVertex)
	model := f.modelSet(m.NewMat4Identity())
	material := f.materialSet(color)
	return func(cmd gpu.CommandBuffer) {
		cmd.BindPipeline(p)
		cmd.SetViewport(gpu.FlippedViewport(f.fb.Extent()))
		cmd.BindDescriptorSet(p, gpu.SetModel, model, []uint32{0})
		cmd.BindDescriptorSet(p, gpu.SetMaterial, material, []uint32{0})
		cmd.BindVertexBuffer(vb, 0)
		cmd.Draw(uint32(len(vertices)), 1, 0, 0)
	}
}

func TestSubmitRequiresSignaledWaits(t *testing.T) {
	f := newFixture(t, 4, 4, false)
	sem, err := f.dev.CreateSemaphore()
	require.NoError(t, err)

	cmd, err := f.pool.Allocate(gpu.LevelPrimary)
	require.NoError(t, err)
	require.NoError(t, cmd.Begin(nil))
	require.NoError(t, cmd.End())

	err = f.dev.Submit(gpu.QueueGraphics, []gpu.SubmitInfo{{
		CommandBuffers: []gpu.CommandBuffer{cmd},
		Waits:          []gpu.SemaphoreWait{{Semaphore: sem}},
	}}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidState)

	// the first batch signals the second
	other, err := f.pool.Allocate(gpu.LevelPrimary)
	require.NoError(t, err)
	require.NoError(t, other.Begin(nil))
	require.NoError(t, other.End())
	err = f.dev.Submit(gpu.QueueGraphics, []gpu.SubmitInfo{
		{CommandBuffers: []gpu.CommandBuffer{other}, Signals: []gpu.Semaphore{sem}},
		{CommandBuffers: []gpu.CommandBuffer{cmd}, Waits: []gpu.SemaphoreWait{{Semaphore: sem}}},
	}, f.fence)
	require.NoError(t, err)
	assert.True(t, f.fence.Signaled())
	assert.Equal(t, gpu.CommandExecutable, cmd.State())
}

func TestFenceWait(t *testing.T) {
	f := newFixture(t, 4, 4, false)
	signaled, err := f.dev.CreateFence(true)
	require.NoError(t, err)
	require.NoError(t, signaled.Wait(gpu.Infinite))

	unsignaled, err := f.dev.CreateFence(false)
	require.NoError(t, err)
	assert.ErrorIs(t, unsignaled.Wait(0), core.ErrFenceTimeout)
	assert.ErrorIs(t, unsignaled.Wait(gpu.Infinite), core.ErrInvalidState)
	assert.Equal(t, uint64(3), f.dev.Counters().FenceWaits)
}

func TestCommandBufferMisuse(t *testing.T) {
	f := newFixture(t, 4, 4, false)
	cmd, err := f.pool.Allocate(gpu.LevelPrimary)
	require.NoError(t, err)
	assert.ErrorIs(t, cmd.End(), core.ErrInvalidState)

	require.NoError(t, cmd.Begin(nil))
	assert.ErrorIs(t, cmd.Begin(nil), core.ErrInvalidState)
	cmd.BeginRenderPass(f.fb, nil, false)
	assert.ErrorIs(t, cmd.End(), core.ErrInvalidState, "render pass left open")
	assert.Equal(t, gpu.CommandInvalid, cmd.State())

	require.NoError(t, f.pool.Reset())
	assert.Equal(t, gpu.CommandInitial, cmd.State())
	require.NoError(t, cmd.Begin(nil))
	cmd.EndRenderPass()
	assert.ErrorIs(t, cmd.End(), core.ErrInvalidState, "end without begin")
}

func TestRasterizeFrontFaces(t *testing.T) {
	f := newFixture(t, 16, 16, false)
	p := f.pipeline(gpu.PipelineUnlit, func(d *gpu.PipelineDesc) {
		d.Cull = gpu.CullBack
		d.Blend = gpu.BlendNone
	})
	// counter-clockwise, lower left half of the target
	ccw := tri(0.5, m.NewVec2(-1, -1), m.NewVec2(1, -1), m.NewVec2(-1, 1))
	// clockwise, upper right half
	cw := tri(0.5, m.NewVec2(1, 1), m.NewVec2(1, -1), m.NewVec2(-1, 1))

	drawCCW := f.drawUnlit(p, ccw, m.NewVec4(0, 1, 0, 1))
	drawCW := f.drawUnlit(p, cw, m.NewVec4(1, 0, 0, 1))
	require.NoError(t, f.submit(func(cmd gpu.CommandBuffer) {
		cmd.BeginRenderPass(f.fb, []gpu.ClearValue{gpu.ClearColor(0, 0, 0, 1)}, false)
		drawCCW(cmd)
		drawCW(cmd)
		cmd.EndRenderPass()
	}))

	assert.Equal(t, [4]byte{0, 255, 0, 255}, f.readRGBA8(f.color, 0, 15), "bottom left is covered")
	assert.Equal(t, [4]byte{0, 0, 0, 255}, f.readRGBA8(f.color, 15, 0), "top right was culled")
	assert.Equal(t, []string{"test"}, f.dev.PassLog())
}

func TestDepthTestKeepsNearest(t *testing.T) {
	f := newFixture(t, 8, 8, true)
	p := f.pipeline(gpu.PipelineUnlit, func(d *gpu.PipelineDesc) {
		d.DepthTest, d.DepthWrite = true, true
		d.Blend = gpu.BlendNone
	})
	full := func(z float32) []m.Vertex3D {
		return tri(z, m.NewVec2(-1, -1), m.NewVec2(3, -1), m.NewVec2(-1, 3))
	}
	near := f.drawUnlit(p, full(0.25), m.NewVec4(0, 0, 1, 1))
	far := f.drawUnlit(p, full(0.75), m.NewVec4(1, 0, 0, 1))
	require.NoError(t, f.submit(func(cmd gpu.CommandBuffer) {
		cmd.BeginRenderPass(f.fb, []gpu.ClearValue{gpu.ClearColor(0, 0, 0, 1), gpu.ClearDepth(1)}, false)
		near(cmd)
		far(cmd)
		cmd.EndRenderPass()
	}))
	assert.Equal(t, [4]byte{0, 0, 255, 255}, f.readRGBA8(f.color, 4, 4))

	buf, err := f.dev.CreateBuffer(gpu.BufferDesc{Name: "depth", Size: 8 * 8 * 4, Memory: gpu.MemoryHostCached})
	require.NoError(t, err)
	require.NoError(t, f.submit(func(cmd gpu.CommandBuffer) {
		cmd.CopyImageToBuffer(f.depth, buf, []gpu.ImageCopy{{}})
	}))
	depth := decodePixel(gpu.FormatD32, buf.Mapped()[(4*8+4)*4:])
	assert.InDelta(t, 0.25, depth[0], 1e-6)
}

func TestAlphaBlend(t *testing.T) {
	f := newFixture(t, 4, 4, false)
	p := f.pipeline(gpu.PipelineUnlit, nil)
	full := tri(0.5, m.NewVec2(-1, -1), m.NewVec2(3, -1), m.NewVec2(-1, 3))
	draw := f.drawUnlit(p, full, m.NewVec4(1, 1, 1, 0.5))
	require.NoError(t, f.submit(func(cmd gpu.CommandBuffer) {
		cmd.BeginRenderPass(f.fb, []gpu.ClearValue{gpu.ClearColor(0, 0, 0, 1)}, false)
		draw(cmd)
		cmd.EndRenderPass()
	}))
	px := f.readRGBA8(f.color, 1, 1)
	assert.InDelta(t, 128, int(px[0]), 1)
	assert.Equal(t, byte(255), px[3])
}

func TestSecondaryCommandBuffers(t *testing.T) {
	f := newFixture(t, 4, 4, false)
	p := f.pipeline(gpu.PipelineUnlit, func(d *gpu.PipelineDesc) { d.Blend = gpu.BlendNone })
	draw := f.drawUnlit(p, tri(0.5, m.NewVec2(-1, -1), m.NewVec2(3, -1), m.NewVec2(-1, 3)), m.NewVec4(1, 0, 1, 1))

	sec, err := f.pool.Allocate(gpu.LevelSecondary)
	require.NoError(t, err)
	require.NoError(t, sec.Begin(&gpu.Inheritance{RenderPass: f.pass, Framebuffer: f.fb}))
	draw(sec)
	require.NoError(t, sec.End())

	require.NoError(t, f.submit(func(cmd gpu.CommandBuffer) {
		cmd.BeginRenderPass(f.fb, []gpu.ClearValue{gpu.ClearColor(0, 0, 0, 1)}, true)
		cmd.ExecuteCommands([]gpu.CommandBuffer{sec})
		cmd.EndRenderPass()
	}))
	assert.Equal(t, [4]byte{255, 0, 255, 255}, f.readRGBA8(f.color, 2, 2))

	// a secondary cannot be submitted directly
	err = f.dev.Submit(gpu.QueueGraphics, []gpu.SubmitInfo{{CommandBuffers: []gpu.CommandBuffer{sec}}}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestPipelineRenderPassMismatch(t *testing.T) {
	f := newFixture(t, 4, 4, false)
	other, err := f.dev.CreateRenderPass(gpu.RenderPassDesc{
		Name:   "other",
		Colors: []gpu.AttachmentDesc{{Format: gpu.FormatRGBA8Unorm}},
	})
	require.NoError(t, err)
	p, err := f.dev.CreatePipeline(gpu.NewPipelineDesc(gpu.PipelineUnlit, other))
	require.NoError(t, err)
	draw := f.drawUnlit(p, tri(0.5, m.NewVec2(-1, -1), m.NewVec2(3, -1), m.NewVec2(-1, 3)), m.NewVec4(1, 1, 1, 1))
	err = f.submit(func(cmd gpu.CommandBuffer) {
		cmd.BeginRenderPass(f.fb, nil, false)
		draw(cmd)
		cmd.EndRenderPass()
	})
	assert.ErrorIs(t, err, core.ErrInvalidState)

	_, err = f.dev.CreatePipeline(gpu.NewPipelineDesc(gpu.PipelineGBuffer, f.pass))
	assert.ErrorIs(t, err, core.ErrPipelineCompileFailure, "g-buffer needs four color attachments")
}

func TestSwapchainOutOfDate(t *testing.T) {
	surface := &fakeSurface{w: 64, h: 48}
	dev, err := NewDevice(gpu.DeviceConfig{FramesInFlight: 3}, surface)
	require.NoError(t, err)
	sc, err := dev.CreateSwapchain(gpu.SwapchainDesc{Extent: gpu.Extent{Width: 64, Height: 48}, ImageCount: 3})
	require.NoError(t, err)
	acquire, err := dev.CreateSemaphore()
	require.NoError(t, err)

	for want := uint32(0); want < 4; want++ {
		idx, err := sc.Acquire(gpu.Infinite, acquire)
		require.NoError(t, err)
		assert.Equal(t, want%3, idx)
		require.NoError(t, sc.Present(idx, []gpu.Semaphore{acquire}))
	}
	assert.Equal(t, uint64(4), dev.Counters().Presents)

	assert.ErrorIs(t, sc.Present(0, []gpu.Semaphore{acquire}), core.ErrInvalidState, "nothing signaled the semaphore")

	surface.w, surface.h = 128, 96
	_, err = sc.Acquire(gpu.Infinite, acquire)
	assert.ErrorIs(t, err, core.ErrSwapchainOutOfDate)
	assert.True(t, core.IsRecoverable(err))

	require.NoError(t, sc.Recreate(gpu.Extent{Width: 128, Height: 96}))
	assert.Equal(t, gpu.Extent{Width: 128, Height: 96}, sc.Extent())
	assert.Equal(t, uint32(128), sc.Views()[0].Image().Desc().Extent.Width)
	_, err = sc.Acquire(gpu.Infinite, acquire)
	assert.NoError(t, err)
}

func TestSwapchainZeroExtent(t *testing.T) {
	surface := &fakeSurface{}
	dev, err := NewDevice(gpu.DeviceConfig{FramesInFlight: 2}, surface)
	require.NoError(t, err)
	sc, err := dev.CreateSwapchain(gpu.SwapchainDesc{ImageCount: 2})
	require.NoError(t, err)
	assert.Empty(t, sc.Views())

	_, err = sc.Acquire(gpu.Infinite, nil)
	assert.ErrorIs(t, err, core.ErrSwapchainOutOfDate)

	surface.w, surface.h = 32, 32
	require.NoError(t, sc.Recreate(gpu.Extent{Width: 32, Height: 32}))
	assert.ErrorIs(t, sc.Recreate(gpu.Extent{}), core.ErrSwapchainOutOfDate)
	assert.Len(t, sc.Views(), 2, "a failed rebuild keeps the images")
	_, err = sc.Acquire(gpu.Infinite, nil)
	assert.NoError(t, err)
}

func TestLiveObjects(t *testing.T) {
	dev, err := NewDevice(gpu.DeviceConfig{FramesInFlight: 2}, nil)
	require.NoError(t, err)
	buf, err := dev.CreateBuffer(gpu.BufferDesc{Size: 16})
	require.NoError(t, err)
	img, err := dev.CreateImage(gpu.ImageDesc{Extent: gpu.Extent{Width: 2, Height: 2}, Format: gpu.FormatRGBA8Unorm})
	require.NoError(t, err)
	assert.Equal(t, int64(2), dev.Counters().LiveObjects)
	assert.Nil(t, buf.Mapped(), "device-local memory is not mapped")

	buf.Destroy()
	buf.Destroy()
	img.View().Destroy()
	img.Destroy()
	assert.Equal(t, int64(0), dev.Counters().LiveObjects)
}

func TestPixelFormats(t *testing.T) {
	tests := []struct {
		format gpu.Format
		value  [4]float32
	}{
		{gpu.FormatRGBA8Unorm, [4]float32{0, 1, 128.0 / 255, 1}},
		{gpu.FormatBGRA8Unorm, [4]float32{1, 0, 0, 1}},
		{gpu.FormatRGBA16F, [4]float32{0.5, -2, 1024, 0.099975586}},
		{gpu.FormatRGBA32F, [4]float32{3.25, -1, 0, 1e-7}},
		{gpu.FormatD32, [4]float32{0.75}},
		{gpu.FormatD16, [4]float32{0.5000076}},
	}
	for _, tt := range tests {
		b := make([]byte, tt.format.BytesPerPixel())
		encodePixel(tt.format, tt.value, b)
		got := decodePixel(tt.format, b)
		for c := 0; c < tt.format.Channels(); c++ {
			assert.InDelta(t, tt.value[c], got[c], 1e-4, "%s channel %d", tt.format, c)
		}
	}
	assert.Equal(t, uint16(0x3c00), floatToHalf(1))
	assert.Equal(t, float32(65504), halfToFloat(0x7bff))
	assert.Equal(t, float32(-0.5), halfToFloat(floatToHalf(-0.5)))
}

func TestCubeSampling(t *testing.T) {
	dev, err := NewDevice(gpu.DeviceConfig{FramesInFlight: 2}, nil)
	require.NoError(t, err)
	img, err := dev.CreateImage(gpu.ImageDesc{Extent: gpu.Extent{Width: 1, Height: 1}, Format: gpu.FormatRGBA8Unorm, Layers: 6, Cube: true})
	require.NoError(t, err)
	cube := img.(*image)
	for face := uint32(0); face < 6; face++ {
		cube.fill(face, 0, [4]float32{float32(face) / 5, 0, 0, 1})
	}
	s, err := dev.CreateSampler(gpu.SamplerDesc{})
	require.NoError(t, err)
	tex := &texture{view: img.View().(*imageView), sampler: s.(*sampler)}

	dirs := []m.Vec3{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}, {Z: 1}, {Z: -1}}
	for face, d := range dirs {
		assert.InDelta(t, float32(face)/5, tex.sampleCube(d)[0], 1e-6, "face %d", face)
	}
}

func TestPipelineCacheData(t *testing.T) {
	f := newFixture(t, 4, 4, false)
	f.pipeline(gpu.PipelineUnlit, nil)
	f.pipeline(gpu.PipelineToneMap, nil)
	data, err := f.dev.PipelineCacheData()
	require.NoError(t, err)
	assert.Equal(t, "tone-map;unlit", string(data))

	seeded, err := NewDevice(gpu.DeviceConfig{FramesInFlight: 2, PipelineCache: data}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, seeded.CachedPipelineTypes())
	assert.Equal(t, uint64(2), f.dev.Counters().PipelinesCreated)
}
