package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/gpu"
)

type commandPool struct {
	dev     *Device
	queue   gpu.QueueKind
	handle  vk.CommandPool
	buffers []*commandBuffer
}

func (d *Device) CreateCommandPool(queue gpu.QueueKind) (gpu.CommandPool, error) {
	_, family := d.queue(queue)
	info := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: family,
	}
	p := &commandPool{dev: d, queue: queue}
	if err := check(vk.CreateCommandPool(d.logical, &info, nil, &p.handle), "create command pool"); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *commandPool) Allocate(level gpu.CommandBufferLevel) (gpu.CommandBuffer, error) {
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.handle,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	if level == gpu.LevelSecondary {
		info.Level = vk.CommandBufferLevelSecondary
	}
	handles := make([]vk.CommandBuffer, 1)
	if err := check(vk.AllocateCommandBuffers(p.dev.logical, &info, handles), "allocate command buffer"); err != nil {
		return nil, err
	}
	cb := &commandBuffer{dev: p.dev, pool: p, level: level, handle: handles[0]}
	p.buffers = append(p.buffers, cb)
	return cb, nil
}

func (p *commandPool) Reset() error {
	for _, cb := range p.buffers {
		if err := cb.Reset(); err != nil {
			return err
		}
	}
	return check(vk.ResetCommandPool(p.dev.logical, p.handle, 0), "reset command pool")
}

func (p *commandPool) Destroy() {
	if p.handle == vk.NullCommandPool {
		return
	}
	if len(p.buffers) > 0 {
		handles := make([]vk.CommandBuffer, len(p.buffers))
		for i, cb := range p.buffers {
			handles[i] = cb.handle
		}
		vk.FreeCommandBuffers(p.dev.logical, p.handle, uint32(len(handles)), handles)
	}
	vk.DestroyCommandPool(p.dev.logical, p.handle, nil)
	p.handle = vk.NullCommandPool
	p.buffers = nil
}

// commandBuffer records straight into the Vulkan command buffer; the
// embedded tracker rejects commands outside Begin/End.
type commandBuffer struct {
	gpu.CommandTracker
	dev      *Device
	pool     *commandPool
	level    gpu.CommandBufferLevel
	handle   vk.CommandBuffer
	pipeline *pipeline
}

func (cb *commandBuffer) Level() gpu.CommandBufferLevel { return cb.level }

func (cb *commandBuffer) Begin(inheritance *gpu.Inheritance) error {
	if err := cb.BeginRecording(false); err != nil {
		return err
	}
	info := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo}
	if cb.level == gpu.LevelSecondary {
		inherit := vk.CommandBufferInheritanceInfo{SType: vk.StructureTypeCommandBufferInheritanceInfo}
		if inheritance != nil {
			info.Flags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit)
			inherit.RenderPass = inheritance.RenderPass.(*renderPass).handle
			inherit.Subpass = 0
			if inheritance.Framebuffer != nil {
				inherit.Framebuffer = inheritance.Framebuffer.(*framebuffer).handle
			}
		}
		info.PInheritanceInfo = []vk.CommandBufferInheritanceInfo{inherit}
	}
	cb.pipeline = nil
	if err := check(vk.BeginCommandBuffer(cb.handle, &info), "begin command buffer"); err != nil {
		cb.Reset()
		return err
	}
	return nil
}

func (cb *commandBuffer) End() error {
	if err := cb.EndRecording(); err != nil {
		return err
	}
	return check(vk.EndCommandBuffer(cb.handle), "end command buffer")
}

func (cb *commandBuffer) BeginRenderPass(fb gpu.Framebuffer, clears []gpu.ClearValue, secondaries bool) {
	if !cb.Record("begin render pass") || !cb.SetInRenderPass(true, "begin render pass") {
		return
	}
	f := fb.(*framebuffer)
	desc := f.pass.desc
	values := make([]vk.ClearValue, len(desc.Colors))
	for i := range desc.Colors {
		if i < len(clears) {
			values[i].SetColor(clears[i].Color[:])
		}
	}
	if desc.Depth != nil {
		var depth vk.ClearValue
		d, s := float32(1), uint32(0)
		if n := len(desc.Colors); n < len(clears) {
			d, s = clears[n].Depth, clears[n].Stencil
		}
		depth.SetDepthStencil(d, s)
		values = append(values, depth)
	}
	contents := vk.SubpassContentsInline
	if secondaries {
		contents = vk.SubpassContentsSecondaryCommandBuffers
	}
	info := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  f.pass.handle,
		Framebuffer: f.handle,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: f.extent.Width, Height: f.extent.Height},
		},
		ClearValueCount: uint32(len(values)),
		PClearValues:    values,
	}
	vk.CmdBeginRenderPass(cb.handle, &info, contents)
}

func (cb *commandBuffer) EndRenderPass() {
	if !cb.Record("end render pass") || !cb.SetInRenderPass(false, "end render pass") {
		return
	}
	vk.CmdEndRenderPass(cb.handle)
}

func (cb *commandBuffer) ExecuteCommands(secondaries []gpu.CommandBuffer) {
	if !cb.Record("execute commands") || len(secondaries) == 0 {
		return
	}
	handles := make([]vk.CommandBuffer, 0, len(secondaries))
	for _, s := range secondaries {
		sc := s.(*commandBuffer)
		if sc.level != gpu.LevelSecondary {
			cb.Misuse("execute primary as secondary")
			continue
		}
		if err := sc.Executed(); err != nil {
			cb.Misuse(err.Error())
			continue
		}
		handles = append(handles, sc.handle)
	}
	if len(handles) > 0 {
		vk.CmdExecuteCommands(cb.handle, uint32(len(handles)), handles)
	}
}

func (cb *commandBuffer) BindPipeline(p gpu.Pipeline) {
	if !cb.Record("bind pipeline") {
		return
	}
	cb.pipeline = p.(*pipeline)
	vk.CmdBindPipeline(cb.handle, vk.PipelineBindPointGraphics, cb.pipeline.handle)
}

func (cb *commandBuffer) BindDescriptorSet(p gpu.Pipeline, set uint32, ds gpu.DescriptorSet, dynamicOffsets []uint32) {
	if !cb.Record("bind descriptor set") {
		return
	}
	pl, d := p.(*pipeline), ds.(*descriptorSet)
	vk.CmdBindDescriptorSets(cb.handle, vk.PipelineBindPointGraphics, pl.layout, set,
		1, []vk.DescriptorSet{d.handle}, uint32(len(dynamicOffsets)), dynamicOffsets)
}

func (cb *commandBuffer) BindVertexBuffer(buf gpu.Buffer, offset uint64) {
	if !cb.Record("bind vertex buffer") {
		return
	}
	vk.CmdBindVertexBuffers(cb.handle, 0, 1, []vk.Buffer{buf.(*buffer).handle}, []vk.DeviceSize{vk.DeviceSize(offset)})
}

func (cb *commandBuffer) BindIndexBuffer(buf gpu.Buffer, offset uint64) {
	if !cb.Record("bind index buffer") {
		return
	}
	vk.CmdBindIndexBuffer(cb.handle, buf.(*buffer).handle, vk.DeviceSize(offset), vk.IndexTypeUint32)
}

func (cb *commandBuffer) PushConstants(p gpu.Pipeline, data []byte) {
	if !cb.Record("push constants") || len(data) == 0 {
		return
	}
	pl := p.(*pipeline)
	size := uint32(len(data))
	if size > pl.push {
		cb.Misuse(fmt.Sprintf("push %d bytes into a %d byte range", size, pl.push))
		size = pl.push
	}
	vk.CmdPushConstants(cb.handle, pl.layout, pushStages, 0, size, unsafe.Pointer(&data[0]))
}

func (cb *commandBuffer) SetViewport(v gpu.Viewport) {
	if !cb.Record("set viewport") {
		return
	}
	vk.CmdSetViewport(cb.handle, 0, 1, []vk.Viewport{{
		X: v.X, Y: v.Y, Width: v.Width, Height: v.Height, MinDepth: v.MinDepth, MaxDepth: v.MaxDepth,
	}})
}

func (cb *commandBuffer) SetScissor(r gpu.Rect) {
	if !cb.Record("set scissor") {
		return
	}
	vk.CmdSetScissor(cb.handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: vk.Extent2D{Width: r.Width, Height: r.Height},
	}})
}

func (cb *commandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if cb.Record("draw") {
		vk.CmdDraw(cb.handle, vertexCount, instanceCount, firstVertex, firstInstance)
	}
}

func (cb *commandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if cb.Record("draw indexed") {
		vk.CmdDrawIndexed(cb.handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	}
}

func (cb *commandBuffer) CopyBuffer(src, dst gpu.Buffer, regions []gpu.BufferCopy) {
	if !cb.Record("copy buffer") || len(regions) == 0 {
		return
	}
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(cb.handle, src.(*buffer).handle, dst.(*buffer).handle, uint32(len(copies)), copies)
}

func imageCopies(img *image, regions []gpu.ImageCopy) []vk.BufferImageCopy {
	out := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		out[i] = vk.BufferImageCopy{
			BufferOffset: vk.DeviceSize(r.BufferOffset),
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask:     aspectOf(img.desc.Format, false),
				MipLevel:       r.MipLevel,
				BaseArrayLayer: r.Layer,
				LayerCount:     1,
			},
			ImageExtent: vk.Extent3D{Width: r.Extent.Width, Height: r.Extent.Height, Depth: 1},
		}
	}
	return out
}

// CopyBufferToImage expects dst in the transfer destination layout.
func (cb *commandBuffer) CopyBufferToImage(src gpu.Buffer, dst gpu.Image, regions []gpu.ImageCopy) {
	if !cb.Record("copy buffer to image") || len(regions) == 0 {
		return
	}
	img := dst.(*image)
	copies := imageCopies(img, regions)
	vk.CmdCopyBufferToImage(cb.handle, src.(*buffer).handle, img.handle, vk.ImageLayoutTransferDstOptimal, uint32(len(copies)), copies)
}

// CopyImageToBuffer expects src in the transfer source layout.
func (cb *commandBuffer) CopyImageToBuffer(src gpu.Image, dst gpu.Buffer, regions []gpu.ImageCopy) {
	if !cb.Record("copy image to buffer") || len(regions) == 0 {
		return
	}
	img := src.(*image)
	copies := imageCopies(img, regions)
	vk.CmdCopyImageToBuffer(cb.handle, img.handle, vk.ImageLayoutTransferSrcOptimal, dst.(*buffer).handle, uint32(len(copies)), copies)
}

func (cb *commandBuffer) PipelineBarrier(barriers []gpu.ImageBarrier) {
	if !cb.Record("pipeline barrier") || len(barriers) == 0 {
		return
	}
	var srcStages, dstStages vk.PipelineStageFlags
	out := make([]vk.ImageMemoryBarrier, len(barriers))
	for i, b := range barriers {
		img := b.Image.(*image)
		mips, layers := b.MipCount, b.LayerCount
		if mips == 0 {
			mips = img.desc.MipLevels - b.BaseMip
		}
		if layers == 0 {
			layers = img.desc.Layers - b.BaseLayer
		}
		srcAccess, srcStage := layoutAccess(b.From)
		dstAccess, dstStage := layoutAccess(b.To)
		srcStages |= srcStage
		dstStages |= dstStage
		out[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       srcAccess,
			DstAccessMask:       dstAccess,
			OldLayout:           toLayout(b.From),
			NewLayout:           toLayout(b.To),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.handle,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     aspectOf(img.desc.Format, true),
				BaseMipLevel:   b.BaseMip,
				LevelCount:     mips,
				BaseArrayLayer: b.BaseLayer,
				LayerCount:     layers,
			},
		}
	}
	vk.CmdPipelineBarrier(cb.handle, srcStages, dstStages, 0, 0, nil, 0, nil, uint32(len(out)), out)
}
