package stub

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
)

type commandPool struct {
	object
	queue   gpu.QueueKind
	buffers []*commandBuffer
}

func (p *commandPool) Allocate(level gpu.CommandBufferLevel) (gpu.CommandBuffer, error) {
	cb := &commandBuffer{object: p.dev.track(), pool: p, level: level}
	p.buffers = append(p.buffers, cb)
	return cb, nil
}

func (p *commandPool) Reset() error {
	for _, cb := range p.buffers {
		if err := cb.Reset(); err != nil {
			return err
		}
		cb.cmds = cb.cmds[:0]
	}
	return nil
}

func (p *commandPool) Destroy() {
	if !p.release() {
		return
	}
	for _, cb := range p.buffers {
		cb.release()
	}
	p.buffers = nil
}

// command is one recorded operation, replayed at submission.
type command func(ex *executor) error

type commandBuffer struct {
	object
	gpu.CommandTracker
	pool        *commandPool
	level       gpu.CommandBufferLevel
	inheritance *gpu.Inheritance
	cmds        []command
}

func (cb *commandBuffer) Level() gpu.CommandBufferLevel { return cb.level }

func (cb *commandBuffer) Begin(inheritance *gpu.Inheritance) error {
	if err := cb.BeginRecording(false); err != nil {
		return err
	}
	cb.cmds = cb.cmds[:0]
	cb.inheritance = inheritance
	return nil
}

func (cb *commandBuffer) End() error {
	return cb.EndRecording()
}

func (cb *commandBuffer) record(op string, c command) {
	if cb.Record(op) {
		cb.cmds = append(cb.cmds, c)
	}
}

func (cb *commandBuffer) BeginRenderPass(fb gpu.Framebuffer, clears []gpu.ClearValue, secondaries bool) {
	if !cb.Record("begin render pass") || !cb.SetInRenderPass(true, "begin render pass") {
		return
	}
	f := fb.(*framebuffer)
	clears = append([]gpu.ClearValue(nil), clears...)
	cb.cmds = append(cb.cmds, func(ex *executor) error { return ex.beginPass(f, clears) })
}

func (cb *commandBuffer) EndRenderPass() {
	if !cb.Record("end render pass") || !cb.SetInRenderPass(false, "end render pass") {
		return
	}
	cb.cmds = append(cb.cmds, func(ex *executor) error { return ex.endPass() })
}

func (cb *commandBuffer) ExecuteCommands(secondaries []gpu.CommandBuffer) {
	list := make([]*commandBuffer, 0, len(secondaries))
	for _, s := range secondaries {
		list = append(list, s.(*commandBuffer))
	}
	cb.record("execute commands", func(ex *executor) error {
		for _, s := range list {
			if s.level != gpu.LevelSecondary {
				return fmt.Errorf("execute primary as secondary: %w", core.ErrInvalidState)
			}
			if err := s.Executed(); err != nil {
				return err
			}
			saved := ex.state
			ex.state = drawState{}
			err := ex.run(s.cmds)
			ex.state = saved
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (cb *commandBuffer) BindPipeline(p gpu.Pipeline) {
	pl := p.(*pipeline)
	cb.record("bind pipeline", func(ex *executor) error {
		ex.state.pipeline = pl
		return nil
	})
}

func (cb *commandBuffer) BindDescriptorSet(p gpu.Pipeline, set uint32, ds gpu.DescriptorSet, dynamicOffsets []uint32) {
	d := ds.(*descriptorSet)
	offsets := append([]uint32(nil), dynamicOffsets...)
	cb.record("bind descriptor set", func(ex *executor) error {
		if int(set) >= len(ex.state.sets) {
			return fmt.Errorf("descriptor set %d out of range: %w", set, core.ErrInvalidState)
		}
		if len(offsets) != d.dynamicCount() {
			return fmt.Errorf("set %d needs %d dynamic offsets, got %d: %w", set, d.dynamicCount(), len(offsets), core.ErrInvalidState)
		}
		ex.state.sets[set] = boundSet{set: d, offsets: offsets}
		return nil
	})
}

func (cb *commandBuffer) BindVertexBuffer(buf gpu.Buffer, offset uint64) {
	b := buf.(*buffer)
	cb.record("bind vertex buffer", func(ex *executor) error {
		ex.state.vertices, ex.state.vertexOffset = b, offset
		return nil
	})
}

func (cb *commandBuffer) BindIndexBuffer(buf gpu.Buffer, offset uint64) {
	b := buf.(*buffer)
	cb.record("bind index buffer", func(ex *executor) error {
		ex.state.indices, ex.state.indexOffset = b, offset
		return nil
	})
}

func (cb *commandBuffer) PushConstants(p gpu.Pipeline, data []byte) {
	push := append([]byte(nil), data...)
	cb.record("push constants", func(ex *executor) error {
		ex.state.push = push
		return nil
	})
}

func (cb *commandBuffer) SetViewport(v gpu.Viewport) {
	cb.record("set viewport", func(ex *executor) error {
		ex.state.viewport, ex.state.hasViewport = v, true
		return nil
	})
}

func (cb *commandBuffer) SetScissor(r gpu.Rect) {
	cb.record("set scissor", func(ex *executor) error {
		ex.state.scissor, ex.state.hasScissor = r, true
		return nil
	})
}

func (cb *commandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	cb.record("draw", func(ex *executor) error {
		return ex.draw(drawCall{count: vertexCount, instances: instanceCount, first: firstVertex})
	})
}

func (cb *commandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	cb.record("draw indexed", func(ex *executor) error {
		return ex.draw(drawCall{count: indexCount, instances: instanceCount, first: firstIndex, vertexOffset: vertexOffset, indexed: true})
	})
}

func (cb *commandBuffer) CopyBuffer(src, dst gpu.Buffer, regions []gpu.BufferCopy) {
	s, d := src.(*buffer), dst.(*buffer)
	regions = append([]gpu.BufferCopy(nil), regions...)
	cb.record("copy buffer", func(ex *executor) error {
		for _, r := range regions {
			if r.SrcOffset+r.Size > uint64(len(s.data)) || r.DstOffset+r.Size > uint64(len(d.data)) {
				return fmt.Errorf("copy %d bytes %s@%d -> %s@%d out of bounds: %w",
					r.Size, s.desc.Name, r.SrcOffset, d.desc.Name, r.DstOffset, core.ErrInvalidState)
			}
			copy(d.data[r.DstOffset:r.DstOffset+r.Size], s.data[r.SrcOffset:r.SrcOffset+r.Size])
		}
		return nil
	})
}

func (cb *commandBuffer) CopyBufferToImage(src gpu.Buffer, dst gpu.Image, regions []gpu.ImageCopy) {
	s, img := src.(*buffer), dst.(*image)
	regions = append([]gpu.ImageCopy(nil), regions...)
	cb.record("copy buffer to image", func(ex *executor) error {
		for _, r := range regions {
			if err := img.upload(s.data, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (cb *commandBuffer) CopyImageToBuffer(src gpu.Image, dst gpu.Buffer, regions []gpu.ImageCopy) {
	img, d := src.(*image), dst.(*buffer)
	regions = append([]gpu.ImageCopy(nil), regions...)
	cb.record("copy image to buffer", func(ex *executor) error {
		for _, r := range regions {
			if err := img.readback(d.data, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (cb *commandBuffer) PipelineBarrier(barriers []gpu.ImageBarrier) {
	barriers = append([]gpu.ImageBarrier(nil), barriers...)
	cb.record("pipeline barrier", func(ex *executor) error {
		for _, b := range barriers {
			img := b.Image.(*image)
			mips, layers := b.MipCount, b.LayerCount
			if mips == 0 {
				mips = img.desc.MipLevels - b.BaseMip
			}
			if layers == 0 {
				layers = img.desc.Layers - b.BaseLayer
			}
			for l := b.BaseLayer; l < b.BaseLayer+layers; l++ {
				for m := b.BaseMip; m < b.BaseMip+mips; m++ {
					img.layout[img.index(l, m)] = b.To
				}
			}
		}
		return nil
	})
}

func (cb *commandBuffer) Destroy() {
	cb.release()
}

type boundSet struct {
	set     *descriptorSet
	offsets []uint32
}

type drawState struct {
	pipeline     *pipeline
	sets         [4]boundSet
	vertices     *buffer
	vertexOffset uint64
	indices      *buffer
	indexOffset  uint64
	push         []byte
	viewport     gpu.Viewport
	hasViewport  bool
	scissor      gpu.Rect
	hasScissor   bool
}

// executor replays command lists against device memory.
type executor struct {
	dev   *Device
	fb    *framebuffer
	state drawState
}

func (ex *executor) run(cmds []command) error {
	for _, c := range cmds {
		if err := c(ex); err != nil {
			return err
		}
	}
	return nil
}

func (ex *executor) beginPass(fb *framebuffer, clears []gpu.ClearValue) error {
	if ex.fb != nil {
		return fmt.Errorf("nested render pass %q: %w", fb.pass.desc.Name, core.ErrInvalidState)
	}
	ex.fb = fb
	ex.dev.logPass(fb.pass.desc.Name)

	desc := fb.pass.desc
	for i, a := range desc.Colors {
		if a.Load != gpu.LoadOpClear {
			continue
		}
		var c [4]float32
		if i < len(clears) {
			c = clears[i].Color
		}
		clearView(fb.attachments[i].(*imageView), c)
	}
	if desc.Depth != nil && desc.Depth.Load == gpu.LoadOpClear && !desc.DepthReadOnly {
		depth := float32(1)
		if n := len(desc.Colors); n < len(clears) {
			depth = clears[n].Depth
		}
		clearView(fb.attachments[len(desc.Colors)].(*imageView), [4]float32{depth})
	}
	return nil
}

func clearView(v *imageView, c [4]float32) {
	for l := v.desc.BaseLayer; l < v.desc.BaseLayer+v.desc.LayerCount; l++ {
		v.image.fill(l, v.desc.BaseMip, c)
	}
}

func (ex *executor) endPass() error {
	if ex.fb == nil {
		return fmt.Errorf("end render pass outside a pass: %w", core.ErrInvalidState)
	}
	desc := ex.fb.pass.desc
	for i, a := range desc.Colors {
		setViewLayout(ex.fb.attachments[i].(*imageView), a.Final)
	}
	if desc.Depth != nil {
		setViewLayout(ex.fb.attachments[len(desc.Colors)].(*imageView), desc.Depth.Final)
	}
	ex.fb = nil
	return nil
}

func setViewLayout(v *imageView, layout gpu.ImageLayout) {
	for l := v.desc.BaseLayer; l < v.desc.BaseLayer+v.desc.LayerCount; l++ {
		v.image.layout[v.image.index(l, v.desc.BaseMip)] = layout
	}
}
