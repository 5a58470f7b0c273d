package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
)

type renderPass struct {
	dev    *Device
	id     uint64
	desc   gpu.RenderPassDesc
	handle vk.RenderPass
}

// CreateRenderPass builds a single-subpass render pass with the color
// attachments in order and the depth attachment last.
func (d *Device) CreateRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPass, error) {
	if len(desc.Colors) == 0 && desc.Depth == nil {
		return nil, fmt.Errorf("render pass %q without attachments: %w", desc.Name, core.ErrInvalidState)
	}
	attachments := make([]vk.AttachmentDescription, 0, len(desc.Colors)+1)
	colorRefs := make([]vk.AttachmentReference, 0, len(desc.Colors))
	for i, c := range desc.Colors {
		if c.Format.IsDepth() {
			return nil, fmt.Errorf("render pass %q color %d has depth format %s: %w", desc.Name, i, c.Format, core.ErrInvalidState)
		}
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         toFormat(c.Format),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         toLoadOp(c.Load),
			StoreOp:        toStoreOp(c.Store),
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  toLayout(c.Initial),
			FinalLayout:    toLayout(c.Final),
		})
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}

	if desc.Depth != nil {
		if !desc.Depth.Format.IsDepth() {
			return nil, fmt.Errorf("render pass %q depth format %s: %w", desc.Name, desc.Depth.Format, core.ErrInvalidState)
		}
		layout := vk.ImageLayoutDepthStencilAttachmentOptimal
		if desc.DepthReadOnly {
			layout = vk.ImageLayoutDepthStencilReadOnlyOptimal
		}
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         toFormat(desc.Depth.Format),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         toLoadOp(desc.Depth.Load),
			StoreOp:        toStoreOp(desc.Depth.Store),
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  toLayout(desc.Depth.Initial),
			FinalLayout:    toLayout(desc.Depth.Final),
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(desc.Colors)),
			Layout:     layout,
		}
	}

	// Attachments of earlier passes are sampled by later ones.
	stages := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit |
		vk.PipelineStageLateFragmentTestsBit | vk.PipelineStageFragmentShaderBit)
	access := vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit |
		vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit | vk.AccessShaderReadBit)
	dependencies := []vk.SubpassDependency{
		{
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  stages,
			SrcAccessMask: access,
			DstStageMask:  stages,
			DstAccessMask: access,
		},
		{
			SrcSubpass:    0,
			DstSubpass:    vk.SubpassExternal,
			SrcStageMask:  stages,
			SrcAccessMask: access,
			DstStageMask:  stages | vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			DstAccessMask: access | vk.AccessFlags(vk.AccessTransferReadBit),
		},
	}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}
	rp := &renderPass{dev: d, id: d.nextID.Add(1), desc: desc}
	if err := check(vk.CreateRenderPass(d.logical, &info, nil, &rp.handle), "create render pass "+desc.Name); err != nil {
		return nil, err
	}
	core.LogDebug("render pass %s created (%d colors, depth=%v)", desc.Name, len(desc.Colors), desc.Depth != nil)
	return rp, nil
}

func (r *renderPass) ID() uint64               { return r.id }
func (r *renderPass) Desc() gpu.RenderPassDesc { return r.desc }

func (r *renderPass) Destroy() {
	if r.handle != vk.NullRenderPass {
		vk.DestroyRenderPass(r.dev.logical, r.handle, nil)
		r.handle = vk.NullRenderPass
	}
}

type framebuffer struct {
	dev         *Device
	pass        *renderPass
	attachments []gpu.ImageView
	extent      gpu.Extent
	handle      vk.Framebuffer
}

func (d *Device) CreateFramebuffer(pass gpu.RenderPass, attachments []gpu.ImageView, extent gpu.Extent) (gpu.Framebuffer, error) {
	rp := pass.(*renderPass)
	want := len(rp.desc.Colors)
	if rp.desc.Depth != nil {
		want++
	}
	if len(attachments) != want {
		return nil, fmt.Errorf("framebuffer for %q has %d attachments, want %d: %w", rp.desc.Name, len(attachments), want, core.ErrInvalidState)
	}
	views := make([]vk.ImageView, len(attachments))
	for i, a := range attachments {
		v := a.(*imageView)
		if e := v.image.desc.Extent; e.Width < extent.Width || e.Height < extent.Height {
			return nil, fmt.Errorf("framebuffer attachment %d is %dx%d, smaller than %dx%d: %w",
				i, e.Width, e.Height, extent.Width, extent.Height, core.ErrInvalidState)
		}
		views[i] = v.handle
	}
	info := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.handle,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}
	fb := &framebuffer{dev: d, pass: rp, attachments: append([]gpu.ImageView(nil), attachments...), extent: extent}
	if err := check(vk.CreateFramebuffer(d.logical, &info, nil, &fb.handle), "create framebuffer"); err != nil {
		return nil, err
	}
	return fb, nil
}

func (f *framebuffer) RenderPass() gpu.RenderPass   { return f.pass }
func (f *framebuffer) Attachments() []gpu.ImageView { return f.attachments }
func (f *framebuffer) Extent() gpu.Extent           { return f.extent }

func (f *framebuffer) Destroy() {
	if f.handle != vk.NullFramebuffer {
		vk.DestroyFramebuffer(f.dev.logical, f.handle, nil)
		f.handle = vk.NullFramebuffer
	}
	f.attachments = nil
}
