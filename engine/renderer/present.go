package renderer

import (
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/components"
)

// uiFilters are drawn in order by the overlay pipeline.
var uiFilters = []components.MeshFilter{components.DrawOpaque, components.DrawUnlit, components.DrawTransparent}

// presentView tone-maps the presented game scene into the swapchain image
// and draws the UI scenes over it.
type presentView struct {
	renderView
	device       gpu.Device
	extent       gpu.Extent
	framebuffers []gpu.Framebuffer
}

func newPresentView() *presentView {
	return &presentView{renderView: renderView{name: PassPresent}}
}

func (v *presentView) OnCreate(ctx *gpu.Context, sc gpu.Swapchain) error {
	v.device = ctx.Device
	err := v.create(ctx, gpu.RenderPassDesc{
		Colors: []gpu.AttachmentDesc{colorTarget(sc.Format(), gpu.LoadOpClear, gpu.LayoutUndefined, gpu.LayoutPresentSrc)},
	}, gpu.PipelineToneMap, gpu.PipelineUnlit)
	if err != nil {
		return err
	}
	return v.OnResize(sc)
}

// OnResize rebuilds the framebuffer of every swapchain image. The device
// must be idle.
func (v *presentView) OnResize(sc gpu.Swapchain) error {
	v.destroyFramebuffers()
	v.extent = sc.Extent()
	for _, view := range sc.Views() {
		fb, err := v.device.CreateFramebuffer(v.pass, []gpu.ImageView{view}, v.extent)
		if err != nil {
			v.destroyFramebuffers()
			return err
		}
		v.framebuffers = append(v.framebuffers, fb)
	}
	return nil
}

func (v *presentView) destroyFramebuffers() {
	for _, fb := range v.framebuffers {
		fb.Destroy()
	}
	v.framebuffers = nil
}

func (v *presentView) OnDestroy(ctx *gpu.Context) {
	v.destroyFramebuffers()
	v.renderView.OnDestroy(ctx)
}

// OnRender records the whole present pass. game is nil when no game scene
// is presented.
func (v *presentView) OnRender(cmd gpu.CommandBuffer, image uint32, game *sceneFrame, ui []*sceneFrame) {
	cmd.BeginRenderPass(v.framebuffers[image], []gpu.ClearValue{gpu.ClearColor(0, 0, 0, 1)}, false)
	setViewport(cmd, v.extent)

	if game != nil {
		p := v.pipelines[0]
		cmd.BindPipeline(p)
		game.scene.BindFrame(cmd, p, game.slot)
		cmd.BindDescriptorSet(p, gpu.SetInputs, game.targets.toneMapInputs, nil)
		cmd.Draw(3, 1, 0, 0)
	}

	overlay := v.pipelines[1]
	for _, sf := range ui {
		cmd.BindPipeline(overlay)
		sf.scene.BindFrame(cmd, overlay, sf.slot)
		for _, m := range sf.frame.Models {
			if m.IsCulled() {
				continue
			}
			for _, filter := range uiFilters {
				m.Render(cmd, overlay, sf.slot, filter)
			}
		}
	}
	cmd.EndRenderPass()
}
