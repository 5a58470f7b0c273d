package renderer

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/components"
)

// Render pass names. The stub device logs passes under these names.
const (
	PassShadow      = "shadow-mapper"
	PassGBuffer     = "g-buffer-filler"
	PassSSAO        = "ssao"
	PassAccumulate  = "shadow-accumulator-directional"
	PassDeferred    = "deferred"
	PassTransparent = "transparent-forward"
	PassPresent     = "present"
)

// Render target formats.
const (
	albedoFormat   = gpu.FormatRGBA8Unorm
	normalFormat   = gpu.FormatRGBA16F
	positionFormat = gpu.FormatRGBA32F
	emissiveFormat = gpu.FormatRGBA16F
	ssaoFormat     = gpu.FormatR8Unorm
	lightFormat    = gpu.FormatRGBA16F
	shadowFormat   = gpu.FormatD32
)

// view is one pass of a game scene's chain. Views are created once and
// shared by every scene; the scene's render targets supply the framebuffers.
type view interface {
	Name() string
	OnCreate(ctx *gpu.Context) error
	OnDestroy(ctx *gpu.Context)
	// Enabled reports whether the pass runs for sf this frame.
	Enabled(sf *sceneFrame) bool
	// OnBegin runs before the kernels start recording.
	OnBegin(sf *sceneFrame, cmd gpu.CommandBuffer)
	// OnRender runs once the kernels are done and closes the pass.
	OnRender(sf *sceneFrame, cmd gpu.CommandBuffer) error
}

type renderView struct {
	name      string
	pass      gpu.RenderPass
	pipelines []gpu.Pipeline
}

func (v *renderView) Name() string { return v.name }

func (v *renderView) create(ctx *gpu.Context, desc gpu.RenderPassDesc, kinds ...gpu.PipelineType) error {
	desc.Name = v.name
	pass, err := ctx.Device.CreateRenderPass(desc)
	if err != nil {
		return fmt.Errorf("render pass %s: %w", v.name, err)
	}
	v.pass = pass
	for _, kind := range kinds {
		p, err := ctx.Pipelines.Get(gpu.NewPipelineDesc(kind, pass))
		if err != nil {
			return err
		}
		v.pipelines = append(v.pipelines, p)
	}
	return nil
}

func (v *renderView) OnDestroy(ctx *gpu.Context) {
	if v.pass == nil {
		return
	}
	ctx.Pipelines.Drop(v.pass.ID())
	v.pass.Destroy()
	v.pass = nil
	v.pipelines = nil
}

func (v *renderView) pipeline() gpu.Pipeline {
	return v.pipelines[0]
}

func setViewport(cmd gpu.CommandBuffer, extent gpu.Extent) {
	cmd.SetViewport(gpu.FlippedViewport(extent))
	cmd.SetScissor(gpu.Rect{Width: extent.Width, Height: extent.Height})
}

func colorTarget(format gpu.Format, load gpu.LoadOp, initial, final gpu.ImageLayout) gpu.AttachmentDesc {
	return gpu.AttachmentDesc{Format: format, Load: load, Store: gpu.StoreOpStore, Initial: initial, Final: final}
}

// shadowView renders the shadow casters of every cascade into its own layer
// of the shadow map, one render pass per layer.
type shadowView struct {
	renderView
}

func (v *shadowView) OnCreate(ctx *gpu.Context) error {
	return v.create(ctx, gpu.RenderPassDesc{
		Depth: &gpu.AttachmentDesc{
			Format: shadowFormat, Load: gpu.LoadOpClear, Store: gpu.StoreOpStore,
			Initial: gpu.LayoutUndefined, Final: gpu.LayoutShaderReadOnly,
		},
	}, gpu.PipelineShadowMapper)
}

func (v *shadowView) Enabled(sf *sceneFrame) bool     { return len(sf.shadows) > 0 }
func (v *shadowView) OnBegin(*sceneFrame, gpu.CommandBuffer) {}

func (v *shadowView) OnRender(sf *sceneFrame, cmd gpu.CommandBuffer) error {
	for _, b := range sf.shadows {
		cmd.BeginRenderPass(b.framebuffer, []gpu.ClearValue{gpu.ClearDepth(1)}, true)
		cmd.ExecuteCommands(b.secondaries)
		cmd.EndRenderPass()
	}
	return nil
}

// gbufferView opens the G-buffer pass before the kernels start and executes
// their secondaries afterwards.
type gbufferView struct {
	renderView
}

func (v *gbufferView) OnCreate(ctx *gpu.Context) error {
	out := func(f gpu.Format) gpu.AttachmentDesc {
		return colorTarget(f, gpu.LoadOpClear, gpu.LayoutUndefined, gpu.LayoutShaderReadOnly)
	}
	return v.create(ctx, gpu.RenderPassDesc{
		Colors: []gpu.AttachmentDesc{out(albedoFormat), out(normalFormat), out(positionFormat), out(emissiveFormat)},
		Depth: &gpu.AttachmentDesc{
			Format: ctx.Device.Limits().DepthFormat, Load: gpu.LoadOpClear, Store: gpu.StoreOpStore,
			Initial: gpu.LayoutUndefined, Final: gpu.LayoutDepthReadOnly,
		},
	}, gpu.PipelineGBuffer)
}

func (v *gbufferView) Enabled(*sceneFrame) bool { return true }

func (v *gbufferView) OnBegin(sf *sceneFrame, cmd gpu.CommandBuffer) {
	clears := make([]gpu.ClearValue, 5)
	clears[4] = gpu.ClearDepth(1)
	cmd.BeginRenderPass(sf.targets.gbuffer, clears, true)
}

func (v *gbufferView) OnRender(sf *sceneFrame, cmd gpu.CommandBuffer) error {
	cmd.ExecuteCommands(sf.gbuffer)
	cmd.EndRenderPass()
	return nil
}

// fullscreenView draws a full-screen triangle per push constant block, or
// one without push constants when pushes is nil.
type fullscreenView struct {
	renderView
	kind    gpu.PipelineType
	format  gpu.Format
	final   gpu.ImageLayout
	enabled func(sf *sceneFrame) bool
	target  func(t *sceneTargets) (gpu.Framebuffer, gpu.DescriptorSet)
	pushes  func(sf *sceneFrame) [][]byte
}

func (v *fullscreenView) OnCreate(ctx *gpu.Context) error {
	return v.create(ctx, gpu.RenderPassDesc{
		Colors: []gpu.AttachmentDesc{colorTarget(v.format, gpu.LoadOpClear, gpu.LayoutUndefined, v.final)},
	}, v.kind)
}

func (v *fullscreenView) Enabled(sf *sceneFrame) bool {
	return v.enabled == nil || v.enabled(sf)
}

func (v *fullscreenView) OnBegin(sf *sceneFrame, cmd gpu.CommandBuffer) {
	fb, _ := v.target(sf.targets)
	cmd.BeginRenderPass(fb, []gpu.ClearValue{gpu.ClearColor(0, 0, 0, 0)}, false)
}

func (v *fullscreenView) OnRender(sf *sceneFrame, cmd gpu.CommandBuffer) error {
	_, inputs := v.target(sf.targets)
	p := v.pipeline()
	setViewport(cmd, sf.targets.extent)
	cmd.BindPipeline(p)
	sf.scene.BindFrame(cmd, p, sf.slot)
	cmd.BindDescriptorSet(p, gpu.SetInputs, inputs, nil)
	if v.pushes == nil {
		cmd.Draw(3, 1, 0, 0)
	} else {
		for _, push := range v.pushes(sf) {
			cmd.PushConstants(p, push)
			cmd.Draw(3, 1, 0, 0)
		}
	}
	cmd.EndRenderPass()
	return nil
}

func newSSAOView() *fullscreenView {
	return &fullscreenView{
		renderView: renderView{name: PassSSAO},
		kind:       gpu.PipelineSSAO,
		format:     ssaoFormat,
		final:      gpu.LayoutShaderReadOnly,
		enabled:    func(sf *sceneFrame) bool { return sf.frame.PostFX.SSAO },
		target:     func(t *sceneTargets) (gpu.Framebuffer, gpu.DescriptorSet) { return t.ssaoFB, t.ssaoInputs },
	}
}

func newAccumulatorView() *fullscreenView {
	return &fullscreenView{
		renderView: renderView{name: PassAccumulate},
		kind:       gpu.PipelineShadowAccumulatorDirectional,
		format:     lightFormat,
		final:      gpu.LayoutShaderReadOnly,
		target:     func(t *sceneTargets) (gpu.Framebuffer, gpu.DescriptorSet) { return t.accumulateFB, t.accumulateInputs },
		pushes: func(sf *sceneFrame) [][]byte {
			out := make([][]byte, 0, len(sf.frame.Shadows))
			for _, sc := range sf.frame.Shadows {
				push := gpu.AccumulatorPush{Slot: sc.Slot}
				out = append(out, append([]byte(nil), gpu.UniformBytes(&push)...))
			}
			return out
		},
	}
}

func newDeferredView() *fullscreenView {
	return &fullscreenView{
		renderView: renderView{name: PassDeferred},
		kind:       gpu.PipelineDeferred,
		format:     lightFormat,
		// the transparent pass continues in the same image
		final:  gpu.LayoutColorAttachment,
		target: func(t *sceneTargets) (gpu.Framebuffer, gpu.DescriptorSet) { return t.deferredFB, t.deferredInputs },
	}
}

// transparentView forward-renders over the resolved scene color, testing
// against the G-buffer depth without writing it.
type transparentView struct {
	renderView
}

func (v *transparentView) OnCreate(ctx *gpu.Context) error {
	return v.create(ctx, gpu.RenderPassDesc{
		Colors: []gpu.AttachmentDesc{colorTarget(lightFormat, gpu.LoadOpLoad, gpu.LayoutColorAttachment, gpu.LayoutShaderReadOnly)},
		Depth: &gpu.AttachmentDesc{
			Format: ctx.Device.Limits().DepthFormat, Load: gpu.LoadOpLoad, Store: gpu.StoreOpStore,
			Initial: gpu.LayoutDepthReadOnly, Final: gpu.LayoutDepthReadOnly,
		},
		DepthReadOnly: true,
	}, gpu.PipelineTransparentPBR, gpu.PipelineUnlit)
}

func (v *transparentView) Enabled(*sceneFrame) bool { return true }

func (v *transparentView) OnBegin(sf *sceneFrame, cmd gpu.CommandBuffer) {
	cmd.BeginRenderPass(sf.targets.transparentFB, nil, false)
}

func (v *transparentView) OnRender(sf *sceneFrame, cmd gpu.CommandBuffer) error {
	setViewport(cmd, sf.targets.extent)
	if len(sf.frame.Transparent) > 0 {
		p := v.pipelines[0]
		cmd.BindPipeline(p)
		sf.scene.BindFrame(cmd, p, sf.slot)
		for _, m := range sf.frame.Transparent {
			m.Render(cmd, p, sf.slot, components.DrawTransparent)
		}
	}
	bound := false
	p := v.pipelines[1]
	for _, m := range sf.frame.Models {
		if m.IsCulled() || !m.HasMeshes(components.DrawUnlit) {
			continue
		}
		if !bound {
			cmd.BindPipeline(p)
			sf.scene.BindFrame(cmd, p, sf.slot)
			bound = true
		}
		m.Render(cmd, p, sf.slot, components.DrawUnlit)
	}
	cmd.EndRenderPass()
	return nil
}

// chain is the pass sequence of a game scene in submission order.
type chain struct {
	shadow      *shadowView
	gbuffer     *gbufferView
	ssao        *fullscreenView
	accumulate  *fullscreenView
	deferred    *fullscreenView
	transparent *transparentView
	views       []view
}

func newChain(ctx *gpu.Context) (*chain, error) {
	c := &chain{
		shadow:      &shadowView{renderView{name: PassShadow}},
		gbuffer:     &gbufferView{renderView{name: PassGBuffer}},
		ssao:        newSSAOView(),
		accumulate:  newAccumulatorView(),
		deferred:    newDeferredView(),
		transparent: &transparentView{renderView{name: PassTransparent}},
	}
	c.views = []view{c.shadow, c.gbuffer, c.ssao, c.accumulate, c.deferred, c.transparent}
	for _, v := range c.views {
		if err := v.OnCreate(ctx); err != nil {
			c.destroy(ctx)
			return nil, err
		}
	}
	return c, nil
}

func (c *chain) destroy(ctx *gpu.Context) {
	for _, v := range c.views {
		v.OnDestroy(ctx)
	}
}
